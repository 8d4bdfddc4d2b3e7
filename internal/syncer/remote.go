package syncer

import (
	"context"
	"time"

	"github.com/verte-zerg/drillog/internal/model"
)

// Remote is the authoritative store the engine reconciles with.
//
// CreateSession and CreateAttempt are create-or-fetch by natural key: submitting a
// record that already exists returns the id of the existing row instead of failing.
// CreateCharLogs ignores rows whose (attempt, index) key already exists.
//
// FetchAttempts and FetchCharLogs return an empty result for an empty id list without
// contacting the server.
type Remote interface {
	CreateSession(ctx context.Context, session model.Session) (int64, error)
	UpdateSessionDone(ctx context.Context, id int64, doneAt *time.Time) error
	CreateAttempt(ctx context.Context, attempt model.WordAttempt) (int64, error)
	CreateCharLogs(ctx context.Context, logs []model.CharLog) error

	FetchAllSessions(ctx context.Context) ([]model.Session, error)
	FetchAttempts(ctx context.Context, sessionIDs []int64) ([]model.WordAttempt, error)
	FetchCharLogs(ctx context.Context, attemptIDs []int64) ([]model.CharLog, error)
}

// Store is the local state the engine drains.
type Store interface {
	GetPendingSessions(ctx context.Context) ([]model.Session, error)
	GetPendingAttempts(ctx context.Context) ([]model.WordAttempt, error)
	GetPendingCharLogs(ctx context.Context) ([]model.CharLog, error)

	PromoteSession(ctx context.Context, snapshot model.Session, realID int64) (bool, error)
	MarkSessionSynced(ctx context.Context, id int64, pushedDoneAt *time.Time) (bool, error)
	PromoteAttempt(ctx context.Context, tempID, realID int64) (bool, error)
	MarkCharLogsSynced(ctx context.Context, keys []model.CharKey) error
}
