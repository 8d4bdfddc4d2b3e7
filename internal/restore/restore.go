// Package restore seeds an empty local partition from the remote store.
package restore

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/verte-zerg/drillog/internal/model"
)

// Store is the local partition being seeded.
type Store interface {
	IsEmpty(ctx context.Context) (bool, error)
	BulkInsertHistory(ctx context.Context, sessions []model.Session, attempts []model.WordAttempt, logs []model.CharLog) error
}

// Fetcher reads the authoritative history of the signed-in user.
type Fetcher interface {
	FetchAllSessions(ctx context.Context) ([]model.Session, error)
	FetchAttempts(ctx context.Context, sessionIDs []int64) ([]model.WordAttempt, error)
	FetchCharLogs(ctx context.Context, attemptIDs []int64) ([]model.CharLog, error)
}

// Result describes what a restore did.
type Result struct {
	Skipped  bool
	Sessions int
	Attempts int
	CharLogs int
}

// Run copies the remote history into store when store holds nothing yet. A partition
// with any row, pending or synced, is left alone. Every error is returned.
func Run(ctx context.Context, store Store, remote Fetcher, logger *slog.Logger) (Result, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	logger = logger.With(slog.String("component", "restore"))

	empty, err := store.IsEmpty(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("check local store: %w", err)
	}
	if !empty {
		logger.Debug("local store not empty, skipping restore")
		return Result{Skipped: true}, nil
	}

	// Nothing is written until every level is fetched, so a failed restore leaves the
	// partition empty and the next activation tries again.
	sessions, err := remote.FetchAllSessions(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("fetch sessions: %w", err)
	}
	if len(sessions) == 0 {
		return Result{}, nil
	}
	sessionIDs := make([]int64, len(sessions))
	for i, s := range sessions {
		sessionIDs[i] = s.ID
	}
	attempts, err := remote.FetchAttempts(ctx, sessionIDs)
	if err != nil {
		return Result{}, fmt.Errorf("fetch attempts: %w", err)
	}
	var logs []model.CharLog
	if len(attempts) > 0 {
		attemptIDs := make([]int64, len(attempts))
		for i, a := range attempts {
			attemptIDs[i] = a.ID
		}
		logs, err = remote.FetchCharLogs(ctx, attemptIDs)
		if err != nil {
			return Result{}, fmt.Errorf("fetch char logs: %w", err)
		}
	}
	if err := store.BulkInsertHistory(ctx, sessions, attempts, logs); err != nil {
		return Result{}, fmt.Errorf("insert history: %w", err)
	}
	res := Result{Sessions: len(sessions), Attempts: len(attempts), CharLogs: len(logs)}

	logger.Info("restored history",
		"sessions", res.Sessions,
		"attempts", res.Attempts,
		"char_logs", res.CharLogs)
	return res, nil
}
