package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/verte-zerg/drillog/internal/model"
)

var errOffline = errors.New("network unreachable")

type sessionKey struct {
	user, dataset, practice, group string
	startedAt                      int64
}

type attemptKey struct {
	sessionID int64
	wordID    string
	startedAt int64
}

// fakeRemote is an in-memory authoritative store with create-or-fetch semantics and
// remote foreign keys.
type fakeRemote struct {
	mu     sync.Mutex
	nextID int64

	sessionIDs map[sessionKey]int64
	sessions   map[int64]model.Session
	attemptIDs map[attemptKey]int64
	attempts   map[int64]model.WordAttempt
	charLogs   map[model.CharKey]model.CharLog

	failSessions  int
	failAttempts  int
	failCharLogs  int
	loseResponses int

	// entered is signalled and block is awaited inside CreateSession when set.
	entered chan struct{}
	block   chan struct{}

	createSessionCalls int
	charLogBatches     [][]model.CharLog
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		nextID:     100,
		sessionIDs: map[sessionKey]int64{},
		sessions:   map[int64]model.Session{},
		attemptIDs: map[attemptKey]int64{},
		attempts:   map[int64]model.WordAttempt{},
		charLogs:   map[model.CharKey]model.CharLog{},
	}
}

func keyOfSession(s model.Session) sessionKey {
	user := ""
	if s.UserID != nil {
		user = *s.UserID
	}
	return sessionKey{user, s.DatasetID, string(s.PracticeType), s.GroupID, s.StartedAt.UnixNano()}
}

func (f *fakeRemote) CreateSession(ctx context.Context, s model.Session) (int64, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createSessionCalls++
	if f.failSessions > 0 {
		f.failSessions--
		return 0, errOffline
	}
	key := keyOfSession(s)
	id, ok := f.sessionIDs[key]
	if !ok {
		f.nextID++
		id = f.nextID
		f.sessionIDs[key] = id
		s.ID = id
		s.Synced = true
		f.sessions[id] = s
	}
	if f.loseResponses > 0 {
		f.loseResponses--
		return 0, errOffline
	}
	return id, nil
}

func (f *fakeRemote) UpdateSessionDone(ctx context.Context, id int64, doneAt *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return fmt.Errorf("session %d not found", id)
	}
	s.DoneAt = doneAt
	f.sessions[id] = s
	return nil
}

func (f *fakeRemote) CreateAttempt(ctx context.Context, a model.WordAttempt) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAttempts > 0 {
		f.failAttempts--
		return 0, errOffline
	}
	if _, ok := f.sessions[a.SessionID]; !ok {
		return 0, fmt.Errorf("foreign key: session %d", a.SessionID)
	}
	key := attemptKey{a.SessionID, a.WordID, a.StartedAt.UnixNano()}
	id, ok := f.attemptIDs[key]
	if !ok {
		f.nextID++
		id = f.nextID
		f.attemptIDs[key] = id
		a.ID = id
		a.Synced = true
		f.attempts[id] = a
	}
	return id, nil
}

func (f *fakeRemote) CreateCharLogs(ctx context.Context, logs []model.CharLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCharLogs > 0 {
		f.failCharLogs--
		return errOffline
	}
	for _, l := range logs {
		if _, ok := f.attempts[l.AttemptID]; !ok {
			return fmt.Errorf("foreign key: attempt %d", l.AttemptID)
		}
	}
	f.charLogBatches = append(f.charLogBatches, logs)
	for _, l := range logs {
		if _, ok := f.charLogs[l.Key()]; ok {
			continue
		}
		l.Synced = true
		f.charLogs[l.Key()] = l
	}
	return nil
}

func (f *fakeRemote) FetchAllSessions(ctx context.Context) ([]model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Session, 0, len(f.sessions))
	for _, s := range f.sessions {
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeRemote) FetchAttempts(ctx context.Context, sessionIDs []int64) ([]model.WordAttempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	want := map[int64]bool{}
	for _, id := range sessionIDs {
		want[id] = true
	}
	var out []model.WordAttempt
	for _, a := range f.attempts {
		if want[a.SessionID] {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeRemote) FetchCharLogs(ctx context.Context, attemptIDs []int64) ([]model.CharLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	want := map[int64]bool{}
	for _, id := range attemptIDs {
		want[id] = true
	}
	var out []model.CharLog
	for _, l := range f.charLogs {
		if want[l.AttemptID] {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeRemote) counts() (sessions, attempts, logs int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions), len(f.attempts), len(f.charLogs)
}
