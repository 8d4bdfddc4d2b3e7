// Package syncer pushes locally recorded practice history to the remote store.
//
// Records are drained in dependency order (sessions, then word attempts, then char
// logs). A record created remotely moves from its tentative negative id to the
// authoritative id in one local transaction, and its children are repointed in the
// same transaction. A failed record stays pending and is retried by the next run.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/verte-zerg/drillog/internal/model"
)

var (
	// ErrBusy is returned by Run when another run holds the engine.
	ErrBusy = errors.New("sync already running")
	// ErrNoRemote is returned by Run when no remote store is configured.
	ErrNoRemote = errors.New("no remote configured")
)

const (
	defaultTimeout = 2 * time.Minute
	charLogBatch   = 500
)

// Report summarises one run.
type Report struct {
	SessionsCreated int
	SessionsUpdated int
	AttemptsCreated int
	CharLogsSynced  int
	Failed          int
}

// Changed reports whether the run promoted anything.
func (r Report) Changed() bool {
	return r.SessionsCreated+r.SessionsUpdated+r.AttemptsCreated+r.CharLogsSynced > 0
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithTimeout bounds each background run started by Trigger.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// Engine drains pending records. At most one run executes at a time.
type Engine struct {
	store   Store
	remote  Remote
	logger  *slog.Logger
	timeout time.Duration

	// idle holds the single run token while no run is executing.
	idle chan struct{}
	wg   sync.WaitGroup

	mu        sync.Mutex
	active    int64
	hasActive bool
}

// New creates an engine. remote may be nil, in which case every run is a no-op.
func New(store Store, remote Remote, opts ...Option) *Engine {
	e := &Engine{
		store:   store,
		remote:  remote,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		timeout: defaultTimeout,
		idle:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(slog.String("component", "sync"))
	e.idle <- struct{}{}
	return e
}

// SetActive marks the session currently receiving attempts. It replaces any earlier marker.
func (e *Engine) SetActive(id int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.active = id
	e.hasActive = true
}

// Release clears the active marker if it belongs to id.
func (e *Engine) Release(id int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.hasActive && e.active == id {
		e.hasActive = false
		e.active = 0
	}
}

// ClearActive clears the active marker unconditionally.
func (e *Engine) ClearActive() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hasActive = false
	e.active = 0
}

// Active returns the active session id, if any.
func (e *Engine) Active() (int64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active, e.hasActive
}

func (e *Engine) isActive(id int64) bool {
	active, ok := e.Active()
	return ok && active == id
}

// Run performs one blocking pass. If another pass is executing it returns ErrBusy at
// once without touching any record.
func (e *Engine) Run(ctx context.Context) (Report, error) {
	select {
	case <-e.idle:
	default:
		return Report{}, ErrBusy
	}
	defer func() { e.idle <- struct{}{} }()
	if e.remote == nil {
		return Report{}, ErrNoRemote
	}
	return e.run(ctx)
}

// Trigger starts a run in the background. Failures are logged, never returned.
func (e *Engine) Trigger() {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
		defer cancel()
		report, err := e.Run(ctx)
		switch {
		case errors.Is(err, ErrBusy), errors.Is(err, ErrNoRemote):
			e.logger.Debug("sync skipped", "reason", err)
		case err != nil:
			e.logger.Warn("sync run failed", "error", err)
		case report.Changed() || report.Failed > 0:
			e.logger.Info("sync run finished",
				"sessions_created", report.SessionsCreated,
				"sessions_updated", report.SessionsUpdated,
				"attempts_created", report.AttemptsCreated,
				"char_logs", report.CharLogsSynced,
				"failed", report.Failed)
		}
	}()
}

// Wait blocks until every background run started by Trigger has returned.
func (e *Engine) Wait() {
	e.wg.Wait()
}

func (e *Engine) run(ctx context.Context) (Report, error) {
	var report Report
	if err := e.pushNewSessions(ctx, &report); err != nil {
		return report, err
	}
	if err := e.pushSessionUpdates(ctx, &report); err != nil {
		return report, err
	}
	if err := e.pushAttempts(ctx, &report); err != nil {
		return report, err
	}
	if err := e.pushCharLogs(ctx, &report); err != nil {
		return report, err
	}
	return report, nil
}

func (e *Engine) pushNewSessions(ctx context.Context, report *Report) error {
	sessions, err := e.store.GetPendingSessions(ctx)
	if err != nil {
		return fmt.Errorf("load pending sessions: %w", err)
	}
	for _, s := range sessions {
		if !s.Tentative() {
			continue
		}
		if e.isActive(s.ID) {
			e.logger.Debug("skipping active session", "id", s.ID)
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		realID, err := e.remote.CreateSession(ctx, s)
		if err != nil {
			e.logger.Warn("create session failed", "id", s.ID, "error", err)
			report.Failed++
			continue
		}
		moved, err := e.store.PromoteSession(ctx, s, realID)
		if err != nil {
			return fmt.Errorf("promote session %d to %d: %w", s.ID, realID, err)
		}
		if moved {
			report.SessionsCreated++
			e.logger.Debug("session promoted", "from", s.ID, "to", realID)
		}
	}
	return nil
}

func (e *Engine) pushSessionUpdates(ctx context.Context, report *Report) error {
	sessions, err := e.store.GetPendingSessions(ctx)
	if err != nil {
		return fmt.Errorf("load pending sessions: %w", err)
	}
	for _, s := range sessions {
		if s.Tentative() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.remote.UpdateSessionDone(ctx, s.ID, s.DoneAt); err != nil {
			e.logger.Warn("update session failed", "id", s.ID, "error", err)
			report.Failed++
			continue
		}
		marked, err := e.store.MarkSessionSynced(ctx, s.ID, s.DoneAt)
		if err != nil {
			return fmt.Errorf("mark session %d synced: %w", s.ID, err)
		}
		if marked {
			report.SessionsUpdated++
		}
	}
	return nil
}

func (e *Engine) pushAttempts(ctx context.Context, report *Report) error {
	attempts, err := e.store.GetPendingAttempts(ctx)
	if err != nil {
		return fmt.Errorf("load pending attempts: %w", err)
	}
	for _, a := range attempts {
		// Blocked until the owning session is authoritative.
		if a.SessionID <= 0 || a.ID > 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		realID, err := e.remote.CreateAttempt(ctx, a)
		if err != nil {
			e.logger.Warn("create attempt failed", "id", a.ID, "session", a.SessionID, "error", err)
			report.Failed++
			continue
		}
		moved, err := e.store.PromoteAttempt(ctx, a.ID, realID)
		if err != nil {
			return fmt.Errorf("promote attempt %d to %d: %w", a.ID, realID, err)
		}
		if moved {
			report.AttemptsCreated++
		}
	}
	return nil
}

func (e *Engine) pushCharLogs(ctx context.Context, report *Report) error {
	pending, err := e.store.GetPendingCharLogs(ctx)
	if err != nil {
		return fmt.Errorf("load pending char logs: %w", err)
	}
	ready := pending[:0]
	for _, l := range pending {
		if l.AttemptID > 0 {
			ready = append(ready, l)
		}
	}
	for start := 0; start < len(ready); start += charLogBatch {
		end := start + charLogBatch
		if end > len(ready) {
			end = len(ready)
		}
		batch := ready[start:end]
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.remote.CreateCharLogs(ctx, batch); err != nil {
			e.logger.Warn("create char logs failed", "count", len(batch), "error", err)
			report.Failed += len(batch)
			continue
		}
		keys := make([]model.CharKey, len(batch))
		for i, l := range batch {
			keys[i] = l.Key()
		}
		if err := e.store.MarkCharLogsSynced(ctx, keys); err != nil {
			return fmt.Errorf("mark char logs synced: %w", err)
		}
		report.CharLogsSynced += len(batch)
	}
	return nil
}
