// Package practice records drill sessions for the signed-in user and keeps them in sync
// with the remote store.
package practice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/verte-zerg/drillog/internal/cleanup"
	"github.com/verte-zerg/drillog/internal/localdb"
	"github.com/verte-zerg/drillog/internal/model"
	"github.com/verte-zerg/drillog/internal/prefs"
	"github.com/verte-zerg/drillog/internal/restore"
	"github.com/verte-zerg/drillog/internal/store"
	"github.com/verte-zerg/drillog/internal/syncer"
	"github.com/verte-zerg/drillog/internal/tempid"
)

// StatsPrefix names practice history partition files.
const StatsPrefix = "stats"

// ErrSessionNotFound is returned when recording into or ending a session that does not exist.
var ErrSessionNotFound = errors.New("session not found")

const remoteCreateTimeout = 5 * time.Second

// Remote is the authoritative store together with the account selection it needs.
type Remote interface {
	syncer.Remote
	SetUser(userID string)
}

// Options configures Open.
type Options struct {
	DataDir string
	// UserID is the signed-in user. Empty means anonymous.
	UserID string
	// Remote may be nil for an offline tracker.
	Remote Remote
	Logger *slog.Logger

	SyncTimeout     time.Duration
	CleanupInterval time.Duration
	Retention       time.Duration

	// Now overrides the clock.
	Now func() time.Time
}

// Tracker is the facade used by the drill UI and the CLI.
type Tracker struct {
	stats     *localdb.Manager
	prefStore *localdb.Manager
	store     *store.Store
	prefs     *prefs.Store
	cleaner   *cleanup.Cleaner
	remote    Remote
	logger    *slog.Logger
	now       func() time.Time
	timeout   time.Duration

	mu     sync.RWMutex
	user   string
	ids    *tempid.Allocator
	engine *syncer.Engine
}

// Open opens the partitions of opts.UserID, restores an empty partition from the remote,
// runs retention cleanup and starts a background sync.
func Open(ctx context.Context, opts Options) (*Tracker, error) {
	if opts.DataDir == "" {
		return nil, fmt.Errorf("data directory is empty")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	t := &Tracker{
		stats:     localdb.NewManager(opts.DataDir, StatsPrefix, store.Schema, logger),
		prefStore: localdb.NewManager(opts.DataDir, prefs.Prefix, prefs.Schema, logger),
		remote:    opts.Remote,
		logger:    logger.With(slog.String("component", "practice")),
		now:       now,
		timeout:   opts.SyncTimeout,
	}
	t.store = store.New(t.stats)
	t.prefs = prefs.New(t.prefStore, logger)
	t.cleaner = cleanup.New(t.store, t.prefs,
		cleanup.WithClock(now),
		cleanup.WithInterval(opts.CleanupInterval),
		cleanup.WithRetention(opts.Retention),
		cleanup.WithLogger(logger))

	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.activate(ctx, opts.UserID, false); err != nil {
		t.closePartitions()
		return nil, err
	}
	return t, nil
}

// activate opens the partitions of userID and runs the start-up pipeline. Callers hold mu.
func (t *Tracker) activate(ctx context.Context, userID string, switching bool) error {
	open := t.stats.Open
	openPrefs := t.prefStore.Open
	if switching {
		open = t.stats.SwitchUser
		openPrefs = t.prefStore.SwitchUser
	}
	h, err := open(ctx, userID)
	if err != nil {
		return fmt.Errorf("open stats partition: %w", err)
	}
	if _, err := openPrefs(ctx, userID); err != nil {
		return fmt.Errorf("open prefs partition: %w", err)
	}
	t.user = h.UserID()

	if t.ids == nil {
		if t.ids, err = tempid.New(ctx, t.store); err != nil {
			return err
		}
	} else if err := t.ids.Reseed(ctx, t.store); err != nil {
		return err
	}

	var remote syncer.Remote
	if t.remote != nil && !h.Anonymous() {
		t.remote.SetUser(t.user)
		if _, err := restore.Run(ctx, t.store, t.remote, t.logger); err != nil {
			return fmt.Errorf("restore history: %w", err)
		}
		remote = t.remote
	}
	if _, err := t.cleaner.Run(ctx); err != nil {
		t.logger.Warn("cleanup failed", "error", err)
	}

	t.engine = syncer.New(t.store, remote, syncer.WithLogger(t.logger), syncer.WithTimeout(t.timeout))
	t.engine.Trigger()
	return nil
}

// SwitchUser moves the tracker to another account after background syncs finish.
func (t *Tracker) SwitchUser(ctx context.Context, userID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.engine.Wait()
	t.engine.ClearActive()
	return t.activate(ctx, userID, true)
}

// UserID returns the partition owner.
func (t *Tracker) UserID() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.user
}

// StatsPath returns the database file of the current stats partition.
func (t *Tracker) StatsPath() (string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	h, err := t.stats.Current()
	if err != nil {
		return "", err
	}
	return h.Path(), nil
}

// Reconnect starts a background sync, typically after connectivity returns.
func (t *Tracker) Reconnect() {
	t.mu.RLock()
	defer t.mu.RUnlock()
	t.engine.Trigger()
}

// WaitSync blocks until the background syncs started so far have returned.
func (t *Tracker) WaitSync() {
	t.mu.RLock()
	engine := t.engine
	t.mu.RUnlock()
	engine.Wait()
}

// SyncNow runs one blocking sync.
func (t *Tracker) SyncNow(ctx context.Context) (syncer.Report, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.engine.Run(ctx)
}

// Restore seeds the partition from the remote when it is empty.
func (t *Tracker) Restore(ctx context.Context) (restore.Result, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.remote == nil || t.user == model.AnonymousUserID {
		return restore.Result{Skipped: true}, nil
	}
	return restore.Run(ctx, t.store, t.remote, t.logger)
}

// Cleanup runs retention cleanup. force ignores the interval.
func (t *Tracker) Cleanup(ctx context.Context, force bool) (cleanup.Result, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if force {
		return t.cleaner.Force(ctx)
	}
	return t.cleaner.Run(ctx)
}

func (t *Tracker) stamp() time.Time {
	return t.now().UTC().Truncate(time.Millisecond)
}

// StartSession begins a session. It asks the remote for an authoritative id first and
// falls back to a tentative id when that fails.
func (t *Tracker) StartSession(ctx context.Context, datasetID string, practiceType model.PracticeType, groupID string) (model.Session, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	t.engine.ClearActive()

	session := model.Session{
		DatasetID:    datasetID,
		PracticeType: practiceType,
		GroupID:      groupID,
		StartedAt:    t.stamp(),
	}
	if t.user != model.AnonymousUserID {
		user := t.user
		session.UserID = &user
	}

	if t.remote != nil && session.UserID != nil {
		createCtx, cancel := context.WithTimeout(ctx, remoteCreateTimeout)
		id, err := t.remote.CreateSession(createCtx, session)
		cancel()
		if err == nil {
			session.ID = id
			session.Synced = true
		} else {
			t.logger.Warn("remote session create failed, continuing offline", "error", err)
		}
	}
	if session.ID == 0 {
		session.ID = t.ids.Next()
	}
	// Marked before the row exists so a run already in flight cannot promote it.
	t.engine.SetActive(session.ID)
	if err := t.store.SaveSession(ctx, session); err != nil {
		t.engine.Release(session.ID)
		return model.Session{}, fmt.Errorf("save session: %w", err)
	}
	t.prefs.Set(ctx, prefs.KeyDataset, datasetID)
	t.engine.Trigger()
	return session, nil
}

// EndSession marks the session finished.
func (t *Tracker) EndSession(ctx context.Context, id int64) (model.Session, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	session, ok, err := t.store.GetSessionByID(ctx, id)
	if err != nil {
		return model.Session{}, err
	}
	if !ok {
		t.logger.Error("end of unknown session", "session", id)
		return model.Session{}, fmt.Errorf("session %d: %w", id, ErrSessionNotFound)
	}
	done := t.stamp()
	session.DoneAt = &done
	session.Synced = false
	if err := t.store.SaveSession(ctx, session); err != nil {
		return model.Session{}, fmt.Errorf("save session: %w", err)
	}
	t.engine.Release(id)
	t.engine.Trigger()
	return session, nil
}

// LeaveSession abandons the session without ending it, releasing it for sync.
func (t *Tracker) LeaveSession(id int64) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	t.engine.Release(id)
	t.engine.Trigger()
}

// RecordAttempt stores a completed word with one log per character.
func (t *Tracker) RecordAttempt(ctx context.Context, sessionID int64, wordID string, startedAt, doneAt time.Time, chars []model.CharInput) (model.WordAttempt, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if _, ok, err := t.store.GetSessionByID(ctx, sessionID); err != nil {
		return model.WordAttempt{}, err
	} else if !ok {
		t.logger.Error("attempt for unknown session", "session", sessionID, "word", wordID)
		return model.WordAttempt{}, fmt.Errorf("session %d: %w", sessionID, ErrSessionNotFound)
	}

	attempt := model.WordAttempt{
		ID:        t.ids.Next(),
		SessionID: sessionID,
		WordID:    wordID,
		StartedAt: startedAt.UTC().Truncate(time.Millisecond),
		DoneAt:    doneAt.UTC().Truncate(time.Millisecond),
	}
	logs := make([]model.CharLog, len(chars))
	for i, c := range chars {
		logs[i] = model.CharLog{
			AttemptID:  attempt.ID,
			CharIndex:  i,
			StartedAt:  c.StartedAt.UTC().Truncate(time.Millisecond),
			DoneAt:     c.DoneAt.UTC().Truncate(time.Millisecond),
			ErrorCount: c.ErrorCount,
		}
	}
	if err := t.store.SaveAttemptWithCharLogs(ctx, attempt, logs); err != nil {
		return model.WordAttempt{}, fmt.Errorf("save attempt: %w", err)
	}
	t.engine.Trigger()
	return attempt, nil
}

// LastDataset returns the dataset of the most recently started session, or "".
func (t *Tracker) LastDataset(ctx context.Context) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.prefs.GetString(ctx, prefs.KeyDataset)
}

// WordStats returns per-word totals for a dataset and practice type.
func (t *Tracker) WordStats(ctx context.Context, datasetID string, practiceType model.PracticeType) ([]model.WordStat, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.store.GetWordStats(ctx, datasetID, practiceType)
}

// GroupStats returns per-word totals restricted to one group.
func (t *Tracker) GroupStats(ctx context.Context, datasetID string, practiceType model.PracticeType, groupID string) ([]model.WordStat, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.store.GetGroupStats(ctx, datasetID, practiceType, groupID)
}

// GroupSessionSummaries returns session counts and last practice time per group.
func (t *Tracker) GroupSessionSummaries(ctx context.Context, datasetID string, practiceType model.PracticeType) ([]model.GroupSessionSummary, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.store.GetGroupSessionSummaries(ctx, datasetID, practiceType)
}

// DailyActivity buckets attempts by local date.
func (t *Tracker) DailyActivity(ctx context.Context, datasetID string, practiceType model.PracticeType) ([]model.DailyActivity, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.store.GetDailyActivity(ctx, datasetID, practiceType, time.Local)
}

// PendingCounts counts records still waiting for sync.
func (t *Tracker) PendingCounts(ctx context.Context) (model.PendingCounts, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.store.PendingCounts(ctx)
}

// Close waits for background syncs and closes both partitions.
func (t *Tracker) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.engine != nil {
		t.engine.Wait()
	}
	return t.closePartitions()
}

func (t *Tracker) closePartitions() error {
	return errors.Join(t.stats.Close(), t.prefStore.Close())
}
