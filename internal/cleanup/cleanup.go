// Package cleanup purges synced practice history older than the retention window.
package cleanup

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/verte-zerg/drillog/internal/prefs"
	"github.com/verte-zerg/drillog/internal/store"
)

const (
	// DefaultInterval is the minimum time between two cleanups.
	DefaultInterval = 24 * time.Hour
	// DefaultRetention is how long synced history is kept.
	DefaultRetention = 90 * 24 * time.Hour
)

// Store deletes synced history.
type Store interface {
	DeleteSyncedBefore(ctx context.Context, cutoff time.Time) (store.Purged, error)
}

// Prefs persists the time of the last run.
type Prefs interface {
	Get(ctx context.Context, key string, dst any) bool
	Set(ctx context.Context, key string, value any)
}

// Result describes one invocation.
type Result struct {
	Skipped bool
	Cutoff  time.Time
	Purged  store.Purged
}

// Option configures a Cleaner.
type Option func(*Cleaner)

// WithClock overrides the clock.
func WithClock(now func() time.Time) Option {
	return func(c *Cleaner) {
		if now != nil {
			c.now = now
		}
	}
}

// WithInterval sets the minimum time between two cleanups.
func WithInterval(d time.Duration) Option {
	return func(c *Cleaner) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithRetention sets how long synced history is kept.
func WithRetention(d time.Duration) Option {
	return func(c *Cleaner) {
		if d > 0 {
			c.retention = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cleaner) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Cleaner runs retention cleanup at most once per interval.
type Cleaner struct {
	store     Store
	prefs     Prefs
	now       func() time.Time
	interval  time.Duration
	retention time.Duration
	logger    *slog.Logger
}

// New creates a cleaner over the history store and the prefs holding its timestamp.
func New(st Store, p Prefs, opts ...Option) *Cleaner {
	c := &Cleaner{
		store:     st,
		prefs:     p,
		now:       time.Now,
		interval:  DefaultInterval,
		retention: DefaultRetention,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(slog.String("component", "cleanup"))
	return c
}

// Run purges old synced history unless the previous run is less than one interval ago.
func (c *Cleaner) Run(ctx context.Context) (Result, error) {
	now := c.now()
	var last time.Time
	if c.prefs.Get(ctx, prefs.KeyLastCleanup, &last) && now.Sub(last) < c.interval {
		c.logger.Debug("cleanup not due", "last_run", last)
		return Result{Skipped: true}, nil
	}
	return c.purge(ctx, now)
}

// Force purges regardless of when the last run happened.
func (c *Cleaner) Force(ctx context.Context) (Result, error) {
	return c.purge(ctx, c.now())
}

func (c *Cleaner) purge(ctx context.Context, now time.Time) (Result, error) {
	cutoff := now.Add(-c.retention)
	purged, err := c.store.DeleteSyncedBefore(ctx, cutoff)
	if err != nil {
		return Result{}, fmt.Errorf("delete synced history: %w", err)
	}
	c.prefs.Set(ctx, prefs.KeyLastCleanup, now.UTC())
	if purged.Sessions > 0 {
		c.logger.Info("purged old history",
			"cutoff", cutoff,
			"sessions", purged.Sessions,
			"attempts", purged.Attempts,
			"char_logs", purged.CharLogs)
	}
	return Result{Cutoff: cutoff, Purged: purged}, nil
}
