// Package prefs keeps small per-user preferences as JSON values in their own partition.
//
// Preferences are a convenience. Storage failures are logged at debug level and
// otherwise ignored, so callers never need to handle them.
package prefs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"

	"github.com/verte-zerg/drillog/internal/localdb"
)

// Prefix names preference partition files.
const Prefix = "prefs"

// Well-known keys.
const (
	KeyDataset     = "datasetId"
	KeyLastCleanup = "stats-last-cleanup"
)

// Schema is the versioned layout of a preference partition.
var Schema = localdb.Schema{
	Name: "prefs",
	Migrations: []localdb.Migration{
		{Version: 1, Stmts: []string{
			`CREATE TABLE prefs (
				key TEXT PRIMARY KEY,
				value TEXT NOT NULL
			)`,
		}},
	},
}

// HandleProvider resolves the partition of the signed-in user.
type HandleProvider interface {
	Current() (*localdb.Handle, error)
}

// Store reads and writes preferences of the current partition.
type Store struct {
	provider HandleProvider
	logger   *slog.Logger
}

// New creates a prefs store over the partitions of provider.
func New(provider HandleProvider, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Store{provider: provider, logger: logger.With(slog.String("component", "prefs"))}
}

// Get decodes the value stored under key into dst. It reports false when the key is
// absent or cannot be read.
func (s *Store) Get(ctx context.Context, key string, dst any) bool {
	h, err := s.provider.Current()
	if err != nil {
		s.logger.Debug("prefs unavailable", "key", key, "error", err)
		return false
	}
	var raw string
	err = h.Request(ctx, func(q localdb.Querier) error {
		return q.QueryRowContext(ctx, `SELECT value FROM prefs WHERE key = ?`, key).Scan(&raw)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return false
	}
	if err != nil {
		s.logger.Debug("read pref failed", "key", key, "error", err)
		return false
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		s.logger.Debug("decode pref failed", "key", key, "error", err)
		return false
	}
	return true
}

// GetString returns the string stored under key, or "".
func (s *Store) GetString(ctx context.Context, key string) string {
	var value string
	if !s.Get(ctx, key, &value) {
		return ""
	}
	return value
}

// Set stores value under key.
func (s *Store) Set(ctx context.Context, key string, value any) {
	data, err := json.Marshal(value)
	if err != nil {
		s.logger.Debug("encode pref failed", "key", key, "error", err)
		return
	}
	h, err := s.provider.Current()
	if err != nil {
		s.logger.Debug("prefs unavailable", "key", key, "error", err)
		return
	}
	err = h.Request(ctx, func(q localdb.Querier) error {
		_, err := q.ExecContext(ctx,
			`INSERT INTO prefs (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
			key, string(data))
		return err
	})
	if err != nil {
		s.logger.Debug("write pref failed", "key", key, "error", err)
	}
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) {
	h, err := s.provider.Current()
	if err != nil {
		s.logger.Debug("prefs unavailable", "key", key, "error", err)
		return
	}
	err = h.Request(ctx, func(q localdb.Querier) error {
		_, err := q.ExecContext(ctx, `DELETE FROM prefs WHERE key = ?`, key)
		return err
	})
	if err != nil {
		s.logger.Debug("delete pref failed", "key", key, "error", err)
	}
}
