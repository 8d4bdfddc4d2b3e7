// Package localdb manages per-user SQLite partitions.
//
// Every signed-in user (and the anonymous user) gets a separate database file named
// after a fixed prefix and the user id. A Manager owns at most one open Handle and
// swaps it when the user changes.
package localdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/verte-zerg/drillog/internal/model"

	_ "modernc.org/sqlite" // SQLite driver.
)

var (
	// ErrClosed is returned by operations on a handle that was closed or replaced.
	ErrClosed = errors.New("partition handle is closed")
	// ErrNoPartition is returned before the first Open.
	ErrNoPartition = errors.New("no partition is open")
)

const busyTimeoutMs = 5000

// Querier is the subset of *sql.DB and *sql.Tx used by single requests.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Handle is an open partition. It stays valid until the manager switches users.
type Handle struct {
	db     *sql.DB
	name   string
	path   string
	userID string

	mu     sync.RWMutex
	closed bool
}

// Name returns the storage name (prefix and user id).
func (h *Handle) Name() string { return h.name }

// Path returns the database file path.
func (h *Handle) Path() string { return h.path }

// UserID returns the partition owner, or model.AnonymousUserID.
func (h *Handle) UserID() string { return h.userID }

// Anonymous reports whether the partition belongs to nobody.
func (h *Handle) Anonymous() bool { return h.userID == model.AnonymousUserID }

// Request runs a single operation against the partition.
// fn must not issue further requests on the same handle.
func (h *Handle) Request(ctx context.Context, fn func(Querier) error) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(h.db)
}

// Tx runs fn inside a transaction. It commits when fn succeeds and rolls back otherwise.
func (h *Handle) Tx(ctx context.Context, fn func(*sql.Tx) error) (err error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return ErrClosed
	}
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rerr := tx.Rollback(); rerr != nil {
				// Best-effort rollback.
				_ = rerr
			}
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// Close waits for in-flight requests and closes the database.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	return h.db.Close()
}

// Manager owns the current partition for one schema.
type Manager struct {
	dir    string
	prefix string
	schema Schema
	logger *slog.Logger

	mu      sync.Mutex
	current *Handle
}

// NewManager creates a manager that stores partitions under dir.
func NewManager(dir, prefix string, schema Schema, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Manager{
		dir:    dir,
		prefix: prefix,
		schema: schema,
		logger: logger.With(slog.String("component", "localdb"), slog.String("schema", schema.Name)),
	}
}

// StorageName derives the partition name for userID. Empty means anonymous.
func StorageName(prefix, userID string) string {
	if userID == "" {
		userID = model.AnonymousUserID
	}
	return prefix + "-" + userID
}

// Open opens the partition for userID if nothing is open yet, or returns the current one
// when it already belongs to userID. Use SwitchUser to replace a different partition.
func (m *Manager) Open(ctx context.Context, userID string) (*Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	owner, err := normalizeUserID(userID)
	if err != nil {
		return nil, err
	}
	if m.current != nil {
		if m.current.userID == owner {
			return m.current, nil
		}
		return nil, fmt.Errorf("partition for %s already open", m.current.userID)
	}
	h, err := m.open(ctx, owner)
	if err != nil {
		return nil, err
	}
	m.current = h
	return h, nil
}

// SwitchUser closes the current partition and opens the one for userID.
// Callers holding the old handle get ErrClosed afterwards.
func (m *Manager) SwitchUser(ctx context.Context, userID string) (*Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	owner, err := normalizeUserID(userID)
	if err != nil {
		return nil, err
	}
	if m.current != nil {
		if m.current.userID == owner {
			return m.current, nil
		}
		if err := m.current.Close(); err != nil {
			m.logger.Warn("close partition failed", "name", m.current.name, "error", err)
		}
		m.logger.Debug("partition closed", "name", m.current.name)
		m.current = nil
	}
	h, err := m.open(ctx, owner)
	if err != nil {
		return nil, err
	}
	m.current = h
	return h, nil
}

// Current returns the open partition.
func (m *Manager) Current() (*Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil, ErrNoPartition
	}
	return m.current, nil
}

// Close closes the current partition, if any.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil
	}
	err := m.current.Close()
	m.current = nil
	return err
}

func (m *Manager) open(ctx context.Context, owner string) (*Handle, error) {
	name := StorageName(m.prefix, owner)
	path := filepath.Join(m.dir, name+".db")
	db, err := OpenDB(ctx, path, m.schema, m.logger)
	if err != nil {
		return nil, err
	}
	// One connection keeps storage transactions strictly sequential.
	db.SetMaxOpenConns(1)
	m.logger.Debug("partition opened", "name", name, "path", path)
	return &Handle{db: db, name: name, path: path, userID: owner}, nil
}

// OpenDB opens the SQLite file at path, creating its directory, and migrates it to schema.
func OpenDB(ctx context.Context, path string, schema Schema, logger *slog.Logger) (*sql.DB, error) {
	if err := schema.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, err
	}
	if err := migrate(ctx, db, schema, logger); err != nil {
		closeQuietly(db)
		return nil, err
	}
	return db, nil
}

// dsn applies the pragmas on every pooled connection.
func dsn(path string) string {
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)",
		path, busyTimeoutMs)
}

func normalizeUserID(userID string) (string, error) {
	if userID == "" {
		return model.AnonymousUserID, nil
	}
	parsed, err := uuid.Parse(userID)
	if err != nil {
		return "", fmt.Errorf("invalid user id %q: %w", userID, err)
	}
	return parsed.String(), nil
}

func closeQuietly(db *sql.DB) {
	if cerr := db.Close(); cerr != nil {
		// Best-effort close on setup failure.
		_ = cerr
	}
}
