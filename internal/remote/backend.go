package remote

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/verte-zerg/drillog/internal/localdb"
	"github.com/verte-zerg/drillog/internal/model"
)

// ErrNotFound is returned when a referenced row does not exist or belongs to another user.
var ErrNotFound = errors.New("not found")

const (
	timeLayout = "2006-01-02T15:04:05.000000000Z"
	queryBatch = 500
)

// ServerSchema is the layout of the authoritative database.
var ServerSchema = localdb.Schema{
	Name: "server",
	Migrations: []localdb.Migration{
		{Version: 1, Stmts: []string{
			`CREATE TABLE sessions (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				user_id TEXT NOT NULL,
				dataset_id TEXT NOT NULL,
				practice_type TEXT NOT NULL,
				group_id TEXT NOT NULL,
				started_at TEXT NOT NULL,
				done_at TEXT,
				UNIQUE (user_id, dataset_id, practice_type, group_id, started_at)
			)`,
			`CREATE TABLE word_attempts (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				session_id INTEGER NOT NULL REFERENCES sessions(id),
				word_id TEXT NOT NULL,
				started_at TEXT NOT NULL,
				done_at TEXT NOT NULL,
				UNIQUE (session_id, word_id, started_at)
			)`,
			`CREATE TABLE char_logs (
				attempt_id INTEGER NOT NULL REFERENCES word_attempts(id),
				char_index INTEGER NOT NULL,
				started_at TEXT NOT NULL,
				done_at TEXT NOT NULL,
				error_count INTEGER NOT NULL DEFAULT 0,
				PRIMARY KEY (attempt_id, char_index)
			)`,
		}},
	},
}

// Backend is the authoritative store behind the development server. Every method is
// scoped to one user.
type Backend struct {
	db *sql.DB
}

// OpenBackend opens (and migrates) the server database at path.
func OpenBackend(ctx context.Context, path string, logger *slog.Logger) (*Backend, error) {
	db, err := localdb.OpenDB(ctx, path, ServerSchema, logger)
	if err != nil {
		return nil, fmt.Errorf("open server database: %w", err)
	}
	return &Backend{db: db}, nil
}

// Close closes the database.
func (b *Backend) Close() error {
	return b.db.Close()
}

// CreateSession inserts the session, or returns the id of the existing session with the
// same natural key.
func (b *Backend) CreateSession(ctx context.Context, userID string, s model.Session) (int64, error) {
	var id int64
	err := b.db.QueryRowContext(ctx,
		`INSERT INTO sessions (user_id, dataset_id, practice_type, group_id, started_at, done_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, dataset_id, practice_type, group_id, started_at) DO NOTHING
		RETURNING id`,
		userID, s.DatasetID, string(s.PracticeType), s.GroupID, formatTime(s.StartedAt), formatNullTime(s.DoneAt),
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		err = b.db.QueryRowContext(ctx,
			`SELECT id FROM sessions
			WHERE user_id = ? AND dataset_id = ? AND practice_type = ? AND group_id = ? AND started_at = ?`,
			userID, s.DatasetID, string(s.PracticeType), s.GroupID, formatTime(s.StartedAt),
		).Scan(&id)
	}
	if err != nil {
		return 0, fmt.Errorf("create session: %w", err)
	}
	return id, nil
}

// UpdateSessionDone sets done_at of a session owned by userID.
func (b *Backend) UpdateSessionDone(ctx context.Context, userID string, id int64, doneAt *time.Time) error {
	res, err := b.db.ExecContext(ctx,
		`UPDATE sessions SET done_at = ? WHERE id = ? AND user_id = ?`,
		formatNullTime(doneAt), id, userID)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("session %d: %w", id, ErrNotFound)
	}
	return nil
}

// CreateAttempt inserts the attempt under a session owned by userID, or returns the id
// of the existing attempt with the same natural key.
func (b *Backend) CreateAttempt(ctx context.Context, userID string, a model.WordAttempt) (int64, error) {
	if err := b.ownsSession(ctx, userID, a.SessionID); err != nil {
		return 0, err
	}
	var id int64
	err := b.db.QueryRowContext(ctx,
		`INSERT INTO word_attempts (session_id, word_id, started_at, done_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (session_id, word_id, started_at) DO NOTHING
		RETURNING id`,
		a.SessionID, a.WordID, formatTime(a.StartedAt), formatTime(a.DoneAt),
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		err = b.db.QueryRowContext(ctx,
			`SELECT id FROM word_attempts WHERE session_id = ? AND word_id = ? AND started_at = ?`,
			a.SessionID, a.WordID, formatTime(a.StartedAt),
		).Scan(&id)
	}
	if err != nil {
		return 0, fmt.Errorf("create attempt: %w", err)
	}
	return id, nil
}

// CreateCharLogs inserts logs in one transaction, skipping existing keys. Every log must
// reference an attempt owned by userID.
func (b *Backend) CreateCharLogs(ctx context.Context, userID string, logs []model.CharLog) (err error) {
	tx, err := b.db.BeginTx(ctx, nil)
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

	owned := map[int64]bool{}
	for _, l := range logs {
		if _, ok := owned[l.AttemptID]; ok {
			continue
		}
		var one int
		qerr := tx.QueryRowContext(ctx,
			`SELECT 1 FROM word_attempts a JOIN sessions s ON s.id = a.session_id
			WHERE a.id = ? AND s.user_id = ?`, l.AttemptID, userID).Scan(&one)
		if errors.Is(qerr, sql.ErrNoRows) {
			return fmt.Errorf("attempt %d: %w", l.AttemptID, ErrNotFound)
		}
		if qerr != nil {
			return qerr
		}
		owned[l.AttemptID] = true
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO char_logs (attempt_id, char_index, started_at, done_at, error_count)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (attempt_id, char_index) DO NOTHING`)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := stmt.Close(); cerr != nil {
			// Best-effort statement close.
			_ = cerr
		}
	}()
	for _, l := range logs {
		if _, err = stmt.ExecContext(ctx, l.AttemptID, l.CharIndex, formatTime(l.StartedAt), formatTime(l.DoneAt), l.ErrorCount); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Sessions returns every session of userID ordered by id.
func (b *Backend) Sessions(ctx context.Context, userID string) ([]model.Session, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT id, user_id, dataset_id, practice_type, group_id, started_at, done_at
		FROM sessions WHERE user_id = ? ORDER BY id`, userID)
	if err != nil {
		return nil, err
	}
	defer closeRows(rows)
	var out []model.Session
	for rows.Next() {
		var (
			s         model.Session
			user      string
			practice  string
			startedAt string
			doneAt    sql.NullString
		)
		if err := rows.Scan(&s.ID, &user, &s.DatasetID, &practice, &s.GroupID, &startedAt, &doneAt); err != nil {
			return nil, err
		}
		s.UserID = &user
		s.PracticeType = model.PracticeType(practice)
		if s.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, err
		}
		if s.DoneAt, err = parseNullTime(doneAt); err != nil {
			return nil, err
		}
		s.Synced = true
		out = append(out, s)
	}
	return out, rows.Err()
}

// Attempts returns the attempts of the given sessions owned by userID.
func (b *Backend) Attempts(ctx context.Context, userID string, sessionIDs []int64) ([]model.WordAttempt, error) {
	var out []model.WordAttempt
	for _, batch := range batches(sessionIDs) {
		args := append([]any{userID}, int64Args(batch)...)
		rows, err := b.db.QueryContext(ctx,
			`SELECT a.id, a.session_id, a.word_id, a.started_at, a.done_at
			FROM word_attempts a JOIN sessions s ON s.id = a.session_id
			WHERE s.user_id = ? AND a.session_id IN (`+placeholders(len(batch))+`)
			ORDER BY a.id`, args...)
		if err != nil {
			return nil, err
		}
		err = func() error {
			defer closeRows(rows)
			for rows.Next() {
				var (
					a                 model.WordAttempt
					startedAt, doneAt string
					err               error
				)
				if err = rows.Scan(&a.ID, &a.SessionID, &a.WordID, &startedAt, &doneAt); err != nil {
					return err
				}
				if a.StartedAt, err = parseTime(startedAt); err != nil {
					return err
				}
				if a.DoneAt, err = parseTime(doneAt); err != nil {
					return err
				}
				a.Synced = true
				out = append(out, a)
			}
			return rows.Err()
		}()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// CharLogs returns the char logs of the given attempts owned by userID.
func (b *Backend) CharLogs(ctx context.Context, userID string, attemptIDs []int64) ([]model.CharLog, error) {
	var out []model.CharLog
	for _, batch := range batches(attemptIDs) {
		args := append([]any{userID}, int64Args(batch)...)
		rows, err := b.db.QueryContext(ctx,
			`SELECT c.attempt_id, c.char_index, c.started_at, c.done_at, c.error_count
			FROM char_logs c
			JOIN word_attempts a ON a.id = c.attempt_id
			JOIN sessions s ON s.id = a.session_id
			WHERE s.user_id = ? AND c.attempt_id IN (`+placeholders(len(batch))+`)
			ORDER BY c.attempt_id, c.char_index`, args...)
		if err != nil {
			return nil, err
		}
		err = func() error {
			defer closeRows(rows)
			for rows.Next() {
				var (
					l                 model.CharLog
					startedAt, doneAt string
					err               error
				)
				if err = rows.Scan(&l.AttemptID, &l.CharIndex, &startedAt, &doneAt, &l.ErrorCount); err != nil {
					return err
				}
				if l.StartedAt, err = parseTime(startedAt); err != nil {
					return err
				}
				if l.DoneAt, err = parseTime(doneAt); err != nil {
					return err
				}
				l.Synced = true
				out = append(out, l)
			}
			return rows.Err()
		}()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (b *Backend) ownsSession(ctx context.Context, userID string, sessionID int64) error {
	var one int
	err := b.db.QueryRowContext(ctx,
		`SELECT 1 FROM sessions WHERE id = ? AND user_id = ?`, sessionID, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("session %d: %w", sessionID, ErrNotFound)
	}
	return err
}

func batches(ids []int64) [][]int64 {
	var out [][]int64
	for start := 0; start < len(ids); start += queryBatch {
		end := start + queryBatch
		if end > len(ids) {
			end = len(ids)
		}
		out = append(out, ids[start:end])
	}
	return out
}

func closeRows(rows *sql.Rows) {
	if cerr := rows.Close(); cerr != nil {
		// Best-effort rows close.
		_ = cerr
	}
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatNullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(value string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, value)
}

func parseNullTime(value sql.NullString) (*time.Time, error) {
	if !value.Valid {
		return nil, nil
	}
	t, err := parseTime(value.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
