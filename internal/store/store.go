// Package store handles SQLite persistence of practice history.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/verte-zerg/drillog/internal/localdb"
	"github.com/verte-zerg/drillog/internal/model"
)

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Schema is the versioned layout of a stats partition.
var Schema = localdb.Schema{
	Name: "stats",
	Migrations: []localdb.Migration{
		{Version: 1, Stmts: []string{
			`CREATE TABLE sessions (
				id INTEGER PRIMARY KEY,
				user_id TEXT,
				dataset_id TEXT NOT NULL,
				practice_type TEXT NOT NULL,
				group_id TEXT NOT NULL,
				started_at TEXT NOT NULL,
				done_at TEXT,
				synced INTEGER NOT NULL DEFAULT 0
			)`,
			`CREATE INDEX idx_sessions_dataset_practice ON sessions(dataset_id, practice_type)`,
			`CREATE INDEX idx_sessions_synced ON sessions(synced)`,
			`CREATE TABLE word_attempts (
				id INTEGER PRIMARY KEY,
				session_id INTEGER NOT NULL,
				word_id TEXT NOT NULL,
				started_at TEXT NOT NULL,
				done_at TEXT NOT NULL,
				synced INTEGER NOT NULL DEFAULT 0
			)`,
			`CREATE INDEX idx_word_attempts_session ON word_attempts(session_id)`,
			`CREATE INDEX idx_word_attempts_synced ON word_attempts(synced)`,
			`CREATE TABLE char_logs (
				attempt_id INTEGER NOT NULL,
				char_index INTEGER NOT NULL,
				started_at TEXT NOT NULL,
				done_at TEXT NOT NULL,
				error_count INTEGER NOT NULL DEFAULT 0,
				synced INTEGER NOT NULL DEFAULT 0,
				PRIMARY KEY (attempt_id, char_index)
			)`,
			`CREATE INDEX idx_char_logs_synced ON char_logs(synced)`,
		}},
	},
}

// HandleProvider resolves the partition of the signed-in user.
type HandleProvider interface {
	Current() (*localdb.Handle, error)
}

// Store is the practice repository for whichever partition is current.
type Store struct {
	provider HandleProvider
}

// New returns a Store reading its handle from provider on every call.
func New(provider HandleProvider) *Store {
	return &Store{provider: provider}
}

func (s *Store) request(ctx context.Context, fn func(localdb.Querier) error) error {
	h, err := s.provider.Current()
	if err != nil {
		return err
	}
	return h.Request(ctx, fn)
}

func (s *Store) tx(ctx context.Context, fn func(*sql.Tx) error) error {
	h, err := s.provider.Current()
	if err != nil {
		return err
	}
	return h.Tx(ctx, fn)
}

const upsertSessionSQL = `INSERT INTO sessions (id, user_id, dataset_id, practice_type, group_id, started_at, done_at, synced)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		user_id = excluded.user_id,
		dataset_id = excluded.dataset_id,
		practice_type = excluded.practice_type,
		group_id = excluded.group_id,
		started_at = excluded.started_at,
		done_at = excluded.done_at,
		synced = excluded.synced`

const upsertAttemptSQL = `INSERT INTO word_attempts (id, session_id, word_id, started_at, done_at, synced)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		session_id = excluded.session_id,
		word_id = excluded.word_id,
		started_at = excluded.started_at,
		done_at = excluded.done_at,
		synced = excluded.synced`

const upsertCharLogSQL = `INSERT INTO char_logs (attempt_id, char_index, started_at, done_at, error_count, synced)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(attempt_id, char_index) DO UPDATE SET
		started_at = excluded.started_at,
		done_at = excluded.done_at,
		error_count = excluded.error_count,
		synced = excluded.synced`

// SaveSession inserts or replaces a session by id.
func (s *Store) SaveSession(ctx context.Context, session model.Session) error {
	return s.tx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, upsertSessionSQL, sessionArgs(session)...)
		return err
	})
}

// SaveAttempt inserts or replaces a word attempt by id.
func (s *Store) SaveAttempt(ctx context.Context, attempt model.WordAttempt) error {
	return s.tx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, upsertAttemptSQL, attemptArgs(attempt)...)
		return err
	})
}

// SaveCharLogs inserts or replaces a batch of char logs.
func (s *Store) SaveCharLogs(ctx context.Context, logs []model.CharLog) error {
	if len(logs) == 0 {
		return nil
	}
	return s.tx(ctx, func(tx *sql.Tx) error {
		return insertCharLogs(ctx, tx, logs)
	})
}

// SaveAttemptWithCharLogs writes an attempt and its char logs in one transaction.
func (s *Store) SaveAttemptWithCharLogs(ctx context.Context, attempt model.WordAttempt, logs []model.CharLog) error {
	for _, l := range logs {
		if l.AttemptID != attempt.ID {
			return fmt.Errorf("char log %d belongs to attempt %d, not %d", l.CharIndex, l.AttemptID, attempt.ID)
		}
	}
	return s.tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, upsertAttemptSQL, attemptArgs(attempt)...); err != nil {
			return err
		}
		return insertCharLogs(ctx, tx, logs)
	})
}

func insertCharLogs(ctx context.Context, tx *sql.Tx, logs []model.CharLog) error {
	if len(logs) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, upsertCharLogSQL)
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
		if _, err := stmt.ExecContext(ctx, charLogArgs(l)...); err != nil {
			return err
		}
	}
	return nil
}

// GetSessionByID returns the session with id, if present.
func (s *Store) GetSessionByID(ctx context.Context, id int64) (model.Session, bool, error) {
	var session model.Session
	found := false
	err := s.request(ctx, func(q localdb.Querier) error {
		row := q.QueryRowContext(ctx, `SELECT `+sessionCols+` FROM sessions WHERE id = ?`, id)
		var err error
		session, err = scanSession(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	return session, found, err
}

// GetSessionsBy returns the sessions of one dataset and practice type, oldest first.
func (s *Store) GetSessionsBy(ctx context.Context, datasetID string, practiceType model.PracticeType) ([]model.Session, error) {
	var sessions []model.Session
	err := s.request(ctx, func(q localdb.Querier) error {
		var err error
		sessions, err = querySessions(ctx, q,
			`SELECT `+sessionCols+` FROM sessions WHERE dataset_id = ? AND practice_type = ? ORDER BY started_at, id`,
			datasetID, string(practiceType))
		return err
	})
	return sessions, err
}

// GetAttemptsBySession returns the attempts pointing at sessionID.
func (s *Store) GetAttemptsBySession(ctx context.Context, sessionID int64) ([]model.WordAttempt, error) {
	var attempts []model.WordAttempt
	err := s.request(ctx, func(q localdb.Querier) error {
		var err error
		attempts, err = queryAttempts(ctx, q,
			`SELECT `+attemptCols+` FROM word_attempts WHERE session_id = ? ORDER BY started_at, id`, sessionID)
		return err
	})
	return attempts, err
}

// GetCharLogsByAttempt scans the composite key range [attemptID, *].
func (s *Store) GetCharLogsByAttempt(ctx context.Context, attemptID int64) ([]model.CharLog, error) {
	var logs []model.CharLog
	err := s.request(ctx, func(q localdb.Querier) error {
		var err error
		logs, err = queryCharLogs(ctx, q,
			`SELECT `+charLogCols+` FROM char_logs WHERE attempt_id = ? ORDER BY char_index`, attemptID)
		return err
	})
	return logs, err
}

// IsEmpty reports whether the partition holds no sessions.
func (s *Store) IsEmpty(ctx context.Context) (bool, error) {
	var exists bool
	err := s.request(ctx, func(q localdb.Querier) error {
		return q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM sessions)`).Scan(&exists)
	})
	return !exists, err
}

// GetMinID returns the smallest session or attempt id, never above zero.
func (s *Store) GetMinID(ctx context.Context) (int64, error) {
	var minID sql.NullInt64
	err := s.request(ctx, func(q localdb.Querier) error {
		return q.QueryRowContext(ctx,
			`SELECT MIN(m) FROM (
				SELECT MIN(id) AS m FROM sessions
				UNION ALL
				SELECT MIN(id) AS m FROM word_attempts
			)`).Scan(&minID)
	})
	if err != nil {
		return 0, err
	}
	if !minID.Valid || minID.Int64 > 0 {
		return 0, nil
	}
	return minID.Int64, nil
}

const (
	sessionCols = `id, user_id, dataset_id, practice_type, group_id, started_at, done_at, synced`
	attemptCols = `id, session_id, word_id, started_at, done_at, synced`
	charLogCols = `attempt_id, char_index, started_at, done_at, error_count, synced`
)

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (model.Session, error) {
	var session model.Session
	var userID, doneAt sql.NullString
	var practiceType, startedAt string
	if err := row.Scan(&session.ID, &userID, &session.DatasetID, &practiceType, &session.GroupID,
		&startedAt, &doneAt, &session.Synced); err != nil {
		return model.Session{}, err
	}
	session.PracticeType = model.PracticeType(practiceType)
	if userID.Valid {
		v := userID.String
		session.UserID = &v
	}
	var err error
	if session.StartedAt, err = parseTime(startedAt); err != nil {
		return model.Session{}, err
	}
	if session.DoneAt, err = parseNullTime(doneAt); err != nil {
		return model.Session{}, err
	}
	return session, nil
}

func scanAttempt(row scanner) (model.WordAttempt, error) {
	var attempt model.WordAttempt
	var startedAt, doneAt string
	if err := row.Scan(&attempt.ID, &attempt.SessionID, &attempt.WordID, &startedAt, &doneAt, &attempt.Synced); err != nil {
		return model.WordAttempt{}, err
	}
	var err error
	if attempt.StartedAt, err = parseTime(startedAt); err != nil {
		return model.WordAttempt{}, err
	}
	if attempt.DoneAt, err = parseTime(doneAt); err != nil {
		return model.WordAttempt{}, err
	}
	return attempt, nil
}

func scanCharLog(row scanner) (model.CharLog, error) {
	var l model.CharLog
	var startedAt, doneAt string
	if err := row.Scan(&l.AttemptID, &l.CharIndex, &startedAt, &doneAt, &l.ErrorCount, &l.Synced); err != nil {
		return model.CharLog{}, err
	}
	var err error
	if l.StartedAt, err = parseTime(startedAt); err != nil {
		return model.CharLog{}, err
	}
	if l.DoneAt, err = parseTime(doneAt); err != nil {
		return model.CharLog{}, err
	}
	return l, nil
}

func querySessions(ctx context.Context, q localdb.Querier, query string, args ...any) ([]model.Session, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()
	var result []model.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, session)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func queryAttempts(ctx context.Context, q localdb.Querier, query string, args ...any) ([]model.WordAttempt, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()
	var result []model.WordAttempt
	for rows.Next() {
		attempt, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, attempt)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func queryCharLogs(ctx context.Context, q localdb.Querier, query string, args ...any) ([]model.CharLog, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()
	var result []model.CharLog
	for rows.Next() {
		l, err := scanCharLog(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func sessionArgs(session model.Session) []any {
	var userID any
	if session.UserID != nil {
		userID = *session.UserID
	}
	return []any{
		session.ID,
		userID,
		session.DatasetID,
		string(session.PracticeType),
		session.GroupID,
		formatTime(session.StartedAt),
		formatNullTime(session.DoneAt),
		session.Synced,
	}
}

func attemptArgs(attempt model.WordAttempt) []any {
	return []any{
		attempt.ID,
		attempt.SessionID,
		attempt.WordID,
		formatTime(attempt.StartedAt),
		formatTime(attempt.DoneAt),
		attempt.Synced,
	}
}

func charLogArgs(l model.CharLog) []any {
	return []any{
		l.AttemptID,
		l.CharIndex,
		formatTime(l.StartedAt),
		formatTime(l.DoneAt),
		l.ErrorCount,
		l.Synced,
	}
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

func placeholders(n int) string {
	marks := make([]string, n)
	for i := range marks {
		marks[i] = "?"
	}
	return strings.Join(marks, ",")
}

func int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
