package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/verte-zerg/drillog/internal/localdb"
	"github.com/verte-zerg/drillog/internal/model"
)

// GetPendingSessions returns sessions waiting for sync, oldest first.
func (s *Store) GetPendingSessions(ctx context.Context) ([]model.Session, error) {
	var sessions []model.Session
	err := s.request(ctx, func(q localdb.Querier) error {
		var err error
		sessions, err = querySessions(ctx, q,
			`SELECT `+sessionCols+` FROM sessions WHERE synced = 0 ORDER BY started_at, id`)
		return err
	})
	return sessions, err
}

// GetPendingAttempts returns attempts waiting for sync, oldest first.
func (s *Store) GetPendingAttempts(ctx context.Context) ([]model.WordAttempt, error) {
	var attempts []model.WordAttempt
	err := s.request(ctx, func(q localdb.Querier) error {
		var err error
		attempts, err = queryAttempts(ctx, q,
			`SELECT `+attemptCols+` FROM word_attempts WHERE synced = 0 ORDER BY started_at, id`)
		return err
	})
	return attempts, err
}

// GetPendingCharLogs returns char logs waiting for sync in key order.
func (s *Store) GetPendingCharLogs(ctx context.Context) ([]model.CharLog, error) {
	var logs []model.CharLog
	err := s.request(ctx, func(q localdb.Querier) error {
		var err error
		logs, err = queryCharLogs(ctx, q,
			`SELECT `+charLogCols+` FROM char_logs WHERE synced = 0 ORDER BY attempt_id, char_index`)
		return err
	})
	return logs, err
}

// PendingCounts counts unsynced records per level.
func (s *Store) PendingCounts(ctx context.Context) (model.PendingCounts, error) {
	var counts model.PendingCounts
	err := s.request(ctx, func(q localdb.Querier) error {
		return q.QueryRowContext(ctx,
			`SELECT
				(SELECT COUNT(*) FROM sessions WHERE synced = 0),
				(SELECT COUNT(*) FROM word_attempts WHERE synced = 0),
				(SELECT COUNT(*) FROM char_logs WHERE synced = 0)`,
		).Scan(&counts.Sessions, &counts.Attempts, &counts.CharLogs)
	})
	return counts, err
}

// PromoteSession moves the session pushed as snapshot from its tentative id to realID
// and repoints its attempts, all in one transaction. When the local row changed after
// the snapshot was taken (the session ended meanwhile) it stays pending at realID so the
// change is pushed as an update. It reports false when the tentative row is gone.
func (s *Store) PromoteSession(ctx context.Context, snapshot model.Session, realID int64) (bool, error) {
	if realID <= 0 {
		return false, fmt.Errorf("promote session %d: invalid id %d", snapshot.ID, realID)
	}
	moved := false
	err := s.tx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT `+sessionCols+` FROM sessions WHERE id = ?`, snapshot.ID)
		current, err := scanSession(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, snapshot.ID); err != nil {
			return err
		}
		current.ID = realID
		current.Synced = sameTime(current.DoneAt, snapshot.DoneAt)
		if _, err := tx.ExecContext(ctx, upsertSessionSQL, sessionArgs(current)...); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE word_attempts SET session_id = ? WHERE session_id = ?`, realID, snapshot.ID); err != nil {
			return err
		}
		moved = true
		return nil
	})
	return moved, err
}

// MarkSessionSynced flags an authoritative session as synced if its doneAt still equals
// the value that was pushed.
func (s *Store) MarkSessionSynced(ctx context.Context, id int64, pushedDoneAt *time.Time) (bool, error) {
	var marked bool
	err := s.tx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE sessions SET synced = 1 WHERE id = ? AND done_at IS ?`, id, formatNullTime(pushedDoneAt))
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		marked = n > 0
		return nil
	})
	return marked, err
}

// PromoteAttempt moves an attempt from tempID to realID, marks it synced and rewrites
// the composite keys of its char logs, all in one transaction. It reports false when the
// tentative row is gone.
func (s *Store) PromoteAttempt(ctx context.Context, tempID, realID int64) (bool, error) {
	if realID <= 0 {
		return false, fmt.Errorf("promote attempt %d: invalid id %d", tempID, realID)
	}
	moved := false
	err := s.tx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT `+attemptCols+` FROM word_attempts WHERE id = ?`, tempID)
		current, err := scanAttempt(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM word_attempts WHERE id = ?`, tempID); err != nil {
			return err
		}
		current.ID = realID
		current.Synced = true
		if _, err := tx.ExecContext(ctx, upsertAttemptSQL, attemptArgs(current)...); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE OR REPLACE char_logs SET attempt_id = ? WHERE attempt_id = ?`, realID, tempID); err != nil {
			return err
		}
		moved = true
		return nil
	})
	return moved, err
}

// MarkCharLogsSynced flags the given char logs as synced.
func (s *Store) MarkCharLogsSynced(ctx context.Context, keys []model.CharKey) error {
	if len(keys) == 0 {
		return nil
	}
	return s.tx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `UPDATE char_logs SET synced = 1 WHERE attempt_id = ? AND char_index = ?`)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := stmt.Close(); cerr != nil {
				// Best-effort statement close.
				_ = cerr
			}
		}()
		for _, key := range keys {
			if _, err := stmt.ExecContext(ctx, key.AttemptID, key.CharIndex); err != nil {
				return err
			}
		}
		return nil
	})
}

// BulkInsertSessions stores remote sessions as synced.
func (s *Store) BulkInsertSessions(ctx context.Context, sessions []model.Session) error {
	return s.BulkInsertHistory(ctx, sessions, nil, nil)
}

// BulkInsertAttempts stores remote attempts as synced.
func (s *Store) BulkInsertAttempts(ctx context.Context, attempts []model.WordAttempt) error {
	return s.BulkInsertHistory(ctx, nil, attempts, nil)
}

// BulkInsertCharLogs stores remote char logs as synced.
func (s *Store) BulkInsertCharLogs(ctx context.Context, logs []model.CharLog) error {
	return s.BulkInsertHistory(ctx, nil, nil, logs)
}

// BulkInsertHistory stores a remote history as synced in one transaction. Either every
// row lands or none does.
func (s *Store) BulkInsertHistory(ctx context.Context, sessions []model.Session, attempts []model.WordAttempt, logs []model.CharLog) error {
	if len(sessions)+len(attempts)+len(logs) == 0 {
		return nil
	}
	return s.tx(ctx, func(tx *sql.Tx) error {
		if err := insertSyncedSessions(ctx, tx, sessions); err != nil {
			return fmt.Errorf("sessions: %w", err)
		}
		if err := insertSyncedAttempts(ctx, tx, attempts); err != nil {
			return fmt.Errorf("attempts: %w", err)
		}
		synced := make([]model.CharLog, len(logs))
		for i, l := range logs {
			l.Synced = true
			synced[i] = l
		}
		if err := insertCharLogs(ctx, tx, synced); err != nil {
			return fmt.Errorf("char logs: %w", err)
		}
		return nil
	})
}

func insertSyncedSessions(ctx context.Context, tx *sql.Tx, sessions []model.Session) error {
	if len(sessions) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, upsertSessionSQL)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := stmt.Close(); cerr != nil {
			// Best-effort statement close.
			_ = cerr
		}
	}()
	for _, session := range sessions {
		session.Synced = true
		if _, err := stmt.ExecContext(ctx, sessionArgs(session)...); err != nil {
			return err
		}
	}
	return nil
}

func insertSyncedAttempts(ctx context.Context, tx *sql.Tx, attempts []model.WordAttempt) error {
	if len(attempts) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, upsertAttemptSQL)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := stmt.Close(); cerr != nil {
			_ = cerr
		}
	}()
	for _, attempt := range attempts {
		attempt.Synced = true
		if _, err := stmt.ExecContext(ctx, attemptArgs(attempt)...); err != nil {
			return err
		}
	}
	return nil
}

// Purged counts rows removed by DeleteSyncedBefore.
type Purged struct {
	Sessions int64
	Attempts int64
	CharLogs int64
}

// deleteBatch bounds the number of bound parameters per statement.
const deleteBatch = 500

// DeleteSyncedBefore removes synced sessions that ended (or started, if never ended)
// before cutoff, together with their attempts and char logs, in one transaction.
// Sessions with any unsynced descendant are kept.
func (s *Store) DeleteSyncedBefore(ctx context.Context, cutoff time.Time) (Purged, error) {
	var purged Purged
	err := s.tx(ctx, func(tx *sql.Tx) error {
		ids, err := selectIDs(ctx, tx,
			`SELECT s.id FROM sessions s
			WHERE s.synced = 1
				AND COALESCE(s.done_at, s.started_at) < ?
				AND NOT EXISTS (
					SELECT 1 FROM word_attempts a
					WHERE a.session_id = s.id
						AND (a.synced = 0 OR EXISTS (
							SELECT 1 FROM char_logs c WHERE c.attempt_id = a.id AND c.synced = 0
						))
				)`,
			formatTime(cutoff))
		if err != nil {
			return err
		}
		for start := 0; start < len(ids); start += deleteBatch {
			end := start + deleteBatch
			if end > len(ids) {
				end = len(ids)
			}
			batch := ids[start:end]
			in := placeholders(len(batch))
			args := int64Args(batch)
			n, err := execCount(ctx, tx,
				`DELETE FROM char_logs WHERE attempt_id IN (SELECT id FROM word_attempts WHERE session_id IN (`+in+`))`, args...)
			if err != nil {
				return err
			}
			purged.CharLogs += n
			if n, err = execCount(ctx, tx, `DELETE FROM word_attempts WHERE session_id IN (`+in+`)`, args...); err != nil {
				return err
			}
			purged.Attempts += n
			if n, err = execCount(ctx, tx, `DELETE FROM sessions WHERE id IN (`+in+`)`, args...); err != nil {
				return err
			}
			purged.Sessions += n
		}
		return nil
	})
	if err != nil {
		return Purged{}, err
	}
	return purged, nil
}

func selectIDs(ctx context.Context, q localdb.Querier, query string, args ...any) ([]int64, error) {
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
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

func execCount(ctx context.Context, q localdb.Querier, query string, args ...any) (int64, error) {
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
