package store

import (
	"context"
	"sort"
	"time"

	"github.com/verte-zerg/drillog/internal/localdb"
	"github.com/verte-zerg/drillog/internal/model"
)

// practiceTree holds one dataset/practice slice of the history, joined in memory.
type practiceTree struct {
	sessions map[int64]model.Session
	attempts []model.WordAttempt
	errors   map[int64]int
}

func (s *Store) loadTree(ctx context.Context, datasetID string, practiceType model.PracticeType) (practiceTree, error) {
	tree := practiceTree{sessions: map[int64]model.Session{}, errors: map[int64]int{}}
	err := s.request(ctx, func(q localdb.Querier) error {
		sessions, err := querySessions(ctx, q,
			`SELECT `+sessionCols+` FROM sessions WHERE dataset_id = ? AND practice_type = ?`,
			datasetID, string(practiceType))
		if err != nil {
			return err
		}
		for _, session := range sessions {
			tree.sessions[session.ID] = session
		}
		tree.attempts, err = queryAttempts(ctx, q,
			`SELECT `+attemptCols+` FROM word_attempts
			WHERE session_id IN (SELECT id FROM sessions WHERE dataset_id = ? AND practice_type = ?)
			ORDER BY done_at, id`,
			datasetID, string(practiceType))
		if err != nil {
			return err
		}
		rows, err := q.QueryContext(ctx,
			`SELECT c.attempt_id, SUM(c.error_count) FROM char_logs c
			JOIN word_attempts a ON a.id = c.attempt_id
			JOIN sessions s ON s.id = a.session_id
			WHERE s.dataset_id = ? AND s.practice_type = ?
			GROUP BY c.attempt_id`,
			datasetID, string(practiceType))
		if err != nil {
			return err
		}
		defer func() {
			if cerr := rows.Close(); cerr != nil {
				// Best-effort rows close.
				_ = cerr
			}
		}()
		for rows.Next() {
			var attemptID int64
			var sum int
			if err := rows.Scan(&attemptID, &sum); err != nil {
				return err
			}
			tree.errors[attemptID] = sum
		}
		return rows.Err()
	})
	return tree, err
}

type wordKey struct {
	groupID string
	wordID  string
}

// GetWordStats aggregates attempts per (group, word) for a dataset and practice type.
func (s *Store) GetWordStats(ctx context.Context, datasetID string, practiceType model.PracticeType) ([]model.WordStat, error) {
	tree, err := s.loadTree(ctx, datasetID, practiceType)
	if err != nil {
		return nil, err
	}
	return tree.wordStats(datasetID, practiceType, ""), nil
}

// GetGroupStats is GetWordStats restricted to one group.
func (s *Store) GetGroupStats(ctx context.Context, datasetID string, practiceType model.PracticeType, groupID string) ([]model.WordStat, error) {
	tree, err := s.loadTree(ctx, datasetID, practiceType)
	if err != nil {
		return nil, err
	}
	return tree.wordStats(datasetID, practiceType, groupID), nil
}

func (t practiceTree) wordStats(datasetID string, practiceType model.PracticeType, onlyGroup string) []model.WordStat {
	byKey := map[wordKey]*model.WordStat{}
	var order []wordKey
	for _, attempt := range t.attempts {
		session, ok := t.sessions[attempt.SessionID]
		if !ok {
			continue
		}
		if onlyGroup != "" && session.GroupID != onlyGroup {
			continue
		}
		key := wordKey{groupID: session.GroupID, wordID: attempt.WordID}
		stat, ok := byKey[key]
		if !ok {
			stat = &model.WordStat{
				DatasetID:    datasetID,
				PracticeType: practiceType,
				GroupID:      session.GroupID,
				WordID:       attempt.WordID,
			}
			byKey[key] = stat
			order = append(order, key)
		}
		stat.SuccessCount++
		stat.ErrorCount += t.errors[attempt.ID]
		if stat.LastPracticedAt == nil || attempt.DoneAt.After(*stat.LastPracticedAt) {
			done := attempt.DoneAt
			stat.LastPracticedAt = &done
		}
	}
	sort.Slice(order, func(i, j int) bool {
		if order[i].groupID == order[j].groupID {
			return order[i].wordID < order[j].wordID
		}
		return order[i].groupID < order[j].groupID
	})
	result := make([]model.WordStat, 0, len(order))
	for _, key := range order {
		result = append(result, *byKey[key])
	}
	return result
}

// GetGroupSessionSummaries summarises sessions per group. A session is full once it has ended.
func (s *Store) GetGroupSessionSummaries(ctx context.Context, datasetID string, practiceType model.PracticeType) ([]model.GroupSessionSummary, error) {
	sessions, err := s.GetSessionsBy(ctx, datasetID, practiceType)
	if err != nil {
		return nil, err
	}
	byGroup := map[string]*model.GroupSessionSummary{}
	var groups []string
	for _, session := range sessions {
		summary, ok := byGroup[session.GroupID]
		if !ok {
			summary = &model.GroupSessionSummary{GroupID: session.GroupID}
			byGroup[session.GroupID] = summary
			groups = append(groups, session.GroupID)
		}
		summary.Total++
		practiced := session.StartedAt
		if session.DoneAt != nil {
			practiced = *session.DoneAt
			summary.Full++
			if summary.LastFullSessionAt == nil || practiced.After(*summary.LastFullSessionAt) {
				last := practiced
				summary.LastFullSessionAt = &last
			}
		}
		if summary.LastPracticedAt == nil || practiced.After(*summary.LastPracticedAt) {
			last := practiced
			summary.LastPracticedAt = &last
		}
	}
	sort.Strings(groups)
	result := make([]model.GroupSessionSummary, 0, len(groups))
	for _, g := range groups {
		result = append(result, *byGroup[g])
	}
	return result, nil
}

// GetDailyActivity buckets attempts by the local calendar day of their completion.
func (s *Store) GetDailyActivity(ctx context.Context, datasetID string, practiceType model.PracticeType, loc *time.Location) ([]model.DailyActivity, error) {
	if loc == nil {
		loc = time.Local
	}
	tree, err := s.loadTree(ctx, datasetID, practiceType)
	if err != nil {
		return nil, err
	}
	byDay := map[string]*model.DailyActivity{}
	seen := map[string]map[int64]struct{}{}
	var days []string
	for _, attempt := range tree.attempts {
		day := attempt.DoneAt.In(loc).Format("2006-01-02")
		entry, ok := byDay[day]
		if !ok {
			entry = &model.DailyActivity{Date: day}
			byDay[day] = entry
			seen[day] = map[int64]struct{}{}
			days = append(days, day)
		}
		entry.Count++
		if d := attempt.DoneAt.Sub(attempt.StartedAt); d > 0 {
			entry.DurationMs += d.Milliseconds()
		}
		if _, ok := seen[day][attempt.SessionID]; !ok {
			seen[day][attempt.SessionID] = struct{}{}
			entry.Sessions++
		}
	}
	sort.Strings(days)
	result := make([]model.DailyActivity, 0, len(days))
	for _, day := range days {
		result = append(result, *byDay[day])
	}
	return result, nil
}
