package remote

import (
	"time"

	"github.com/verte-zerg/drillog/internal/model"
)

type sessionJSON struct {
	ID           int64      `json:"id"`
	UserID       *string    `json:"userId,omitempty"`
	DatasetID    string     `json:"datasetId"`
	PracticeType string     `json:"practiceType"`
	GroupID      string     `json:"groupId"`
	StartedAt    time.Time  `json:"startedAt"`
	DoneAt       *time.Time `json:"doneAt"`
}

type attemptJSON struct {
	ID        int64     `json:"id"`
	SessionID int64     `json:"sessionId"`
	WordID    string    `json:"wordId"`
	StartedAt time.Time `json:"startedAt"`
	DoneAt    time.Time `json:"doneAt"`
}

type charLogJSON struct {
	AttemptID  int64     `json:"attemptId"`
	CharIndex  int       `json:"charIndex"`
	StartedAt  time.Time `json:"startedAt"`
	DoneAt     time.Time `json:"doneAt"`
	ErrorCount int       `json:"errorCount"`
}

type idResponse struct {
	ID int64 `json:"id"`
}

type doneRequest struct {
	DoneAt *time.Time `json:"doneAt"`
}

type charLogsRequest struct {
	Logs []charLogJSON `json:"logs"`
}

type sessionIDsRequest struct {
	SessionIDs []int64 `json:"sessionIds"`
}

type attemptIDsRequest struct {
	AttemptIDs []int64 `json:"attemptIds"`
}

func sessionToJSON(s model.Session) sessionJSON {
	return sessionJSON{
		ID:           s.ID,
		UserID:       s.UserID,
		DatasetID:    s.DatasetID,
		PracticeType: string(s.PracticeType),
		GroupID:      s.GroupID,
		StartedAt:    s.StartedAt,
		DoneAt:       s.DoneAt,
	}
}

func (s sessionJSON) model() model.Session {
	return model.Session{
		ID:           s.ID,
		UserID:       s.UserID,
		DatasetID:    s.DatasetID,
		PracticeType: model.PracticeType(s.PracticeType),
		GroupID:      s.GroupID,
		StartedAt:    s.StartedAt,
		DoneAt:       s.DoneAt,
		Synced:       true,
	}
}

func attemptToJSON(a model.WordAttempt) attemptJSON {
	return attemptJSON{ID: a.ID, SessionID: a.SessionID, WordID: a.WordID, StartedAt: a.StartedAt, DoneAt: a.DoneAt}
}

func (a attemptJSON) model() model.WordAttempt {
	return model.WordAttempt{ID: a.ID, SessionID: a.SessionID, WordID: a.WordID, StartedAt: a.StartedAt, DoneAt: a.DoneAt, Synced: true}
}

func charLogToJSON(l model.CharLog) charLogJSON {
	return charLogJSON{AttemptID: l.AttemptID, CharIndex: l.CharIndex, StartedAt: l.StartedAt, DoneAt: l.DoneAt, ErrorCount: l.ErrorCount}
}

func (l charLogJSON) model() model.CharLog {
	return model.CharLog{AttemptID: l.AttemptID, CharIndex: l.CharIndex, StartedAt: l.StartedAt, DoneAt: l.DoneAt, ErrorCount: l.ErrorCount, Synced: true}
}
