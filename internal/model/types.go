// Package model defines shared data structures.
package model

import (
	"fmt"
	"time"
)

// AnonymousUserID partitions data recorded while nobody is signed in.
const AnonymousUserID = "00000000-0000-0000-0000-000000000000"

// PracticeType identifies how a word was practised.
type PracticeType string

const (
	// PracticeStroke drills writing the characters stroke by stroke.
	PracticeStroke PracticeType = "s"
	// PracticePinyin drills typing the romanised reading.
	PracticePinyin PracticeType = "p"
)

// ParsePracticeType accepts the short codes and their long names.
func ParsePracticeType(value string) (PracticeType, error) {
	switch value {
	case "s", "stroke":
		return PracticeStroke, nil
	case "p", "pinyin":
		return PracticePinyin, nil
	default:
		return "", fmt.Errorf("unknown practice type %q (want s or p)", value)
	}
}

// Name returns the long form used in UI text.
func (t PracticeType) Name() string {
	switch t {
	case PracticeStroke:
		return "stroke"
	case PracticePinyin:
		return "pinyin"
	default:
		return string(t)
	}
}

// Session is one pass over a group of words.
type Session struct {
	ID           int64
	UserID       *string
	DatasetID    string
	PracticeType PracticeType
	GroupID      string
	StartedAt    time.Time
	DoneAt       *time.Time
	Synced       bool
}

// Tentative reports whether the session id has not been acknowledged remotely.
func (s Session) Tentative() bool { return s.ID < 0 }

// WordAttempt is one completed word inside a session.
type WordAttempt struct {
	ID        int64
	SessionID int64
	WordID    string
	StartedAt time.Time
	DoneAt    time.Time
	Synced    bool
}

// CharLog records how a single character of an attempt went.
type CharLog struct {
	AttemptID  int64
	CharIndex  int
	StartedAt  time.Time
	DoneAt     time.Time
	ErrorCount int
	Synced     bool
}

// CharKey is the composite primary key of a CharLog.
type CharKey struct {
	AttemptID int64
	CharIndex int
}

// Key returns the composite key of the log.
func (c CharLog) Key() CharKey {
	return CharKey{AttemptID: c.AttemptID, CharIndex: c.CharIndex}
}

// CharInput is the per-character payload handed in when recording an attempt.
type CharInput struct {
	StartedAt  time.Time
	DoneAt     time.Time
	ErrorCount int
}

// WordStat aggregates attempts of one word within a group.
type WordStat struct {
	DatasetID       string
	PracticeType    PracticeType
	GroupID         string
	WordID          string
	SuccessCount    int
	ErrorCount      int
	LastPracticedAt *time.Time
}

// GroupSessionSummary aggregates the sessions run over one group.
type GroupSessionSummary struct {
	GroupID           string
	Total             int
	Full              int
	LastPracticedAt   *time.Time
	LastFullSessionAt *time.Time
}

// DailyActivity summarises one local calendar day.
type DailyActivity struct {
	Date       string
	Count      int
	DurationMs int64
	Sessions   int
}

// PendingCounts reports how many records still wait for sync.
type PendingCounts struct {
	Sessions int
	Attempts int
	CharLogs int
}

// Total returns the sum across all levels.
func (p PendingCounts) Total() int {
	return p.Sessions + p.Attempts + p.CharLogs
}
