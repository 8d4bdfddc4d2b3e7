// Package picker orders the words of a drill and suggests what to practise next.
package picker

import (
	"math/rand"
	"sort"
	"time"

	"github.com/verte-zerg/drillog/internal/dataset"
	"github.com/verte-zerg/drillog/internal/model"
)

// Picker shuffles drill words.
type Picker struct {
	rnd *rand.Rand
}

// New returns a Picker seeded with the current time.
func New() *Picker {
	return NewWithSeed(time.Now().UnixNano())
}

// NewWithSeed returns a deterministic Picker.
func NewWithSeed(seed int64) *Picker {
	return &Picker{rnd: rand.New(rand.NewSource(seed))}
}

// Order returns the words in random order, optionally limited to count (zero keeps all).
func (p *Picker) Order(words []dataset.Word, count int) []dataset.Word {
	out := make([]dataset.Word, len(words))
	copy(out, words)
	p.rnd.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	if count > 0 && count < len(out) {
		out = out[:count]
	}
	return out
}

// OrderWeighted is Order with words drawn in proportion to 1 + errors*factor, so words
// with more recorded errors tend to come first.
func (p *Picker) OrderWeighted(words []dataset.Word, stats []model.WordStat, factor float64) []dataset.Word {
	errs := map[string]int{}
	for _, s := range stats {
		errs[s.WordID] += s.ErrorCount
	}
	remaining := make([]dataset.Word, len(words))
	copy(remaining, words)
	weights := make([]float64, len(remaining))
	total := 0.0
	for i, w := range remaining {
		weights[i] = 1.0 + float64(errs[w.ID()])*factor
		total += weights[i]
	}

	out := make([]dataset.Word, 0, len(words))
	for len(remaining) > 0 {
		r := p.rnd.Float64() * total
		acc := 0.0
		idx := len(remaining) - 1
		for j, w := range weights {
			acc += w
			if r <= acc {
				idx = j
				break
			}
		}
		out = append(out, remaining[idx])
		total -= weights[idx]
		remaining = append(remaining[:idx], remaining[idx+1:]...)
		weights = append(weights[:idx], weights[idx+1:]...)
	}
	return out
}

// Suggestion is the group and practice type to drill next.
type Suggestion struct {
	GroupID      string
	PracticeType model.PracticeType
}

// PickNext chooses, among groups with at least one full session of either type, the
// least recently practised one, and the type with fewer full sessions (stroke on a tie).
// groups gives the candidate order; ties on last practice keep that order.
func PickNext(groups []string, stroke, pinyin []model.GroupSessionSummary) (Suggestion, bool) {
	strokeBy := byGroup(stroke)
	pinyinBy := byGroup(pinyin)

	type candidate struct {
		id   string
		last time.Time
	}
	var eligible []candidate
	for _, id := range groups {
		s, p := strokeBy[id], pinyinBy[id]
		if s.Full+p.Full < 1 {
			continue
		}
		c := candidate{id: id}
		for _, t := range []*time.Time{s.LastPracticedAt, p.LastPracticedAt} {
			if t != nil && t.After(c.last) {
				c.last = *t
			}
		}
		eligible = append(eligible, c)
	}
	if len(eligible) == 0 {
		return Suggestion{}, false
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		return eligible[i].last.Before(eligible[j].last)
	})

	id := eligible[0].id
	pt := model.PracticeStroke
	if pinyinBy[id].Full < strokeBy[id].Full {
		pt = model.PracticePinyin
	}
	return Suggestion{GroupID: id, PracticeType: pt}, true
}

func byGroup(summaries []model.GroupSessionSummary) map[string]model.GroupSessionSummary {
	m := make(map[string]model.GroupSessionSummary, len(summaries))
	for _, s := range summaries {
		m[s.GroupID] = s
	}
	return m
}
