package dataset

import (
	"github.com/verte-zerg/drillog/internal/model"
)

// FilterFunc returns true when a word should be kept.
type FilterFunc func(Word) bool

// FilterForPractice returns the filter matching words usable for the practice type.
func FilterForPractice(pt model.PracticeType) FilterFunc {
	switch pt {
	case model.PracticePinyin:
		return func(w Word) bool {
			_, ok := w.PinyinUnits()
			return ok
		}
	default:
		return func(w Word) bool { return len(w.StrokeUnits()) > 0 }
	}
}

// Filter returns the words of g accepted by keep, preserving order.
func (g Group) Filter(keep FilterFunc) []Word {
	out := make([]Word, 0, len(g.Words))
	for _, w := range g.Words {
		if keep(w) {
			out = append(out, w)
		}
	}
	return out
}

// Units returns the per-character targets of w for the practice type.
func (w Word) Units(pt model.PracticeType) []Unit {
	if pt == model.PracticePinyin {
		units, _ := w.PinyinUnits()
		return units
	}
	return w.StrokeUnits()
}
