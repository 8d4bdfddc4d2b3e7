package dataset

import (
	"strconv"
	"strings"
	"unicode"
)

type toned struct {
	base rune
	tone int
}

var diacritics = map[rune]toned{
	'ā': {'a', 1}, 'á': {'a', 2}, 'ǎ': {'a', 3}, 'à': {'a', 4},
	'ē': {'e', 1}, 'é': {'e', 2}, 'ě': {'e', 3}, 'è': {'e', 4},
	'ī': {'i', 1}, 'í': {'i', 2}, 'ǐ': {'i', 3}, 'ì': {'i', 4},
	'ō': {'o', 1}, 'ó': {'o', 2}, 'ǒ': {'o', 3}, 'ò': {'o', 4},
	'ū': {'u', 1}, 'ú': {'u', 2}, 'ǔ': {'u', 3}, 'ù': {'u', 4},
	'ǖ': {'v', 1}, 'ǘ': {'v', 2}, 'ǚ': {'v', 3}, 'ǜ': {'v', 4}, 'ü': {'v', 5},
}

// ToneNumber converts a syllable with tone marks to tone-number form:
// "hǎo" becomes "hao3", "nǚ" becomes "nv3" and "ba" becomes "ba5".
func ToneNumber(syllable string) string {
	tone := 5
	var b strings.Builder
	for _, r := range strings.ToLower(syllable) {
		if t, ok := diacritics[r]; ok {
			b.WriteRune(t.base)
			tone = t.tone
			continue
		}
		b.WriteRune(r)
	}
	b.WriteString(strconv.Itoa(tone))
	return b.String()
}

func isHan(r rune) bool {
	return unicode.Is(unicode.Han, r)
}

// Unit is the input expected for one character of a word.
type Unit struct {
	Char rune
	// Target is what the learner types. Empty means the character completes itself.
	Target string
}

// PinyinUnits pairs each Han character of the word with its tone-number syllable.
// An erhua 儿 without its own syllable completes itself. It reports false when the
// syllables cannot be matched to the characters.
func (w Word) PinyinUnits() ([]Unit, bool) {
	var chars []rune
	for _, r := range w.Text {
		if isHan(r) {
			chars = append(chars, r)
		}
	}
	syllables := strings.Fields(w.Pinyin)
	if len(chars) == 0 || len(syllables) == 0 || len(syllables) > len(chars) {
		return nil, false
	}
	units := make([]Unit, len(chars))
	si := len(syllables) - 1
	for ci := len(chars) - 1; ci >= 0; ci-- {
		unmatched := si < ci
		if si < 0 || (chars[ci] == '儿' && unmatched) {
			if chars[ci] != '儿' {
				return nil, false
			}
			units[ci] = Unit{Char: chars[ci]}
			continue
		}
		units[ci] = Unit{Char: chars[ci], Target: ToneNumber(syllables[si])}
		si--
	}
	if si >= 0 {
		return nil, false
	}
	return units, true
}

// StrokeUnits returns one unit per Han character, each typed as the character itself.
func (w Word) StrokeUnits() []Unit {
	var units []Unit
	for _, r := range w.Text {
		if isHan(r) {
			units = append(units, Unit{Char: r, Target: string(r)})
		}
	}
	return units
}
