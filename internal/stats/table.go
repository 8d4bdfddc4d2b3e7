// Package stats contains statistics calculations and reporting.
package stats

import (
	"strings"

	"github.com/mattn/go-runewidth"
)

// table lays out rows in columns measured in terminal cells.
type table struct {
	headers []string
	rows    [][]string
	numeric map[int]bool
	// clip caps a column's width; longer cells end in an ellipsis.
	clip map[int]int
}

// newTable creates a table whose numeric columns are right-aligned.
func newTable(headers []string, numeric ...int) *table {
	t := &table{headers: headers, numeric: map[int]bool{}, clip: map[int]int{}}
	for _, col := range numeric {
		t.numeric[col] = true
	}
	return t
}

func (t *table) add(rows ...[]string) *table {
	t.rows = append(t.rows, rows...)
	return t
}

func (t *table) clipColumn(col, width int) *table {
	if width > 0 {
		t.clip[col] = width
	}
	return t
}

func (t *table) cell(row []string, col int) string {
	if col >= len(row) {
		return ""
	}
	value := row[col]
	if limit, ok := t.clip[col]; ok && displayWidth(value) > limit {
		return runewidth.Truncate(value, limit, "…")
	}
	return value
}

func (t *table) lines() []string {
	cols := len(t.headers)
	for _, row := range t.rows {
		cols = max(cols, len(row))
	}
	if cols == 0 {
		return nil
	}

	widths := make([]int, cols)
	measure := func(row []string) {
		for i := range widths {
			widths[i] = max(widths[i], displayWidth(t.cell(row, i)))
		}
	}
	measure(t.headers)
	for _, row := range t.rows {
		measure(row)
	}

	out := make([]string, 0, len(t.rows)+1)
	if len(t.headers) > 0 {
		out = append(out, t.line(t.headers, widths))
	}
	for _, row := range t.rows {
		out = append(out, t.line(row, widths))
	}
	return out
}

func (t *table) line(row []string, widths []int) string {
	var b strings.Builder
	for i, width := range widths {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(padCell(t.cell(row, i), width, t.numeric[i]))
	}
	return strings.TrimRight(b.String(), " ")
}

func padCell(value string, width int, rightAlign bool) string {
	padding := width - displayWidth(value)
	if padding <= 0 {
		return value
	}
	if rightAlign {
		return strings.Repeat(" ", padding) + value
	}
	return value + strings.Repeat(" ", padding)
}

// displayWidth counts terminal cells, so Han characters take two.
func displayWidth(value string) int {
	return runewidth.StringWidth(value)
}
