package stats

import (
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/verte-zerg/drillog/internal/model"
)

const sparkChars = " .:-=+*#%@"

const defaultTerminalWidth = 80

// ErrorRate returns the share of failed attempts for a word, 0 when unseen.
func ErrorRate(stat model.WordStat) float64 {
	total := stat.SuccessCount + stat.ErrorCount
	if total == 0 {
		return 0
	}
	return float64(stat.ErrorCount) / float64(total)
}

// MovingAverage computes a rolling mean over the provided window size.
func MovingAverage(values []float64, window int) []float64 {
	if window <= 1 || len(values) == 0 {
		out := make([]float64, len(values))
		copy(out, values)
		return out
	}
	out := make([]float64, len(values))
	var sum float64
	for i := 0; i < len(values); i++ {
		sum += values[i]
		if i >= window {
			sum -= values[i-window]
		}
		den := float64(i + 1)
		if i >= window {
			den = float64(window)
		}
		out[i] = sum / den
	}
	return out
}

// Sparkline renders a single-line ASCII sparkline for the values.
func Sparkline(values []float64) string {
	if len(values) == 0 {
		return ""
	}
	minVal := values[0]
	maxVal := values[0]
	for _, v := range values[1:] {
		if v < minVal {
			minVal = v
		}
		if v > maxVal {
			maxVal = v
		}
	}
	if math.Abs(maxVal-minVal) < 1e-9 {
		return strings.Repeat(string(sparkChars[len(sparkChars)/2]), len(values))
	}
	var b strings.Builder
	for _, v := range values {
		pos := (v - minVal) / (maxVal - minVal)
		idx := int(math.Round(pos * float64(len(sparkChars)-1)))
		if idx < 0 {
			idx = 0
		}
		if idx >= len(sparkChars) {
			idx = len(sparkChars) - 1
		}
		b.WriteByte(sparkChars[idx])
	}
	return b.String()
}

// TerminalWidth returns the width of stdout or a sane default when it is not a terminal.
func TerminalWidth() int {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return defaultTerminalWidth
	}
	width, _, err := term.GetSize(fd)
	if err != nil || width <= 0 {
		return defaultTerminalWidth
	}
	return width
}

func writeLines(w io.Writer, lines []string) error {
	for _, line := range lines {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w, "")
	return err
}

// WordRows formats word stats as table rows, weakest words first.
func WordRows(stats []model.WordStat) [][]string {
	sorted := make([]model.WordStat, len(stats))
	copy(sorted, stats)
	sortByErrorRate(sorted)
	rows := make([][]string, 0, len(sorted))
	for _, s := range sorted {
		rows = append(rows, []string{
			s.GroupID,
			s.WordID,
			fmt.Sprintf("%d", s.SuccessCount),
			fmt.Sprintf("%d", s.ErrorCount),
			fmt.Sprintf("%.1f%%", ErrorRate(s)*100),
			formatTime(s.LastPracticedAt),
		})
	}
	return rows
}

// WordHeaders are the column titles matching WordRows.
var WordHeaders = []string{"Group", "Word", "Clean", "Errors", "Err Rate", "Last"}

// Column caps for free-form dataset text.
const (
	maxWordWidth  = 16
	maxGroupWidth = 24
)

// RenderWordStats prints per-word aggregates.
func RenderWordStats(w io.Writer, stats []model.WordStat) error {
	if len(stats) == 0 {
		_, err := fmt.Fprintln(w, "No word stats found.")
		return err
	}
	if _, err := fmt.Fprintln(w, "Words"); err != nil {
		return err
	}
	lines := newTable(WordHeaders, 2, 3, 4).add(WordRows(stats)...).clipColumn(0, maxGroupWidth).clipColumn(1, maxWordWidth).lines()
	return writeLines(w, lines)
}

// GroupRows formats group summaries as table rows.
func GroupRows(summaries []model.GroupSessionSummary) [][]string {
	rows := make([][]string, 0, len(summaries))
	for _, s := range summaries {
		rows = append(rows, []string{
			s.GroupID,
			fmt.Sprintf("%d", s.Total),
			fmt.Sprintf("%d", s.Full),
			formatTime(s.LastPracticedAt),
			formatTime(s.LastFullSessionAt),
		})
	}
	return rows
}

// GroupHeaders are the column titles matching GroupRows.
var GroupHeaders = []string{"Group", "Sessions", "Full", "Last", "Last Full"}

// RenderGroupSummaries prints per-group session counts.
func RenderGroupSummaries(w io.Writer, summaries []model.GroupSessionSummary) error {
	if len(summaries) == 0 {
		_, err := fmt.Fprintln(w, "No sessions found.")
		return err
	}
	if _, err := fmt.Fprintln(w, "Groups"); err != nil {
		return err
	}
	lines := newTable(GroupHeaders, 1, 2).add(GroupRows(summaries)...).clipColumn(0, maxGroupWidth).lines()
	return writeLines(w, lines)
}

// RenderActivity prints a sparkline of words per day followed by the most recent days.
// width bounds the sparkline; zero means no bound.
func RenderActivity(w io.Writer, days []model.DailyActivity, width, last int) error {
	if len(days) == 0 {
		_, err := fmt.Fprintln(w, "No activity found.")
		return err
	}
	counts := make([]float64, len(days))
	for i, d := range days {
		counts[i] = float64(d.Count)
	}
	if width > 0 && len(counts) > width {
		counts = counts[len(counts)-width:]
	}
	if _, err := fmt.Fprintln(w, "Activity"); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "%s..%s |%s|\n", days[0].Date, days[len(days)-1].Date, Sparkline(counts)); err != nil {
		return err
	}
	recent := days
	if last > 0 && len(recent) > last {
		recent = recent[len(recent)-last:]
	}
	rows := make([][]string, 0, len(recent))
	for _, d := range recent {
		rows = append(rows, []string{
			d.Date,
			fmt.Sprintf("%d", d.Sessions),
			fmt.Sprintf("%d", d.Count),
			formatDuration(d.DurationMs),
		})
	}
	lines := newTable([]string{"Day", "Sessions", "Words", "Time"}, 1, 2, 3).add(rows...).lines()
	return writeLines(w, lines)
}

// RenderPending prints how many records still wait for sync.
func RenderPending(w io.Writer, counts model.PendingCounts) error {
	if counts.Total() == 0 {
		_, err := fmt.Fprintln(w, "Everything is synced.")
		return err
	}
	_, err := fmt.Fprintf(w, "Pending: %d sessions, %d attempts, %d char logs\n",
		counts.Sessions, counts.Attempts, counts.CharLogs)
	return err
}

func sortByErrorRate(stats []model.WordStat) {
	sort.SliceStable(stats, func(i, j int) bool {
		ri, rj := ErrorRate(stats[i]), ErrorRate(stats[j])
		if ri != rj {
			return ri > rj
		}
		if stats[i].GroupID != stats[j].GroupID {
			return stats[i].GroupID < stats[j].GroupID
		}
		return stats[i].WordID < stats[j].WordID
	})
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func formatDuration(ms int64) string {
	d := time.Duration(ms) * time.Millisecond
	return d.Round(time.Second).String()
}
