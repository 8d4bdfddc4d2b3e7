package stats

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/verte-zerg/drillog/internal/model"
)

type fakeSource struct {
	words    []model.WordStat
	groups   []model.GroupSessionSummary
	activity []model.DailyActivity
	pending  model.PendingCounts
	err      error
}

func (f fakeSource) WordStats(context.Context, string, model.PracticeType) ([]model.WordStat, error) {
	return f.words, f.err
}

func (f fakeSource) GroupSessionSummaries(context.Context, string, model.PracticeType) ([]model.GroupSessionSummary, error) {
	return f.groups, nil
}

func (f fakeSource) DailyActivity(context.Context, string, model.PracticeType) ([]model.DailyActivity, error) {
	return f.activity, nil
}

func (f fakeSource) PendingCounts(context.Context) (model.PendingCounts, error) {
	return f.pending, nil
}

func TestBuildReportRendersSections(t *testing.T) {
	last := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	src := fakeSource{
		words: []model.WordStat{
			{GroupID: "1", WordID: "你好", SuccessCount: 3, ErrorCount: 1, LastPracticedAt: &last},
			{GroupID: "1", WordID: "谢谢", SuccessCount: 1, ErrorCount: 3, LastPracticedAt: &last},
		},
		groups:   []model.GroupSessionSummary{{GroupID: "1", Total: 4, Full: 2, LastPracticedAt: &last}},
		activity: []model.DailyActivity{{Date: "2026-03-01", Count: 8, DurationMs: 61000, Sessions: 2}},
		pending:  model.PendingCounts{Sessions: 1},
	}
	report, err := BuildReport(context.Background(), src, "hsk1", model.PracticePinyin)
	if err != nil {
		t.Fatalf("BuildReport failed: %v", err)
	}
	var buf bytes.Buffer
	if err := report.Render(&buf, 80); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"Dataset hsk1, pinyin practice", "Groups", "Words", "Activity", "1m1s", "Pending: 1 sessions"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
	if strings.Index(out, "谢谢") > strings.Index(out, "你好") {
		t.Fatalf("expected weaker word first:\n%s", out)
	}
}

func TestBuildReportPropagatesError(t *testing.T) {
	boom := errors.New("boom")
	if _, err := BuildReport(context.Background(), fakeSource{err: boom}, "hsk1", model.PracticeStroke); !errors.Is(err, boom) {
		t.Fatalf("expected source error, got %v", err)
	}
}

func TestWeakestWords(t *testing.T) {
	stats := []model.WordStat{
		{WordID: "a", SuccessCount: 9, ErrorCount: 1},
		{WordID: "b", SuccessCount: 1, ErrorCount: 1},
		{WordID: "c", SuccessCount: 5},
		{WordID: "d", ErrorCount: 2},
	}
	weak := WeakestWords(stats, 2)
	if len(weak) != 2 || weak[0].WordID != "d" || weak[1].WordID != "b" {
		t.Fatalf("unexpected weakest words: %+v", weak)
	}
	if all := WeakestWords(stats, 0); len(all) != 3 {
		t.Fatalf("expected never-failed words excluded, got %+v", all)
	}
}

func TestSparklineFlatAndRange(t *testing.T) {
	if got := Sparkline([]float64{2, 2, 2}); got != "===" {
		t.Fatalf("unexpected flat sparkline %q", got)
	}
	if got := Sparkline([]float64{0, 10}); got != " @" {
		t.Fatalf("unexpected range sparkline %q", got)
	}
}

func TestMovingAverage(t *testing.T) {
	got := MovingAverage([]float64{2, 4, 6, 8}, 2)
	want := []float64{2, 3, 5, 7}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("index %d: expected %v, got %v", i, want[i], got[i])
		}
	}
}

func TestRenderPendingSynced(t *testing.T) {
	var buf bytes.Buffer
	if err := RenderPending(&buf, model.PendingCounts{}); err != nil {
		t.Fatalf("RenderPending failed: %v", err)
	}
	if buf.String() != "Everything is synced.\n" {
		t.Fatalf("unexpected output %q", buf.String())
	}
}
