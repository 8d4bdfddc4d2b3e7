package stats

import (
	"context"
	"fmt"
	"io"

	"github.com/verte-zerg/drillog/internal/model"
)

// Source provides the aggregates a report is built from.
type Source interface {
	WordStats(ctx context.Context, datasetID string, practiceType model.PracticeType) ([]model.WordStat, error)
	GroupSessionSummaries(ctx context.Context, datasetID string, practiceType model.PracticeType) ([]model.GroupSessionSummary, error)
	DailyActivity(ctx context.Context, datasetID string, practiceType model.PracticeType) ([]model.DailyActivity, error)
	PendingCounts(ctx context.Context) (model.PendingCounts, error)
}

// Report contains precomputed data for stats rendering.
type Report struct {
	DatasetID    string
	PracticeType model.PracticeType
	Words        []model.WordStat
	Groups       []model.GroupSessionSummary
	Activity     []model.DailyActivity
	Pending      model.PendingCounts
}

// BuildReport loads and prepares data for stats rendering.
func BuildReport(ctx context.Context, src Source, datasetID string, practiceType model.PracticeType) (Report, error) {
	words, err := src.WordStats(ctx, datasetID, practiceType)
	if err != nil {
		return Report{}, fmt.Errorf("word stats: %w", err)
	}
	groups, err := src.GroupSessionSummaries(ctx, datasetID, practiceType)
	if err != nil {
		return Report{}, fmt.Errorf("group summaries: %w", err)
	}
	activity, err := src.DailyActivity(ctx, datasetID, practiceType)
	if err != nil {
		return Report{}, fmt.Errorf("daily activity: %w", err)
	}
	pending, err := src.PendingCounts(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("pending counts: %w", err)
	}
	return Report{
		DatasetID:    datasetID,
		PracticeType: practiceType,
		Words:        words,
		Groups:       groups,
		Activity:     activity,
		Pending:      pending,
	}, nil
}

// Render prints every section of the report. width bounds the activity sparkline.
func (r Report) Render(w io.Writer, width int) error {
	if _, err := fmt.Fprintf(w, "Dataset %s, %s practice\n\n", r.DatasetID, r.PracticeType.Name()); err != nil {
		return err
	}
	if err := RenderGroupSummaries(w, r.Groups); err != nil {
		return err
	}
	if err := RenderWordStats(w, r.Words); err != nil {
		return err
	}
	if err := RenderActivity(w, r.Activity, width-24, 7); err != nil {
		return err
	}
	return RenderPending(w, r.Pending)
}
