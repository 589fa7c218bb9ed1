package scheduler

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/procure-cli/internal/model"
	"github.com/sells-group/procure-cli/internal/store"
)

// InferTimeline assigns planned start dates by forward chaining from start in
// sequence order. Each stage begins when the previous one ends; stages
// without a duration take model.DefaultStageDurationDays. The input is not
// modified.
func InferTimeline(stages []model.Stage, start time.Time) []model.Stage {
	out := make([]model.Stage, len(stages))
	copy(out, stages)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })

	cursor := model.Date(start)
	for i := range out {
		d := cursor
		out[i].PlannedStartDate = &d
		cursor = cursor.AddDate(0, 0, out[i].DurationDays())
	}
	return out
}

// Timeline persists construction starts and the inferred stage dates.
type Timeline struct {
	projects store.ProjectStore
}

// NewTimeline creates a Timeline backed by projects.
func NewTimeline(projects store.ProjectStore) *Timeline {
	return &Timeline{projects: projects}
}

// Apply records start on the project, infers every stage's planned start and
// saves the dates. It returns the dated stages in sequence order.
func (t *Timeline) Apply(ctx context.Context, projectID string, start time.Time) ([]model.Stage, error) {
	start = model.Date(start)
	if err := t.projects.SetConstructionStart(ctx, projectID, start); err != nil {
		return nil, eris.Wrap(err, "timeline: set construction start")
	}
	stages, err := t.projects.ListStages(ctx, projectID)
	if err != nil {
		return nil, eris.Wrap(err, "timeline: list stages")
	}
	dated := InferTimeline(stages, start)
	if err := t.projects.SetStageDates(ctx, dated); err != nil {
		return nil, eris.Wrap(err, "timeline: save stage dates")
	}

	zap.L().With(zap.String("component", "scheduler")).Info("timeline: inferred",
		zap.String("project_id", projectID),
		zap.Time("start", start),
		zap.Int("stages", len(dated)),
	)
	return dated, nil
}
