// Package scheduler promotes deferred stages into procurement as their
// planned start enters the project's quoting horizon, and infers stage
// timelines from a construction start date.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/procure-cli/internal/model"
	"github.com/sells-group/procure-cli/internal/pipeline"
	"github.com/sells-group/procure-cli/internal/store"
)

// PipelineStarter creates and starts wave pipelines.
type PipelineStarter interface {
	CreatePipeline(ctx context.Context, req pipeline.CreateRequest) (*model.Pipeline, error)
	StartPipeline(ctx context.Context, id string) error
	CancelPipeline(ctx context.Context, id string) error
}

// Wave is one pipeline spawned for a project's promoted stages.
type Wave struct {
	ProjectID  string   `json:"project_id"`
	PipelineID string   `json:"pipeline_id"`
	StageIDs   []string `json:"stage_ids"`
}

// Failure records a project whose promotion was rolled back.
type Failure struct {
	ProjectID string `json:"project_id"`
	Error     string `json:"error"`
}

// TickResult summarizes one scheduling pass.
type TickResult struct {
	Date     string    `json:"date"`
	Projects int       `json:"projects_scanned"`
	Promoted int       `json:"stages_promoted"`
	Waves    []Wave    `json:"waves,omitempty"`
	Failures []Failure `json:"failures,omitempty"`
}

// SelectPromotable returns the DEFERRED stages whose planned start falls on
// or before today plus horizonDays, compared as UTC calendar dates.
func SelectPromotable(stages []model.Stage, today time.Time, horizonDays int) []model.Stage {
	horizonEnd := model.Date(today).AddDate(0, 0, horizonDays)
	var out []model.Stage
	for _, st := range stages {
		if st.ProcurementStatus != model.ProcurementDeferred || st.PlannedStartDate == nil {
			continue
		}
		if !model.Date(*st.PlannedStartDate).After(horizonEnd) {
			out = append(out, st)
		}
	}
	return out
}

// Reactivator runs scheduling ticks.
type Reactivator struct {
	projects  store.ProjectStore
	pipelines PipelineStarter
}

// NewReactivator creates a Reactivator.
func NewReactivator(projects store.ProjectStore, pipelines PipelineStarter) *Reactivator {
	return &Reactivator{projects: projects, pipelines: pipelines}
}

// Tick promotes due stages for every schedulable project and spawns one wave
// pipeline per project. A project that fails is rolled back and reported in
// the result; it does not stop the others.
func (r *Reactivator) Tick(ctx context.Context, today time.Time) (*TickResult, error) {
	log := zap.L().With(zap.String("component", "scheduler"))
	start := time.Now()
	today = model.Date(today)

	projects, err := r.projects.ListSchedulableProjects(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "scheduler: list projects")
	}

	res := &TickResult{Date: today.Format(time.DateOnly), Projects: len(projects)}
	for i := range projects {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		p := &projects[i]
		wave, err := r.promote(ctx, p, today)
		if err != nil {
			log.Error("scheduler: project promotion failed",
				zap.String("project_id", p.ID), zap.Error(err))
			res.Failures = append(res.Failures, Failure{ProjectID: p.ID, Error: err.Error()})
			continue
		}
		if wave != nil {
			res.Promoted += len(wave.StageIDs)
			res.Waves = append(res.Waves, *wave)
		}
	}

	log.Info("scheduler: tick complete",
		zap.String("date", res.Date),
		zap.Int("projects", res.Projects),
		zap.Int("promoted", res.Promoted),
		zap.Int("waves", len(res.Waves)),
		zap.Int("failures", len(res.Failures)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return res, nil
}

func (r *Reactivator) promote(ctx context.Context, p *model.Project, today time.Time) (*Wave, error) {
	if p.QuotingHorizonDays == nil {
		return nil, nil
	}
	stages, err := r.projects.ListStages(ctx, p.ID)
	if err != nil {
		return nil, eris.Wrap(err, "list stages")
	}
	due := SelectPromotable(stages, today, *p.QuotingHorizonDays)
	if len(due) == 0 {
		return nil, nil
	}

	ids := make([]string, len(due))
	for i, st := range due {
		ids[i] = st.ID
	}
	if err := r.projects.SetStageStatus(ctx, model.ProcurementActive, ids...); err != nil {
		return nil, eris.Wrap(err, "promote stages")
	}

	pl, err := r.pipelines.CreatePipeline(ctx, pipeline.CreateRequest{
		OwnerID:   p.OwnerID,
		ProjectID: p.ID,
		StageIDs:  ids,
		Steps:     model.WaveSteps,
		Trigger:   model.TriggerWave,
	})
	if err != nil {
		return nil, r.rollback(ctx, ids, eris.Wrap(err, "create wave"))
	}

	wave := &Wave{ProjectID: p.ID, PipelineID: pl.ID, StageIDs: ids}
	if err := r.pipelines.StartPipeline(ctx, pl.ID); err != nil {
		// A queue rejection leaves the wave STEP_FAILED and resumable.
		if errors.Is(err, pipeline.ErrQueueFull) {
			return wave, nil
		}
		if cerr := r.pipelines.CancelPipeline(ctx, pl.ID); cerr != nil {
			zap.L().With(zap.String("component", "scheduler")).Warn("scheduler: cancel unstarted wave failed",
				zap.String("pipeline_id", pl.ID), zap.Error(cerr))
		}
		return nil, r.rollback(ctx, ids, eris.Wrap(err, "start wave"))
	}
	return wave, nil
}

// rollback returns stages to DEFERRED so the next tick retries them.
func (r *Reactivator) rollback(ctx context.Context, stageIDs []string, cause error) error {
	if err := r.projects.SetStageStatus(ctx, model.ProcurementDeferred, stageIDs...); err != nil {
		return eris.Wrapf(cause, "rollback failed: %v", err)
	}
	return cause
}
