package steps

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/procure-cli/internal/model"
	"github.com/sells-group/procure-cli/internal/pipeline"
	"github.com/sells-group/procure-cli/internal/scheduler"
)

// ValidateOutput is the VALIDATE_PARSE result.
type ValidateOutput struct {
	Active           []string `json:"active"`
	Deferred         []string `json:"deferred,omitempty"`
	TimelineInferred bool     `json:"timeline_inferred"`
}

// ValidateParse checks the parsed stages, dates them from the construction
// start when needed and splits them into ACTIVE and DEFERRED by the quoting
// horizon.
type ValidateParse struct {
	d *Deps
}

// Name implements pipeline.Handler.
func (h *ValidateParse) Name() model.StepName { return model.StepValidateParse }

// Execute implements pipeline.Handler.
func (h *ValidateParse) Execute(ctx context.Context, sc *pipeline.StepContext) (pipeline.Result, error) {
	proj, err := h.d.project(ctx, sc.Pipeline)
	if err != nil {
		return pipeline.Result{}, err
	}
	stages, err := h.d.Projects.ListStages(ctx, proj.ID)
	if err != nil {
		return pipeline.Result{}, eris.Wrap(err, "validate: list stages")
	}
	if err := validateStages(stages); err != nil {
		return pipeline.Result{}, err
	}

	out := ValidateOutput{}
	if proj.ConstructionStart != nil && anyUndated(stages) {
		stages = scheduler.InferTimeline(stages, *proj.ConstructionStart)
		if err := h.d.Projects.SetStageDates(ctx, stages); err != nil {
			return pipeline.Result{}, eris.Wrap(err, "validate: save inferred dates")
		}
		out.TimelineInferred = true
	}

	today := model.Date(h.d.Now())
	for _, st := range stages {
		if deferStage(st, today, proj.QuotingHorizonDays) {
			out.Deferred = append(out.Deferred, st.ID)
		} else {
			out.Active = append(out.Active, st.ID)
		}
	}
	if len(out.Active) > 0 {
		if err := h.d.Projects.SetStageStatus(ctx, model.ProcurementActive, out.Active...); err != nil {
			return pipeline.Result{}, eris.Wrap(err, "validate: mark active")
		}
	}
	if len(out.Deferred) > 0 {
		if err := h.d.Projects.SetStageStatus(ctx, model.ProcurementDeferred, out.Deferred...); err != nil {
			return pipeline.Result{}, eris.Wrap(err, "validate: mark deferred")
		}
	}

	zap.L().With(zap.String("component", "steps"), zap.String("step", string(h.Name()))).Info("validate: stages classified",
		zap.String("project_id", proj.ID),
		zap.Int("active", len(out.Active)),
		zap.Int("deferred", len(out.Deferred)),
		zap.Bool("timeline_inferred", out.TimelineInferred),
	)
	return pipeline.Result{Output: out}, nil
}

func validateStages(stages []model.Stage) error {
	if len(stages) == 0 {
		return eris.New("validate: project has no stages")
	}
	var problems []string
	for _, st := range stages {
		if strings.TrimSpace(st.Name) == "" {
			problems = append(problems, fmt.Sprintf("stage %d: name is required", st.Sequence))
		}
		if !model.KnownCategory(st.Category) {
			problems = append(problems, fmt.Sprintf("stage %d: unknown category %q", st.Sequence, st.Category))
		}
		if st.PlannedDurationDays != nil && *st.PlannedDurationDays < 0 {
			problems = append(problems, fmt.Sprintf("stage %d: negative duration", st.Sequence))
		}
	}
	if len(problems) > 0 {
		return eris.Errorf("validate: %s", strings.Join(problems, "; "))
	}
	return nil
}

func anyUndated(stages []model.Stage) bool {
	for _, st := range stages {
		if st.PlannedStartDate == nil {
			return true
		}
	}
	return false
}

// deferStage reports whether st starts beyond the quoting horizon. Undated
// stages and projects without a horizon are procured immediately.
func deferStage(st model.Stage, today time.Time, horizonDays *int) bool {
	if horizonDays == nil || st.PlannedStartDate == nil {
		return false
	}
	return model.Date(*st.PlannedStartDate).After(today.AddDate(0, 0, *horizonDays))
}
