package steps

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/procure-cli/internal/model"
	"github.com/sells-group/procure-cli/internal/pipeline"
)

// Stage sources reported by PARSE_FILES.
const (
	SourceDeclared  = "declared"
	SourceExtracted = "extracted"
)

// ParseOutput is the PARSE_FILES result.
type ParseOutput struct {
	Source   string   `json:"source"`
	StageIDs []string `json:"stage_ids"`
}

// ParseFiles turns a project's description and documents into stages.
// Stages the project already has are kept as they are.
type ParseFiles struct {
	d *Deps
}

// Name implements pipeline.Handler.
func (h *ParseFiles) Name() model.StepName { return model.StepParseFiles }

// Execute implements pipeline.Handler.
func (h *ParseFiles) Execute(ctx context.Context, sc *pipeline.StepContext) (pipeline.Result, error) {
	proj, err := h.d.project(ctx, sc.Pipeline)
	if err != nil {
		return pipeline.Result{}, err
	}
	log := zap.L().With(zap.String("component", "steps"), zap.String("step", string(h.Name())), zap.String("project_id", proj.ID))

	existing, err := h.d.Projects.ListStages(ctx, proj.ID)
	if err != nil {
		return pipeline.Result{}, eris.Wrap(err, "parse: list stages")
	}
	if len(existing) > 0 {
		log.Info("parse: project declares stages, skipping extraction", zap.Int("stages", len(existing)))
		return pipeline.Result{Output: ParseOutput{Source: SourceDeclared, StageIDs: stageIDs(existing)}}, nil
	}

	if strings.TrimSpace(proj.Description) == "" && len(proj.Documents) == 0 {
		return pipeline.Result{}, pipeline.StepFatal(eris.New("parse: project has no stages, description or documents"))
	}
	if h.d.Extractor == nil {
		return pipeline.Result{}, eris.New("parse: no stage extractor configured")
	}

	start := time.Now()
	stages, err := h.d.Extractor.Extract(ctx, *proj)
	if err != nil {
		return pipeline.Result{}, eris.Wrap(err, "parse: extract stages")
	}
	saved, err := h.d.Projects.UpsertStages(ctx, proj.ID, stages)
	if err != nil {
		return pipeline.Result{}, eris.Wrap(err, "parse: save stages")
	}

	log.Info("parse: stages extracted",
		zap.Int("stages", len(saved)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return pipeline.Result{Output: ParseOutput{Source: SourceExtracted, StageIDs: stageIDs(saved)}}, nil
}
