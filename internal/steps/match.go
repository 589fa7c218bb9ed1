package steps

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/procure-cli/internal/model"
	"github.com/sells-group/procure-cli/internal/pipeline"
)

// MatchOutput maps stage ids to ranked candidates.
type MatchOutput struct {
	Matches   map[string][]model.ScoredSupplier `json:"matches"`
	Unmatched []string                          `json:"unmatched,omitempty"`
}

// MatchSuppliers ranks directory suppliers for every stage in scope.
type MatchSuppliers struct {
	d *Deps
}

// Name implements pipeline.Handler.
func (h *MatchSuppliers) Name() model.StepName { return model.StepMatchSuppliers }

// Execute implements pipeline.Handler.
func (h *MatchSuppliers) Execute(ctx context.Context, sc *pipeline.StepContext) (pipeline.Result, error) {
	proj, err := h.d.project(ctx, sc.Pipeline)
	if err != nil {
		return pipeline.Result{}, err
	}
	stages, err := h.d.scopedStages(ctx, sc)
	if err != nil {
		return pipeline.Result{}, err
	}

	start := time.Now()
	results, err := h.d.Matcher.MatchStages(ctx, stages, proj.Location)
	if err != nil {
		return pipeline.Result{}, eris.Wrap(err, "match: score suppliers")
	}

	out := MatchOutput{Matches: make(map[string][]model.ScoredSupplier, len(results))}
	candidates := 0
	for _, r := range results {
		out.Matches[r.Stage.ID] = r.Suppliers
		candidates += len(r.Suppliers)
		if len(r.Suppliers) == 0 {
			out.Unmatched = append(out.Unmatched, r.Stage.ID)
		}
	}

	zap.L().With(zap.String("component", "steps"), zap.String("step", string(h.Name()))).Info("match: suppliers ranked",
		zap.String("project_id", proj.ID),
		zap.Int("stages", len(stages)),
		zap.Int("candidates", candidates),
		zap.Int("unmatched", len(out.Unmatched)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return pipeline.Result{Output: out}, nil
}
