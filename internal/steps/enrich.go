package steps

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/procure-cli/internal/model"
	"github.com/sells-group/procure-cli/internal/pipeline"
	"github.com/sells-group/procure-cli/internal/resilience"
	"github.com/sells-group/procure-cli/pkg/enrich"
)

// EnrichOutput carries the matches rescored with fresh signals.
type EnrichOutput struct {
	Matches  map[string][]model.ScoredSupplier `json:"matches"`
	Enriched int                               `json:"enriched"`
	Unknown  int                               `json:"unknown"`
	Skipped  bool                              `json:"skipped,omitempty"`
}

// EnrichCompanies fetches trust signals for every matched supplier, stores
// them and rescores the matches.
type EnrichCompanies struct {
	d *Deps
}

// Name implements pipeline.Handler.
func (h *EnrichCompanies) Name() model.StepName { return model.StepEnrichCompanies }

// Execute implements pipeline.Handler.
func (h *EnrichCompanies) Execute(ctx context.Context, sc *pipeline.StepContext) (pipeline.Result, error) {
	log := zap.L().With(zap.String("component", "steps"), zap.String("step", string(h.Name())), zap.String("pipeline_id", sc.Pipeline.ID))

	var matched MatchOutput
	found, err := sc.Output(model.StepMatchSuppliers, &matched)
	if err != nil {
		return pipeline.Result{}, err
	}
	if !found {
		return pipeline.Result{}, pipeline.StepFatal(eris.New("enrich: MATCH_SUPPLIERS must run first"))
	}
	if h.d.Enricher == nil {
		log.Warn("enrich: no provider configured, keeping match scores")
		return pipeline.Result{Output: EnrichOutput{Matches: matched.Matches, Skipped: true}}, nil
	}

	ids := distinctSuppliers(matched.Matches)
	start := time.Now()

	var (
		mu      sync.Mutex
		signals = make(map[string]model.SupplierSignals, len(ids))
		unknown int
	)
	breaker := h.d.Breakers.Get("enrich")
	retry := h.d.Retry
	retry.OnRetry = resilience.RetryLogger("enrich", "lookup")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.d.EnrichConcurrency)
	for _, id := range ids {
		g.Go(func() error {
			sup, err := h.d.Directory.GetSupplier(gctx, id)
			if err != nil {
				return eris.Wrapf(err, "enrich: load supplier %s", id)
			}
			res, err := resilience.Call(gctx, breaker, retry, func(ctx context.Context) (*enrich.Signals, error) {
				return h.d.Enricher.Lookup(ctx, enrich.LookupRequest{
					CompanyName:  sup.CompanyName,
					Website:      sup.Website,
					Country:      sup.Location.Country,
					IndustryCode: sup.IndustryCode,
				})
			})
			if err != nil {
				return eris.Wrapf(err, "enrich: lookup %s", sup.CompanyName)
			}
			if res == nil {
				mu.Lock()
				unknown++
				mu.Unlock()
				return nil
			}

			sig := model.SupplierSignals{
				SupplierID: id,
				RiskScore:  res.RiskScore,
				Rating:     res.Rating,
				Verified:   res.Verified,
				HasTaxDebt: res.HasTaxDebt,
				FetchedAt:  h.d.Now(),
			}
			if err := h.d.Directory.UpsertSignals(gctx, sig); err != nil {
				return eris.Wrapf(err, "enrich: save signals for %s", id)
			}
			mu.Lock()
			signals[id] = sig
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return pipeline.Result{}, err
	}

	out := EnrichOutput{
		Matches:  make(map[string][]model.ScoredSupplier, len(matched.Matches)),
		Enriched: len(signals),
		Unknown:  unknown,
	}
	for stageID, list := range matched.Matches {
		out.Matches[stageID] = h.d.Matcher.Rescore(list, signals)
	}

	log.Info("enrich: signals applied",
		zap.Int("suppliers", len(ids)),
		zap.Int("enriched", out.Enriched),
		zap.Int("unknown", out.Unknown),
		zap.Duration("elapsed", time.Since(start)),
	)
	return pipeline.Result{Output: out}, nil
}

func distinctSuppliers(matches map[string][]model.ScoredSupplier) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, stageID := range sortedKeys(matches) {
		for _, s := range matches[stageID] {
			if !seen[s.SupplierID] {
				seen[s.SupplierID] = true
				ids = append(ids, s.SupplierID)
			}
		}
	}
	return ids
}
