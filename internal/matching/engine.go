// Package matching scores and ranks directory suppliers for a stage, relaxing
// geography and then category when too few candidates qualify.
package matching

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/procure-cli/internal/model"
	"github.com/sells-group/procure-cli/internal/store"
)

// Defaults for Engine options.
const (
	DefaultMinScore      = 30.0
	DefaultMinCandidates = 3
	DefaultMaxResults    = 15
	DefaultConcurrency   = 4
)

// Engine ranks suppliers from a directory.
type Engine struct {
	dir           store.SupplierDirectory
	minScore      float64
	minCandidates int
	maxResults    int
	concurrency   int
}

// Option configures an Engine.
type Option func(*Engine)

// WithMinScore sets the qualification threshold.
func WithMinScore(v float64) Option {
	return func(e *Engine) { e.minScore = v }
}

// WithMinCandidates sets how many qualified suppliers stop relaxation.
func WithMinCandidates(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.minCandidates = n
		}
	}
}

// WithMaxResults caps the returned list.
func WithMaxResults(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxResults = n
		}
	}
}

// WithConcurrency bounds how many stages MatchStages scores at once.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// New creates an Engine over dir.
func New(dir store.SupplierDirectory, opts ...Option) *Engine {
	e := &Engine{
		dir:           dir,
		minScore:      DefaultMinScore,
		minCandidates: DefaultMinCandidates,
		maxResults:    DefaultMaxResults,
		concurrency:   DefaultConcurrency,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// FindAndScoreSuppliers returns up to maxResults qualified suppliers for
// stage, best first. The list is exact-category when enough qualify, then
// location-relaxed, then broadened to adjacent categories pool by pool.
func (e *Engine) FindAndScoreSuppliers(ctx context.Context, stage model.Stage, loc model.Location) ([]model.ScoredSupplier, error) {
	log := zap.L().With(
		zap.String("component", "matching"),
		zap.String("stage_id", stage.ID),
		zap.String("category", stage.Category),
	)
	start := time.Now()
	target := model.NormalizeCategory(stage.Category)

	pool, err := e.dir.FindByCategory(ctx, target)
	if err != nil {
		return nil, eris.Wrapf(err, "matching: load pool %s", target)
	}

	exact := scorePool(pool, target, loc, model.TierExact)
	if got := e.qualify(exact); len(got) >= e.minCandidates {
		log.Debug("matching: exact tier sufficient", zap.Int("qualified", len(got)), zap.Duration("elapsed", time.Since(start)))
		return e.truncate(got), nil
	}

	candidates := scorePool(pool, target, loc, model.TierLocationRelaxed)
	results := e.qualify(candidates)
	if len(results) >= e.minCandidates {
		log.Debug("matching: location relaxed", zap.Int("qualified", len(results)), zap.Duration("elapsed", time.Since(start)))
		return e.truncate(results), nil
	}

	seen := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		seen[c.SupplierID] = true
	}
	for _, adj := range Adjacent(target) {
		adjPool, err := e.dir.FindByCategory(ctx, adj)
		if err != nil {
			return nil, eris.Wrapf(err, "matching: load adjacent pool %s", adj)
		}
		for _, c := range scorePool(adjPool, adj, loc, model.TierAdjacent) {
			if seen[c.SupplierID] {
				continue
			}
			seen[c.SupplierID] = true
			candidates = append(candidates, c)
		}
		results = e.qualify(candidates)
		if len(results) >= e.minCandidates {
			break
		}
	}

	log.Debug("matching: category broadened",
		zap.Int("qualified", len(results)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return e.truncate(results), nil
}

// StageMatch is the ranked list for one stage.
type StageMatch struct {
	Stage     model.Stage            `json:"stage"`
	Suppliers []model.ScoredSupplier `json:"suppliers"`
}

// MatchStages runs FindAndScoreSuppliers for each stage concurrently and
// returns results in input order.
func (e *Engine) MatchStages(ctx context.Context, stages []model.Stage, loc model.Location) ([]StageMatch, error) {
	out := make([]StageMatch, len(stages))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, st := range stages {
		g.Go(func() error {
			scored, err := e.FindAndScoreSuppliers(gctx, st, loc)
			if err != nil {
				return eris.Wrapf(err, "matching: stage %s", st.ID)
			}
			out[i] = StageMatch{Stage: st, Suppliers: scored}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Rescore recomputes risk and financial components from fresh signals and
// re-sorts the list. No entry is dropped.
func (e *Engine) Rescore(list []model.ScoredSupplier, signals map[string]model.SupplierSignals) []model.ScoredSupplier {
	out := append([]model.ScoredSupplier(nil), list...)
	for i := range out {
		sig, ok := signals[out[i].SupplierID]
		if !ok {
			continue
		}
		out[i].RiskScore = RiskComponent(sig.RiskScore)
		out[i].FinancialScore = FinancialScore(sig.Rating, sig.Verified)
		out[i].HasTaxDebt = sig.HasTaxDebt
		out[i].TotalScore = Composite(componentsOf(out[i]), sig.HasTaxDebt)
	}
	sortScored(out)
	return out
}

func scorePool(pool []model.Supplier, category string, loc model.Location, tier model.MatchTier) []model.ScoredSupplier {
	out := make([]model.ScoredSupplier, 0, len(pool))
	for _, sup := range pool {
		c := Components{
			Category:  CategoryScore(sup, category),
			Location:  LocationScore(sup, loc),
			Response:  ResponseScore(sup.History),
			Risk:      RiskComponent(sup.RiskScore),
			Financial: FinancialScore(sup.Rating, sup.Verified),
		}
		switch tier {
		case model.TierLocationRelaxed:
			c.Location = 100
		case model.TierAdjacent:
			c.Category *= AdjacentPenalty
		}
		out = append(out, model.ScoredSupplier{
			SupplierID:      sup.ID,
			CompanyName:     sup.CompanyName,
			ContactEmail:    sup.ContactEmail,
			TotalScore:      Composite(c, sup.HasTaxDebt),
			CategoryScore:   c.Category,
			LocationScore:   c.Location,
			ResponseScore:   c.Response,
			RiskScore:       c.Risk,
			FinancialScore:  c.Financial,
			HasTaxDebt:      sup.HasTaxDebt,
			MatchedCategory: category,
			Tier:            tier,
		})
	}
	return out
}

func componentsOf(s model.ScoredSupplier) Components {
	return Components{
		Category:  s.CategoryScore,
		Location:  s.LocationScore,
		Response:  s.ResponseScore,
		Risk:      s.RiskScore,
		Financial: s.FinancialScore,
	}
}

// qualify returns the sorted subset at or above the threshold.
func (e *Engine) qualify(list []model.ScoredSupplier) []model.ScoredSupplier {
	var out []model.ScoredSupplier
	for _, s := range list {
		if s.TotalScore >= e.minScore {
			out = append(out, s)
		}
	}
	sortScored(out)
	return out
}

func (e *Engine) truncate(list []model.ScoredSupplier) []model.ScoredSupplier {
	if len(list) > e.maxResults {
		return list[:e.maxResults]
	}
	return list
}

func sortScored(list []model.ScoredSupplier) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].TotalScore != list[j].TotalScore {
			return list[i].TotalScore > list[j].TotalScore
		}
		if list[i].CompanyName != list[j].CompanyName {
			return list[i].CompanyName < list[j].CompanyName
		}
		return list[i].SupplierID < list[j].SupplierID
	})
}
