// Package steps implements the procurement step handlers run by the
// pipeline orchestrator.
package steps

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/procure-cli/internal/matching"
	"github.com/sells-group/procure-cli/internal/model"
	"github.com/sells-group/procure-cli/internal/parse"
	"github.com/sells-group/procure-cli/internal/pipeline"
	"github.com/sells-group/procure-cli/internal/resilience"
	"github.com/sells-group/procure-cli/internal/store"
	"github.com/sells-group/procure-cli/pkg/enrich"
	"github.com/sells-group/procure-cli/pkg/mailer"
)

const defaultEnrichConcurrency = 4

// Deps are the collaborators shared by the handlers. Extractor, Enricher and
// Mailer may be nil; the steps that need them then fail with a
// configuration error, except ENRICH_COMPANIES which passes matches through.
type Deps struct {
	Projects  store.ProjectStore
	Directory store.SupplierDirectory
	RFQs      store.RFQStore
	Matcher   *matching.Engine

	Extractor parse.Extractor
	Enricher  enrich.Client
	Mailer    mailer.Client
	MailFrom  string

	Breakers          *resilience.ServiceBreakers
	Retry             resilience.RetryConfig
	EnrichConcurrency int
	Await             AwaitPolicy

	Now func() time.Time
}

func (d *Deps) withDefaults() *Deps {
	c := *d
	if c.Breakers == nil {
		c.Breakers = resilience.NewServiceBreakers(resilience.DefaultCircuitBreakerConfig())
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry = resilience.DefaultRetryConfig()
	}
	if c.EnrichConcurrency < 1 {
		c.EnrichConcurrency = defaultEnrichConcurrency
	}
	if c.Await.Mode == "" {
		c.Await = DefaultAwaitPolicy()
	}
	if c.Now == nil {
		c.Now = func() time.Time { return time.Now().UTC() }
	}
	return &c
}

// Set holds one instance of every handler.
type Set struct {
	ParseFiles      *ParseFiles
	ValidateParse   *ValidateParse
	MatchSuppliers  *MatchSuppliers
	EnrichCompanies *EnrichCompanies
	SendRFQs        *SendRFQs
	AwaitBids       *AwaitBids
	CompareBids     *CompareBids
}

// New builds the handler set.
func New(d Deps) *Set {
	deps := d.withDefaults()
	return &Set{
		ParseFiles:      &ParseFiles{d: deps},
		ValidateParse:   &ValidateParse{d: deps},
		MatchSuppliers:  &MatchSuppliers{d: deps},
		EnrichCompanies: &EnrichCompanies{d: deps},
		SendRFQs:        &SendRFQs{d: deps},
		AwaitBids:       &AwaitBids{d: deps},
		CompareBids:     &CompareBids{d: deps},
	}
}

// Registry returns a registry with every handler registered.
func (s *Set) Registry() *pipeline.Registry {
	return pipeline.NewRegistry(
		s.ParseFiles,
		s.ValidateParse,
		s.MatchSuppliers,
		s.EnrichCompanies,
		s.SendRFQs,
		s.AwaitBids,
		s.CompareBids,
	)
}

// project loads the pipeline's project. A pipeline without one, or whose
// project was removed, cannot make progress.
func (d *Deps) project(ctx context.Context, p *model.Pipeline) (*model.Project, error) {
	if p.ProjectID == "" {
		return nil, pipeline.StepFatal(eris.New("steps: pipeline has no project"))
	}
	proj, err := d.Projects.GetProject(ctx, p.ProjectID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, pipeline.StepFatal(err)
	}
	if err != nil {
		return nil, eris.Wrap(err, "steps: load project")
	}
	return proj, nil
}

// scopedStages returns the stages a step works on: the wave's stages, else
// the stages VALIDATE_PARSE marked ACTIVE in this run. Stages promoted later
// belong to their own wave pipeline. The project's current ACTIVE stages are
// used only when VALIDATE_PARSE did not run.
func (d *Deps) scopedStages(ctx context.Context, sc *pipeline.StepContext) ([]model.Stage, error) {
	p := sc.Pipeline
	if len(p.StageIDs) > 0 {
		return d.loadStages(ctx, p.StageIDs)
	}

	var validated ValidateOutput
	found, err := sc.Output(model.StepValidateParse, &validated)
	if err != nil {
		return nil, err
	}
	if found {
		return d.loadStages(ctx, validated.Active)
	}

	all, err := d.Projects.ListStages(ctx, p.ProjectID)
	if err != nil {
		return nil, eris.Wrap(err, "steps: list stages")
	}
	var out []model.Stage
	for _, st := range all {
		if st.ProcurementStatus == model.ProcurementActive {
			out = append(out, st)
		}
	}
	return out, nil
}

func (d *Deps) loadStages(ctx context.Context, ids []string) ([]model.Stage, error) {
	out := make([]model.Stage, 0, len(ids))
	for _, id := range ids {
		st, err := d.Projects.GetStage(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return nil, pipeline.StepFatal(err)
		}
		if err != nil {
			return nil, eris.Wrap(err, "steps: load stage")
		}
		out = append(out, *st)
	}
	return out, nil
}

// matchesFrom returns the freshest supplier ranking: enriched when
// ENRICH_COMPANIES ran, otherwise the raw match.
func matchesFrom(sc *pipeline.StepContext) (map[string][]model.ScoredSupplier, error) {
	var enriched EnrichOutput
	found, err := sc.Output(model.StepEnrichCompanies, &enriched)
	if err != nil {
		return nil, err
	}
	if found {
		return enriched.Matches, nil
	}

	var matched MatchOutput
	found, err = sc.Output(model.StepMatchSuppliers, &matched)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, pipeline.StepFatal(eris.New("steps: no supplier matches recorded; MATCH_SUPPLIERS must run first"))
	}
	return matched.Matches, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func stageIDs(stages []model.Stage) []string {
	ids := make([]string, len(stages))
	for i, st := range stages {
		ids[i] = st.ID
	}
	return ids
}
