package steps

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/procure-cli/internal/matching"
	"github.com/sells-group/procure-cli/internal/model"
	"github.com/sells-group/procure-cli/internal/pipeline"
	"github.com/sells-group/procure-cli/internal/resilience"
	"github.com/sells-group/procure-cli/internal/store"
)

var now = time.Date(2026, 4, 6, 9, 0, 0, 0, time.UTC)

type fixture struct {
	st     *store.MemoryStore
	deps   Deps
	proj   *model.Project
	stages []model.Stage
	pl     *model.Pipeline
}

func intp(v int) *int { return &v }

func floatp(v float64) *float64 { return &v }

func newFixture(t *testing.T, stages ...model.Stage) *fixture {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemory()

	proj := &model.Project{
		ID:                 "proj-1",
		OwnerID:            "owner-1",
		Name:               "Rennes Library",
		Description:        "New public library, three storeys.",
		Location:           model.Location{City: "Rennes", Region: "Bretagne", Country: "FR"},
		QuotingHorizonDays: intp(14),
	}
	require.NoError(t, st.CreateProject(ctx, proj))

	var saved []model.Stage
	if len(stages) > 0 {
		var err error
		saved, err = st.UpsertStages(ctx, proj.ID, stages)
		require.NoError(t, err)
	}

	pl := &model.Pipeline{ID: "pl-1", OwnerID: proj.OwnerID, ProjectID: proj.ID, Steps: model.FullSteps, Status: model.PipelineStatusRunning}
	require.NoError(t, st.CreatePipeline(ctx, pl))

	return &fixture{
		st:     st,
		proj:   proj,
		stages: saved,
		pl:     pl,
		deps: Deps{
			Projects:  st,
			Directory: st,
			RFQs:      st,
			Matcher:   matching.New(st),
			MailFrom:  "rfq@procure.test",
			Retry:     resilience.RetryConfig{MaxAttempts: 1},
			Await:     DefaultAwaitPolicy(),
			Now:       func() time.Time { return now },
		},
	}
}

func (f *fixture) set() *Set { return New(f.deps) }

func (f *fixture) stepContext(t *testing.T, reason model.RunReason, outputs map[model.StepName]any) *pipeline.StepContext {
	t.Helper()
	raw := make(map[model.StepName]json.RawMessage, len(outputs))
	for k, v := range outputs {
		b, err := json.Marshal(v)
		require.NoError(t, err)
		raw[k] = b
	}
	snap := f.pl.Clone()
	snap.Outputs = raw
	return &pipeline.StepContext{Pipeline: snap, Outputs: raw, Reason: reason}
}

func (f *fixture) addSuppliers(t *testing.T, sups ...model.Supplier) {
	t.Helper()
	_, err := f.st.UpsertSuppliers(context.Background(), sups)
	require.NoError(t, err)
}

func plumbing(id, name, email string) model.Supplier {
	return model.Supplier{
		ID:           id,
		CompanyName:  name,
		ContactEmail: email,
		Categories:   []string{model.CategoryPlumbing},
		Location:     model.Location{City: "Rennes", Region: "Bretagne"},
	}
}

func decode[T any](t *testing.T, res pipeline.Result) T {
	t.Helper()
	out, ok := res.Output.(T)
	require.True(t, ok, "output is %T", res.Output)
	return out
}
