package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/procure-cli/internal/model"
	"github.com/sells-group/procure-cli/internal/pipeline"
	"github.com/sells-group/procure-cli/internal/store"
)

var today = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC) // a Monday

func days(n int) *time.Time {
	t := today.AddDate(0, 0, n)
	return &t
}

func intp(v int) *int { return &v }

func deferred(seq int, start *time.Time) model.Stage {
	return model.Stage{
		Sequence:          seq,
		Name:              "stage",
		Category:          model.CategoryConcrete,
		ProcurementStatus: model.ProcurementDeferred,
		PlannedStartDate:  start,
	}
}

func seedProject(t *testing.T, st *store.MemoryStore, id string, horizon *int, stages ...model.Stage) []model.Stage {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.CreateProject(ctx, &model.Project{ID: id, OwnerID: "owner-" + id, Name: id, QuotingHorizonDays: horizon}))
	saved, err := st.UpsertStages(ctx, id, stages)
	require.NoError(t, err)
	return saved
}

func TestSelectPromotable(t *testing.T) {
	active := deferred(4, days(1))
	active.ProcurementStatus = model.ProcurementActive
	stages := []model.Stage{
		deferred(1, days(14)),
		deferred(2, days(15)),
		deferred(3, nil),
		active,
		deferred(5, days(-3)),
	}

	got := SelectPromotable(stages, today, 14)
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].Sequence)
	assert.Equal(t, 5, got[1].Sequence)
}

func TestSelectPromotable_IgnoresTimeOfDay(t *testing.T) {
	late := today.AddDate(0, 0, 7).Add(23 * time.Hour)
	got := SelectPromotable([]model.Stage{deferred(1, &late)}, today.Add(9*time.Hour), 7)
	assert.Len(t, got, 1)
}

func TestInferTimeline(t *testing.T) {
	stages := []model.Stage{
		{Sequence: 3, Name: "finishes"},
		{Sequence: 1, Name: "foundations", PlannedDurationDays: intp(10)},
		{Sequence: 2, Name: "frame", PlannedDurationDays: intp(0)},
	}
	start := time.Date(2026, 5, 4, 15, 30, 0, 0, time.UTC)

	got := InferTimeline(stages, start)
	require.Len(t, got, 3)
	assert.Equal(t, "foundations", got[0].Name)
	assert.Equal(t, time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC), *got[0].PlannedStartDate)
	assert.Equal(t, time.Date(2026, 5, 14, 0, 0, 0, 0, time.UTC), *got[1].PlannedStartDate)
	// A zero-day stage does not advance the cursor.
	assert.Equal(t, time.Date(2026, 5, 14, 0, 0, 0, 0, time.UTC), *got[2].PlannedStartDate)

	assert.Nil(t, stages[0].PlannedStartDate)
}

func TestTimeline_Apply(t *testing.T) {
	st := store.NewMemory()
	seedProject(t, st, "p1", intp(14), deferred(1, nil), deferred(2, nil))
	ctx := context.Background()

	dated, err := NewTimeline(st).Apply(ctx, "p1", today)
	require.NoError(t, err)
	require.Len(t, dated, 2)

	stages, err := st.ListStages(ctx, "p1")
	require.NoError(t, err)
	require.NotNil(t, stages[1].PlannedStartDate)
	assert.Equal(t, today.AddDate(0, 0, 30), *stages[1].PlannedStartDate)

	p, err := st.GetProject(ctx, "p1")
	require.NoError(t, err)
	require.NotNil(t, p.ConstructionStart)
	assert.Equal(t, today, *p.ConstructionStart)

	_, err = NewTimeline(st).Apply(ctx, "missing", today)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func waveRegistry() *pipeline.Registry {
	reg := pipeline.NewRegistry()
	for _, s := range model.WaveSteps {
		reg.Register(pipeline.HandlerFunc{Step: s, Fn: func(context.Context, *pipeline.StepContext) (pipeline.Result, error) {
			return pipeline.Result{}, nil
		}})
	}
	return reg
}

func TestTick_PromotesAndSpawnsWave(t *testing.T) {
	st := store.NewMemory()
	saved := seedProject(t, st, "p1", intp(14), deferred(1, days(10)), deferred(2, days(40)))
	orch := pipeline.New(st, waveRegistry(), pipeline.Options{})
	ctx := context.Background()

	res, err := NewReactivator(st, orch).Tick(ctx, today)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Projects)
	assert.Equal(t, 1, res.Promoted)
	require.Len(t, res.Waves, 1)
	assert.Equal(t, []string{saved[0].ID}, res.Waves[0].StageIDs)

	stages, err := st.ListStages(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, model.ProcurementActive, stages[0].ProcurementStatus)
	assert.Equal(t, model.ProcurementDeferred, stages[1].ProcurementStatus)

	wave, err := st.GetPipeline(ctx, res.Waves[0].PipelineID)
	require.NoError(t, err)
	assert.Equal(t, model.WaveSteps, wave.Steps)
	assert.Len(t, wave.Steps, 5)
	assert.Equal(t, model.StepMatchSuppliers, wave.Steps[0])
	assert.Equal(t, model.TriggerWave, wave.Trigger)
	assert.Equal(t, "owner-p1", wave.OwnerID)
	assert.Equal(t, model.PipelineStatusRunning, wave.Status)
	assert.Equal(t, 1, orch.Stats().Depth)

	// Nothing further is due on the same day.
	again, err := NewReactivator(st, orch).Tick(ctx, today)
	require.NoError(t, err)
	assert.Empty(t, again.Waves)
}

func TestTick_HorizonBoundary(t *testing.T) {
	st := store.NewMemory()
	seedProject(t, st, "edge", intp(14), deferred(1, days(14)))
	seedProject(t, st, "late", intp(14), deferred(1, days(15)))
	orch := pipeline.New(st, waveRegistry(), pipeline.Options{})

	res, err := NewReactivator(st, orch).Tick(context.Background(), today)
	require.NoError(t, err)
	require.Len(t, res.Waves, 1)
	assert.Equal(t, "edge", res.Waves[0].ProjectID)
}

func TestTick_IsolatesProjectFailures(t *testing.T) {
	st := store.NewMemory()
	seedProject(t, st, "a", intp(7), deferred(1, days(1)))
	seedProject(t, st, "b", intp(7), deferred(1, days(2)))
	ctx := context.Background()

	starter := &mockStarter{}
	starter.On("CreatePipeline", mock.Anything, mock.MatchedBy(func(r pipeline.CreateRequest) bool { return r.ProjectID == "a" })).
		Return(nil, errors.New("store unavailable"))
	starter.On("CreatePipeline", mock.Anything, mock.MatchedBy(func(r pipeline.CreateRequest) bool { return r.ProjectID == "b" })).
		Return(&model.Pipeline{ID: "wave-b"}, nil)
	starter.On("StartPipeline", mock.Anything, "wave-b").Return(nil)

	res, err := NewReactivator(st, starter).Tick(ctx, today)
	require.NoError(t, err)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "a", res.Failures[0].ProjectID)
	require.Len(t, res.Waves, 1)
	assert.Equal(t, "wave-b", res.Waves[0].PipelineID)

	aStages, err := st.ListStages(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, model.ProcurementDeferred, aStages[0].ProcurementStatus)
	starter.AssertExpectations(t)
}

func TestTick_StartFailureCancelsWave(t *testing.T) {
	st := store.NewMemory()
	seedProject(t, st, "a", intp(7), deferred(1, days(1)))
	ctx := context.Background()

	starter := &mockStarter{}
	starter.On("CreatePipeline", mock.Anything, mock.Anything).Return(&model.Pipeline{ID: "wave-a"}, nil)
	starter.On("StartPipeline", mock.Anything, "wave-a").Return(errors.New("boom"))
	starter.On("CancelPipeline", mock.Anything, "wave-a").Return(nil)

	res, err := NewReactivator(st, starter).Tick(ctx, today)
	require.NoError(t, err)
	assert.Len(t, res.Failures, 1)
	assert.Empty(t, res.Waves)

	stages, err := st.ListStages(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, model.ProcurementDeferred, stages[0].ProcurementStatus)
	starter.AssertExpectations(t)
}

func TestNextRun(t *testing.T) {
	at := Clock{Hour: 6, Minute: 0}
	paris, err := time.LoadLocation("Europe/Paris")
	require.NoError(t, err)
	holidays, err := ParseHolidays([]string{"2026-03-09"})
	require.NoError(t, err)

	tests := []struct {
		name string
		now  time.Time
		loc  *time.Location
		want time.Time
	}{
		{
			name: "before run time on a weekday",
			now:  time.Date(2026, 3, 3, 5, 0, 0, 0, time.UTC),
			loc:  time.UTC,
			want: time.Date(2026, 3, 3, 6, 0, 0, 0, time.UTC),
		},
		{
			name: "exactly at run time moves to next day",
			now:  time.Date(2026, 3, 3, 6, 0, 0, 0, time.UTC),
			loc:  time.UTC,
			want: time.Date(2026, 3, 4, 6, 0, 0, 0, time.UTC),
		},
		{
			name: "friday evening skips the weekend and the monday holiday",
			now:  time.Date(2026, 3, 6, 18, 0, 0, 0, time.UTC),
			loc:  time.UTC,
			want: time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC),
		},
		{
			name: "timezone",
			now:  time.Date(2026, 3, 3, 5, 30, 0, 0, time.UTC),
			loc:  paris,
			want: time.Date(2026, 3, 4, 6, 0, 0, 0, paris),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextRun(tt.now, at, tt.loc, holidays)
			assert.True(t, tt.want.Equal(got), "want %s got %s", tt.want, got)
		})
	}
}

func TestParseClockAndHolidays(t *testing.T) {
	c, err := ParseClock("07:45")
	require.NoError(t, err)
	assert.Equal(t, Clock{Hour: 7, Minute: 45}, c)

	_, err = ParseClock("7pm")
	assert.Error(t, err)

	_, err = ParseHolidays([]string{"03/09/2026"})
	assert.Error(t, err)

	assert.False(t, IsBusinessDay(time.Date(2026, 3, 7, 0, 0, 0, 0, time.UTC), nil))
	assert.True(t, IsBusinessDay(today, nil))
}
