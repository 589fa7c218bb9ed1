package intake

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/procure-cli/internal/model"
	"github.com/sells-group/procure-cli/internal/pipeline"
	"github.com/sells-group/procure-cli/internal/store"
)

func fullRegistry() *pipeline.Registry {
	reg := pipeline.NewRegistry()
	for _, step := range model.FullSteps {
		reg.Register(pipeline.HandlerFunc{Step: step, Fn: func(context.Context, *pipeline.StepContext) (pipeline.Result, error) {
			return pipeline.Result{}, nil
		}})
	}
	return reg
}

func TestSubmit_DeclaredStages(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	orch := pipeline.New(st, fullRegistry(), pipeline.Options{})
	svc := NewService(st, orch)

	sub, err := svc.Submit(ctx, ProjectRequest{
		Project: model.Project{OwnerID: "owner-1", Name: "Quai des Docks", Location: model.Location{City: "Nantes"}},
		Stages: []model.Stage{
			{Sequence: 1, Name: "Earthworks", Category: "Excavation"},
			{Sequence: 2, Name: "Frame", Category: "structural steel"},
		},
	})
	require.NoError(t, err)
	require.NotEmpty(t, sub.Project.ID)
	require.Len(t, sub.Stages, 2)
	assert.Equal(t, model.ProcurementActive, sub.Stages[0].ProcurementStatus)

	p, err := orch.GetPipelineStatus(ctx, sub.Pipeline.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PipelineStatusRunning, p.Status)
	assert.Equal(t, model.TriggerProject, p.Trigger)
	assert.Equal(t, model.FullSteps, p.Steps)
	assert.Equal(t, sub.Project.ID, p.ProjectID)
	assert.Equal(t, 1, orch.Stats().Depth)

	stages, err := st.ListStages(ctx, sub.Project.ID)
	require.NoError(t, err)
	assert.Len(t, stages, 2)
}

func TestSubmit_WithoutStages(t *testing.T) {
	st := store.NewMemory()
	orch := pipeline.New(st, fullRegistry(), pipeline.Options{})

	ctx := context.Background()
	sub, err := NewService(st, orch).Submit(ctx, ProjectRequest{
		Project: model.Project{OwnerID: "owner-1", Name: "Depot", Description: "Steel frame warehouse, 2 floors"},
	})
	require.NoError(t, err)
	assert.Empty(t, sub.Stages)

	p, err := orch.GetPipelineStatus(ctx, sub.Pipeline.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PipelineStatusRunning, p.Status)
	assert.Empty(t, p.StageIDs)
}

func TestSubmit_QueueFull(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	orch := pipeline.New(st, fullRegistry(), pipeline.Options{QueueSize: 1})
	svc := NewService(st, orch)
	req := ProjectRequest{Project: model.Project{OwnerID: "owner-1", Name: "Depot"}}

	_, err := svc.Submit(ctx, req)
	require.NoError(t, err)

	sub, err := svc.Submit(ctx, req)
	require.ErrorIs(t, err, pipeline.ErrQueueFull)
	require.NotNil(t, sub)

	p, err := orch.GetPipelineStatus(ctx, sub.Pipeline.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PipelineStatusStepFailed, p.Status)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		req  ProjectRequest
		ok   bool
	}{
		{"valid", ProjectRequest{Project: model.Project{OwnerID: "o", Name: "n"}}, true},
		{"no owner", ProjectRequest{Project: model.Project{Name: "n"}}, false},
		{"blank name", ProjectRequest{Project: model.Project{OwnerID: "o", Name: "  "}}, false},
		{"unnamed stage", ProjectRequest{Project: model.Project{OwnerID: "o", Name: "n"}, Stages: []model.Stage{{Sequence: 1}}}, false},
		{"duplicate sequence", ProjectRequest{
			Project: model.Project{OwnerID: "o", Name: "n"},
			Stages:  []model.Stage{{Sequence: 1, Name: "a"}, {Sequence: 1, Name: "b"}},
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.req)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidProject)
			}
		})
	}
}

func TestSubmit_InvalidPersistsNothing(t *testing.T) {
	st := store.NewMemory()
	svc := NewService(st, pipeline.New(st, fullRegistry(), pipeline.Options{}))

	_, err := svc.Submit(context.Background(), ProjectRequest{Project: model.Project{Name: "n"}})
	require.ErrorIs(t, err, ErrInvalidProject)

	pipelines, err := st.ListPipelines(context.Background(), store.PipelineFilter{})
	require.NoError(t, err)
	assert.Empty(t, pipelines)
}

func TestLoadProjectFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "project.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`owner_id: owner-7
name: Lycée Jules Verne
location:
  city: Angers
  region: Pays de la Loire
quoting_horizon_days: 21
construction_start: 2026-09-01T00:00:00Z
stages:
  - sequence: 1
    name: Demolition
    category: demolition
    planned_duration_days: 10
  - sequence: 2
    name: Roofing
    category: roofing
`), 0o644))

	req, err := LoadProjectFile(path)
	require.NoError(t, err)
	assert.Equal(t, "owner-7", req.OwnerID)
	assert.Equal(t, "Angers", req.Location.City)
	require.NotNil(t, req.QuotingHorizonDays)
	assert.Equal(t, 21, *req.QuotingHorizonDays)
	require.NotNil(t, req.ConstructionStart)
	assert.True(t, req.ConstructionStart.Equal(time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)))
	require.Len(t, req.Stages, 2)
	assert.Equal(t, 10, *req.Stages[0].PlannedDurationDays)

	_, err = LoadProjectFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
