package monitoring

import (
	"context"

	"github.com/sells-group/procure-cli/internal/model"
	"github.com/sells-group/procure-cli/internal/pipeline"
	"github.com/sells-group/procure-cli/internal/store"
)

// mockStore implements store.PipelineStore over a fixed slice.
type mockStore struct {
	pipelines []model.Pipeline
	listErr   error
}

func (m *mockStore) ListPipelines(_ context.Context, filter store.PipelineFilter) ([]model.Pipeline, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []model.Pipeline
	for _, p := range m.pipelines {
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (m *mockStore) CreatePipeline(context.Context, *model.Pipeline) error { return nil }
func (m *mockStore) GetPipeline(context.Context, string) (*model.Pipeline, error) {
	return nil, store.ErrNotFound
}
func (m *mockStore) UpdatePipeline(context.Context, *model.Pipeline) error { return nil }

type fixedQueue pipeline.QueueStats

func (q fixedQueue) Stats() pipeline.QueueStats { return pipeline.QueueStats(q) }

type fixedBreakers map[string]string

func (b fixedBreakers) States() map[string]string { return b }
