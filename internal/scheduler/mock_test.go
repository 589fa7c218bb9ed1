package scheduler

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/procure-cli/internal/model"
	"github.com/sells-group/procure-cli/internal/pipeline"
)

type mockStarter struct {
	mock.Mock
}

func (m *mockStarter) CreatePipeline(ctx context.Context, req pipeline.CreateRequest) (*model.Pipeline, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Pipeline), args.Error(1)
}

func (m *mockStarter) StartPipeline(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockStarter) CancelPipeline(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}
