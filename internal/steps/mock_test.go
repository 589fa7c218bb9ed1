package steps

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/procure-cli/internal/model"
)

type mockExtractor struct {
	mock.Mock
}

func (m *mockExtractor) Extract(ctx context.Context, project model.Project) ([]model.Stage, error) {
	args := m.Called(ctx, project)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Stage), args.Error(1)
}
