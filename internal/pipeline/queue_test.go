package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/procure-cli/internal/model"
)

func TestQueue_SubmitFull(t *testing.T) {
	q := NewQueue(2)
	require.NoError(t, q.Submit("a", model.RunStart))
	require.NoError(t, q.Submit("b", model.RunStart))
	assert.ErrorIs(t, q.Submit("c", model.RunStart), ErrQueueFull)

	s := q.Stats()
	assert.Equal(t, 2, s.Depth)
	assert.Equal(t, 2, s.Capacity)
	assert.Equal(t, int64(1), s.Rejected)
}

func TestQueue_DedupesQueued(t *testing.T) {
	q := NewQueue(4)
	require.NoError(t, q.Submit("a", model.RunStart))
	require.NoError(t, q.Submit("a", model.RunResume))
	assert.Equal(t, 1, q.Stats().Depth)

	id, reason, ok := q.next(context.Background())
	require.True(t, ok)
	assert.Equal(t, "a", id)
	assert.Equal(t, model.RunResume, reason)
}

func TestQueue_RerunWhileExecuting(t *testing.T) {
	q := NewQueue(1)
	require.NoError(t, q.Submit("a", model.RunStart))
	_, _, ok := q.next(context.Background())
	require.True(t, ok)
	assert.Equal(t, 1, q.Stats().InFlight)

	// Executing ids do not take queue capacity.
	require.NoError(t, q.Submit("a", model.RunBid))
	require.NoError(t, q.Submit("b", model.RunStart))

	reason, again := q.finish("a")
	assert.True(t, again)
	assert.Equal(t, model.RunBid, reason)

	_, again = q.finish("a")
	assert.False(t, again)
	s := q.Stats()
	assert.Zero(t, s.InFlight)
	assert.Equal(t, int64(2), s.Processed)
}

func TestQueue_NextStopsOnCancel(t *testing.T) {
	q := NewQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, _, ok := q.next(ctx)
	assert.False(t, ok)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(succeed(model.StepMatchSuppliers, nil), succeed(model.StepSendRFQs, nil))
	r.Register(succeed(model.StepMatchSuppliers, "replaced"))

	assert.Equal(t, []model.StepName{model.StepMatchSuppliers, model.StepSendRFQs}, r.Names())
	_, err := r.Get(model.StepAwaitBids)
	assert.ErrorIs(t, err, ErrUnknownStep)
	assert.ErrorIs(t, r.Validate(nil), ErrNoSteps)
	assert.NoError(t, r.Validate([]model.StepName{model.StepSendRFQs, model.StepMatchSuppliers}))
}

func TestStepFatal(t *testing.T) {
	assert.Nil(t, StepFatal(nil))
	err := StepFatal(ErrInvalidState)
	assert.True(t, IsFatal(err))
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.False(t, IsFatal(ErrInvalidState))
}
