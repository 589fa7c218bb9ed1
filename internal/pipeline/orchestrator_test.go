package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/procure-cli/internal/model"
	"github.com/sells-group/procure-cli/internal/store"
)

func succeed(step model.StepName, output any) Handler {
	return HandlerFunc{Step: step, Fn: func(context.Context, *StepContext) (Result, error) {
		return Result{Output: output}, nil
	}}
}

// failFirst fails the first n invocations, then succeeds.
func failFirst(step model.StepName, n int32) (Handler, *atomic.Int32) {
	calls := &atomic.Int32{}
	return HandlerFunc{Step: step, Fn: func(context.Context, *StepContext) (Result, error) {
		if calls.Add(1) <= n {
			return Result{}, errors.New("mailer unavailable")
		}
		return Result{Output: map[string]int{"sent": 3}}, nil
	}}, calls
}

// startWorkers runs the pool until the test ends.
func startWorkers(t *testing.T, o *Orchestrator) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = o.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func waitSettled(t *testing.T, o *Orchestrator, id string) *model.Pipeline {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p, err := o.Wait(ctx, id, 5*time.Millisecond)
	require.NoError(t, err)
	return p
}

func newOrchestrator(st Store, opts Options, hs ...Handler) *Orchestrator {
	return New(st, NewRegistry(hs...), opts)
}

func create(t *testing.T, o *Orchestrator, steps ...model.StepName) *model.Pipeline {
	t.Helper()
	p, err := o.CreatePipeline(context.Background(), CreateRequest{OwnerID: "owner-1", Steps: steps})
	require.NoError(t, err)
	return p
}

func TestCreatePipeline(t *testing.T) {
	o := newOrchestrator(store.NewMemory(), Options{}, succeed(model.StepMatchSuppliers, nil))
	ctx := context.Background()

	_, err := o.CreatePipeline(ctx, CreateRequest{OwnerID: "o"})
	assert.ErrorIs(t, err, ErrNoSteps)

	_, err = o.CreatePipeline(ctx, CreateRequest{OwnerID: "o", Steps: []model.StepName{model.StepMatchSuppliers, "LAUNCH_ROCKET"}})
	assert.ErrorIs(t, err, ErrUnknownStep)

	p, err := o.CreatePipeline(ctx, CreateRequest{OwnerID: "o", Steps: []model.StepName{model.StepMatchSuppliers}})
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, model.PipelineStatusPending, p.Status)
	assert.Equal(t, 0, p.CurrentStepIndex)
	assert.Equal(t, model.TriggerAdmin, p.Trigger)
}

func TestGetPipelineStatus_NotFound(t *testing.T) {
	o := newOrchestrator(store.NewMemory(), Options{})
	_, err := o.GetPipelineStatus(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPipeline_FailThenResume(t *testing.T) {
	send, calls := failFirst(model.StepSendRFQs, 1)
	o := newOrchestrator(store.NewMemory(), Options{Workers: 2},
		succeed(model.StepMatchSuppliers, map[string]int{"matched": 4}), send)
	startWorkers(t, o)
	ctx := context.Background()

	p := create(t, o, model.StepMatchSuppliers, model.StepSendRFQs)
	require.NoError(t, o.StartPipeline(ctx, p.ID))

	got := waitSettled(t, o, p.ID)
	assert.Equal(t, model.PipelineStatusStepFailed, got.Status)
	assert.Equal(t, 1, got.CurrentStepIndex)
	require.NotNil(t, got.LastError)
	assert.Contains(t, *got.LastError, "mailer unavailable")
	require.Len(t, got.StepLog, 2)
	assert.Equal(t, model.OutcomeSucceeded, got.StepLog[0].Outcome)
	assert.Equal(t, model.OutcomeFailed, got.StepLog[1].Outcome)
	assert.Contains(t, got.Outputs, model.StepMatchSuppliers)

	require.NoError(t, o.ResumePipeline(ctx, p.ID))
	got = waitSettled(t, o, p.ID)
	assert.Equal(t, model.PipelineStatusCompleted, got.Status)
	assert.Equal(t, 2, got.CurrentStepIndex)
	assert.Nil(t, got.LastError)
	require.Len(t, got.StepLog, 3)
	assert.Equal(t, model.RunResume, got.StepLog[2].Reason)
	assert.Equal(t, 2, got.StepLog[2].Attempt)
	assert.Equal(t, int32(2), calls.Load())

	for i := 1; i < len(got.StepLog); i++ {
		assert.GreaterOrEqual(t, got.StepLog[i].Index, got.StepLog[i-1].Index)
	}
}

func TestPipeline_StepsSeeEarlierOutputs(t *testing.T) {
	var seen map[string]int
	consumer := HandlerFunc{Step: model.StepSendRFQs, Fn: func(_ context.Context, sc *StepContext) (Result, error) {
		found, err := sc.Output(model.StepMatchSuppliers, &seen)
		if err != nil || !found {
			return Result{}, errors.New("no match output")
		}
		assert.Equal(t, model.RunAdvance, sc.Reason)
		return Result{}, nil
	}}
	o := newOrchestrator(store.NewMemory(), Options{}, succeed(model.StepMatchSuppliers, map[string]int{"stage-1": 5}), consumer)
	startWorkers(t, o)

	p := create(t, o, model.StepMatchSuppliers, model.StepSendRFQs)
	require.NoError(t, o.StartPipeline(context.Background(), p.ID))

	got := waitSettled(t, o, p.ID)
	assert.Equal(t, model.PipelineStatusCompleted, got.Status)
	assert.Equal(t, map[string]int{"stage-1": 5}, seen)
}

func TestStartPipeline_InvalidState(t *testing.T) {
	st := store.NewMemory()
	o := newOrchestrator(st, Options{}, succeed(model.StepMatchSuppliers, nil))
	ctx := context.Background()

	p := create(t, o, model.StepMatchSuppliers)
	require.NoError(t, o.CancelPipeline(ctx, p.ID))

	err := o.StartPipeline(ctx, p.ID)
	assert.ErrorIs(t, err, ErrInvalidState)

	got, err := st.GetPipeline(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PipelineStatusCancelled, got.Status)
}

func TestResumePipeline_IllegalStates(t *testing.T) {
	st := store.NewMemory()
	o := newOrchestrator(st, Options{}, succeed(model.StepMatchSuppliers, nil))
	ctx := context.Background()

	for _, status := range []model.PipelineStatus{
		model.PipelineStatusPending,
		model.PipelineStatusRunning,
		model.PipelineStatusCompleted,
		model.PipelineStatusCancelled,
		model.PipelineStatusFailed,
	} {
		t.Run(string(status), func(t *testing.T) {
			p := create(t, o, model.StepMatchSuppliers)
			p.Status = status
			require.NoError(t, st.UpdatePipeline(ctx, p))
			before, err := st.GetPipeline(ctx, p.ID)
			require.NoError(t, err)

			err = o.ResumePipeline(ctx, p.ID)
			assert.ErrorIs(t, err, ErrInvalidState)

			after, err := st.GetPipeline(ctx, p.ID)
			require.NoError(t, err)
			assert.Equal(t, before.Version, after.Version)
			assert.Equal(t, status, after.Status)
			assert.Zero(t, o.Stats().Depth)
		})
	}
}

func TestCancelPipeline_Idempotent(t *testing.T) {
	st := store.NewMemory()
	o := newOrchestrator(st, Options{}, succeed(model.StepMatchSuppliers, nil))
	ctx := context.Background()

	p := create(t, o, model.StepMatchSuppliers)
	require.NoError(t, o.CancelPipeline(ctx, p.ID))
	first, err := st.GetPipeline(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PipelineStatusCancelled, first.Status)

	require.NoError(t, o.CancelPipeline(ctx, p.ID))
	second, err := st.GetPipeline(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Version, second.Version)

	done := create(t, o, model.StepMatchSuppliers)
	done.Status = model.PipelineStatusCompleted
	require.NoError(t, st.UpdatePipeline(ctx, done))
	require.NoError(t, o.CancelPipeline(ctx, done.ID))
	got, err := st.GetPipeline(ctx, done.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PipelineStatusCompleted, got.Status)
}

func TestCancelPipeline_DuringStep(t *testing.T) {
	started := make(chan struct{})
	blocking := HandlerFunc{Step: model.StepEnrichCompanies, Fn: func(ctx context.Context, _ *StepContext) (Result, error) {
		close(started)
		<-ctx.Done()
		return Result{}, ctx.Err()
	}}
	st := store.NewMemory()
	o := newOrchestrator(st, Options{}, blocking, succeed(model.StepSendRFQs, nil))
	startWorkers(t, o)
	ctx := context.Background()

	p := create(t, o, model.StepEnrichCompanies, model.StepSendRFQs)
	require.NoError(t, o.StartPipeline(ctx, p.ID))
	<-started
	require.NoError(t, o.CancelPipeline(ctx, p.ID))

	require.Eventually(t, func() bool { return o.Stats().InFlight == 0 }, 2*time.Second, 5*time.Millisecond)
	got, err := st.GetPipeline(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PipelineStatusCancelled, got.Status)
	assert.Equal(t, 0, got.CurrentStepIndex)
	assert.Empty(t, got.StepLog)
}

func TestPipeline_AwaitingThenBid(t *testing.T) {
	var calls atomic.Int32
	await := HandlerFunc{Step: model.StepAwaitBids, Fn: func(_ context.Context, sc *StepContext) (Result, error) {
		if calls.Add(1) == 1 {
			return Result{Awaiting: true, Output: map[string]int{"bids": 0}}, nil
		}
		assert.Equal(t, model.RunBid, sc.Reason)
		return Result{Output: map[string]int{"bids": 1}}, nil
	}}
	st := store.NewMemory()
	o := newOrchestrator(st, Options{}, await)
	startWorkers(t, o)
	ctx := context.Background()

	p := create(t, o, model.StepAwaitBids)
	require.NoError(t, o.StartPipeline(ctx, p.ID))
	got := waitSettled(t, o, p.ID)
	assert.Equal(t, model.PipelineStatusAwaiting, got.Status)
	assert.Equal(t, 0, got.CurrentStepIndex)
	assert.Equal(t, model.OutcomeAwaiting, got.StepLog[0].Outcome)

	rfq, err := st.EnsureRFQ(ctx, &model.RFQ{PipelineID: p.ID, StageID: "s1", SupplierID: "sup1"})
	require.NoError(t, err)
	require.NoError(t, o.NotifyBid(ctx, rfq.ID))

	got = waitSettled(t, o, p.ID)
	assert.Equal(t, model.PipelineStatusCompleted, got.Status)
	assert.Equal(t, 1, got.CurrentStepIndex)

	// A bid for a finished pipeline is ignored.
	require.NoError(t, o.NotifyBid(ctx, rfq.ID))
}

func TestPipeline_PanicRecovered(t *testing.T) {
	boom := HandlerFunc{Step: model.StepCompareBids, Fn: func(context.Context, *StepContext) (Result, error) {
		panic("nil bid")
	}}
	o := newOrchestrator(store.NewMemory(), Options{}, boom)
	startWorkers(t, o)

	p := create(t, o, model.StepCompareBids)
	require.NoError(t, o.StartPipeline(context.Background(), p.ID))

	got := waitSettled(t, o, p.ID)
	assert.Equal(t, model.PipelineStatusStepFailed, got.Status)
	require.NotNil(t, got.LastError)
	assert.Contains(t, *got.LastError, "panicked")
}

func TestPipeline_FatalAndMaxAttempts(t *testing.T) {
	t.Run("fatal", func(t *testing.T) {
		fatal := HandlerFunc{Step: model.StepParseFiles, Fn: func(context.Context, *StepContext) (Result, error) {
			return Result{}, StepFatal(errors.New("project gone"))
		}}
		o := newOrchestrator(store.NewMemory(), Options{}, fatal)
		startWorkers(t, o)
		p := create(t, o, model.StepParseFiles)
		require.NoError(t, o.StartPipeline(context.Background(), p.ID))

		got := waitSettled(t, o, p.ID)
		assert.Equal(t, model.PipelineStatusFailed, got.Status)
		assert.ErrorIs(t, o.ResumePipeline(context.Background(), p.ID), ErrInvalidState)
	})

	t.Run("max attempts", func(t *testing.T) {
		send, _ := failFirst(model.StepSendRFQs, 10)
		o := newOrchestrator(store.NewMemory(), Options{MaxStepAttempts: 2}, send)
		startWorkers(t, o)
		ctx := context.Background()
		p := create(t, o, model.StepSendRFQs)
		require.NoError(t, o.StartPipeline(ctx, p.ID))

		got := waitSettled(t, o, p.ID)
		assert.Equal(t, model.PipelineStatusStepFailed, got.Status)

		require.NoError(t, o.ResumePipeline(ctx, p.ID))
		got = waitSettled(t, o, p.ID)
		assert.Equal(t, model.PipelineStatusFailed, got.Status)
		assert.Len(t, got.StepLog, 2)
	})
}

// racingStore lets another writer update a pipeline between the
// orchestrator's read and its write.
type racingStore struct {
	*store.MemoryStore
	once sync.Once
	race func(ctx context.Context)
}

func (r *racingStore) UpdatePipeline(ctx context.Context, p *model.Pipeline) error {
	r.once.Do(func() { r.race(ctx) })
	return r.MemoryStore.UpdatePipeline(ctx, p)
}

func TestResumePipeline_ConcurrentConflict(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()

	p := &model.Pipeline{OwnerID: "o", Steps: []model.StepName{model.StepSendRFQs}, Status: model.PipelineStatusStepFailed}
	require.NoError(t, mem.CreatePipeline(ctx, p))

	rs := &racingStore{MemoryStore: mem}
	rs.race = func(ctx context.Context) {
		other, err := mem.GetPipeline(ctx, p.ID)
		require.NoError(t, err)
		other.Status = model.PipelineStatusRunning
		require.NoError(t, mem.UpdatePipeline(ctx, other))
	}
	o := newOrchestrator(rs, Options{}, succeed(model.StepSendRFQs, nil))

	err := o.ResumePipeline(ctx, p.ID)
	assert.ErrorIs(t, err, store.ErrConflict)
	assert.Zero(t, o.Stats().Depth)
}

func TestEnqueue_QueueFullRecordsFailure(t *testing.T) {
	st := store.NewMemory()
	o := newOrchestrator(st, Options{QueueSize: 1}, succeed(model.StepMatchSuppliers, nil))
	ctx := context.Background()

	a := create(t, o, model.StepMatchSuppliers)
	b := create(t, o, model.StepMatchSuppliers)
	require.NoError(t, o.StartPipeline(ctx, a.ID))

	err := o.StartPipeline(ctx, b.ID)
	assert.ErrorIs(t, err, ErrQueueFull)

	got, err := st.GetPipeline(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PipelineStatusStepFailed, got.Status)
	require.NotNil(t, got.LastError)
	assert.Contains(t, *got.LastError, "queue is full")
	assert.Equal(t, int64(1), o.Stats().Rejected)
}

func TestResumeExpired(t *testing.T) {
	st := store.NewMemory()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	var calls atomic.Int32
	await := HandlerFunc{Step: model.StepAwaitBids, Fn: func(_ context.Context, sc *StepContext) (Result, error) {
		if calls.Add(1) <= 2 {
			return Result{Awaiting: true}, nil
		}
		assert.Equal(t, model.RunDeadline, sc.Reason)
		return Result{}, nil
	}}
	deadlines := map[string]time.Time{}
	o := New(st, NewRegistry(await), Options{
		Deadline: func(_ context.Context, p *model.Pipeline) (time.Time, bool, error) {
			d, ok := deadlines[p.ID]
			return d, ok, nil
		},
	})
	startWorkers(t, o)
	ctx := context.Background()

	expired := create(t, o, model.StepAwaitBids)
	pendingBids := create(t, o, model.StepAwaitBids)
	deadlines[expired.ID] = now.Add(-time.Hour)
	deadlines[pendingBids.ID] = now.Add(time.Hour)
	require.NoError(t, o.StartPipeline(ctx, expired.ID))
	require.NoError(t, o.StartPipeline(ctx, pendingBids.ID))
	waitSettled(t, o, expired.ID)
	waitSettled(t, o, pendingBids.ID)

	n, err := o.ResumeExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got := waitSettled(t, o, expired.ID)
	assert.Equal(t, model.PipelineStatusCompleted, got.Status)
	still, err := st.GetPipeline(ctx, pendingBids.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PipelineStatusAwaiting, still.Status)
}

func TestRecover(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	p := &model.Pipeline{OwnerID: "o", Steps: []model.StepName{model.StepMatchSuppliers}, Status: model.PipelineStatusRunning}
	require.NoError(t, st.CreatePipeline(ctx, p))

	o := newOrchestrator(st, Options{}, succeed(model.StepMatchSuppliers, nil))
	n, err := o.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	startWorkers(t, o)
	got := waitSettled(t, o, p.ID)
	assert.Equal(t, model.PipelineStatusCompleted, got.Status)
	assert.Equal(t, model.RunRecover, got.StepLog[0].Reason)
}
