// Package pipeline runs procurement pipelines: an ordered list of steps
// advanced by a bounded worker pool, persisted after every step under an
// optimistic version check.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/procure-cli/internal/model"
	"github.com/sells-group/procure-cli/internal/store"
)

const (
	defaultWorkers   = 4
	defaultQueueSize = 256
	commitAttempts   = 3
)

// Store is the persistence the orchestrator needs.
type Store interface {
	store.PipelineStore
	GetRFQ(ctx context.Context, id string) (*model.RFQ, error)
}

// DeadlineFunc returns when an awaiting pipeline should be resumed by the
// deadline sweep. ok is false when the pipeline has no deadline.
type DeadlineFunc func(ctx context.Context, p *model.Pipeline) (deadline time.Time, ok bool, err error)

// CreateRequest describes a new pipeline.
type CreateRequest struct {
	OwnerID   string           `json:"owner_id"`
	ProjectID string           `json:"project_id,omitempty"`
	StageIDs  []string         `json:"stage_ids,omitempty"`
	Steps     []model.StepName `json:"steps"`
	Trigger   model.Trigger    `json:"trigger,omitempty"`
}

// Options configures an Orchestrator.
type Options struct {
	Workers         int
	QueueSize       int
	MaxStepAttempts int // 0 = unlimited
	Deadline        DeadlineFunc
	Now             func() time.Time
}

// Orchestrator owns pipeline state transitions and the worker pool.
type Orchestrator struct {
	store    Store
	registry *Registry
	queue    *Queue
	opts     Options

	mu      sync.Mutex
	locks   map[string]*pipelineLock
	cancels map[string]context.CancelFunc
}

type pipelineLock struct {
	mu   sync.Mutex
	refs int
}

// New creates an orchestrator. Call Run to start the workers.
func New(st Store, reg *Registry, opts Options) *Orchestrator {
	if opts.Workers < 1 {
		opts.Workers = defaultWorkers
	}
	if opts.QueueSize < 1 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Orchestrator{
		store:    st,
		registry: reg,
		queue:    NewQueue(opts.QueueSize),
		opts:     opts,
		locks:    make(map[string]*pipelineLock),
		cancels:  make(map[string]context.CancelFunc),
	}
}

// Registry returns the step registry.
func (o *Orchestrator) Registry() *Registry { return o.registry }

// Stats returns task queue counters.
func (o *Orchestrator) Stats() QueueStats {
	s := o.queue.Stats()
	s.Workers = o.opts.Workers
	return s
}

// CreatePipeline validates the step list and persists a PENDING pipeline.
func (o *Orchestrator) CreatePipeline(ctx context.Context, req CreateRequest) (*model.Pipeline, error) {
	if err := o.registry.Validate(req.Steps); err != nil {
		return nil, err
	}
	trigger := req.Trigger
	if trigger == "" {
		trigger = model.TriggerAdmin
	}

	now := o.opts.Now()
	p := &model.Pipeline{
		ID:        uuid.New().String(),
		OwnerID:   req.OwnerID,
		ProjectID: req.ProjectID,
		StageIDs:  append([]string(nil), req.StageIDs...),
		Trigger:   trigger,
		Steps:     append([]model.StepName(nil), req.Steps...),
		Status:    model.PipelineStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if len(p.StageIDs) == 0 {
		p.StageIDs = nil
	}
	if err := o.store.CreatePipeline(ctx, p); err != nil {
		return nil, eris.Wrap(err, "pipeline: create")
	}

	zap.L().With(zap.String("component", "pipeline")).Info("pipeline: created",
		zap.String("pipeline_id", p.ID),
		zap.String("project_id", p.ProjectID),
		zap.String("trigger", string(p.Trigger)),
		zap.Int("steps", len(p.Steps)),
	)
	return p, nil
}

// StartPipeline moves a PENDING pipeline to RUNNING and enqueues it.
func (o *Orchestrator) StartPipeline(ctx context.Context, id string) error {
	p, err := o.store.GetPipeline(ctx, id)
	if err != nil {
		return err
	}
	if p.Status != model.PipelineStatusPending {
		return eris.Wrapf(ErrInvalidState, "start pipeline %s in status %s", id, p.Status)
	}
	p.Status = model.PipelineStatusRunning
	p.UpdatedAt = o.opts.Now()
	if err := o.store.UpdatePipeline(ctx, p); err != nil {
		return err
	}
	return o.enqueue(ctx, p, model.RunStart)
}

// ResumePipeline moves a STEP_FAILED or AWAITING_EXTERNAL pipeline back to
// RUNNING and enqueues it. A concurrent resume of the same pipeline fails
// with store.ErrConflict.
func (o *Orchestrator) ResumePipeline(ctx context.Context, id string) error {
	return o.resume(ctx, id, model.RunResume)
}

func (o *Orchestrator) resume(ctx context.Context, id string, reason model.RunReason) error {
	p, err := o.store.GetPipeline(ctx, id)
	if err != nil {
		return err
	}
	if !p.Status.Resumable() {
		return eris.Wrapf(ErrInvalidState, "resume pipeline %s in status %s", id, p.Status)
	}
	p.Status = model.PipelineStatusRunning
	p.LastError = nil
	p.UpdatedAt = o.opts.Now()
	if err := o.store.UpdatePipeline(ctx, p); err != nil {
		return err
	}

	zap.L().With(zap.String("component", "pipeline")).Info("pipeline: resumed",
		zap.String("pipeline_id", id),
		zap.String("reason", string(reason)),
		zap.Int("index", p.CurrentStepIndex),
	)
	return o.enqueue(ctx, p, reason)
}

// CancelPipeline moves a non-terminal pipeline to CANCELLED and cancels any
// step in flight. Cancelling a terminal pipeline is a no-op.
func (o *Orchestrator) CancelPipeline(ctx context.Context, id string) error {
	for attempt := 0; ; attempt++ {
		p, err := o.store.GetPipeline(ctx, id)
		if err != nil {
			return err
		}
		if p.Status.Terminal() {
			return nil
		}
		p.Status = model.PipelineStatusCancelled
		p.UpdatedAt = o.opts.Now()
		err = o.store.UpdatePipeline(ctx, p)
		if err == nil {
			break
		}
		if !errors.Is(err, store.ErrConflict) || attempt+1 >= commitAttempts {
			return err
		}
	}

	o.mu.Lock()
	cancel := o.cancels[id]
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	zap.L().With(zap.String("component", "pipeline")).Info("pipeline: cancelled", zap.String("pipeline_id", id))
	return nil
}

// GetPipelineStatus returns a snapshot of the pipeline.
func (o *Orchestrator) GetPipelineStatus(ctx context.Context, id string) (*model.Pipeline, error) {
	return o.store.GetPipeline(ctx, id)
}

// NotifyBid resumes the pipeline owning rfqID when it is awaiting bids.
// Any other state is left alone.
func (o *Orchestrator) NotifyBid(ctx context.Context, rfqID string) error {
	rfq, err := o.store.GetRFQ(ctx, rfqID)
	if err != nil {
		return err
	}
	p, err := o.store.GetPipeline(ctx, rfq.PipelineID)
	if err != nil {
		return err
	}
	if p.Status != model.PipelineStatusAwaiting {
		return nil
	}
	err = o.resume(ctx, p.ID, model.RunBid)
	if errors.Is(err, store.ErrConflict) || errors.Is(err, ErrInvalidState) {
		return nil
	}
	return err
}

// ResumeExpired resumes awaiting pipelines whose deadline is at or before
// now, and returns how many were resumed.
func (o *Orchestrator) ResumeExpired(ctx context.Context, now time.Time) (int, error) {
	if o.opts.Deadline == nil {
		return 0, nil
	}
	log := zap.L().With(zap.String("component", "pipeline"))

	awaiting, err := o.store.ListPipelines(ctx, store.PipelineFilter{Status: model.PipelineStatusAwaiting})
	if err != nil {
		return 0, eris.Wrap(err, "pipeline: list awaiting")
	}

	resumed := 0
	for i := range awaiting {
		p := &awaiting[i]
		deadline, ok, err := o.opts.Deadline(ctx, p)
		if err != nil {
			log.Warn("pipeline: deadline lookup failed", zap.String("pipeline_id", p.ID), zap.Error(err))
			continue
		}
		if !ok || now.Before(deadline) {
			continue
		}
		err = o.resume(ctx, p.ID, model.RunDeadline)
		switch {
		case err == nil:
			resumed++
		case errors.Is(err, store.ErrConflict), errors.Is(err, ErrInvalidState):
		default:
			log.Warn("pipeline: deadline resume failed", zap.String("pipeline_id", p.ID), zap.Error(err))
		}
	}
	return resumed, nil
}

// Recover re-enqueues pipelines persisted as RUNNING, typically after a
// restart, and returns how many were queued.
func (o *Orchestrator) Recover(ctx context.Context) (int, error) {
	running, err := o.store.ListPipelines(ctx, store.PipelineFilter{Status: model.PipelineStatusRunning})
	if err != nil {
		return 0, eris.Wrap(err, "pipeline: list running")
	}
	n := 0
	for i := range running {
		if err := o.enqueue(ctx, &running[i], model.RunRecover); err != nil {
			zap.L().With(zap.String("component", "pipeline")).Warn("pipeline: recover enqueue failed",
				zap.String("pipeline_id", running[i].ID), zap.Error(err))
			continue
		}
		n++
	}
	return n, nil
}

// Run starts the worker pool and blocks until ctx is done. Steps in flight
// finish before Run returns; queued pipelines stay RUNNING for Recover.
func (o *Orchestrator) Run(ctx context.Context) error {
	log := zap.L().With(zap.String("component", "pipeline"))
	log.Info("pipeline: workers starting", zap.Int("workers", o.opts.Workers))

	var wg sync.WaitGroup
	for range o.opts.Workers {
		wg.Go(func() { o.work(ctx) })
	}
	<-ctx.Done()
	wg.Wait()

	log.Info("pipeline: workers stopped")
	return nil
}

// Wait polls until the pipeline leaves PENDING and RUNNING.
func (o *Orchestrator) Wait(ctx context.Context, id string, interval time.Duration) (*model.Pipeline, error) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		p, err := o.store.GetPipeline(ctx, id)
		if err != nil {
			return nil, err
		}
		if p.Status != model.PipelineStatusRunning && p.Status != model.PipelineStatusPending {
			return p, nil
		}
		select {
		case <-ctx.Done():
			return p, ctx.Err()
		case <-t.C:
		}
	}
}

func (o *Orchestrator) work(ctx context.Context) {
	for {
		id, reason, ok := o.queue.next(ctx)
		if !ok {
			return
		}
		for {
			o.advance(ctx, id, reason)
			var again bool
			if reason, again = o.queue.finish(id); !again {
				break
			}
		}
	}
}

// enqueue submits p. A full queue is recorded as a step failure so the
// pipeline can be resumed later.
func (o *Orchestrator) enqueue(ctx context.Context, p *model.Pipeline, reason model.RunReason) error {
	err := o.queue.Submit(p.ID, reason)
	if err == nil {
		return nil
	}

	zap.L().With(zap.String("component", "pipeline")).Warn("pipeline: enqueue rejected",
		zap.String("pipeline_id", p.ID), zap.Error(err))
	_, cerr := o.commit(ctx, p.ID, p.CurrentStepIndex, func(cur *model.Pipeline) {
		msg := err.Error()
		cur.Status = model.PipelineStatusStepFailed
		cur.LastError = &msg
	})
	if cerr != nil && !errors.Is(cerr, errNotRunning) {
		return eris.Wrap(cerr, "pipeline: record enqueue failure")
	}
	return eris.Wrapf(err, "pipeline %s", p.ID)
}

// advance runs steps until the pipeline stops being RUNNING.
func (o *Orchestrator) advance(ctx context.Context, id string, reason model.RunReason) {
	unlock := o.lock(id)
	defer unlock()

	log := zap.L().With(zap.String("component", "pipeline"), zap.String("pipeline_id", id))

	for ctx.Err() == nil {
		p, err := o.store.GetPipeline(ctx, id)
		if err != nil {
			log.Error("pipeline: load failed", zap.Error(err))
			return
		}
		if p.Status != model.PipelineStatusRunning {
			return
		}

		step, ok := p.CurrentStep()
		if !ok {
			o.finishCompleted(ctx, p, log)
			return
		}
		if !o.runStep(ctx, p, step, reason, log) {
			return
		}
		reason = model.RunAdvance
	}
}

// runStep executes the step at the cursor and commits its outcome. It
// returns true when the loop should continue with the next step.
func (o *Orchestrator) runStep(ctx context.Context, p *model.Pipeline, step model.StepName, reason model.RunReason, log *zap.Logger) bool {
	index := p.CurrentStepIndex
	attempt := p.FailedAttempts() + 1
	log = log.With(zap.String("step", string(step)), zap.Int("index", index), zap.Int("attempt", attempt))

	h, err := o.registry.Get(step)
	if err != nil {
		err = StepFatal(err)
	}

	start := o.opts.Now()
	log.Info("pipeline: step started", zap.String("reason", string(reason)))

	var res Result
	if err == nil {
		stepCtx, cancel := context.WithCancel(ctx)
		o.setCancel(p.ID, cancel)
		snap := p.Clone()
		res, err = o.execute(stepCtx, h, &StepContext{Pipeline: snap, Outputs: snap.Outputs, Reason: reason})
		o.setCancel(p.ID, nil)
		cancel()
	}

	if err != nil && ctx.Err() != nil {
		log.Info("pipeline: step interrupted by shutdown", zap.Error(err))
		return false
	}

	var output json.RawMessage
	if err == nil && res.Output != nil {
		raw, merr := json.Marshal(res.Output)
		if merr != nil {
			err = eris.Wrapf(merr, "pipeline: encode %s output", step)
		} else {
			output = raw
		}
	}

	finished := o.opts.Now()
	entry := model.StepLogEntry{
		Step:       step,
		Index:      index,
		Attempt:    attempt,
		Reason:     reason,
		StartedAt:  start,
		FinishedAt: finished,
	}

	var next model.PipelineStatus
	switch {
	case err != nil:
		entry.Outcome = model.OutcomeFailed
		entry.Error = err.Error()
		next = model.PipelineStatusStepFailed
		if IsFatal(err) || (o.opts.MaxStepAttempts > 0 && attempt >= o.opts.MaxStepAttempts) {
			next = model.PipelineStatusFailed
		}
	case res.Awaiting:
		entry.Outcome = model.OutcomeAwaiting
		next = model.PipelineStatusAwaiting
	default:
		entry.Outcome = model.OutcomeSucceeded
		next = model.PipelineStatusRunning
	}

	committed, cerr := o.commit(context.WithoutCancel(ctx), p.ID, index, func(cur *model.Pipeline) {
		cur.StepLog = append(cur.StepLog, entry)
		if output != nil {
			if cur.Outputs == nil {
				cur.Outputs = make(map[model.StepName]json.RawMessage)
			}
			cur.Outputs[step] = output
		}
		switch next {
		case model.PipelineStatusRunning:
			cur.LastError = nil
			cur.CurrentStepIndex++
			if cur.CurrentStepIndex >= len(cur.Steps) {
				cur.Status = model.PipelineStatusCompleted
			}
		case model.PipelineStatusAwaiting:
			cur.LastError = nil
			cur.Status = next
		default:
			msg := entry.Error
			cur.LastError = &msg
			cur.Status = next
		}
	})

	elapsed := finished.Sub(start)
	if cerr != nil {
		if errors.Is(cerr, errNotRunning) {
			log.Info("pipeline: step result discarded, pipeline no longer running",
				zap.String("outcome", string(entry.Outcome)), zap.Duration("elapsed", elapsed))
		} else {
			log.Error("pipeline: commit failed", zap.Error(cerr))
		}
		return false
	}

	switch entry.Outcome {
	case model.OutcomeFailed:
		log.Warn("pipeline: step failed",
			zap.String("status", string(committed.Status)), zap.Duration("elapsed", elapsed), zap.Error(err))
	case model.OutcomeAwaiting:
		log.Info("pipeline: step awaiting external input", zap.Duration("elapsed", elapsed))
	default:
		log.Info("pipeline: step complete", zap.Duration("elapsed", elapsed))
		if committed.Status == model.PipelineStatusCompleted {
			log.Info("pipeline: completed")
		}
	}
	return committed.Status == model.PipelineStatusRunning
}

func (o *Orchestrator) finishCompleted(ctx context.Context, p *model.Pipeline, log *zap.Logger) {
	_, err := o.commit(ctx, p.ID, p.CurrentStepIndex, func(cur *model.Pipeline) {
		cur.Status = model.PipelineStatusCompleted
	})
	if err != nil && !errors.Is(err, errNotRunning) {
		log.Error("pipeline: commit failed", zap.Error(err))
	}
}

// execute calls the handler, converting a panic into an error.
func (o *Orchestrator) execute(ctx context.Context, h Handler, sc *StepContext) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().With(zap.String("component", "pipeline")).Error("pipeline: handler panic",
				zap.String("step", string(h.Name())),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			err = eris.Errorf("pipeline: step %s panicked: %v", h.Name(), r)
		}
	}()
	return h.Execute(ctx, sc)
}

// commit re-reads the pipeline, applies mutate and saves it under the
// version check. It refuses to touch a pipeline that is no longer RUNNING or
// whose cursor moved away from index.
func (o *Orchestrator) commit(ctx context.Context, id string, index int, mutate func(*model.Pipeline)) (*model.Pipeline, error) {
	for attempt := 0; ; attempt++ {
		cur, err := o.store.GetPipeline(ctx, id)
		if err != nil {
			return nil, err
		}
		if cur.Status != model.PipelineStatusRunning || cur.CurrentStepIndex != index {
			return cur, errNotRunning
		}
		mutate(cur)
		cur.UpdatedAt = o.opts.Now()
		err = o.store.UpdatePipeline(ctx, cur)
		if err == nil {
			return cur, nil
		}
		if !errors.Is(err, store.ErrConflict) || attempt+1 >= commitAttempts {
			return nil, err
		}
	}
}

func (o *Orchestrator) lock(id string) func() {
	o.mu.Lock()
	l, ok := o.locks[id]
	if !ok {
		l = &pipelineLock{}
		o.locks[id] = l
	}
	l.refs++
	o.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		o.mu.Lock()
		if l.refs--; l.refs == 0 {
			delete(o.locks, id)
		}
		o.mu.Unlock()
	}
}

func (o *Orchestrator) setCancel(id string, cancel context.CancelFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if cancel == nil {
		delete(o.cancels, id)
		return
	}
	o.cancels[id] = cancel
}
