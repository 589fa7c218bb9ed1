package pipeline

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/sells-group/procure-cli/internal/model"
)

// StepContext is what a handler sees of its pipeline.
type StepContext struct {
	// Pipeline is a snapshot taken before the step started. Handlers must
	// not rely on mutating it.
	Pipeline *model.Pipeline
	// Outputs holds the results of the steps already completed.
	Outputs map[model.StepName]json.RawMessage
	// Reason is why the execution loop was entered.
	Reason model.RunReason
}

// Output decodes the stored output of step into v. It reports false when the
// step has not produced one.
func (sc *StepContext) Output(step model.StepName, v any) (bool, error) {
	raw, ok := sc.Outputs[step]
	if !ok || len(raw) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return true, eris.Wrapf(err, "pipeline: decode %s output", step)
	}
	return true, nil
}

// Result is the outcome of one handler invocation. Output is marshalled to
// JSON and stored under the step name.
type Result struct {
	Awaiting bool
	Output   any
}

// Handler executes one step. Handlers must be safe to run again for the same
// pipeline after a failure or a resume.
type Handler interface {
	Name() model.StepName
	Execute(ctx context.Context, sc *StepContext) (Result, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc struct {
	Step model.StepName
	Fn   func(ctx context.Context, sc *StepContext) (Result, error)
}

// Name implements Handler.
func (h HandlerFunc) Name() model.StepName { return h.Step }

// Execute implements Handler.
func (h HandlerFunc) Execute(ctx context.Context, sc *StepContext) (Result, error) {
	return h.Fn(ctx, sc)
}

// Registry maps step names to handlers.
type Registry struct {
	handlers map[model.StepName]Handler
	order    []model.StepName
}

// NewRegistry creates a registry holding hs.
func NewRegistry(hs ...Handler) *Registry {
	r := &Registry{handlers: make(map[model.StepName]Handler, len(hs))}
	for _, h := range hs {
		r.Register(h)
	}
	return r
}

// Register adds h, replacing any handler with the same name.
func (r *Registry) Register(h Handler) {
	if _, ok := r.handlers[h.Name()]; !ok {
		r.order = append(r.order, h.Name())
	}
	r.handlers[h.Name()] = h
}

// Get returns the handler for name.
func (r *Registry) Get(name model.StepName) (Handler, error) {
	h, ok := r.handlers[name]
	if !ok {
		return nil, eris.Wrapf(ErrUnknownStep, "step %q", name)
	}
	return h, nil
}

// Validate checks that steps is non-empty and every step is registered.
func (r *Registry) Validate(steps []model.StepName) error {
	if len(steps) == 0 {
		return ErrNoSteps
	}
	for _, s := range steps {
		if _, err := r.Get(s); err != nil {
			return err
		}
	}
	return nil
}

// Names returns registered step names in registration order.
func (r *Registry) Names() []model.StepName {
	return append([]model.StepName(nil), r.order...)
}
