package pipeline

import (
	"errors"

	"github.com/rotisserie/eris"
)

var (
	// ErrNoSteps is returned when a pipeline is created with an empty step list.
	ErrNoSteps = eris.New("pipeline: step list is empty")
	// ErrUnknownStep is returned when a step name has no registered handler.
	ErrUnknownStep = eris.New("pipeline: unknown step")
	// ErrInvalidState is returned when an operation is not legal from the
	// pipeline's current status.
	ErrInvalidState = eris.New("pipeline: invalid state")
	// ErrQueueFull is returned when the task queue cannot take another item.
	ErrQueueFull = eris.New("pipeline: task queue is full")

	errNotRunning = eris.New("pipeline: no longer running")
)

type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return e.err.Error() }

func (e *fatalError) Unwrap() error { return e.err }

// StepFatal marks err as unrecoverable. A handler returning it moves the
// pipeline to FAILED instead of STEP_FAILED.
func StepFatal(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

// IsFatal reports whether err was marked with StepFatal.
func IsFatal(err error) bool {
	var fe *fatalError
	return errors.As(err, &fe)
}
