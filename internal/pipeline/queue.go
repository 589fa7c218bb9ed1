package pipeline

import (
	"context"
	"sync"

	"github.com/sells-group/procure-cli/internal/model"
)

type slotState int

const (
	slotQueued slotState = iota
	slotRunning
	slotRerun // running, and submitted again meanwhile
)

type slot struct {
	state  slotState
	reason model.RunReason
}

// QueueStats is a point-in-time view of the task queue.
type QueueStats struct {
	Depth     int   `json:"depth"`
	Capacity  int   `json:"capacity"`
	InFlight  int   `json:"in_flight"`
	Workers   int   `json:"workers"`
	Processed int64 `json:"processed"`
	Rejected  int64 `json:"rejected"`
}

// Queue is a bounded FIFO of pipeline ids awaiting an advance. An id is held
// at most once. Submitting an id that is executing flags it to run again when
// the current run finishes.
type Queue struct {
	mu        sync.Mutex
	ch        chan string
	slots     map[string]*slot
	inFlight  int
	processed int64
	rejected  int64
}

// NewQueue creates a queue holding up to size ids.
func NewQueue(size int) *Queue {
	if size < 1 {
		size = 1
	}
	return &Queue{
		ch:    make(chan string, size),
		slots: make(map[string]*slot),
	}
}

// Submit enqueues id without blocking. It returns ErrQueueFull when the
// queue is at capacity.
func (q *Queue) Submit(id string, reason model.RunReason) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if s, ok := q.slots[id]; ok {
		if s.state == slotRunning {
			s.state = slotRerun
		}
		s.reason = reason
		return nil
	}

	select {
	case q.ch <- id:
		q.slots[id] = &slot{state: slotQueued, reason: reason}
		return nil
	default:
		q.rejected++
		return ErrQueueFull
	}
}

// next blocks until an id is available or ctx is done.
func (q *Queue) next(ctx context.Context) (string, model.RunReason, bool) {
	select {
	case <-ctx.Done():
		return "", "", false
	case id := <-q.ch:
		q.mu.Lock()
		defer q.mu.Unlock()
		s := q.slots[id]
		s.state = slotRunning
		q.inFlight++
		return id, s.reason, true
	}
}

// finish releases id after a run. It returns true with the latest reason when
// id was submitted again during the run; the caller keeps the slot and runs
// again.
func (q *Queue) finish(id string) (model.RunReason, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.processed++
	s := q.slots[id]
	if s != nil && s.state == slotRerun {
		s.state = slotRunning
		return s.reason, true
	}
	delete(q.slots, id)
	q.inFlight--
	return "", false
}

// Stats returns current queue counters.
func (q *Queue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		Depth:     len(q.ch),
		Capacity:  cap(q.ch),
		InFlight:  q.inFlight,
		Processed: q.processed,
		Rejected:  q.rejected,
	}
}
