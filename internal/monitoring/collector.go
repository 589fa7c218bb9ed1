// Package monitoring snapshots pipeline health and raises alerts when
// failure rates, queue pressure or provider outages cross thresholds.
package monitoring

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/procure-cli/internal/model"
	"github.com/sells-group/procure-cli/internal/pipeline"
	"github.com/sells-group/procure-cli/internal/store"
)

// MetricsSnapshot holds a point-in-time view of system health.
type MetricsSnapshot struct {
	// Pipelines created within the lookback window.
	PipelineTotal      int     `json:"pipeline_total"`
	PipelinePending    int     `json:"pipeline_pending"`
	PipelineRunning    int     `json:"pipeline_running"`
	PipelineAwaiting   int     `json:"pipeline_awaiting"`
	PipelineStepFailed int     `json:"pipeline_step_failed"`
	PipelineCompleted  int     `json:"pipeline_completed"`
	PipelineFailed     int     `json:"pipeline_failed"`
	PipelineCancelled  int     `json:"pipeline_cancelled"`
	PipelineFailRate   float64 `json:"pipeline_fail_rate"`

	// Awaiting pipelines not touched for the stale window, whatever their age.
	StaleAwaiting []string `json:"stale_awaiting,omitempty"`

	Queue        pipeline.QueueStats `json:"queue"`
	OpenBreakers []string            `json:"open_breakers,omitempty"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Finished counts pipelines that stopped, successfully or not.
func (m *MetricsSnapshot) Finished() int {
	return m.PipelineCompleted + m.PipelineFailed + m.PipelineStepFailed
}

// QueueReporter exposes task queue counters.
type QueueReporter interface {
	Stats() pipeline.QueueStats
}

// BreakerReporter exposes circuit breaker states keyed by service.
type BreakerReporter interface {
	States() map[string]string
}

// Collector gathers metrics from the pipeline store, the task queue and the
// provider breakers. queue and breakers may be nil.
type Collector struct {
	store      store.PipelineStore
	queue      QueueReporter
	breakers   BreakerReporter
	staleAfter time.Duration
	now        func() time.Time
}

// NewCollector creates a new metrics collector. Awaiting pipelines idle for
// longer than staleAfter are reported; zero disables the check.
func NewCollector(st store.PipelineStore, queue QueueReporter, breakers BreakerReporter, staleAfter time.Duration) *Collector {
	return &Collector{
		store:      st,
		queue:      queue,
		breakers:   breakers,
		staleAfter: staleAfter,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Collect gathers a snapshot of system metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	pipelines, err := c.store.ListPipelines(ctx, store.PipelineFilter{})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list pipelines")
	}

	for _, p := range pipelines {
		if p.Status == model.PipelineStatusAwaiting && c.staleAfter > 0 && now.Sub(p.UpdatedAt) > c.staleAfter {
			snap.StaleAwaiting = append(snap.StaleAwaiting, p.ID)
		}
		if p.CreatedAt.Before(cutoff) {
			continue
		}
		snap.PipelineTotal++
		switch p.Status {
		case model.PipelineStatusPending:
			snap.PipelinePending++
		case model.PipelineStatusRunning:
			snap.PipelineRunning++
		case model.PipelineStatusAwaiting:
			snap.PipelineAwaiting++
		case model.PipelineStatusStepFailed:
			snap.PipelineStepFailed++
		case model.PipelineStatusCompleted:
			snap.PipelineCompleted++
		case model.PipelineStatusFailed:
			snap.PipelineFailed++
		case model.PipelineStatusCancelled:
			snap.PipelineCancelled++
		}
	}
	if finished := snap.Finished(); finished > 0 {
		snap.PipelineFailRate = float64(snap.PipelineFailed+snap.PipelineStepFailed) / float64(finished)
	}

	if c.queue != nil {
		snap.Queue = c.queue.Stats()
	}
	if c.breakers != nil {
		for name, state := range c.breakers.States() {
			if state != "closed" {
				snap.OpenBreakers = append(snap.OpenBreakers, name)
			}
		}
		sort.Strings(snap.OpenBreakers)
	}

	return snap, nil
}
