package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/procure-cli/internal/config"
	"github.com/sells-group/procure-cli/internal/resilience"
)

// minFinishedForRate is how many finished pipelines the failure rate needs
// before it can alert.
const minFinishedForRate = 5

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertPipelineFailureRate AlertType = "pipeline_failure_rate"
	AlertQueueSaturation     AlertType = "queue_saturation"
	AlertBreakerOpen         AlertType = "breaker_open"
	AlertStaleAwaiting       AlertType = "stale_awaiting"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and delivers alerts to a webhook.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
	retry  resilience.RetryConfig
}

// NewAlerter creates an Alerter. Webhook calls that fail with a 5xx, a 429
// or a network error are retried with the default backoff.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		retry:  resilience.DefaultRetryConfig(),
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	finished := snap.Finished()
	if a.cfg.FailureRateThreshold > 0 && finished >= minFinishedForRate && snap.PipelineFailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertPipelineFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Pipeline failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dh)",
				snap.PipelineFailRate*100, a.cfg.FailureRateThreshold*100,
				snap.PipelineFailed+snap.PipelineStepFailed, finished, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.PipelineFailRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.PipelineFailed,
				"step_failed":  snap.PipelineStepFailed,
				"finished":     finished,
			},
			Timestamp: now,
		})
	}

	if q := snap.Queue; a.cfg.QueueSaturation > 0 && q.Capacity > 0 {
		ratio := float64(q.Depth) / float64(q.Capacity)
		if ratio >= a.cfg.QueueSaturation {
			alerts = append(alerts, Alert{
				Type:     AlertQueueSaturation,
				Severity: "medium",
				Message: fmt.Sprintf("Task queue at %d/%d (%.0f%%), %d submissions rejected",
					q.Depth, q.Capacity, ratio*100, q.Rejected),
				Details: map[string]any{
					"depth":    q.Depth,
					"capacity": q.Capacity,
					"rejected": q.Rejected,
				},
				Timestamp: now,
			})
		}
	}

	if len(snap.OpenBreakers) > 0 {
		alerts = append(alerts, Alert{
			Type:      AlertBreakerOpen,
			Severity:  "high",
			Message:   fmt.Sprintf("Circuit open for %s", strings.Join(snap.OpenBreakers, ", ")),
			Details:   map[string]any{"services": snap.OpenBreakers},
			Timestamp: now,
		})
	}

	if len(snap.StaleAwaiting) > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertStaleAwaiting,
			Severity: "low",
			Message: fmt.Sprintf("%d pipeline(s) awaiting bids for more than %dh",
				len(snap.StaleAwaiting), a.cfg.StaleAwaitingHours),
			Details:   map[string]any{"pipeline_ids": snap.StaleAwaiting},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL and returns how
// many were accepted.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.Deliver(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		sent++
	}
	return sent
}

// Deliver posts one alert to the webhook. It is a no-op without a webhook URL.
func (a *Alerter) Deliver(ctx context.Context, alert Alert) error {
	if a.cfg.WebhookURL == "" {
		return nil
	}

	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	retry := a.retry
	retry.OnRetry = resilience.RetryLogger("webhook", string(alert.Type))
	err = resilience.Do(ctx, retry, func(ctx context.Context) error {
		return a.post(ctx, payload)
	})
	if err != nil {
		return eris.Wrap(err, "monitoring: deliver alert")
	}

	zap.L().Info("monitoring: alert sent",
		zap.String("type", string(alert.Type)),
		zap.String("severity", alert.Severity),
	)
	return nil
}

func (a *Alerter) post(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return resilience.HTTPStatusError("webhook", resp.StatusCode, string(body))
	}
	return nil
}
