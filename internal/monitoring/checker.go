package monitoring

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/procure-cli/internal/config"
)

const defaultCheckInterval = 5 * time.Minute

// Checker runs periodic alert checks in the background. An alert whose
// fingerprint was delivered less than repeatAfter ago is held back, so a
// persisting condition is reported once per window rather than every tick.
type Checker struct {
	collector   *Collector
	alerter     *Alerter
	interval    time.Duration
	lookback    int
	repeatAfter time.Duration
	now         func() time.Time

	mu       sync.Mutex
	lastSent map[string]time.Time
}

// NewChecker creates a background alert checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	interval := time.Duration(cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = defaultCheckInterval
	}
	return &Checker{
		collector:   collector,
		alerter:     alerter,
		interval:    interval,
		lookback:    cfg.LookbackWindowHours,
		repeatAfter: time.Duration(cfg.RepeatAfterMins) * time.Minute,
		now:         time.Now,
		lastSent:    make(map[string]time.Time),
	}
}

// Run starts the periodic check loop. It blocks until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("starting alert checker",
		zap.Duration("interval", c.interval),
		zap.Int("lookback_hours", c.lookback),
		zap.Duration("repeat_after", c.repeatAfter),
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("alert checker stopped")
			return
		case <-ticker.C:
			c.Check(ctx, log)
		}
	}
}

// Check collects one snapshot, evaluates it and delivers the alerts that
// are not suppressed. It returns the alerts delivered.
func (c *Checker) Check(ctx context.Context, log *zap.Logger) []Alert {
	snap, err := c.collector.Collect(ctx, c.lookback)
	if err != nil {
		log.Error("monitoring: failed to collect metrics", zap.Error(err))
		return nil
	}

	raised := c.alerter.Evaluate(snap)
	if len(raised) == 0 {
		log.Debug("monitoring: no alerts triggered")
		return nil
	}

	var (
		delivered  []Alert
		suppressed int
	)
	for _, a := range raised {
		key := fingerprint(a)
		if c.recentlySent(key) {
			suppressed++
			continue
		}
		log.Warn("monitoring: alert", zap.String("type", string(a.Type)), zap.String("message", a.Message))
		if err := c.alerter.Deliver(ctx, a); err != nil {
			log.Error("monitoring: failed to send alert", zap.String("type", string(a.Type)), zap.Error(err))
			continue
		}
		c.markSent(key)
		delivered = append(delivered, a)
	}

	log.Info("monitoring: alert check complete",
		zap.Int("alerts_triggered", len(raised)),
		zap.Int("alerts_delivered", len(delivered)),
		zap.Int("alerts_suppressed", suppressed),
	)
	return delivered
}

func (c *Checker) recentlySent(key string) bool {
	if c.repeatAfter <= 0 {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	at, ok := c.lastSent[key]
	return ok && c.now().Sub(at) < c.repeatAfter
}

func (c *Checker) markSent(key string) {
	c.mu.Lock()
	c.lastSent[key] = c.now()
	c.mu.Unlock()
}

// fingerprint identifies what an alert is about. Breaker and stale alerts
// include their subjects so a new breaker or pipeline is reported at once.
func fingerprint(a Alert) string {
	var subjects []string
	switch a.Type {
	case AlertBreakerOpen:
		subjects, _ = a.Details["services"].([]string)
	case AlertStaleAwaiting:
		subjects, _ = a.Details["pipeline_ids"].([]string)
	}
	if len(subjects) == 0 {
		return string(a.Type)
	}
	sorted := append([]string(nil), subjects...)
	sort.Strings(sorted)
	return string(a.Type) + ":" + strings.Join(sorted, ",")
}
