package scheduler

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/procure-cli/internal/config"
	"github.com/sells-group/procure-cli/internal/model"
)

// Clock is a time of day.
type Clock struct {
	Hour   int
	Minute int
}

// ParseClock parses "HH:MM".
func ParseClock(s string) (Clock, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return Clock{}, eris.Wrapf(err, "scheduler: parse clock %q", s)
	}
	return Clock{Hour: t.Hour(), Minute: t.Minute()}, nil
}

// Holidays is a set of calendar dates on which no tick runs.
type Holidays map[string]struct{}

// ParseHolidays parses YYYY-MM-DD dates.
func ParseHolidays(dates []string) (Holidays, error) {
	h := make(Holidays, len(dates))
	for _, d := range dates {
		t, err := time.Parse(time.DateOnly, d)
		if err != nil {
			return nil, eris.Wrapf(err, "scheduler: parse holiday %q", d)
		}
		h[t.Format(time.DateOnly)] = struct{}{}
	}
	return h, nil
}

// IsBusinessDay reports whether t falls Monday to Friday and is not a
// holiday, using t's own location.
func IsBusinessDay(t time.Time, holidays Holidays) bool {
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	_, off := holidays[t.Format(time.DateOnly)]
	return !off
}

// NextRun returns the first business-day instant at clock in loc strictly
// after now.
func NextRun(now time.Time, at Clock, loc *time.Location, holidays Holidays) time.Time {
	local := now.In(loc)
	y, m, d := local.Date()
	next := time.Date(y, m, d, at.Hour, at.Minute, 0, 0, loc)
	if !next.After(local) {
		next = time.Date(y, m, d+1, at.Hour, at.Minute, 0, 0, loc)
	}
	for !IsBusinessDay(next, holidays) {
		y, m, d = next.Date()
		next = time.Date(y, m, d+1, at.Hour, at.Minute, 0, 0, loc)
	}
	return next
}

// Ticker runs one scheduling pass for a calendar date.
type Ticker interface {
	Tick(ctx context.Context, today time.Time) (*TickResult, error)
}

// Sweeper resumes awaiting pipelines whose deadline has passed.
type Sweeper interface {
	ResumeExpired(ctx context.Context, now time.Time) (int, error)
}

// Runner fires Tick on business days and runs the deadline sweep on an
// interval.
type Runner struct {
	ticker        Ticker
	sweeper       Sweeper
	at            Clock
	loc           *time.Location
	holidays      Holidays
	sweepInterval time.Duration
	now           func() time.Time
}

// NewRunner builds a Runner from scheduler settings. sweeper may be nil.
func NewRunner(t Ticker, sweeper Sweeper, cfg config.SchedulerConfig) (*Runner, error) {
	at, err := ParseClock(cfg.RunAt)
	if err != nil {
		return nil, err
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, eris.Wrapf(err, "scheduler: load timezone %q", cfg.Timezone)
	}
	holidays, err := ParseHolidays(cfg.Holidays)
	if err != nil {
		return nil, err
	}
	return &Runner{
		ticker:        t,
		sweeper:       sweeper,
		at:            at,
		loc:           loc,
		holidays:      holidays,
		sweepInterval: cfg.SweepInterval(),
		now:           time.Now,
	}, nil
}

// Next returns when the next tick fires.
func (r *Runner) Next() time.Time {
	return NextRun(r.now(), r.at, r.loc, r.holidays)
}

// Run blocks until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "scheduler.runner"))

	next := r.Next()
	log.Info("starting scheduler",
		zap.Time("next_run", next),
		zap.String("timezone", r.loc.String()),
		zap.Duration("sweep_interval", r.sweepInterval),
	)

	timer := time.NewTimer(time.Until(next))
	defer timer.Stop()

	var sweep <-chan time.Time
	if r.sweeper != nil && r.sweepInterval > 0 {
		t := time.NewTicker(r.sweepInterval)
		defer t.Stop()
		sweep = t.C
	}

	for {
		select {
		case <-ctx.Done():
			log.Info("scheduler stopped")
			return
		case <-timer.C:
			r.fire(ctx, log)
			next = r.Next()
			timer.Reset(time.Until(next))
			log.Debug("scheduler: next run", zap.Time("next_run", next))
		case <-sweep:
			n, err := r.sweeper.ResumeExpired(ctx, r.now().UTC())
			if err != nil {
				log.Error("scheduler: deadline sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				log.Info("scheduler: deadline sweep resumed pipelines", zap.Int("resumed", n))
			}
		}
	}
}

func (r *Runner) fire(ctx context.Context, log *zap.Logger) {
	today := model.Date(r.now().In(r.loc))
	if !IsBusinessDay(today, r.holidays) {
		return
	}
	if _, err := r.ticker.Tick(ctx, today); err != nil {
		log.Error("scheduler: tick failed", zap.Error(err))
	}
}
