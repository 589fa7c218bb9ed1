package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/procure-cli/internal/intake"
	"github.com/sells-group/procure-cli/internal/matching"
	"github.com/sells-group/procure-cli/internal/monitoring"
	"github.com/sells-group/procure-cli/internal/parse"
	"github.com/sells-group/procure-cli/internal/pipeline"
	"github.com/sells-group/procure-cli/internal/resilience"
	"github.com/sells-group/procure-cli/internal/scheduler"
	"github.com/sells-group/procure-cli/internal/steps"
	"github.com/sells-group/procure-cli/internal/store"
	anthropicpkg "github.com/sells-group/procure-cli/pkg/anthropic"
	"github.com/sells-group/procure-cli/pkg/enrich"
	"github.com/sells-group/procure-cli/pkg/mailer"
)

// appEnv holds the store, the provider clients and the services built on
// them, as needed by the serve/pipeline/schedule commands.
type appEnv struct {
	Store        store.Store
	Breakers     *resilience.ServiceBreakers
	Matcher      *matching.Engine
	Steps        *steps.Set
	Orchestrator *pipeline.Orchestrator
	Intake       *intake.Service
	Timeline     *scheduler.Timeline
	Reactivator  *scheduler.Reactivator
	Collector    *monitoring.Collector
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initStore opens the configured backend without migrating it.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "memory":
		return store.NewMemory(), nil
	case "sqlite":
		dsn := cfg.Store.SQLitePath
		if dsn == "" {
			dsn = "procure.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// openStore opens and migrates the configured backend.
func openStore(ctx context.Context) (store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initEnv validates config for mode, opens the store and wires every
// service. Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	log := zap.L().With(zap.String("component", "cmd"))
	breakers := resilience.NewServiceBreakers(resilience.FromCircuitConfig(cfg.Breaker.FailureThreshold, cfg.Breaker.ResetTimeoutSecs))
	matcher := matching.New(st,
		matching.WithMinScore(cfg.Matching.MinScore),
		matching.WithMinCandidates(cfg.Matching.MinCandidates),
		matching.WithMaxResults(cfg.Matching.MaxResults),
		matching.WithConcurrency(cfg.Matching.Concurrency),
	)

	deps := steps.Deps{
		Projects:          st,
		Directory:         st,
		RFQs:              st,
		Matcher:           matcher,
		MailFrom:          cfg.Mailer.From,
		Breakers:          breakers,
		Retry:             resilience.FromRetryConfig(cfg.Retry.MaxAttempts, cfg.Retry.InitialBackoffMs, cfg.Retry.MaxBackoffMs),
		EnrichConcurrency: cfg.Enrich.Concurrency,
		Await:             steps.PolicyFromConfig(cfg.Await),
	}

	if cfg.Anthropic.Key != "" {
		deps.Extractor = parse.NewLLMExtractor(anthropicpkg.NewClient(cfg.Anthropic.Key), cfg.Anthropic.Model, cfg.Anthropic.MaxTokens)
	} else {
		log.Debug("PROCURE_ANTHROPIC_KEY not set, stage extraction disabled")
	}

	if cfg.Enrich.Key != "" {
		opts := []enrich.Option{enrich.WithRateLimit(cfg.Enrich.RatePerSec)}
		if cfg.Enrich.BaseURL != "" {
			opts = append(opts, enrich.WithBaseURL(cfg.Enrich.BaseURL))
		}
		if cfg.Enrich.TimeoutSecs > 0 {
			opts = append(opts, enrich.WithTimeout(time.Duration(cfg.Enrich.TimeoutSecs)*time.Second))
		}
		deps.Enricher = enrich.NewClient(cfg.Enrich.Key, opts...)
	} else {
		log.Debug("PROCURE_ENRICH_KEY not set, supplier enrichment passes matches through")
	}

	if cfg.Mailer.Key != "" {
		opts := []mailer.Option{mailer.WithDelay(time.Duration(cfg.Mailer.DelayMs) * time.Millisecond)}
		if cfg.Mailer.BaseURL != "" {
			opts = append(opts, mailer.WithBaseURL(cfg.Mailer.BaseURL))
		}
		deps.Mailer = mailer.NewClient(cfg.Mailer.Key, opts...)
	} else {
		log.Warn("PROCURE_MAILER_KEY not set, SEND_RFQS will fail")
	}

	set := steps.New(deps)
	orch := pipeline.New(st, set.Registry(), pipeline.Options{
		Workers:         cfg.Pipeline.Workers,
		QueueSize:       cfg.Pipeline.QueueSize,
		MaxStepAttempts: cfg.Pipeline.MaxStepAttempts,
		Deadline:        set.AwaitBids.Deadline,
	})

	stale := time.Duration(cfg.Monitoring.StaleAwaitingHours) * time.Hour
	return &appEnv{
		Store:        st,
		Breakers:     breakers,
		Matcher:      matcher,
		Steps:        set,
		Orchestrator: orch,
		Intake:       intake.NewService(st, orch),
		Timeline:     scheduler.NewTimeline(st),
		Reactivator:  scheduler.NewReactivator(st, orch),
		Collector:    monitoring.NewCollector(st, orch, breakers, stale),
	}, nil
}

// runWorkers starts the worker pool in the background and returns a stop
// function that waits for in-flight steps.
func (e *appEnv) runWorkers(ctx context.Context) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		_ = e.Orchestrator.Run(ctx)
		close(done)
	}()
	return func() {
		cancel()
		<-done
	}
}
