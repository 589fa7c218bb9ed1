// Package config loads procure-cli settings from config.yaml and PROCURE_*
// environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Matching   MatchingConfig   `yaml:"matching" mapstructure:"matching"`
	Enrich     EnrichConfig     `yaml:"enrich" mapstructure:"enrich"`
	Mailer     MailerConfig     `yaml:"mailer" mapstructure:"mailer"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Scheduler  SchedulerConfig  `yaml:"scheduler" mapstructure:"scheduler"`
	Await      AwaitConfig      `yaml:"await" mapstructure:"await"`
	Retry      RetryConfig      `yaml:"retry" mapstructure:"retry"`
	Breaker    BreakerConfig    `yaml:"breaker" mapstructure:"breaker"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
}

// StoreConfig configures the persistence backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // memory, sqlite or postgres
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// PipelineConfig sizes the orchestrator's task queue and worker pool.
type PipelineConfig struct {
	Workers         int `yaml:"workers" mapstructure:"workers"`
	QueueSize       int `yaml:"queue_size" mapstructure:"queue_size"`
	MaxStepAttempts int `yaml:"max_step_attempts" mapstructure:"max_step_attempts"` // 0 = unlimited
}

// MatchingConfig tunes supplier selection.
type MatchingConfig struct {
	MinScore      float64 `yaml:"min_score" mapstructure:"min_score"`
	MinCandidates int     `yaml:"min_candidates" mapstructure:"min_candidates"`
	MaxResults    int     `yaml:"max_results" mapstructure:"max_results"`
	Concurrency   int     `yaml:"concurrency" mapstructure:"concurrency"`
}

// EnrichConfig configures the supplier signal provider.
type EnrichConfig struct {
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	Key         string  `yaml:"key" mapstructure:"key"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	Concurrency int     `yaml:"concurrency" mapstructure:"concurrency"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// MailerConfig configures RFQ dispatch.
type MailerConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Key     string `yaml:"key" mapstructure:"key"`
	From    string `yaml:"from" mapstructure:"from"`
	DelayMs int    `yaml:"delay_ms" mapstructure:"delay_ms"`
}

// AnthropicConfig configures the stage extractor used by PARSE_FILES.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// SchedulerConfig configures the reactivation runner.
type SchedulerConfig struct {
	Enabled           bool     `yaml:"enabled" mapstructure:"enabled"`
	RunAt             string   `yaml:"run_at" mapstructure:"run_at"` // HH:MM
	Timezone          string   `yaml:"timezone" mapstructure:"timezone"`
	Holidays          []string `yaml:"holidays" mapstructure:"holidays"` // YYYY-MM-DD
	SweepIntervalMins int      `yaml:"sweep_interval_mins" mapstructure:"sweep_interval_mins"`
}

// AwaitConfig is the exit policy of the AWAIT_BIDS step.
type AwaitConfig struct {
	Mode           string `yaml:"mode" mapstructure:"mode"` // min_bids, deadline, either or manual
	MinBids        int    `yaml:"min_bids" mapstructure:"min_bids"`
	WindowDays     int    `yaml:"window_days" mapstructure:"window_days"`
	// ManualOverride releases AWAITING_EXTERNAL on a manual resume without
	// re-checking bids or the deadline.
	ManualOverride bool   `yaml:"manual_override" mapstructure:"manual_override"`
}

// RetryConfig configures retries of transient provider errors.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// BreakerConfig configures per-provider circuit breakers.
type BreakerConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// MonitoringConfig configures the pipeline health checker and its alerts.
type MonitoringConfig struct {
	Enabled              bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	QueueSaturation      float64 `yaml:"queue_saturation" mapstructure:"queue_saturation"` // depth/capacity ratio
	StaleAwaitingHours   int     `yaml:"stale_awaiting_hours" mapstructure:"stale_awaiting_hours"`
	RepeatAfterMins      int     `yaml:"repeat_after_mins" mapstructure:"repeat_after_mins"` // 0 = alert on every check
}

// SweepInterval returns the await-bids deadline sweep period.
func (c SchedulerConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalMins) * time.Minute
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("PROCURE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.sqlite_path", "procure.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.queue_size", 256)
	v.SetDefault("pipeline.max_step_attempts", 0)
	v.SetDefault("matching.min_score", 30.0)
	v.SetDefault("matching.min_candidates", 3)
	v.SetDefault("matching.max_results", 15)
	v.SetDefault("matching.concurrency", 4)
	v.SetDefault("enrich.base_url", "")
	v.SetDefault("enrich.key", "")
	v.SetDefault("enrich.rate_per_sec", 5.0)
	v.SetDefault("enrich.concurrency", 4)
	v.SetDefault("enrich.timeout_secs", 15)
	v.SetDefault("mailer.base_url", "")
	v.SetDefault("mailer.key", "")
	v.SetDefault("mailer.from", "rfq@procure.local")
	v.SetDefault("mailer.delay_ms", 250)
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.run_at", "06:00")
	v.SetDefault("scheduler.timezone", "UTC")
	v.SetDefault("scheduler.holidays", []string{})
	v.SetDefault("scheduler.sweep_interval_mins", 15)
	v.SetDefault("await.mode", "either")
	v.SetDefault("await.min_bids", 3)
	v.SetDefault("await.window_days", 7)
	v.SetDefault("await.manual_override", false)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 10000)
	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.reset_timeout_secs", 30)
	v.SetDefault("monitoring.enabled", true)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.queue_saturation", 0.8)
	v.SetDefault("monitoring.stale_awaiting_hours", 240)
	v.SetDefault("monitoring.repeat_after_mins", 60)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command needs. mode is the command family:
// "serve", "pipeline", "schedule" or "" for the common checks only.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "memory", "sqlite":
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for the postgres driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not one of memory, sqlite, postgres", c.Store.Driver))
	}

	if c.Pipeline.Workers < 1 {
		errs = append(errs, "pipeline.workers must be at least 1")
	}
	if c.Pipeline.QueueSize < 1 {
		errs = append(errs, "pipeline.queue_size must be at least 1")
	}
	if c.Matching.MaxResults < 1 {
		errs = append(errs, "matching.max_results must be at least 1")
	}

	switch c.Await.Mode {
	case "min_bids", "deadline", "either", "manual":
	default:
		errs = append(errs, fmt.Sprintf("await.mode %q is not one of min_bids, deadline, either, manual", c.Await.Mode))
	}

	if mode == "serve" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server.port %d is out of range", c.Server.Port))
		}
	}
	if mode == "serve" || mode == "schedule" {
		if _, err := time.Parse("15:04", c.Scheduler.RunAt); err != nil {
			errs = append(errs, fmt.Sprintf("scheduler.run_at %q must be HH:MM", c.Scheduler.RunAt))
		}
		if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
			errs = append(errs, fmt.Sprintf("scheduler.timezone %q is unknown", c.Scheduler.Timezone))
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
