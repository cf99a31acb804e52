// Package config loads the reconciliation engine's tunables from YAML,
// applies defaults, validates, and allows targeted environment-variable
// overrides for deployment-time secrets/ports. Hot-reload is available via
// Watch, backed by fsnotify, for operators who tune thresholds without a
// restart.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	apperrors "github.com/P4R1H/affiliate-platform/internal/shared/errors"
)

// DiscrepancyTiers holds the pct-diff boundaries separating LOW/MEDIUM/HIGH
// discrepancy tiers (spec §4.1).
type DiscrepancyTiers struct {
	LowMax    float64 `yaml:"low_max"`
	MediumMax float64 `yaml:"medium_max"`
}

// ReconciliationConfig holds the classifier's numeric tolerances.
type ReconciliationConfig struct {
	BaseTolerancePct       float64          `yaml:"base_tolerance_pct"`
	DiscrepancyTiers       DiscrepancyTiers `yaml:"discrepancy_tiers"`
	OverclaimThresholdPct  float64          `yaml:"overclaim_threshold_pct"`
	OverclaimCriticalPct   float64          `yaml:"overclaim_critical_pct"`
	GrowthPerHourPct       float64          `yaml:"growth_per_hour_pct"`
	GrowthCapHours         float64          `yaml:"growth_cap_hours"`
}

// TrustScoringConfig holds the bounds and bucket thresholds for the trust
// state machine.
type TrustScoringConfig struct {
	MinScore                     float64 `yaml:"min_score"`
	MaxScore                     float64 `yaml:"max_score"`
	DefaultScore                 float64 `yaml:"default_score"`
	ReducedFrequencyThreshold    float64 `yaml:"reduced_frequency_threshold"`
	IncreasedMonitoringThreshold float64 `yaml:"increased_monitoring_threshold"`
	ManualReviewThreshold        float64 `yaml:"manual_review_threshold"`
}

// CircuitBreakerConfig holds per-platform breaker tuning.
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	OpenCooldown     time.Duration `yaml:"-"`
	OpenCooldownRaw  int           `yaml:"open_cooldown_seconds"`
	HalfOpenProbes   int           `yaml:"half_open_probes"`
}

// BackoffPolicyConfig holds the exponential-backoff-with-jitter parameters
// for the in-attempt fetch retry loop.
type BackoffPolicyConfig struct {
	Base        time.Duration `yaml:"-"`
	BaseRaw     float64       `yaml:"base_seconds"`
	Factor      float64       `yaml:"factor"`
	Max         time.Duration `yaml:"-"`
	MaxRaw      float64       `yaml:"max_seconds"`
	JitterPct   float64       `yaml:"jitter_pct"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// MissingRetryConfig governs the outer retry schedule when a platform fetch
// never produces data.
type MissingRetryConfig struct {
	InitialDelay    time.Duration `yaml:"-"`
	InitialDelayRaw int           `yaml:"initial_delay_minutes"`
	MaxAttempts     int           `yaml:"max_attempts"`
	WindowHours     int           `yaml:"window_hours"`
}

// IncompleteRetryConfig governs the outer retry schedule when a platform
// fetch produces a partial result.
type IncompleteRetryConfig struct {
	MaxAdditionalAttempts int           `yaml:"max_additional_attempts"`
	Delay                 time.Duration `yaml:"-"`
	DelayRaw              int           `yaml:"delay_minutes"`
}

// RetryPolicyConfig groups the two outer-retry schedules.
type RetryPolicyConfig struct {
	Missing    MissingRetryConfig    `yaml:"missing"`
	Incomplete IncompleteRetryConfig `yaml:"incomplete"`
}

// QueuePrioritiesConfig maps priority labels to numeric heap keys (lower
// sorts first).
type QueuePrioritiesConfig struct {
	High   int `yaml:"high"`
	Normal int `yaml:"normal"`
	Low    int `yaml:"low"`
}

// QueueConfig governs the priority+delay queue, including which backend
// implements it.
type QueueConfig struct {
	Backend     string                `yaml:"backend"` // "memory" or "redis"
	Priorities  QueuePrioritiesConfig `yaml:"priorities"`
	WarnDepth   int                   `yaml:"warn_depth"`
	MaxInMemory int                   `yaml:"max_in_memory"`
	RedisAddr   string                `yaml:"redis_addr"`
}

// AlertingConfig governs alert rule escalation.
type AlertingConfig struct {
	RepeatOverclaimWindow    time.Duration `yaml:"-"`
	RepeatOverclaimWindowRaw int           `yaml:"repeat_overclaim_window_hours"`
}

// DataQualityConfig governs submission-time suspicion-flag thresholds.
type DataQualityConfig struct {
	MaxCTR                 float64 `yaml:"max_ctr"`
	MaxCVR                 float64 `yaml:"max_cvr"`
	MaxGrowthMultiple      float64 `yaml:"max_growth_multiple"`
	EvidenceRequiredViews  int64   `yaml:"evidence_required_views"`
	MonotonicTolerancePct  float64 `yaml:"monotonic_tolerance_pct"`
	MinViewsForCTR         int64   `yaml:"min_views_for_ctr"`
	MinClicksForCVR        int64   `yaml:"min_clicks_for_cvr"`
}

// LoggingConfig governs the ambient zap/logr logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ServerConfig governs ambient ports (metrics scrape endpoint); the engine
// itself is not an HTTP server per spec.md Non-goals.
type ServerConfig struct {
	MetricsPort string `yaml:"metrics_port"`
}

// IdempotencyConfig governs internal/idempotency's Redis-backed guard
// against double-processing the same queued job.
type IdempotencyConfig struct {
	Enabled   bool          `yaml:"enabled"`
	RedisAddr string        `yaml:"redis_addr"`
	TTL       time.Duration `yaml:"-"`
	TTLRaw    int           `yaml:"ttl_minutes"`
}

// SlackConfig governs the optional Slack alert sink.
type SlackConfig struct {
	Enabled     bool   `yaml:"enabled"`
	BotToken    string `yaml:"-"` // always sourced from SLACK_BOT_TOKEN, never the config file
	Channel     string `yaml:"channel"`
	MinSeverity string `yaml:"min_severity"` // only alerts at/above this severity are posted
}

// PlatformEndpointConfig is one entry in the static platform->base-URL map
// internal/fetcher/adapters.BuildRegistry turns into an AdapterRegistry,
// replacing original_source's dynamic per-platform module import.
type PlatformEndpointConfig struct {
	Name    string `yaml:"name"`
	BaseURL string `yaml:"base_url"`
}

// FetcherConfig governs the platform adapter registry and per-call timeout.
type FetcherConfig struct {
	Platforms    []PlatformEndpointConfig `yaml:"platforms"`
	FetchTimeout time.Duration            `yaml:"-"`
	FetchTimeoutRaw int                   `yaml:"fetch_timeout_seconds"`
}

// DatabaseConfig governs the Postgres repository connection, used only
// when Database.Backend picks the postgres-backed implementation.
type DatabaseConfig struct {
	Backend string `yaml:"backend"` // "memory" or "postgres"
	DSN     string `yaml:"-"`       // always sourced from DATABASE_URL, never the config file
}

// Config is the full set of reconciliation engine tunables.
type Config struct {
	Reconciliation ReconciliationConfig `yaml:"reconciliation"`
	TrustScoring   TrustScoringConfig   `yaml:"trust_scoring"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	BackoffPolicy  BackoffPolicyConfig  `yaml:"backoff_policy"`
	RetryPolicy    RetryPolicyConfig    `yaml:"retry_policy"`
	Queue          QueueConfig          `yaml:"queue"`
	Alerting       AlertingConfig       `yaml:"alerting"`
	DataQuality    DataQualityConfig    `yaml:"data_quality"`
	Logging        LoggingConfig        `yaml:"logging"`
	Server         ServerConfig         `yaml:"server"`
	Idempotency    IdempotencyConfig    `yaml:"idempotency"`
	Slack          SlackConfig          `yaml:"slack"`
	Fetcher        FetcherConfig        `yaml:"fetcher"`
	Database       DatabaseConfig       `yaml:"database"`
	NumWorkers     int                  `yaml:"num_workers"`
}

// Default returns a Config populated with the spec's §4.1 numeric defaults.
func Default() *Config {
	return &Config{
		Reconciliation: ReconciliationConfig{
			BaseTolerancePct: 0.05,
			DiscrepancyTiers: DiscrepancyTiers{LowMax: 0.10, MediumMax: 0.20},
			OverclaimThresholdPct: 0.20,
			OverclaimCriticalPct:  0.50,
			GrowthPerHourPct:      0.10,
			GrowthCapHours:        24,
		},
		TrustScoring: TrustScoringConfig{
			MinScore: 0.0, MaxScore: 1.0, DefaultScore: 0.50,
			ReducedFrequencyThreshold:    0.75,
			IncreasedMonitoringThreshold: 0.50,
			ManualReviewThreshold:        0.25,
		},
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold: 5, OpenCooldown: 300 * time.Second, OpenCooldownRaw: 300, HalfOpenProbes: 3,
		},
		BackoffPolicy: BackoffPolicyConfig{
			Base: time.Second, BaseRaw: 1, Factor: 2, Max: 60 * time.Second, MaxRaw: 60,
			JitterPct: 0.10, MaxAttempts: 3,
		},
		RetryPolicy: RetryPolicyConfig{
			Missing:    MissingRetryConfig{InitialDelay: 30 * time.Minute, InitialDelayRaw: 30, MaxAttempts: 5, WindowHours: 24},
			Incomplete: IncompleteRetryConfig{MaxAdditionalAttempts: 1, Delay: 15 * time.Minute, DelayRaw: 15},
		},
		Queue: QueueConfig{
			Backend:     "memory",
			Priorities:  QueuePrioritiesConfig{High: 0, Normal: 5, Low: 10},
			WarnDepth:   1000,
			MaxInMemory: 5000,
		},
		Alerting: AlertingConfig{RepeatOverclaimWindow: 24 * time.Hour, RepeatOverclaimWindowRaw: 24},
		DataQuality: DataQualityConfig{
			MaxCTR: 0.35, MaxCVR: 0.60, MaxGrowthMultiple: 5.0,
			EvidenceRequiredViews: 50000, MonotonicTolerancePct: 0.01,
			MinViewsForCTR: 100, MinClicksForCVR: 20,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Server:  ServerConfig{MetricsPort: "9090"},
		Idempotency: IdempotencyConfig{
			Enabled: false, TTL: 24 * time.Hour, TTLRaw: 24 * 60,
		},
		Slack: SlackConfig{Enabled: false, MinSeverity: "HIGH"},
		Fetcher: FetcherConfig{
			FetchTimeout: 10 * time.Second, FetchTimeoutRaw: 10,
		},
		Database:   DatabaseConfig{Backend: "memory"},
		NumWorkers: 4,
	}
}

// Load reads and parses a YAML config file, merging over defaults, applying
// environment overrides, and validating the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.NewDatabaseError("read config file", err).
			WithDetailsf("failed to read config file: %s", path)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, apperrors.NewValidationError("failed to parse config file").WithDetails(err.Error())
	}

	resolveDurations(cfg)

	if err := loadFromEnv(cfg); err != nil {
		return nil, err
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// resolveDurations converts the raw numeric yaml fields into time.Duration,
// since yaml.v3 doesn't natively decode "30" into a Duration the way a
// "30m" string would.
func resolveDurations(cfg *Config) {
	if cfg.CircuitBreaker.OpenCooldownRaw > 0 {
		cfg.CircuitBreaker.OpenCooldown = time.Duration(cfg.CircuitBreaker.OpenCooldownRaw) * time.Second
	}
	if cfg.BackoffPolicy.BaseRaw > 0 {
		cfg.BackoffPolicy.Base = time.Duration(cfg.BackoffPolicy.BaseRaw * float64(time.Second))
	}
	if cfg.BackoffPolicy.MaxRaw > 0 {
		cfg.BackoffPolicy.Max = time.Duration(cfg.BackoffPolicy.MaxRaw * float64(time.Second))
	}
	if cfg.RetryPolicy.Missing.InitialDelayRaw > 0 {
		cfg.RetryPolicy.Missing.InitialDelay = time.Duration(cfg.RetryPolicy.Missing.InitialDelayRaw) * time.Minute
	}
	if cfg.RetryPolicy.Incomplete.DelayRaw > 0 {
		cfg.RetryPolicy.Incomplete.Delay = time.Duration(cfg.RetryPolicy.Incomplete.DelayRaw) * time.Minute
	}
	if cfg.Alerting.RepeatOverclaimWindowRaw > 0 {
		cfg.Alerting.RepeatOverclaimWindow = time.Duration(cfg.Alerting.RepeatOverclaimWindowRaw) * time.Hour
	}
	if cfg.Idempotency.TTLRaw > 0 {
		cfg.Idempotency.TTL = time.Duration(cfg.Idempotency.TTLRaw) * time.Minute
	}
	if cfg.Fetcher.FetchTimeoutRaw > 0 {
		cfg.Fetcher.FetchTimeout = time.Duration(cfg.Fetcher.FetchTimeoutRaw) * time.Second
	}
}

// loadFromEnv overrides a small set of settings from the environment: queue
// backend and Redis addresses, log level, metrics port, Slack credentials,
// the database DSN, and the default trust score. The other business
// tunables (tolerances, thresholds) are config-file-only.
func loadFromEnv(cfg *Config) error {
	if v := os.Getenv("QUEUE_BACKEND"); v != "" {
		cfg.Queue.Backend = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("METRICS_PORT"); v != "" {
		cfg.Server.MetricsPort = v
	}
	if v := os.Getenv("QUEUE_REDIS_ADDR"); v != "" {
		cfg.Queue.RedisAddr = v
	}
	if v := os.Getenv("IDEMPOTENCY_REDIS_ADDR"); v != "" {
		cfg.Idempotency.RedisAddr = v
	}
	// Slack's bot token is a secret; it never lives in the YAML config file.
	if v := os.Getenv("SLACK_BOT_TOKEN"); v != "" {
		cfg.Slack.BotToken = v
	}
	if v := os.Getenv("SLACK_CHANNEL"); v != "" {
		cfg.Slack.Channel = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("TRUST_DEFAULT_SCORE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return apperrors.NewValidationError("invalid TRUST_DEFAULT_SCORE").WithDetails(err.Error())
		}
		cfg.TrustScoring.DefaultScore = f
	}
	return nil
}

func validate(cfg *Config) error {
	if cfg.Queue.Backend != "memory" && cfg.Queue.Backend != "redis" {
		return apperrors.NewValidationError(
			fmt.Sprintf("unsupported queue backend %q, must be memory or redis", cfg.Queue.Backend))
	}
	if cfg.Reconciliation.DiscrepancyTiers.LowMax >= cfg.Reconciliation.DiscrepancyTiers.MediumMax {
		return apperrors.NewValidationError("discrepancy_tiers.low_max must be less than medium_max")
	}
	if cfg.TrustScoring.DefaultScore < cfg.TrustScoring.MinScore || cfg.TrustScoring.DefaultScore > cfg.TrustScoring.MaxScore {
		return apperrors.NewValidationError(
			fmt.Sprintf("trust_scoring.default_score must be between %v and %v", cfg.TrustScoring.MinScore, cfg.TrustScoring.MaxScore))
	}
	if cfg.CircuitBreaker.FailureThreshold <= 0 {
		return apperrors.NewValidationError("circuit_breaker.failure_threshold must be greater than 0")
	}
	if cfg.BackoffPolicy.MaxAttempts <= 0 {
		return apperrors.NewValidationError("backoff_policy.max_attempts must be greater than 0")
	}
	if cfg.Queue.MaxInMemory <= 0 {
		return apperrors.NewValidationError("queue.max_in_memory must be greater than 0")
	}
	if cfg.Idempotency.Enabled && cfg.Idempotency.RedisAddr == "" {
		return apperrors.NewValidationError("idempotency.redis_addr is required when idempotency.enabled is true")
	}
	if cfg.Slack.Enabled && cfg.Slack.Channel == "" {
		return apperrors.NewValidationError("slack.channel is required when slack.enabled is true")
	}
	if cfg.Database.Backend != "memory" && cfg.Database.Backend != "postgres" {
		return apperrors.NewValidationError(
			fmt.Sprintf("unsupported database backend %q, must be memory or postgres", cfg.Database.Backend))
	}
	if cfg.Database.Backend == "postgres" && cfg.Database.DSN == "" {
		return apperrors.NewValidationError("DATABASE_URL is required when database.backend is postgres")
	}
	if cfg.NumWorkers <= 0 {
		return apperrors.NewValidationError("num_workers must be greater than 0")
	}
	return nil
}

// Watch reloads the config from path whenever it changes on disk, invoking
// onReload with the freshly parsed and validated Config. The returned
// function stops the watch.
func Watch(path string, onReload func(*Config)) (stop func() error, err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "failed to start config watcher")
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "failed to watch config file")
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					if cfg, loadErr := Load(path); loadErr == nil {
						onReload(cfg)
					}
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			case <-done:
				return
			}
		}
	}()

	return func() error {
		close(done)
		return watcher.Close()
	}, nil
}
