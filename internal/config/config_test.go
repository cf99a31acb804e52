package config

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Config", func() {
	var (
		tempDir    string
		configFile string
	)

	BeforeEach(func() {
		var err error
		tempDir, err = os.MkdirTemp("", "config-test")
		Expect(err).NotTo(HaveOccurred())
		configFile = filepath.Join(tempDir, "config.yaml")
	})

	AfterEach(func() {
		os.RemoveAll(tempDir)
	})

	Describe("Load", func() {
		Context("when config file exists with valid content", func() {
			BeforeEach(func() {
				validConfig := `
reconciliation:
  base_tolerance_pct: 0.05
  discrepancy_tiers:
    low_max: 0.10
    medium_max: 0.20
  overclaim_threshold_pct: 0.20
  overclaim_critical_pct: 0.50
  growth_per_hour_pct: 0.10
  growth_cap_hours: 24

trust_scoring:
  min_score: 0.0
  max_score: 1.0
  default_score: 0.50
  reduced_frequency_threshold: 0.75
  increased_monitoring_threshold: 0.50
  manual_review_threshold: 0.25

circuit_breaker:
  failure_threshold: 5
  open_cooldown_seconds: 300
  half_open_probes: 3

backoff_policy:
  base_seconds: 1.0
  factor: 2.0
  max_seconds: 60.0
  jitter_pct: 0.10
  max_attempts: 3

retry_policy:
  missing:
    initial_delay_minutes: 30
    max_attempts: 5
    window_hours: 24
  incomplete:
    max_additional_attempts: 1
    delay_minutes: 15

queue:
  backend: "memory"
  priorities:
    high: 0
    normal: 5
    low: 10
  warn_depth: 1000
  max_in_memory: 5000

alerting:
  repeat_overclaim_window_hours: 24

data_quality:
  max_ctr: 0.35
  max_cvr: 0.60
  max_growth_multiple: 5.0
  evidence_required_views: 50000
  monotonic_tolerance_pct: 0.01
  min_views_for_ctr: 100
  min_clicks_for_cvr: 20

logging:
  level: "info"
  format: "json"

server:
  metrics_port: "9090"
`
				err := os.WriteFile(configFile, []byte(validConfig), 0644)
				Expect(err).NotTo(HaveOccurred())
			})

			It("should load configuration successfully", func() {
				config, err := Load(configFile)
				Expect(err).NotTo(HaveOccurred())
				Expect(config).NotTo(BeNil())

				Expect(config.Reconciliation.BaseTolerancePct).To(Equal(0.05))
				Expect(config.Reconciliation.DiscrepancyTiers.LowMax).To(Equal(0.10))
				Expect(config.Reconciliation.DiscrepancyTiers.MediumMax).To(Equal(0.20))
				Expect(config.Reconciliation.OverclaimThresholdPct).To(Equal(0.20))
				Expect(config.Reconciliation.OverclaimCriticalPct).To(Equal(0.50))
				Expect(config.Reconciliation.GrowthPerHourPct).To(Equal(0.10))
				Expect(config.Reconciliation.GrowthCapHours).To(Equal(24.0))

				Expect(config.TrustScoring.DefaultScore).To(Equal(0.50))
				Expect(config.TrustScoring.ManualReviewThreshold).To(Equal(0.25))

				Expect(config.CircuitBreaker.FailureThreshold).To(Equal(5))
				Expect(config.CircuitBreaker.OpenCooldown).To(Equal(300 * time.Second))
				Expect(config.CircuitBreaker.HalfOpenProbes).To(Equal(3))

				Expect(config.BackoffPolicy.Base).To(Equal(1 * time.Second))
				Expect(config.BackoffPolicy.Factor).To(Equal(2.0))
				Expect(config.BackoffPolicy.Max).To(Equal(60 * time.Second))
				Expect(config.BackoffPolicy.MaxAttempts).To(Equal(3))

				Expect(config.RetryPolicy.Missing.InitialDelay).To(Equal(30 * time.Minute))
				Expect(config.RetryPolicy.Missing.MaxAttempts).To(Equal(5))
				Expect(config.RetryPolicy.Incomplete.Delay).To(Equal(15 * time.Minute))

				Expect(config.Queue.Backend).To(Equal("memory"))
				Expect(config.Queue.WarnDepth).To(Equal(1000))
				Expect(config.Queue.MaxInMemory).To(Equal(5000))

				Expect(config.Alerting.RepeatOverclaimWindow).To(Equal(24 * time.Hour))

				Expect(config.DataQuality.MaxCTR).To(Equal(0.35))
				Expect(config.DataQuality.EvidenceRequiredViews).To(Equal(int64(50000)))

				Expect(config.Logging.Level).To(Equal("info"))
				Expect(config.Server.MetricsPort).To(Equal("9090"))
			})
		})

		Context("when config file has minimal content", func() {
			BeforeEach(func() {
				minimalConfig := `
queue:
  backend: "memory"
`
				err := os.WriteFile(configFile, []byte(minimalConfig), 0644)
				Expect(err).NotTo(HaveOccurred())
			})

			It("should load with defaults for missing values", func() {
				config, err := Load(configFile)
				Expect(err).NotTo(HaveOccurred())

				Expect(config.Queue.Backend).To(Equal("memory"))
				Expect(config.Reconciliation.BaseTolerancePct).To(Equal(0.05))
				Expect(config.CircuitBreaker.FailureThreshold).To(Equal(5))
				Expect(config.TrustScoring.DefaultScore).To(Equal(0.50))
			})
		})

		Context("when config file does not exist", func() {
			It("should return an error", func() {
				_, err := Load("/nonexistent/config.yaml")
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("failed to read config file"))
			})
		})

		Context("when config file has invalid YAML", func() {
			BeforeEach(func() {
				invalidConfig := `
queue:
  backend: [
`
				err := os.WriteFile(configFile, []byte(invalidConfig), 0644)
				Expect(err).NotTo(HaveOccurred())
			})

			It("should return an error", func() {
				_, err := Load(configFile)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("failed to parse config file"))
			})
		})
	})

	Describe("validate", func() {
		var cfg *Config

		BeforeEach(func() {
			cfg = Default()
		})

		Context("when config is valid", func() {
			It("should pass validation", func() {
				Expect(validate(cfg)).NotTo(HaveOccurred())
			})
		})

		Context("when queue backend is unsupported", func() {
			BeforeEach(func() {
				cfg.Queue.Backend = "kafka"
			})

			It("should return a validation error", func() {
				err := validate(cfg)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("unsupported queue backend"))
			})
		})

		Context("when discrepancy tiers are out of order", func() {
			BeforeEach(func() {
				cfg.Reconciliation.DiscrepancyTiers.LowMax = 0.30
				cfg.Reconciliation.DiscrepancyTiers.MediumMax = 0.20
			})

			It("should return a validation error", func() {
				err := validate(cfg)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("low_max must be less than medium_max"))
			})
		})

		Context("when trust score default is out of range", func() {
			BeforeEach(func() {
				cfg.TrustScoring.DefaultScore = 1.5
			})

			It("should return a validation error", func() {
				err := validate(cfg)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("default_score must be between"))
			})
		})

		Context("when circuit breaker failure threshold is zero", func() {
			BeforeEach(func() {
				cfg.CircuitBreaker.FailureThreshold = 0
			})

			It("should return a validation error", func() {
				err := validate(cfg)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("failure_threshold must be greater than 0"))
			})
		})
	})

	Describe("loadFromEnv", func() {
		var cfg *Config

		BeforeEach(func() {
			cfg = Default()
			os.Clearenv()
		})

		AfterEach(func() {
			os.Clearenv()
		})

		Context("when environment variables are set", func() {
			BeforeEach(func() {
				os.Setenv("QUEUE_BACKEND", "redis")
				os.Setenv("LOG_LEVEL", "debug")
				os.Setenv("METRICS_PORT", "9999")
			})

			It("should load values from environment", func() {
				Expect(loadFromEnv(cfg)).NotTo(HaveOccurred())

				Expect(cfg.Queue.Backend).To(Equal("redis"))
				Expect(cfg.Logging.Level).To(Equal("debug"))
				Expect(cfg.Server.MetricsPort).To(Equal("9999"))
			})
		})

		Context("when no environment variables are set", func() {
			It("should not modify config", func() {
				original := *cfg
				Expect(loadFromEnv(cfg)).NotTo(HaveOccurred())
				Expect(*cfg).To(Equal(original))
			})
		})
	})
})
