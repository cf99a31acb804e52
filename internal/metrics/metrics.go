// Package metrics instruments the reconciliation engine for Prometheus
// scrape, grounded in the teacher's gateway metrics package (e.g.
// test/unit/gateway/metrics/error_recovery_test.go's CounterVec/GaugeVec
// registration pattern): one *prometheus.Registry per process, plain
// Counter/Gauge/Histogram vectors registered at construction, exposed via
// promhttp.Handler. original_source has no equivalent (the Python service
// never exported metrics); this is a supplemental ambient concern every
// service in the corpus carries.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/P4R1H/affiliate-platform/internal/breaker"
	"github.com/P4R1H/affiliate-platform/internal/queue"
	"github.com/P4R1H/affiliate-platform/pkg/domain"
)

// Metrics holds every Prometheus collector the reconciliation pipeline
// feeds into, plus the registry they're bound to.
type Metrics struct {
	registry *prometheus.Registry

	ReconciliationAttempts *prometheus.CounterVec
	ReconciliationDuration *prometheus.HistogramVec
	AlertsRaised           *prometheus.CounterVec
	QueueDepth             prometheus.Gauge
	BreakerState           *prometheus.GaugeVec
	IdempotencySkips       prometheus.Counter
	SlackDeliveries        *prometheus.CounterVec
}

// New builds and registers every collector against a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		ReconciliationAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reconciliation_attempts_total",
			Help: "Total reconciliation attempts, labeled by final status.",
		}, []string{"status"}),

		ReconciliationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "reconciliation_duration_seconds",
			Help:    "Wall-clock time to run one reconciliation attempt end to end.",
			Buckets: prometheus.DefBuckets,
		}, []string{"status"}),

		AlertsRaised: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alerts_raised_total",
			Help: "Total alerts created, labeled by type and severity.",
		}, []string{"type", "severity"}),

		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "reconciliation_queue_depth",
			Help: "Current number of jobs waiting in the reconciliation queue.",
		}),

		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "platform_breaker_state",
			Help: "Circuit breaker state per platform: 0=CLOSED, 1=HALF_OPEN, 2=OPEN.",
		}, []string{"platform"}),

		IdempotencySkips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "idempotency_duplicate_skips_total",
			Help: "Total jobs skipped because another worker already held the idempotency claim.",
		}),

		SlackDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "slack_alert_deliveries_total",
			Help: "Total Slack alert delivery attempts, labeled by outcome.",
		}, []string{"outcome"}),
	}

	m.registry.MustRegister(
		m.ReconciliationAttempts,
		m.ReconciliationDuration,
		m.AlertsRaised,
		m.QueueDepth,
		m.BreakerState,
		m.IdempotencySkips,
		m.SlackDeliveries,
	)
	return m
}

// Handler serves the registered collectors in the Prometheus text exposition
// format, meant to be mounted at /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveReconciliation records one completed attempt's outcome and latency.
func (m *Metrics) ObserveReconciliation(status domain.ReconciliationStatus, seconds float64) {
	m.ReconciliationAttempts.WithLabelValues(string(status)).Inc()
	m.ReconciliationDuration.WithLabelValues(string(status)).Observe(seconds)
}

// ObserveAlert records one alert creation.
func (m *Metrics) ObserveAlert(alert *domain.Alert) {
	if alert == nil {
		return
	}
	m.AlertsRaised.WithLabelValues(string(alert.Type), string(alert.Severity)).Inc()
}

var breakerStateValue = map[breaker.State]float64{
	breaker.Closed:   0,
	breaker.HalfOpen: 1,
	breaker.Open:     2,
}

// SampleQueue records the given queue's current depth.
func (m *Metrics) SampleQueue(q queue.Queue) {
	m.QueueDepth.Set(float64(q.Depth()))
}

// SampleBreakers records every platform breaker's current state from a
// registry snapshot.
func (m *Metrics) SampleBreakers(snapshots map[string]breaker.Snapshot) {
	for platform, snap := range snapshots {
		m.BreakerState.WithLabelValues(platform).Set(breakerStateValue[snap.State])
	}
}
