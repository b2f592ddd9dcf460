// Package coordinatormetrics exposes the coordinator's Prometheus
// collectors: counters and histograms for sessions, signatures, and
// connections, built on promauto against a caller-supplied registry.
package coordinatormetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector the coordinator registers.
type Metrics struct {
	SessionsCreated   prometheus.Counter
	SessionsCompleted *prometheus.CounterVec // labeled by terminal status
	SignaturesTotal   *prometheus.CounterVec // labeled by outcome
	ParticipantConns  prometheus.Gauge
	ThresholdLatency  prometheus.Histogram // time from transaction_received to threshold_met
	LedgerSubmits     *prometheus.CounterVec // labeled by outcome
	AuthAttempts      *prometheus.CounterVec // labeled by outcome
}

// New registers and returns the coordinator's collectors against reg. Pass
// prometheus.NewRegistry() in tests to avoid polluting the default
// registry across test runs.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "coordinator_sessions_created_total",
			Help: "Total number of signing sessions created.",
		}),
		SessionsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "coordinator_sessions_completed_total",
			Help: "Total number of sessions reaching a terminal status.",
		}, []string{"status"}),
		SignaturesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "coordinator_signatures_total",
			Help: "Total number of signature submissions by outcome.",
		}, []string{"outcome"}),
		ParticipantConns: factory.NewGauge(prometheus.GaugeOpts{
			Name: "coordinator_participant_connections",
			Help: "Current number of live participant WebSocket connections.",
		}),
		ThresholdLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "coordinator_threshold_latency_seconds",
			Help:    "Time from transaction injection to threshold being met.",
			Buckets: prometheus.DefBuckets,
		}),
		LedgerSubmits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "coordinator_ledger_submits_total",
			Help: "Total ledger submission attempts by outcome.",
		}, []string{"outcome"}),
		AuthAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "coordinator_auth_attempts_total",
			Help: "Total AUTH attempts by outcome.",
		}, []string{"outcome"}),
	}
}

// ObserveThresholdLatency records the duration between a session's
// transaction injection and its threshold being met.
func (m *Metrics) ObserveThresholdLatency(d time.Duration) {
	m.ThresholdLatency.Observe(d.Seconds())
}
