package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SettlementMetrics tracks payment settlement outcomes and latency.
type SettlementMetrics struct {
	attempts     *prometheus.CounterVec
	confirmation *prometheus.HistogramVec
	pending      prometheus.Gauge
}

// NewSettlementMetrics registers the settlement metrics on the provided registerer.
func NewSettlementMetrics(reg prometheus.Registerer) *SettlementMetrics {
	if reg == nil {
		return &SettlementMetrics{}
	}
	attempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_attempts_total",
		Help: "Settlement attempts by flow and outcome.",
	}, []string{"flow", "outcome"})
	confirmation := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "settlement_confirmation_seconds",
		Help:    "Time spent waiting for ledger confirmation.",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 60, 90},
	}, []string{"flow"})
	pending := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "settlement_pending_entitlements",
		Help: "Entitlements currently awaiting reconciliation.",
	})
	reg.MustRegister(attempts, confirmation, pending)
	return &SettlementMetrics{
		attempts:     attempts,
		confirmation: confirmation,
		pending:      pending,
	}
}

// IncAttempt counts one settlement attempt with its terminal outcome label.
func (s *SettlementMetrics) IncAttempt(flow, outcome string) {
	if s == nil || s.attempts == nil {
		return
	}
	s.attempts.WithLabelValues(normalizeLabel(flow), normalizeLabel(outcome)).Inc()
}

// ObserveConfirmation records how long the confirmation wait took.
func (s *SettlementMetrics) ObserveConfirmation(flow string, duration time.Duration) {
	if s == nil || s.confirmation == nil {
		return
	}
	s.confirmation.WithLabelValues(normalizeLabel(flow)).Observe(duration.Seconds())
}

// SetPending reports the current pending entitlement backlog.
func (s *SettlementMetrics) SetPending(count int) {
	if s == nil || s.pending == nil {
		return
	}
	s.pending.Set(float64(count))
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
