package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CreditOpMetrics counts credit engine operations by outcome.
type CreditOpMetrics struct {
	duration *prometheus.HistogramVec
	outcomes *prometheus.CounterVec
	replays  *prometheus.CounterVec
}

// NewCreditOpMetrics registers credit operation metrics on the provided registerer.
func NewCreditOpMetrics(reg prometheus.Registerer) *CreditOpMetrics {
	if reg == nil {
		return &CreditOpMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "credit_op_duration_seconds",
		Help:    "Duration of credit ledger operations in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "credit_op_total",
		Help: "Credit ledger operations by operation and outcome.",
	}, []string{"op", "outcome"})
	replays := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "credit_op_replays_total",
		Help: "Idempotent replays served without a new ledger write.",
	}, []string{"op"})
	reg.MustRegister(duration, outcomes, replays)
	return &CreditOpMetrics{
		duration: duration,
		outcomes: outcomes,
		replays:  replays,
	}
}

// ObserveDuration records the duration of the named operation.
func (m *CreditOpMetrics) ObserveDuration(op string, duration time.Duration) {
	if m == nil || m.duration == nil {
		return
	}
	m.duration.WithLabelValues(normalizeLabel(op)).Observe(duration.Seconds())
}

// IncOutcome counts one finished operation with its outcome label
// ("ok", "insufficient_balance", "conflict", "error").
func (m *CreditOpMetrics) IncOutcome(op, outcome string) {
	if m == nil || m.outcomes == nil {
		return
	}
	m.outcomes.WithLabelValues(normalizeLabel(op), normalizeLabel(outcome)).Inc()
}

// IncReplay counts an idempotent replay for the named operation.
func (m *CreditOpMetrics) IncReplay(op string) {
	if m == nil || m.replays == nil {
		return
	}
	m.replays.WithLabelValues(normalizeLabel(op)).Inc()
}
