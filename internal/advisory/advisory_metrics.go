package advisory

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the advisory subsystem.
type Metrics struct {
	DecisionsTotal     *prometheus.CounterVec
	DecisionErrors     prometheus.Counter
	StateChangesTotal  *prometheus.CounterVec
	NoChangeTotal      prometheus.Counter
	RejectedTotal      *prometheus.CounterVec
	RegressionsAllowed prometheus.Counter
	ApplyDuration      prometheus.Histogram
	BatchSize          prometheus.Histogram
	BatchDuration      prometheus.Histogram
}

// NewMetrics registers and returns advisory metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		DecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "verdict_decisions_total",
			Help: "Total decisions by reason code and resulting state.",
		}, []string{"reason_code", "state"}),
		DecisionErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "verdict_decision_errors_total",
			Help: "Total records that produced a synthetic ERROR decision.",
		}),
		StateChangesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "verdict_state_changes_total",
			Help: "Total new history versions created, by new state.",
		}, []string{"state"}),
		NoChangeTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "verdict_state_no_change_total",
			Help: "Total idempotent re-evaluations that created no version.",
		}),
		RejectedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "verdict_transitions_rejected_total",
			Help: "Total transitions rejected by the state machine.",
		}, []string{"from", "to"}),
		RegressionsAllowed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "verdict_regressions_allowed_total",
			Help: "Total final-to-non-final transitions applied under the regression override.",
		}),
		ApplyDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "verdict_apply_duration_seconds",
			Help:    "Duration of single-advisory state applies in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms .. ~4s
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "verdict_batch_size",
			Help:    "Records per batch evaluation.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14), // 1 .. ~8192
		}),
		BatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "verdict_batch_duration_seconds",
			Help:    "Duration of batch evaluations in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms .. ~40s
		}),
	}

	reg.MustRegister(
		m.DecisionsTotal,
		m.DecisionErrors,
		m.StateChangesTotal,
		m.NoChangeTotal,
		m.RejectedTotal,
		m.RegressionsAllowed,
		m.ApplyDuration,
		m.BatchSize,
		m.BatchDuration,
	)

	return m
}

// Hooks returns a ServiceHooks that increments the corresponding metrics.
func (m *Metrics) Hooks() ServiceHooks {
	return ServiceHooks{
		OnDecision: func(reasonCode string, state State) {
			m.DecisionsTotal.WithLabelValues(reasonCode, string(state)).Inc()
			if reasonCode == "ERROR" {
				m.DecisionErrors.Inc()
			}
		},
		OnApply: func(changed bool, state State, seconds float64) {
			if changed {
				m.StateChangesTotal.WithLabelValues(string(state)).Inc()
			} else {
				m.NoChangeTotal.Inc()
			}
			m.ApplyDuration.Observe(seconds)
		},
		OnRejected: func(from, to State) {
			m.RejectedTotal.WithLabelValues(string(from), string(to)).Inc()
		},
		OnRegressionAllowed: func() {
			m.RegressionsAllowed.Inc()
		},
		OnBatch: func(size int, seconds float64) {
			m.BatchSize.Observe(float64(size))
			m.BatchDuration.Observe(seconds)
		},
	}
}
