package orchestrator

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus collectors for the dispatch engine.
type Metrics struct {
	DecisionsTotal   *prometheus.CounterVec
	FailuresTotal    *prometheus.CounterVec
	ViolationsTotal  *prometheus.CounterVec
	DecisionDuration prometheus.Histogram
	OutcomesTotal    *prometheus.CounterVec
	OutcomeQuality   prometheus.Histogram
	OperationsTotal  *prometheus.CounterVec
	RegisteredAgents prometheus.Gauge
}

// NewMetrics returns the process-wide dispatch metrics.
//
// Collectors are registered once with the default registry so multiple
// engines in one process (tests, hot reload) share them. Counters and
// dispatch_registered_agents therefore sum over every engine in the
// process; an id registered again on the same engine is not counted twice.
//
// Metrics:
//   - dispatch_decisions_total{autonomy_level}
//   - dispatch_decision_failures_total{reason}
//   - dispatch_policy_violations_total{policy_id,severity}
//   - dispatch_decision_duration_seconds
//   - dispatch_outcomes_total{result}
//   - dispatch_outcome_quality
//   - dispatch_operations_total{result}
//   - dispatch_registered_agents
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			DecisionsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "dispatch",
					Name:      "decisions_total",
					Help:      "Total decisions made, by autonomy level",
				},
				[]string{"autonomy_level"},
			),
			FailuresTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "dispatch",
					Name:      "decision_failures_total",
					Help:      "Total failed decision calls, by reason",
				},
				[]string{"reason"}, // "no_suitable_agent", "invalid_context", "canceled", "internal"
			),
			ViolationsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "dispatch",
					Name:      "policy_violations_total",
					Help:      "Total policy violations flagged, by policy and severity",
				},
				[]string{"policy_id", "severity"},
			),
			DecisionDuration: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: "dispatch",
					Name:      "decision_duration_seconds",
					Help:      "Duration of decision calls in seconds",
					Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
				},
			),
			OutcomesTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "dispatch",
					Name:      "outcomes_total",
					Help:      "Total execution outcomes recorded",
				},
				[]string{"result"}, // "success" or "failure"
			),
			OutcomeQuality: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: "dispatch",
					Name:      "outcome_quality",
					Help:      "Reported quality scores (0-100)",
					Buckets:   prometheus.LinearBuckets(0, 10, 11),
				},
			),
			OperationsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "dispatch",
					Name:      "operations_total",
					Help:      "Total operations run by the executor",
				},
				[]string{"result"},
			),
			RegisteredAgents: promauto.NewGauge(
				prometheus.GaugeOpts{
					Namespace: "dispatch",
					Name:      "registered_agents",
					Help:      "Number of distinct agents registered, summed over engines in the process",
				},
			),
		}
	})
	return globalMetrics
}

// observeViolations counts each violation.
func (m *Metrics) observeViolations(violations []PolicyViolation) {
	for _, v := range violations {
		m.ViolationsTotal.WithLabelValues(v.PolicyID, string(v.Severity)).Inc()
	}
}
