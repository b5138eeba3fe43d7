package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels cycles that completed without step errors.
	OutcomeSuccess = "success"
	// OutcomeDegraded labels cycles where at least one step failed.
	OutcomeDegraded = "degraded"
	// OutcomeRejected labels cycle requests refused because one was in flight.
	OutcomeRejected = "rejected"
)

// Alert results.
const (
	AlertDispatched = "dispatched"
	AlertSuppressed = "suppressed"
	AlertFailed     = "failed"
)

const namespace = "mirador_healing"

var (
	cyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Total number of healing cycles, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	cycleDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_seconds",
			Help:      "Healing cycle latency in seconds.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		},
	)

	healthScore = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "health_score",
			Help:      "Most recent composite health score (0-100).",
		},
	)

	anomaliesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "anomalies_total",
			Help:      "Anomalies detected, partitioned by metric and severity.",
		},
		[]string{"metric", "severity"},
	)

	healingActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "healing_actions_total",
			Help:      "Remediation actions executed, partitioned by action type and outcome.",
		},
		[]string{"action", "outcome"},
	)

	alertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Alert evaluations that fired, partitioned by alert id and result.",
		},
		[]string{"alert", "result"},
	)

	failuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failures_total",
			Help:      "Recovered failures, partitioned by error kind.",
		},
		[]string{"kind"},
	)

	probeDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "probe_seconds",
			Help:      "Latency of dependency, endpoint and system probes.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"kind"},
	)
)

// Register attaches collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		cyclesTotal,
		cycleDurationSeconds,
		healthScore,
		anomaliesTotal,
		healingActionsTotal,
		alertsTotal,
		failuresTotal,
		probeDurationSeconds,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveCycle records a cycle duration and outcome label.
func ObserveCycle(duration time.Duration, outcome string) {
	cyclesTotal.WithLabelValues(outcome).Inc()
	if outcome == OutcomeRejected {
		return
	}
	if duration < 0 {
		duration = 0
	}
	cycleDurationSeconds.Observe(duration.Seconds())
}

// SetHealthScore publishes the latest score.
func SetHealthScore(score float64) {
	healthScore.Set(score)
}

// IncAnomaly counts a detected anomaly.
func IncAnomaly(metric, severity string) {
	anomaliesTotal.WithLabelValues(metric, severity).Inc()
}

// IncHealingAction counts an executed action.
func IncHealingAction(action string, success bool) {
	outcome := "failed"
	if success {
		outcome = "succeeded"
	}
	healingActionsTotal.WithLabelValues(action, outcome).Inc()
}

// IncAlert counts a fired alert by result.
func IncAlert(alertID, result string) {
	alertsTotal.WithLabelValues(alertID, result).Inc()
}

// IncFailure counts a recovered failure of the given kind.
func IncFailure(kind string) {
	if kind == "" {
		kind = "unknown"
	}
	failuresTotal.WithLabelValues(kind).Inc()
}

// ObserveProbe records how long a probe of the given kind took.
func ObserveProbe(kind string, duration time.Duration) {
	probeDurationSeconds.WithLabelValues(kind).Observe(duration.Seconds())
}
