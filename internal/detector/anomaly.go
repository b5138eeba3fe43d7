package detector

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-healing/internal/models"
)

const (
	// DefaultThreshold is the z-score above which a deviation is anomalous.
	DefaultThreshold = 2.0
	// DefaultMinSamples is the smallest window the detector computes statistics on.
	DefaultMinSamples = 5

	maxConfidence = 95.0
	flatEpsilon   = 1e-9
)

// TrackedMetrics are the metrics the anomaly detector analyses.
var TrackedMetrics = []string{
	models.MetricCPUUsage,
	models.MetricMemoryUsage,
	models.MetricAPIResponseTime,
	models.MetricErrorRate,
}

type remedy struct {
	action   string
	autoHeal bool
}

var remedies = map[string]remedy{
	models.MetricCPUUsage:        {action: "restart heavy processes, optimize hot paths or scale out", autoHeal: true},
	models.MetricMemoryUsage:     {action: "clear caches, restart the backend and check for leaks", autoHeal: true},
	models.MetricAPIResponseTime: {action: "clear caches and optimize slow queries", autoHeal: true},
	models.MetricErrorRate:       {action: "reconnect the database or roll back the latest deploy", autoHeal: false},
}

// AnomalyDetector flags metrics whose current value deviates from the window.
type AnomalyDetector struct {
	threshold  float64
	minSamples int
	now        func() time.Time
}

// NewAnomalyDetector creates a z-score detector. Non-positive arguments use defaults.
func NewAnomalyDetector(threshold float64, minSamples int) *AnomalyDetector {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if minSamples < 2 {
		// A sample standard deviation needs at least two points.
		minSamples = DefaultMinSamples
	}
	return &AnomalyDetector{
		threshold:  threshold,
		minSamples: minSamples,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Threshold returns the configured z-score threshold.
func (d *AnomalyDetector) Threshold() float64 {
	return d.threshold
}

// Detect analyses current against window. The window is expected to already
// contain current when called from a cycle.
func (d *AnomalyDetector) Detect(current models.HealthSample, window []models.HealthSample) []models.Anomaly {
	anomalies := make([]models.Anomaly, 0)
	for _, metric := range TrackedMetrics {
		value, ok := current.Value(metric)
		if !ok {
			continue
		}
		series := metricSeries(window, metric)
		if len(series) < d.minSamples {
			continue
		}
		mean, stdDev := meanStdDev(series)
		if stdDev == 0 {
			// A flat history gives no statistical basis for an anomaly.
			continue
		}
		z := math.Abs(value-mean) / stdDev
		if z <= d.threshold {
			continue
		}
		anomalies = append(anomalies, d.newAnomaly(metric, value, mean, stdDev, z))
	}
	return anomalies
}

func (d *AnomalyDetector) newAnomaly(metric string, value, mean, stdDev, z float64) models.Anomaly {
	r := remedies[metric]
	return models.Anomaly{
		ID:          uuid.NewString(),
		Component:   metric,
		Type:        models.AnomalyTypePerformance,
		Severity:    SeverityForZ(z),
		Description: fmt.Sprintf("%s is %.2f, %.1f standard deviations from the recent mean of %.2f", metric, value, z, mean),
		DetectedAt:  d.now(),
		Metrics: models.AnomalyMetrics{
			Current: value,
			Mean:    mean,
			StdDev:  stdDev,
			ZScore:  z,
		},
		Confidence:       math.Min(maxConfidence, z*20),
		SuggestedAction:  fmt.Sprintf("%s: %s", urgency(value, mean), r.action),
		AutoHealPossible: r.autoHeal,
	}
}

// SeverityForZ maps a z-score onto anomaly severity.
func SeverityForZ(z float64) models.Severity {
	switch {
	case z > 3:
		return models.SeverityCritical
	case z > 2.5:
		return models.SeverityHigh
	default:
		return models.SeverityMedium
	}
}

func urgency(current, mean float64) string {
	switch {
	case current > 2*mean:
		return "URGENT"
	case current > 1.5*mean:
		return "MODERATE"
	default:
		return "MONITOR"
	}
}

func metricSeries(window []models.HealthSample, metric string) []float64 {
	series := make([]float64, 0, len(window))
	for _, sample := range window {
		if v, ok := sample.Value(metric); ok {
			series = append(series, v)
		}
	}
	return series
}

// meanStdDev returns the mean and sample (n-1) standard deviation.
func meanStdDev(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	if len(values) < 2 {
		return mean, 0
	}

	variance := 0.0
	for _, v := range values {
		variance += math.Pow(v-mean, 2)
	}
	variance /= float64(len(values) - 1)
	stdDev := math.Sqrt(variance)
	// Rounding noise on a constant series is not spread.
	if stdDev <= flatEpsilon*math.Max(1, math.Abs(mean)) {
		stdDev = 0
	}
	return mean, stdDev
}
