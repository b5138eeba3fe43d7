package detector

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-healing/internal/models"
)

// ChangeThreshold configures drift detection for one metric.
type ChangeThreshold struct {
	Metric string
	// Delta is the absolute change that registers as a change (medium impact).
	Delta float64
	// HighDelta escalates the impact to high.
	HighDelta float64
	Unit      string
}

// DefaultChangeThresholds are the drift limits for the baselined metrics.
var DefaultChangeThresholds = []ChangeThreshold{
	{Metric: models.MetricCPUUsage, Delta: 20, HighDelta: 40, Unit: "%"},
	{Metric: models.MetricMemoryUsage, Delta: 15, HighDelta: 30, Unit: "%"},
	{Metric: models.MetricAPIResponseTime, Delta: 500, HighDelta: 1000, Unit: "ms"},
}

const changeDetectorName = "change_detector"

// ChangeDetector compares samples against the first observed values. The
// baseline is captured once and kept for the process lifetime unless a
// re-baseline interval is configured. A metric unavailable at capture time is
// baselined from the first later sample that reports it.
type ChangeDetector struct {
	mu         sync.Mutex
	thresholds []ChangeThreshold
	rebaseline time.Duration
	baseline   map[string]float64
	capturedAt time.Time
}

// NewChangeDetector creates a detector; rebaseline <= 0 keeps the baseline forever.
func NewChangeDetector(rebaseline time.Duration, thresholds ...ChangeThreshold) *ChangeDetector {
	if len(thresholds) == 0 {
		thresholds = DefaultChangeThresholds
	}
	return &ChangeDetector{thresholds: thresholds, rebaseline: rebaseline}
}

// Baseline returns a copy of the captured baseline and when it was taken.
func (c *ChangeDetector) Baseline() (map[string]float64, time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]float64, len(c.baseline))
	for k, v := range c.baseline {
		out[k] = v
	}
	return out, c.capturedAt
}

// Detect captures the baseline on first use and otherwise reports one record
// per metric whose drift crosses its threshold.
func (c *ChangeDetector) Detect(sample models.HealthSample) []models.ChangeRecord {
	c.mu.Lock()
	defer c.mu.Unlock()

	expired := c.rebaseline > 0 && sample.Timestamp.Sub(c.capturedAt) >= c.rebaseline
	if c.baseline == nil || expired {
		c.capture(sample)
		return nil
	}

	records := make([]models.ChangeRecord, 0)
	for _, th := range c.thresholds {
		current, ok := sample.Value(th.Metric)
		if !ok {
			continue
		}
		old, ok := c.baseline[th.Metric]
		if !ok {
			c.baseline[th.Metric] = current
			continue
		}
		delta := math.Abs(current - old)
		if delta <= th.Delta {
			continue
		}
		impact := models.SeverityMedium
		if delta > th.HighDelta {
			impact = models.SeverityHigh
		}
		records = append(records, models.ChangeRecord{
			ID:          uuid.NewString(),
			Component:   th.Metric,
			ChangeType:  models.AnomalyTypePerformance,
			OldValue:    formatValue(old, th.Unit),
			NewValue:    formatValue(current, th.Unit),
			Timestamp:   sample.Timestamp,
			ImpactLevel: impact,
			DetectedBy:  changeDetectorName,
		})
	}
	return records
}

func (c *ChangeDetector) capture(sample models.HealthSample) {
	c.baseline = make(map[string]float64, len(c.thresholds))
	for _, th := range c.thresholds {
		if v, ok := sample.Value(th.Metric); ok {
			c.baseline[th.Metric] = v
		}
	}
	c.capturedAt = sample.Timestamp
}

func formatValue(v float64, unit string) string {
	if unit == "ms" {
		return fmt.Sprintf("%.0fms", v)
	}
	return fmt.Sprintf("%.1f%s", v, unit)
}
