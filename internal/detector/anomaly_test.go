package detector

import (
	"math"
	"strings"
	"testing"

	"github.com/miradorstack/mirador-healing/internal/models"
)

func cpuWindow(values ...float64) []models.HealthSample {
	window := make([]models.HealthSample, 0, len(values))
	for _, v := range values {
		window = append(window, models.HealthSample{CPUUsage: v})
	}
	return window
}

func repeat(value float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = value
	}
	return out
}

func findAnomaly(anomalies []models.Anomaly, metric string) (models.Anomaly, bool) {
	for _, a := range anomalies {
		if a.Component == metric {
			return a, true
		}
	}
	return models.Anomaly{}, false
}

func TestDetectCriticalCPUSpike(t *testing.T) {
	values := append(repeat(15, 25), repeat(25, 25)...)
	detector := NewAnomalyDetector(0, 0)

	anomalies := detector.Detect(models.HealthSample{CPUUsage: 45}, cpuWindow(values...))
	got, ok := findAnomaly(anomalies, models.MetricCPUUsage)
	if !ok {
		t.Fatalf("expected cpu anomaly, got %+v", anomalies)
	}
	if got.Severity != models.SeverityCritical {
		t.Fatalf("expected critical severity, got %s", got.Severity)
	}
	if got.Confidence != 95 {
		t.Fatalf("expected confidence capped at 95, got %f", got.Confidence)
	}
	if !strings.HasPrefix(got.SuggestedAction, "URGENT") {
		t.Fatalf("expected URGENT suggestion, got %q", got.SuggestedAction)
	}
	if math.Abs(got.Metrics.Mean-20) > 1e-9 {
		t.Fatalf("expected mean 20, got %f", got.Metrics.Mean)
	}
	if got.Metrics.ZScore < 4.9 || got.Metrics.ZScore > 5.0 {
		t.Fatalf("expected z close to 5, got %f", got.Metrics.ZScore)
	}
	if !got.AutoHealPossible || got.Type != models.AnomalyTypePerformance || got.ID == "" {
		t.Fatalf("unexpected anomaly fields: %+v", got)
	}
}

func TestDetectFlatHistoryNeverFlags(t *testing.T) {
	detector := NewAnomalyDetector(0, 0)
	for _, base := range []float64{0, 0.1, 20, 99.9} {
		window := cpuWindow(repeat(base, 50)...)
		for _, current := range []float64{0, base * 3, 100, 1e6} {
			if anomalies := detector.Detect(models.HealthSample{CPUUsage: current}, window); len(anomalies) != 0 {
				t.Fatalf("flat window %v with current %v produced %+v", base, current, anomalies)
			}
		}
	}
}

func TestDetectSeverityBands(t *testing.T) {
	values := append(repeat(10, 5), repeat(20, 5)...)
	window := cpuWindow(values...)
	mean, sd := meanStdDev(values)
	detector := NewAnomalyDetector(2.0, 5)

	cases := []struct {
		z    float64
		want models.Severity
	}{
		{1.9, ""},
		{2.2, models.SeverityMedium},
		{2.7, models.SeverityHigh},
		{3.5, models.SeverityCritical},
	}
	for _, tc := range cases {
		anomalies := detector.Detect(models.HealthSample{CPUUsage: mean + tc.z*sd}, window)
		got, ok := findAnomaly(anomalies, models.MetricCPUUsage)
		if tc.want == "" {
			if ok {
				t.Fatalf("z=%.1f: expected no anomaly, got %+v", tc.z, got)
			}
			continue
		}
		if !ok || got.Severity != tc.want {
			t.Fatalf("z=%.1f: expected %s, got %+v", tc.z, tc.want, anomalies)
		}
	}
}

func TestSeverityForZBoundaries(t *testing.T) {
	if SeverityForZ(3) != models.SeverityHigh {
		t.Fatalf("z=3 should be high")
	}
	if SeverityForZ(2.5) != models.SeverityMedium {
		t.Fatalf("z=2.5 should be medium")
	}
	if SeverityForZ(3.0001) != models.SeverityCritical {
		t.Fatalf("z just above 3 should be critical")
	}
}

func TestDetectRequiresMinimumSamples(t *testing.T) {
	detector := NewAnomalyDetector(2.0, 5)
	window := cpuWindow(10, 20, 10, 20)
	if anomalies := detector.Detect(models.HealthSample{CPUUsage: 500}, window); len(anomalies) != 0 {
		t.Fatalf("expected no anomalies with 4 samples, got %+v", anomalies)
	}
}

func TestDetectSkipsUnavailableSamples(t *testing.T) {
	window := cpuWindow(10, 20, 10, 20, 10, 20)
	for i := range window[:3] {
		window[i].Unavailable = []string{models.MetricCPUUsage}
	}
	detector := NewAnomalyDetector(2.0, 5)
	if anomalies := detector.Detect(models.HealthSample{CPUUsage: 500}, window); len(anomalies) != 0 {
		t.Fatalf("expected cpu to be skipped with 3 usable points, got %+v", anomalies)
	}

	current := models.HealthSample{CPUUsage: 500, Unavailable: []string{models.MetricCPUUsage}}
	if anomalies := detector.Detect(current, cpuWindow(10, 20, 10, 20, 10, 20)); len(anomalies) != 0 {
		t.Fatalf("expected unavailable current value to be skipped, got %+v", anomalies)
	}
}

func TestDetectSuggestionUrgency(t *testing.T) {
	if urgency(45, 20) != "URGENT" || urgency(35, 20) != "MODERATE" || urgency(25, 20) != "MONITOR" {
		t.Fatalf("unexpected urgency mapping")
	}
}

func TestErrorRateAnomalyIsNotAutoHealable(t *testing.T) {
	window := make([]models.HealthSample, 0, 10)
	for i := 0; i < 10; i++ {
		window = append(window, models.HealthSample{ErrorRate: float64(i % 2)})
	}
	anomalies := NewAnomalyDetector(2.0, 5).Detect(models.HealthSample{ErrorRate: 40}, window)
	got, ok := findAnomaly(anomalies, models.MetricErrorRate)
	if !ok {
		t.Fatalf("expected error rate anomaly, got %+v", anomalies)
	}
	if got.AutoHealPossible {
		t.Fatalf("error rate anomalies must not be auto-healed")
	}
}

func TestHistoryBounded(t *testing.T) {
	h := NewHistory(3)
	for i := 0; i < 5; i++ {
		h.Append(models.HealthSample{CPUUsage: float64(i)})
	}
	if h.Len() != 3 || h.Size() != 3 {
		t.Fatalf("expected bounded history of 3, got len=%d size=%d", h.Len(), h.Size())
	}
	if h.Samples()[0].CPUUsage != 2 {
		t.Fatalf("expected oldest samples evicted, got %+v", h.Samples())
	}
}
