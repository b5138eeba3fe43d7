package models

import "time"

// Severity captures impact levels.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// AnomalyTypePerformance is the only anomaly type the detector emits.
const AnomalyTypePerformance = "performance"

// AnomalyMetrics is the statistical snapshot behind an anomaly.
type AnomalyMetrics struct {
	Current float64 `json:"current"`
	Mean    float64 `json:"mean"`
	StdDev  float64 `json:"stddev"`
	ZScore  float64 `json:"z_score"`
}

// Anomaly is a statistically significant deviation of one metric.
type Anomaly struct {
	ID               string         `json:"id"`
	Component        string         `json:"component"`
	Type             string         `json:"type"`
	Severity         Severity       `json:"severity"`
	Description      string         `json:"description"`
	DetectedAt       time.Time      `json:"detected_at"`
	Metrics          AnomalyMetrics `json:"metrics"`
	Confidence       float64        `json:"confidence"`
	SuggestedAction  string         `json:"suggested_action"`
	AutoHealPossible bool           `json:"auto_heal_possible"`
}

// ChangeRecord reports drift of a metric away from the captured baseline.
type ChangeRecord struct {
	ID          string    `json:"id"`
	Component   string    `json:"component"`
	ChangeType  string    `json:"change_type"`
	OldValue    string    `json:"old_value"`
	NewValue    string    `json:"new_value"`
	Timestamp   time.Time `json:"timestamp"`
	ImpactLevel Severity  `json:"impact_level"`
	DetectedBy  string    `json:"detected_by"`
}
