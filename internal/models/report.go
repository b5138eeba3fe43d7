package models

import "time"

// Health score bands.
const (
	BandExcellent = "excellent"
	BandGood      = "good"
	BandDegraded  = "degraded"
	BandCritical  = "critical"
)

// CycleReport summarises one full healing cycle. It is always returned, even
// when individual steps failed.
type CycleReport struct {
	ID               string        `json:"id"`
	StartedAt        time.Time     `json:"started_at"`
	Duration         time.Duration `json:"duration"`
	HealthScore      float64       `json:"health_score"`
	Band             string        `json:"band"`
	AnomalyCount     int           `json:"anomaly_count"`
	ChangeCount      int           `json:"change_count"`
	ActionCount      int           `json:"action_count"`
	AlertsDispatched int           `json:"alerts_dispatched"`
	AlertsSuppressed int           `json:"alerts_suppressed"`
	MatchedRules     []string      `json:"matched_rules,omitempty"`
	Errors           []string      `json:"errors,omitempty"`
}

// PerformanceHistory is the rolling window plus the detector settings.
type PerformanceHistory struct {
	Samples          []HealthSample `json:"samples"`
	WindowSize       int            `json:"window_size"`
	AnomalyThreshold float64        `json:"anomaly_threshold"`
}

// Dashboard is the consolidated view over the latest engine state.
type Dashboard struct {
	GeneratedAt   time.Time             `json:"generated_at"`
	HealthScore   *float64              `json:"health_score,omitempty"`
	Band          string                `json:"band,omitempty"`
	Status        HealingStatus         `json:"status"`
	Sample        *HealthSample         `json:"sample,omitempty"`
	Dependencies  []DependencyStatus    `json:"dependencies"`
	Endpoints     []EndpointCheckResult `json:"endpoints"`
	Anomalies     []Anomaly             `json:"anomalies"`
	RecentActions []HealingAction       `json:"recent_actions"`
	RecentChanges []ChangeRecord        `json:"recent_changes"`
	History       PerformanceHistory    `json:"history"`
	Alerts        AlertOverview         `json:"alerts"`
	LastCycle     *CycleReport          `json:"last_cycle,omitempty"`
}
