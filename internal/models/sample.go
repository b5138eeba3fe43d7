package models

import (
	"slices"
	"time"
)

// Metric names shared by the collector, detectors, conditions and alerts.
const (
	MetricCPUUsage          = "cpu_usage"
	MetricMemoryUsage       = "memory_usage"
	MetricDiskUsage         = "disk_usage"
	MetricNetworkLatency    = "network_latency"
	MetricAPIResponseTime   = "api_response_time"
	MetricErrorRate         = "error_rate"
	MetricActiveConnections = "active_connections"
	MetricUptime            = "uptime"
)

// HealthSample is one timestamped reading of system health. Samples are never
// modified after the collector returns them.
type HealthSample struct {
	Timestamp             time.Time `json:"timestamp"`
	CPUUsage              float64   `json:"cpu_usage"`
	MemoryUsage           float64   `json:"memory_usage"`
	DiskUsage             float64   `json:"disk_usage"`
	NetworkLatencyMs      float64   `json:"network_latency_ms"`
	APIResponseTimeMs     float64   `json:"api_response_time_ms"`
	ErrorRate             float64   `json:"error_rate"`
	ActiveConnectionCount int       `json:"active_connection_count"`
	UptimeSeconds         uint64    `json:"uptime_seconds"`
	// Unavailable lists metrics the collector could not read for this sample.
	Unavailable []string `json:"unavailable,omitempty"`
}

// Value returns the named metric and whether it was observed.
func (s HealthSample) Value(metric string) (float64, bool) {
	if slices.Contains(s.Unavailable, metric) {
		return 0, false
	}
	switch metric {
	case MetricCPUUsage:
		return s.CPUUsage, true
	case MetricMemoryUsage:
		return s.MemoryUsage, true
	case MetricDiskUsage:
		return s.DiskUsage, true
	case MetricNetworkLatency:
		return s.NetworkLatencyMs, true
	case MetricAPIResponseTime:
		return s.APIResponseTimeMs, true
	case MetricErrorRate:
		return s.ErrorRate, true
	case MetricActiveConnections:
		return float64(s.ActiveConnectionCount), true
	case MetricUptime:
		return float64(s.UptimeSeconds), true
	default:
		return 0, false
	}
}

// DependencyState classifies a probed dependency.
type DependencyState string

const (
	DependencyHealthy  DependencyState = "healthy"
	DependencyDegraded DependencyState = "degraded"
	DependencyDown     DependencyState = "down"
)

// DependencyStatus is the latest probe result for a named external dependency.
type DependencyStatus struct {
	ServiceName    string          `json:"service_name"`
	Kind           string          `json:"kind"`
	Endpoint       string          `json:"endpoint"`
	Critical       bool            `json:"critical"`
	Status         DependencyState `json:"status"`
	ResponseTimeMs float64         `json:"response_time_ms"`
	LastCheck      time.Time       `json:"last_check"`
	ErrorMessage   string          `json:"error_message,omitempty"`
}

// EndpointState classifies a synthetic endpoint check.
type EndpointState string

const (
	EndpointHealthy EndpointState = "healthy"
	EndpointSlow    EndpointState = "slow"
	EndpointError   EndpointState = "error"
)

// EndpointCheckResult is the outcome of one synthetic request.
type EndpointCheckResult struct {
	Path           string        `json:"path"`
	Method         string        `json:"method"`
	Status         EndpointState `json:"status"`
	ResponseTimeMs float64       `json:"response_time_ms"`
	StatusCode     int           `json:"status_code"`
	ExpectedStatus int           `json:"expected_status"`
	CheckedAt      time.Time     `json:"checked_at"`
	ErrorMessage   string        `json:"error_message,omitempty"`
}
