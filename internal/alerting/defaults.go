package alerting

import (
	"github.com/miradorstack/mirador-healing/internal/models"
	"github.com/miradorstack/mirador-healing/internal/rules"
)

// DefaultConfigs is the alert table used when none is configured.
func DefaultConfigs() []models.AlertConfig {
	return []models.AlertConfig{
		{
			ID:      "low_health_score",
			Channel: models.ChannelLog,
			TriggerConditions: []models.Condition{
				{Type: models.ConditionMetric, Metric: rules.MetricHealthScore, Operator: "<", Threshold: 50},
			},
			CooldownMinutes: 30,
			Severity:        models.SeverityHigh,
			Enabled:         true,
		},
		{
			ID:      "critical_dependency_down",
			Channel: models.ChannelLog,
			TriggerConditions: []models.Condition{
				{Type: models.ConditionDependency, Critical: true, Status: models.DependencyDown},
			},
			CooldownMinutes: 15,
			Severity:        models.SeverityCritical,
			Enabled:         true,
		},
		{
			ID:      "resource_pressure",
			Channel: models.ChannelLog,
			TriggerConditions: []models.Condition{
				{Type: models.ConditionMetric, Metric: models.MetricCPUUsage, Operator: ">", Threshold: 90},
				{Type: models.ConditionMetric, Metric: models.MetricMemoryUsage, Operator: ">", Threshold: 95},
				{Type: models.ConditionMetric, Metric: models.MetricDiskUsage, Operator: ">", Threshold: 95},
			},
			CooldownMinutes: 15,
			Severity:        models.SeverityMedium,
			Enabled:         true,
		},
	}
}
