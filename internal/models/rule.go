package models

// Condition types.
const (
	ConditionMetric     = "metric"
	ConditionDependency = "dependency"
	ConditionRule       = "rule"
	ConditionAll        = "all"
	ConditionAny        = "any"
)

// Condition is a serialisable predicate over the current health picture.
// Type selects which of the remaining fields apply.
type Condition struct {
	Type string `yaml:"type" json:"type"`

	// metric
	Metric    string  `yaml:"metric,omitempty" json:"metric,omitempty"`
	Operator  string  `yaml:"operator,omitempty" json:"operator,omitempty"`
	Threshold float64 `yaml:"threshold,omitempty" json:"threshold,omitempty"`

	// dependency: matches by Dependency (service name), Kind, or Critical.
	Dependency string          `yaml:"dependency,omitempty" json:"dependency,omitempty"`
	Kind       string          `yaml:"kind,omitempty" json:"kind,omitempty"`
	Critical   bool            `yaml:"critical,omitempty" json:"critical,omitempty"`
	Status     DependencyState `yaml:"status,omitempty" json:"status,omitempty"`

	// rule
	Rule string `yaml:"rule,omitempty" json:"rule,omitempty"`

	// all / any
	Conditions []Condition `yaml:"conditions,omitempty" json:"conditions,omitempty"`
}

// HealingRule maps a condition to an ordered list of remediation actions.
type HealingRule struct {
	Name      string    `yaml:"name" json:"name"`
	Condition Condition `yaml:"condition" json:"condition"`
	Actions   []string  `yaml:"actions" json:"actions"`
	AutoHeal  bool      `yaml:"autoHeal" json:"auto_heal"`
	Severity  Severity  `yaml:"severity" json:"severity"`
}

// AlertConfig describes when and where to send an alert.
type AlertConfig struct {
	ID                string      `yaml:"id" json:"id"`
	Channel           string      `yaml:"channel" json:"channel"`
	TriggerConditions []Condition `yaml:"triggerConditions" json:"trigger_conditions"`
	Recipient         string      `yaml:"recipient" json:"recipient"`
	CooldownMinutes   int         `yaml:"cooldownMinutes" json:"cooldown_minutes"`
	Severity          Severity    `yaml:"severity" json:"severity"`
	Enabled           bool        `yaml:"enabled" json:"enabled"`
}
