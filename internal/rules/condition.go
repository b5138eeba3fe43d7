package rules

import (
	"errors"
	"fmt"
	"strings"

	"github.com/miradorstack/mirador-healing/internal/models"
	"github.com/miradorstack/mirador-healing/internal/utils"
)

// Derived metrics that are not part of a HealthSample.
const (
	MetricHealthScore  = "health_score"
	MetricAnomalyCount = "anomaly_count"
)

var (
	// ErrUnknownMetric is returned for metric conditions naming an unsupported metric.
	ErrUnknownMetric = errors.New("unknown metric")
	// ErrUnknownOperator is returned for unsupported comparison operators.
	ErrUnknownOperator = errors.New("unknown operator")
	// ErrUnknownConditionType is returned for unsupported condition types.
	ErrUnknownConditionType = errors.New("unknown condition type")
)

// Snapshot is everything a condition may inspect during one cycle.
type Snapshot struct {
	Sample       models.HealthSample
	Dependencies []models.DependencyStatus
	Anomalies    []models.Anomaly
	HealthScore  float64
	HasScore     bool
	MatchedRules map[string]bool
}

// Evaluate interprets cond against the snapshot. Malformed conditions return a
// configuration error; the caller decides whether to skip the owning rule.
func Evaluate(cond models.Condition, s Snapshot) (bool, error) {
	switch strings.ToLower(cond.Type) {
	case models.ConditionMetric:
		return evalMetric(cond, s)
	case models.ConditionDependency:
		return evalDependency(cond, s)
	case models.ConditionRule:
		if cond.Rule == "" {
			return false, utils.ConfigError("rules.evaluate", "rule condition requires a rule name", nil)
		}
		return s.MatchedRules[cond.Rule], nil
	case models.ConditionAll:
		if len(cond.Conditions) == 0 {
			return false, utils.ConfigError("rules.evaluate", "all condition has no members", nil)
		}
		for _, member := range cond.Conditions {
			ok, err := Evaluate(member, s)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	case models.ConditionAny:
		if len(cond.Conditions) == 0 {
			return false, utils.ConfigError("rules.evaluate", "any condition has no members", nil)
		}
		// Members are all evaluated so a malformed one is reported even when
		// an earlier member already matched.
		matched := false
		for _, member := range cond.Conditions {
			ok, err := Evaluate(member, s)
			if err != nil {
				return false, err
			}
			matched = matched || ok
		}
		return matched, nil
	default:
		return false, utils.ConfigError("rules.evaluate", fmt.Sprintf("type %q", cond.Type), ErrUnknownConditionType)
	}
}

// Validate checks a condition without evaluating it.
func Validate(cond models.Condition) error {
	_, err := Evaluate(cond, Snapshot{HasScore: true})
	return err
}

// Describe renders a condition as a short human readable expression.
func Describe(cond models.Condition) string {
	switch strings.ToLower(cond.Type) {
	case models.ConditionMetric:
		return fmt.Sprintf("%s %s %g", cond.Metric, cond.Operator, cond.Threshold)
	case models.ConditionDependency:
		status := cond.Status
		if status == "" {
			status = models.DependencyDown
		}
		target := "any dependency"
		switch {
		case cond.Dependency != "":
			target = "dependency " + cond.Dependency
		case cond.Kind != "":
			target = cond.Kind + " dependency"
		case cond.Critical:
			target = "critical dependency"
		}
		return fmt.Sprintf("%s is %s", target, status)
	case models.ConditionRule:
		return "rule " + cond.Rule + " matched"
	case models.ConditionAll, models.ConditionAny:
		parts := make([]string, 0, len(cond.Conditions))
		for _, member := range cond.Conditions {
			parts = append(parts, Describe(member))
		}
		sep := " and "
		if strings.EqualFold(cond.Type, models.ConditionAny) {
			sep = " or "
		}
		return "(" + strings.Join(parts, sep) + ")"
	}
	return cond.Type
}

func evalMetric(cond models.Condition, s Snapshot) (bool, error) {
	compare, err := comparator(cond.Operator)
	if err != nil {
		return false, err
	}

	var value float64
	switch cond.Metric {
	case MetricHealthScore:
		if !s.HasScore {
			return false, nil
		}
		value = s.HealthScore
	case MetricAnomalyCount:
		value = float64(len(s.Anomalies))
	default:
		if !knownSampleMetric(cond.Metric) {
			return false, utils.ConfigError("rules.evaluate", fmt.Sprintf("metric %q", cond.Metric), ErrUnknownMetric)
		}
		v, ok := s.Sample.Value(cond.Metric)
		if !ok {
			return false, nil
		}
		value = v
	}
	return compare(value, cond.Threshold), nil
}

func evalDependency(cond models.Condition, s Snapshot) (bool, error) {
	want := cond.Status
	if want == "" {
		want = models.DependencyDown
	}
	switch want {
	case models.DependencyHealthy, models.DependencyDegraded, models.DependencyDown:
	default:
		return false, utils.ConfigError("rules.evaluate", fmt.Sprintf("dependency status %q", cond.Status), nil)
	}

	for _, dep := range s.Dependencies {
		if cond.Dependency != "" && !strings.EqualFold(cond.Dependency, dep.ServiceName) {
			continue
		}
		if cond.Kind != "" && !strings.EqualFold(cond.Kind, dep.Kind) {
			continue
		}
		if cond.Critical && !dep.Critical {
			continue
		}
		if dep.Status == want {
			return true, nil
		}
	}
	return false, nil
}

func comparator(op string) (func(a, b float64) bool, error) {
	switch strings.ToLower(strings.TrimSpace(op)) {
	case ">", "gt":
		return func(a, b float64) bool { return a > b }, nil
	case ">=", "gte":
		return func(a, b float64) bool { return a >= b }, nil
	case "<", "lt":
		return func(a, b float64) bool { return a < b }, nil
	case "<=", "lte":
		return func(a, b float64) bool { return a <= b }, nil
	case "==", "eq":
		return func(a, b float64) bool { return a == b }, nil
	case "!=", "ne":
		return func(a, b float64) bool { return a != b }, nil
	default:
		return nil, utils.ConfigError("rules.evaluate", fmt.Sprintf("operator %q", op), ErrUnknownOperator)
	}
}

func knownSampleMetric(metric string) bool {
	switch metric {
	case models.MetricCPUUsage, models.MetricMemoryUsage, models.MetricDiskUsage,
		models.MetricNetworkLatency, models.MetricAPIResponseTime, models.MetricErrorRate,
		models.MetricActiveConnections, models.MetricUptime:
		return true
	}
	return false
}
