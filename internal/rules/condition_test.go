package rules

import (
	"testing"

	"github.com/miradorstack/mirador-healing/internal/models"
	"github.com/miradorstack/mirador-healing/internal/utils"
)

func TestEvaluateMetricCondition(t *testing.T) {
	s := Snapshot{Sample: models.HealthSample{CPUUsage: 90}}
	cond := models.Condition{Type: "metric", Metric: models.MetricCPUUsage, Operator: ">", Threshold: 85}

	ok, err := Evaluate(cond, s)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatalf("expected cpu 90 > 85 to match")
	}

	cond.Operator = "lte"
	ok, err = Evaluate(cond, s)
	if err != nil || ok {
		t.Fatalf("expected lte to be false without error, got %v %v", ok, err)
	}
}

func TestEvaluateUnavailableMetricNeverMatches(t *testing.T) {
	s := Snapshot{Sample: models.HealthSample{CPUUsage: 0, Unavailable: []string{models.MetricCPUUsage}}}
	ok, err := Evaluate(models.Condition{Type: "metric", Metric: models.MetricCPUUsage, Operator: "<", Threshold: 10}, s)
	if err != nil || ok {
		t.Fatalf("expected unavailable metric to be skipped, got %v %v", ok, err)
	}
}

func TestEvaluateHealthScoreRequiresScore(t *testing.T) {
	cond := models.Condition{Type: "metric", Metric: MetricHealthScore, Operator: "<", Threshold: 50}
	if ok, _ := Evaluate(cond, Snapshot{}); ok {
		t.Fatalf("score condition must not match before a score exists")
	}
	if ok, _ := Evaluate(cond, Snapshot{HasScore: true, HealthScore: 45}); !ok {
		t.Fatalf("expected 45 < 50 to match")
	}
}

func TestEvaluateDependencySelectors(t *testing.T) {
	s := Snapshot{Dependencies: []models.DependencyStatus{
		{ServiceName: "database", Kind: "postgres", Status: models.DependencyDown},
		{ServiceName: "payments", Kind: "http", Critical: true, Status: models.DependencyHealthy},
	}}

	cases := []struct {
		name string
		cond models.Condition
		want bool
	}{
		{"by kind", models.Condition{Type: "dependency", Kind: "postgres"}, true},
		{"by name", models.Condition{Type: "dependency", Dependency: "DATABASE", Status: models.DependencyDown}, true},
		{"critical down", models.Condition{Type: "dependency", Critical: true}, false},
		{"critical healthy", models.Condition{Type: "dependency", Critical: true, Status: models.DependencyHealthy}, true},
		{"any degraded", models.Condition{Type: "dependency", Status: models.DependencyDegraded}, false},
	}
	for _, tc := range cases {
		ok, err := Evaluate(tc.cond, s)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.name, err)
		}
		if ok != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, ok)
		}
	}
}

func TestEvaluateCompositeAndRule(t *testing.T) {
	s := Snapshot{
		Sample:       models.HealthSample{CPUUsage: 70, MemoryUsage: 95},
		MatchedRules: map[string]bool{"critical_dependency_down": true},
	}
	all := models.Condition{Type: "all", Conditions: []models.Condition{
		{Type: "metric", Metric: models.MetricCPUUsage, Operator: ">", Threshold: 60},
		{Type: "metric", Metric: models.MetricMemoryUsage, Operator: ">", Threshold: 90},
	}}
	if ok, err := Evaluate(all, s); err != nil || !ok {
		t.Fatalf("expected all to match, got %v %v", ok, err)
	}

	anyCond := models.Condition{Type: "any", Conditions: []models.Condition{
		{Type: "metric", Metric: models.MetricCPUUsage, Operator: ">", Threshold: 99},
		{Type: "rule", Rule: "critical_dependency_down"},
	}}
	if ok, err := Evaluate(anyCond, s); err != nil || !ok {
		t.Fatalf("expected any to match via rule, got %v %v", ok, err)
	}
}

func TestEvaluateMalformedConditions(t *testing.T) {
	malformed := []models.Condition{
		{Type: "metric", Metric: "bogus", Operator: ">", Threshold: 1},
		{Type: "metric", Metric: models.MetricCPUUsage, Operator: "~", Threshold: 1},
		{Type: "lambda"},
		{Type: "all"},
		{Type: "dependency", Status: "sleepy"},
		{Type: "any", Conditions: []models.Condition{{Type: "metric", Metric: models.MetricCPUUsage, Operator: ">", Threshold: -1}, {Type: "nope"}}},
	}
	for i, cond := range malformed {
		if _, err := Evaluate(cond, Snapshot{}); !utils.IsConfigError(err) {
			t.Fatalf("case %d: expected configuration error, got %v", i, err)
		}
	}
}

func TestDescribeCondition(t *testing.T) {
	cond := models.Condition{Type: models.ConditionAny, Conditions: []models.Condition{
		{Type: models.ConditionMetric, Metric: MetricHealthScore, Operator: "<", Threshold: 50},
		{Type: models.ConditionDependency, Critical: true},
	}}
	want := "(health_score < 50 or critical dependency is down)"
	if got := Describe(cond); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}
