package rules

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-healing/internal/models"
	"github.com/miradorstack/mirador-healing/internal/utils"
)

// RuleEngine evaluates the static healing rule table.
type RuleEngine struct {
	rules  []models.HealingRule
	logger *slog.Logger
}

// RuleConfigFile is the YAML root structure.
type RuleConfigFile struct {
	Rules []models.HealingRule `yaml:"rules"`
}

// NewRuleEngine loads rules from the provided path. An empty path or a missing
// file falls back to DefaultRules.
func NewRuleEngine(path string, logger *slog.Logger) (*RuleEngine, error) {
	logger = utils.OrDefault(logger, "rules")
	if path == "" {
		return NewRuleEngineFromRules(DefaultRules(), logger), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Warn("rule pack not found, using built-in rules", slog.String("path", path))
			return NewRuleEngineFromRules(DefaultRules(), logger), nil
		}
		return nil, fmt.Errorf("read rule pack: %w", err)
	}
	var cfg RuleConfigFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse rule pack %s: %w", path, err)
	}
	return NewRuleEngineFromRules(cfg.Rules, logger), nil
}

// NewRuleEngineFromRules builds an engine over an in-memory rule table.
// Malformed rules are kept and reported so they are skipped per cycle.
func NewRuleEngineFromRules(rules []models.HealingRule, logger *slog.Logger) *RuleEngine {
	if logger == nil {
		logger = slog.Default()
	}
	for _, rule := range rules {
		if err := Validate(rule.Condition); err != nil {
			logger.Warn("healing rule has an invalid condition", slog.String("rule", rule.Name), slog.Any("error", err))
		}
	}
	return &RuleEngine{rules: append([]models.HealingRule(nil), rules...), logger: logger}
}

// Rules returns a copy of the rule table.
func (e *RuleEngine) Rules() []models.HealingRule {
	if e == nil {
		return nil
	}
	return append([]models.HealingRule(nil), e.rules...)
}

// Count returns the number of configured rules.
func (e *RuleEngine) Count() int {
	if e == nil {
		return 0
	}
	return len(e.rules)
}

// Evaluate returns the rules whose condition holds, in table order. Rules with
// malformed conditions are skipped with a warning.
func (e *RuleEngine) Evaluate(s Snapshot) []models.HealingRule {
	if e == nil {
		return nil
	}

	matched := make([]models.HealingRule, 0)
	for _, rule := range e.rules {
		ok, err := Evaluate(rule.Condition, s)
		if err != nil {
			e.logger.Warn("skipping healing rule", slog.String("rule", rule.Name), slog.Any("error", err))
			continue
		}
		if ok {
			matched = append(matched, rule)
		}
	}
	return matched
}

// DefaultRules is the built-in catalog used when no rule pack is configured.
func DefaultRules() []models.HealingRule {
	return []models.HealingRule{
		{
			Name:      "high_cpu_usage",
			Condition: models.Condition{Type: models.ConditionMetric, Metric: models.MetricCPUUsage, Operator: ">", Threshold: 85},
			Actions:   []string{models.ActionRestartBackend, models.ActionOptimizeProcesses, models.ActionClearCache},
			AutoHeal:  true,
			Severity:  models.SeverityHigh,
		},
		{
			Name:      "high_memory_usage",
			Condition: models.Condition{Type: models.ConditionMetric, Metric: models.MetricMemoryUsage, Operator: ">", Threshold: 90},
			Actions:   []string{models.ActionClearCache, models.ActionRestartBackend, models.ActionGarbageCollect},
			AutoHeal:  true,
			Severity:  models.SeverityHigh,
		},
		{
			Name:      "database_down",
			Condition: models.Condition{Type: models.ConditionDependency, Kind: "postgres", Status: models.DependencyDown},
			Actions:   []string{models.ActionReconnectDatabase, models.ActionRestartDBService, models.ActionCheckNetwork},
			AutoHeal:  true,
			Severity:  models.SeverityCritical,
		},
		{
			Name:      "slow_api_response",
			Condition: models.Condition{Type: models.ConditionMetric, Metric: models.MetricAPIResponseTime, Operator: ">", Threshold: 5000},
			Actions:   []string{models.ActionRestartBackend, models.ActionClearCache, models.ActionOptimizeQueries},
			AutoHeal:  true,
			Severity:  models.SeverityMedium,
		},
		{
			Name:      "critical_dependency_down",
			Condition: models.Condition{Type: models.ConditionDependency, Critical: true, Status: models.DependencyDown},
			Actions:   []string{models.ActionNotifyAdmin, models.ActionEnableFallback},
			AutoHeal:  false,
			Severity:  models.SeverityHigh,
		},
	}
}
