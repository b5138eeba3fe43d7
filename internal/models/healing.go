package models

import "time"

// Action types understood by the executor.
const (
	ActionRestartBackend    = "restart_backend"
	ActionRestartDBService  = "restart_db_service"
	ActionClearCache        = "clear_cache"
	ActionGarbageCollect    = "garbage_collect"
	ActionReconnectDatabase = "reconnect_database"
	ActionCheckNetwork      = "check_network"
	ActionNotifyAdmin       = "notify_admin"
	ActionEnableFallback    = "enable_fallback"
	ActionDisableFallback   = "disable_fallback"
	ActionOptimizeProcesses = "optimize_processes"
	ActionOptimizeQueries   = "optimize_queries"
	ActionAutoOptimize      = "auto_optimize"
)

// HealingAction is the write-once record of one remediation attempt.
type HealingAction struct {
	ID              string    `json:"id"`
	ActionType      string    `json:"action_type"`
	Target          string    `json:"target"`
	Description     string    `json:"description"`
	Trigger         string    `json:"trigger"`
	ExecutedAt      time.Time `json:"executed_at"`
	Success         bool      `json:"success"`
	ExecutionTimeMs float64   `json:"execution_time_ms"`
	ResultMessage   string    `json:"result_message"`
}

// HealingStatus summarises the engine's remediation posture.
type HealingStatus struct {
	HealingEnabled   bool `json:"healing_enabled"`
	MonitoringActive bool `json:"monitoring_active"`
	FallbackEnabled  bool `json:"fallback_enabled"`
	RuleCount        int  `json:"rule_count"`
	AlertConfigCount int  `json:"alert_config_count"`
}
