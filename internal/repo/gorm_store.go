package repo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/miradorstack/mirador-healing/internal/models"
)

// GormConfig selects the SQL backend.
type GormConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string
	DSN    string
	Debug  bool
}

// GormStore persists records in one table per entity.
type GormStore struct {
	db *gorm.DB
}

type anomalyRecord struct {
	Seq              uint                  `gorm:"primaryKey;autoIncrement"`
	ID               string                `gorm:"uniqueIndex;size:64"`
	Component        string                `gorm:"index;size:64"`
	Type             string                `gorm:"size:32"`
	Severity         string                `gorm:"size:16"`
	Description      string
	DetectedAt       time.Time             `gorm:"index"`
	Metrics          models.AnomalyMetrics `gorm:"serializer:json"`
	Confidence       float64
	SuggestedAction  string
	AutoHealPossible bool
}

func (anomalyRecord) TableName() string { return "anomalies" }

type actionRecord struct {
	Seq             uint   `gorm:"primaryKey;autoIncrement"`
	ID              string `gorm:"uniqueIndex;size:64"`
	ActionType      string `gorm:"index;size:64"`
	Target          string
	Description     string
	Trigger         string
	ExecutedAt      time.Time `gorm:"index"`
	Success         bool
	ExecutionTimeMs float64
	ResultMessage   string
}

func (actionRecord) TableName() string { return "healing_actions" }

type changeRecord struct {
	Seq         uint   `gorm:"primaryKey;autoIncrement"`
	ID          string `gorm:"uniqueIndex;size:64"`
	Component   string `gorm:"index;size:64"`
	ChangeType  string `gorm:"size:32"`
	OldValue    string
	NewValue    string
	Timestamp   time.Time `gorm:"index"`
	ImpactLevel string    `gorm:"size:16"`
	DetectedBy  string    `gorm:"size:64"`
}

func (changeRecord) TableName() string { return "change_records" }

type reportRecord struct {
	Seq              uint      `gorm:"primaryKey;autoIncrement"`
	ID               string    `gorm:"uniqueIndex;size:64"`
	StartedAt        time.Time `gorm:"index"`
	DurationMs       int64
	HealthScore      float64
	Band             string   `gorm:"size:16"`
	AnomalyCount     int
	ChangeCount      int
	ActionCount      int
	AlertsDispatched int
	AlertsSuppressed int
	MatchedRules     []string `gorm:"serializer:json"`
	Errors           []string `gorm:"serializer:json"`
}

func (reportRecord) TableName() string { return "cycle_reports" }

// NewGormStore opens the database and migrates the record tables.
func NewGormStore(cfg GormConfig) (*GormStore, error) {
	var dialector gorm.Dialector
	inMemory := false
	switch strings.ToLower(cfg.Driver) {
	case "sqlite", "":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = ":memory:"
		}
		inMemory = strings.Contains(dsn, ":memory:")
		dialector = sqlite.Open(dsn)
	case "postgres", "postgresql":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Driver)
	}

	gormCfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	if cfg.Debug {
		gormCfg.Logger = logger.Default.LogMode(logger.Info)
	}
	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Driver, err)
	}
	if inMemory {
		// Every new sqlite connection would see its own empty in-memory database.
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.SetMaxOpenConns(1)
		}
	}
	return NewGormStoreFromDB(db)
}

// NewGormStoreFromDB migrates the record tables on an existing handle.
func NewGormStoreFromDB(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&anomalyRecord{}, &actionRecord{}, &changeRecord{}, &reportRecord{}); err != nil {
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) SaveAnomalies(ctx context.Context, anomalies []models.Anomaly) error {
	if len(anomalies) == 0 {
		return nil
	}
	rows := make([]anomalyRecord, 0, len(anomalies))
	for _, a := range anomalies {
		rows = append(rows, anomalyRecord{
			ID:               a.ID,
			Component:        a.Component,
			Type:             a.Type,
			Severity:         string(a.Severity),
			Description:      a.Description,
			DetectedAt:       a.DetectedAt,
			Metrics:          a.Metrics,
			Confidence:       a.Confidence,
			SuggestedAction:  a.SuggestedAction,
			AutoHealPossible: a.AutoHealPossible,
		})
	}
	return s.db.WithContext(ctx).Create(&rows).Error
}

func (s *GormStore) ListAnomalies(ctx context.Context, limit int) ([]models.Anomaly, error) {
	var rows []anomalyRecord
	if err := s.newest(ctx, limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list anomalies: %w", err)
	}
	out := make([]models.Anomaly, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.Anomaly{
			ID:               r.ID,
			Component:        r.Component,
			Type:             r.Type,
			Severity:         models.Severity(r.Severity),
			Description:      r.Description,
			DetectedAt:       r.DetectedAt,
			Metrics:          r.Metrics,
			Confidence:       r.Confidence,
			SuggestedAction:  r.SuggestedAction,
			AutoHealPossible: r.AutoHealPossible,
		})
	}
	return out, nil
}

func (s *GormStore) SaveActions(ctx context.Context, actions []models.HealingAction) error {
	if len(actions) == 0 {
		return nil
	}
	rows := make([]actionRecord, 0, len(actions))
	for _, a := range actions {
		rows = append(rows, actionRecord{
			ID:              a.ID,
			ActionType:      a.ActionType,
			Target:          a.Target,
			Description:     a.Description,
			Trigger:         a.Trigger,
			ExecutedAt:      a.ExecutedAt,
			Success:         a.Success,
			ExecutionTimeMs: a.ExecutionTimeMs,
			ResultMessage:   a.ResultMessage,
		})
	}
	return s.db.WithContext(ctx).Create(&rows).Error
}

func (s *GormStore) ListActions(ctx context.Context, limit int) ([]models.HealingAction, error) {
	var rows []actionRecord
	if err := s.newest(ctx, limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list healing actions: %w", err)
	}
	out := make([]models.HealingAction, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.HealingAction{
			ID:              r.ID,
			ActionType:      r.ActionType,
			Target:          r.Target,
			Description:     r.Description,
			Trigger:         r.Trigger,
			ExecutedAt:      r.ExecutedAt,
			Success:         r.Success,
			ExecutionTimeMs: r.ExecutionTimeMs,
			ResultMessage:   r.ResultMessage,
		})
	}
	return out, nil
}

func (s *GormStore) SaveChanges(ctx context.Context, changes []models.ChangeRecord) error {
	if len(changes) == 0 {
		return nil
	}
	rows := make([]changeRecord, 0, len(changes))
	for _, c := range changes {
		rows = append(rows, changeRecord{
			ID:          c.ID,
			Component:   c.Component,
			ChangeType:  c.ChangeType,
			OldValue:    c.OldValue,
			NewValue:    c.NewValue,
			Timestamp:   c.Timestamp,
			ImpactLevel: string(c.ImpactLevel),
			DetectedBy:  c.DetectedBy,
		})
	}
	return s.db.WithContext(ctx).Create(&rows).Error
}

func (s *GormStore) ListChanges(ctx context.Context, limit int) ([]models.ChangeRecord, error) {
	var rows []changeRecord
	if err := s.newest(ctx, limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list changes: %w", err)
	}
	out := make([]models.ChangeRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.ChangeRecord{
			ID:          r.ID,
			Component:   r.Component,
			ChangeType:  r.ChangeType,
			OldValue:    r.OldValue,
			NewValue:    r.NewValue,
			Timestamp:   r.Timestamp,
			ImpactLevel: models.Severity(r.ImpactLevel),
			DetectedBy:  r.DetectedBy,
		})
	}
	return out, nil
}

func (s *GormStore) SaveReport(ctx context.Context, report models.CycleReport) error {
	row := reportRecord{
		ID:               report.ID,
		StartedAt:        report.StartedAt,
		DurationMs:       report.Duration.Milliseconds(),
		HealthScore:      report.HealthScore,
		Band:             report.Band,
		AnomalyCount:     report.AnomalyCount,
		ChangeCount:      report.ChangeCount,
		ActionCount:      report.ActionCount,
		AlertsDispatched: report.AlertsDispatched,
		AlertsSuppressed: report.AlertsSuppressed,
		MatchedRules:     report.MatchedRules,
		Errors:           report.Errors,
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

func (s *GormStore) ListReports(ctx context.Context, limit int) ([]models.CycleReport, error) {
	var rows []reportRecord
	if err := s.newest(ctx, limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list cycle reports: %w", err)
	}
	out := make([]models.CycleReport, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.CycleReport{
			ID:               r.ID,
			StartedAt:        r.StartedAt,
			Duration:         time.Duration(r.DurationMs) * time.Millisecond,
			HealthScore:      r.HealthScore,
			Band:             r.Band,
			AnomalyCount:     r.AnomalyCount,
			ChangeCount:      r.ChangeCount,
			ActionCount:      r.ActionCount,
			AlertsDispatched: r.AlertsDispatched,
			AlertsSuppressed: r.AlertsSuppressed,
			MatchedRules:     r.MatchedRules,
			Errors:           r.Errors,
		})
	}
	return out, nil
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *GormStore) newest(ctx context.Context, limit int) *gorm.DB {
	q := s.db.WithContext(ctx).Order("seq DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	return q
}
