package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"
	"github.com/spf13/cast"

	"github.com/miradorstack/mirador-healing/internal/engine"
	"github.com/miradorstack/mirador-healing/internal/models"
	"github.com/miradorstack/mirador-healing/internal/utils"
)

// HealingAPI is the service surface exposed over HTTP.
type HealingAPI interface {
	GetHealthSample(ctx context.Context) models.HealthSample
	ListDependencies(ctx context.Context) []models.DependencyStatus
	ListEndpointChecks(ctx context.Context) []models.EndpointCheckResult
	ListAnomalies(ctx context.Context) []models.Anomaly
	ListAnomalyHistory(ctx context.Context, limit int) ([]models.Anomaly, error)
	TriggerHeal(ctx context.Context) ([]models.HealingAction, error)
	ListHealingActions(ctx context.Context, limit int) ([]models.HealingAction, error)
	ListChanges(ctx context.Context, limit int) ([]models.ChangeRecord, error)
	EnableHealing(ctx context.Context) models.HealingStatus
	DisableHealing(ctx context.Context) models.HealingStatus
	GetHealingStatus(ctx context.Context) models.HealingStatus
	RunFullCycle(ctx context.Context) (models.CycleReport, error)
	ListCycleReports(ctx context.Context, limit int) ([]models.CycleReport, error)
	ListPerformanceHistory(ctx context.Context) models.PerformanceHistory
	ListAlertConfigs(ctx context.Context) models.AlertOverview
	GetDashboard(ctx context.Context) models.Dashboard
}

// Handlers binds HealingAPI operations to HTTP.
type Handlers struct {
	svc    HealingAPI
	logger *slog.Logger
}

// NewHandlers wires the handler set.
func NewHandlers(svc HealingAPI, logger *slog.Logger) *Handlers {
	return &Handlers{svc: svc, logger: utils.OrDefault(logger, "api")}
}

type errorResponse struct {
	Error string `json:"error"`
}

type actionsResponse struct {
	Actions []models.HealingAction `json:"actions"`
	Count   int                    `json:"count"`
}

type changesResponse struct {
	Changes []models.ChangeRecord `json:"changes"`
	Count   int                   `json:"count"`
}

type reportsResponse struct {
	Reports []models.CycleReport `json:"reports"`
	Count   int                  `json:"count"`
}

type anomaliesResponse struct {
	Anomalies []models.Anomaly `json:"anomalies"`
	Count     int              `json:"count"`
}

func (h *Handlers) healthSample(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.svc.GetHealthSample(r.Context()))
}

func (h *Handlers) dependencies(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.svc.ListDependencies(r.Context()))
}

func (h *Handlers) endpoints(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.svc.ListEndpointChecks(r.Context()))
}

func (h *Handlers) anomalies(w http.ResponseWriter, r *http.Request) {
	anomalies := h.svc.ListAnomalies(r.Context())
	render.JSON(w, r, anomaliesResponse{Anomalies: anomalies, Count: len(anomalies)})
}

func (h *Handlers) anomalyHistory(w http.ResponseWriter, r *http.Request) {
	anomalies, err := h.svc.ListAnomalyHistory(r.Context(), limitParam(r))
	if err != nil {
		h.fail(w, r, "list anomaly history", err)
		return
	}
	render.JSON(w, r, anomaliesResponse{Anomalies: anomalies, Count: len(anomalies)})
}

func (h *Handlers) triggerHeal(w http.ResponseWriter, r *http.Request) {
	actions, err := h.svc.TriggerHeal(r.Context())
	if err != nil {
		h.fail(w, r, "trigger heal", err)
		return
	}
	render.JSON(w, r, actionsResponse{Actions: actions, Count: len(actions)})
}

func (h *Handlers) healingActions(w http.ResponseWriter, r *http.Request) {
	actions, err := h.svc.ListHealingActions(r.Context(), limitParam(r))
	if err != nil {
		h.fail(w, r, "list healing actions", err)
		return
	}
	render.JSON(w, r, actionsResponse{Actions: actions, Count: len(actions)})
}

func (h *Handlers) changes(w http.ResponseWriter, r *http.Request) {
	changes, err := h.svc.ListChanges(r.Context(), limitParam(r))
	if err != nil {
		h.fail(w, r, "list changes", err)
		return
	}
	render.JSON(w, r, changesResponse{Changes: changes, Count: len(changes)})
}

func (h *Handlers) enableHealing(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.svc.EnableHealing(r.Context()))
}

func (h *Handlers) disableHealing(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.svc.DisableHealing(r.Context()))
}

func (h *Handlers) healingStatus(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.svc.GetHealingStatus(r.Context()))
}

func (h *Handlers) runCycle(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.RunFullCycle(r.Context())
	if err != nil {
		h.fail(w, r, "run cycle", err)
		return
	}
	render.JSON(w, r, report)
}

func (h *Handlers) cycleReports(w http.ResponseWriter, r *http.Request) {
	reports, err := h.svc.ListCycleReports(r.Context(), limitParam(r))
	if err != nil {
		h.fail(w, r, "list cycle reports", err)
		return
	}
	render.JSON(w, r, reportsResponse{Reports: reports, Count: len(reports)})
}

func (h *Handlers) history(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.svc.ListPerformanceHistory(r.Context()))
}

func (h *Handlers) alerts(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.svc.ListAlertConfigs(r.Context()))
}

func (h *Handlers) dashboard(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.svc.GetDashboard(r.Context()))
}

func (h *Handlers) liveness(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{"status": "ok"})
}

func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrCycleInProgress):
		status = http.StatusConflict
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", slog.String("op", op), slog.Any("error", err))
	} else {
		h.logger.Warn("request rejected", slog.String("op", op), slog.Any("error", err))
	}
	render.Status(r, status)
	render.JSON(w, r, errorResponse{Error: err.Error()})
}

// limitParam reads ?limit=; malformed values fall back to the service default.
func limitParam(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0
	}
	return cast.ToInt(raw)
}
