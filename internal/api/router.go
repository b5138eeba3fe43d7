package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
	"golang.org/x/time/rate"
)

// RouterConfig tunes the HTTP surface.
type RouterConfig struct {
	AllowedOrigins []string
	// ManualRate bounds POST operations per second; ManualBurst is the bucket size.
	ManualRate  float64
	ManualBurst int
}

// NewRouter mounts every route on a chi mux.
func NewRouter(h *Handlers, cfg RouterConfig) http.Handler {
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	if cfg.ManualRate <= 0 {
		cfg.ManualRate = 1
	}
	if cfg.ManualBurst <= 0 {
		cfg.ManualBurst = 5
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.logger))
	r.Use(middleware.Recoverer)
	r.Use(render.SetContentType(render.ContentTypeJSON))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", h.liveness)

	limiter := rate.NewLimiter(rate.Limit(cfg.ManualRate), cfg.ManualBurst)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health/sample", h.healthSample)
		r.Get("/health/dependencies", h.dependencies)
		r.Get("/health/endpoints", h.endpoints)
		r.Get("/anomalies", h.anomalies)
		r.Get("/anomalies/history", h.anomalyHistory)
		r.Get("/changes", h.changes)
		r.Get("/cycles", h.cycleReports)
		r.Get("/history", h.history)
		r.Get("/alerts", h.alerts)
		r.Get("/dashboard", h.dashboard)
		r.Get("/healing/actions", h.healingActions)
		r.Get("/healing/status", h.healingStatus)

		r.Group(func(r chi.Router) {
			r.Use(rateLimit(limiter))
			r.Post("/healing/trigger", h.triggerHeal)
			r.Post("/healing/enable", h.enableHealing)
			r.Post("/healing/disable", h.disableHealing)
			r.Post("/cycles", h.runCycle)
		})
	})
	return r
}

func rateLimit(limiter *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				render.Status(r, http.StatusTooManyRequests)
				render.JSON(w, r, errorResponse{Error: "rate limit exceeded"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Duration("elapsed", time.Since(start)),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
