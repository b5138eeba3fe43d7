package main

import (
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/spf13/cast"
)

// faultState is the behaviour injected into the simulated API.
type faultState struct {
	mu     sync.RWMutex
	mode   string
	delay  time.Duration
	alerts []json.RawMessage
}

func (f *faultState) get() (string, time.Duration) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.mode, f.delay
}

func (f *faultState) set(mode string, delay time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mode = mode
	f.delay = delay
}

func (f *faultState) record(alert json.RawMessage) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, alert)
	return len(f.alerts)
}

func (f *faultState) received() []json.RawMessage {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]json.RawMessage(nil), f.alerts...)
}

func main() {
	addr := flag.String("addr", ":8090", "listen address")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil)).With(slog.String("component", "mock-deps"))
	state := &faultState{mode: "ok"}

	r := chi.NewRouter()
	r.Use(logRequests(logger))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		render.PlainText(w, r, "ok")
	})

	// Simulated application API checked by the endpoint monitor.
	r.Route("/api", func(r chi.Router) {
		r.Get("/orders", simulated(state, map[string]any{"orders": []string{"o-1", "o-2"}}))
		r.Get("/inventory", simulated(state, map[string]any{"items": 42}))
		r.Post("/checkout", simulated(state, map[string]any{"status": "accepted"}))
	})

	// Fault injection: /fault?mode=ok|slow|error&delay=3s
	r.Post("/fault", func(w http.ResponseWriter, r *http.Request) {
		mode := r.URL.Query().Get("mode")
		if mode == "" {
			mode = "ok"
		}
		delay := cast.ToDuration(r.URL.Query().Get("delay"))
		state.set(mode, delay)
		logger.Info("fault mode changed", slog.String("mode", mode), slog.Duration("delay", delay))
		render.JSON(w, r, map[string]any{"mode": mode, "delay": delay.String()})
	})

	// Alert sink for the webhook channel.
	r.Post("/webhook", func(w http.ResponseWriter, r *http.Request) {
		var payload json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": err.Error()})
			return
		}
		total := state.record(payload)
		logger.Info("alert received", slog.Int("total", total), slog.String("payload", string(payload)))
		w.WriteHeader(http.StatusAccepted)
	})
	r.Get("/webhook", func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, state.received())
	})

	srv := &http.Server{
		Addr:              *addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("listening", slog.String("address", *addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", slog.Any("error", err))
		os.Exit(1)
	}
}

func simulated(state *faultState, body any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mode, delay := state.get()
		switch mode {
		case "slow":
			if delay <= 0 {
				delay = 3 * time.Second
			}
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		case "error":
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "injected failure"})
			return
		}
		render.JSON(w, r, body)
	}
}

func logRequests(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r)
			logger.Info("request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rw.status),
				slog.Duration("elapsed", time.Since(start)),
			)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
