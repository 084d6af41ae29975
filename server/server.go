// Package server serves the generated dashboard and a small JSON API over
// the store.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"bloomberg-lite/model"
)

// Store is the read side the API needs.
type Store interface {
	Ping(ctx context.Context) error
	LastRun(ctx context.Context) (*model.Run, error)
	MetricMetas(ctx context.Context) ([]model.MetricMeta, error)
}

// Trigger starts a run in the background. It returns false when a run is
// already in progress.
type Trigger func() bool

// Config holds server settings.
type Config struct {
	OutputDir string
}

// Server routes HTTP requests.
type Server struct {
	store   Store
	trigger Trigger
	config  Config
	router  *chi.Mux
}

// New creates a Server. trigger may be nil, which disables POST /api/run.
func New(store Store, trigger Trigger, cfg Config) *Server {
	s := &Server{store: store, trigger: trigger, config: cfg}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/healthz", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/runs/last", s.handleLastRun)
		r.Get("/metrics", s.handleMetrics)
		r.Post("/run", s.handleRun)
	})
	r.Handle("/*", http.FileServer(http.Dir(cfg.OutputDir)))

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		slog.Error("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLastRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.LastRun(r.Context())
	if err != nil {
		slog.Error("loading last run", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if run == nil {
		http.Error(w, "no runs recorded", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(run.Summary)
}

type metricJSON struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Source        string   `json:"source"`
	Unit          string   `json:"unit"`
	LastValue     *float64 `json:"last_value"`
	LastUpdated   string   `json:"last_updated,omitempty"`
	PreviousValue *float64 `json:"previous_value"`
	Change        *float64 `json:"change"`
	ChangePercent *float64 `json:"change_percent"`
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	metas, err := s.store.MetricMetas(r.Context())
	if err != nil {
		slog.Error("loading metric metas", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	out := make([]metricJSON, 0, len(metas))
	for _, m := range metas {
		mj := metricJSON{
			ID:            m.ID,
			Name:          m.Name,
			Source:        m.Source,
			Unit:          m.Unit,
			LastValue:     m.LastValue,
			PreviousValue: m.PreviousValue,
			Change:        m.Change,
			ChangePercent: m.ChangePercent,
		}
		if !m.LastUpdated.IsZero() {
			mj.LastUpdated = m.LastUpdated.Format(model.DateLayout)
		}
		out = append(out, mj)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if s.trigger == nil {
		http.Error(w, "manual runs disabled", http.StatusNotFound)
		return
	}
	if !s.trigger() {
		writeJSON(w, http.StatusConflict, map[string]string{"status": "already running"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding response", "error", err)
	}
}

// requestLogger logs one line per request with slog.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		slog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
