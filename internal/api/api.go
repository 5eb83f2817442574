// Package api serves the control surface: liveness, scheduler status, a
// rate-limited manual trigger, and Prometheus metrics. Authentication is
// the reverse proxy's problem, not ours.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hazyhaar/fundawatch/internal/sched"
)

// ErrRateLimited is the taxonomy entry for 429 responses; the handler
// writes it as a Retry-After error body.
var ErrRateLimited = errors.New("api: rate limited")

// Scheduler is the slice of the scheduler the API needs.
type Scheduler interface {
	Status() sched.Status
	Trigger(ctx context.Context, profileID string) error
	Busy() bool
}

// Config configures the API server.
type Config struct {
	Scheduler Scheduler

	// TriggerWindow is the per-IP cooldown on the manual trigger: 60s
	// normally, 300s constrained.
	TriggerWindow time.Duration

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.TriggerWindow <= 0 {
		c.TriggerWindow = 60 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Server holds the router and its dependencies.
type Server struct {
	cfg Config
	mux *chi.Mux
}

// New assembles the router.
func New(cfg Config) *Server {
	cfg.defaults()
	s := &Server{cfg: cfg}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Route("/api/scraper", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.With(httprate.LimitByIP(1, cfg.TriggerWindow)).
			Post("/trigger/{id}", s.handleTrigger)
	})

	s.mux = r
	return s
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Scheduler.Status())
}

// handleTrigger enqueues an immediate cycle for one profile. Besides the
// per-IP limiter, a global overlap guard refuses while any cycle runs.
func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if s.cfg.Scheduler.Busy() {
		w.Header().Set("Retry-After", "30")
		writeJSON(w, http.StatusTooManyRequests, map[string]string{
			"error": "a scrape cycle is already running",
		})
		return
	}

	err := s.cfg.Scheduler.Trigger(r.Context(), id)
	if errors.Is(err, sched.ErrUnknownJob) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "no such profile: " + id,
		})
		return
	}
	if err != nil {
		s.cfg.Logger.Error("api: trigger failed", "profile", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "trigger failed",
		})
		return
	}

	s.cfg.Logger.Info("api: manual trigger accepted", "profile", id, "remote", r.RemoteAddr)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  "triggered",
		"profile": id,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
