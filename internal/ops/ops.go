// Package ops provides the operational HTTP listener: health, readiness,
// metrics and the read-only lookup endpoint. Administrative writes go
// through the admin surface, not this listener.
package ops

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opsforge/hiera-registry/internal/admin"
	"github.com/opsforge/hiera-registry/internal/metrics"
)

// Server is the operational HTTP listener.
type Server struct {
	addr    string
	router  chi.Router
	server  *http.Server
	logger  *slog.Logger
	metrics *metrics.Metrics
	admin   *admin.Admin
	healthy func(context.Context) bool
	ready   func() bool
}

// New creates the listener. healthy reports store reachability; ready
// reports whether the projection watchers have applied their snapshots.
func New(addr string, adm *admin.Admin, m *metrics.Metrics, logger *slog.Logger, healthy func(context.Context) bool, ready func() bool) *Server {
	s := &Server{
		addr:    addr,
		logger:  logger.With("component", "ops"),
		metrics: m,
		admin:   adm,
		healthy: healthy,
		ready:   ready,
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.metrics.Middleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		s.metrics.Handler().ServeHTTP(w, r)
	})
	r.Get("/lookup/{key}", s.handleLookup)

	s.router = r
}

// handleHealthz confirms the process is alive and the store reachable.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if !s.healthy(r.Context()) {
		http.Error(w, `{"status":"DOWN"}`, http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"UP"}`))
}

// handleReadyz confirms every projection has applied its initial snapshot.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if !s.ready() {
		http.Error(w, `{"status":"LOADING"}`, http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"READY"}`))
}

// Start starts the listener and blocks until it stops.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	s.logger.Info("starting ops listener", slog.String("address", s.addr))
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the HTTP router for testing.
func (s *Server) Router() http.Handler {
	return s.router
}
