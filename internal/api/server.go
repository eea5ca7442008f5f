package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/seo-audit-orchestrator/internal/events"
	"github.com/JakeFAU/seo-audit-orchestrator/internal/metrics"
	"github.com/JakeFAU/seo-audit-orchestrator/internal/orchestrator"
)

const (
	defaultRequestTimeout = 60 * time.Second
	defaultStreamRefresh  = 3 * time.Second
	maxBodyBytes          = 1 << 20
)

// Config controls the HTTP surface.
//   - APIKey: when non-empty every /v1 route requires it in X-API-Key.
//   - RequestTimeout: per-request deadline for non-streaming routes.
//   - StreamRefresh: how often an SSE stream re-reads the store.
//   - Ready: optional readiness probe (for example a database ping).
type Config struct {
	APIKey         string
	RequestTimeout time.Duration
	StreamRefresh  time.Duration
	Ready          func(ctx context.Context) error
}

// Server wires HTTP handlers to the orchestrator service.
type Server struct {
	router chi.Router
	svc    *orchestrator.Service
	broker events.Broker
	cfg    Config
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes. broker may be nil,
// in which case streams rely on store re-reads alone.
func NewServer(svc *orchestrator.Service, broker events.Broker, cfg Config, logger *zap.Logger) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.StreamRefresh <= 0 {
		cfg.StreamRefresh = defaultStreamRefresh
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		svc:    svc,
		broker: broker,
		cfg:    cfg,
		logger: logger.Named("api"),
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.APIKey != "" {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		// Streams outlive the request timeout.
		r.Get("/audits/{id}/stream", s.streamStatus)

		r.Group(func(r chi.Router) {
			r.Use(timeoutMiddleware(cfg.RequestTimeout))
			r.Post("/audits", s.submitAudit)
			r.Get("/audits", s.listAudits)
			r.Get("/audits/{id}", s.getAudit)
			r.Delete("/audits/{id}", s.deleteAudit)
			r.Get("/audits/{id}/status", s.getStatus)
			r.Get("/audits/{id}/report", s.exportReport)
			r.Get("/audits/{id}/fixes", s.listFixes)
			r.Get("/audits/{id}/timeline", s.timeline)
			r.Patch("/fixes/{id}", s.updateFix)
			r.Post("/batches", s.submitBatch)
			r.Get("/batches", s.listBatches)
			r.Get("/batches/{id}", s.getBatch)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.cfg.Ready(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
