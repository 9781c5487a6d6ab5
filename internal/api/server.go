package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/clickshield/clickshield/internal/alerting"
	"github.com/clickshield/clickshield/internal/domain"
	"github.com/clickshield/clickshield/internal/enrich"
	"github.com/clickshield/clickshield/internal/metrics"
	"github.com/clickshield/clickshield/internal/model"
	"github.com/clickshield/clickshield/internal/optimize"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server. With async true, click ingestion
// only publishes to the bus and scoring happens in the worker; with
// async false the handler scores synchronously.
func NewServer(cfg domain.ServerConfig, repo domain.Repository, cache domain.Cache, bus domain.EventBus, enricher *enrich.Engine, predictor *model.Predictor, trainer *model.Trainer, alerter *alerting.Alerter, dashboard *optimize.DashboardLoader, version string, async bool) *Server {
	handler := NewHandler(repo, cache, bus, enricher, predictor, trainer, alerter, dashboard, version, async)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Operational endpoints (no account required)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	router.Method(http.MethodGet, "/metrics", metrics.Handler())

	// API routes (account required)
	router.Route("/", func(r chi.Router) {
		r.Use(AccountMiddleware)

		// Click ingestion and retrieval
		r.Post("/clicks", handler.IngestClick)
		r.Get("/clicks/{id}", handler.GetClick)

		// IP enrichment
		r.Get("/enrich/{ip}", handler.EnrichIP)
		r.Post("/enrich/batch", handler.EnrichBatch)

		// Dashboard composite
		r.Get("/dashboard", handler.Dashboard)

		// Model management
		r.Post("/models/train", handler.TrainModel)
		r.Get("/models/active", handler.GetActiveModel)

		// Alerts
		r.Get("/alerts", handler.ListAlerts)
		r.Get("/alerts/condition", handler.GetAlertCondition)
		r.Put("/alerts/condition", handler.PutAlertCondition)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
