// Package server provides the HTTP API for vecpipe.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/vecpipe/internal/config"
	"github.com/hyperjump/vecpipe/internal/metrics"
	"github.com/hyperjump/vecpipe/internal/models"
	"github.com/hyperjump/vecpipe/internal/pipeline"
)

// Pipeline is the part of *pipeline.Pipeline the API serves.
type Pipeline interface {
	Run(ctx context.Context, req pipeline.RunRequest) (*pipeline.RunResult, error)
	Ingest(ctx context.Context, docs []models.Document) (*pipeline.RunResult, error)
	Query(ctx context.Context, text string, topK int) ([]models.Match, error)
	QueryVector(ctx context.Context, vec []float32, topK int) ([]models.Match, error)
	Get(ctx context.Context, ids []string) ([]models.Record, error)
	Delete(ctx context.Context, ids []string) error
	DeleteWhere(ctx context.Context, key, value string) error
	Info(ctx context.Context) (*models.CollectionInfo, error)
	Collection() string
}

// Server is the HTTP server for the vecpipe API.
type Server struct {
	pipeline Pipeline
	metrics  *metrics.Metrics
	config   *config.Config
	logger   *zap.Logger
	server   *http.Server
}

// NewServer creates a server. m may be nil when metrics are disabled.
func NewServer(p Pipeline, cfg *config.Config, m *metrics.Metrics, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		pipeline: p,
		metrics:  m,
		config:   cfg,
		logger:   logger,
	}
}

// Router returns the API routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/run", s.handleRun)
		r.Post("/documents", s.handleIngest)
		r.Post("/query", s.handleQuery)
		r.Get("/collection", s.handleCollectionInfo)
		r.Get("/points/{id}", s.handleGetPoint)
		r.Delete("/points/{id}", s.handleDeletePoint)
		r.Post("/points/delete", s.handleDeletePoints)
	})
	r.Get("/health", s.handleHealth)
	if s.config.Metrics.Enabled && s.metrics != nil {
		r.Handle(s.config.Metrics.Path, s.metrics.Handler())
	}
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr), zap.String("collection", s.pipeline.Collection()))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
