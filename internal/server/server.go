// Package server provides the HTTP API for setsumei.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/setsumei/internal/config"
	"github.com/hyperjump/setsumei/internal/corpus"
	"github.com/hyperjump/setsumei/internal/indexer"
	"github.com/hyperjump/setsumei/internal/metrics"
	"github.com/hyperjump/setsumei/internal/models"
)

// Searcher answers search queries.
type Searcher interface {
	Search(ctx context.Context, query *models.SearchQuery) (*models.SearchResponse, error)
}

// CorpusLoader loads documents into the store.
type CorpusLoader interface {
	Load(ctx context.Context) (*corpus.LoadStats, error)
	Ingest(ctx context.Context, records []models.IngestRecord) (*corpus.LoadStats, error)
}

// DocumentLister lists and fetches stored documents.
type DocumentLister interface {
	List(ctx context.Context, sel models.CorpusSelector) ([]*models.Document, error)
	Get(ctx context.Context, id string) (*models.Document, error)
	Count(ctx context.Context) (int64, error)
}

// IndexManager refreshes the cache and rebuilds the vector index.
type IndexManager interface {
	Sync(ctx context.Context) (*indexer.RefreshStats, error)
	Status() indexer.Status
	Ready() bool
}

// Server is the HTTP server for the setsumei API.
type Server struct {
	engine  Searcher
	loader  CorpusLoader
	docs    DocumentLister
	indexer IndexManager
	config  *config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics
	server  *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics exposes m on /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// NewServer creates a server with the given dependencies.
func NewServer(
	engine Searcher,
	loader CorpusLoader,
	docs DocumentLister,
	idx IndexManager,
	cfg *config.Config,
	logger *zap.Logger,
	opts ...Option,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		engine:  engine,
		loader:  loader,
		docs:    docs,
		indexer: idx,
		config:  cfg,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the API router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	timeout := s.config.Server.WriteTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	r.Use(middleware.Timeout(timeout))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/search", s.handleSearch)
		r.Post("/corpus/load", s.handleCorpusLoad)
		r.Post("/index/refresh", s.handleIndexRefresh)
		r.Get("/documents", s.handleListDocuments)
		r.Get("/documents/*", s.handleGetDocument)
		r.Get("/status", s.handleStatus)
	})
	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}
