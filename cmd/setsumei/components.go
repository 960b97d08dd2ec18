package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/hyperjump/setsumei/internal/config"
	"github.com/hyperjump/setsumei/internal/corpus"
	"github.com/hyperjump/setsumei/internal/embedcache"
	"github.com/hyperjump/setsumei/internal/embedding"
	"github.com/hyperjump/setsumei/internal/explain"
	"github.com/hyperjump/setsumei/internal/indexer"
	"github.com/hyperjump/setsumei/internal/keyword"
	"github.com/hyperjump/setsumei/internal/metrics"
	"github.com/hyperjump/setsumei/internal/models"
	"github.com/hyperjump/setsumei/internal/rationale"
	"github.com/hyperjump/setsumei/internal/search"
	"github.com/hyperjump/setsumei/internal/storage"
	"github.com/hyperjump/setsumei/internal/vector"
)

// Components holds the wired application.
type Components struct {
	Config    *config.Config
	Storage   *storage.SQLiteStorage
	Keywords  *keyword.BleveIndex
	Embedder  embedding.Embedder
	Cache     *embedcache.Cache
	Index     *vector.Index
	Indexer   *indexer.Indexer
	Rationale *rationale.Gemini
	Engine    *search.Engine
	Loader    *corpus.Loader
	Corpus    *corpus.Service
	Metrics   *metrics.Metrics
}

// Close releases everything in reverse order of construction.
func (c *Components) Close() {
	if c.Rationale != nil {
		_ = c.Rationale.Close()
	}
	if c.Index != nil {
		_ = c.Index.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.Keywords != nil {
		_ = c.Keywords.Close()
	}
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *Components, err error) {
	c := &Components{Config: cfg, Metrics: metrics.New()}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	c.Storage, err = storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	c.Keywords, err = keyword.NewBleveIndex(cfg.Storage.KeywordIndexPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize keyword index: %w", err)
	}
	c.Embedder, err = newEmbedder(&cfg.Embedding, logger)
	if err != nil {
		return nil, err
	}

	metric, err := vector.ParseMetric(cfg.Vector.Metric)
	if err != nil {
		return nil, err
	}
	dims := c.Embedder.Dimensions()
	c.Index, err = vector.NewIndex(cfg.Vector.IndexType, dims, metric)
	if err != nil {
		// Fall back to memory index if configured type fails (e.g., FAISS not available)
		if cfg.Vector.IndexType == "memory" || cfg.Vector.IndexType == "" {
			return nil, fmt.Errorf("failed to initialize vector index: %w", err)
		}
		logger.Warn("failed to create vector index, falling back to memory",
			zap.String("requested_type", cfg.Vector.IndexType),
			zap.Error(err))
		c.Index, err = vector.NewIndex("memory", dims, metric)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize vector index: %w", err)
		}
	}
	logger.Info("vector index initialized",
		zap.String("type", string(c.Index.Type())),
		zap.String("metric", cfg.Vector.Metric),
		zap.Bool("faiss_available", vector.IsFAISSAvailable()))

	c.Cache = embedcache.New(dims, c.Storage)
	c.Indexer = indexer.NewIndexer(c.Storage, c.Embedder, c.Cache, c.Index,
		indexer.WithLogger(logger),
		indexer.WithMetrics(c.Metrics),
		indexer.WithBatchSize(cfg.Embedding.BatchSize),
		indexer.WithIndexPath(cfg.Storage.VectorIndexPath),
	)

	explainOpts := []explain.Option{
		explain.WithLogger(logger),
		explain.WithTopSentences(cfg.Explain.TopSentences),
		explain.WithLimits(cfg.Explain.MaxDocumentChars, cfg.Explain.MaxSentences),
	}
	if cfg.Explain.Rationale.Enabled {
		gen, genErr := rationale.NewGemini(ctx, rationale.GeminiOptions{
			APIKey:            os.Getenv(cfg.Explain.Rationale.APIKeyEnv),
			Model:             cfg.Explain.Rationale.Model,
			RequestsPerMinute: cfg.Explain.Rationale.RequestsPerMinute,
			Logger:            logger,
		})
		if genErr != nil {
			logger.Warn("rationale disabled", zap.Error(genErr))
		} else {
			c.Rationale = gen
			explainOpts = append(explainOpts, explain.WithRationale(gen, cfg.Explain.Rationale.Timeout))
		}
	}
	explainer := explain.New(c.Embedder, explainOpts...)

	c.Engine = search.NewEngine(c.Embedder, c.Index, c.Storage, explainer, &cfg.Search,
		search.WithLogger(logger),
		search.WithMetrics(c.Metrics),
	)
	c.Loader = corpus.NewLoader(c.Storage, c.Keywords, nil, cfg.Corpus.Directory,
		corpus.WithLogger(logger),
		corpus.WithExtensions(cfg.Corpus.Extensions),
		corpus.WithRecursive(cfg.Corpus.RecursiveOrDefault()),
	)
	c.Corpus = corpus.NewService(c.Storage, c.Keywords)
	return c, nil
}

func newEmbedder(cfg *config.EmbeddingConfig, logger *zap.Logger) (embedding.Embedder, error) {
	switch cfg.Provider {
	case "mock":
		logger.Warn("using mock embedder")
		return embedding.NewMockEmbedder(cfg.Dimensions), nil
	case "http":
		apiKey := os.Getenv(cfg.APIKeyEnv)
		if apiKey == "" {
			logger.Warn("embedding API key not set", zap.String("env", cfg.APIKeyEnv))
		}
		emb, err := embedding.NewHTTPEmbedder(embedding.HTTPOptions{
			BaseURL:    cfg.Endpoint,
			Model:      cfg.Model,
			APIKey:     apiKey,
			Dimensions: cfg.Dimensions,
			Timeout:    cfg.Timeout,
			MaxRetries: cfg.MaxRetries,
			MemoSize:   cfg.MemoSize,
			Logger:     logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize http embedder: %w", err)
		}
		return emb, nil
	case "onnx":
		emb, err := embedding.NewONNXEmbedder(embedding.ONNXOptions{
			ModelPath:  cfg.ModelPath,
			Dimensions: cfg.Dimensions,
			MaxTokens:  cfg.MaxTokens,
			MemoSize:   cfg.MemoSize,
			OutputName: cfg.OutputName,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize onnx embedder: %w", err)
		}
		return emb, nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

// openWarm builds the components and restores the persisted cache and index.
func openWarm(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	c, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := c.Indexer.Warm(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to restore embedding cache: %w", err)
	}
	return c, nil
}

// notReadyHint adds the command to run when a local search finds no index.
func notReadyHint(err error) error {
	if errors.Is(err, models.ErrNotReady) {
		return fmt.Errorf("%w (run \"setsumei load\" to index the corpus)", err)
	}
	return err
}
