// Package search runs explained semantic queries against the live vector index.
package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/setsumei/internal/config"
	"github.com/hyperjump/setsumei/internal/embedding"
	"github.com/hyperjump/setsumei/internal/metrics"
	"github.com/hyperjump/setsumei/internal/models"
	"github.com/hyperjump/setsumei/internal/vector"
	"github.com/hyperjump/setsumei/pkg/utils"
)

var tracer = otel.Tracer("github.com/hyperjump/setsumei/search")

// Skip reasons reported to metrics.
const (
	skipMissing    = "missing_document"
	skipFetchError = "fetch_error"
)

// VectorSearcher is the read side of the vector index.
type VectorSearcher interface {
	Search(ctx context.Context, query []float32, k int) ([]vector.Hit, error)
	Metric() vector.Metric
}

// DocumentStore resolves document ids to stored documents.
type DocumentStore interface {
	GetDocument(ctx context.Context, id string) (*models.Document, error)
}

// Explainer produces an explanation for one query/document pair.
type Explainer interface {
	Explain(ctx context.Context, query, text string) (*models.Explanation, error)
}

// Engine orchestrates embed, search, fetch and explain for a query.
type Engine struct {
	embedder  embedding.Embedder
	index     VectorSearcher
	docs      DocumentStore
	explainer Explainer
	config    *config.SearchConfig
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics records query metrics on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates a search engine. explainer may be nil, in which case
// results carry no explanation.
func NewEngine(
	embedder embedding.Embedder,
	index VectorSearcher,
	docs DocumentStore,
	explainer Explainer,
	cfg *config.SearchConfig,
	opts ...Option,
) *Engine {
	e := &Engine{
		embedder:  embedder,
		index:     index,
		docs:      docs,
		explainer: explainer,
		config:    cfg,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Search embeds the query, retrieves the top hits and explains each one.
// Results keep index order; hits whose document cannot be fetched are skipped,
// and hits whose explanation fails are returned degraded.
func (e *Engine) Search(ctx context.Context, query *models.SearchQuery) (*models.SearchResponse, error) {
	startTime := time.Now()
	queryID := uuid.NewString()

	ctx, span := tracer.Start(ctx, "search")
	defer span.End()
	span.SetAttributes(attribute.String("setsumei.query.id", queryID))

	resp, err := e.search(ctx, queryID, query)
	e.metrics.ObserveStage("total", time.Since(startTime))
	e.metrics.Query(outcome(resp, err))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Warn("search failed",
			zap.String("query_id", queryID),
			zap.Error(err))
		return nil, err
	}
	resp.QueryTime = time.Since(startTime).Milliseconds()
	e.logger.Debug("search complete",
		zap.String("query_id", queryID),
		zap.Int("results", len(resp.Results)),
		zap.Int("skipped", resp.Skipped),
		zap.Int64("query_time_ms", resp.QueryTime))
	return resp, nil
}

func (e *Engine) search(ctx context.Context, queryID string, query *models.SearchQuery) (*models.SearchResponse, error) {
	if err := query.Validate(e.config.DefaultTopK, e.config.MaxTopK); err != nil {
		return nil, err
	}

	vec, err := e.embed(ctx, query.Query)
	if err != nil {
		return nil, err
	}

	searchStart := time.Now()
	hits, err := e.index.Search(ctx, vec, query.TopK)
	e.metrics.ObserveStage("search", time.Since(searchStart))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, models.ErrNotReady) {
			return nil, err
		}
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	results, skipped, err := e.resolve(ctx, query, hits)
	if err != nil {
		return nil, err
	}

	return &models.SearchResponse{
		QueryID: queryID,
		Query:   query.Query,
		Metric:  string(e.index.Metric()),
		TopK:    query.TopK,
		Results: results,
		Total:   len(results),
		Skipped: skipped,
	}, nil
}

// embed produces the query vector within the embed timeout.
func (e *Engine) embed(ctx context.Context, text string) ([]float32, error) {
	ctx, span := tracer.Start(ctx, "embed")
	defer span.End()

	embedCtx, cancel := withTimeout(ctx, e.config.EmbedTimeout)
	defer cancel()

	start := time.Now()
	vec, err := e.embedder.Embed(embedCtx, text)
	e.metrics.ObserveStage("embed", time.Since(start))
	if err == nil {
		return vec, nil
	}
	span.RecordError(err)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, models.ErrUpstreamTimeout) {
		return nil, fmt.Errorf("%w: %w: %v", models.ErrEmbeddingUnavailable, models.ErrUpstreamTimeout, err)
	}
	return nil, fmt.Errorf("%w: %v", models.ErrEmbeddingUnavailable, err)
}

// resolve fetches and explains each hit with bounded concurrency. The returned
// slice keeps hit order with skipped hits removed.
func (e *Engine) resolve(ctx context.Context, query *models.SearchQuery, hits []vector.Hit) ([]*models.SearchResult, int, error) {
	slots := make([]*models.SearchResult, len(hits))
	skipReasons := make([]string, len(hits))
	explain := e.explainer != nil && query.WantsExplanation()

	g, gctx := errgroup.WithContext(ctx)
	workers := e.config.Workers
	if workers <= 0 {
		workers = 1
	}
	g.SetLimit(workers)

	for i, hit := range hits {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			doc, reason := e.fetch(gctx, hit.DocumentID)
			if doc == nil {
				if err := ctx.Err(); err != nil {
					return err
				}
				skipReasons[i] = reason
				return nil
			}
			result := &models.SearchResult{
				DocumentID: doc.ID,
				Title:      doc.Title,
				Score:      hit.Score,
				Position:   hit.Position,
				Preview:    utils.Truncate(doc.Text, e.config.PreviewLength),
			}
			if explain {
				if err := e.explain(gctx, query.Query, doc, result); err != nil {
					if ctxErr := ctx.Err(); ctxErr != nil {
						return ctxErr
					}
				}
			}
			slots[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	results := make([]*models.SearchResult, 0, len(hits))
	skipped := 0
	for i, r := range slots {
		if r == nil {
			skipped++
			e.metrics.Skipped(skipReasons[i], 1)
			continue
		}
		r.Rank = len(results) + 1
		results = append(results, r)
	}
	return results, skipped, nil
}

// fetch loads a document within the fetch timeout. A nil document means the
// hit is skipped for the returned reason.
func (e *Engine) fetch(ctx context.Context, id string) (*models.Document, string) {
	fetchCtx, cancel := withTimeout(ctx, e.config.FetchTimeout)
	defer cancel()

	start := time.Now()
	doc, err := e.docs.GetDocument(fetchCtx, id)
	e.metrics.ObserveStage("fetch", time.Since(start))
	if err == nil && doc != nil {
		return doc, ""
	}
	if errors.Is(err, models.ErrNotFound) || (err == nil && doc == nil) {
		e.logger.Warn("indexed document missing from store, skipping", zap.String("document_id", id))
		return nil, skipMissing
	}
	e.logger.Warn("document fetch failed, skipping", zap.String("document_id", id), zap.Error(err))
	return nil, skipFetchError
}

// explain fills result.Explanation, or marks the result degraded on failure.
func (e *Engine) explain(ctx context.Context, query string, doc *models.Document, result *models.SearchResult) error {
	explainCtx, cancel := withTimeout(ctx, e.config.ExplainTimeout)
	defer cancel()

	start := time.Now()
	exp, err := e.explainer.Explain(explainCtx, query, doc.Text)
	e.metrics.ObserveStage("explain", time.Since(start))
	if err != nil {
		result.Degraded = true
		result.ExplainError = err.Error()
		e.logger.Warn("explanation failed, returning degraded result",
			zap.String("document_id", doc.ID),
			zap.Error(err))
		return err
	}
	result.Explanation = exp
	return nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func outcome(resp *models.SearchResponse, err error) string {
	switch {
	case err == nil:
		for _, r := range resp.Results {
			if r.Degraded {
				return metrics.OutcomeDegraded
			}
		}
		return metrics.OutcomeOK
	case errors.Is(err, models.ErrInvalidQuery):
		return metrics.OutcomeInvalid
	case errors.Is(err, models.ErrNotReady):
		return metrics.OutcomeNotReady
	case errors.Is(err, models.ErrEmbeddingUnavailable):
		return metrics.OutcomeEmbedFailed
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return metrics.OutcomeCancelled
	default:
		return metrics.OutcomeError
	}
}
