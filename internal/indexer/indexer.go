// Package indexer keeps the embedding cache in step with the document store and
// builds, persists and restores the vector index from it.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/setsumei/internal/embedcache"
	"github.com/hyperjump/setsumei/internal/embedding"
	"github.com/hyperjump/setsumei/internal/metrics"
	"github.com/hyperjump/setsumei/internal/models"
	"github.com/hyperjump/setsumei/internal/vector"
)

// DefaultBatchSize is the number of documents embedded per EmbedBatch call.
const DefaultBatchSize = 32

// DocumentLister lists the documents that should be cached.
type DocumentLister interface {
	ListDocuments(ctx context.Context, sel models.CorpusSelector) ([]*models.Document, error)
}

// RefreshStats reports what a cache refresh did.
type RefreshStats struct {
	Total    int           `json:"total"`
	Reused   int           `json:"reused"`
	Embedded int           `json:"embedded"`
	Removed  int           `json:"removed"`
	Duration time.Duration `json:"duration_ns"`
}

// Indexer owns cache refresh and index builds. Refresh and build are
// serialized; searches keep running against the previous index meanwhile.
type Indexer struct {
	mu        sync.Mutex
	docs      DocumentLister
	embedder  embedding.Embedder
	cache     *embedcache.Cache
	index     *vector.Index
	indexPath string
	batchSize int
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// Option configures an Indexer.
type Option func(*Indexer)

// WithLogger sets the indexer logger.
func WithLogger(l *zap.Logger) Option {
	return func(idx *Indexer) {
		if l != nil {
			idx.logger = l
		}
	}
}

// WithMetrics records cache and build metrics on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(idx *Indexer) { idx.metrics = m }
}

// WithBatchSize sets the embedding batch size.
func WithBatchSize(n int) Option {
	return func(idx *Indexer) {
		if n > 0 {
			idx.batchSize = n
		}
	}
}

// WithIndexPath persists built indexes to path (.vec/.meta) and restores them on Warm.
func WithIndexPath(path string) Option {
	return func(idx *Indexer) { idx.indexPath = path }
}

// NewIndexer creates an indexer over the given cache and index.
func NewIndexer(docs DocumentLister, embedder embedding.Embedder, cache *embedcache.Cache, index *vector.Index, opts ...Option) *Indexer {
	idx := &Indexer{
		docs:      docs,
		embedder:  embedder,
		cache:     cache,
		index:     index,
		batchSize: DefaultBatchSize,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// Refresh embeds every stored document whose fingerprint is not already cached,
// drops cache entries for documents no longer stored, and saves the cache.
// The index is not touched; call BuildIndex to publish the result.
func (idx *Indexer) Refresh(ctx context.Context) (*RefreshStats, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.refresh(ctx)
}

func (idx *Indexer) refresh(ctx context.Context) (*RefreshStats, error) {
	start := time.Now()
	docs, err := idx.docs.ListDocuments(ctx, models.CorpusSelector{})
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}

	stats := &RefreshStats{Total: len(docs)}
	live := make(map[string]bool, len(docs))
	var pending []*models.Document
	for _, d := range docs {
		live[d.ID] = true
		if idx.cache.Exists(d.ID, d.Fingerprint) {
			stats.Reused++
			continue
		}
		pending = append(pending, d)
	}

	for i := 0; i < len(pending); i += idx.batchSize {
		end := min(i+idx.batchSize, len(pending))
		if err := idx.embedBatch(ctx, pending[i:end]); err != nil {
			return nil, err
		}
		stats.Embedded += end - i
		idx.logger.Debug("embedded batch", zap.Int("done", stats.Embedded), zap.Int("pending", len(pending)))
	}

	stats.Removed = idx.cache.Compact(live)
	if err := idx.cache.Save(ctx); err != nil {
		return nil, err
	}
	stats.Duration = time.Since(start)
	idx.metrics.CacheLookups(stats.Reused, stats.Embedded)
	idx.logger.Info("embedding cache refreshed",
		zap.Int("total", stats.Total),
		zap.Int("reused", stats.Reused),
		zap.Int("embedded", stats.Embedded),
		zap.Int("removed", stats.Removed),
		zap.Duration("duration", stats.Duration))
	return stats, nil
}

func (idx *Indexer) embedBatch(ctx context.Context, docs []*models.Document) error {
	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.NormalizedText
	}
	vecs, err := idx.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrEmbeddingUnavailable, err)
	}
	if len(vecs) != len(docs) {
		return fmt.Errorf("embedder returned %d vectors for %d documents: %w", len(vecs), len(docs), models.ErrInconsistent)
	}
	items := make([]embedcache.Item, len(docs))
	for i, d := range docs {
		items[i] = embedcache.Item{DocumentID: d.ID, Fingerprint: d.Fingerprint, Vector: vecs[i]}
	}
	return idx.cache.PutBatch(items)
}

// BuildIndex builds a new index from a cache snapshot, swaps it in and, when an
// index path is configured, saves it.
func (idx *Indexer) BuildIndex(ctx context.Context) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.build(ctx)
}

func (idx *Indexer) build(ctx context.Context) error {
	snap := idx.cache.Snapshot()
	if err := idx.index.Build(ctx, snap); err != nil {
		if errors.Is(err, models.ErrInconsistent) {
			idx.logger.Error("snapshot rejected by index build",
				zap.Int("vectors", len(snap.Vectors)),
				zap.Int("document_ids", len(snap.DocumentIDs)),
				zap.Error(err))
		}
		return fmt.Errorf("build index: %w", err)
	}
	idx.metrics.IndexInstalled("build", snap.Len())
	idx.logger.Info("vector index built", zap.Int("vectors", snap.Len()), zap.String("digest", snap.Digest))
	if idx.indexPath == "" {
		return nil
	}
	if err := idx.index.Save(idx.indexPath); err != nil {
		return fmt.Errorf("save index: %w", err)
	}
	return nil
}

// Sync refreshes the cache and rebuilds the index in one step.
func (idx *Indexer) Sync(ctx context.Context) (*RefreshStats, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	stats, err := idx.refresh(ctx)
	if err != nil {
		return nil, err
	}
	if err := idx.build(ctx); err != nil {
		return stats, err
	}
	return stats, nil
}

// Warm restores the persisted cache and index at startup. An inconsistent
// cache is fatal. A saved index is used only when its digest matches the
// cache; otherwise the index is rebuilt from the cache without re-embedding.
// With an empty cache the index stays unbuilt and searches report not ready.
func (idx *Indexer) Warm(ctx context.Context) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if err := idx.cache.Load(ctx); err != nil {
		if errors.Is(err, models.ErrInconsistent) {
			idx.logger.Error("persisted embedding cache is inconsistent", zap.Error(err))
		}
		return err
	}
	idx.logger.Info("embedding cache loaded", zap.Int("entries", idx.cache.Len()))

	if idx.indexPath != "" {
		err := idx.index.ReloadFromDisk(idx.indexPath, idx.cache.Digest())
		switch {
		case err == nil:
			idx.metrics.IndexInstalled("reload", idx.index.Size())
			idx.logger.Info("vector index reloaded from disk",
				zap.String("path", idx.indexPath),
				zap.Int("vectors", idx.index.Size()))
			return nil
		case errors.Is(err, os.ErrNotExist):
			idx.logger.Info("no saved vector index", zap.String("path", idx.indexPath))
		case errors.Is(err, vector.ErrStale):
			idx.logger.Info("saved vector index is stale, rebuilding from cache")
		default:
			idx.logger.Error("saved vector index unusable, rebuilding from cache",
				zap.String("path", idx.indexPath), zap.Error(err))
		}
	}

	if idx.cache.Len() == 0 {
		idx.logger.Warn("embedding cache is empty, index not ready until refresh")
		return nil
	}
	return idx.build(ctx)
}

// Ready reports whether the index can serve searches.
func (idx *Indexer) Ready() bool {
	return idx.index.Ready()
}

// Status summarizes cache and index state.
type Status struct {
	CacheEntries int          `json:"cache_entries"`
	CacheDigest  string       `json:"cache_digest"`
	Index        vector.Stats `json:"index"`
	Stale        bool         `json:"stale"`
}

// Status returns the current cache and index state. Stale means the live
// index was built from a different cache state.
func (idx *Indexer) Status() Status {
	digest := idx.cache.Digest()
	st := idx.index.Stats()
	return Status{
		CacheEntries: idx.cache.Len(),
		CacheDigest:  digest,
		Index:        st,
		Stale:        idx.index.Ready() && idx.index.Digest() != digest,
	}
}
