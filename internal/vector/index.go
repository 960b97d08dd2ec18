// Package vector holds the searchable vector index built from embedding-cache
// snapshots. A build produces a new immutable backend that replaces the
// previous one with a single atomic swap.
package vector

import (
	"context"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hyperjump/setsumei/internal/models"
	"github.com/hyperjump/setsumei/pkg/utils"
)

var (
	// ErrStale means the persisted index was built from a different cache state.
	ErrStale = errors.New("persisted index is stale")
	// ErrMetricMismatch means the persisted index uses another metric or backend.
	ErrMetricMismatch = errors.New("persisted index metric mismatch")
)

const metaVersion = 1

// Hit is one search result: the cache position, the document stored there,
// and the metric score.
type Hit struct {
	Position   int
	DocumentID string
	Score      float64
}

// backend is an immutable built structure. search returns hits best-first.
type backend interface {
	search(query []float32, k int) ([]Hit, error)
	size() int
	writeFile(path string) error
	free()
}

type built struct {
	mu      sync.RWMutex
	closed  bool
	backend backend
	ids     []string
	digest  string
	builtAt time.Time
}

// Stats describes the live index.
type Stats struct {
	Type       IndexType `json:"type"`
	Metric     Metric    `json:"metric"`
	Dimensions int       `json:"dimensions"`
	Ready      bool      `json:"ready"`
	Size       int       `json:"size"`
	Digest     string    `json:"digest,omitempty"`
	BuiltAt    time.Time `json:"built_at,omitempty"`
}

// Index is safe for concurrent searches during a rebuild. Readers always see
// either the previous or the new index in full.
type Index struct {
	kind   IndexType
	dims   int
	metric Metric

	state atomic.Pointer[built]
	swap  sync.Mutex
}

// Build creates a fresh backend from snap and swaps it in. The snapshot's
// vector and id counts must agree.
func (ix *Index) Build(ctx context.Context, snap *models.IndexSnapshot) error {
	if snap == nil {
		return fmt.Errorf("build: nil snapshot")
	}
	if len(snap.Vectors) != len(snap.DocumentIDs) {
		return fmt.Errorf("build: %d vectors for %d document ids: %w",
			len(snap.Vectors), len(snap.DocumentIDs), models.ErrInconsistent)
	}
	n := len(snap.Vectors)
	flat := make([]float32, n*ix.dims)
	for i, v := range snap.Vectors {
		if len(v) != ix.dims {
			return fmt.Errorf("build: vector at position %d has %d dimensions, expected %d: %w",
				i, len(v), ix.dims, models.ErrInconsistent)
		}
		row := flat[i*ix.dims : (i+1)*ix.dims]
		copy(row, v)
		if ix.metric == MetricCosine {
			utils.NormalizeL2(row)
		}
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
	}

	b, err := buildBackend(ix.kind, ix.dims, ix.metric, flat, n)
	if err != nil {
		return fmt.Errorf("build %s index: %w", ix.kind, err)
	}
	ids := make([]string, n)
	copy(ids, snap.DocumentIDs)
	ix.install(&built{backend: b, ids: ids, digest: snap.Digest, builtAt: time.Now()})
	return nil
}

// install swaps next in and frees the previous backend once in-flight searches finish.
func (ix *Index) install(next *built) {
	ix.swap.Lock()
	old := ix.state.Swap(next)
	ix.swap.Unlock()
	retire(old)
}

func retire(old *built) {
	if old == nil {
		return
	}
	old.mu.Lock()
	old.closed = true
	old.backend.free()
	old.mu.Unlock()
}

// acquire returns the live state read-locked, or nil when nothing is built.
func (ix *Index) acquire() *built {
	for {
		st := ix.state.Load()
		if st == nil {
			return nil
		}
		st.mu.RLock()
		if !st.closed {
			return st
		}
		st.mu.RUnlock()
	}
}

// Search returns at most k hits ordered best-first, ties broken by ascending
// position. It returns models.ErrNotReady until a build or reload succeeds.
func (ix *Index) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	if len(query) != ix.dims {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), ix.dims)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	st := ix.acquire()
	if st == nil {
		return nil, models.ErrNotReady
	}
	defer st.mu.RUnlock()

	if k <= 0 || st.backend.size() == 0 {
		return []Hit{}, nil
	}
	if n := st.backend.size(); k > n {
		k = n
	}
	q := query
	if ix.metric == MetricCosine {
		q = make([]float32, len(query))
		copy(q, query)
		utils.NormalizeL2(q)
	}
	hits, err := st.backend.search(q, k)
	if err != nil {
		return nil, err
	}
	for i := range hits {
		if p := hits[i].Position; p >= 0 && p < len(st.ids) {
			hits[i].DocumentID = st.ids[p]
		}
	}
	return hits, nil
}

// sortHits orders hits best-first for metric, ties by ascending position.
func sortHits(hits []Hit, metric Metric) {
	higher := metric.HigherIsBetter()
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			if higher {
				return hits[i].Score > hits[j].Score
			}
			return hits[i].Score < hits[j].Score
		}
		return hits[i].Position < hits[j].Position
	})
}

// topK returns the best k of n vectors from a backend whose fetch(m) yields
// its m best hits in no particular tie order. The window widens while the k-th
// score is still tied with the last fetched hit, so ties at the cutoff resolve
// by ascending position.
func topK(k, n int, metric Metric, fetch func(m int) ([]Hit, error)) ([]Hit, error) {
	m := 2 * k
	for {
		if m > n {
			m = n
		}
		hits, err := fetch(m)
		if err != nil {
			return nil, err
		}
		sortHits(hits, metric)
		if len(hits) <= k {
			return hits, nil
		}
		if m == n || len(hits) < m || hits[k-1].Score != hits[len(hits)-1].Score {
			return hits[:k], nil
		}
		m *= 2
	}
}

// Ready reports whether a built index is live.
func (ix *Index) Ready() bool {
	return ix.state.Load() != nil
}

// Size returns the number of indexed vectors, 0 when not ready.
func (ix *Index) Size() int {
	st := ix.acquire()
	if st == nil {
		return 0
	}
	defer st.mu.RUnlock()
	return st.backend.size()
}

// Digest returns the digest of the snapshot the live index was built from.
func (ix *Index) Digest() string {
	st := ix.acquire()
	if st == nil {
		return ""
	}
	defer st.mu.RUnlock()
	return st.digest
}

// Metric returns the configured metric.
func (ix *Index) Metric() Metric { return ix.metric }

// Type returns the backend type.
func (ix *Index) Type() IndexType { return ix.kind }

// Dimensions returns the vector dimension.
func (ix *Index) Dimensions() int { return ix.dims }

// Stats returns a description of the live index.
func (ix *Index) Stats() Stats {
	s := Stats{Type: ix.kind, Metric: ix.metric, Dimensions: ix.dims}
	st := ix.acquire()
	if st == nil {
		return s
	}
	defer st.mu.RUnlock()
	s.Ready = true
	s.Size = st.backend.size()
	s.Digest = st.digest
	s.BuiltAt = st.builtAt
	return s
}

// Close releases the live backend. Subsequent searches return models.ErrNotReady.
func (ix *Index) Close() error {
	ix.swap.Lock()
	old := ix.state.Swap(nil)
	ix.swap.Unlock()
	retire(old)
	return nil
}

// indexMeta is persisted next to the vectors. DocumentIDs[i] is the document
// at position i; Checksum is the SHA-256 of the vector file.
type indexMeta struct {
	Version     int
	Type        IndexType
	Metric      Metric
	Dimensions  int
	DocumentIDs []string
	Digest      string
	Checksum    string
	BuiltAt     time.Time
}

func vectorPath(base string) string { return base + ".vec" }
func metaPath(base string) string   { return base + ".meta" }

// Save writes the live index to base.vec and base.meta. Each file is written
// to a temporary name and renamed into place.
func (ix *Index) Save(base string) error {
	if base == "" {
		return fmt.Errorf("save: empty index path")
	}
	st := ix.acquire()
	if st == nil {
		return models.ErrNotReady
	}
	defer st.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(base), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	tmpVec := vectorPath(base) + ".tmp"
	if err := st.backend.writeFile(tmpVec); err != nil {
		_ = os.Remove(tmpVec)
		return fmt.Errorf("write vectors: %w", err)
	}
	sum, err := fileChecksum(tmpVec)
	if err != nil {
		_ = os.Remove(tmpVec)
		return err
	}
	if err := os.Rename(tmpVec, vectorPath(base)); err != nil {
		return fmt.Errorf("install vectors: %w", err)
	}

	meta := indexMeta{
		Version:     metaVersion,
		Type:        ix.kind,
		Metric:      ix.metric,
		Dimensions:  ix.dims,
		DocumentIDs: st.ids,
		Digest:      st.digest,
		Checksum:    sum,
		BuiltAt:     st.builtAt,
	}
	tmpMeta := metaPath(base) + ".tmp"
	if err := writeMeta(tmpMeta, &meta); err != nil {
		_ = os.Remove(tmpMeta)
		return err
	}
	if err := os.Rename(tmpMeta, metaPath(base)); err != nil {
		return fmt.Errorf("install index meta: %w", err)
	}
	return nil
}

// ReloadFromDisk restores a saved index without recomputing any vector. When
// expectedDigest is non-empty and differs from the saved digest it returns
// ErrStale and leaves the live index untouched. Vectors and meta that disagree
// are reported as models.ErrInconsistent. A missing index wraps os.ErrNotExist.
func (ix *Index) ReloadFromDisk(base, expectedDigest string) error {
	meta, err := readMeta(metaPath(base))
	if err != nil {
		return err
	}
	if meta.Version != metaVersion {
		return fmt.Errorf("index meta version %d, expected %d: %w", meta.Version, metaVersion, models.ErrInconsistent)
	}
	if meta.Metric != ix.metric || meta.Type != ix.kind {
		return fmt.Errorf("saved %s/%s, configured %s/%s: %w",
			meta.Type, meta.Metric, ix.kind, ix.metric, ErrMetricMismatch)
	}
	if meta.Dimensions != ix.dims {
		return fmt.Errorf("saved index has %d dimensions, expected %d: %w",
			meta.Dimensions, ix.dims, models.ErrInconsistent)
	}
	if expectedDigest != "" && meta.Digest != expectedDigest {
		return ErrStale
	}
	sum, err := fileChecksum(vectorPath(base))
	if err != nil {
		return err
	}
	if sum != meta.Checksum {
		return fmt.Errorf("vector file checksum mismatch: %w", models.ErrInconsistent)
	}

	b, err := loadBackend(ix.kind, vectorPath(base), ix.dims, ix.metric)
	if err != nil {
		return fmt.Errorf("load vectors: %w", err)
	}
	if b.size() != len(meta.DocumentIDs) {
		b.free()
		return fmt.Errorf("saved index has %d vectors for %d document ids: %w",
			b.size(), len(meta.DocumentIDs), models.ErrInconsistent)
	}
	ix.install(&built{backend: b, ids: meta.DocumentIDs, digest: meta.Digest, builtAt: meta.BuiltAt})
	return nil
}

func writeMeta(path string, meta *indexMeta) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create index meta: %w", err)
	}
	if err := gob.NewEncoder(f).Encode(meta); err != nil {
		_ = f.Close()
		return fmt.Errorf("encode index meta: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func readMeta(path string) (*indexMeta, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open index meta: %w", err)
	}
	defer f.Close()
	var meta indexMeta
	if err := gob.NewDecoder(f).Decode(&meta); err != nil {
		return nil, fmt.Errorf("decode index meta: %v: %w", err, models.ErrInconsistent)
	}
	return &meta, nil
}

func fileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
