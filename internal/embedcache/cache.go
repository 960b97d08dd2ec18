// Package embedcache maps document ids to their content fingerprint, a dense
// position, and the embedding stored at that position. Positions are assigned
// in insertion order and survive content changes, so a snapshot's row i is the
// vector of the document at position i.
package embedcache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"

	"github.com/hyperjump/setsumei/internal/models"
)

// Persister stores and restores the full set of cache rows.
type Persister interface {
	SaveCacheEntries(ctx context.Context, entries []models.CacheEntry) error
	LoadCacheEntries(ctx context.Context) ([]models.CacheEntry, error)
}

// Item is one document vector to insert or overwrite.
type Item struct {
	DocumentID  string
	Fingerprint string
	Vector      []float32
}

type slot struct {
	fingerprint string
	position    int
}

// Cache is safe for one writer and many concurrent readers.
type Cache struct {
	mu      sync.RWMutex
	dims    int
	slots   map[string]slot
	vectors [][]float32
	docs    []string
	fps     []string
	store   Persister
}

// New returns an empty cache for vectors of the given dimension. store may be
// nil, in which case Save and Load fail.
func New(dims int, store Persister) *Cache {
	return &Cache{
		dims:  dims,
		slots: make(map[string]slot),
		store: store,
	}
}

// Exists reports whether id is cached with exactly fingerprint fp.
func (c *Cache) Exists(id, fp string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.slots[id]
	return ok && s.fingerprint == fp
}

// Get returns a copy of the vector stored for id.
func (c *Cache) Get(id string) ([]float32, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.slots[id]
	if !ok {
		return nil, fmt.Errorf("cache entry %s: %w", id, models.ErrNotFound)
	}
	return cloneVector(c.vectors[s.position]), nil
}

// Position returns the position assigned to id.
func (c *Cache) Position(id string) (int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.slots[id]
	return s.position, ok
}

// Put stores vec for id. A new id is appended at the next position; a known id
// keeps its position and has its fingerprint and vector overwritten.
func (c *Cache) Put(id, fp string, vec []float32) error {
	return c.PutBatch([]Item{{DocumentID: id, Fingerprint: fp, Vector: vec}})
}

// PutBatch validates every item and then applies all of them under one lock,
// so a concurrent Snapshot sees either none or all of the batch.
func (c *Cache) PutBatch(items []Item) error {
	for i, it := range items {
		if it.DocumentID == "" {
			return fmt.Errorf("batch item %d: empty document id", i)
		}
		if it.Fingerprint == "" {
			return fmt.Errorf("batch item %d (%s): empty fingerprint", i, it.DocumentID)
		}
		if len(it.Vector) != c.dims {
			return fmt.Errorf("batch item %d (%s): vector has %d dimensions, expected %d",
				i, it.DocumentID, len(it.Vector), c.dims)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, it := range items {
		vec := cloneVector(it.Vector)
		if s, ok := c.slots[it.DocumentID]; ok {
			c.vectors[s.position] = vec
			c.fps[s.position] = it.Fingerprint
			c.slots[it.DocumentID] = slot{fingerprint: it.Fingerprint, position: s.position}
			continue
		}
		pos := len(c.vectors)
		c.vectors = append(c.vectors, vec)
		c.docs = append(c.docs, it.DocumentID)
		c.fps = append(c.fps, it.Fingerprint)
		c.slots[it.DocumentID] = slot{fingerprint: it.Fingerprint, position: pos}
	}
	return nil
}

// Snapshot returns a deep copy of every vector in position order with the
// position-to-document table and the digest of that state.
func (c *Cache) Snapshot() *models.IndexSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap := &models.IndexSnapshot{
		Vectors:     make([][]float32, len(c.vectors)),
		DocumentIDs: make([]string, len(c.docs)),
		Digest:      c.digestLocked(),
	}
	for i, v := range c.vectors {
		snap.Vectors[i] = cloneVector(v)
	}
	copy(snap.DocumentIDs, c.docs)
	return snap
}

// Digest identifies the current (position, document, fingerprint) assignment.
// Two caches with equal digests produce identical snapshots.
func (c *Cache) Digest() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.digestLocked()
}

func (c *Cache) digestLocked() string {
	h := sha256.New()
	var buf [8]byte
	for pos, id := range c.docs {
		binary.LittleEndian.PutUint64(buf[:], uint64(pos))
		h.Write(buf[:])
		h.Write([]byte(id))
		h.Write([]byte{0})
		h.Write([]byte(c.fps[pos]))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Len returns the number of cached documents.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.docs)
}

// Dimensions returns the vector dimension.
func (c *Cache) Dimensions() int { return c.dims }

// Compact drops every document not in live and renumbers the rest densely,
// preserving their relative order. It returns the number of dropped entries.
func (c *Cache) Compact(live map[string]bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var vectors [][]float32
	var docs, fps []string
	slots := make(map[string]slot, len(live))
	for pos, id := range c.docs {
		if !live[id] {
			continue
		}
		slots[id] = slot{fingerprint: c.fps[pos], position: len(docs)}
		vectors = append(vectors, c.vectors[pos])
		docs = append(docs, id)
		fps = append(fps, c.fps[pos])
	}
	dropped := len(c.docs) - len(docs)
	c.vectors, c.docs, c.fps, c.slots = vectors, docs, fps, slots
	return dropped
}

// Save writes every entry through the persister, replacing what was stored.
func (c *Cache) Save(ctx context.Context) error {
	if c.store == nil {
		return fmt.Errorf("embedding cache has no persister")
	}
	c.mu.RLock()
	entries := make([]models.CacheEntry, len(c.docs))
	for pos, id := range c.docs {
		entries[pos] = models.CacheEntry{
			DocumentID:  id,
			Fingerprint: c.fps[pos],
			Position:    pos,
			Vector:      cloneVector(c.vectors[pos]),
		}
	}
	c.mu.RUnlock()
	if err := c.store.SaveCacheEntries(ctx, entries); err != nil {
		return fmt.Errorf("save embedding cache: %w", err)
	}
	return nil
}

// Load replaces the in-memory state with the persisted entries. Entries whose
// positions are not exactly 0..N-1, duplicate ids, or vectors of the wrong
// dimension are reported as models.ErrInconsistent and leave the cache unchanged.
func (c *Cache) Load(ctx context.Context) error {
	if c.store == nil {
		return fmt.Errorf("embedding cache has no persister")
	}
	entries, err := c.store.LoadCacheEntries(ctx)
	if err != nil {
		return fmt.Errorf("load embedding cache: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Position < entries[j].Position })

	n := len(entries)
	vectors := make([][]float32, n)
	docs := make([]string, n)
	fps := make([]string, n)
	slots := make(map[string]slot, n)
	for i, e := range entries {
		if e.Position != i {
			return fmt.Errorf("cache positions are not contiguous: expected %d, found %d (%d entries): %w",
				i, e.Position, n, models.ErrInconsistent)
		}
		if _, dup := slots[e.DocumentID]; dup {
			return fmt.Errorf("document %s cached at more than one position: %w", e.DocumentID, models.ErrInconsistent)
		}
		if len(e.Vector) != c.dims {
			return fmt.Errorf("document %s has %d dimensions, expected %d: %w",
				e.DocumentID, len(e.Vector), c.dims, models.ErrInconsistent)
		}
		vectors[i] = e.Vector
		docs[i] = e.DocumentID
		fps[i] = e.Fingerprint
		slots[e.DocumentID] = slot{fingerprint: e.Fingerprint, position: i}
	}

	c.mu.Lock()
	c.vectors, c.docs, c.fps, c.slots = vectors, docs, fps, slots
	c.mu.Unlock()
	return nil
}

func cloneVector(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
