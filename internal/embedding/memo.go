package embedding

import (
	"container/list"
	"sync"
)

// Memo is an LRU of embeddings keyed by the exact input text. It saves repeat
// model calls for identical queries and sentences; document vectors live in
// the fingerprint-keyed embedding cache instead.
type Memo struct {
	capacity int
	items    map[string]*list.Element
	lru      *list.List
	mu       sync.Mutex
}

type memoEntry struct {
	key   string
	value []float32
}

// NewMemo creates a memo holding up to capacity embeddings. A non-positive
// capacity disables memoization.
func NewMemo(capacity int) *Memo {
	return &Memo{
		capacity: capacity,
		items:    make(map[string]*list.Element),
		lru:      list.New(),
	}
}

// Get returns a copy of the memoized embedding for key if present.
func (m *Memo) Get(key string) ([]float32, bool) {
	if m == nil || m.capacity <= 0 {
		return nil, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	elem, ok := m.items[key]
	if !ok {
		return nil, false
	}
	m.lru.MoveToFront(elem)
	v := elem.Value.(*memoEntry).value
	out := make([]float32, len(v))
	copy(out, v)
	return out, true
}

// Set stores a copy of value under key, evicting the least recently used entry at capacity.
func (m *Memo) Set(key string, value []float32) {
	if m == nil || m.capacity <= 0 {
		return
	}
	stored := make([]float32, len(value))
	copy(stored, value)

	m.mu.Lock()
	defer m.mu.Unlock()

	if elem, ok := m.items[key]; ok {
		m.lru.MoveToFront(elem)
		elem.Value.(*memoEntry).value = stored
		return
	}
	m.items[key] = m.lru.PushFront(&memoEntry{key: key, value: stored})
	if m.lru.Len() > m.capacity {
		oldest := m.lru.Back()
		m.lru.Remove(oldest)
		delete(m.items, oldest.Value.(*memoEntry).key)
	}
}

// Len returns the number of memoized embeddings.
func (m *Memo) Len() int {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lru.Len()
}
