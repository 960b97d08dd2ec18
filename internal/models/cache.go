package models

// CacheEntry is one persisted embedding-cache row.
type CacheEntry struct {
	DocumentID  string    `json:"document_id"`
	Fingerprint string    `json:"fingerprint"`
	Position    int       `json:"position"`
	Vector      []float32 `json:"-"`
}

// IndexSnapshot is a point-in-time copy of the cache used to build the vector index.
// DocumentIDs[i] is the document stored at position i.
type IndexSnapshot struct {
	Vectors     [][]float32
	DocumentIDs []string
	Digest      string
}

// Len returns the number of positions in the snapshot.
func (s *IndexSnapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.DocumentIDs)
}
