package vector

import (
	"fmt"
	"strings"
)

// IndexType selects the search backend.
type IndexType string

const (
	// IndexTypeMemory is exact brute-force search. Good for corpora up to tens of thousands of documents.
	IndexTypeMemory IndexType = "memory"
	// IndexTypeFAISS uses FAISS flat indexes. Requires the FAISS C library and -tags=faiss.
	IndexTypeFAISS IndexType = "faiss"
)

// Metric is the similarity function, fixed per deployment.
type Metric string

const (
	// MetricCosine L2-normalizes stored vectors and queries and scores by inner product (higher is better).
	MetricCosine Metric = "cosine"
	// MetricL2 scores by squared Euclidean distance (lower is better).
	MetricL2 Metric = "l2"
)

// ParseMetric accepts "cosine" (default when empty) or "l2".
func ParseMetric(s string) (Metric, error) {
	switch Metric(strings.ToLower(strings.TrimSpace(s))) {
	case MetricCosine, "":
		return MetricCosine, nil
	case MetricL2:
		return MetricL2, nil
	default:
		return "", fmt.Errorf("unknown metric: %s (supported: cosine, l2)", s)
	}
}

// HigherIsBetter reports whether larger scores rank first.
func (m Metric) HigherIsBetter() bool {
	return m != MetricL2
}

// NewIndex creates an empty index of the given type. Supported types: "memory" (default), "faiss".
func NewIndex(indexType string, dimensions int, metric Metric) (*Index, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	if _, err := ParseMetric(string(metric)); err != nil {
		return nil, err
	}
	if metric == "" {
		metric = MetricCosine
	}
	kind := IndexType(indexType)
	switch kind {
	case IndexTypeMemory, "":
		kind = IndexTypeMemory
	case IndexTypeFAISS:
		if !IsFAISSAvailable() {
			return nil, errFAISSUnavailable
		}
	default:
		return nil, fmt.Errorf("unknown index type: %s (supported: memory, faiss)", indexType)
	}
	return &Index{kind: kind, dims: dimensions, metric: metric}, nil
}

func buildBackend(kind IndexType, dims int, metric Metric, flat []float32, n int) (backend, error) {
	if kind == IndexTypeFAISS {
		return buildFAISS(dims, metric, flat, n)
	}
	return newFlatBackend(dims, metric, flat, n), nil
}

func loadBackend(kind IndexType, path string, dims int, metric Metric) (backend, error) {
	if kind == IndexTypeFAISS {
		return loadFAISS(path, dims, metric)
	}
	b, err := loadFlatBackend(path, dims, metric)
	if err != nil {
		return nil, err
	}
	return b, nil
}
