package models

import (
	"fmt"
	"strings"
)

const (
	DefaultTopK = 5
	MaxTopK     = 100
)

// SearchQuery is a retrieval request.
type SearchQuery struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k,omitempty"`
	// Explain disables per-result explanations when set to false.
	Explain *bool `json:"explain,omitempty"`
}

// Validate trims the query, rejects empty text, and clamps TopK into [1, maxTopK].
// Non-positive defaults fall back to DefaultTopK and MaxTopK.
func (q *SearchQuery) Validate(defaultTopK, maxTopK int) error {
	q.Query = strings.TrimSpace(q.Query)
	if q.Query == "" {
		return fmt.Errorf("%w: query cannot be empty", ErrInvalidQuery)
	}
	if defaultTopK <= 0 {
		defaultTopK = DefaultTopK
	}
	if maxTopK <= 0 {
		maxTopK = MaxTopK
	}
	if q.TopK <= 0 {
		q.TopK = defaultTopK
	}
	if q.TopK > maxTopK {
		q.TopK = maxTopK
	}
	return nil
}

// WantsExplanation reports whether explanations were requested (default true).
func (q *SearchQuery) WantsExplanation() bool {
	return q.Explain == nil || *q.Explain
}
