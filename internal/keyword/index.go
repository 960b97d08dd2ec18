// Package keyword provides the full-text index used to select corpus documents by keyword.
package keyword

import (
	"context"

	"github.com/hyperjump/setsumei/internal/models"
)

// KeywordIndex defines keyword indexing and matching operations.
type KeywordIndex interface {
	Index(ctx context.Context, doc *models.Document) error
	Delete(ctx context.Context, id string) error
	// Match returns ids of documents matching query, best first. limit <= 0 means no limit.
	Match(ctx context.Context, query string, limit int) ([]*Match, error)
	// DocCount returns the total number of documents in the index.
	DocCount() (uint64, error)
	Close() error
}

// Match is a single keyword hit.
type Match struct {
	ID    string
	Score float64
}
