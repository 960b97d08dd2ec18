// Package storage defines the persistence interface for documents and embedding-cache rows.
package storage

import (
	"context"

	"github.com/hyperjump/setsumei/internal/models"
)

// Storage defines document and cache persistence operations.
type Storage interface {
	// Document operations
	UpsertDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	DeleteDocument(ctx context.Context, id string) error
	ListDocuments(ctx context.Context, sel models.CorpusSelector) ([]*models.Document, error)
	ListDocumentIDs(ctx context.Context) ([]string, error)

	// Embedding cache rows, replaced as a whole
	SaveCacheEntries(ctx context.Context, entries []models.CacheEntry) error
	LoadCacheEntries(ctx context.Context) ([]models.CacheEntry, error)

	// Stats
	CountDocuments(ctx context.Context) (int64, error)

	Close() error
}
