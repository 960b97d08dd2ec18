// Package models defines core data structures for documents, cache entries, queries, and search results.
package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/hyperjump/setsumei/internal/fingerprint"
)

// Document is a document-store record. NormalizedText is the exact string the
// fingerprint was computed over and the string handed to the embedder.
type Document struct {
	ID             string    `json:"id" db:"id"`
	Title          string    `json:"title" db:"title"`
	Path           string    `json:"path,omitempty" db:"path"`
	Text           string    `json:"text" db:"text"`
	NormalizedText string    `json:"-" db:"normalized"`
	Fingerprint    string    `json:"fingerprint" db:"fingerprint"`
	Length         int       `json:"length" db:"length"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// IngestRecord is the canonical record accepted at the ingestion boundary.
type IngestRecord struct {
	DocumentID string `json:"document_id"`
	Title      string `json:"title,omitempty"`
	Path       string `json:"path,omitempty"`
	Text       string `json:"text"`
}

// Validate rejects records that cannot be stored or embedded.
func (r *IngestRecord) Validate() error {
	if strings.TrimSpace(r.DocumentID) == "" {
		return fmt.Errorf("ingest record: document_id is required: %w", ErrInvalidInput)
	}
	if fingerprint.Normalize(r.Text) == "" {
		return fmt.Errorf("ingest record %q: normalized text is empty: %w", r.DocumentID, ErrInvalidInput)
	}
	return nil
}

// CorpusSelector narrows a document-store listing. Match is a keyword query
// resolved through the full-text index; Prefix filters on document id.
type CorpusSelector struct {
	Prefix string `json:"prefix,omitempty"`
	Match  string `json:"match,omitempty"`
	Offset int    `json:"offset,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}
