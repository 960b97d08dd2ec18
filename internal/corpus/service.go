package corpus

import (
	"context"
	"fmt"

	"github.com/hyperjump/setsumei/internal/keyword"
	"github.com/hyperjump/setsumei/internal/models"
	"github.com/hyperjump/setsumei/internal/storage"
)

// Service answers corpus listings over the document store.
type Service struct {
	store    storage.Storage
	keywords keyword.KeywordIndex
}

// NewService creates a listing service. keywords may be nil, in which case
// selectors with Match are rejected.
func NewService(store storage.Storage, keywords keyword.KeywordIndex) *Service {
	return &Service{store: store, keywords: keywords}
}

// List returns documents in id order narrowed by sel. Match is resolved through
// the keyword index before Offset and Limit apply.
func (s *Service) List(ctx context.Context, sel models.CorpusSelector) ([]*models.Document, error) {
	if sel.Match == "" {
		return s.store.ListDocuments(ctx, sel)
	}
	if s.keywords == nil {
		return nil, fmt.Errorf("%w: keyword matching is not configured", models.ErrInvalidQuery)
	}
	matches, err := s.keywords.Match(ctx, sel.Match, 0)
	if err != nil {
		return nil, err
	}
	matched := make(map[string]bool, len(matches))
	for _, m := range matches {
		matched[m.ID] = true
	}
	all, err := s.store.ListDocuments(ctx, models.CorpusSelector{Prefix: sel.Prefix})
	if err != nil {
		return nil, err
	}
	var out []*models.Document
	skip := sel.Offset
	for _, d := range all {
		if !matched[d.ID] {
			continue
		}
		if skip > 0 {
			skip--
			continue
		}
		out = append(out, d)
		if sel.Limit > 0 && len(out) == sel.Limit {
			break
		}
	}
	return out, nil
}

// Get returns a single document.
func (s *Service) Get(ctx context.Context, id string) (*models.Document, error) {
	return s.store.GetDocument(ctx, id)
}

// Count returns the number of stored documents.
func (s *Service) Count(ctx context.Context) (int64, error) {
	return s.store.CountDocuments(ctx)
}
