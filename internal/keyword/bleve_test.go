package keyword

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/hyperjump/setsumei/internal/models"
)

func newTestIndex(t *testing.T) *BleveIndex {
	t.Helper()
	idx, err := NewBleveIndex(filepath.Join(t.TempDir(), "bleve"))
	if err != nil {
		t.Fatalf("NewBleveIndex: %v", err)
	}
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestBleveIndex_MatchContent(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	docs := []*models.Document{
		{ID: "doc_001.txt", Title: "doc_001", Text: "The Bayes classifier counts word frequencies."},
		{ID: "doc_002.txt", Title: "doc_002", Text: "Neural networks learn dense representations."},
	}
	for _, d := range docs {
		if err := idx.Index(ctx, d); err != nil {
			t.Fatalf("Index: %v", err)
		}
	}

	matches, err := idx.Match(ctx, "bayes", 10)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if len(matches) != 1 || matches[0].ID != "doc_001.txt" {
		t.Fatalf("matches = %+v, want only doc_001.txt", matches)
	}

	count, err := idx.DocCount()
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("DocCount = %d, want 2", count)
	}
}

func TestBleveIndex_MatchTitle(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	if err := idx.Index(ctx, &models.Document{ID: "reports/quarterly.md", Title: "quarterly", Text: "numbers"}); err != nil {
		t.Fatal(err)
	}
	matches, err := idx.Match(ctx, "quarterly", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected title match, got %d", len(matches))
	}
}

func TestBleveIndex_DeleteAndReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bleve")
	idx, err := NewBleveIndex(path)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	_ = idx.Index(ctx, &models.Document{ID: "a", Text: "alpha beta"})
	_ = idx.Index(ctx, &models.Document{ID: "b", Text: "beta gamma"})
	if err := idx.Delete(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if err := idx.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := NewBleveIndex(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = reopened.Close() }()
	matches, err := reopened.Match(ctx, "beta", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 || matches[0].ID != "b" {
		t.Errorf("matches after delete = %+v", matches)
	}
}
