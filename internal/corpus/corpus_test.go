package corpus

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/hyperjump/setsumei/internal/keyword"
	"github.com/hyperjump/setsumei/internal/models"
	"github.com/hyperjump/setsumei/internal/storage"
)

type fixture struct {
	root     string
	store    *storage.SQLiteStorage
	keywords *keyword.BleveIndex
	loader   *Loader
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	root := filepath.Join(dir, "corpus")
	if err := os.MkdirAll(root, 0755); err != nil {
		t.Fatal(err)
	}
	store, err := storage.NewSQLiteStorage(filepath.Join(dir, "setsumei.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	kw, err := keyword.NewBleveIndex(filepath.Join(dir, "bleve"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = kw.Close() })
	return &fixture{
		root:     root,
		store:    store,
		keywords: kw,
		loader:   NewLoader(store, kw, nil, root, WithExtensions([]string{".txt", "md"})),
	}
}

func (f *fixture) write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(f.root, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoader_Load(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.write(t, "doc_001.txt", "Cats purr. Cats <b>sleep</b> now.")
	f.write(t, "nested/doc_002.md", "Rockets fly")
	f.write(t, "image.png", "binary")

	stats, err := f.loader.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Total != 2 || stats.Loaded != 2 || stats.Unchanged != 0 {
		t.Fatalf("stats = %+v", stats)
	}
	doc, err := f.store.GetDocument(ctx, "nested/doc_002.md")
	if err != nil {
		t.Fatal(err)
	}
	if doc.Title != "doc_002" || doc.Length != 2 || doc.Fingerprint == "" {
		t.Errorf("doc = %+v", doc)
	}
	first, err := f.store.GetDocument(ctx, "doc_001.txt")
	if err != nil {
		t.Fatal(err)
	}
	if first.NormalizedText != "cats purr. cats sleep now." {
		t.Errorf("normalized = %q", first.NormalizedText)
	}

	again, err := f.loader.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if again.Loaded != 0 || again.Unchanged != 2 {
		t.Errorf("reload stats = %+v", again)
	}
}

func TestLoader_LoadDetectsChangesAndRemovals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.write(t, "a.txt", "first version")
	b := f.write(t, "b.txt", "stays the same")
	if _, err := f.loader.Load(ctx); err != nil {
		t.Fatal(err)
	}
	before, _ := f.store.GetDocument(ctx, "a.txt")

	if err := os.WriteFile(a, []byte("second version"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(b); err != nil {
		t.Fatal(err)
	}
	stats, err := f.loader.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Loaded != 1 || stats.Removed != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	after, _ := f.store.GetDocument(ctx, "a.txt")
	if after.Fingerprint == before.Fingerprint {
		t.Error("fingerprint should change with content")
	}
	if _, err := f.store.GetDocument(ctx, "b.txt"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("b.txt should be removed, got %v", err)
	}
}

func TestLoader_NonRecursive(t *testing.T) {
	f := newFixture(t)
	f.loader = NewLoader(f.store, nil, nil, f.root, WithRecursive(false))
	f.write(t, "top.txt", "top")
	f.write(t, "sub/deep.txt", "deep")
	stats, err := f.loader.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Total != 1 {
		t.Errorf("total = %d, want 1", stats.Total)
	}
}

func TestLoader_LoadFileAndRemove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	path := f.write(t, "note.txt", "quarterly numbers")
	if err := f.loader.LoadFile(ctx, path); err != nil {
		t.Fatal(err)
	}
	if _, err := f.store.GetDocument(ctx, "note.txt"); err != nil {
		t.Fatal(err)
	}
	if err := f.loader.LoadFile(ctx, f.write(t, "skip.pdf", "x")); err == nil {
		t.Error("expected extension error")
	}

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if err := f.loader.LoadFile(ctx, path); err != nil {
		t.Fatal(err)
	}
	if _, err := f.store.GetDocument(ctx, "note.txt"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("deleted file should be removed, got %v", err)
	}
}

func TestLoader_Ingest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	stats, err := f.loader.Ingest(ctx, []models.IngestRecord{
		{DocumentID: "x/one.txt", Text: "hello world"},
		{DocumentID: "two", Title: "Two", Text: "goodbye"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if stats.Loaded != 2 || stats.Words != 3 {
		t.Errorf("stats = %+v", stats)
	}
	doc, _ := f.store.GetDocument(ctx, "x/one.txt")
	if doc.Title != "one" {
		t.Errorf("title = %q", doc.Title)
	}
	if _, err := f.loader.Ingest(ctx, []models.IngestRecord{{DocumentID: "bad"}}); !errors.Is(err, models.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for empty text, got %v", err)
	}
}

func TestLoader_LoadKeepsIngestedRecords(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	gone := f.write(t, "gone.txt", "short lived")
	if _, err := f.loader.Load(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := f.loader.Ingest(ctx, []models.IngestRecord{
		{DocumentID: "inline", Text: "pushed over the api"},
		{DocumentID: "elsewhere", Path: "/srv/other/elsewhere.txt", Text: "outside the root"},
	}); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(gone); err != nil {
		t.Fatal(err)
	}

	stats, err := f.loader.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Removed != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if _, err := f.store.GetDocument(ctx, "gone.txt"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("gone.txt should be removed, got %v", err)
	}
	for _, id := range []string{"inline", "elsewhere"} {
		if _, err := f.store.GetDocument(ctx, id); err != nil {
			t.Errorf("%s should survive a directory load: %v", id, err)
		}
	}
}

func TestUnderRoot(t *testing.T) {
	root := filepath.Join(string(filepath.Separator), "data", "corpus")
	tests := []struct {
		path string
		want bool
	}{
		{filepath.Join(root, "a.txt"), true},
		{filepath.Join(root, "sub", "b.md"), true},
		{filepath.Join(root, "..", "corpus2", "c.txt"), false},
		{filepath.Join(root, "..hidden.txt"), true},
		{"", false},
		{"relative.txt", false},
	}
	for _, tt := range tests {
		if got := underRoot(root, tt.path); got != tt.want {
			t.Errorf("underRoot(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestService_List(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.write(t, "reports/q1.txt", "revenue grew")
	f.write(t, "reports/q2.txt", "revenue fell")
	f.write(t, "notes/todo.txt", "buy milk")
	if _, err := f.loader.Load(ctx); err != nil {
		t.Fatal(err)
	}
	svc := NewService(f.store, f.keywords)

	all, err := svc.List(ctx, models.CorpusSelector{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("len = %d", len(all))
	}

	reports, err := svc.List(ctx, models.CorpusSelector{Prefix: "reports/"})
	if err != nil {
		t.Fatal(err)
	}
	if len(reports) != 2 || reports[0].ID != "reports/q1.txt" {
		t.Errorf("prefix listing = %v", ids(reports))
	}

	matched, err := svc.List(ctx, models.CorpusSelector{Match: "revenue", Offset: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(matched) != 1 || matched[0].ID != "reports/q2.txt" {
		t.Errorf("match listing = %v", ids(matched))
	}

	n, err := svc.Count(ctx)
	if err != nil || n != 3 {
		t.Errorf("Count = %d, %v", n, err)
	}

	if _, err := NewService(f.store, nil).List(ctx, models.CorpusSelector{Match: "x"}); !errors.Is(err, models.ErrInvalidQuery) {
		t.Errorf("expected ErrInvalidQuery without keyword index, got %v", err)
	}
}

func ids(docs []*models.Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID
	}
	return out
}
