package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu      sync.Mutex
	batches [][]Change
}

func (r *recorder) onBatch(ctx context.Context, changes []Change) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, changes)
}

func (r *recorder) snapshot() [][]Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]Change(nil), r.batches...)
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func startWatcher(t *testing.T, root string, rec *recorder) *Watcher {
	t.Helper()
	w := NewWatcher(root, []string{".txt"}, true, rec.onBatch, WithDebounce(100*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(w.Stop)
	return w
}

func TestMatchExtension(t *testing.T) {
	tests := []struct {
		path string
		exts []string
		want bool
	}{
		{"a.txt", []string{".txt"}, true},
		{"a.TXT", []string{"txt"}, true},
		{"a.md", []string{".txt"}, false},
		{"a.md", nil, true},
		{"noext", []string{".txt"}, false},
	}
	for _, tt := range tests {
		if got := matchExtension(tt.path, tt.exts); got != tt.want {
			t.Errorf("matchExtension(%q, %v) = %v", tt.path, tt.exts, got)
		}
	}
}

func TestInDir(t *testing.T) {
	if !inDir("/corpus", "/corpus/a/b.txt") || !inDir("/corpus", "/corpus") {
		t.Error("expected paths inside root")
	}
	if inDir("/corpus", "/other/b.txt") || inDir("/corpus", "/corpus-2/x") {
		t.Error("expected paths outside root")
	}
}

func TestWatcher_DebouncesIntoOneBatch(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	startWatcher(t, dir, rec)

	for _, name := range []string{"a.txt", "b.txt", "a.txt", "ignored.png"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0600); err != nil {
			t.Fatal(err)
		}
	}
	waitFor(t, func() bool { return len(rec.snapshot()) > 0 })
	time.Sleep(300 * time.Millisecond)

	batches := rec.snapshot()
	if len(batches) != 1 {
		t.Fatalf("got %d batches, want 1", len(batches))
	}
	got := batches[0]
	if len(got) != 2 || filepath.Base(got[0].Path) != "a.txt" || filepath.Base(got[1].Path) != "b.txt" {
		t.Errorf("batch = %+v", got)
	}
	for _, c := range got {
		if c.Removed {
			t.Errorf("%s reported removed", c.Path)
		}
	}
}

func TestWatcher_ReportsRemoval(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gone.txt")
	if err := os.WriteFile(path, []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}
	rec := &recorder{}
	startWatcher(t, dir, rec)

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return len(rec.snapshot()) > 0 })
	batch := rec.snapshot()[0]
	if len(batch) != 1 || !batch[0].Removed {
		t.Errorf("batch = %+v, want one removal", batch)
	}
}

func TestWatcher_NewDirectory(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	startWatcher(t, dir, rec)

	sub := filepath.Join(dir, "new", "deeper")
	if err := os.MkdirAll(sub, 0755); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(sub, "doc.txt"), []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool {
		for _, b := range rec.snapshot() {
			for _, c := range b {
				if filepath.Base(c.Path) == "doc.txt" {
					return true
				}
			}
		}
		return false
	})
}

func TestWatcher_StartCreatesRootAndStopIsIdempotent(t *testing.T) {
	root := filepath.Join(t.TempDir(), "missing", "corpus")
	w := NewWatcher(root, nil, false, nil)
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(root); err != nil {
		t.Errorf("root not created: %v", err)
	}
	w.Stop()
	w.Stop()
}
