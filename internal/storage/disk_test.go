package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDiskUsageBytes(t *testing.T) {
	dir := t.TempDir()

	base := filepath.Join(dir, "vectors")
	if err := os.WriteFile(base+".vec", []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(base+".meta", []byte("abc"), 0644); err != nil {
		t.Fatal(err)
	}
	got, err := DiskUsageBytes(base)
	if err != nil {
		t.Fatal(err)
	}
	if got != 8 {
		t.Errorf("index prefix: got %d bytes, want 8", got)
	}

	sub := filepath.Join(dir, "keyword.bleve")
	if err := os.MkdirAll(filepath.Join(sub, "store"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sub, "store", "a"), []byte("ab"), 0644); err != nil {
		t.Fatal(err)
	}
	got, err = DiskUsageBytes(sub)
	if err != nil {
		t.Fatal(err)
	}
	if got != 2 {
		t.Errorf("directory: got %d bytes, want 2", got)
	}

	got, err = DiskUsageBytes(filepath.Join(dir, "missing"), "")
	if err != nil {
		t.Fatal(err)
	}
	if got != 0 {
		t.Errorf("missing path: got %d bytes, want 0", got)
	}
}
