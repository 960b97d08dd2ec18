// Package fileid derives document IDs from corpus file paths.
package fileid

import (
	"fmt"
	"path/filepath"
	"strings"
)

// DocID returns the document ID of path within root: the slash-separated path
// relative to root. A path outside root is an error.
func DocID(root, path string) (string, error) {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("document id for %s: %w", path, err)
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("document id for %s: not inside %s", path, root)
	}
	return filepath.ToSlash(rel), nil
}

// Title returns the display title for a document ID: its base name without extension.
func Title(docID string) string {
	base := docID
	if i := strings.LastIndex(base, "/"); i >= 0 {
		base = base[i+1:]
	}
	if ext := filepath.Ext(base); ext != "" && ext != base {
		base = strings.TrimSuffix(base, ext)
	}
	return base
}
