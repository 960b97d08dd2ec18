package extract

import (
	"fmt"
	"os"

	"github.com/lu4p/cat"
)

func isCatFormat(ext string) bool {
	return ext == ".odt" || ext == ".rtf"
}

// extractCatFile extracts OpenDocument text and RTF files. cat picks the decoder
// from the file extension.
func extractCatFile(path string) (string, error) {
	text, err := cat.File(path)
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", path, err)
	}
	return text, nil
}

func extractCatBytes(content []byte, ext string) (string, error) {
	f, err := os.CreateTemp("", "setsumei-*"+ext)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer func() { _ = os.Remove(f.Name()) }()
	if _, err := f.Write(content); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close temp file: %w", err)
	}
	return extractCatFile(f.Name())
}
