// Package fingerprint derives the content fingerprint that keys the embedding cache.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"unicode"
)

var markup = regexp.MustCompile(`<[^>]*>`)

// Normalize lowercases text, strips markup tags, and collapses every run of
// whitespace into a single space.
func Normalize(text string) string {
	text = markup.ReplaceAllString(strings.ToLower(text), " ")
	text = strings.TrimSpace(text)
	var b strings.Builder
	b.Grow(len(text))
	wasSpace := false
	for _, r := range text {
		if unicode.IsSpace(r) {
			if !wasSpace {
				b.WriteRune(' ')
				wasSpace = true
			}
		} else {
			b.WriteRune(r)
			wasSpace = false
		}
	}
	return b.String()
}

// Of returns the hex SHA-256 of already normalized text.
func Of(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// Compute normalizes raw text and returns the normalized form with its fingerprint.
// The normalized form is what gets embedded.
func Compute(raw string) (normalized, fp string) {
	normalized = Normalize(raw)
	return normalized, Of(normalized)
}
