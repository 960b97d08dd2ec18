// Package utils provides shared utilities for text, math, and logging.
package utils

// Clip returns at most maxRunes runes of s. A non-positive maxRunes returns s unchanged.
func Clip(s string, maxRunes int) string {
	if maxRunes <= 0 || len(s) <= maxRunes {
		return s
	}
	n := 0
	for i := range s {
		if n == maxRunes {
			return s[:i]
		}
		n++
	}
	return s
}

// Truncate returns s clipped to maxRunes runes with "..." appended if anything was cut.
// If maxRunes is 0 or negative, returns s unchanged.
func Truncate(s string, maxRunes int) string {
	c := Clip(s, maxRunes)
	if len(c) == len(s) {
		return s
	}
	return c + "..."
}
