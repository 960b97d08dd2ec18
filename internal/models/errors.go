package models

import "errors"

var (
	ErrNotFound             = errors.New("not found")
	ErrNotReady             = errors.New("index not ready")
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")
	// ErrInconsistent marks persisted or in-memory state whose parts disagree.
	// It is never repaired silently.
	ErrInconsistent    = errors.New("inconsistent state")
	ErrUpstreamTimeout = errors.New("upstream timeout")
	ErrUpstreamError   = errors.New("upstream error")
	ErrInvalidQuery    = errors.New("invalid query")
	ErrInvalidInput    = errors.New("invalid input")
)
