//go:build !faiss || !cgo
// +build !faiss !cgo

package vector

import "errors"

var errFAISSUnavailable = errors.New("FAISS not available: build with -tags=faiss and install the FAISS library")

// IsFAISSAvailable reports whether FAISS support is compiled in (-tags=faiss).
func IsFAISSAvailable() bool { return false }

func buildFAISS(int, Metric, []float32, int) (backend, error) {
	return nil, errFAISSUnavailable
}

func loadFAISS(string, int, Metric) (backend, error) {
	return nil, errFAISSUnavailable
}
