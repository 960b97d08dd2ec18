// Package embedding turns text into dense vectors. Implementations are the
// local ONNX model, an OpenAI-compatible HTTP service, and a deterministic mock.
package embedding

import (
	"context"
	"fmt"
)

// Embedder produces vector embeddings for text. EmbedBatch returns one vector
// per input, in input order.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}

// checkDimensions rejects vectors whose length differs from want.
func checkDimensions(v []float32, want int) error {
	if len(v) != want {
		return fmt.Errorf("embedding has %d dimensions, expected %d", len(v), want)
	}
	return nil
}
