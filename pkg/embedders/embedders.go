// Package embedders provides text embedding for dense retrieval.
//
// A single embedding space per process keeps stored vectors and query
// vectors comparable, so the engine carries exactly one embedder.
package embedders

import "context"

// Embedder converts text into dense vectors.
type Embedder interface {
	// Embed returns the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns embeddings for texts in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// GetDimension returns the embedding vector dimension.
	GetDimension() int

	// GetModelName returns the embedding model identifier.
	GetModelName() string

	// Close releases provider resources.
	Close() error
}
