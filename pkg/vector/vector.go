// Package vector abstracts vector storage behind a small provider
// interface. Collections are session-scoped and ephemeral: the cache
// manager creates them on preprocessing and recreates the user-document
// collection on re-upload.
package vector

import "context"

// Result is a single similarity search hit.
type Result struct {
	// ID of the stored document.
	ID string

	// Content is the stored chunk text.
	Content string

	// Score is the similarity score (cosine; higher is closer).
	Score float32

	// Metadata carries the chunk's stored fields.
	Metadata map[string]any
}

// Provider stores and searches dense vectors.
//
// Upsert and Search assume the collection exists; callers create
// collections through EnsureCollection first.
type Provider interface {
	// EnsureCollection creates the collection if it does not exist.
	EnsureCollection(ctx context.Context, collection string, dimension int) error

	// HasCollection reports whether the collection exists.
	HasCollection(ctx context.Context, collection string) (bool, error)

	// Upsert adds or replaces a document vector.
	Upsert(ctx context.Context, collection string, id string, vec []float32, metadata map[string]any) error

	// Search returns the topK most similar documents.
	Search(ctx context.Context, collection string, vec []float32, topK int) ([]Result, error)

	// DeleteCollection removes the collection and all its documents.
	DeleteCollection(ctx context.Context, collection string) error

	// Name identifies the backend.
	Name() string

	// Close releases backend resources.
	Close() error
}
