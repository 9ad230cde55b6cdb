package vector

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	chromem "github.com/philippgille/chromem-go"
)

// MemoryProvider implements Provider using chromem-go for in-process
// vector storage. It requires no external services, which makes it the
// zero-config default; collections live for the process lifetime only.
//
// Limitations:
//   - Single-process only (no distributed search)
//   - Memory-bound (all vectors in RAM)
type MemoryProvider struct {
	db *chromem.DB
	mu sync.RWMutex

	// collections caches collection handles
	collections map[string]*chromem.Collection

	// embeddingFunc must never run; vectors arrive pre-computed
	embeddingFunc chromem.EmbeddingFunc
}

// NewMemoryProvider creates an in-process vector provider.
func NewMemoryProvider() *MemoryProvider {
	identityEmbed := func(ctx context.Context, text string) ([]float32, error) {
		return nil, fmt.Errorf("embedding function called but vectors should be pre-computed")
	}

	return &MemoryProvider{
		db:            chromem.NewDB(),
		collections:   make(map[string]*chromem.Collection),
		embeddingFunc: identityEmbed,
	}
}

func (p *MemoryProvider) getCollection(name string) (*chromem.Collection, error) {
	p.mu.RLock()
	if col, ok := p.collections[name]; ok {
		p.mu.RUnlock()
		return col, nil
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()

	if col, ok := p.collections[name]; ok {
		return col, nil
	}

	col, err := p.db.GetOrCreateCollection(name, nil, p.embeddingFunc)
	if err != nil {
		return nil, fmt.Errorf("failed to get/create collection %q: %w", name, err)
	}

	p.collections[name] = col
	return col, nil
}

// EnsureCollection creates the collection if missing. The dimension is
// ignored; chromem infers it from the first stored vector.
func (p *MemoryProvider) EnsureCollection(ctx context.Context, collection string, dimension int) error {
	_, err := p.getCollection(collection)
	return err
}

// HasCollection reports whether the collection exists.
func (p *MemoryProvider) HasCollection(ctx context.Context, collection string) (bool, error) {
	return p.db.GetCollection(collection, p.embeddingFunc) != nil, nil
}

// Upsert adds or replaces a document vector.
func (p *MemoryProvider) Upsert(ctx context.Context, collection string, id string, vec []float32, metadata map[string]any) error {
	col, err := p.getCollection(collection)
	if err != nil {
		return err
	}

	// chromem stores string metadata; content rides its own field.
	strMetadata := make(map[string]string, len(metadata))
	for k, v := range metadata {
		strMetadata[k] = fmt.Sprint(v)
	}

	content := ""
	if c, ok := metadata["content"].(string); ok {
		content = c
	}

	doc := chromem.Document{
		ID:        id,
		Content:   content,
		Metadata:  strMetadata,
		Embedding: vec,
	}

	if err := col.AddDocuments(ctx, []chromem.Document{doc}, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to upsert document: %w", err)
	}

	return nil
}

// Search returns the topK most similar documents. topK is clamped to the
// collection size; chromem rejects result counts above it.
func (p *MemoryProvider) Search(ctx context.Context, collection string, vec []float32, topK int) ([]Result, error) {
	col, err := p.getCollection(collection)
	if err != nil {
		return nil, err
	}

	if n := col.Count(); topK > n {
		topK = n
	}
	if topK <= 0 {
		return []Result{}, nil
	}

	results, err := col.QueryEmbedding(ctx, vec, topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	out := make([]Result, 0, len(results))
	for _, r := range results {
		metadata := make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			metadata[k] = v
		}

		out = append(out, Result{
			ID:       r.ID,
			Score:    r.Similarity,
			Content:  r.Content,
			Metadata: metadata,
		})
	}

	return out, nil
}

// DeleteCollection removes the collection and all its documents.
func (p *MemoryProvider) DeleteCollection(ctx context.Context, collection string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.db.DeleteCollection(collection); err != nil {
		return fmt.Errorf("failed to delete collection: %w", err)
	}

	delete(p.collections, collection)
	return nil
}

// Name returns the provider name.
func (p *MemoryProvider) Name() string {
	return "memory"
}

// Close releases resources.
func (p *MemoryProvider) Close() error {
	return nil
}

var _ Provider = (*MemoryProvider)(nil)
