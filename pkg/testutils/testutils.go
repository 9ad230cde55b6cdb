// Package testutils provides in-memory stand-ins for the engine's provider
// interfaces so package tests can exercise nodes and stores without network
// access.
package testutils

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/strandlabs/strand/pkg/embedders"
	"github.com/strandlabs/strand/pkg/llms"
	"github.com/strandlabs/strand/pkg/vector"
)

// StubLLM implements llms.Provider and llms.StructuredProvider with canned
// replies. Replies are consumed in order when set; otherwise Reply answers
// every call. StreamChunks overrides the streamed delta split.
type StubLLM struct {
	Model        string
	Reply        string
	Replies      []string
	StreamChunks []string
	ToolCalls    []llms.ToolCall
	Err          error
	StreamErr    error

	mu    sync.Mutex
	calls [][]llms.Message
	next  int
}

func (s *StubLLM) reply() string {
	if len(s.Replies) == 0 {
		return s.Reply
	}
	if s.next >= len(s.Replies) {
		return s.Replies[len(s.Replies)-1]
	}
	r := s.Replies[s.next]
	s.next++
	return r
}

func (s *StubLLM) Generate(ctx context.Context, messages []llms.Message, tools []llms.ToolDefinition) (string, []llms.ToolCall, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, messages)
	if s.Err != nil {
		return "", nil, 0, s.Err
	}
	return s.reply(), s.ToolCalls, 0, nil
}

func (s *StubLLM) GenerateStreaming(ctx context.Context, messages []llms.Message, tools []llms.ToolDefinition) (<-chan llms.StreamChunk, error) {
	s.mu.Lock()
	s.calls = append(s.calls, messages)
	if s.Err != nil {
		s.mu.Unlock()
		return nil, s.Err
	}
	chunks := s.StreamChunks
	if chunks == nil {
		chunks = []string{s.reply()}
	}
	streamErr := s.StreamErr
	s.mu.Unlock()

	ch := make(chan llms.StreamChunk, len(chunks)+2)
	go func() {
		defer close(ch)
		for _, text := range chunks {
			ch <- llms.StreamChunk{Type: "text", Text: text}
		}
		if streamErr != nil {
			ch <- llms.StreamChunk{Type: "error", Error: streamErr}
			return
		}
		ch <- llms.StreamChunk{Type: "done"}
	}()
	return ch, nil
}

func (s *StubLLM) GenerateStructured(ctx context.Context, messages []llms.Message, tools []llms.ToolDefinition, cfg *llms.StructuredOutputConfig) (string, []llms.ToolCall, int, error) {
	return s.Generate(ctx, messages, tools)
}

func (s *StubLLM) SupportsStructuredOutput() bool { return true }

func (s *StubLLM) GetModelName() string {
	if s.Model == "" {
		return "stub-model"
	}
	return s.Model
}

func (s *StubLLM) GetMaxTokens() int       { return 4096 }
func (s *StubLLM) GetTemperature() float64 { return 0 }
func (s *StubLLM) Close() error            { return nil }

// Calls returns the message slices passed to every generation call.
func (s *StubLLM) Calls() [][]llms.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]llms.Message, len(s.calls))
	copy(out, s.calls)
	return out
}

// LastCall returns the most recent generation's messages, or nil.
func (s *StubLLM) LastCall() []llms.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.calls) == 0 {
		return nil
	}
	return s.calls[len(s.calls)-1]
}

var (
	_ llms.Provider           = (*StubLLM)(nil)
	_ llms.StructuredProvider = (*StubLLM)(nil)
)

// StubProviderSource returns the same provider for every model.
type StubProviderSource struct {
	Provider llms.Provider
	Err      error
}

func (s *StubProviderSource) ForModel(model string) (llms.Provider, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Provider, nil
}

var _ llms.ProviderSource = (*StubProviderSource)(nil)

// StubVector implements vector.Provider over in-memory slices. Search
// returns stored documents in insertion order, which lets tests control
// the dense ranking directly.
type StubVector struct {
	mu          sync.Mutex
	collections map[string][]vector.Result
	upserts     int
	deletes     int
}

func NewStubVector() *StubVector {
	return &StubVector{collections: make(map[string][]vector.Result)}
}

func (s *StubVector) EnsureCollection(ctx context.Context, collection string, dimension int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[collection]; !ok {
		s.collections[collection] = nil
	}
	return nil
}

func (s *StubVector) HasCollection(ctx context.Context, collection string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.collections[collection]
	return ok, nil
}

func (s *StubVector) Upsert(ctx context.Context, collection, id string, vec []float32, metadata map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[collection]; !ok {
		return fmt.Errorf("collection %s does not exist", collection)
	}
	content, _ := metadata["text"].(string)
	s.collections[collection] = append(s.collections[collection], vector.Result{
		ID:       id,
		Content:  content,
		Score:    1,
		Metadata: metadata,
	})
	s.upserts++
	return nil
}

func (s *StubVector) Search(ctx context.Context, collection string, vec []float32, topK int) ([]vector.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	docs, ok := s.collections[collection]
	if !ok {
		return nil, fmt.Errorf("collection %s does not exist", collection)
	}
	if len(docs) > topK {
		docs = docs[:topK]
	}
	out := make([]vector.Result, len(docs))
	copy(out, docs)
	return out, nil
}

func (s *StubVector) DeleteCollection(ctx context.Context, collection string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.collections, collection)
	s.deletes++
	return nil
}

func (s *StubVector) Name() string { return "stub" }
func (s *StubVector) Close() error { return nil }

// Documents returns the stored chunk texts for a collection in insertion
// order.
func (s *StubVector) Documents(collection string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var texts []string
	for _, doc := range s.collections[collection] {
		texts = append(texts, doc.Content)
	}
	return texts
}

// Upserts returns the total number of stored vectors across all calls.
func (s *StubVector) Upserts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upserts
}

// Deletes returns the number of DeleteCollection calls.
func (s *StubVector) Deletes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deletes
}

var _ vector.Provider = (*StubVector)(nil)

// StubEmbedder produces deterministic vectors derived from the text hash.
type StubEmbedder struct {
	Dimension int
}

func (e *StubEmbedder) dim() int {
	if e.Dimension == 0 {
		return 8
	}
	return e.Dimension
}

func (e *StubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	h := fnv.New32a()
	h.Write([]byte(text))
	seed := h.Sum32()
	vec := make([]float32, e.dim())
	for i := range vec {
		vec[i] = float32((seed>>(i%24))&0xff) / 255
	}
	return vec, nil
}

func (e *StubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (e *StubEmbedder) GetDimension() int    { return e.dim() }
func (e *StubEmbedder) GetModelName() string { return "stub-embedder" }
func (e *StubEmbedder) Close() error         { return nil }

var _ embedders.Embedder = (*StubEmbedder)(nil)
