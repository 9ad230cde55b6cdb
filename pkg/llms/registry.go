// Package llms provides the chat-model providers used by the engine:
// an OpenAI-compatible HTTP provider and a Gemini provider, behind a
// shared Provider interface with streaming and structured output.
package llms

import (
	"context"
	"fmt"
	"sync"

	"github.com/strandlabs/strand/pkg/config"
)

// Provider is the surface every chat model backend implements.
type Provider interface {
	// Generate performs a non-streaming request.
	// Returns text, tool calls, total tokens, and error.
	Generate(ctx context.Context, messages []Message, tools []ToolDefinition) (text string, toolCalls []ToolCall, tokens int, err error)

	// GenerateStreaming performs a streaming request. The channel is
	// closed by the provider; an "error" chunk precedes close on failure.
	GenerateStreaming(ctx context.Context, messages []Message, tools []ToolDefinition) (<-chan StreamChunk, error)

	GetModelName() string

	GetMaxTokens() int

	GetTemperature() float64

	Close() error
}

// StructuredProvider extends Provider with schema-constrained generation,
// used by the planner, the source classifier, and the follow-up judge.
type StructuredProvider interface {
	Provider

	GenerateStructured(ctx context.Context, messages []Message, tools []ToolDefinition, config *StructuredOutputConfig) (text string, toolCalls []ToolCall, tokens int, err error)

	SupportsStructuredOutput() bool
}

// ProviderSource hands out providers by model name. *Registry is the
// canonical implementation.
type ProviderSource interface {
	ForModel(model string) (Provider, error)
}

// Registry hands out providers per model name. Sessions may override the
// model, so providers are created lazily and cached; all instances share
// the same credentials and limits from the LLM config.
type Registry struct {
	mu        sync.RWMutex
	cfg       *config.LLMConfig
	providers map[string]Provider
}

func NewRegistry(cfg *config.LLMConfig) *Registry {
	return &Registry{
		cfg:       cfg,
		providers: make(map[string]Provider),
	}
}

// Default returns the provider for the configured default model.
func (r *Registry) Default() (Provider, error) {
	return r.ForModel(r.cfg.Model)
}

// Planner returns the provider for the fast planner model.
func (r *Registry) Planner() (Provider, error) {
	return r.ForModel(r.cfg.EffectivePlannerModel())
}

// ForModel returns the provider for the given model, creating it on first
// use. An empty model falls back to the configured default.
func (r *Registry) ForModel(model string) (Provider, error) {
	if model == "" {
		model = r.cfg.Model
	}

	r.mu.RLock()
	provider, ok := r.providers[model]
	r.mu.RUnlock()
	if ok {
		return provider, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if provider, ok := r.providers[model]; ok {
		return provider, nil
	}

	provider, err := newProvider(r.cfg, model)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM provider: %w", err)
	}
	r.providers[model] = provider
	return provider, nil
}

// Structured returns the model's provider as a StructuredProvider.
func (r *Registry) Structured(model string) (StructuredProvider, error) {
	provider, err := r.ForModel(model)
	if err != nil {
		return nil, err
	}
	structured, ok := provider.(StructuredProvider)
	if !ok {
		return nil, fmt.Errorf("provider for model '%s' does not support structured output", model)
	}
	return structured, nil
}

var _ ProviderSource = (*Registry)(nil)

// Close releases every cached provider.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for name, provider := range r.providers {
		if err := provider.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close provider '%s': %w", name, err)
		}
	}
	r.providers = make(map[string]Provider)
	return firstErr
}

func newProvider(cfg *config.LLMConfig, model string) (Provider, error) {
	switch cfg.Provider {
	case config.LLMProviderOpenAI:
		return NewOpenAIProvider(cfg, model)
	case config.LLMProviderGemini:
		return NewGeminiProvider(cfg, model)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s (supported: openai, gemini)", cfg.Provider)
	}
}
