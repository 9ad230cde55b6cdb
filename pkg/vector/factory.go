package vector

import (
	"fmt"

	"github.com/strandlabs/strand/pkg/config"
)

// NewProvider creates a vector provider from configuration.
func NewProvider(cfg *config.VectorConfig) (Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("vector config is required")
	}

	switch cfg.Provider {
	case config.VectorProviderMemory:
		return NewMemoryProvider(), nil
	case config.VectorProviderQdrant:
		return NewQdrantProvider(cfg)
	case config.VectorProviderPinecone:
		return NewPineconeProvider(cfg)
	default:
		return nil, fmt.Errorf("unknown vector provider: %q (supported: memory, qdrant, pinecone)", cfg.Provider)
	}
}
