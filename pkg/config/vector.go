package config

import (
	"fmt"
	"os"
	"strings"
)

// VectorProvider identifies the vector store backend.
type VectorProvider string

const (
	// VectorProviderMemory stores vectors in-process (chromem).
	VectorProviderMemory VectorProvider = "memory"

	// VectorProviderQdrant uses a Qdrant server.
	VectorProviderQdrant VectorProvider = "qdrant"

	// VectorProviderPinecone uses Pinecone serverless.
	VectorProviderPinecone VectorProvider = "pinecone"
)

// VectorConfig configures the vector store.
//
// The provider is derived from URL when unset: the special value "memory"
// (or ":memory:") selects the in-process store, anything else is treated
// as a Qdrant endpoint. Pinecone must be selected explicitly.
type VectorConfig struct {
	// Provider type (memory, qdrant, pinecone). Derived from URL when empty.
	Provider VectorProvider `yaml:"provider,omitempty" json:"provider,omitempty" jsonschema:"title=Provider,description=Vector store backend,enum=memory,enum=qdrant,enum=pinecone"`

	// URL of the vector store. "memory" keeps vectors in-process.
	URL string `yaml:"url,omitempty" json:"url,omitempty" jsonschema:"title=URL,description=Vector store endpoint or 'memory',default=memory"`

	// APIKey for hosted stores. Supports ${VAR} expansion.
	APIKey string `yaml:"api_key,omitempty" json:"api_key,omitempty" jsonschema:"title=API Key,description=API key for hosted stores (use ${ENV_VAR})"`

	// Pinecone holds Pinecone-specific settings.
	Pinecone *PineconeConfig `yaml:"pinecone,omitempty" json:"pinecone,omitempty" jsonschema:"title=Pinecone,description=Pinecone serverless settings"`
}

// PineconeConfig configures Pinecone serverless indexes.
//
// Pinecone index creation is slow, so all collections share one index and
// map to namespaces inside it.
type PineconeConfig struct {
	// IndexName is the shared serverless index.
	IndexName string `yaml:"index_name,omitempty" json:"index_name,omitempty" jsonschema:"title=Index Name,description=Shared serverless index,default=strand"`

	// Cloud provider for serverless indexes (aws, gcp, azure).
	Cloud string `yaml:"cloud,omitempty" json:"cloud,omitempty" jsonschema:"title=Cloud,description=Serverless cloud,enum=aws,enum=gcp,enum=azure,default=aws"`

	// Region for serverless indexes.
	Region string `yaml:"region,omitempty" json:"region,omitempty" jsonschema:"title=Region,description=Serverless region,default=us-east-1"`

	// Metric used for similarity (cosine).
	Metric string `yaml:"metric,omitempty" json:"metric,omitempty" jsonschema:"title=Metric,description=Similarity metric,default=cosine"`
}

// SetDefaults applies default values.
func (c *VectorConfig) SetDefaults() {
	if c.URL == "" {
		if url := os.Getenv("VECTOR_DB_URL"); url != "" {
			c.URL = url
		} else if url := os.Getenv("QDRANT_URL"); url != "" {
			c.URL = url
		} else {
			c.URL = "memory"
		}
	}

	if c.APIKey == "" {
		if key := os.Getenv("VECTOR_DB_API_KEY"); key != "" {
			c.APIKey = key
		} else if key := os.Getenv("QDRANT_API_KEY"); key != "" {
			c.APIKey = key
		} else if key := os.Getenv("PINECONE_API_KEY"); key != "" {
			c.APIKey = key
		}
	}

	if c.Provider == "" {
		c.Provider = deriveVectorProvider(c.URL)
	}

	if c.Provider == VectorProviderPinecone {
		if c.Pinecone == nil {
			c.Pinecone = &PineconeConfig{}
		}
		if c.Pinecone.IndexName == "" {
			c.Pinecone.IndexName = "strand"
		}
		if c.Pinecone.Cloud == "" {
			c.Pinecone.Cloud = "aws"
		}
		if c.Pinecone.Region == "" {
			c.Pinecone.Region = "us-east-1"
		}
		if c.Pinecone.Metric == "" {
			c.Pinecone.Metric = "cosine"
		}
	}
}

// Validate checks the vector store configuration.
func (c *VectorConfig) Validate() error {
	switch c.Provider {
	case VectorProviderMemory:
	case VectorProviderQdrant:
		if isMemoryURL(c.URL) {
			return fmt.Errorf("qdrant provider requires a server url")
		}
	case VectorProviderPinecone:
		if c.APIKey == "" {
			return fmt.Errorf("api_key is required for pinecone")
		}
	default:
		return fmt.Errorf("invalid provider %q (valid: memory, qdrant, pinecone)", c.Provider)
	}
	return nil
}

// deriveVectorProvider maps a URL to a provider.
func deriveVectorProvider(url string) VectorProvider {
	if isMemoryURL(url) {
		return VectorProviderMemory
	}
	return VectorProviderQdrant
}

func isMemoryURL(url string) bool {
	switch strings.ToLower(strings.TrimSpace(url)) {
	case "", "memory", ":memory:":
		return true
	}
	return false
}
