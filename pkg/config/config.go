// Package config defines the engine configuration tree.
//
// Configuration is loaded from a YAML file (with ${VAR} and ${VAR:-default}
// environment expansion), then defaulted and validated. Every section knows
// how to default and validate itself; the root Config cascades.
package config

import (
	"fmt"

	"github.com/strandlabs/strand/pkg/observability"
)

// Config is the root configuration for the engine.
type Config struct {
	// Server configures the HTTP listener.
	Server ServerConfig `yaml:"server,omitempty" json:"server,omitempty"`

	// LLM configures the chat/completion provider.
	LLM LLMConfig `yaml:"llm,omitempty" json:"llm,omitempty"`

	// Embedder configures the embedding provider.
	Embedder EmbedderConfig `yaml:"embedder,omitempty" json:"embedder,omitempty"`

	// Vector configures the vector store.
	Vector VectorConfig `yaml:"vector,omitempty" json:"vector,omitempty"`

	// Search configures retrieval behavior.
	Search SearchConfig `yaml:"search,omitempty" json:"search,omitempty"`

	// WebSearch configures the web search provider.
	WebSearch WebSearchConfig `yaml:"web_search,omitempty" json:"web_search,omitempty"`

	// Research configures the deep research loop.
	Research ResearchConfig `yaml:"research,omitempty" json:"research,omitempty"`

	// Image configures the image generation provider.
	Image ImageConfig `yaml:"image,omitempty" json:"image,omitempty"`

	// Tools configures external tool integrations (MCP).
	Tools ToolsConfig `yaml:"tools,omitempty" json:"tools,omitempty"`

	// Documents configures document ingestion.
	Documents DocumentsConfig `yaml:"documents,omitempty" json:"documents,omitempty"`

	// Engine configures graph execution limits.
	Engine EngineConfig `yaml:"engine,omitempty" json:"engine,omitempty"`

	// Session configures session bookkeeping.
	Session SessionConfig `yaml:"session,omitempty" json:"session,omitempty"`

	// Observability configures tracing and metrics.
	Observability observability.Config `yaml:"observability,omitempty" json:"observability,omitempty"`

	// Logger configures logging.
	Logger LoggerConfig `yaml:"logger,omitempty" json:"logger,omitempty"`
}

// SetDefaults applies defaults to every section.
func (c *Config) SetDefaults() {
	c.Server.SetDefaults()
	c.LLM.SetDefaults()
	c.Embedder.SetDefaults()
	c.Vector.SetDefaults()
	c.Search.SetDefaults()
	c.WebSearch.SetDefaults()
	c.Research.SetDefaults()
	c.Image.SetDefaults()
	c.Tools.SetDefaults()
	c.Documents.SetDefaults()
	c.Engine.SetDefaults()
	c.Session.SetDefaults()
	c.Observability.SetDefaults()
	c.Logger.SetDefaults()
}

// Validate checks every section and returns the first failure.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config validation failed: %w", err)
	}
	if err := c.LLM.Validate(); err != nil {
		return fmt.Errorf("llm config validation failed: %w", err)
	}
	if err := c.Embedder.Validate(); err != nil {
		return fmt.Errorf("embedder config validation failed: %w", err)
	}
	if err := c.Vector.Validate(); err != nil {
		return fmt.Errorf("vector config validation failed: %w", err)
	}
	if err := c.Search.Validate(); err != nil {
		return fmt.Errorf("search config validation failed: %w", err)
	}
	if err := c.WebSearch.Validate(); err != nil {
		return fmt.Errorf("web_search config validation failed: %w", err)
	}
	if err := c.Research.Validate(); err != nil {
		return fmt.Errorf("research config validation failed: %w", err)
	}
	if err := c.Image.Validate(); err != nil {
		return fmt.Errorf("image config validation failed: %w", err)
	}
	if err := c.Tools.Validate(); err != nil {
		return fmt.Errorf("tools config validation failed: %w", err)
	}
	if err := c.Documents.Validate(); err != nil {
		return fmt.Errorf("documents config validation failed: %w", err)
	}
	if err := c.Engine.Validate(); err != nil {
		return fmt.Errorf("engine config validation failed: %w", err)
	}
	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session config validation failed: %w", err)
	}
	if err := c.Observability.Validate(); err != nil {
		return fmt.Errorf("observability config validation failed: %w", err)
	}
	if err := c.Logger.Validate(); err != nil {
		return fmt.Errorf("logger config validation failed: %w", err)
	}
	return nil
}

// Default returns a fully defaulted configuration, suitable for running
// without a config file (environment variables supply credentials).
func Default() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}
