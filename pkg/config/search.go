package config

import (
	"fmt"
	"os"
)

// SearchConfig configures retrieval behavior.
type SearchConfig struct {
	// TopK results returned per retrieval side (user docs, KB).
	TopK int `yaml:"top_k,omitempty" json:"top_k,omitempty" jsonschema:"title=Top K,description=Results per retrieval side,minimum=1,default=6"`

	// Hybrid enables lexical+dense fusion. Dense-only when false.
	Hybrid *bool `yaml:"hybrid,omitempty" json:"hybrid,omitempty" jsonschema:"title=Hybrid,description=Enable hybrid lexical+dense retrieval,default=true"`
}

// SetDefaults applies default values.
func (c *SearchConfig) SetDefaults() {
	if c.TopK == 0 {
		c.TopK = 6
	}
	if c.Hybrid == nil {
		c.Hybrid = BoolPtr(true)
	}
}

// Validate checks the search configuration.
func (c *SearchConfig) Validate() error {
	if c.TopK < 1 {
		return fmt.Errorf("top_k must be positive, got %d", c.TopK)
	}
	return nil
}

// WebSearchConfig configures the web search provider.
//
// An empty APIKey is not an error: the web-search node degrades to a
// canonical "No web results found" response.
type WebSearchConfig struct {
	// Provider type. Only tavily is supported.
	Provider string `yaml:"provider,omitempty" json:"provider,omitempty" jsonschema:"title=Provider,description=Web search provider,enum=tavily,default=tavily"`

	// APIKey for the search provider. Supports ${VAR} expansion.
	APIKey string `yaml:"api_key,omitempty" json:"api_key,omitempty" jsonschema:"title=API Key,description=Search provider API key (use ${ENV_VAR})"`

	// BaseURL overrides the default API endpoint.
	BaseURL string `yaml:"base_url,omitempty" json:"base_url,omitempty" jsonschema:"title=Base URL,description=Custom base URL for API endpoint"`

	// MaxResults per search call.
	MaxResults int `yaml:"max_results,omitempty" json:"max_results,omitempty" jsonschema:"title=Max Results,description=Results per search,minimum=1,maximum=20,default=5"`

	// Timeout bounds a single search call.
	Timeout Duration `yaml:"timeout,omitempty" json:"timeout,omitempty" jsonschema:"title=Timeout,description=Per-call timeout,default=30s"`
}

// SetDefaults applies default values.
func (c *WebSearchConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = "tavily"
	}
	if c.APIKey == "" {
		c.APIKey = os.Getenv("TAVILY_API_KEY")
	}
	if c.BaseURL == "" {
		c.BaseURL = "https://api.tavily.com"
	}
	if c.MaxResults == 0 {
		c.MaxResults = 5
	}
	if c.Timeout == 0 {
		c.Timeout = Seconds(30)
	}
}

// Validate checks the web search configuration.
func (c *WebSearchConfig) Validate() error {
	if c.Provider != "tavily" {
		return fmt.Errorf("invalid provider %q (valid: tavily)", c.Provider)
	}
	if c.MaxResults < 1 || c.MaxResults > 20 {
		return fmt.Errorf("max_results must be between 1 and 20, got %d", c.MaxResults)
	}
	return nil
}

// Configured reports whether the provider can actually be called.
func (c *WebSearchConfig) Configured() bool {
	return c.APIKey != ""
}

// ResearchConfig configures the deep research loop.
type ResearchConfig struct {
	// MaxIterations bounds the execute/analyze loop.
	MaxIterations int `yaml:"max_iterations,omitempty" json:"max_iterations,omitempty" jsonschema:"title=Max Iterations,description=Research loop ceiling,minimum=1,maximum=10,default=5"`

	// ConfidenceThreshold stops the loop early when gap analysis reports
	// at least this confidence.
	ConfidenceThreshold float64 `yaml:"confidence_threshold,omitempty" json:"confidence_threshold,omitempty" jsonschema:"title=Confidence Threshold,description=Early-stop confidence,minimum=0,maximum=1,default=0.85"`

	// ResultsPerQuery caps web results fetched per research query.
	ResultsPerQuery int `yaml:"results_per_query,omitempty" json:"results_per_query,omitempty" jsonschema:"title=Results Per Query,description=Web results per research query,minimum=1,maximum=10,default=3"`
}

// SetDefaults applies default values.
func (c *ResearchConfig) SetDefaults() {
	if c.MaxIterations == 0 {
		c.MaxIterations = 5
	}
	if c.ConfidenceThreshold == 0 {
		c.ConfidenceThreshold = 0.85
	}
	if c.ResultsPerQuery == 0 {
		c.ResultsPerQuery = 3
	}
}

// Validate checks the research configuration.
func (c *ResearchConfig) Validate() error {
	if c.MaxIterations < 1 || c.MaxIterations > 10 {
		return fmt.Errorf("max_iterations must be between 1 and 10, got %d", c.MaxIterations)
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence_threshold must be between 0 and 1, got %v", c.ConfidenceThreshold)
	}
	if c.ResultsPerQuery < 1 || c.ResultsPerQuery > 10 {
		return fmt.Errorf("results_per_query must be between 1 and 10, got %d", c.ResultsPerQuery)
	}
	return nil
}
