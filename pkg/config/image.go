package config

import (
	"fmt"
	"os"
)

// ImageConfig configures the image generation provider.
//
// An empty APIKey is not an error: the image node reports the failure as
// its response instead of generating.
type ImageConfig struct {
	// Provider type. Only replicate is supported.
	Provider string `yaml:"provider,omitempty" json:"provider,omitempty" jsonschema:"title=Provider,description=Image provider,enum=replicate,default=replicate"`

	// APIKey for the image provider. Supports ${VAR} expansion.
	APIKey string `yaml:"api_key,omitempty" json:"api_key,omitempty" jsonschema:"title=API Key,description=Image provider API key (use ${ENV_VAR})"`

	// BaseURL overrides the default API endpoint.
	BaseURL string `yaml:"base_url,omitempty" json:"base_url,omitempty" jsonschema:"title=Base URL,description=Custom base URL for API endpoint"`

	// Model identifier (owner/name).
	Model string `yaml:"model,omitempty" json:"model,omitempty" jsonschema:"title=Model,description=Image model identifier,default=black-forest-labs/flux-schnell"`

	// Timeout bounds a single generation call including polling.
	Timeout Duration `yaml:"timeout,omitempty" json:"timeout,omitempty" jsonschema:"title=Timeout,description=Per-call timeout,default=60s"`
}

// SetDefaults applies default values.
func (c *ImageConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = "replicate"
	}
	if c.APIKey == "" {
		c.APIKey = os.Getenv("REPLICATE_API_TOKEN")
	}
	if c.BaseURL == "" {
		c.BaseURL = "https://api.replicate.com/v1"
	}
	if c.Model == "" {
		c.Model = "black-forest-labs/flux-schnell"
	}
	if c.Timeout == 0 {
		c.Timeout = Seconds(60)
	}
}

// Validate checks the image configuration.
func (c *ImageConfig) Validate() error {
	if c.Provider != "replicate" {
		return fmt.Errorf("invalid provider %q (valid: replicate)", c.Provider)
	}
	return nil
}

// Configured reports whether the provider can actually be called.
func (c *ImageConfig) Configured() bool {
	return c.APIKey != ""
}
