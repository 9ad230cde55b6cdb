package config

import "fmt"

// DocumentsConfig configures document ingestion.
type DocumentsConfig struct {
	// KBDir is an optional directory of knowledge-base documents loaded
	// into new sessions on demand.
	KBDir string `yaml:"kb_dir,omitempty" json:"kb_dir,omitempty" jsonschema:"title=KB Directory,description=Directory of knowledge-base documents"`

	// ChunkSize is the target chunk length in characters.
	ChunkSize int `yaml:"chunk_size,omitempty" json:"chunk_size,omitempty" jsonschema:"title=Chunk Size,description=Target chunk length in characters,minimum=50,default=800"`

	// ChunkOverlap is the character overlap between adjacent chunks.
	ChunkOverlap int `yaml:"chunk_overlap,omitempty" json:"chunk_overlap,omitempty" jsonschema:"title=Chunk Overlap,description=Character overlap between chunks,minimum=0,default=100"`

	// MaxFileSize caps a fetched document in bytes.
	MaxFileSize int64 `yaml:"max_file_size,omitempty" json:"max_file_size,omitempty" jsonschema:"title=Max File Size,description=Fetched document size cap in bytes,default=52428800"`

	// FetchTimeout bounds a single document download.
	FetchTimeout Duration `yaml:"fetch_timeout,omitempty" json:"fetch_timeout,omitempty" jsonschema:"title=Fetch Timeout,description=Per-download timeout,default=60s"`
}

// SetDefaults applies default values.
func (c *DocumentsConfig) SetDefaults() {
	if c.ChunkSize == 0 {
		c.ChunkSize = 800
	}
	if c.ChunkOverlap == 0 {
		c.ChunkOverlap = 100
	}
	if c.MaxFileSize == 0 {
		c.MaxFileSize = 50 * 1024 * 1024
	}
	if c.FetchTimeout == 0 {
		c.FetchTimeout = Seconds(60)
	}
}

// Validate checks the documents configuration.
func (c *DocumentsConfig) Validate() error {
	if c.ChunkSize < 50 {
		return fmt.Errorf("chunk_size must be at least 50, got %d", c.ChunkSize)
	}
	if c.ChunkOverlap < 0 {
		return fmt.Errorf("chunk_overlap must be non-negative, got %d", c.ChunkOverlap)
	}
	if c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("chunk_overlap (%d) must be smaller than chunk_size (%d)", c.ChunkOverlap, c.ChunkSize)
	}
	if c.MaxFileSize < 1 {
		return fmt.Errorf("max_file_size must be positive, got %d", c.MaxFileSize)
	}
	return nil
}
