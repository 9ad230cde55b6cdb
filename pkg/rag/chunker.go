package rag

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// ChunkerStrategy identifies a chunking strategy.
type ChunkerStrategy string

const (
	// ChunkerSimple splits content by fixed character count.
	ChunkerSimple ChunkerStrategy = "simple"

	// ChunkerOverlapping splits by fixed count with trailing context
	// repeated at each boundary.
	ChunkerOverlapping ChunkerStrategy = "overlapping"

	// ChunkerRecursive splits at the coarsest separator that keeps pieces
	// under the target size, descending paragraph -> line -> sentence ->
	// word. This is the default for uploaded documents.
	ChunkerRecursive ChunkerStrategy = "recursive"
)

// Chunk is one indexed piece of a document.
type Chunk struct {
	Content string
	Index   int
	Total   int
}

// Chunker splits document text into pieces for embedding and indexing.
//
// Chunking drives retrieval quality: pieces too small lose context, pieces
// too large dilute relevance and waste prompt tokens.
type Chunker interface {
	Chunk(content string) ([]Chunk, error)

	Strategy() ChunkerStrategy
}

// ChunkerConfig configures chunking behavior.
type ChunkerConfig struct {
	// Strategy selects the splitter. Default: "recursive".
	Strategy ChunkerStrategy `yaml:"strategy,omitempty"`

	// Size is the target chunk size in characters. Default: 800.
	Size int `yaml:"size,omitempty"`

	// Overlap is the context repeated between adjacent chunks. Default: 100.
	Overlap int `yaml:"overlap,omitempty"`

	// Separators are the split points for the recursive strategy, coarsest
	// first. Default: ["\n\n", "\n", ". ", " "].
	Separators []string `yaml:"separators,omitempty"`

	// PreserveWords avoids cutting mid-word on hard splits. Default: true.
	PreserveWords *bool `yaml:"preserve_words,omitempty"`
}

// SetDefaults applies default values.
func (c *ChunkerConfig) SetDefaults() {
	if c.Strategy == "" {
		c.Strategy = ChunkerRecursive
	}
	if c.Size <= 0 {
		c.Size = 800
	}
	if c.Overlap < 0 {
		c.Overlap = 0
	}
	if c.Overlap == 0 && c.Strategy != ChunkerSimple {
		c.Overlap = 100
	}
	if len(c.Separators) == 0 {
		c.Separators = []string{"\n\n", "\n", ". ", " "}
	}
	if c.PreserveWords == nil {
		t := true
		c.PreserveWords = &t
	}
}

// Validate checks the configuration for errors.
func (c *ChunkerConfig) Validate() error {
	switch c.Strategy {
	case ChunkerSimple, ChunkerOverlapping, ChunkerRecursive, "":
	default:
		return fmt.Errorf("invalid chunker strategy: %q", c.Strategy)
	}
	if c.Size <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", c.Size)
	}
	if c.Overlap < 0 {
		return fmt.Errorf("overlap must be non-negative, got %d", c.Overlap)
	}
	if c.Overlap >= c.Size {
		return fmt.Errorf("overlap (%d) must be less than size (%d)", c.Overlap, c.Size)
	}
	return nil
}

func (c *ChunkerConfig) preserveWords() bool {
	return c.PreserveWords == nil || *c.PreserveWords
}

// NewChunker creates a chunker from configuration.
func NewChunker(cfg ChunkerConfig) (Chunker, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid chunker config: %w", err)
	}

	switch cfg.Strategy {
	case ChunkerSimple:
		return &SimpleChunker{config: cfg}, nil
	case ChunkerOverlapping:
		return &OverlappingChunker{config: cfg}, nil
	default:
		return &RecursiveChunker{config: cfg}, nil
	}
}

// SimpleChunker cuts content at fixed character offsets.
type SimpleChunker struct {
	config ChunkerConfig
}

func (c *SimpleChunker) Chunk(content string) ([]Chunk, error) {
	if len(content) <= c.config.Size {
		return singleChunk(content), nil
	}
	return finalizeChunks(hardSplit(content, c.config.Size, c.config.preserveWords())), nil
}

func (c *SimpleChunker) Strategy() ChunkerStrategy {
	return ChunkerSimple
}

var _ Chunker = (*SimpleChunker)(nil)

// OverlappingChunker cuts at fixed offsets and prepends the tail of each
// chunk to the next, so content near a boundary appears in both.
type OverlappingChunker struct {
	config ChunkerConfig
}

func (c *OverlappingChunker) Chunk(content string) ([]Chunk, error) {
	if len(content) <= c.config.Size {
		return singleChunk(content), nil
	}
	pieces := hardSplit(content, c.config.Size, c.config.preserveWords())
	return finalizeChunks(applyOverlap(pieces, c.config.Overlap, c.config.preserveWords())), nil
}

func (c *OverlappingChunker) Strategy() ChunkerStrategy {
	return ChunkerOverlapping
}

var _ Chunker = (*OverlappingChunker)(nil)

// RecursiveChunker splits at the coarsest configured separator that keeps
// pieces under the target size, recursing with finer separators on oversized
// pieces, then repeats trailing context across boundaries.
type RecursiveChunker struct {
	config ChunkerConfig
}

func (c *RecursiveChunker) Chunk(content string) ([]Chunk, error) {
	if len(content) <= c.config.Size {
		return singleChunk(content), nil
	}
	pieces := c.split(content, c.config.Separators)
	return finalizeChunks(applyOverlap(pieces, c.config.Overlap, c.config.preserveWords())), nil
}

func (c *RecursiveChunker) Strategy() ChunkerStrategy {
	return ChunkerRecursive
}

func (c *RecursiveChunker) split(text string, separators []string) []string {
	if len(text) <= c.config.Size {
		return []string{text}
	}
	if len(separators) == 0 {
		return hardSplit(text, c.config.Size, c.config.preserveWords())
	}

	sep := separators[0]
	rest := separators[1:]
	if !strings.Contains(text, sep) {
		return c.split(text, rest)
	}

	// Greedily pack separator-delimited parts into chunks; parts that alone
	// exceed the target descend to the next finer separator.
	parts := strings.SplitAfter(text, sep)
	var pieces []string
	var current strings.Builder
	for _, part := range parts {
		if part == "" {
			continue
		}
		if current.Len() > 0 && current.Len()+len(part) > c.config.Size {
			pieces = append(pieces, current.String())
			current.Reset()
		}
		if len(part) > c.config.Size {
			pieces = append(pieces, c.split(part, rest)...)
			continue
		}
		current.WriteString(part)
	}
	if current.Len() > 0 {
		pieces = append(pieces, current.String())
	}
	return pieces
}

var _ Chunker = (*RecursiveChunker)(nil)

func singleChunk(content string) []Chunk {
	return []Chunk{{Content: content, Index: 0, Total: 1}}
}

func finalizeChunks(pieces []string) []Chunk {
	chunks := make([]Chunk, 0, len(pieces))
	for _, piece := range pieces {
		if strings.TrimSpace(piece) == "" {
			continue
		}
		chunks = append(chunks, Chunk{Content: piece, Index: len(chunks)})
	}
	for i := range chunks {
		chunks[i].Total = len(chunks)
	}
	return chunks
}

// hardSplit cuts text at fixed offsets, backing cuts up to rune and
// optionally word boundaries.
func hardSplit(text string, size int, preserveWords bool) []string {
	var pieces []string
	for start := 0; start < len(text); {
		end := start + size
		if end >= len(text) {
			pieces = append(pieces, text[start:])
			break
		}
		for end > start && !utf8.RuneStart(text[end]) {
			end--
		}
		if preserveWords {
			if idx := strings.LastIndexAny(text[start:end], " \n\t"); idx > 0 {
				end = start + idx + 1
			}
		}
		if end <= start {
			end = start + size
		}
		pieces = append(pieces, text[start:end])
		start = end
	}
	return pieces
}

// applyOverlap prepends the tail of each piece to its successor.
func applyOverlap(pieces []string, overlap int, preserveWords bool) []string {
	if overlap <= 0 || len(pieces) < 2 {
		return pieces
	}
	out := make([]string, len(pieces))
	out[0] = pieces[0]
	for i := 1; i < len(pieces); i++ {
		out[i] = overlapTail(pieces[i-1], overlap, preserveWords) + pieces[i]
	}
	return out
}

// overlapTail returns up to overlap trailing characters of s, trimmed to a
// rune boundary and optionally to the first full word.
func overlapTail(s string, overlap int, preserveWords bool) string {
	if len(s) <= overlap {
		return s
	}
	tail := s[len(s)-overlap:]
	for len(tail) > 0 && !utf8.RuneStart(tail[0]) {
		tail = tail[1:]
	}
	if preserveWords {
		if idx := strings.IndexAny(tail, " \n\t"); idx >= 0 && idx+1 < len(tail) {
			tail = tail[idx+1:]
		}
	}
	return tail
}
