package rag

import (
	"strings"
	"testing"
)

func TestRecursiveChunkerSmallContent(t *testing.T) {
	chunker, err := NewChunker(ChunkerConfig{Strategy: ChunkerRecursive, Size: 100})
	if err != nil {
		t.Fatalf("NewChunker() error = %v", err)
	}

	content := "Hello, World!"
	chunks, err := chunker.Chunk(content)
	if err != nil {
		t.Fatalf("Chunk() error = %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk for small content, got %d", len(chunks))
	}
	if chunks[0].Content != content {
		t.Errorf("expected content %q, got %q", content, chunks[0].Content)
	}
	if chunks[0].Index != 0 || chunks[0].Total != 1 {
		t.Errorf("expected index 0 total 1, got index %d total %d", chunks[0].Index, chunks[0].Total)
	}
}

func TestRecursiveChunkerSplitsAtParagraphs(t *testing.T) {
	chunker, err := NewChunker(ChunkerConfig{Strategy: ChunkerRecursive, Size: 60, Overlap: 10})
	if err != nil {
		t.Fatalf("NewChunker() error = %v", err)
	}

	para1 := "First paragraph with a reasonable amount of text."
	para2 := "Second paragraph carrying different content entirely."
	chunks, err := chunker.Chunk(para1 + "\n\n" + para2)
	if err != nil {
		t.Fatalf("Chunk() error = %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected at least 2 chunks, got %d", len(chunks))
	}
	if !strings.Contains(chunks[0].Content, "First paragraph") {
		t.Errorf("first chunk missing first paragraph: %q", chunks[0].Content)
	}
	if !strings.Contains(chunks[len(chunks)-1].Content, "Second paragraph") {
		t.Errorf("last chunk missing second paragraph: %q", chunks[len(chunks)-1].Content)
	}
}

func TestRecursiveChunkerDescendsToSentences(t *testing.T) {
	// One long paragraph with no blank lines forces the sentence separator.
	var b strings.Builder
	for i := 0; i < 30; i++ {
		b.WriteString("This sentence fills out the paragraph with routine words. ")
	}
	content := b.String()

	chunker, err := NewChunker(ChunkerConfig{Strategy: ChunkerRecursive, Size: 200, Overlap: 20})
	if err != nil {
		t.Fatalf("NewChunker() error = %v", err)
	}
	chunks, err := chunker.Chunk(content)
	if err != nil {
		t.Fatalf("Chunk() error = %v", err)
	}
	if len(chunks) < 5 {
		t.Fatalf("expected many chunks, got %d", len(chunks))
	}
	for i, chunk := range chunks {
		if len(chunk.Content) > 200+20 {
			t.Errorf("chunk %d exceeds size plus overlap: %d chars", i, len(chunk.Content))
		}
	}
}

func TestRecursiveChunkerOverlapCarriesContext(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 40; i++ {
		b.WriteString("word")
		b.WriteString(" ")
	}
	content := strings.TrimSpace(b.String())

	chunker, err := NewChunker(ChunkerConfig{Strategy: ChunkerRecursive, Size: 50, Overlap: 15})
	if err != nil {
		t.Fatalf("NewChunker() error = %v", err)
	}
	chunks, err := chunker.Chunk(content)
	if err != nil {
		t.Fatalf("Chunk() error = %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i := 1; i < len(chunks); i++ {
		prevTail := chunks[i-1].Content[len(chunks[i-1].Content)-4:]
		if !strings.Contains(chunks[i].Content, strings.TrimSpace(prevTail)) {
			t.Errorf("chunk %d does not carry context from its predecessor", i)
		}
	}
}

func TestRecursiveChunkerContentPreserved(t *testing.T) {
	paras := []string{
		"Alpha section describes the first topic in moderate detail.",
		"Beta section continues with the second topic and more words.",
		"Gamma section closes out the document with final remarks.",
	}
	content := strings.Join(paras, "\n\n")

	chunker, err := NewChunker(ChunkerConfig{Strategy: ChunkerRecursive, Size: 80, Overlap: 0})
	if err != nil {
		t.Fatalf("NewChunker() error = %v", err)
	}
	chunks, err := chunker.Chunk(content)
	if err != nil {
		t.Fatalf("Chunk() error = %v", err)
	}

	var joined strings.Builder
	for _, chunk := range chunks {
		joined.WriteString(chunk.Content)
	}
	for _, para := range paras {
		if !strings.Contains(joined.String(), para) {
			t.Errorf("paragraph lost during chunking: %q", para)
		}
	}
}

func TestSimpleChunkerFixedSplit(t *testing.T) {
	chunker, err := NewChunker(ChunkerConfig{Strategy: ChunkerSimple, Size: 50})
	if err != nil {
		t.Fatalf("NewChunker() error = %v", err)
	}

	content := strings.Repeat("abcde ", 30)
	chunks, err := chunker.Chunk(content)
	if err != nil {
		t.Fatalf("Chunk() error = %v", err)
	}
	if len(chunks) < 3 {
		t.Fatalf("expected at least 3 chunks, got %d", len(chunks))
	}
	for i, chunk := range chunks {
		if len(chunk.Content) > 50 {
			t.Errorf("chunk %d exceeds size: %d chars", i, len(chunk.Content))
		}
		if chunk.Total != len(chunks) {
			t.Errorf("chunk %d total = %d, want %d", i, chunk.Total, len(chunks))
		}
	}
}

func TestSimpleChunkerPreservesWords(t *testing.T) {
	chunker, err := NewChunker(ChunkerConfig{Strategy: ChunkerSimple, Size: 25})
	if err != nil {
		t.Fatalf("NewChunker() error = %v", err)
	}

	chunks, err := chunker.Chunk("alpha beta gamma delta epsilon zeta eta theta")
	if err != nil {
		t.Fatalf("Chunk() error = %v", err)
	}
	for i, chunk := range chunks[:len(chunks)-1] {
		if !strings.HasSuffix(chunk.Content, " ") {
			t.Errorf("chunk %d cut mid-word: %q", i, chunk.Content)
		}
	}
}

func TestOverlappingChunkerRepeatsBoundary(t *testing.T) {
	chunker, err := NewChunker(ChunkerConfig{Strategy: ChunkerOverlapping, Size: 40, Overlap: 12})
	if err != nil {
		t.Fatalf("NewChunker() error = %v", err)
	}

	chunks, err := chunker.Chunk(strings.Repeat("lorem ipsum dolor sit amet ", 10))
	if err != nil {
		t.Fatalf("Chunk() error = %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i := 1; i < len(chunks); i++ {
		tail := overlapTail(chunks[i-1].Content, 12, true)
		if tail == "" || !strings.HasPrefix(chunks[i].Content, tail) {
			t.Errorf("chunk %d does not open with predecessor tail %q", i, tail)
		}
	}
}

func TestChunkerDefaults(t *testing.T) {
	cfg := ChunkerConfig{}
	cfg.SetDefaults()

	if cfg.Strategy != ChunkerRecursive {
		t.Errorf("default strategy = %q, want recursive", cfg.Strategy)
	}
	if cfg.Size != 800 {
		t.Errorf("default size = %d, want 800", cfg.Size)
	}
	if cfg.Overlap != 100 {
		t.Errorf("default overlap = %d, want 100", cfg.Overlap)
	}
	if len(cfg.Separators) != 4 {
		t.Errorf("default separators = %v", cfg.Separators)
	}
}

func TestChunkerConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ChunkerConfig
		wantErr bool
	}{
		{"valid", ChunkerConfig{Strategy: ChunkerRecursive, Size: 800, Overlap: 100}, false},
		{"bad strategy", ChunkerConfig{Strategy: "semantic", Size: 800}, true},
		{"zero size", ChunkerConfig{Strategy: ChunkerSimple, Size: 0}, true},
		{"overlap >= size", ChunkerConfig{Strategy: ChunkerRecursive, Size: 100, Overlap: 100}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewChunkerRejectsInvalid(t *testing.T) {
	if _, err := NewChunker(ChunkerConfig{Strategy: "mystery"}); err == nil {
		t.Error("expected error for unknown strategy")
	}
}
