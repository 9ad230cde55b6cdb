package llms

import "testing"

// Encoding-backed counting needs the BPE vocabularies, which tiktoken
// fetches lazily; only the estimation fallback is exercised here.
func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
	}{
		{name: "empty", text: "", want: 0},
		{name: "short", text: "abcd", want: 1},
		{name: "sentence", text: "The quick brown fox jumps over the lazy dog", want: 11},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EstimateTokens(tt.text); got != tt.want {
				t.Errorf("EstimateTokens(%q) = %d, want %d", tt.text, got, tt.want)
			}
		})
	}
}
