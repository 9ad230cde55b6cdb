package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/strandlabs/strand/pkg/graph"
)

func TestParseExecutionOrder(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "strict json",
			text: `{"execution_order": ["rag", "web_search"]}`,
			want: []string{"rag", "web_search"},
		},
		{
			name: "fenced",
			text: "```json\n{\"execution_order\": [\"simple_llm\"]}\n```",
			want: []string{"simple_llm"},
		},
		{
			name: "escaped braces",
			text: `{{"execution_order": ["rag"]}}`,
			want: []string{"rag"},
		},
		{
			name: "surrounding prose",
			text: `Here is the plan: {"execution_order": ["web_search"]} as requested.`,
			want: []string{"web_search"},
		},
		{
			name: "no json",
			text: "use web search first",
			want: nil,
		},
		{
			name: "wrong shape",
			text: `{"steps": ["rag"]}`,
			want: nil,
		},
		{
			name: "empty order",
			text: `{"execution_order": []}`,
			want: []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseExecutionOrder(tt.text))
		})
	}
}

func TestNormalizeRoute(t *testing.T) {
	tests := []struct {
		in   string
		want graph.Route
		ok   bool
	}{
		{"web_search", graph.RouteWebSearch, true},
		{"WebSearch", graph.RouteWebSearch, true},
		{"Search", graph.RouteWebSearch, true},
		{"RAG", graph.RouteRAG, true},
		{" rag ", graph.RouteRAG, true},
		{"simple_llm", graph.RouteSimpleLLM, true},
		{"LLM", graph.RouteSimpleLLM, true},
		{"SimpleLLM", graph.RouteSimpleLLM, true},
		{"image_gen", graph.RouteImage, true},
		{"Image", graph.RouteImage, true},
		{"mcp", graph.RouteTool, true},
		{"tools", graph.RouteTool, true},
		{"Tool", graph.RouteTool, true},
		{"deep_research", graph.RouteDeepResearch, true},
		{"deepResearch", graph.RouteDeepResearch, true},
		{"END", graph.RouteEnd, true},
		{"teleport", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := normalizeRoute(tt.in)
		assert.Equal(t, tt.ok, ok, "input %q", tt.in)
		assert.Equal(t, tt.want, got, "input %q", tt.in)
	}
}

func TestApplyUploadPolicy(t *testing.T) {
	rag := graph.RouteRAG
	ws := graph.RouteWebSearch
	llm := graph.RouteSimpleLLM

	tests := []struct {
		name     string
		plan     []graph.Route
		uploaded bool
		want     []graph.Route
	}{
		{"no upload leaves plan alone", []graph.Route{ws}, false, []graph.Route{ws}},
		{"empty plan becomes retrieval", nil, true, []graph.Route{rag}},
		{"single non-retrieval replaced", []graph.Route{llm}, true, []graph.Route{rag}},
		{"single retrieval kept", []graph.Route{rag}, true, []graph.Route{rag}},
		{"multi without retrieval prepended", []graph.Route{ws, llm}, true, []graph.Route{rag, ws, llm}},
		{"multi with retrieval kept", []graph.Route{ws, rag}, true, []graph.Route{ws, rag}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, applyUploadPolicy(tt.plan, tt.uploaded))
		})
	}
}
