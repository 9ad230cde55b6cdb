package websearch

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strandlabs/strand/pkg/graph"
	"github.com/strandlabs/strand/pkg/stream"
	"github.com/strandlabs/strand/pkg/testutils"
)

// fakeSearch records the last search call and returns preset results.
type fakeSearch struct {
	results    []Result
	err        error
	query      string
	maxResults int
	depth      string
}

func (f *fakeSearch) Search(_ context.Context, query string, maxResults int, depth string) ([]Result, error) {
	f.query = query
	f.maxResults = maxResults
	f.depth = depth
	return f.results, f.err
}

func (f *fakeSearch) Name() string { return "fake" }

func goResults() []Result {
	return []Result{
		{Title: "Go", URL: "https://go.dev", Content: "Go is an open source language."},
		{Title: "Blog", URL: "https://go.dev/blog", Content: "The Go Blog."},
	}
}

func TestNode_Run_ToggleOnUsesAdvancedSearch(t *testing.T) {
	search := &fakeSearch{results: goResults()}
	llm := &testutils.StubLLM{Reply: "## Answer\nGo is great. [Source 1]"}
	node := NewNode(search, &testutils.StubProviderSource{Provider: llm}, 5)

	sink := stream.NewBufferSink()
	state := &graph.State{UserQuery: "latest go release", WebSearchEnabled: true, Sink: sink}

	require.NoError(t, node.Run(context.Background(), state))

	assert.Equal(t, "latest go release", search.query)
	assert.Equal(t, 5, search.maxResults)
	assert.Equal(t, DepthAdvanced, search.depth)

	msgs := llm.LastCall()
	require.Len(t, msgs, 2)
	assert.Equal(t, detailedPrompt, msgs[0].Content)
	assert.Contains(t, msgs[1].Content, "[Source 1] (https://go.dev)")
	assert.Contains(t, msgs[1].Content, "Now synthesize them")

	assert.Equal(t, "## Answer\nGo is great. [Source 1]", state.Response())
	assert.Equal(t, "## Answer\nGo is great. [Source 1]", sink.FinalResponse())

	results := state.Intermediates()
	require.Len(t, results, 1)
	assert.Equal(t, "WebSearch", results[0].Node)
}

func TestNode_Run_ToggleOffUsesBasicSearch(t *testing.T) {
	search := &fakeSearch{results: goResults()}
	llm := &testutils.StubLLM{Reply: "Go is great."}
	node := NewNode(search, &testutils.StubProviderSource{Provider: llm}, 5)

	state := &graph.State{UserQuery: "what is go", Sink: stream.Discard{}}
	require.NoError(t, node.Run(context.Background(), state))

	assert.Equal(t, 2, search.maxResults)
	assert.Equal(t, DepthBasic, search.depth)

	msgs := llm.LastCall()
	assert.Equal(t, concisePrompt, msgs[0].Content)
	assert.NotContains(t, msgs[1].Content, "Now synthesize them")
}

func TestNode_Run_NoProviderDegradesGracefully(t *testing.T) {
	llm := &testutils.StubLLM{Reply: "unused"}
	node := NewNode(nil, &testutils.StubProviderSource{Provider: llm}, 5)

	sink := stream.NewBufferSink()
	state := &graph.State{UserQuery: "anything", Sink: sink}

	require.NoError(t, node.Run(context.Background(), state))
	assert.Equal(t, "No web results found or Tavily unavailable.", state.Response())
	require.Len(t, state.Intermediates(), 1)
	assert.Equal(t, state.Response(), state.Intermediates()[0].Output)
	assert.Empty(t, llm.Calls())
}

func TestNode_Run_SearchErrorReadsAsNoResults(t *testing.T) {
	search := &fakeSearch{err: errors.New("network down")}
	node := NewNode(search, &testutils.StubProviderSource{Provider: &testutils.StubLLM{}}, 5)

	state := &graph.State{UserQuery: "anything", Sink: stream.Discard{}}
	require.NoError(t, node.Run(context.Background(), state))
	assert.Equal(t, "No web results found or Tavily unavailable.", state.Response())
}

func TestNode_Run_EmptyQuery(t *testing.T) {
	node := NewNode(&fakeSearch{}, &testutils.StubProviderSource{Provider: &testutils.StubLLM{}}, 5)

	state := &graph.State{Sink: stream.Discard{}}
	require.NoError(t, node.Run(context.Background(), state))
	assert.Equal(t, "No query provided for web search.", state.Response())
}

func TestNode_Run_FormatterFailureSurfacesInResponse(t *testing.T) {
	search := &fakeSearch{results: goResults()}
	llm := &testutils.StubLLM{Err: errors.New("model overloaded")}
	node := NewNode(search, &testutils.StubProviderSource{Provider: llm}, 5)

	state := &graph.State{UserQuery: "query", Sink: stream.Discard{}}
	require.NoError(t, node.Run(context.Background(), state))

	assert.Contains(t, state.Response(), "Web search formatting failed:")
	assert.Contains(t, state.Response(), "model overloaded")
	require.Len(t, state.Intermediates(), 1)
}

func TestFormatSources_TruncatesSnippets(t *testing.T) {
	long := strings.Repeat("x", 500)
	formatted := FormatSources([]Result{{URL: "https://a", Content: long}})

	assert.Contains(t, formatted, "[Source 1] (https://a)")
	assert.Contains(t, formatted, strings.Repeat("x", snippetLimit))
	assert.NotContains(t, formatted, strings.Repeat("x", snippetLimit+1))
}
