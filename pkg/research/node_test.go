package research

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strandlabs/strand/pkg/config"
	"github.com/strandlabs/strand/pkg/graph"
	"github.com/strandlabs/strand/pkg/llms"
	"github.com/strandlabs/strand/pkg/stream"
	"github.com/strandlabs/strand/pkg/testutils"
	"github.com/strandlabs/strand/pkg/websearch"
)

const (
	planQuery1 = "What are the latest quantum error correction results?"
	planQuery2 = "Which companies lead quantum hardware development?"
	costQuery  = "What does a quantum computer cost to operate?"

	planReply = "1. " + planQuery1 + "\n2. " + planQuery2

	highConfidenceReply = "CONFIDENCE: 0.9\nGAPS: None\nFOLLOW_UP: None\nREASONING: Enough coverage."

	lowConfidenceReply = "CONFIDENCE: 0.4\n" +
		"GAPS: Missing cost data for quantum vendors\n" +
		"FOLLOW_UP: 1. " + costQuery + "\n" +
		"REASONING: Cost data is missing."

	noFollowUpsReply = "CONFIDENCE: 0.6\nGAPS: None\nFOLLOW_UP: None\nREASONING: Nothing actionable left."

	reportReply = "Quantum research is progressing steadily."
)

type searchCall struct {
	query      string
	maxResults int
	depth      string
}

// stubSearch returns canned results per query and records concurrent calls.
type stubSearch struct {
	mu      sync.Mutex
	results map[string][]websearch.Result
	err     error
	calls   []searchCall
}

func (s *stubSearch) Search(_ context.Context, query string, maxResults int, depth string) ([]websearch.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, searchCall{query: query, maxResults: maxResults, depth: depth})
	if s.err != nil {
		return nil, s.err
	}
	return s.results[query], nil
}

func (s *stubSearch) Name() string { return "stub" }

func (s *stubSearch) snapshot() []searchCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]searchCall, len(s.calls))
	copy(out, s.calls)
	return out
}

// scriptedLLM replies in order and fails from a given call number, for
// exercising late-call failures that StubLLM cannot express.
type scriptedLLM struct {
	mu       sync.Mutex
	replies  []string
	failFrom int
	calls    int
}

func (s *scriptedLLM) Generate(_ context.Context, _ []llms.Message, _ []llms.ToolDefinition) (string, []llms.ToolCall, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failFrom > 0 && s.calls >= s.failFrom {
		return "", nil, 0, errors.New("model unavailable")
	}
	reply := ""
	if len(s.replies) > 0 {
		reply = s.replies[0]
		if len(s.replies) > 1 {
			s.replies = s.replies[1:]
		}
	}
	return reply, nil, 0, nil
}

func (s *scriptedLLM) GenerateStreaming(context.Context, []llms.Message, []llms.ToolDefinition) (<-chan llms.StreamChunk, error) {
	return nil, errors.New("scripted: streaming not supported")
}

func (s *scriptedLLM) GetModelName() string    { return "scripted" }
func (s *scriptedLLM) GetMaxTokens() int       { return 4096 }
func (s *scriptedLLM) GetTemperature() float64 { return 0 }
func (s *scriptedLLM) Close() error            { return nil }

func researchResults() map[string][]websearch.Result {
	return map[string][]websearch.Result{
		planQuery1: {
			{Title: "QEC Paper", URL: "https://arxiv.org/qec", Content: "Surface codes reached new thresholds."},
		},
		planQuery2: {
			{Title: "Vendors", URL: "https://example.com/vendors", Content: "Several labs ship hardware."},
		},
		costQuery: {
			{Title: "Costs", URL: "https://example.com/costs", Content: "Operating costs vary widely."},
		},
	}
}

func newTestNode(search websearch.Provider, llm llms.Provider) *Node {
	return NewNode(search, &testutils.StubProviderSource{Provider: llm}, nil)
}

func TestNode_Run_HighConfidenceStopsAfterFirstIteration(t *testing.T) {
	search := &stubSearch{results: researchResults()}
	llm := &testutils.StubLLM{Replies: []string{planReply, highConfidenceReply, reportReply}}
	node := newTestNode(search, llm)

	sink := stream.NewBufferSink()
	state := &graph.State{SessionID: "s1", UserQuery: "state of quantum computing", Sink: sink}

	require.NoError(t, node.Run(context.Background(), state))

	calls := llm.Calls()
	require.Len(t, calls, 3)
	assert.Contains(t, calls[0][0].Content, "User's Complex Query: state of quantum computing")
	assert.Contains(t, calls[1][0].Content, "[WEB] "+planQuery1+": QEC Paper: Surface codes reached new thresholds.")
	assert.Contains(t, calls[2][0].Content, "Research Summary: 1 iterations completed")

	searches := search.snapshot()
	require.Len(t, searches, 2)
	for _, c := range searches {
		assert.Equal(t, 3, c.maxResults)
		assert.Equal(t, websearch.DepthAdvanced, c.depth)
	}

	resp := state.Response()
	assert.Contains(t, resp, reportReply)
	assert.Contains(t, resp, "## Sources & References")
	assert.Contains(t, resp, "1. https://arxiv.org/qec")
	assert.Contains(t, resp, "2. https://example.com/vendors")

	mid, ok := state.LastIntermediate()
	require.True(t, ok)
	assert.Equal(t, string(graph.RouteDeepResearch), mid.Node)
	assert.Equal(t, "state of quantum computing", mid.Query)
	assert.Equal(t, 1, mid.Metadata["iterations"])
	assert.InDelta(t, 0.9, mid.Metadata["confidence"].(float64), 1e-9)
	assert.Equal(t, 2, mid.Metadata["sources_count"])
	assert.Equal(t, 2, mid.Metadata["findings_count"])

	frames := sink.Frames()
	require.NotEmpty(t, frames)
	assert.Equal(t, stream.FrameStatus, frames[0].Type)
	assert.Equal(t, resp, sink.FinalResponse())
}

func TestNode_Run_LowConfidenceLoopsOnFollowUps(t *testing.T) {
	search := &stubSearch{results: researchResults()}
	llm := &testutils.StubLLM{Replies: []string{planReply, lowConfidenceReply, noFollowUpsReply, reportReply}}
	node := newTestNode(search, llm)

	state := &graph.State{SessionID: "s1", UserQuery: "state of quantum computing"}

	require.NoError(t, node.Run(context.Background(), state))

	calls := llm.Calls()
	require.Len(t, calls, 4)
	assert.Contains(t, calls[2][0].Content, "(Iteration 2/5)")
	assert.Contains(t, calls[2][0].Content, "- "+costQuery)

	searches := search.snapshot()
	require.Len(t, searches, 3)
	assert.ElementsMatch(t,
		[]string{planQuery1, planQuery2},
		[]string{searches[0].query, searches[1].query})
	assert.Equal(t, costQuery, searches[2].query)

	mid, ok := state.LastIntermediate()
	require.True(t, ok)
	assert.Equal(t, 2, mid.Metadata["iterations"])
	assert.InDelta(t, 0.6, mid.Metadata["confidence"].(float64), 1e-9)
	assert.Equal(t, 3, mid.Metadata["findings_count"])
	assert.Equal(t, 3, mid.Metadata["sources_count"])
}

func TestNode_Run_MaxIterationsForcesSynthesis(t *testing.T) {
	search := &stubSearch{results: researchResults()}
	llm := &testutils.StubLLM{Replies: []string{planReply, reportReply}}
	node := NewNode(search, &testutils.StubProviderSource{Provider: llm},
		&config.ResearchConfig{MaxIterations: 1})

	state := &graph.State{UserQuery: "state of quantum computing"}

	require.NoError(t, node.Run(context.Background(), state))

	// plan and synthesis only: the single allowed iteration skips analysis
	assert.Len(t, llm.Calls(), 2)

	mid, ok := state.LastIntermediate()
	require.True(t, ok)
	assert.Equal(t, 1, mid.Metadata["iterations"])
	assert.Equal(t, 2, mid.Metadata["findings_count"])
}

func TestNode_Run_NoPlanLinesEndsWithRefinementMessage(t *testing.T) {
	search := &stubSearch{results: researchResults()}
	llm := &testutils.StubLLM{Reply: "I cannot break this down."}
	node := newTestNode(search, llm)

	sink := stream.NewBufferSink()
	state := &graph.State{UserQuery: "???", Sink: sink}

	require.NoError(t, node.Run(context.Background(), state))

	assert.Equal(t, planRefinementMessage, state.Response())
	assert.Equal(t, planRefinementMessage, sink.FinalResponse())
	assert.Empty(t, state.Intermediates())
	assert.Empty(t, search.snapshot())
	assert.Len(t, llm.Calls(), 1)
}

func TestNode_Run_PlanModelFailureEndsWithRefinementMessage(t *testing.T) {
	search := &stubSearch{results: researchResults()}
	llm := &testutils.StubLLM{Err: errors.New("model down")}
	node := newTestNode(search, llm)

	state := &graph.State{UserQuery: "state of quantum computing"}

	require.NoError(t, node.Run(context.Background(), state))

	assert.Equal(t, planRefinementMessage, state.Response())
	assert.Empty(t, search.snapshot())
	assert.Len(t, llm.Calls(), 1)
}

func TestNode_Run_SearchFailuresDegradeToEmptyEvidence(t *testing.T) {
	search := &stubSearch{err: errors.New("search backend down")}
	llm := &testutils.StubLLM{Replies: []string{planReply, highConfidenceReply, reportReply}}
	node := newTestNode(search, llm)

	state := &graph.State{UserQuery: "state of quantum computing"}

	require.NoError(t, node.Run(context.Background(), state))

	// both searches attempted, none produced findings, no sources appended
	assert.Len(t, search.snapshot(), 2)
	assert.Equal(t, reportReply, state.Response())

	mid, ok := state.LastIntermediate()
	require.True(t, ok)
	assert.Equal(t, 0, mid.Metadata["findings_count"])
	assert.Equal(t, 0, mid.Metadata["sources_count"])
}

func TestNode_Run_NilProviderStillSynthesizes(t *testing.T) {
	llm := &testutils.StubLLM{Replies: []string{planReply, highConfidenceReply, reportReply}}
	node := newTestNode(nil, llm)

	state := &graph.State{UserQuery: "state of quantum computing"}

	require.NoError(t, node.Run(context.Background(), state))

	assert.Equal(t, reportReply, state.Response())

	mid, ok := state.LastIntermediate()
	require.True(t, ok)
	assert.Equal(t, 0, mid.Metadata["findings_count"])
}

func TestNode_Run_SynthesisFailureReturnsError(t *testing.T) {
	search := &stubSearch{results: researchResults()}
	llm := &scriptedLLM{replies: []string{planReply, highConfidenceReply}, failFrom: 3}
	node := NewNode(search, &testutils.StubProviderSource{Provider: llm}, nil)

	state := &graph.State{UserQuery: "state of quantum computing"}

	err := node.Run(context.Background(), state)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "synthesis failed")
	assert.Empty(t, state.Response())
	assert.Empty(t, state.Intermediates())
}

func TestNode_Run_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	node := newTestNode(&stubSearch{}, &testutils.StubLLM{Reply: planReply})
	err := node.Run(ctx, &graph.State{UserQuery: "q"})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestNode_Execute_EmptyGapQueriesRouteToSynthesis(t *testing.T) {
	search := &stubSearch{}
	node := newTestNode(search, &testutils.StubLLM{})

	rec := newRecord("q", 5)
	rec.iteration = 1

	require.NoError(t, node.execute(context.Background(), rec, &graph.State{}))

	assert.Equal(t, phaseSynthesize, rec.route)
	assert.Empty(t, search.snapshot())
}

func TestAppendSourcesSection(t *testing.T) {
	rec := newRecord("q", 5)
	for i := 0; i < 20; i++ {
		rec.sources = append(rec.sources, fmt.Sprintf("https://example.com/%02d", i))
	}

	report := appendSourcesSection("Quantum computing is advancing.", rec)
	assert.Contains(t, report, "## Sources & References")
	assert.Contains(t, report, "1. https://example.com/00")
	assert.Contains(t, report, "15. https://example.com/14")
	assert.NotContains(t, report, "https://example.com/15")

	cited := "Findings...\n\n## Sources\n1. https://example.com/00"
	assert.Equal(t, cited, appendSourcesSection(cited, rec))

	bare := "Report without links."
	assert.Equal(t, bare, appendSourcesSection(bare, newRecord("q", 5)))
}
