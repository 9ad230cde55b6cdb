package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strandlabs/strand/pkg/config"
	"github.com/strandlabs/strand/pkg/graph"
	"github.com/strandlabs/strand/pkg/llms"
	"github.com/strandlabs/strand/pkg/testutils"
)

func newState(query string) *graph.State {
	return &graph.State{
		SessionID: "sess-1",
		UserQuery: query,
		Model:     "stub-model",
	}
}

func judgeJSON(isFollowUp, useRAG bool) string {
	return fmt.Sprintf(
		`{"is_followup": %t, "should_use_rag": %t, "confidence": 0.9, "rationale": "same thread"}`,
		isFollowUp, useRAG)
}

func planJSON(steps ...string) string {
	b, _ := json.Marshal(map[string][]string{"execution_order": steps})
	return string(b)
}

func TestName(t *testing.T) {
	o := New(&testutils.StubLLM{}, nil, nil)
	assert.Equal(t, "orchestrator", o.Name())
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o := New(&testutils.StubLLM{}, nil, nil)
	err := o.Run(ctx, newState("q"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun_FirstEntryPlansAndDispatches(t *testing.T) {
	planner := &testutils.StubLLM{Replies: []string{
		judgeJSON(false, false),
		planJSON("web_search", "simple_llm"),
		"latest Go releases this year",
	}}
	o := New(planner, &testutils.StubProviderSource{Provider: planner}, nil)
	state := newState("what's new in Go and explain it simply")

	require.NoError(t, o.Run(context.Background(), state))

	assert.Equal(t, []graph.Route{graph.RouteWebSearch, graph.RouteSimpleLLM}, state.Tasks())
	assert.Equal(t, graph.RouteWebSearch, state.Route())
	assert.Equal(t, "latest Go releases this year", state.ResolvedQuery())
	assert.Equal(t, 0, state.TaskIndex())

	calls := planner.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, llms.RoleSystem, calls[1][0].Role)
	assert.Contains(t, calls[1][0].Content, "execution_order")
	assert.Contains(t, calls[1][0].Content, state.UserQuery)
	assert.Equal(t, state.UserQuery, calls[1][1].Content)
}

func TestRun_RAGOnlyPlanKeepsUserQuery(t *testing.T) {
	planner := &testutils.StubLLM{Replies: []string{
		judgeJSON(true, true),
		planJSON("rag"),
	}}
	o := New(planner, &testutils.StubProviderSource{Provider: planner}, nil)
	state := newState("what does the contract say about termination")

	require.NoError(t, o.Run(context.Background(), state))

	assert.Equal(t, []graph.Route{graph.RouteRAG}, state.Tasks())
	assert.Equal(t, graph.RouteRAG, state.Route())
	assert.Equal(t, state.UserQuery, state.ResolvedQuery())
	assert.Len(t, planner.Calls(), 2)
}

func TestRun_DeepSearchBypassesPlanner(t *testing.T) {
	planner := &testutils.StubLLM{Replies: []string{judgeJSON(false, false)}}
	o := New(planner, &testutils.StubProviderSource{Provider: planner}, nil)
	state := newState("state of quantum error correction")
	state.DeepSearch = true

	require.NoError(t, o.Run(context.Background(), state))

	assert.Equal(t, []graph.Route{graph.RouteDeepResearch}, state.Tasks())
	assert.Equal(t, graph.RouteDeepResearch, state.Route())
	assert.Equal(t, state.UserQuery, state.ResolvedQuery())
	assert.Len(t, planner.Calls(), 1)
}

func TestRun_PlannerFailureFallsBackToSimpleLLM(t *testing.T) {
	planner := &testutils.StubLLM{Err: errors.New("rate limited")}
	o := New(planner, &testutils.StubProviderSource{Provider: planner}, nil)
	state := newState("hello there")

	require.NoError(t, o.Run(context.Background(), state))

	assert.Equal(t, []graph.Route{graph.RouteSimpleLLM}, state.Tasks())
	assert.Equal(t, graph.RouteSimpleLLM, state.Route())
	assert.Equal(t, "hello there", state.ResolvedQuery())
}

func TestRun_UnparseablePlanFallsBackToSimpleLLM(t *testing.T) {
	planner := &testutils.StubLLM{Replies: []string{
		judgeJSON(false, false),
		"I think you should use the web search node first.",
		"rewritten",
	}}
	o := New(planner, &testutils.StubProviderSource{Provider: planner}, nil)
	state := newState("what can you do")

	require.NoError(t, o.Run(context.Background(), state))

	assert.Equal(t, []graph.Route{graph.RouteSimpleLLM}, state.Tasks())
	assert.Equal(t, "rewritten", state.ResolvedQuery())
}

func TestRun_UnknownPlanStepsDropped(t *testing.T) {
	planner := &testutils.StubLLM{Replies: []string{
		judgeJSON(false, false),
		planJSON("teleport", "rag"),
	}}
	o := New(planner, &testutils.StubProviderSource{Provider: planner}, nil)
	state := newState("check the uploaded report")

	require.NoError(t, o.Run(context.Background(), state))

	assert.Equal(t, []graph.Route{graph.RouteRAG}, state.Tasks())
	assert.Equal(t, state.UserQuery, state.ResolvedQuery())
	assert.Len(t, planner.Calls(), 2)
}

func TestRun_NewUploadForcesRetrieval(t *testing.T) {
	planner := &testutils.StubLLM{Replies: []string{
		judgeJSON(false, true),
		planJSON("simple_llm"),
	}}
	o := New(planner, &testutils.StubProviderSource{Provider: planner}, nil)
	state := newState("what is this document about")
	state.NewUploads = []string{"chapter one text"}

	require.NoError(t, o.Run(context.Background(), state))

	assert.Equal(t, []graph.Route{graph.RouteRAG}, state.Tasks())
	assert.Equal(t, []string{"chapter one text"}, state.ActiveDocs)
	assert.Equal(t, state.UserQuery, state.ResolvedQuery())
}

func TestRun_UploadedDocFlagForcesRetrieval(t *testing.T) {
	planner := &testutils.StubLLM{Replies: []string{
		judgeJSON(false, true),
		planJSON("simple_llm"),
	}}
	o := New(planner, &testutils.StubProviderSource{Provider: planner}, nil)
	state := newState("summarize this")
	// The wire flag alone, with no upload latched this turn.
	state.UploadedDoc = true

	require.NoError(t, o.Run(context.Background(), state))

	assert.Equal(t, []graph.Route{graph.RouteRAG}, state.Tasks())
	assert.Empty(t, state.ActiveDocs)
	assert.Equal(t, state.UserQuery, state.ResolvedQuery())
}

func TestRun_NewUploadPrependsRetrievalToMultiStepPlan(t *testing.T) {
	planner := &testutils.StubLLM{Replies: []string{
		judgeJSON(false, true),
		planJSON("web_search", "simple_llm"),
		"first step query",
	}}
	o := New(planner, &testutils.StubProviderSource{Provider: planner}, nil)
	state := newState("compare the report with current market data")
	state.NewUploads = []string{"report text"}

	require.NoError(t, o.Run(context.Background(), state))

	assert.Equal(t,
		[]graph.Route{graph.RouteRAG, graph.RouteWebSearch, graph.RouteSimpleLLM},
		state.Tasks())
	assert.Equal(t, graph.RouteRAG, state.Route())
	assert.Equal(t, "first step query", state.ResolvedQuery())
}

func TestRun_SummarizesOldHistory(t *testing.T) {
	planner := &testutils.StubLLM{Replies: []string{
		"User asked about sci-fi books; assistant recommended three.",
		judgeJSON(true, false),
		planJSON("simple_llm"),
		"rewritten",
	}}
	o := New(planner, &testutils.StubProviderSource{Provider: planner}, nil)
	state := newState("summarize it")
	state.Messages = []llms.Message{
		llms.User("recommend sci-fi books"),
		llms.Assistant("Try Dune, Hyperion, and Blindsight."),
		llms.User("which is newest"),
		llms.Assistant("Blindsight (2006)."),
		llms.User("summarize it"),
	}

	require.NoError(t, o.Run(context.Background(), state))

	assert.Equal(t, "User asked about sci-fi books; assistant recommended three.", state.Summary())
	require.Len(t, state.Messages, 3)
	assert.Equal(t, "which is newest", state.Messages[0].Content)

	calls := planner.Calls()
	require.Len(t, calls, 4)
	assert.Equal(t, summarizerSystemPrompt, calls[0][0].Content)
	assert.Contains(t, calls[0][1].Content, "User: recommend sci-fi books")
	assert.Contains(t, calls[0][1].Content, "Assistant: Try Dune")
	assert.NotContains(t, calls[0][1].Content, "which is newest")
}

func TestRun_SummaryFailureStoresFallbackLine(t *testing.T) {
	planner := &testutils.StubLLM{Err: errors.New("provider down")}
	o := New(planner, &testutils.StubProviderSource{Provider: planner}, nil)
	state := newState("next question")
	state.Messages = []llms.Message{
		llms.User("one"), llms.Assistant("two"),
		llms.User("three"), llms.Assistant("four"),
		llms.User("next question"),
	}

	require.NoError(t, o.Run(context.Background(), state))

	assert.Equal(t, summaryFallback, state.Summary())
	assert.Len(t, state.Messages, 3)
	assert.Equal(t, []graph.Route{graph.RouteSimpleLLM}, state.Tasks())
}

func TestRun_ShortHistorySkipsSummarizer(t *testing.T) {
	planner := &testutils.StubLLM{Replies: []string{
		judgeJSON(false, false),
		planJSON("simple_llm"),
		"rewritten",
	}}
	o := New(planner, &testutils.StubProviderSource{Provider: planner}, nil)
	state := newState("hi")
	state.Messages = []llms.Message{llms.User("hi")}

	require.NoError(t, o.Run(context.Background(), state))

	assert.Empty(t, state.Summary())
	assert.Len(t, planner.Calls(), 3)
}

func TestRun_ReEntryAdvancesAndRewrites(t *testing.T) {
	planner := &testutils.StubLLM{Reply: "summarize the found books"}
	o := New(planner, &testutils.StubProviderSource{Provider: planner}, nil)
	state := newState("find books then summarize them")
	state.SetPlan([]graph.Route{graph.RouteWebSearch, graph.RouteSimpleLLM})
	state.SetResolvedQuery("find recent books")
	state.AppendIntermediate(string(graph.RouteWebSearch), "find recent books", "1. Dune 2. Hyperion", nil)
	state.SetResponse("1. Dune 2. Hyperion")

	require.NoError(t, o.Run(context.Background(), state))

	require.Len(t, state.Intermediates(), 1)
	assert.Equal(t, 1, state.TaskIndex())
	assert.Equal(t, graph.RouteSimpleLLM, state.Route())
	assert.Equal(t, "summarize the found books", state.ResolvedQuery())
	assert.Empty(t, state.Response())

	prompt := planner.LastCall()[0].Content
	assert.Contains(t, prompt, "1. Dune 2. Hyperion")
	assert.Contains(t, prompt, "'SimpleLLM'")
	assert.Contains(t, prompt, "Most Recent Result")
}

func TestRun_ReEntryAppendsUnrecordedLeafOutput(t *testing.T) {
	planner := &testutils.StubLLM{Reply: "next query"}
	o := New(planner, &testutils.StubProviderSource{Provider: planner}, nil)
	state := newState("two part question")
	state.SetPlan([]graph.Route{graph.RouteWebSearch, graph.RouteSimpleLLM})
	state.SetResolvedQuery("step query")
	state.SetResponse("orphan output")

	require.NoError(t, o.Run(context.Background(), state))

	require.Len(t, state.Intermediates(), 1)
	entry := state.Intermediates()[0]
	assert.Equal(t, string(graph.RouteWebSearch), entry.Node)
	assert.Equal(t, "step query", entry.Query)
	assert.Equal(t, "orphan output", entry.Output)
}

func TestRun_RewriteSeesOnlyMostRecentResult(t *testing.T) {
	planner := &testutils.StubLLM{Reply: "rewritten"}
	o := New(planner, &testutils.StubProviderSource{Provider: planner}, nil)
	state := newState("multi step question")
	state.SetPlan([]graph.Route{graph.RouteWebSearch, graph.RouteRAG, graph.RouteSimpleLLM})
	state.Advance()
	state.AppendIntermediate(string(graph.RouteWebSearch), "q1", "alpha findings", nil)
	state.AppendIntermediate(string(graph.RouteRAG), "q2", "beta findings", nil)
	state.SetResponse("beta findings")

	require.NoError(t, o.Run(context.Background(), state))

	prompt := planner.LastCall()[0].Content
	assert.Contains(t, prompt, "beta findings")
	assert.NotContains(t, prompt, "alpha findings")
}

func TestRun_ReEntryRewriteFailureFallsBackToUserQuery(t *testing.T) {
	planner := &testutils.StubLLM{Err: errors.New("provider down")}
	o := New(planner, &testutils.StubProviderSource{Provider: planner}, nil)
	state := newState("original question")
	state.SetPlan([]graph.Route{graph.RouteWebSearch, graph.RouteSimpleLLM})
	state.SetResolvedQuery("step one query")
	state.AppendIntermediate(string(graph.RouteWebSearch), "step one query", "found", nil)
	state.SetResponse("found")

	require.NoError(t, o.Run(context.Background(), state))

	assert.Equal(t, "original question", state.ResolvedQuery())
	assert.Equal(t, graph.RouteSimpleLLM, state.Route())
}

func TestRun_SingleStepTerminates(t *testing.T) {
	planner := &testutils.StubLLM{}
	o := New(planner, &testutils.StubProviderSource{Provider: planner}, nil)
	state := newState("just answer")
	state.SetPlan([]graph.Route{graph.RouteSimpleLLM})
	state.AppendIntermediate(string(graph.RouteSimpleLLM), "just answer", "the answer", nil)
	state.SetResponse("the answer")

	require.NoError(t, o.Run(context.Background(), state))

	assert.Equal(t, "the answer", state.FinalAnswer())
	assert.Equal(t, graph.RouteEnd, state.Route())
	assert.Equal(t, "the answer", state.Output())
	assert.Empty(t, planner.Calls())
}

func TestRun_SingleStepWithoutOutputDefaults(t *testing.T) {
	o := New(&testutils.StubLLM{}, nil, nil)
	state := newState("silent step")
	state.SetPlan([]graph.Route{graph.RouteSimpleLLM})

	require.NoError(t, o.Run(context.Background(), state))

	assert.Equal(t, completedFallback, state.FinalAnswer())
	assert.Equal(t, graph.RouteEnd, state.Route())
}

func TestRun_MultiStepConcatAssembly(t *testing.T) {
	planner := &testutils.StubLLM{}
	cfg := &config.EngineConfig{Combine: config.CombineConcat}
	o := New(planner, &testutils.StubProviderSource{Provider: planner}, cfg)
	state := newState("two part question")
	state.SetPlan([]graph.Route{graph.RouteWebSearch, graph.RouteSimpleLLM})
	state.Advance()
	state.AppendIntermediate(string(graph.RouteWebSearch), "q1", "web out", nil)
	state.AppendIntermediate(string(graph.RouteSimpleLLM), "q2", "llm out", nil)
	state.SetResponse("llm out")

	require.NoError(t, o.Run(context.Background(), state))

	assert.Equal(t, "**WebSearch Result:**\nweb out\n\n**SimpleLLM Result:**\nllm out",
		state.FinalAnswer())
	assert.Equal(t, graph.RouteEnd, state.Route())
	assert.Empty(t, planner.Calls())
}

func TestRun_AutoCombineSynthesizesAfterRetrieval(t *testing.T) {
	planner := &testutils.StubLLM{}
	synth := &testutils.StubLLM{Reply: "one cohesive answer"}
	o := New(planner, &testutils.StubProviderSource{Provider: synth}, nil)
	state := newState("what do my docs and general knowledge say")
	state.SetPlan([]graph.Route{graph.RouteRAG, graph.RouteSimpleLLM})
	state.Advance()
	state.AppendIntermediate(string(graph.RouteRAG), "q1", "doc facts", nil)
	state.AppendIntermediate(string(graph.RouteSimpleLLM), "q2", "general facts", nil)
	state.SetResponse("general facts")

	require.NoError(t, o.Run(context.Background(), state))

	assert.Equal(t, "one cohesive answer", state.FinalAnswer())

	prompt := synth.LastCall()[0].Content
	assert.Contains(t, prompt, "### Step 1: Result from Node 'RAG' ###")
	assert.Contains(t, prompt, "Query for this step: q1")
	assert.Contains(t, prompt, state.UserQuery)
}

func TestRun_AutoCombineConcatsWithoutRetrieval(t *testing.T) {
	synth := &testutils.StubLLM{Reply: "should not be used"}
	o := New(&testutils.StubLLM{}, &testutils.StubProviderSource{Provider: synth}, nil)
	state := newState("two part question")
	state.SetPlan([]graph.Route{graph.RouteWebSearch, graph.RouteSimpleLLM})
	state.Advance()
	state.AppendIntermediate(string(graph.RouteWebSearch), "q1", "web out", nil)
	state.AppendIntermediate(string(graph.RouteSimpleLLM), "q2", "llm out", nil)
	state.SetResponse("llm out")

	require.NoError(t, o.Run(context.Background(), state))

	assert.Equal(t, "**WebSearch Result:**\nweb out\n\n**SimpleLLM Result:**\nllm out",
		state.FinalAnswer())
	assert.Empty(t, synth.Calls())
}

func TestRun_SynthesisFailureFallsBackToConcat(t *testing.T) {
	cfg := &config.EngineConfig{Combine: config.CombineSynthesize}
	o := New(&testutils.StubLLM{}, &testutils.StubProviderSource{Err: errors.New("no provider")}, cfg)
	state := newState("two part question")
	state.SetPlan([]graph.Route{graph.RouteRAG, graph.RouteSimpleLLM})
	state.Advance()
	state.AppendIntermediate(string(graph.RouteRAG), "q1", "doc facts", nil)
	state.AppendIntermediate(string(graph.RouteSimpleLLM), "q2", "general facts", nil)
	state.SetResponse("general facts")

	require.NoError(t, o.Run(context.Background(), state))

	assert.Equal(t, "**RAG Result:**\ndoc facts\n\n**SimpleLLM Result:**\ngeneral facts",
		state.FinalAnswer())
}

func TestJudgeFollowUp_ParsesStrictJSON(t *testing.T) {
	planner := &testutils.StubLLM{
		Reply: "```json\n{\"is_followup\": true, \"should_use_rag\": true, \"confidence\": 0.83, \"rationale\": \"same books thread\"}\n```",
	}
	o := New(planner, nil, nil)
	state := newState("what about the second one")
	state.UserDocs = []string{"doc text"}

	v := o.judgeFollowUp(context.Background(), state)

	assert.True(t, v.IsFollowUp)
	assert.True(t, v.ShouldUseRAG)
	assert.InDelta(t, 0.83, v.Confidence, 1e-9)
	assert.Equal(t, "same books thread", v.Rationale)

	user := planner.LastCall()[1].Content
	assert.Contains(t, user, "Docs present: true | KB present: false")
	assert.Contains(t, user, "NEW user message: what about the second one")
}

func TestJudgeFollowUp_HeuristicFallback(t *testing.T) {
	planner := &testutils.StubLLM{Reply: "cannot help with that"}
	o := New(planner, nil, nil)

	state := newState("and the second one?")
	state.KBDocs = []string{"kb text"}
	v := o.judgeFollowUp(context.Background(), state)
	assert.True(t, v.IsFollowUp)
	assert.True(t, v.ShouldUseRAG)
	assert.InDelta(t, 0.4, v.Confidence, 1e-9)

	long := newState("please give me a very long and detailed explanation now")
	v = o.judgeFollowUp(context.Background(), long)
	assert.False(t, v.IsFollowUp)
	assert.False(t, v.ShouldUseRAG)
}
