// Package orchestrator is the graph's entry node and dispatcher. On first
// entry for a turn it compresses old history, latches new uploads, plans an
// execution order with a fast model, and dispatches the first step. On every
// re-entry it folds the completed leaf's output into the intermediate log and
// either rewrites the query for the next step or assembles the final answer.
//
// Internal model calls degrade, never abort: a failed planner falls back to
// a single SimpleLLM step, a failed rewrite falls back to the raw user query,
// a failed summary falls back to a canned line, and a failed synthesis falls
// back to concatenation.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/strandlabs/strand/pkg/config"
	"github.com/strandlabs/strand/pkg/graph"
	"github.com/strandlabs/strand/pkg/llms"
)

// completedFallback is the final answer when a plan finishes without any
// step producing output.
const completedFallback = "Task completed."

// Orchestrator plans and drives one user turn.
type Orchestrator struct {
	planner   llms.Provider
	providers llms.ProviderSource
	cfg       config.EngineConfig
	logger    *slog.Logger
}

// New builds the orchestrator node. planner serves the cheap internal calls
// (planning, rewriting, judging, summarizing); providers resolves the
// session's chat model for answer synthesis. A nil cfg uses the defaults.
func New(planner llms.Provider, providers llms.ProviderSource, cfg *config.EngineConfig) *Orchestrator {
	var resolved config.EngineConfig
	if cfg != nil {
		resolved = *cfg
	}
	resolved.SetDefaults()
	return &Orchestrator{
		planner:   planner,
		providers: providers,
		cfg:       resolved,
		logger:    slog.Default(),
	}
}

func (o *Orchestrator) Name() string { return string(graph.RouteOrchestrator) }

// Run dispatches on whether a plan exists yet: an empty task list means the
// turn's first entry, anything else is a re-entry after a leaf completed.
func (o *Orchestrator) Run(ctx context.Context, state *graph.State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(state.Tasks()) == 0 {
		return o.firstEntry(ctx, state)
	}
	return o.reEntry(ctx, state)
}

func (o *Orchestrator) firstEntry(ctx context.Context, state *graph.State) error {
	o.summarize(ctx, state)

	if len(state.NewUploads) > 0 {
		state.ActiveDocs = state.NewUploads
	}

	verdict := o.judgeFollowUp(ctx, state)
	o.logger.Info("Follow-up judge verdict",
		"session_id", state.SessionID,
		"is_followup", verdict.IsFollowUp,
		"should_use_rag", verdict.ShouldUseRAG,
		"confidence", verdict.Confidence,
		"rationale", verdict.Rationale)

	plan := o.buildPlan(ctx, state)
	state.SetPlan(plan)

	// A lone retrieval step and the research subgraph both work the raw
	// query; everything else gets a first-step rewrite.
	resolved := state.UserQuery
	skipRewrite := state.DeepSearch || (len(plan) == 1 && plan[0] == graph.RouteRAG)
	if !skipRewrite {
		resolved = o.rewriteQuery(ctx, state)
	}
	state.SetResolvedQuery(resolved)
	state.SetRoute(plan[0])

	o.logger.Info("Plan ready",
		"session_id", state.SessionID, "plan", plan, "route", plan[0])
	return nil
}

func (o *Orchestrator) reEntry(ctx context.Context, state *graph.State) error {
	// Leaves append their own intermediate entry; the append here only
	// covers a leaf that left a response without recording it.
	completed := state.CurrentTask()
	response := state.Response()
	if response != "" {
		if last, ok := state.LastIntermediate(); !ok || last.Output != response {
			state.AppendIntermediate(string(completed), state.Query(), response, nil)
		}
	}
	state.ClearResponse()

	if state.Advance() {
		next := state.CurrentTask()
		state.SetResolvedQuery(o.rewriteQuery(ctx, state))
		state.SetRoute(next)
		o.logger.Info("Advancing plan",
			"session_id", state.SessionID,
			"step", state.TaskIndex()+1,
			"of", len(state.Tasks()),
			"route", next)
		return nil
	}
	return o.terminate(ctx, state, response)
}

// terminate assembles the final answer and ends the turn. response is the
// leaf output captured before the intermediate log was reconciled, kept for
// the single-step case where nothing was appended.
func (o *Orchestrator) terminate(ctx context.Context, state *graph.State, response string) error {
	var final string
	switch {
	case len(state.Tasks()) > 1:
		final = o.combine(ctx, state)
	default:
		if last, ok := state.LastIntermediate(); ok {
			final = last.Output
		} else if response != "" {
			final = response
		} else {
			final = completedFallback
		}
	}
	state.SetFinalAnswer(final)
	state.SetRoute(graph.RouteEnd)

	o.logger.Info("Turn complete",
		"session_id", state.SessionID, "steps", len(state.Intermediates()))
	return nil
}

// buildPlan decides the turn's execution order. The deep-search toggle
// bypasses the planner entirely; otherwise the analyzer's plan is adjusted
// for fresh uploads and defaulted to a single SimpleLLM step when empty.
func (o *Orchestrator) buildPlan(ctx context.Context, state *graph.State) []graph.Route {
	if state.DeepSearch {
		return []graph.Route{graph.RouteDeepResearch}
	}
	plan := o.analyzeQuery(ctx, state)
	plan = applyUploadPolicy(plan, state.UploadedDoc || len(state.NewUploads) > 0)
	if len(plan) == 0 {
		plan = []graph.Route{graph.RouteSimpleLLM}
	}
	return plan
}

// analyzeQuery asks the planner model for an execution order and normalizes
// the reply onto the route enum. Unknown names are dropped; any failure
// returns nil and the caller falls back.
func (o *Orchestrator) analyzeQuery(ctx context.Context, state *graph.State) []graph.Route {
	text, err := o.generate(ctx, []llms.Message{
		llms.System(plannerPrompt(state.UserQuery)),
		llms.User(state.UserQuery),
	})
	if err != nil {
		o.logger.Warn("Query analysis failed",
			"session_id", state.SessionID, "error", err)
		return nil
	}

	steps := parseExecutionOrder(text)
	plan := make([]graph.Route, 0, len(steps))
	for _, step := range steps {
		route, ok := normalizeRoute(step)
		if !ok {
			o.logger.Warn("Dropping unknown plan step",
				"session_id", state.SessionID, "step", step)
			continue
		}
		if route == graph.RouteEnd {
			continue
		}
		plan = append(plan, route)
	}
	return plan
}

// rewriteQuery turns the original goal into a self-contained query for the
// current step. The first step sees only the goal and the plan; later steps
// also see the most recent intermediate result so facts carry forward. On
// failure the raw user query stands in.
func (o *Orchestrator) rewriteQuery(ctx context.Context, state *graph.State) string {
	task := state.CurrentTask()
	var prompt string
	if last, ok := state.LastIntermediate(); ok {
		prompt = nextStepRewritePrompt(state.UserQuery, state.Tasks(), task, last)
	} else {
		prompt = firstStepRewritePrompt(state.UserQuery, state.Tasks(), task)
	}

	text, err := o.generate(ctx, []llms.Message{llms.User(prompt)})
	if err != nil || text == "" {
		if err != nil {
			o.logger.Warn("Query rewrite failed",
				"session_id", state.SessionID, "error", err)
		}
		return state.UserQuery
	}
	return text
}

// summarize compresses history older than keep_last into the rolling
// summary and trims the in-state history to the tail. A failed model call
// still trims, storing a canned summary line instead.
func (o *Orchestrator) summarize(ctx context.Context, state *graph.State) {
	keep := o.cfg.KeepLast
	if len(state.Messages) <= keep {
		return
	}
	older := state.Messages[:len(state.Messages)-keep]
	tail := state.Messages[len(state.Messages)-keep:]

	summary, err := o.generate(ctx, []llms.Message{
		llms.System(summarizerSystemPrompt),
		llms.User(summaryRequestPrompt(renderTranscript(older))),
	})
	if err != nil || summary == "" {
		o.logger.Warn("History summarization failed",
			"session_id", state.SessionID, "error", err)
		summary = summaryFallback
	}
	state.SetSummary(summary)
	state.Messages = tail

	o.logger.Info("Summarized history",
		"session_id", state.SessionID, "dropped", len(older), "kept", keep)
}

// followUpVerdict is the judge's advisory read on the new message. It is
// logged for routing diagnostics and never overrides the plan.
type followUpVerdict struct {
	IsFollowUp   bool    `json:"is_followup"`
	ShouldUseRAG bool    `json:"should_use_rag"`
	Confidence   float64 `json:"confidence"`
	Rationale    string  `json:"rationale"`
}

func (o *Orchestrator) judgeFollowUp(ctx context.Context, state *graph.State) followUpVerdict {
	docsPresent := state.UploadedDoc || len(state.ActiveDocs) > 0 || len(state.UserDocs) > 0
	kbPresent := len(state.KBDocs) > 0

	text, err := o.generate(ctx, []llms.Message{
		llms.System(judgeSystemPrompt),
		llms.User(judgeRequestPrompt(docsPresent, kbPresent,
			state.RecentTurns(judgeHistoryTurns), state.UserQuery)),
	})
	if err == nil {
		if raw := firstJSONObject(text); raw != "" {
			var v followUpVerdict
			if json.Unmarshal([]byte(raw), &v) == nil {
				return v
			}
		}
	}

	short := len(strings.Fields(state.UserQuery)) < 8
	sources := docsPresent || kbPresent
	return followUpVerdict{
		IsFollowUp:   short && sources,
		ShouldUseRAG: sources,
		Confidence:   0.4,
		Rationale:    "Fallback heuristic because the judge did not return valid JSON.",
	}
}

// generate runs one planner-model call and trims the reply.
func (o *Orchestrator) generate(ctx context.Context, messages []llms.Message) (string, error) {
	if o.planner == nil {
		return "", errors.New("orchestrator: planner provider not configured")
	}
	text, _, _, err := o.planner.Generate(ctx, messages, nil)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

var _ graph.Node = (*Orchestrator)(nil)
