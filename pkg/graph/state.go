// Package graph runs one user turn through a registry of nodes connected by
// fixed and route-driven edges. A single mutable State envelope is threaded
// through every node; routing reads a typed route field written by the
// orchestrator and the research subgraph.
package graph

import (
	"strings"

	"github.com/strandlabs/strand/pkg/llms"
	"github.com/strandlabs/strand/pkg/stream"
)

// Route names a graph node or the terminal END marker. The set is closed:
// planner output is normalized onto these values before dispatch.
type Route string

const (
	RouteOrchestrator Route = "orchestrator"
	RouteRAG          Route = "RAG"
	RouteWebSearch    Route = "WebSearch"
	RouteSimpleLLM    Route = "SimpleLLM"
	RouteDeepResearch Route = "deepResearch"
	RouteImage        Route = "Image"
	RouteTool         Route = "Tool"
	RouteEnd          Route = "END"
)

// IntermediateResult records one completed plan step.
type IntermediateResult struct {
	Node     string         `json:"node"`
	Query    string         `json:"query"`
	Output   string         `json:"output"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// State is the per-turn envelope threaded through all nodes.
//
// Inputs (user query, toggles, documents, history) are plain fields set
// once before Run. Fields the execution loop depends on (plan, route,
// response, intermediates, final answer) mutate only through the setters
// below so their invariants hold: task_index stays in [0,len(tasks)),
// current task mirrors tasks[task_index], and exactly one of response or
// final answer is consumed at termination.
type State struct {
	// SessionID identifies the owning session.
	SessionID string

	// UserQuery is the raw text of the user's turn.
	UserQuery string

	// Model is the chat model for this turn (session GPT config).
	Model string

	// Temperature for generation, when the session GPT config sets one.
	Temperature *float64

	// Instruction is the session's custom system instruction.
	Instruction string

	// Feature toggles for this turn.
	Hybrid           bool
	DeepSearch       bool
	WebSearchEnabled bool
	UploadedDoc      bool

	// UserDocs and KBDocs are extracted document texts from the session.
	UserDocs []string
	KBDocs   []string

	// NewUploads holds texts uploaded since the previous turn; the
	// orchestrator latches them into ActiveDocs on first entry.
	NewUploads []string

	// ActiveDocs are the texts retrieval currently works against.
	ActiveDocs []string

	// Messages is the normalized chat history including the current turn.
	Messages []llms.Message

	// Sink receives streaming frames for this turn.
	Sink stream.Sink

	summary       string
	route         Route
	tasks         []Route
	taskIndex     int
	resolvedQuery string
	response      string
	intermediate  []IntermediateResult
	finalAnswer   string
	imageURLs     []string
}

// Route returns the current routing decision.
func (s *State) Route() Route {
	return s.route
}

// SetRoute records the next node to dispatch to.
func (s *State) SetRoute(r Route) {
	s.route = r
}

// SetPlan installs the task plan and resets the cursor to the first step.
func (s *State) SetPlan(tasks []Route) {
	s.tasks = tasks
	s.taskIndex = 0
}

// Tasks returns the plan.
func (s *State) Tasks() []Route {
	return s.tasks
}

// TaskIndex returns the plan cursor.
func (s *State) TaskIndex() int {
	return s.taskIndex
}

// CurrentTask returns tasks[task_index], or END when the plan is empty
// or exhausted.
func (s *State) CurrentTask() Route {
	if s.taskIndex < 0 || s.taskIndex >= len(s.tasks) {
		return RouteEnd
	}
	return s.tasks[s.taskIndex]
}

// Advance moves the cursor to the next step. Returns false when the plan
// is exhausted, leaving the cursor past the last step.
func (s *State) Advance() bool {
	if s.taskIndex+1 >= len(s.tasks) {
		s.taskIndex = len(s.tasks)
		return false
	}
	s.taskIndex++
	return true
}

// SetResolvedQuery records the rewritten query for the current step.
func (s *State) SetResolvedQuery(q string) {
	s.resolvedQuery = q
}

// ResolvedQuery returns the query the current leaf should answer.
func (s *State) ResolvedQuery() string {
	return s.resolvedQuery
}

// Query returns the query the current leaf should answer: the rewritten
// step query when one is set, otherwise the raw user query.
func (s *State) Query() string {
	if s.resolvedQuery != "" {
		return s.resolvedQuery
	}
	return s.UserQuery
}

// Stream returns the turn's sink, or a discarding sink when none is wired.
func (s *State) Stream() stream.Sink {
	if s.Sink == nil {
		return stream.Discard{}
	}
	return s.Sink
}

// RecentTurns renders the last n history messages as "User:"/"Assistant:"
// lines for prompt context. Returns "None" when history is empty.
func (s *State) RecentTurns(n int) string {
	var turns []string
	for _, m := range s.Messages {
		if m.Content == "" {
			continue
		}
		speaker := "Assistant"
		if m.Role == llms.RoleUser {
			speaker = "User"
		}
		turns = append(turns, speaker+": "+m.Content)
	}
	if len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	if len(turns) == 0 {
		return "None"
	}
	return strings.Join(turns, "\n")
}

// SetResponse records a leaf node's output for orchestrator pickup.
func (s *State) SetResponse(r string) {
	s.response = r
}

// Response returns the pending leaf output.
func (s *State) Response() string {
	return s.response
}

// ClearResponse empties the pending leaf output after it has been
// collected into the intermediates.
func (s *State) ClearResponse() {
	s.response = ""
}

// AppendIntermediate records one completed plan step.
func (s *State) AppendIntermediate(node, query, output string, metadata map[string]any) {
	s.intermediate = append(s.intermediate, IntermediateResult{
		Node:     node,
		Query:    query,
		Output:   output,
		Metadata: metadata,
	})
}

// Intermediates returns the completed steps in order.
func (s *State) Intermediates() []IntermediateResult {
	return s.intermediate
}

// LastIntermediate returns the most recent completed step.
func (s *State) LastIntermediate() (IntermediateResult, bool) {
	if len(s.intermediate) == 0 {
		return IntermediateResult{}, false
	}
	return s.intermediate[len(s.intermediate)-1], true
}

// SetFinalAnswer records the turn's final answer.
func (s *State) SetFinalAnswer(a string) {
	s.finalAnswer = a
}

// FinalAnswer returns the turn's final answer once set.
func (s *State) FinalAnswer() string {
	return s.finalAnswer
}

// AddImageURL records a generated image so the runtime can persist it to
// the session after the turn.
func (s *State) AddImageURL(url string) {
	s.imageURLs = append(s.imageURLs, url)
}

// ImageURLs returns the images generated during this turn.
func (s *State) ImageURLs() []string {
	return s.imageURLs
}

// SetSummary stores the rolling conversation summary.
func (s *State) SetSummary(summary string) {
	s.summary = summary
}

// Summary returns the rolling conversation summary.
func (s *State) Summary() string {
	return s.summary
}

// Output returns the text the turn produced: the final answer when set,
// otherwise the last leaf response.
func (s *State) Output() string {
	if s.finalAnswer != "" {
		return s.finalAnswer
	}
	return s.response
}
