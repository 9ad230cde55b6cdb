package runtime

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/strandlabs/strand/pkg/config"
	"github.com/strandlabs/strand/pkg/extract"
	"github.com/strandlabs/strand/pkg/graph"
	"github.com/strandlabs/strand/pkg/llms"
	"github.com/strandlabs/strand/pkg/session"
	"github.com/strandlabs/strand/pkg/stream"
)

// ErrEmptyMessage is returned when a turn request carries no message text.
var ErrEmptyMessage = errors.New("runtime: message is required")

// TurnRequest describes one user message to run through the graph.
type TurnRequest struct {
	SessionID string
	Message   string

	// WebSearch forces web retrieval into consideration for this turn.
	WebSearch bool

	// RAG is accepted for wire compatibility. Document retrieval is
	// planned from the session's stored documents, not from this flag.
	RAG bool

	// DeepSearch replaces planning with the deep research pipeline.
	DeepSearch bool

	// UploadedDoc marks that the user attached a document with this
	// message. New uploads pending on the session imply it.
	UploadedDoc bool
}

// TurnResult is the outcome of a completed turn.
type TurnResult struct {
	SessionID string
	Answer    string
}

// Turn runs one user message through the graph. Frames stream to sink as
// nodes execute; the final answer is persisted into the session history.
// Concurrent turns on the same session serialize on the session's turn
// slot, blocking until the slot frees or ctx expires.
func (r *Runtime) Turn(ctx context.Context, req TurnRequest, sink stream.Sink) (*TurnResult, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, ErrEmptyMessage
	}
	if sink == nil {
		sink = stream.Discard{}
	}

	release, err := r.sessions.BeginTurn(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	got, err := r.sessions.Get(ctx, &session.GetRequest{SessionID: req.SessionID})
	if err != nil {
		return nil, err
	}
	snap := got.Session

	uploads, err := r.sessions.TakeNewUploads(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}

	if err := sink.Send(ctx, stream.StatusProgress("processing", "Starting processing...", "orchestrator", 0)); err != nil {
		return nil, fmt.Errorf("runtime: stream: %w", err)
	}

	turnCtx, cancel := context.WithTimeout(ctx, r.cfg.Engine.TurnTimeout.Duration())
	defer cancel()

	hybrid := r.hybridFor(snap.GPTConfig)
	r.prepareCollections(turnCtx, snap, len(uploads) > 0, hybrid)

	state := buildState(req, snap, uploads, sink, hybrid)

	if err := r.engine.Run(turnCtx, state); err != nil {
		r.logger.Error("Turn failed", "session_id", req.SessionID, "error", err)
		if serr := sink.Send(ctx, stream.Error(err.Error())); serr != nil {
			r.logger.Warn("Failed to stream turn error", "error", serr)
		}
		return nil, fmt.Errorf("runtime: turn: %w", err)
	}

	answer := state.Output()
	if answer == "" {
		if serr := sink.Send(ctx, stream.Error("No response generated from graph")); serr != nil {
			r.logger.Warn("Failed to stream turn error", "error", serr)
		}
		return nil, errors.New("runtime: no response generated")
	}

	// Combined or judged answers never streamed from a leaf, so they are
	// replayed under the orchestrator before the completion frame.
	if last, ok := state.LastIntermediate(); !ok || last.Output != answer {
		if err := stream.WriteAll(ctx, sink, string(graph.RouteOrchestrator), answer); err != nil {
			r.logger.Warn("Failed to stream final answer", "error", err)
		}
	}
	if err := sink.Send(ctx, stream.Content("", answer, true, "")); err != nil {
		r.logger.Warn("Failed to stream completion", "error", err)
	}

	r.persist(ctx, req.Message, snap.ID, answer, state)

	if err := sink.Send(ctx, stream.Done(snap.ID)); err != nil {
		r.logger.Warn("Failed to stream done frame", "error", err)
	}

	return &TurnResult{SessionID: snap.ID, Answer: answer}, nil
}

// persist writes the turn's outcome back to the session. Failures here do
// not fail the turn; the answer was already delivered.
func (r *Runtime) persist(ctx context.Context, message, sessionID, answer string, state *graph.State) {
	if err := r.sessions.AppendMessage(ctx, sessionID, llms.User(message)); err != nil {
		r.logger.Warn("Failed to persist user message",
			"session_id", sessionID, "error", err)
		return
	}
	if err := r.sessions.AppendMessage(ctx, sessionID, llms.Assistant(answer)); err != nil {
		r.logger.Warn("Failed to persist assistant message",
			"session_id", sessionID, "error", err)
	}
	if err := r.sessions.SetSummary(ctx, sessionID, state.Summary()); err != nil {
		r.logger.Warn("Failed to persist summary",
			"session_id", sessionID, "error", err)
	}
	if urls := state.ImageURLs(); len(urls) > 0 {
		if err := r.sessions.AddImageURLs(ctx, sessionID, urls...); err != nil {
			r.logger.Warn("Failed to persist image urls",
				"session_id", sessionID, "error", err)
		}
	}
}

// prepareCollections indexes the session's documents ahead of the graph
// run. Indexing failures degrade to warnings; the retrieval node reports
// missing collections in its own response.
func (r *Runtime) prepareCollections(ctx context.Context, snap *session.Snapshot, newUpload, hybrid bool) {
	if len(snap.UserDocs) > 0 {
		if _, err := r.cache.PreprocessUserDocs(ctx, snap.ID, documentTexts(snap.UserDocs), hybrid, newUpload); err != nil {
			r.logger.Warn("Failed to index user documents",
				"session_id", snap.ID, "error", err)
		}
	}
	if len(snap.KBDocs) > 0 {
		if _, err := r.cache.PreprocessKB(ctx, snap.ID, documentTexts(snap.KBDocs), hybrid); err != nil {
			r.logger.Warn("Failed to index knowledge base",
				"session_id", snap.ID, "error", err)
		}
	}
}

// buildState seeds the graph state for one turn from the session snapshot
// and the request toggles. GPT configuration toggles OR into the request's
// so either side can enable a capability.
func buildState(req TurnRequest, snap *session.Snapshot, uploads []extract.Document, sink stream.Sink, hybrid bool) *graph.State {
	messages := make([]llms.Message, 0, len(snap.Messages)+1)
	messages = append(messages, snap.Messages...)
	messages = append(messages, llms.User(req.Message))

	state := &graph.State{
		SessionID:        snap.ID,
		UserQuery:        req.Message,
		Messages:         messages,
		Sink:             sink,
		Hybrid:           hybrid,
		DeepSearch:       req.DeepSearch,
		WebSearchEnabled: req.WebSearch,
		UploadedDoc:      req.UploadedDoc || len(uploads) > 0,
		UserDocs:         documentTexts(snap.UserDocs),
		KBDocs:           documentTexts(snap.KBDocs),
		NewUploads:       documentTexts(uploads),
	}
	if gpt := snap.GPTConfig; gpt != nil {
		state.Model = gpt.Model
		state.Temperature = gpt.Temperature
		state.Instruction = gpt.Instruction
		state.WebSearchEnabled = state.WebSearchEnabled || gpt.WebSearch
		state.DeepSearch = state.DeepSearch || gpt.DeepSearch
	}
	state.SetSummary(snap.Summary)
	return state
}

// hybridFor resolves the retrieval mode: the session's GPT configuration
// when present, the server default otherwise.
func (r *Runtime) hybridFor(gpt *session.GPTConfig) bool {
	if gpt != nil {
		return gpt.HybridSearch
	}
	return config.BoolValue(r.cfg.Search.Hybrid, true)
}

func documentTexts(docs []extract.Document) []string {
	texts := make([]string, 0, len(docs))
	for _, doc := range docs {
		texts = append(texts, doc.Content)
	}
	return texts
}
