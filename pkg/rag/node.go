package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/strandlabs/strand/pkg/graph"
	"github.com/strandlabs/strand/pkg/llms"
	"github.com/strandlabs/strand/pkg/stream"
)

// topKPerSide is the retrieval depth per source. Six chunks per side keeps
// the assembled context under typical prompt budgets at chunk size 800.
const topKPerSide = 6

// ragSystemPrompt is the static system prefix. Kept stable so providers can
// cache it across turns.
const ragSystemPrompt = "You are a helpful AI assistant using retrieval.\n\nYou are a retrieval-augmented generation assistant."

// Node answers a query from session documents and the knowledge base. It
// classifies which sources apply, searches them in parallel, and streams an
// answer grounded in the selected chunks.
type Node struct {
	classifier *SourceClassifier
	index      *Index
	cache      *CacheManager
	registry   llms.ProviderSource
	logger     *slog.Logger
}

// NewNode builds the retrieval node.
func NewNode(classifier *SourceClassifier, index *Index, cache *CacheManager, registry llms.ProviderSource) *Node {
	return &Node{
		classifier: classifier,
		index:      index,
		cache:      cache,
		registry:   registry,
		logger:     slog.Default(),
	}
}

func (n *Node) Name() string { return string(graph.RouteRAG) }

// Run executes the retrieval flow for one step. The classifier and both
// searches run concurrently; a failed search counts as an empty side and
// never fails the turn. A provider failure degrades to a terminal error
// response so the plan can continue; only sink failures abort the turn.
func (n *Node) Run(ctx context.Context, state *graph.State) error {
	query := state.Query()
	sink := state.Stream()

	hasUserDocs := len(state.ActiveDocs) > 0
	hasKB := len(state.KBDocs) > 0

	_ = sink.Send(ctx, stream.StatusProgress("processing", "🧠 Analyzing query and searching sources in parallel...", n.Name(), 10))

	var (
		decision   SourceDecision
		userChunks []string
		kbChunks   []string
	)

	// Task failures are captured per side rather than propagated so one
	// failed search never cancels its siblings.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		decision = n.classifier.Classify(gctx, query, state.Instruction, hasUserDocs, hasKB)
		return nil
	})
	if hasUserDocs {
		g.Go(func() error {
			_ = sink.Send(gctx, stream.StatusProgress("processing", "🔍 Searching user documents...", n.Name(), 50))
			chunks, err := n.searchUserDocs(gctx, state.SessionID, query)
			if err != nil {
				n.logger.Warn("User document search failed", "session_id", state.SessionID, "error", err)
				return nil
			}
			userChunks = chunks
			return nil
		})
	}
	if hasKB {
		g.Go(func() error {
			_ = sink.Send(gctx, stream.StatusProgress("processing", "🔍 Searching knowledge base...", n.Name(), 70))
			chunks, err := n.searchKB(gctx, state.SessionID, query)
			if err != nil {
				n.logger.Warn("Knowledge base search failed", "session_id", state.SessionID, "error", err)
				return nil
			}
			kbChunks = chunks
			return nil
		})
	}
	_ = g.Wait()

	if !decision.UseUserDocs {
		userChunks = nil
	}
	if !decision.UseKB {
		kbChunks = nil
	}

	n.logger.Info("Retrieval gating applied",
		"session_id", state.SessionID,
		"strategy", decision.SearchStrategy,
		"user_chunks", len(userChunks),
		"kb_chunks", len(kbChunks),
	)

	_ = sink.Send(ctx, stream.StatusProgress("processing", "🔗 Combining information from sources...", n.Name(), 80))

	prompt := n.buildPrompt(state, query, decision, userChunks, kbChunks)
	messages := []llms.Message{
		llms.System(ragSystemPrompt),
		llms.User(prompt),
	}

	provider, err := n.registry.ForModel(state.Model)
	if err != nil {
		return n.finishDegraded(ctx, state, query, decision, userChunks, kbChunks, err)
	}

	_ = sink.Send(ctx, stream.StatusProgress("processing", "🤖 Generating response from retrieved information...", n.Name(), 90))

	chunks, err := provider.GenerateStreaming(ctx, messages, nil)
	if err != nil {
		return n.finishDegraded(ctx, state, query, decision, userChunks, kbChunks, err)
	}

	writer := stream.NewWriter(sink, n.Name())
	var genErr error
	for chunk := range chunks {
		switch chunk.Type {
		case "text":
			if err := writer.Write(ctx, chunk.Text); err != nil {
				return fmt.Errorf("rag: stream write: %w", err)
			}
		case "error":
			genErr = chunk.Error
		}
	}
	if genErr != nil {
		return n.finishDegraded(ctx, state, query, decision, userChunks, kbChunks, genErr)
	}
	if err := writer.Write(ctx, "\n\n"); err != nil {
		return fmt.Errorf("rag: stream write: %w", err)
	}
	if err := writer.Complete(ctx); err != nil {
		return fmt.Errorf("rag: stream complete: %w", err)
	}

	response := writer.Full()
	state.SetResponse(response)
	state.AppendIntermediate(n.Name(), query, response, n.sourcesMeta(decision, userChunks, kbChunks))

	_ = sink.Send(ctx, stream.StatusProgress("processing", "✅ RAG processing completed", n.Name(), 100))
	return nil
}

// finishDegraded turns a provider failure into a terminal response so the
// plan can continue. Only sink failures still abort.
func (n *Node) finishDegraded(ctx context.Context, state *graph.State, query string, decision SourceDecision, userChunks, kbChunks []string, cause error) error {
	n.logger.Error("RAG generation failed", "session_id", state.SessionID, "error", cause)
	response := fmt.Sprintf("Error in RAG: %v", cause)
	if err := stream.WriteAll(ctx, state.Stream(), n.Name(), response); err != nil {
		return fmt.Errorf("rag: stream write: %w", err)
	}
	state.SetResponse(response)
	state.AppendIntermediate(n.Name(), query, response, n.sourcesMeta(decision, userChunks, kbChunks))
	return nil
}

func (n *Node) sourcesMeta(decision SourceDecision, userChunks, kbChunks []string) map[string]any {
	return map[string]any{
		"strategy": decision.SearchStrategy,
		"sources_used": map[string]int{
			"user_docs": len(userChunks),
			"kb":        len(kbChunks),
		},
	}
}

// searchUserDocs retrieves from the session's user-document collection.
// Hybrid collections fuse by reciprocal rank; plain ones search dense only.
func (n *Node) searchUserDocs(ctx context.Context, sessionID, query string) ([]string, error) {
	collection := UserDocsCollection(sessionID)
	entry := n.cache.Entry(collection)
	if entry == nil {
		return nil, fmt.Errorf("user documents not preprocessed for session %s", sessionID)
	}
	if entry.Hybrid {
		return n.index.SearchHybrid(ctx, collection, query, topKPerSide, FusionRRF)
	}
	return n.index.SearchDense(ctx, collection, query, topKPerSide)
}

// searchKB retrieves from the session's knowledge-base collection. Hybrid
// collections intersect the rankings; plain ones still fuse by reciprocal
// rank since KB corpora tend to be larger and noisier.
func (n *Node) searchKB(ctx context.Context, sessionID, query string) ([]string, error) {
	collection := KBCollection(sessionID)
	entry := n.cache.Entry(collection)
	if entry == nil {
		return nil, fmt.Errorf("knowledge base not preprocessed for session %s", sessionID)
	}
	if entry.Hybrid {
		return n.index.SearchHybrid(ctx, collection, query, topKPerSide, FusionIntersection)
	}
	return n.index.SearchHybrid(ctx, collection, query, topKPerSide, FusionRRF)
}

// buildPrompt assembles the grounded generation prompt: routing decision,
// selected chunks labeled by source, restriction instructions, and
// conversation context.
func (n *Node) buildPrompt(state *graph.State, query string, decision SourceDecision, userChunks, kbChunks []string) string {
	parts := []string{""}
	parts = append(parts, fmt.Sprintf("\nUSER QUERY:\n%s", query))
	parts = append(parts, fmt.Sprintf("\nSOURCE ROUTING DECISION:\nStrategy: %s\nReasoning: %s", decision.SearchStrategy, decision.Reasoning))

	if len(userChunks) > 0 {
		parts = append(parts, fmt.Sprintf("\nUSER DOCUMENT CONTEXT:\n%s", strings.Join(userChunks, "\n")))
	}
	if len(kbChunks) > 0 {
		parts = append(parts, fmt.Sprintf("\nKNOWLEDGE BASE CONTEXT:\n%s", strings.Join(kbChunks, "\n")))
	}

	if len(userChunks) == 0 && len(kbChunks) == 0 {
		parts = append(parts, "\nNO RETRIEVAL CONTEXT: No relevant documents were found. Provide a helpful response based on general knowledge and conversation history.")
	} else if len(userChunks) == 0 && len(kbChunks) > 0 {
		parts = append(parts, "\nPARTIAL CONTEXT: Only knowledge base information is available. The user may need to upload documents for analysis.")
	}

	summary := state.Summary()
	if summary == "" {
		summary = "None"
	}
	parts = append(parts, fmt.Sprintf("CONVERSATION CONTEXT:\nSummary: %s\nLast Turns:\n%s", summary, state.RecentTurns(2)))

	contextSections := strings.Join(parts, "\n")

	instruction := state.Instruction
	if instruction == "" {
		instruction = "No custom instructions provided."
	}

	return fmt.Sprintf(`# CUSTOM GPT CONFIGURATION
%s

---
# ROUTING DECISION: %s
**CRITICAL: The system has decided to use: %s**
- use_user_docs: %t
- use_kb: %t

**STRICT INSTRUCTIONS:**
- ONLY use the context sections that match the routing decision above.
- DO NOT reference or use knowledge from sources that were NOT selected.
- If use_user_docs=True: Use ONLY user document context (ignore any KB knowledge).
- If use_kb=True: Use ONLY knowledge base context (ignore any user documents).
- If both=True: Integrate both sources appropriately.
- If neither=True: Use general knowledge and conversation history only.

**INTELLIGENT CONTEXT USAGE:**
Analyze the user query to determine how to use the conversation context:

**For NEW DOCUMENT ANALYSIS:**
- If the user is asking to "summarize", "analyze", "review", "check", or "examine" a document
- AND this appears to be a new document upload (not a follow-up)
- THEN: Focus ONLY on the current document content
- IGNORE conversation summary and previous context to avoid cross-checking with KB
- Provide a pure, clean analysis of just the current document

**For FOLLOW-UP QUERIES:**
- If the user is asking for "more details", "tell me more", "what else", "explain further"
- OR using pronouns like "it", "this", "that", "him", "her", "they"
- OR asking continuation questions like "and", "also", "additionally"
- THEN: Use conversation summary and recent messages to provide context
- Build upon previous information appropriately

**For STANDARD QUERIES:**
- If the query is self-contained and doesn't reference previous context
- THEN: Use minimal conversation context, focus on the current query
- Only reference previous conversation if directly relevant

**Output Formatting:**
- For summaries: Use clear paragraphs with key points highlighted. Give detailed summary only.
- For searches: Present findings with specific references.
- For comparisons: Use structured comparison format (tables if useful).
- For analysis: Provide detailed breakdown with clear sections.
- Always avoid meta-commentary about sources unless asked.

---
# CONTEXT SECTIONS
%s`,
		instruction,
		strings.ToUpper(decision.SearchStrategy),
		decision.SearchStrategy,
		decision.UseUserDocs,
		decision.UseKB,
		contextSections,
	)
}

var _ graph.Node = (*Node)(nil)
