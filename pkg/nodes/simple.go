// Package nodes holds the single-purpose graph leaves: plain LLM
// generation, image generation, and external tool invocation. Each leaf
// converts provider failures into a terminal "Error ..." response and
// records exactly one intermediate entry, so a failing step never aborts
// the surrounding plan.
package nodes

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/strandlabs/strand/pkg/graph"
	"github.com/strandlabs/strand/pkg/llms"
	"github.com/strandlabs/strand/pkg/stream"
)

// simpleSystemPrompt is the static prefix for plain generation. Session
// instructions and conversation context are appended after it.
const simpleSystemPrompt = "You are a helpful AI assistant."

// SimpleNode answers a query with a direct LLM call, streamed live. It is
// the planner's fallback when no specialized node applies.
type SimpleNode struct {
	registry llms.ProviderSource
	logger   *slog.Logger
}

// NewSimpleNode builds the plain generation node.
func NewSimpleNode(registry llms.ProviderSource) *SimpleNode {
	return &SimpleNode{registry: registry, logger: slog.Default()}
}

func (n *SimpleNode) Name() string { return string(graph.RouteSimpleLLM) }

// Run streams one generation. Provider failures degrade to a terminal
// error response; only sink failures abort the turn.
func (n *SimpleNode) Run(ctx context.Context, state *graph.State) error {
	query := state.Query()

	provider, err := n.registry.ForModel(state.Model)
	if err != nil {
		return n.finishError(ctx, state, query, err)
	}

	chunks, err := provider.GenerateStreaming(ctx, n.buildMessages(state), nil)
	if err != nil {
		return n.finishError(ctx, state, query, err)
	}

	writer := stream.NewWriter(state.Stream(), n.Name())
	var genErr error
	for chunk := range chunks {
		switch chunk.Type {
		case "text":
			if err := writer.Write(ctx, chunk.Text); err != nil {
				return fmt.Errorf("simplellm: stream write: %w", err)
			}
		case "error":
			genErr = chunk.Error
		}
	}
	if genErr != nil {
		return n.finishError(ctx, state, query, genErr)
	}
	if err := writer.Complete(ctx); err != nil {
		return fmt.Errorf("simplellm: stream complete: %w", err)
	}

	response := writer.Full()
	state.SetResponse(response)
	state.AppendIntermediate(n.Name(), query, response, nil)
	return nil
}

// buildMessages composes the system prompt from the static prefix, the
// session's custom instruction, the rolling summary, and the last two
// turns. The query rides alone in the user message.
func (n *SimpleNode) buildMessages(state *graph.State) []llms.Message {
	var sys strings.Builder
	sys.WriteString(simpleSystemPrompt)
	if state.Instruction != "" {
		sys.WriteString("\n\nCustom instructions:\n")
		sys.WriteString(state.Instruction)
	}
	if summary := state.Summary(); summary != "" {
		sys.WriteString("\n\nConversation summary:\n")
		sys.WriteString(summary)
	}
	if turns := state.RecentTurns(2); turns != "None" {
		sys.WriteString("\n\nRecent conversation:\n")
		sys.WriteString(turns)
	}
	return []llms.Message{
		llms.System(sys.String()),
		llms.User(state.Query()),
	}
}

func (n *SimpleNode) finishError(ctx context.Context, state *graph.State, query string, cause error) error {
	n.logger.Error("SimpleLLM generation failed", "session_id", state.SessionID, "error", cause)
	response := fmt.Sprintf("Error in SimpleLLM: %v", cause)
	if err := stream.WriteAll(ctx, state.Stream(), n.Name(), response); err != nil {
		return fmt.Errorf("simplellm: stream response: %w", err)
	}
	state.SetResponse(response)
	state.AppendIntermediate(n.Name(), query, response, nil)
	return nil
}

var _ graph.Node = (*SimpleNode)(nil)
