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

// toolSystemPrompt frames the tool-selection call.
const toolSystemPrompt = "You are a helpful assistant with access to various tools. Use the available tools to help the user with their request."

// ToolRunner is the external tool runtime the Tool node dispatches to.
// Implementations connect configured MCP servers and execute calls
// against them.
type ToolRunner interface {
	// Connected reports whether any tool server is reachable.
	Connected() bool

	// Definitions lists the tools exposed to the model.
	Definitions() []llms.ToolDefinition

	// Execute runs one tool call and returns its textual result.
	Execute(ctx context.Context, call llms.ToolCall) (string, error)
}

// ToolNode asks an LLM to pick from the connected external tools, executes
// the returned calls, and reports the results. One round only: tool
// outputs are not fed back for another model pass.
type ToolNode struct {
	runner   ToolRunner
	registry llms.ProviderSource
	logger   *slog.Logger
}

// NewToolNode builds the tool node. A nil runner is allowed; the node then
// reports that no tools are connected.
func NewToolNode(runner ToolRunner, registry llms.ProviderSource) *ToolNode {
	return &ToolNode{runner: runner, registry: registry, logger: slog.Default()}
}

func (n *ToolNode) Name() string { return string(graph.RouteTool) }

// Run performs one tool round for the step query. Missing connections and
// empty tool sets produce canonical messages; provider and execution
// failures degrade to a terminal error response.
func (n *ToolNode) Run(ctx context.Context, state *graph.State) error {
	query := state.Query()

	if n.runner == nil || !n.runner.Connected() {
		return n.finish(ctx, state, query, "No MCP tools are connected to this GPT.")
	}
	defs := n.runner.Definitions()
	if len(defs) == 0 {
		return n.finish(ctx, state, query, "Connected MCP tools are not properly configured.")
	}

	_ = state.Stream().Send(ctx, stream.StatusProgress("processing",
		fmt.Sprintf("🔧 Working with %d connected tools...", len(defs)), n.Name(), 30))

	provider, err := n.registry.ForModel(state.Model)
	if err != nil {
		return n.finishError(ctx, state, query, err)
	}

	text, calls, _, err := provider.Generate(ctx, []llms.Message{
		llms.System(toolSystemPrompt),
		llms.User(query),
	}, defs)
	if err != nil {
		return n.finishError(ctx, state, query, err)
	}

	result := text
	if len(calls) > 0 {
		outputs := make([]string, 0, len(calls))
		for _, call := range calls {
			n.logger.Info("Executing tool call",
				"session_id", state.SessionID, "tool", call.Name)
			out, err := n.runner.Execute(ctx, call)
			if err != nil {
				return n.finishError(ctx, state, query, err)
			}
			outputs = append(outputs, out)
		}
		result = strings.Join(outputs, "\n\n")
	}

	return n.finish(ctx, state, query, result)
}

// finish streams the terminal response and records the step.
func (n *ToolNode) finish(ctx context.Context, state *graph.State, query, response string) error {
	if err := stream.WriteAll(ctx, state.Stream(), n.Name(), response); err != nil {
		return fmt.Errorf("tool: stream response: %w", err)
	}
	state.SetResponse(response)
	state.AppendIntermediate(n.Name(), query, response, nil)
	return nil
}

func (n *ToolNode) finishError(ctx context.Context, state *graph.State, query string, cause error) error {
	n.logger.Error("Tool execution failed", "session_id", state.SessionID, "error", cause)
	return n.finish(ctx, state, query, fmt.Sprintf("Error executing MCP action: %v", cause))
}

var _ graph.Node = (*ToolNode)(nil)
