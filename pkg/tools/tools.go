// Package tools connects the engine to external tool servers over MCP.
//
// Servers are declared in configuration (stdio subprocess or streamable
// HTTP); the registry connects them, aggregates their tools, and executes
// tool calls on behalf of the Tool graph node. A server that fails to
// connect is skipped with a warning so one dead integration never blocks
// startup.
package tools

import (
	"context"

	"github.com/strandlabs/strand/pkg/llms"
)

// Tool is one callable external tool.
type Tool interface {
	// Definition describes the tool to the model.
	Definition() llms.ToolDefinition

	// Call executes the tool and returns its textual result.
	Call(ctx context.Context, args map[string]any) (string, error)
}

// Source exposes the tools of one connected server.
type Source interface {
	// Name identifies the server this source talks to.
	Name() string

	// Connect establishes the connection and discovers tools.
	Connect(ctx context.Context) error

	// Tools returns the discovered tools. Empty until Connect succeeds.
	Tools() []Tool

	// Close releases the connection.
	Close() error
}
