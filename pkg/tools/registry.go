package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/strandlabs/strand/pkg/config"
	"github.com/strandlabs/strand/pkg/llms"
)

// Registry aggregates the tools of every connected source and executes
// tool calls by name. It backs the Tool graph node.
type Registry struct {
	mu        sync.RWMutex
	sources   []Source
	byName    map[string]Tool
	ordered   []string
	connected int
	logger    *slog.Logger
}

// NewRegistry builds a registry with MCP sources for every enabled server
// in the configuration. Servers are added in name order so tool listings
// stay deterministic.
func NewRegistry(cfg *config.ToolsConfig) *Registry {
	r := &Registry{
		byName: make(map[string]Tool),
		logger: slog.Default(),
	}
	if cfg == nil {
		return r
	}

	names := make([]string, 0, len(cfg.Servers))
	for name := range cfg.Servers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		server := cfg.Servers[name]
		if server == nil || !config.BoolValue(server.Enabled, true) {
			continue
		}
		r.AddSource(NewMCPSource(name, server))
	}
	return r
}

// AddSource registers a source. Call before Connect.
func (r *Registry) AddSource(src Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources = append(r.sources, src)
}

// Connect connects every source and indexes its tools. A source that
// fails to connect is skipped with a warning; the registry is usable as
// long as any source came up.
func (r *Registry) Connect(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, src := range r.sources {
		if err := src.Connect(ctx); err != nil {
			r.logger.Warn("Tool server connection failed, skipping",
				"server", src.Name(), "error", err)
			continue
		}
		r.connected++
		for _, t := range src.Tools() {
			name := t.Definition().Name
			if _, exists := r.byName[name]; exists {
				r.logger.Warn("Duplicate tool name, keeping first registration",
					"tool", name, "server", src.Name())
				continue
			}
			r.byName[name] = t
			r.ordered = append(r.ordered, name)
		}
	}

	r.logger.Info("Tool registry ready",
		"servers_connected", r.connected, "tools", len(r.ordered))
}

// Connected reports whether any tool server came up.
func (r *Registry) Connected() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.connected > 0
}

// Definitions lists every registered tool in registration order.
func (r *Registry) Definitions() []llms.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]llms.ToolDefinition, 0, len(r.ordered))
	for _, name := range r.ordered {
		defs = append(defs, r.byName[name].Definition())
	}
	return defs
}

// Execute runs one tool call.
func (r *Registry) Execute(ctx context.Context, call llms.ToolCall) (string, error) {
	r.mu.RLock()
	t, ok := r.byName[call.Name]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("tools: %q is not a connected tool", call.Name)
	}

	r.logger.Debug("Executing tool", "tool", call.Name)
	return t.Call(ctx, call.Arguments)
}

// Close closes every source.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for _, src := range r.sources {
		if err := src.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", src.Name(), err))
		}
	}
	r.connected = 0
	r.byName = make(map[string]Tool)
	r.ordered = nil
	return errors.Join(errs...)
}
