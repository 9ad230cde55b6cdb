package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/strandlabs/strand/pkg/observability"
)

// ErrMaxSteps aborts a turn whose edge traversals exceeded the ceiling.
var ErrMaxSteps = errors.New("graph: max steps exceeded")

// Node is one executable unit. Run mutates state in place and returns an
// error only for cancellation or internal faults; provider failures become
// user-facing response text instead.
type Node interface {
	// Name identifies the node in logs, spans, and stream frames.
	Name() string

	// Run executes the node against the turn state.
	Run(ctx context.Context, state *State) error
}

// NodeFunc adapts a function to the Node interface.
type NodeFunc struct {
	NodeName string
	Fn       func(ctx context.Context, state *State) error
}

func (n NodeFunc) Name() string { return n.NodeName }

func (n NodeFunc) Run(ctx context.Context, state *State) error {
	return n.Fn(ctx, state)
}

// Engine dispatches a turn across registered nodes until a node routes to
// END, the step ceiling trips, or the context is cancelled.
//
// Two edge kinds exist. A fixed edge sends control from one node straight
// to another. A conditional edge reads the state's route field, letting the
// orchestrator and the research router choose the next node at runtime.
type Engine struct {
	nodes       map[Route]Node
	fixed       map[Route]Route
	conditional map[Route]bool
	entry       Route
	maxSteps    int
	logger      *slog.Logger
}

// New creates an empty engine with the given traversal ceiling.
func New(maxSteps int) *Engine {
	if maxSteps < 1 {
		maxSteps = 32
	}
	return &Engine{
		nodes:       make(map[Route]Node),
		fixed:       make(map[Route]Route),
		conditional: make(map[Route]bool),
		maxSteps:    maxSteps,
		logger:      slog.Default(),
	}
}

// AddNode registers a node under its route.
func (e *Engine) AddNode(route Route, node Node) error {
	if node == nil {
		return fmt.Errorf("graph: nil node for route %q", route)
	}
	if _, exists := e.nodes[route]; exists {
		return fmt.Errorf("graph: route %q already registered", route)
	}
	e.nodes[route] = node
	return nil
}

// AddEdge wires a fixed transition from one node to another.
func (e *Engine) AddEdge(from, to Route) {
	e.fixed[from] = to
}

// AddConditionalEdges makes transitions out of from follow the state's
// route field.
func (e *Engine) AddConditionalEdges(from Route) {
	e.conditional[from] = true
}

// SetEntry sets the node the turn enters at.
func (e *Engine) SetEntry(route Route) {
	e.entry = route
}

// Run executes one turn. It returns nil on normal END termination,
// ctx.Err() on cancellation, ErrMaxSteps on a runaway plan, and the node's
// error on an internal fault.
func (e *Engine) Run(ctx context.Context, state *State) error {
	current := e.entry
	if _, ok := e.nodes[current]; !ok {
		return fmt.Errorf("graph: entry node %q not registered", current)
	}

	for step := 0; ; step++ {
		if step >= e.maxSteps {
			e.logger.Error("Turn aborted: step ceiling reached",
				"session_id", state.SessionID, "max_steps", e.maxSteps)
			return ErrMaxSteps
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		node, ok := e.nodes[current]
		if !ok {
			return fmt.Errorf("graph: route %q not registered", current)
		}

		if err := e.runNode(ctx, node, state); err != nil {
			return err
		}

		next, err := e.next(current, state)
		if err != nil {
			return err
		}
		if next == RouteEnd {
			return nil
		}
		current = next
	}
}

// next resolves the outgoing edge of the node that just ran.
func (e *Engine) next(current Route, state *State) (Route, error) {
	if e.conditional[current] {
		next := state.Route()
		if next == "" {
			return "", fmt.Errorf("graph: node %q set no route", current)
		}
		return next, nil
	}
	if to, ok := e.fixed[current]; ok {
		return to, nil
	}
	return "", fmt.Errorf("graph: node %q has no outgoing edge", current)
}

func (e *Engine) runNode(ctx context.Context, node Node, state *State) error {
	tracer := observability.GetTracer("strand.graph")
	ctx, span := tracer.Start(ctx, observability.SpanNodeExecution,
		trace.WithAttributes(
			attribute.String(observability.AttrNodeName, node.Name()),
			attribute.String(observability.AttrSessionID, state.SessionID),
		),
	)
	defer span.End()

	start := time.Now()
	err := node.Run(ctx, state)
	duration := time.Since(start)

	if metrics := observability.GetGlobalMetrics(); metrics != nil {
		metrics.RecordNodeExecution(ctx, node.Name(), duration, err)
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Error("Node execution failed",
			"node", node.Name(),
			"session_id", state.SessionID,
			"duration", duration,
			"error", err,
		)
		return err
	}

	span.SetAttributes(attribute.String(observability.AttrRouteName, string(state.Route())))
	e.logger.Debug("Node executed",
		"node", node.Name(),
		"session_id", state.SessionID,
		"duration", duration,
		"route", state.Route(),
	)
	return nil
}
