package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/strandlabs/strand/pkg/config"
	"github.com/strandlabs/strand/pkg/graph"
	"github.com/strandlabs/strand/pkg/llms"
)

// combine assembles the final answer for a multi-step plan. Auto mode
// concatenates unless a retrieval step ran, in which case a synthesis pass
// folds the step outputs into one response. A failed synthesis degrades to
// concatenation rather than failing the turn.
func (o *Orchestrator) combine(ctx context.Context, state *graph.State) string {
	mode := o.cfg.Combine
	if mode == config.CombineAuto {
		mode = config.CombineConcat
		for _, r := range state.Intermediates() {
			if r.Node == string(graph.RouteRAG) {
				mode = config.CombineSynthesize
				break
			}
		}
	}

	if mode == config.CombineSynthesize {
		answer, err := o.synthesize(ctx, state)
		if err == nil {
			return answer
		}
		o.logger.Warn("Answer synthesis failed, concatenating step results",
			"session_id", state.SessionID, "error", err)
	}
	return concatIntermediates(state.Intermediates())
}

// synthesize runs the session's chat model over the execution log.
func (o *Orchestrator) synthesize(ctx context.Context, state *graph.State) (string, error) {
	if o.providers == nil {
		return "", errors.New("orchestrator: provider source not configured")
	}
	provider, err := o.providers.ForModel(state.Model)
	if err != nil {
		return "", fmt.Errorf("orchestrator: resolve provider: %w", err)
	}

	prompt := synthesizerPrompt(state.UserQuery, state.Intermediates())
	text, _, _, err := provider.Generate(ctx, []llms.Message{llms.User(prompt)}, nil)
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errors.New("orchestrator: empty synthesis output")
	}
	return text, nil
}

// concatIntermediates joins step outputs under per-step headings.
func concatIntermediates(results []graph.IntermediateResult) string {
	if len(results) == 0 {
		return emptyStepLog
	}
	blocks := make([]string, 0, len(results))
	for _, r := range results {
		blocks = append(blocks, fmt.Sprintf("**%s Result:**\n%s", r.Node, r.Output))
	}
	return strings.Join(blocks, "\n\n")
}
