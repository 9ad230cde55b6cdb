package nodes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/strandlabs/strand/pkg/graph"
	"github.com/strandlabs/strand/pkg/stream"
)

// ImageGenerator produces an image for a prompt and returns its URL.
type ImageGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// ImageNode turns the step query into a generated image. The returned URL
// is recorded on the state so the runtime can persist it to the session.
type ImageNode struct {
	generator ImageGenerator
	logger    *slog.Logger
}

// NewImageNode builds the image node. A nil generator is allowed; the node
// then reports the missing configuration as its response.
func NewImageNode(generator ImageGenerator) *ImageNode {
	return &ImageNode{generator: generator, logger: slog.Default()}
}

func (n *ImageNode) Name() string { return string(graph.RouteImage) }

// Run generates one image from the resolved query. Every failure,
// including an unconfigured provider, becomes a terminal error response.
func (n *ImageNode) Run(ctx context.Context, state *graph.State) error {
	prompt := state.Query()
	sink := state.Stream()

	_ = sink.Send(ctx, stream.StatusProgress("processing", "🎨 Generating image...", n.Name(), 20))

	if n.generator == nil {
		return n.finishError(ctx, state, prompt, errors.New("image provider is not configured"))
	}

	url, err := n.generator.Generate(ctx, prompt)
	if err != nil {
		return n.finishError(ctx, state, prompt, err)
	}

	state.AddImageURL(url)
	n.logger.Info("Image generated", "session_id", state.SessionID, "url", url)

	response := fmt.Sprintf("Here is the generated image: %s", url)
	if err := stream.WriteAll(ctx, sink, n.Name(), response); err != nil {
		return fmt.Errorf("image: stream response: %w", err)
	}
	state.SetResponse(response)
	state.AppendIntermediate(n.Name(), prompt, response, map[string]any{"image_url": url})

	_ = sink.Send(ctx, stream.StatusProgress("processing", "✅ Image ready", n.Name(), 100))
	return nil
}

func (n *ImageNode) finishError(ctx context.Context, state *graph.State, prompt string, cause error) error {
	n.logger.Error("Image generation failed", "session_id", state.SessionID, "error", cause)
	response := fmt.Sprintf("Error generating image: %v", cause)
	if err := stream.WriteAll(ctx, state.Stream(), n.Name(), response); err != nil {
		return fmt.Errorf("image: stream response: %w", err)
	}
	state.SetResponse(response)
	state.AppendIntermediate(n.Name(), prompt, response, nil)
	return nil
}

var _ graph.Node = (*ImageNode)(nil)
