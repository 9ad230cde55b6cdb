package websearch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/strandlabs/strand/pkg/graph"
	"github.com/strandlabs/strand/pkg/httpclient"
	"github.com/strandlabs/strand/pkg/llms"
	"github.com/strandlabs/strand/pkg/stream"
)

// snippetLimit caps each source snippet fed to the formatter.
const snippetLimit = 400

// Formatter system prompts. The detailed one runs when the web-search
// toggle is on; the basic one answers quick lookups the planner routed
// here on its own.
const (
	detailedPrompt = "You are a helpful assistant. Format results clearly with headings, bullets, numbered lists. Cite as [Source X]."
	concisePrompt  = "Provide a concise answer (3-10 sentences) based only on the user query and the search results. Cite as [Source X]."
)

// Node answers a query from live web results: search, format sources,
// synthesize with an LLM, stream the answer.
type Node struct {
	provider   Provider
	registry   llms.ProviderSource
	maxResults int
	logger     *slog.Logger
}

// NewNode builds the web-search node. provider may be nil when no search
// backend is configured; the node then degrades to a canonical no-results
// message instead of failing turns.
func NewNode(provider Provider, registry llms.ProviderSource, maxResults int) *Node {
	if maxResults <= 0 {
		maxResults = 5
	}
	return &Node{
		provider:   provider,
		registry:   registry,
		maxResults: maxResults,
		logger:     slog.Default(),
	}
}

func (n *Node) Name() string { return string(graph.RouteWebSearch) }

// Run performs the search and streams a formatted answer. The web-search
// toggle widens the search (advanced depth, more results) and selects the
// detailed formatter.
func (n *Node) Run(ctx context.Context, state *graph.State) error {
	query := state.Query()
	sink := state.Stream()

	if query == "" {
		return n.finish(ctx, state, "No query provided for web search.")
	}

	_ = sink.Send(ctx, stream.StatusProgress("processing", "🌐 Gathering information from websites...", n.Name(), 20))

	depth := DepthBasic
	maxResults := 2
	systemPrompt := concisePrompt
	if state.WebSearchEnabled {
		depth = DepthAdvanced
		maxResults = n.maxResults
		systemPrompt = detailedPrompt
	}

	results := n.search(ctx, query, maxResults, depth)
	if len(results) == 0 {
		return n.finish(ctx, state, "No web results found or Tavily unavailable.")
	}

	_ = sink.Send(ctx, stream.StatusProgress("processing", fmt.Sprintf("📄 Processing %d search results...", len(results)), n.Name(), 40))

	sourcesText := FormatSources(results)
	userPrompt := fmt.Sprintf("User Query: %s\n\nSearch Results:\n%s", query, sourcesText)
	if state.WebSearchEnabled {
		userPrompt += "\n\nNow synthesize them into a clear, structured answer with:\n- Headings and subheadings\n- Numbered or bulleted lists\n- A final 'Sources Used' section with URLs(no titles or anything)."
	}

	_ = sink.Send(ctx, stream.StatusProgress("processing", "🤖 Generating response from search results...", n.Name(), 70))

	provider, err := n.registry.ForModel(state.Model)
	if err != nil {
		n.logger.Warn("Web search formatting failed", "error", err)
		return n.finish(ctx, state, fmt.Sprintf("Web search formatting failed: %v", err))
	}

	answer, _, _, err := provider.Generate(ctx, []llms.Message{
		llms.System(systemPrompt),
		llms.User(userPrompt),
	}, nil)
	if err != nil {
		n.logger.Warn("Web search formatting failed", "error", err)
		return n.finish(ctx, state, fmt.Sprintf("Web search formatting failed: %v", err))
	}

	if err := n.finish(ctx, state, answer); err != nil {
		return err
	}
	_ = sink.Send(ctx, stream.StatusProgress("processing", "✅ Web search completed", n.Name(), 100))
	return nil
}

// search swallows provider errors; a failed search reads as zero results.
func (n *Node) search(ctx context.Context, query string, maxResults int, depth string) []Result {
	if n.provider == nil {
		n.logger.Warn("No web search provider configured")
		return nil
	}
	results, err := n.provider.Search(ctx, query, maxResults, depth)
	if err != nil {
		if httpclient.RateLimited(err) {
			n.logger.Warn("Web search rate limited",
				"retry_after", httpclient.RetryAfter(err), "error", err)
		} else {
			n.logger.Warn("Web search failed", "error", err)
		}
		return nil
	}
	return results
}

// finish streams the terminal response and records it. Every outcome gets
// exactly one intermediate entry so the final-answer assembly sees a
// complete step log.
func (n *Node) finish(ctx context.Context, state *graph.State, response string) error {
	if err := stream.WriteAll(ctx, state.Stream(), n.Name(), response); err != nil {
		return fmt.Errorf("websearch: stream response: %w", err)
	}
	state.SetResponse(response)
	state.AppendIntermediate(n.Name(), state.Query(), response, nil)
	return nil
}

// FormatSources renders results as numbered source blocks with snippets
// capped at 400 characters.
func FormatSources(results []Result) string {
	blocks := make([]string, len(results))
	for i, r := range results {
		blocks[i] = fmt.Sprintf("[Source %d] (%s)\n%s", i+1, r.URL, truncate(r.Content, snippetLimit))
	}
	return strings.Join(blocks, "\n")
}

// truncate cuts s to at most limit bytes on a rune boundary.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}

var _ graph.Node = (*Node)(nil)
