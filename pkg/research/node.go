package research

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/strandlabs/strand/pkg/config"
	"github.com/strandlabs/strand/pkg/graph"
	"github.com/strandlabs/strand/pkg/llms"
	"github.com/strandlabs/strand/pkg/observability"
	"github.com/strandlabs/strand/pkg/stream"
	"github.com/strandlabs/strand/pkg/websearch"
)

// planRefinementMessage is the user-visible reply when planning yields no
// usable sub-questions.
const planRefinementMessage = "Unable to plan research. Please refine your query."

// snippetCap bounds each web result's contribution to a finding.
const snippetCap = 300

// searchConcurrency bounds parallel web searches within one iteration.
const searchConcurrency = 4

// Node is the deep-research leaf. provider may be nil when web search is
// not configured; iterations then gather no findings and the report is
// synthesized from an empty evidence set.
type Node struct {
	provider websearch.Provider
	registry llms.ProviderSource
	cfg      config.ResearchConfig
	logger   *slog.Logger
}

// NewNode builds the deep-research node. A nil cfg uses the defaults.
func NewNode(provider websearch.Provider, registry llms.ProviderSource, cfg *config.ResearchConfig) *Node {
	var resolved config.ResearchConfig
	if cfg != nil {
		resolved = *cfg
	}
	resolved.SetDefaults()
	return &Node{
		provider: provider,
		registry: registry,
		cfg:      resolved,
		logger:   slog.Default(),
	}
}

func (n *Node) Name() string { return string(graph.RouteDeepResearch) }

// Run drives the internal subgraph: a fresh record enters at planning and
// the router dispatches on its route field until END.
func (n *Node) Run(ctx context.Context, state *graph.State) error {
	rec := newRecord(state.Query(), n.cfg.MaxIterations)

	n.logger.Info("Starting deep research",
		"session_id", state.SessionID, "query", rec.query)
	_ = state.Stream().Send(ctx, stream.StatusProgress("processing",
		"🔬 Starting deep research...", n.Name(), 5))

	for rec.route != phaseEnd {
		if err := ctx.Err(); err != nil {
			return err
		}

		var err error
		switch rec.route {
		case phasePlan:
			err = n.plan(ctx, rec, state)
		case phaseExecute:
			err = n.execute(ctx, rec, state)
		case phaseAnalyze:
			err = n.analyze(ctx, rec, state)
		case phaseSynthesize:
			err = n.synthesize(ctx, rec, state)
		default:
			err = fmt.Errorf("research: unknown phase %q", rec.route)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// plan decomposes the research query into sub-questions. An unusable plan,
// whether from a model failure or from no accepted lines, ends the run
// with a refinement message instead of an error.
func (n *Node) plan(ctx context.Context, rec *record, state *graph.State) error {
	provider, err := n.registry.ForModel(state.Model)
	if err != nil {
		return fmt.Errorf("research: resolve provider: %w", err)
	}

	text, _, _, err := provider.Generate(ctx, []llms.Message{llms.User(planningPrompt(rec.query))}, nil)
	if err != nil {
		n.logger.Warn("Research planning failed",
			"session_id", state.SessionID, "error", err)
		return n.finishUnplanned(ctx, rec, state)
	}

	rec.plan = parseSubQuestions(text)
	if len(rec.plan) == 0 {
		n.logger.Warn("Research planning produced no sub-questions",
			"session_id", state.SessionID)
		return n.finishUnplanned(ctx, rec, state)
	}

	n.logger.Info("Research plan ready",
		"session_id", state.SessionID, "sub_questions", len(rec.plan))
	_ = state.Stream().Send(ctx, stream.StatusProgress("processing",
		fmt.Sprintf("📋 Research plan ready: %d sub-questions", len(rec.plan)), n.Name(), 15))

	rec.route = phaseExecute
	return nil
}

func (n *Node) finishUnplanned(ctx context.Context, rec *record, state *graph.State) error {
	rec.route = phaseEnd
	state.SetResponse(planRefinementMessage)
	return stream.WriteAll(ctx, state.Stream(), n.Name(), planRefinementMessage)
}

// execute researches this iteration's queries concurrently. Iteration zero
// works the plan; later iterations work the knowledge gaps from analysis.
// Individual search failures are skipped, never fatal.
func (n *Node) execute(ctx context.Context, rec *record, state *graph.State) error {
	queries := rec.plan
	if rec.iteration > 0 {
		queries = rec.knowledgeGaps
	}
	if len(queries) == 0 {
		rec.route = phaseSynthesize
		return nil
	}

	_ = state.Stream().Send(ctx, stream.StatusProgress("processing",
		fmt.Sprintf("🔎 Research iteration %d/%d: searching %d questions...",
			rec.iteration+1, rec.maxIterations, len(queries)), n.Name(), n.progress(rec)))

	tracer := observability.GetTracer("strand.research")
	ctx, span := tracer.Start(ctx, observability.SpanResearchIteration,
		trace.WithAttributes(
			attribute.String(observability.AttrSessionID, state.SessionID),
			attribute.Int("research.iteration", rec.iteration),
			attribute.Int("research.queries", len(queries)),
		),
	)
	defer span.End()

	findings := make([]*Finding, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(searchConcurrency)
	for i, query := range queries {
		g.Go(func() error {
			findings[i] = n.searchOne(gctx, query, rec.iteration)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return err
	}

	gathered := 0
	for _, f := range findings {
		if f == nil {
			continue
		}
		rec.findings = append(rec.findings, *f)
		rec.sources = append(rec.sources, f.URLs...)
		gathered++
	}
	rec.iteration++
	span.SetAttributes(attribute.Int("research.findings", gathered))

	n.logger.Info("Research iteration complete",
		"session_id", state.SessionID,
		"iteration", rec.iteration,
		"findings", gathered)

	if rec.iteration < rec.maxIterations {
		rec.route = phaseAnalyze
	} else {
		rec.route = phaseSynthesize
	}
	return nil
}

// searchOne runs one advanced-depth web search and folds the results into
// a finding. Returns nil when the provider is missing, fails, or finds
// nothing.
func (n *Node) searchOne(ctx context.Context, query string, iteration int) *Finding {
	if n.provider == nil {
		return nil
	}
	results, err := n.provider.Search(ctx, query, n.cfg.ResultsPerQuery, websearch.DepthAdvanced)
	if err != nil {
		n.logger.Warn("Research web search failed", "query", query, "error", err)
		return nil
	}
	if len(results) == 0 {
		return nil
	}

	lines := make([]string, 0, len(results))
	urls := make([]string, 0, len(results))
	for _, r := range results {
		title := r.Title
		if title == "" {
			title = "Unknown"
		}
		lines = append(lines, title+": "+capRunes(r.Content, snippetCap))
		urls = append(urls, r.URL)
	}
	return &Finding{
		Query:     query,
		Source:    "web",
		Content:   strings.Join(lines, "\n"),
		URLs:      urls,
		Iteration: iteration,
	}
}

// analyze asks the model whether the evidence answers the original query.
// Parsing is lenient; a failed call keeps the defaults, whose empty
// follow-up list stops the loop.
func (n *Node) analyze(ctx context.Context, rec *record, state *graph.State) error {
	_ = state.Stream().Send(ctx, stream.StatusProgress("processing",
		"🧪 Analyzing knowledge gaps...", n.Name(), n.progress(rec)))

	provider, err := n.registry.ForModel(state.Model)
	if err != nil {
		return fmt.Errorf("research: resolve provider: %w", err)
	}

	analysis := defaultGapAnalysis()
	text, _, _, err := provider.Generate(ctx, []llms.Message{llms.User(gapAnalysisPrompt(state.UserQuery, rec))}, nil)
	if err != nil {
		n.logger.Warn("Gap analysis failed",
			"session_id", state.SessionID, "error", err)
	} else {
		analysis = parseGapAnalysis(text)
	}

	rec.confidence = analysis.confidence
	rec.knowledgeGaps = analysis.followUps

	n.logger.Info("Gap analysis complete",
		"session_id", state.SessionID,
		"confidence", analysis.confidence,
		"gaps", len(analysis.gaps),
		"follow_ups", len(analysis.followUps))
	if analysis.reasoning != "" {
		n.logger.Debug("Gap analysis reasoning",
			"reasoning", capRunes(analysis.reasoning, 200))
	}

	switch {
	case rec.confidence >= n.cfg.ConfidenceThreshold:
		rec.route = phaseSynthesize
	case len(rec.knowledgeGaps) == 0:
		rec.route = phaseSynthesize
	default:
		rec.route = phaseExecute
	}
	return nil
}

// synthesize folds every finding into the final report, streams it, and
// ends the subgraph with the run's single intermediate entry.
func (n *Node) synthesize(ctx context.Context, rec *record, state *graph.State) error {
	sink := state.Stream()
	_ = sink.Send(ctx, stream.StatusProgress("processing",
		"📝 Synthesizing research report...", n.Name(), 85))

	provider, err := n.registry.ForModel(state.Model)
	if err != nil {
		return fmt.Errorf("research: resolve provider: %w", err)
	}

	report, _, _, err := provider.Generate(ctx, []llms.Message{llms.User(synthesisPrompt(state.UserQuery, rec))}, nil)
	if err != nil {
		return fmt.Errorf("research: synthesis failed: %w", err)
	}
	report = appendSourcesSection(report, rec)

	if err := stream.WriteAll(ctx, sink, n.Name(), report); err != nil {
		return fmt.Errorf("research: streaming failed: %w", err)
	}
	_ = sink.Send(ctx, stream.StatusProgress("complete",
		"✅ Deep research completed", n.Name(), 100))

	state.SetResponse(report)
	state.AppendIntermediate(n.Name(), rec.query, report, map[string]any{
		"iterations":     rec.iteration,
		"confidence":     rec.confidence,
		"sources_count":  len(rec.uniqueSources(0)),
		"findings_count": len(rec.findings),
	})

	n.logger.Info("Deep research completed",
		"session_id", state.SessionID,
		"iterations", rec.iteration,
		"confidence", rec.confidence,
		"findings", len(rec.findings))

	rec.route = phaseEnd
	return nil
}

// appendSourcesSection adds a numbered source list when the report does
// not already carry one.
func appendSourcesSection(report string, rec *record) string {
	lower := strings.ToLower(report)
	if strings.Contains(lower, "sources") || strings.Contains(lower, "references") {
		return report
	}
	urls := rec.uniqueSources(reportSourceLimit)
	if len(urls) == 0 {
		return report
	}

	var b strings.Builder
	b.WriteString(report)
	b.WriteString("\n\n## Sources & References\n")
	for i, url := range urls {
		fmt.Fprintf(&b, "%d. %s\n", i+1, url)
	}
	return b.String()
}

// progress maps the loop position onto the 15-75 status band; synthesis
// takes over from there.
func (n *Node) progress(rec *record) int {
	if rec.maxIterations == 0 {
		return 15
	}
	return 15 + (60*rec.iteration)/rec.maxIterations
}

var _ graph.Node = (*Node)(nil)
