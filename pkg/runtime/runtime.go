// Package runtime assembles the execution engine from configuration and
// drives complete turns against it. A Runtime owns every long-lived
// component: the provider registry, the embedder and vector store behind
// retrieval, the per-session collection cache, the tool registry, the
// session store, the document extractor, and the compiled graph.
//
// Required components (LLM provider, embedder) fail construction when
// they cannot be built. Optional ones (remote vector stores, web search,
// image generation, tool servers) degrade with a warning so the engine
// stays usable without their credentials.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/strandlabs/strand/pkg/config"
	"github.com/strandlabs/strand/pkg/embedders"
	"github.com/strandlabs/strand/pkg/extract"
	"github.com/strandlabs/strand/pkg/graph"
	"github.com/strandlabs/strand/pkg/lexical"
	"github.com/strandlabs/strand/pkg/llms"
	"github.com/strandlabs/strand/pkg/nodes"
	"github.com/strandlabs/strand/pkg/orchestrator"
	"github.com/strandlabs/strand/pkg/rag"
	"github.com/strandlabs/strand/pkg/research"
	"github.com/strandlabs/strand/pkg/session"
	"github.com/strandlabs/strand/pkg/tools"
	"github.com/strandlabs/strand/pkg/vector"
	"github.com/strandlabs/strand/pkg/websearch"
)

// Runtime is the assembled engine behind the HTTP and CLI surfaces.
type Runtime struct {
	cfg       *config.Config
	registry  *llms.Registry
	embedder  embedders.Embedder
	vectors   vector.Provider
	cache     *rag.CacheManager
	tools     *tools.Registry
	engine    *graph.Engine
	sessions  *session.MemoryService
	extractor *extract.Extractor
	logger    *slog.Logger
}

// New builds a Runtime from configuration.
func New(ctx context.Context, cfg *config.Config) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("runtime: config is required")
	}
	logger := slog.Default()

	var closers []func() error
	fail := func(err error) (*Runtime, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			if cerr := closers[i](); cerr != nil {
				logger.Warn("Cleanup after failed startup", "error", cerr)
			}
		}
		return nil, err
	}

	registry := llms.NewRegistry(&cfg.LLM)
	closers = append(closers, registry.Close)

	planner, err := registry.Planner()
	if err != nil {
		return fail(fmt.Errorf("runtime: planner provider: %w", err))
	}

	embedder, err := embedders.NewOpenAIEmbedder(&cfg.Embedder)
	if err != nil {
		return fail(fmt.Errorf("runtime: embedder: %w", err))
	}
	closers = append(closers, embedder.Close)

	vectors := openVectorStore(&cfg.Vector, logger)
	closers = append(closers, vectors.Close)

	index, err := rag.NewIndex(embedder, vectors, lexical.NewStore(), &cfg.Documents)
	if err != nil {
		return fail(fmt.Errorf("runtime: retrieval index: %w", err))
	}
	cache := rag.NewCacheManager(index)

	toolRegistry := tools.NewRegistry(&cfg.Tools)
	toolRegistry.Connect(ctx)
	closers = append(closers, toolRegistry.Close)

	engine, err := buildEngine(cfg, planner, registry, index, cache, toolRegistry, logger)
	if err != nil {
		return fail(fmt.Errorf("runtime: graph: %w", err))
	}

	sessions := session.NewMemoryService(cfg.Session)
	sessions.OnEvict(func(sessionID string) {
		if err := cache.ClearSession(context.Background(), sessionID); err != nil {
			logger.Warn("Failed to drop collections for evicted session",
				"session_id", sessionID, "error", err)
		}
	})

	return &Runtime{
		cfg:       cfg,
		registry:  registry,
		embedder:  embedder,
		vectors:   vectors,
		cache:     cache,
		tools:     toolRegistry,
		engine:    engine,
		sessions:  sessions,
		extractor: extract.New(&cfg.Documents),
		logger:    logger,
	}, nil
}

// openVectorStore connects the configured vector backend, falling back to
// the in-process store when the backend is unreachable or misconfigured.
func openVectorStore(cfg *config.VectorConfig, logger *slog.Logger) vector.Provider {
	provider, err := vector.NewProvider(cfg)
	if err != nil {
		logger.Warn("Vector store unavailable, using in-memory store",
			"provider", cfg.Provider, "error", err)
		return vector.NewMemoryProvider()
	}
	return provider
}

// buildEngine compiles the execution graph: the orchestrator as entry with
// conditional routing, and every leaf wired back to it. Leaves whose
// providers are not configured are still registered; they answer with a
// terminal error response instead of failing the turn.
func buildEngine(cfg *config.Config, planner llms.Provider, providers llms.ProviderSource,
	index *rag.Index, cache *rag.CacheManager, runner nodes.ToolRunner, logger *slog.Logger) (*graph.Engine, error) {

	var webProvider websearch.Provider
	if cfg.WebSearch.Configured() {
		tavily, err := websearch.NewTavilyProvider(&cfg.WebSearch)
		if err != nil {
			logger.Warn("Web search disabled", "error", err)
		} else {
			webProvider = tavily
		}
	}

	var imageGen nodes.ImageGenerator
	if cfg.Image.Configured() {
		replicate, err := nodes.NewReplicateGenerator(&cfg.Image)
		if err != nil {
			logger.Warn("Image generation disabled", "error", err)
		} else {
			imageGen = replicate
		}
	}

	leaves := map[graph.Route]graph.Node{
		graph.RouteRAG:          rag.NewNode(rag.NewSourceClassifier(planner), index, cache, providers),
		graph.RouteWebSearch:    websearch.NewNode(webProvider, providers, cfg.WebSearch.MaxResults),
		graph.RouteSimpleLLM:    nodes.NewSimpleNode(providers),
		graph.RouteDeepResearch: research.NewNode(webProvider, providers, &cfg.Research),
		graph.RouteImage:        nodes.NewImageNode(imageGen),
		graph.RouteTool:         nodes.NewToolNode(runner, providers),
	}

	engine := graph.New(cfg.Engine.MaxSteps)
	if err := engine.AddNode(graph.RouteOrchestrator, orchestrator.New(planner, providers, &cfg.Engine)); err != nil {
		return nil, err
	}
	engine.AddConditionalEdges(graph.RouteOrchestrator)
	engine.SetEntry(graph.RouteOrchestrator)

	for route, node := range leaves {
		if err := engine.AddNode(route, node); err != nil {
			return nil, err
		}
		engine.AddEdge(route, graph.RouteOrchestrator)
	}
	return engine, nil
}

// Config returns the configuration the runtime was built from.
func (r *Runtime) Config() *config.Config {
	return r.cfg
}

// Sessions exposes the session store to the transport layer.
func (r *Runtime) Sessions() session.Service {
	return r.sessions
}

// DeleteSession removes a session and drops its retrieval collections.
func (r *Runtime) DeleteSession(ctx context.Context, sessionID string) error {
	if err := r.sessions.Delete(ctx, &session.DeleteRequest{SessionID: sessionID}); err != nil {
		return err
	}
	if err := r.cache.ClearSession(ctx, sessionID); err != nil {
		r.logger.Warn("Failed to drop session collections",
			"session_id", sessionID, "error", err)
	}
	return nil
}

// Close releases every component the runtime owns.
func (r *Runtime) Close() error {
	var errs []error
	if r.tools != nil {
		if err := r.tools.Close(); err != nil {
			errs = append(errs, fmt.Errorf("tool registry: %w", err))
		}
	}
	if r.registry != nil {
		if err := r.registry.Close(); err != nil {
			errs = append(errs, fmt.Errorf("provider registry: %w", err))
		}
	}
	if r.embedder != nil {
		if err := r.embedder.Close(); err != nil {
			errs = append(errs, fmt.Errorf("embedder: %w", err))
		}
	}
	if r.vectors != nil {
		if err := r.vectors.Close(); err != nil {
			errs = append(errs, fmt.Errorf("vector store: %w", err))
		}
	}
	return errors.Join(errs...)
}
