// Package rag implements session-scoped retrieval: chunked document
// indexing over a vector store with an optional lexical side, a cache
// manager owning collection lifecycles, and the retrieval node that
// classifies sources, searches, and answers from the assembled context.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/strandlabs/strand/pkg/config"
	"github.com/strandlabs/strand/pkg/embedders"
	"github.com/strandlabs/strand/pkg/lexical"
	"github.com/strandlabs/strand/pkg/observability"
	"github.com/strandlabs/strand/pkg/vector"
)

// FusionMode selects how dense and lexical rankings combine.
type FusionMode string

const (
	// FusionRRF fuses by reciprocal rank. Robust across scoring scales;
	// used for user-document retrieval.
	FusionRRF FusionMode = "rrf"

	// FusionIntersection keeps only documents both sides agree on,
	// falling back to the union when agreement is too thin. Used for
	// knowledge-base retrieval where precision matters more.
	FusionIntersection FusionMode = "intersection"
)

// rrfK is the reciprocal-rank-fusion constant. 60 is the standard value
// from the RRF literature; it keeps single top ranks from dominating.
const rrfK = 60

// LexicalStore is the lexical-index surface the retrieval index needs.
// *lexical.Store is the canonical implementation.
type LexicalStore interface {
	Build(ctx context.Context, collection string, docs []lexical.Document) error
	Has(collection string) bool
	Scores(ctx context.Context, collection, query string) ([]lexical.ScoredDocument, error)
	Drop(collection string)
}

// Index is the retrieval surface over one vector store and one lexical
// store. Collections are named by the cache manager; the index itself is
// collection-agnostic.
type Index struct {
	embedder embedders.Embedder
	vectors  vector.Provider
	lexical  LexicalStore
	chunker  Chunker
	logger   *slog.Logger
}

// NewIndex builds an index over the given providers. Chunking follows the
// documents config (recursive strategy, size/overlap).
func NewIndex(embedder embedders.Embedder, vectors vector.Provider, lexStore LexicalStore, docsCfg *config.DocumentsConfig) (*Index, error) {
	if embedder == nil {
		return nil, fmt.Errorf("rag: embedder is required")
	}
	if vectors == nil {
		return nil, fmt.Errorf("rag: vector provider is required")
	}
	if lexStore == nil {
		lexStore = lexical.NewStore()
	}

	chunker, err := NewChunker(ChunkerConfig{
		Strategy: ChunkerRecursive,
		Size:     docsCfg.ChunkSize,
		Overlap:  docsCfg.ChunkOverlap,
	})
	if err != nil {
		return nil, fmt.Errorf("rag: %w", err)
	}

	return &Index{
		embedder: embedder,
		vectors:  vectors,
		lexical:  lexStore,
		chunker:  chunker,
		logger:   slog.Default(),
	}, nil
}

// Upsert chunks texts, embeds the chunks, and stores them under collection.
// With hybrid set, a lexical index is built alongside under the same name.
// Returns the number of chunks stored.
func (ix *Index) Upsert(ctx context.Context, collection string, texts []string, hybrid bool) (int, error) {
	var chunks []Chunk
	for _, text := range texts {
		if text == "" {
			continue
		}
		pieces, err := ix.chunker.Chunk(text)
		if err != nil {
			return 0, fmt.Errorf("rag: chunking failed: %w", err)
		}
		chunks = append(chunks, pieces...)
	}
	if len(chunks) == 0 {
		return 0, nil
	}

	contents := make([]string, len(chunks))
	for i, c := range chunks {
		contents[i] = c.Content
	}

	vectors, err := ix.embedder.EmbedBatch(ctx, contents)
	if err != nil {
		return 0, fmt.Errorf("rag: embedding failed: %w", err)
	}
	if len(vectors) != len(chunks) {
		return 0, fmt.Errorf("rag: embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
	}

	if err := ix.vectors.EnsureCollection(ctx, collection, ix.embedder.GetDimension()); err != nil {
		return 0, fmt.Errorf("rag: ensure collection %s: %w", collection, err)
	}

	lexDocs := make([]lexical.Document, len(chunks))
	for i, content := range contents {
		id := uuid.NewString()
		if err := ix.vectors.Upsert(ctx, collection, id, vectors[i], map[string]any{"text": content}); err != nil {
			return 0, fmt.Errorf("rag: upsert into %s: %w", collection, err)
		}
		lexDocs[i] = lexical.Document{ID: id, Content: content}
	}

	if hybrid {
		if err := ix.lexical.Build(ctx, collection, lexDocs); err != nil {
			return 0, fmt.Errorf("rag: lexical index for %s: %w", collection, err)
		}
		ix.logger.Info("Stored chunks", "collection", collection, "chunks", len(chunks), "mode", "vector+lexical")
	} else {
		ix.logger.Info("Stored chunks", "collection", collection, "chunks", len(chunks), "mode", "vector")
	}

	return len(chunks), nil
}

// SearchDense returns the top-k chunk texts by cosine similarity, in rank
// order. A missing collection yields an empty result with a warning.
func (ix *Index) SearchDense(ctx context.Context, collection, query string, k int) ([]string, error) {
	start := time.Now()
	texts, err := ix.denseRanking(ctx, collection, query, k)
	if metrics := observability.GetGlobalMetrics(); metrics != nil {
		metrics.RecordSearch(ctx, "dense", time.Since(start), len(texts))
	}
	return texts, err
}

// SearchHybrid fuses dense and lexical rankings. The lexical side degrades
// to dense-only when no lexical index exists for the collection.
func (ix *Index) SearchHybrid(ctx context.Context, collection, query string, k int, mode FusionMode) ([]string, error) {
	tracer := observability.GetTracer("strand.rag")
	ctx, span := tracer.Start(ctx, observability.SpanSearch,
		trace.WithAttributes(
			attribute.String(observability.AttrSearchStrategy, string(mode)),
			attribute.String("collection", collection),
		),
	)
	defer span.End()

	start := time.Now()
	var (
		texts []string
		err   error
	)
	switch mode {
	case FusionIntersection:
		texts, err = ix.hybridIntersection(ctx, collection, query, k)
	default:
		texts, err = ix.hybridRRF(ctx, collection, query, k)
	}

	if metrics := observability.GetGlobalMetrics(); metrics != nil {
		metrics.RecordSearch(ctx, "hybrid_"+string(mode), time.Since(start), len(texts))
	}
	span.SetAttributes(attribute.Int(observability.AttrSearchResults, len(texts)))
	return texts, err
}

// Drop removes the collection and its lexical index.
func (ix *Index) Drop(ctx context.Context, collection string) error {
	ix.lexical.Drop(collection)

	exists, err := ix.vectors.HasCollection(ctx, collection)
	if err != nil {
		return fmt.Errorf("rag: check collection %s: %w", collection, err)
	}
	if !exists {
		return nil
	}
	if err := ix.vectors.DeleteCollection(ctx, collection); err != nil {
		return fmt.Errorf("rag: drop collection %s: %w", collection, err)
	}
	ix.logger.Debug("Dropped collection", "collection", collection)
	return nil
}

// denseRanking returns up to limit chunk texts by similarity.
func (ix *Index) denseRanking(ctx context.Context, collection, query string, limit int) ([]string, error) {
	exists, err := ix.vectors.HasCollection(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("rag: check collection %s: %w", collection, err)
	}
	if !exists {
		ix.logger.Warn("Collection not found, returning empty results", "collection", collection)
		return nil, nil
	}

	queryVec, err := ix.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("rag: embed query: %w", err)
	}

	results, err := ix.vectors.Search(ctx, collection, queryVec, limit)
	if err != nil {
		return nil, fmt.Errorf("rag: search %s: %w", collection, err)
	}

	texts := make([]string, 0, len(results))
	for _, r := range results {
		if text, ok := r.Metadata["text"].(string); ok {
			texts = append(texts, text)
		} else if r.Content != "" {
			texts = append(texts, r.Content)
		}
	}
	return texts, nil
}

// lexicalRanking scores the whole collection, drops documents under the
// dynamic threshold max(0.2*max, 0.5*mean, 0.1), and returns the survivors
// ordered by descending score, capped at limit.
func (ix *Index) lexicalRanking(ctx context.Context, collection, query string, limit int) ([]string, error) {
	scored, err := ix.lexical.Scores(ctx, collection, query)
	if err != nil {
		return nil, fmt.Errorf("rag: lexical scores for %s: %w", collection, err)
	}
	if len(scored) == 0 {
		return nil, nil
	}

	var maxScore, sum float64
	for _, doc := range scored {
		if doc.Score > maxScore {
			maxScore = doc.Score
		}
		sum += doc.Score
	}
	mean := sum / float64(len(scored))

	threshold := 0.1
	if t := maxScore * 0.2; t > threshold {
		threshold = t
	}
	if t := mean * 0.5; t > threshold {
		threshold = t
	}

	kept := make([]lexical.ScoredDocument, 0, len(scored))
	for _, doc := range scored {
		if doc.Score > threshold {
			kept = append(kept, doc)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Score > kept[j].Score })

	if len(kept) > limit {
		kept = kept[:limit]
	}
	texts := make([]string, len(kept))
	for i, doc := range kept {
		texts[i] = doc.Content
	}
	return texts, nil
}

// hybridRRF fetches 3k candidates per side and fuses them by reciprocal
// rank.
func (ix *Index) hybridRRF(ctx context.Context, collection, query string, k int) ([]string, error) {
	denseRanking, err := ix.denseRanking(ctx, collection, query, k*3)
	if err != nil {
		return nil, err
	}

	if !ix.lexical.Has(collection) {
		ix.logger.Debug("No lexical index, falling back to dense only", "collection", collection)
		return capStrings(denseRanking, k), nil
	}

	lexRanking, err := ix.lexicalRanking(ctx, collection, query, k*3)
	if err != nil {
		return nil, err
	}

	fused := reciprocalRankFusion([][]string{denseRanking, lexRanking}, rrfK)
	ix.logger.Debug("Fused hybrid rankings",
		"collection", collection,
		"dense", len(denseRanking),
		"lexical", len(lexRanking),
		"results", min(len(fused), k),
	)
	return capStrings(fused, k), nil
}

// hybridIntersection fetches 5k candidates per side and keeps documents in
// both rankings, preserving dense rank order. Falls back to the union when
// the intersection is thinner than k.
func (ix *Index) hybridIntersection(ctx context.Context, collection, query string, k int) ([]string, error) {
	denseRanking, err := ix.denseRanking(ctx, collection, query, k*5)
	if err != nil {
		return nil, err
	}

	if !ix.lexical.Has(collection) {
		ix.logger.Debug("No lexical index, falling back to dense only", "collection", collection)
		return capStrings(denseRanking, k), nil
	}

	lexRanking, err := ix.lexicalRanking(ctx, collection, query, k*5)
	if err != nil {
		return nil, err
	}

	lexSet := make(map[string]bool, len(lexRanking))
	for _, text := range lexRanking {
		lexSet[text] = true
	}

	var common []string
	for _, text := range denseRanking {
		if lexSet[text] {
			common = append(common, text)
		}
	}

	if len(common) < k {
		ix.logger.Debug("Intersection too thin, falling back to union", "collection", collection, "common", len(common))
		seen := make(map[string]bool, len(denseRanking))
		union := make([]string, 0, len(denseRanking)+len(lexRanking))
		for _, text := range denseRanking {
			if !seen[text] {
				seen[text] = true
				union = append(union, text)
			}
		}
		for _, text := range lexRanking {
			if !seen[text] {
				seen[text] = true
				union = append(union, text)
			}
		}
		common = union
	}

	return capStrings(common, k), nil
}

// reciprocalRankFusion merges rankings by accumulating 1/(k+rank) per
// appearance with 1-indexed ranks. Higher fused scores first; ties keep
// first-seen order. No score normalization.
func reciprocalRankFusion(rankings [][]string, k int) []string {
	scores := make(map[string]float64)
	var order []string

	for _, ranking := range rankings {
		for rank, doc := range ranking {
			if _, seen := scores[doc]; !seen {
				order = append(order, doc)
			}
			scores[doc] += 1.0 / float64(k+rank+1)
		}
	}

	sort.SliceStable(order, func(i, j int) bool {
		return scores[order[i]] > scores[order[j]]
	})
	return order
}

func capStrings(texts []string, k int) []string {
	if len(texts) > k {
		return texts[:k]
	}
	return texts
}
