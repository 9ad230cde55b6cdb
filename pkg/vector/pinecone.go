package vector

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pinecone-io/go-pinecone/pinecone"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/strandlabs/strand/pkg/config"
)

// PineconeProvider implements Provider against Pinecone serverless.
//
// Creating a Pinecone index takes minutes, far too slow for session-scoped
// collections, so the provider keeps one shared index and maps each
// collection to a namespace inside it. Namespaces appear on first upsert
// and are cheap to drop.
type PineconeProvider struct {
	client    *pinecone.Client
	cfg       *config.PineconeConfig
	indexName string

	mu   sync.Mutex
	host string // cached index host
}

// NewPineconeProvider creates a Pinecone provider from the vector store
// configuration.
func NewPineconeProvider(cfg *config.VectorConfig) (*PineconeProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for Pinecone")
	}

	client, err := pinecone.NewClient(pinecone.NewClientParams{
		ApiKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Pinecone client: %w", err)
	}

	pc := cfg.Pinecone
	if pc == nil {
		pc = &config.PineconeConfig{IndexName: "strand", Cloud: "aws", Region: "us-east-1", Metric: "cosine"}
	}

	return &PineconeProvider{
		client:    client,
		cfg:       pc,
		indexName: pc.IndexName,
	}, nil
}

// Name returns the provider name.
func (p *PineconeProvider) Name() string {
	return "pinecone"
}

// EnsureCollection ensures the shared index exists, creating a serverless
// index on first use and waiting for it to become ready. The namespace
// itself appears implicitly on first upsert.
func (p *PineconeProvider) EnsureCollection(ctx context.Context, collection string, dimension int) error {
	_, err := p.client.DescribeIndex(ctx, p.indexName)
	if err == nil {
		return nil
	}
	if !strings.Contains(strings.ToLower(err.Error()), "not found") {
		return fmt.Errorf("failed to describe index %s: %w", p.indexName, err)
	}

	_, err = p.client.CreateServerlessIndex(ctx, &pinecone.CreateServerlessIndexRequest{
		Name:      p.indexName,
		Dimension: int32(dimension),
		Metric:    pineconeMetric(p.cfg.Metric),
		Cloud:     pineconeCloud(p.cfg.Cloud),
		Region:    p.cfg.Region,
	})
	if err != nil && !strings.Contains(strings.ToLower(err.Error()), "already exists") {
		return fmt.Errorf("failed to create index %s: %w", p.indexName, err)
	}

	return p.waitForIndex(ctx)
}

func (p *PineconeProvider) waitForIndex(ctx context.Context) error {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		idx, err := p.client.DescribeIndex(ctx, p.indexName)
		if err == nil && idx.Status != nil && idx.Status.Ready {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("timed out waiting for index %s: %w", p.indexName, ctx.Err())
		case <-ticker.C:
		}
	}
}

// HasCollection reports whether the namespace holds any vectors.
func (p *PineconeProvider) HasCollection(ctx context.Context, collection string) (bool, error) {
	conn, err := p.namespaceConn(ctx, "")
	if err != nil {
		return false, err
	}
	defer func() { _ = conn.Close() }()

	stats, err := conn.DescribeIndexStats(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to describe index stats: %w", err)
	}

	_, ok := stats.Namespaces[collection]
	return ok, nil
}

// Upsert adds or replaces a document vector in the collection's namespace.
func (p *PineconeProvider) Upsert(ctx context.Context, collection string, id string, vec []float32, metadata map[string]any) error {
	conn, err := p.namespaceConn(ctx, collection)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	var pineconeMetadata *pinecone.Metadata
	if len(metadata) > 0 {
		pineconeMetadata, err = structpb.NewStruct(sanitizeMetadata(metadata))
		if err != nil {
			return fmt.Errorf("failed to convert metadata: %w", err)
		}
	}

	_, err = conn.UpsertVectors(ctx, []*pinecone.Vector{{
		Id:       id,
		Values:   vec,
		Metadata: pineconeMetadata,
	}})
	if err != nil {
		return fmt.Errorf("failed to upsert vector: %w", err)
	}

	return nil
}

// Search returns the topK most similar documents from the collection's
// namespace.
func (p *PineconeProvider) Search(ctx context.Context, collection string, vec []float32, topK int) ([]Result, error) {
	conn, err := p.namespaceConn(ctx, collection)
	if err != nil {
		return nil, err
	}
	defer func() { _ = conn.Close() }()

	resp, err := conn.QueryByVectorValues(ctx, &pinecone.QueryByVectorValuesRequest{
		Vector:          vec,
		TopK:            uint32(topK),
		IncludeMetadata: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query Pinecone: %w", err)
	}

	return convertPineconeResults(resp.Matches), nil
}

// DeleteCollection drops every vector in the collection's namespace.
func (p *PineconeProvider) DeleteCollection(ctx context.Context, collection string) error {
	conn, err := p.namespaceConn(ctx, collection)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	if err := conn.DeleteAllVectorsInNamespace(ctx); err != nil {
		return fmt.Errorf("failed to delete namespace %s: %w", collection, err)
	}
	return nil
}

// Close releases resources.
func (p *PineconeProvider) Close() error {
	return nil
}

func (p *PineconeProvider) namespaceConn(ctx context.Context, namespace string) (*pinecone.IndexConnection, error) {
	host, err := p.indexHost(ctx)
	if err != nil {
		return nil, err
	}

	conn, err := p.client.Index(pinecone.NewIndexConnParams{
		Host:      host,
		Namespace: namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create index connection: %w", err)
	}
	return conn, nil
}

func (p *PineconeProvider) indexHost(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.host != "" {
		return p.host, nil
	}

	idx, err := p.client.DescribeIndex(ctx, p.indexName)
	if err != nil {
		return "", fmt.Errorf("failed to describe index %s: %w", p.indexName, err)
	}
	p.host = idx.Host
	return p.host, nil
}

func pineconeMetric(metric string) pinecone.IndexMetric {
	switch metric {
	case "dotproduct":
		return pinecone.Dotproduct
	case "euclidean":
		return pinecone.Euclidean
	default:
		return pinecone.Cosine
	}
}

func pineconeCloud(cloud string) pinecone.Cloud {
	switch cloud {
	case "gcp":
		return pinecone.Gcp
	case "azure":
		return pinecone.Azure
	default:
		return pinecone.Aws
	}
}

// sanitizeMetadata coerces values into the types structpb accepts.
func sanitizeMetadata(metadata map[string]any) map[string]any {
	out := make(map[string]any, len(metadata))
	for k, v := range metadata {
		switch n := v.(type) {
		case int:
			out[k] = float64(n)
		case int32:
			out[k] = float64(n)
		case int64:
			out[k] = float64(n)
		case float32:
			out[k] = float64(n)
		case bool, float64, string, nil:
			out[k] = v
		default:
			out[k] = fmt.Sprint(v)
		}
	}
	return out
}

func convertPineconeResults(matches []*pinecone.ScoredVector) []Result {
	results := make([]Result, 0, len(matches))

	for _, match := range matches {
		if match.Vector == nil {
			continue
		}

		metadata := make(map[string]any)
		if match.Vector.Metadata != nil {
			for k, v := range match.Vector.Metadata.AsMap() {
				metadata[k] = v
			}
		}

		content := ""
		if str, ok := metadata["content"].(string); ok {
			content = str
		}

		results = append(results, Result{
			ID:       match.Vector.Id,
			Content:  content,
			Metadata: metadata,
			Score:    match.Score,
		})
	}

	return results
}

var _ Provider = (*PineconeProvider)(nil)
