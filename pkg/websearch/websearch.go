// Package websearch provides the external web-search provider and the graph
// node that answers queries from live web results.
package websearch

import "context"

// Search depths understood by providers. Advanced costs more and digs
// deeper; basic answers fast lookups.
const (
	DepthBasic    = "basic"
	DepthAdvanced = "advanced"
)

// Result is one web hit.
type Result struct {
	Title   string
	URL     string
	Content string
	Score   float64
}

// Provider performs external web searches.
type Provider interface {
	// Search returns up to maxResults hits for the query at the given depth.
	Search(ctx context.Context, query string, maxResults int, depth string) ([]Result, error)

	// Name identifies the backend.
	Name() string
}
