package websearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/strandlabs/strand/pkg/config"
	"github.com/strandlabs/strand/pkg/httpclient"
)

// TavilyProvider calls the Tavily search API.
type TavilyProvider struct {
	apiKey     string
	baseURL    string
	httpClient *httpclient.Client
}

type tavilyRequest struct {
	Query       string `json:"query"`
	MaxResults  int    `json:"max_results"`
	SearchDepth string `json:"search_depth"`
}

type tavilyResponse struct {
	Results []tavilyResult `json:"results"`
	Error   string         `json:"error,omitempty"`
}

type tavilyResult struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// NewTavilyProvider builds the provider from config. Returns an error when
// no API key is configured; callers that tolerate absence should check
// cfg.Configured() first.
func NewTavilyProvider(cfg *config.WebSearchConfig) (*TavilyProvider, error) {
	if cfg == nil || cfg.APIKey == "" {
		return nil, fmt.Errorf("websearch: API key is required")
	}
	return &TavilyProvider{
		apiKey:  cfg.APIKey,
		baseURL: cfg.BaseURL,
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: cfg.Timeout.Duration()}),
			httpclient.WithMaxRetries(2),
		),
	}, nil
}

func (p *TavilyProvider) Name() string { return "tavily" }

// Search performs one search call. Depth is passed through as-is; Tavily
// accepts "basic" and "advanced".
func (p *TavilyProvider) Search(ctx context.Context, query string, maxResults int, depth string) ([]Result, error) {
	if depth == "" {
		depth = DepthBasic
	}
	body, err := json.Marshal(tavilyRequest{
		Query:       query,
		MaxResults:  maxResults,
		SearchDepth: depth,
	})
	if err != nil {
		return nil, fmt.Errorf("websearch: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("websearch: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("websearch: search request failed: %w", err)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("websearch: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("websearch: search returned status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed tavilyResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("websearch: decode response: %w", err)
	}
	if parsed.Error != "" {
		return nil, fmt.Errorf("websearch: API error: %s", parsed.Error)
	}

	results := make([]Result, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		results = append(results, Result{
			Title:   r.Title,
			URL:     r.URL,
			Content: r.Content,
			Score:   r.Score,
		})
	}
	return results, nil
}

var _ Provider = (*TavilyProvider)(nil)
