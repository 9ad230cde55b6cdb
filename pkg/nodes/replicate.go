package nodes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/strandlabs/strand/pkg/config"
	"github.com/strandlabs/strand/pkg/httpclient"
)

// Prediction lifecycle states. Anything else is still in flight.
const (
	predictionSucceeded = "succeeded"
	predictionFailed    = "failed"
	predictionCanceled  = "canceled"
)

// defaultPollInterval paces the status polling loop when the create call
// returns before the prediction settles.
const defaultPollInterval = time.Second

// ReplicateGenerator generates images through the Replicate predictions
// API. The create call asks the server to wait for completion; slower
// models fall back to polling the prediction until it settles.
type ReplicateGenerator struct {
	apiKey       string
	baseURL      string
	model        string
	timeout      time.Duration
	pollInterval time.Duration
	httpClient   *httpclient.Client
	logger       *slog.Logger
}

// prediction is the wire shape of one generation job. Output is kept raw
// because models return either a URL string or a list of them.
type prediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output,omitempty"`
	Error  any             `json:"error,omitempty"`
	URLs   struct {
		Get string `json:"get"`
	} `json:"urls"`
}

// NewReplicateGenerator builds the generator from config. Returns an error
// when no API key is configured; callers that tolerate absence should
// check cfg.Configured() first.
func NewReplicateGenerator(cfg *config.ImageConfig) (*ReplicateGenerator, error) {
	if cfg == nil || cfg.APIKey == "" {
		return nil, fmt.Errorf("nodes: image API key is required")
	}
	return &ReplicateGenerator{
		apiKey:       cfg.APIKey,
		baseURL:      strings.TrimSuffix(cfg.BaseURL, "/"),
		model:        cfg.Model,
		timeout:      cfg.Timeout.Duration(),
		pollInterval: defaultPollInterval,
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: cfg.Timeout.Duration()}),
			httpclient.WithMaxRetries(2),
		),
		logger: slog.Default(),
	}, nil
}

// Generate creates a prediction for the prompt and returns the output
// image URL. The configured timeout bounds the whole call including
// polling.
func (g *ReplicateGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	pred, err := g.create(ctx, prompt)
	if err != nil {
		return "", err
	}

	for !terminalPrediction(pred.Status) {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("nodes: image generation timed out: %w", ctx.Err())
		case <-time.After(g.pollInterval):
		}
		pred, err = g.get(ctx, pred)
		if err != nil {
			return "", err
		}
	}

	if pred.Status != predictionSucceeded {
		if pred.Error != nil {
			return "", fmt.Errorf("nodes: image prediction %s: %v", pred.Status, pred.Error)
		}
		return "", fmt.Errorf("nodes: image prediction %s", pred.Status)
	}
	return extractOutputURL(pred.Output)
}

func (g *ReplicateGenerator) create(ctx context.Context, prompt string) (*prediction, error) {
	body, err := json.Marshal(map[string]any{
		"input": map[string]any{"prompt": prompt},
	})
	if err != nil {
		return nil, fmt.Errorf("nodes: marshal prediction request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s/predictions", g.baseURL, g.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("nodes: build prediction request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	// Hold the connection until the prediction settles when the model is
	// fast enough; otherwise the response carries a poll URL.
	req.Header.Set("Prefer", "wait")

	return g.roundTrip(req)
}

func (g *ReplicateGenerator) get(ctx context.Context, pred *prediction) (*prediction, error) {
	url := pred.URLs.Get
	if url == "" {
		url = fmt.Sprintf("%s/predictions/%s", g.baseURL, pred.ID)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("nodes: build poll request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	return g.roundTrip(req)
}

func (g *ReplicateGenerator) roundTrip(req *http.Request) (*prediction, error) {
	resp, err := g.httpClient.Do(req)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("nodes: prediction request failed: %w", err)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("nodes: read prediction response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("nodes: prediction returned status %d: %s", resp.StatusCode, string(raw))
	}

	var pred prediction
	if err := json.Unmarshal(raw, &pred); err != nil {
		return nil, fmt.Errorf("nodes: decode prediction: %w", err)
	}
	return &pred, nil
}

// terminalPrediction reports whether the status is final.
func terminalPrediction(status string) bool {
	switch status {
	case predictionSucceeded, predictionFailed, predictionCanceled:
		return true
	}
	return false
}

// extractOutputURL pulls the image URL out of the prediction output, which
// is either a list of URLs (first wins) or a single URL string.
func extractOutputURL(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", fmt.Errorf("nodes: prediction has no output")
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		for _, url := range list {
			if url != "" {
				return url, nil
			}
		}
		return "", fmt.Errorf("nodes: prediction output list is empty")
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil && single != "" {
		return single, nil
	}
	return "", fmt.Errorf("nodes: unexpected prediction output shape: %s", string(raw))
}

var _ ImageGenerator = (*ReplicateGenerator)(nil)
