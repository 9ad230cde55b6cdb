package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// InitMetrics builds the metric instruments behind a Prometheus exporter.
// The exporter registers with the default Prometheus registry; serve it
// with the manager's MetricsHandler. When metrics are disabled the
// returned recorder is inert.
func InitMetrics(ctx context.Context, cfg MetricsConfig) (*PrometheusMetrics, error) {
	if !cfg.Enabled {
		return &PrometheusMetrics{}, nil
	}

	promExporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(promExporter),
	)

	ns := cfg.Namespace
	meter := meterProvider.Meter(ns)

	turnDuration, err := meter.Float64Histogram(
		ns+"_turn_duration_seconds",
		metric.WithDescription("Chat turn duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create turn duration histogram: %w", err)
	}

	turnsTotal, err := meter.Int64Counter(
		ns+"_turns_total",
		metric.WithDescription("Total chat turns"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create turns counter: %w", err)
	}

	turnErrors, err := meter.Int64Counter(
		ns+"_turn_errors_total",
		metric.WithDescription("Total chat turn errors"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create turn errors counter: %w", err)
	}

	nodeDuration, err := meter.Float64Histogram(
		ns+"_node_execution_duration_seconds",
		metric.WithDescription("Graph node execution duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create node duration histogram: %w", err)
	}

	nodeExecutions, err := meter.Int64Counter(
		ns+"_node_executions_total",
		metric.WithDescription("Total graph node executions"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create node executions counter: %w", err)
	}

	nodeErrors, err := meter.Int64Counter(
		ns+"_node_errors_total",
		metric.WithDescription("Total graph node errors"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create node errors counter: %w", err)
	}

	llmDuration, err := meter.Float64Histogram(
		ns+"_llm_request_duration_seconds",
		metric.WithDescription("LLM request duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm duration histogram: %w", err)
	}

	llmInputTokens, err := meter.Int64Counter(
		ns+"_llm_tokens_input_total",
		metric.WithDescription("Total input tokens sent to LLM"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm input tokens counter: %w", err)
	}

	llmOutputTokens, err := meter.Int64Counter(
		ns+"_llm_tokens_output_total",
		metric.WithDescription("Total output tokens from LLM"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm output tokens counter: %w", err)
	}

	llmErrors, err := meter.Int64Counter(
		ns+"_llm_errors_total",
		metric.WithDescription("Total LLM errors"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm errors counter: %w", err)
	}

	searchDuration, err := meter.Float64Histogram(
		ns+"_retrieval_search_duration_seconds",
		metric.WithDescription("Retrieval search duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create search duration histogram: %w", err)
	}

	searchResults, err := meter.Int64Counter(
		ns+"_retrieval_results_total",
		metric.WithDescription("Total retrieval results returned"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create search results counter: %w", err)
	}

	webSearches, err := meter.Int64Counter(
		ns+"_web_searches_total",
		metric.WithDescription("Total web searches"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create web searches counter: %w", err)
	}

	webResults, err := meter.Int64Counter(
		ns+"_web_results_total",
		metric.WithDescription("Total web search results"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create web results counter: %w", err)
	}

	streamFrames, err := meter.Int64Counter(
		ns+"_stream_frames_total",
		metric.WithDescription("Total stream frames emitted"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create stream frames counter: %w", err)
	}

	httpDuration, err := meter.Float64Histogram(
		ns+"_http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http duration histogram: %w", err)
	}

	httpRequests, err := meter.Int64Counter(
		ns+"_http_requests_total",
		metric.WithDescription("Total HTTP requests"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http requests counter: %w", err)
	}

	return &PrometheusMetrics{
		turnDuration:        turnDuration,
		turnsTotal:          turnsTotal,
		turnErrorsTotal:     turnErrors,
		nodeDuration:        nodeDuration,
		nodeExecutionsTotal: nodeExecutions,
		nodeErrorsTotal:     nodeErrors,
		llmDuration:         llmDuration,
		llmInputTokens:      llmInputTokens,
		llmOutputTokens:     llmOutputTokens,
		llmErrorsTotal:      llmErrors,
		searchDuration:      searchDuration,
		searchResultsTotal:  searchResults,
		webSearchesTotal:    webSearches,
		webResultsTotal:     webResults,
		streamFramesTotal:   streamFrames,
		httpDuration:        httpDuration,
		httpRequestsTotal:   httpRequests,
	}, nil
}
