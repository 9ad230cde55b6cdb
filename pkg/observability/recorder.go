package observability

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	globalMetrics Metrics
	metricsMu     sync.RWMutex
)

// Metrics records engine measurements. Implementations must be safe for
// concurrent use and tolerate a zero value (all calls become no-ops).
type Metrics interface {
	RecordTurn(ctx context.Context, duration time.Duration, err error)
	RecordNodeExecution(ctx context.Context, node string, duration time.Duration, err error)
	RecordLLMCall(ctx context.Context, model string, duration time.Duration, inputTokens, outputTokens int, err error)
	RecordSearch(ctx context.Context, strategy string, duration time.Duration, results int)
	RecordWebSearch(ctx context.Context, depth string, results int)
	RecordStreamFrame(ctx context.Context, frameType string)
	RecordHTTPRequest(ctx context.Context, method, route string, status int, duration time.Duration)
}

// PrometheusMetrics implements Metrics on OpenTelemetry instruments backed
// by the Prometheus exporter. A zero value records nothing.
type PrometheusMetrics struct {
	turnDuration    metric.Float64Histogram
	turnsTotal      metric.Int64Counter
	turnErrorsTotal metric.Int64Counter

	nodeDuration        metric.Float64Histogram
	nodeExecutionsTotal metric.Int64Counter
	nodeErrorsTotal     metric.Int64Counter

	llmDuration     metric.Float64Histogram
	llmInputTokens  metric.Int64Counter
	llmOutputTokens metric.Int64Counter
	llmErrorsTotal  metric.Int64Counter

	searchDuration     metric.Float64Histogram
	searchResultsTotal metric.Int64Counter

	webSearchesTotal metric.Int64Counter
	webResultsTotal  metric.Int64Counter

	streamFramesTotal metric.Int64Counter

	httpDuration      metric.Float64Histogram
	httpRequestsTotal metric.Int64Counter
}

func (m *PrometheusMetrics) RecordTurn(ctx context.Context, duration time.Duration, err error) {
	if m == nil || m.turnDuration == nil || m.turnsTotal == nil {
		return
	}

	m.turnDuration.Record(ctx, duration.Seconds())
	m.turnsTotal.Add(ctx, 1)

	if err != nil && m.turnErrorsTotal != nil {
		m.turnErrorsTotal.Add(ctx, 1)
	}
}

func (m *PrometheusMetrics) RecordNodeExecution(ctx context.Context, node string, duration time.Duration, err error) {
	if m == nil || m.nodeDuration == nil || m.nodeExecutionsTotal == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("node", node),
	}

	m.nodeDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	m.nodeExecutionsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))

	if err != nil && m.nodeErrorsTotal != nil {
		m.nodeErrorsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

func (m *PrometheusMetrics) RecordLLMCall(ctx context.Context, model string, duration time.Duration, inputTokens, outputTokens int, err error) {
	if m == nil || m.llmDuration == nil || m.llmInputTokens == nil || m.llmOutputTokens == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("model", model),
	}

	m.llmDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	m.llmInputTokens.Add(ctx, int64(inputTokens), metric.WithAttributes(attrs...))
	m.llmOutputTokens.Add(ctx, int64(outputTokens), metric.WithAttributes(attrs...))

	if err != nil && m.llmErrorsTotal != nil {
		m.llmErrorsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

func (m *PrometheusMetrics) RecordSearch(ctx context.Context, strategy string, duration time.Duration, results int) {
	if m == nil || m.searchDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("strategy", strategy),
	}

	m.searchDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))

	if m.searchResultsTotal != nil {
		m.searchResultsTotal.Add(ctx, int64(results), metric.WithAttributes(attrs...))
	}
}

func (m *PrometheusMetrics) RecordWebSearch(ctx context.Context, depth string, results int) {
	if m == nil || m.webSearchesTotal == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("depth", depth),
	}

	m.webSearchesTotal.Add(ctx, 1, metric.WithAttributes(attrs...))

	if m.webResultsTotal != nil {
		m.webResultsTotal.Add(ctx, int64(results), metric.WithAttributes(attrs...))
	}
}

func (m *PrometheusMetrics) RecordStreamFrame(ctx context.Context, frameType string) {
	if m == nil || m.streamFramesTotal == nil {
		return
	}

	m.streamFramesTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", frameType),
	))
}

func (m *PrometheusMetrics) RecordHTTPRequest(ctx context.Context, method, route string, status int, duration time.Duration) {
	if m == nil || m.httpDuration == nil || m.httpRequestsTotal == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.String("status", strconv.Itoa(status)),
	}

	m.httpDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	m.httpRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// SetGlobalMetrics installs the process-wide metrics recorder.
func SetGlobalMetrics(m Metrics) {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	globalMetrics = m
}

// GetGlobalMetrics returns the process-wide metrics recorder, or nil when
// none has been installed.
func GetGlobalMetrics() Metrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return globalMetrics
}
