package observability

import (
	"context"
	"net/http"
	"time"
)

// NoopMetrics is a Metrics implementation that records nothing. Use it when
// observability is disabled but callers still want a non-nil recorder.
type NoopMetrics struct{}

func (NoopMetrics) RecordTurn(_ context.Context, _ time.Duration, _ error) {}

func (NoopMetrics) RecordNodeExecution(_ context.Context, _ string, _ time.Duration, _ error) {}

func (NoopMetrics) RecordLLMCall(_ context.Context, _ string, _ time.Duration, _, _ int, _ error) {}

func (NoopMetrics) RecordSearch(_ context.Context, _ string, _ time.Duration, _ int) {}

func (NoopMetrics) RecordWebSearch(_ context.Context, _ string, _ int) {}

func (NoopMetrics) RecordStreamFrame(_ context.Context, _ string) {}

func (NoopMetrics) RecordHTTPRequest(_ context.Context, _, _ string, _ int, _ time.Duration) {}

// NotEnabledHandler returns a handler that reports metrics as disabled.
func NotEnabledHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("metrics not enabled"))
	})
}

var (
	_ Metrics = (*PrometheusMetrics)(nil)
	_ Metrics = NoopMetrics{}
)
