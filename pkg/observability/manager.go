package observability

import (
	"context"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"
)

// Manager owns the tracing and metrics lifecycle.
type Manager struct {
	config         Config
	tracerProvider trace.TracerProvider
	metrics        *PrometheusMetrics
	mu             sync.Mutex
}

// NewManager creates a manager for the given configuration. Call Initialize
// before use.
func NewManager(cfg Config) *Manager {
	cfg.SetDefaults()
	return &Manager{config: cfg}
}

// Initialize sets up the global tracer provider and metric instruments.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tp, err := InitGlobalTracer(ctx, m.config.Tracing)
	if err != nil {
		return err
	}
	m.tracerProvider = tp

	metrics, err := InitMetrics(ctx, m.config.Metrics)
	if err != nil {
		return err
	}
	m.metrics = metrics
	SetGlobalMetrics(metrics)

	return nil
}

// Tracer returns a tracer named after the service.
func (m *Manager) Tracer() trace.Tracer {
	return GetTracer(m.config.Tracing.ServiceName)
}

// Metrics returns the metrics recorder. Safe to call before Initialize;
// the zero recorder is inert.
func (m *Manager) Metrics() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.metrics == nil {
		return &PrometheusMetrics{}
	}
	return m.metrics
}

// MetricsEnabled reports whether metrics collection is on.
func (m *Manager) MetricsEnabled() bool {
	return m.config.Metrics.Enabled
}

// MetricsEndpoint returns the path metrics are exposed on.
func (m *Manager) MetricsEndpoint() string {
	return m.config.Metrics.Endpoint
}

// MetricsHandler returns the Prometheus exposition handler.
func (m *Manager) MetricsHandler() http.Handler {
	if !m.config.Metrics.Enabled {
		return NotEnabledHandler()
	}
	return promhttp.Handler()
}

// Shutdown flushes and stops the tracer provider.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.tracerProvider != nil {
		if shutdown, ok := m.tracerProvider.(interface {
			Shutdown(context.Context) error
		}); ok {
			return shutdown.Shutdown(ctx)
		}
	}
	return nil
}
