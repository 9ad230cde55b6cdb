// Package server exposes the engine over HTTP. It serves the session
// lifecycle and document endpoints, a buffered chat endpoint, and an SSE
// endpoint that relays stream frames as the graph produces them.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/strandlabs/strand/pkg/config"
	"github.com/strandlabs/strand/pkg/extract"
	"github.com/strandlabs/strand/pkg/observability"
	"github.com/strandlabs/strand/pkg/runtime"
	"github.com/strandlabs/strand/pkg/session"
	"github.com/strandlabs/strand/pkg/stream"
)

// Engine is the runtime surface the server drives. *runtime.Runtime
// implements it.
type Engine interface {
	Config() *config.Config
	Sessions() session.Service
	Turn(ctx context.Context, req runtime.TurnRequest, sink stream.Sink) (*runtime.TurnResult, error)
	AddDocuments(ctx context.Context, sessionID string, docType session.DocType, uploads []extract.Upload) ([]extract.Document, error)
	LoadKB(ctx context.Context, sessionID string) ([]extract.Document, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

// Server hosts the HTTP API.
type Server struct {
	cfg     *config.ServerConfig
	engine  Engine
	obs     *observability.Manager
	metrics observability.Metrics
	logger  *slog.Logger
	version string

	http *http.Server
}

// Option configures the server.
type Option func(*Server)

// WithObservability attaches the observability manager. The server records
// HTTP metrics through it and mounts the metrics endpoint when enabled.
func WithObservability(obs *observability.Manager) Option {
	return func(s *Server) { s.obs = obs }
}

// WithVersion sets the version reported by the root endpoint.
func WithVersion(version string) Option {
	return func(s *Server) { s.version = version }
}

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// New creates a server for the given engine.
func New(cfg *config.ServerConfig, engine Engine, opts ...Option) *Server {
	if cfg == nil {
		cfg = &config.ServerConfig{}
	}
	cfg.SetDefaults()

	s := &Server{
		cfg:     cfg,
		engine:  engine,
		metrics: observability.NoopMetrics{},
		logger:  slog.Default(),
		version: "dev",
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.obs != nil {
		s.metrics = s.obs.Metrics()
	}
	return s
}

// Start runs the HTTP server until ctx is cancelled or the listener fails.
// On cancellation it drains in-flight requests before returning.
func (s *Server) Start(ctx context.Context) error {
	s.http = &http.Server{
		Addr:         s.cfg.Address(),
		Handler:      s.Routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	s.logger.Info("HTTP server started", "address", s.cfg.Address())

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: listen on %s: %w", s.cfg.Address(), err)
		}
		return nil
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

// Shutdown stops accepting connections and waits up to five seconds for
// in-flight requests to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	s.logger.Info("HTTP server shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

// Routes assembles the router. Exposed for tests.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.observe)
	r.Use(s.cors)

	r.Get("/", s.handleRoot)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Post("/sessions", s.handleCreateSession)
		r.Route("/sessions/{sessionID}", func(r chi.Router) {
			r.Get("/", s.handleGetSession)
			r.Delete("/", s.handleDeleteSession)
			r.Post("/gpt-config", s.handleSetGPTConfig)
			r.Post("/add-documents", s.handleAddDocuments)
			r.Get("/documents", s.handleGetDocuments)
			r.Post("/load-kb", s.handleLoadKB)
			r.Post("/chat", s.handleChat)
			r.Post("/chat/stream", s.handleChatStream)
		})
	})

	if s.obs != nil && s.obs.MetricsEnabled() {
		r.Get(s.obs.MetricsEndpoint(), s.obs.MetricsHandler().ServeHTTP)
		s.logger.Info("Metrics endpoint enabled", "path", s.obs.MetricsEndpoint())
	}

	return r
}

// responseWriter captures the status code. It forwards Flush so SSE
// streaming keeps working behind the middleware.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (w *responseWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *responseWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// observe traces each request and records its duration, logging at debug
// so request noise stays out of production logs.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		tracer := observability.GetTracer("strand.http")
		ctx, span := tracer.Start(r.Context(), "http.request",
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.path", r.URL.Path),
			),
		)
		defer span.End()
		r = r.WithContext(ctx)

		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		span.SetAttributes(attribute.Int("http.status_code", wrapped.status))
		if wrapped.status >= 500 {
			span.SetStatus(codes.Error, http.StatusText(wrapped.status))
		} else {
			span.SetStatus(codes.Ok, http.StatusText(wrapped.status))
		}

		s.metrics.RecordHTTPRequest(ctx, r.Method, routePattern(r), wrapped.status, duration)
		s.logger.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"duration", duration)
	})
}

// routePattern returns the matched chi pattern, so metrics label by route
// template rather than by raw path.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return r.URL.Path
}

func (s *Server) cors(next http.Handler) http.Handler {
	cors := s.cfg.CORS
	allowMethods := strings.Join(cors.AllowedMethods, ", ")
	allowHeaders := strings.Join(cors.AllowedHeaders, ", ")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := allowOrigin(cors.AllowedOrigins, r.Header.Get("Origin")); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}
		w.Header().Set("Access-Control-Allow-Methods", allowMethods)
		w.Header().Set("Access-Control-Allow-Headers", allowHeaders)
		if cors.AllowCredentials {
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func allowOrigin(allowed []string, origin string) string {
	for _, a := range allowed {
		if a == "*" {
			return "*"
		}
		if origin != "" && a == origin {
			return origin
		}
	}
	return ""
}
