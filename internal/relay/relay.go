// Package relay serves the chat relay HTTP API: a streaming chat endpoint that
// forwards requests to an upstream AI gateway, plus health, readiness, model
// catalog and metrics endpoints.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	obsmiddleware "github.com/chat-relay/chat-relay/internal/observability/middleware"
	"github.com/chat-relay/chat-relay/internal/upstream"
)

const (
	defaultMaxRequestBytes   = 1 << 20
	defaultReadHeaderTimeout = 10 * time.Second
	defaultMetricsPath       = "/metrics"
)

// Relay is the HTTP server of the chat relay. Handlers are stateless apart from
// the model catalog cache; nothing is shared between chat requests.
type Relay struct {
	handler http.Handler
	server  *http.Server

	defaultModel      string
	maxRequestBytes   int64
	readHeaderTimeout time.Duration
	metrics           *Metrics
	metricsPath       string
	logger            *slog.Logger
}

// Compile-time check that Relay implements http.Handler
var _ http.Handler = (*Relay)(nil)

// Option configures a Relay.
type Option func(*Relay)

// WithDefaultModel sets the model used when a request does not name one.
func WithDefaultModel(model string) Option {
	return func(r *Relay) {
		r.defaultModel = model
	}
}

// WithMaxRequestBytes bounds the size of request bodies.
func WithMaxRequestBytes(n int64) Option {
	return func(r *Relay) {
		r.maxRequestBytes = n
	}
}

// WithReadHeaderTimeout bounds how long a client may take to send request headers.
func WithReadHeaderTimeout(d time.Duration) Option {
	return func(r *Relay) {
		r.readHeaderTimeout = d
	}
}

// WithMetrics records relay metrics and serves them at path.
func WithMetrics(metrics *Metrics, path string) Option {
	return func(r *Relay) {
		r.metrics = metrics
		r.metricsPath = path
	}
}

// WithLogger sets the logger used for access logs.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) {
		r.logger = logger
	}
}

// New creates a Relay that streams chat completions from streamer and serves
// the model catalog from models. readiness may be nil, in which case the
// readiness endpoint always reports not ready.
func New(streamer upstream.Streamer, models ModelLister, readiness ReadinessChecker, opts ...Option) (*Relay, error) {
	if streamer == nil {
		return nil, errors.New("streamer cannot be nil")
	}
	if models == nil {
		return nil, errors.New("model lister cannot be nil")
	}

	r := &Relay{
		defaultModel:      DefaultModel,
		maxRequestBytes:   defaultMaxRequestBytes,
		readHeaderTimeout: defaultReadHeaderTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.maxRequestBytes <= 0 {
		return nil, fmt.Errorf("max request bytes must be positive, got %d", r.maxRequestBytes)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.metrics != nil && r.metricsPath == "" {
		r.metricsPath = defaultMetricsPath
	}

	chat := NewChatHandler(streamer, r.defaultModel, r.metrics)

	router := chi.NewRouter()
	// Order matters: Logging must wrap every middleware that sets log attributes
	router.Use(
		obsmiddleware.RequestIDGeneration,
		obsmiddleware.Logging(r.logger, "/api/health", "/api/ready", r.metricsPath),
		obsmiddleware.TraceContextExtraction,
		obsmiddleware.RequestIDPropagation,
		Recovery,
		CORS(),
	)

	router.Get("/api/health", healthHandler())
	router.Get("/api/ready", readinessHandler(readiness))
	router.Get("/api/models", modelsHandler(models))
	router.With(RequestSizeLimit(r.maxRequestBytes)).Post("/api/chat", chat.ServeHTTP)

	if r.metrics != nil {
		router.Method(http.MethodGet, r.metricsPath, r.metrics.Handler())
	}

	r.handler = router
	return r, nil
}

// ServeHTTP implements http.Handler.
func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.handler.ServeHTTP(w, req)
}

// Start listens on addr and serves in the background. Serve errors are
// delivered on the returned channel, which is closed when serving stops.
func (r *Relay) Start(ctx context.Context, addr string) (<-chan error, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	// No WriteTimeout: a stream lasts as long as the upstream keeps producing
	r.server = &http.Server{
		Handler:           r,
		ReadHeaderTimeout: r.readHeaderTimeout,
		ErrorLog:          slog.NewLogLogger(r.logger.Handler(), slog.LevelWarn),
	}

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := r.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.InfoContext(ctx, "relay listening", "addr", ln.Addr().String())
	return errCh, nil
}

// Shutdown stops accepting connections and waits for in-flight streams until
// ctx expires, then closes whatever is still open.
func (r *Relay) Shutdown(ctx context.Context) error {
	if r.server == nil {
		return nil
	}

	err := r.server.Shutdown(ctx)
	if err != nil {
		slog.WarnContext(ctx, "forcing close of open streams", "error", err)
		if closeErr := r.server.Close(); closeErr != nil {
			return errors.Join(err, closeErr)
		}
	}
	return err
}
