package observability

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	slogmulti "github.com/samber/slog-multi"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/processors/minsev"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// instrumentationName identifies this service's logger in exported records.
const instrumentationName = "github.com/chat-relay/chat-relay"

// Log exporters supported in addition to the stdout handler.
const (
	ExporterNone     = "none"
	ExporterStdout   = "stdout"
	ExporterOTLPHTTP = "otlp-http"
	ExporterOTLPGRPC = "otlp-grpc"
)

// Options configures the process-wide logging setup.
type Options struct {
	Level    slog.Level
	Format   string
	Exporter string
}

// ShutdownFunc flushes and stops exporters started by Instrument.
type ShutdownFunc func(context.Context) error

// Instrument installs the default slog logger and the W3C trace context
// propagator. When an exporter is configured, records are additionally sent
// through the OpenTelemetry logs pipeline; the returned ShutdownFunc flushes it.
// OTLP exporters read their endpoint from the standard OTEL_EXPORTER_OTLP_* env.
func Instrument(ctx context.Context, opts Options) (ShutdownFunc, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	stdout, err := newStdoutHandler(opts.Level, opts.Format)
	if err != nil {
		return nil, err
	}

	exporter := strings.ToLower(opts.Exporter)
	if exporter == "" || exporter == ExporterNone {
		slog.SetDefault(slog.New(newHandler(stdout, nil)))
		return func(context.Context) error { return nil }, nil
	}

	provider, err := newLoggerProvider(ctx, exporter, opts.Level)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(slog.New(newHandler(stdout, provider)))

	return provider.Shutdown, nil
}

// newHandler enriches stdout records with trace context and, when provider is
// set, also sends every record through the OpenTelemetry logs pipeline.
func newHandler(stdout slog.Handler, provider otellog.LoggerProvider) slog.Handler {
	handler := slog.Handler(newTraceContextHandler(stdout))
	if provider == nil {
		return handler
	}

	return slogmulti.Fanout(
		handler,
		otelslog.NewHandler(instrumentationName, otelslog.WithLoggerProvider(provider)),
	)
}

// newStdoutHandler creates a handler for human-readable logs.
func newStdoutHandler(level slog.Level, logFormat string) (slog.Handler, error) {
	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	switch strings.ToLower(logFormat) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q (expected: json, text)", logFormat)
	}

	return handler, nil
}

// newLoggerProvider builds an OpenTelemetry logger provider that batches
// records at or above level to the named exporter.
func newLoggerProvider(ctx context.Context, exporter string, level slog.Level) (*sdklog.LoggerProvider, error) {
	exp, err := newLogExporter(ctx, exporter)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s log exporter: %w", exporter, err)
	}

	processor := minsev.NewLogProcessor(sdklog.NewBatchProcessor(exp), toSeverity(level))

	return sdklog.NewLoggerProvider(sdklog.WithProcessor(processor)), nil
}

func newLogExporter(ctx context.Context, exporter string) (sdklog.Exporter, error) {
	switch exporter {
	case ExporterStdout:
		return stdoutlog.New()
	case ExporterOTLPHTTP:
		return otlploghttp.New(ctx)
	case ExporterOTLPGRPC:
		return otlploggrpc.New(ctx)
	default:
		return nil, fmt.Errorf("unsupported log exporter %q (expected: %s, %s, %s, %s)",
			exporter, ExporterNone, ExporterStdout, ExporterOTLPHTTP, ExporterOTLPGRPC)
	}
}

// toSeverity maps an slog level onto the minimum OpenTelemetry severity.
func toSeverity(level slog.Level) minsev.Severity {
	switch {
	case level < slog.LevelInfo:
		return minsev.SeverityDebug
	case level < slog.LevelWarn:
		return minsev.SeverityInfo
	case level < slog.LevelError:
		return minsev.SeverityWarn
	default:
		return minsev.SeverityError
	}
}
