package observability

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"

	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/trace"
)

func TestTraceContextHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newTraceContextHandler(slog.NewTextHandler(&buf, nil)))

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID,
		SpanID:  spanID,
		Remote:  true,
	}))

	logger.InfoContext(ctx, "relaying")
	line := buf.String()
	if !strings.Contains(line, "trace_id=4bf92f3577b34da6a3ce929d0e0e4736") ||
		!strings.Contains(line, "span_id=00f067aa0ba902b7") {
		t.Errorf("missing trace attributes in %q", line)
	}

	buf.Reset()
	logger.InfoContext(context.Background(), "relaying")
	if strings.Contains(buf.String(), "trace_id") {
		t.Errorf("unexpected trace attributes in %q", buf.String())
	}
}

// recordingExporter keeps exported log records in memory.
type recordingExporter struct {
	mu      sync.Mutex
	records []sdklog.Record
}

func (e *recordingExporter) Export(_ context.Context, records []sdklog.Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range records {
		e.records = append(e.records, r.Clone())
	}
	return nil
}

func (e *recordingExporter) Shutdown(context.Context) error   { return nil }
func (e *recordingExporter) ForceFlush(context.Context) error { return nil }

func TestNewHandlerSendsRecordsToStdoutAndExporter(t *testing.T) {
	var buf bytes.Buffer
	exp := &recordingExporter{}
	provider := sdklog.NewLoggerProvider(sdklog.WithProcessor(sdklog.NewSimpleProcessor(exp)))
	defer func() { _ = provider.Shutdown(context.Background()) }()

	logger := slog.New(newHandler(slog.NewTextHandler(&buf, nil), provider)).With("component", "relay")
	logger.Warn("skipping malformed unit")

	if !strings.Contains(buf.String(), "skipping malformed unit") || !strings.Contains(buf.String(), "component=relay") {
		t.Errorf("stdout handler output = %q", buf.String())
	}

	exp.mu.Lock()
	defer exp.mu.Unlock()
	if len(exp.records) != 1 {
		t.Fatalf("exported %d records, want 1", len(exp.records))
	}
	if got := exp.records[0].Body().AsString(); got != "skipping malformed unit" {
		t.Errorf("exported body = %q", got)
	}
}

func TestNewHandlerWithoutExporter(t *testing.T) {
	var buf bytes.Buffer
	slog.New(newHandler(slog.NewTextHandler(&buf, nil), nil)).Info("relaying")

	if strings.Count(buf.String(), "relaying") != 1 {
		t.Errorf("stdout handler output = %q", buf.String())
	}
}

func TestNewStdoutHandler(t *testing.T) {
	for _, format := range []string{"text", "json", "JSON"} {
		if _, err := newStdoutHandler(slog.LevelInfo, format); err != nil {
			t.Errorf("newStdoutHandler(%q) error = %v", format, err)
		}
	}
	if _, err := newStdoutHandler(slog.LevelInfo, "xml"); err == nil {
		t.Error("newStdoutHandler(\"xml\") should fail")
	}
}

func TestNewLogExporterRejectsUnknown(t *testing.T) {
	if _, err := newLogExporter(context.Background(), "kafka"); err == nil {
		t.Error("newLogExporter(\"kafka\") should fail")
	}
}
