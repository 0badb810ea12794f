package relay

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"iter"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/chat-relay/chat-relay/internal/upstream"
)

func TestChatStreaming(t *testing.T) {
	tests := []struct {
		name        string
		units       []unit
		wantBody    string
		wantMarker  bool
		wantOutcome outcome
	}{
		{
			name:        "relays fragments verbatim and in order",
			units:       []unit{text("Hello"), text(", "), text("world")},
			wantBody:    "Hello, world",
			wantOutcome: outcomeStreamed,
		},
		{
			name:        "units without text contribute nothing",
			units:       []unit{empty(), text("Hello"), empty(), text(" world"), empty()},
			wantBody:    "Hello world",
			wantOutcome: outcomeStreamed,
		},
		{
			name:        "malformed unit is skipped without a marker",
			units:       []unit{text("Hello"), malformed(), text(" world")},
			wantBody:    "Hello world",
			wantOutcome: outcomeStreamed,
		},
		{
			name:        "mid-stream failure appends an error marker",
			units:       []unit{text("Partial"), broken("read completion stream: unexpected EOF")},
			wantBody:    "Partial\n\nError: read completion stream: unexpected EOF",
			wantMarker:  true,
			wantOutcome: outcomeStreamError,
		},
		{
			name:        "failure before any text still completes the response",
			units:       []unit{broken("connection reset by peer")},
			wantBody:    "\n\nError: connection reset by peer",
			wantMarker:  true,
			wantOutcome: outcomeStreamError,
		},
		{
			name:        "empty stream yields empty body",
			units:       nil,
			wantBody:    "",
			wantOutcome: outcomeStreamed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			streamer := &fakeStreamer{units: tt.units}
			metrics := NewMetrics(nil)
			relay := newTestRelay(t, streamer, WithMetrics(metrics, "/metrics"))

			w := postChat(t, relay, validChat)

			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", w.Code)
			}
			if got := w.Body.String(); got != tt.wantBody {
				t.Errorf("body = %q, want %q", got, tt.wantBody)
			}
			if tt.wantMarker && !strings.Contains(w.Body.String(), errorMarkerPrefix) {
				t.Error("expected error marker in body")
			}

			for header, want := range map[string]string{
				"Content-Type":      "text/plain; charset=utf-8",
				"Cache-Control":     "no-cache",
				"Connection":        "keep-alive",
				"X-Accel-Buffering": "no",
			} {
				if got := w.Header().Get(header); got != want {
					t.Errorf("%s = %q, want %q", header, got, want)
				}
			}

			if got := testutil.ToFloat64(metrics.requests.WithLabelValues(string(tt.wantOutcome))); got != 1 {
				t.Errorf("requests_total{outcome=%q} = %v, want 1", tt.wantOutcome, got)
			}
			if len(streamer.calls()) != 1 {
				t.Errorf("upstream calls = %d, want exactly 1", len(streamer.calls()))
			}
			if !streamer.released {
				t.Error("upstream stream was not released")
			}
		})
	}
}

func TestChatMetricsCountChunks(t *testing.T) {
	metrics := NewMetrics(nil)
	streamer := &fakeStreamer{units: []unit{text("a"), malformed(), empty(), text("b"), malformed()}}
	relay := newTestRelay(t, streamer, WithMetrics(metrics, "/metrics"))

	postChat(t, relay, validChat)

	if got := testutil.ToFloat64(metrics.chunks); got != 2 {
		t.Errorf("chunks_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(metrics.malformed); got != 2 {
		t.Errorf("malformed_units_total = %v, want 2", got)
	}

	w := httptest.NewRecorder()
	relay.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	for _, want := range []string{"chat_relay_chunks_total 2", "chat_relay_first_chunk_seconds_count 1"} {
		if !strings.Contains(w.Body.String(), want) {
			t.Errorf("metrics endpoint missing %q:\n%s", want, w.Body.String())
		}
	}
}

func TestChatConnectFailure(t *testing.T) {
	streamer := &fakeStreamer{openErr: errors.New("open completion stream: error, status code: 401, message: invalid api key")}
	metrics := NewMetrics(nil)
	relay := newTestRelay(t, streamer, WithMetrics(metrics, "/metrics"))

	w := postChat(t, relay, validChat)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var body detailResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("error body is not JSON: %v (%q)", err, w.Body.String())
	}
	if !strings.Contains(body.Detail, "invalid api key") {
		t.Errorf("detail = %q, want upstream description", body.Detail)
	}
	if strings.Contains(w.Body.String(), errorMarkerPrefix) {
		t.Error("connect failure must not produce stream content")
	}
	if streamer.yielded != 0 {
		t.Errorf("yielded %d units, want 0", streamer.yielded)
	}
	if got := testutil.ToFloat64(metrics.requests.WithLabelValues(string(outcomeConnectError))); got != 1 {
		t.Errorf("connect_error outcome = %v, want 1", got)
	}
}

func TestChatUpstreamRequest(t *testing.T) {
	tests := []struct {
		name         string
		body         string
		wantModel    string
		wantMessages []upstream.Message
	}{
		{
			name:      "model defaults when omitted",
			body:      `{"user_message":"hi","api_key":"sk-1"}`,
			wantModel: "gpt-4o-mini",
			wantMessages: []upstream.Message{
				{Role: upstream.RoleUser, Content: "hi"},
			},
		},
		{
			name:      "model defaults when null",
			body:      `{"user_message":"hi","api_key":"sk-1","model":null}`,
			wantModel: "gpt-4o-mini",
			wantMessages: []upstream.Message{
				{Role: upstream.RoleUser, Content: "hi"},
			},
		},
		{
			name:      "explicit model is forwarded",
			body:      `{"user_message":"hi","api_key":"sk-1","model":"anthropic/claude-3-5-haiku"}`,
			wantModel: "anthropic/claude-3-5-haiku",
			wantMessages: []upstream.Message{
				{Role: upstream.RoleUser, Content: "hi"},
			},
		},
		{
			name:      "empty developer message is omitted",
			body:      `{"developer_message":"","user_message":"hi","api_key":"sk-1"}`,
			wantModel: "gpt-4o-mini",
			wantMessages: []upstream.Message{
				{Role: upstream.RoleUser, Content: "hi"},
			},
		},
		{
			name:      "developer message becomes leading system entry",
			body:      `{"developer_message":"Answer in French.","user_message":"hi","api_key":"sk-1"}`,
			wantModel: "gpt-4o-mini",
			wantMessages: []upstream.Message{
				{Role: upstream.RoleSystem, Content: "Answer in French."},
				{Role: upstream.RoleUser, Content: "hi"},
			},
		},
		{
			name:      "empty user message is accepted",
			body:      `{"user_message":"","api_key":""}`,
			wantModel: "gpt-4o-mini",
			wantMessages: []upstream.Message{
				{Role: upstream.RoleUser, Content: ""},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			streamer := &fakeStreamer{units: []unit{text("ok")}}
			relay := newTestRelay(t, streamer)

			w := postChat(t, relay, tt.body)
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200 (%s)", w.Code, w.Body.String())
			}

			calls := streamer.calls()
			if len(calls) != 1 {
				t.Fatalf("upstream calls = %d, want 1", len(calls))
			}
			got := calls[0]

			if got.Model != tt.wantModel {
				t.Errorf("model = %q, want %q", got.Model, tt.wantModel)
			}
			if len(got.Messages) != len(tt.wantMessages) {
				t.Fatalf("messages = %+v, want %+v", got.Messages, tt.wantMessages)
			}
			for i := range got.Messages {
				if got.Messages[i] != tt.wantMessages[i] {
					t.Errorf("message %d = %+v, want %+v", i, got.Messages[i], tt.wantMessages[i])
				}
			}
		})
	}
}

func TestChatForwardsCredentialPerRequest(t *testing.T) {
	streamer := &fakeStreamer{units: []unit{text("ok")}}
	relay := newTestRelay(t, streamer)

	postChat(t, relay, `{"user_message":"hi","api_key":"sk-first"}`)
	postChat(t, relay, `{"user_message":"hi","api_key":"sk-second"}`)

	calls := streamer.calls()
	if len(calls) != 2 || calls[0].APIKey != "sk-first" || calls[1].APIKey != "sk-second" {
		t.Errorf("credentials = %+v, want each request's own key", calls)
	}
}

func TestChatDefaultModelOption(t *testing.T) {
	streamer := &fakeStreamer{}
	relay := newTestRelay(t, streamer, WithDefaultModel("openai/gpt-4.1-nano"))

	postChat(t, relay, `{"user_message":"hi","api_key":"sk-1"}`)

	if got := streamer.calls()[0].Model; got != "openai/gpt-4.1-nano" {
		t.Errorf("model = %q, want configured default", got)
	}
}

func TestChatRejectsInvalidRequests(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		opts       []Option
		wantStatus int
		wantDetail string
	}{
		{
			name:       "malformed JSON",
			body:       `{"user_message":`,
			wantStatus: http.StatusBadRequest,
			wantDetail: "invalid JSON body",
		},
		{
			name:       "missing user message",
			body:       `{"api_key":"sk-1"}`,
			wantStatus: http.StatusUnprocessableEntity,
			wantDetail: "user_message: field required",
		},
		{
			name:       "missing api key",
			body:       `{"user_message":"hi"}`,
			wantStatus: http.StatusUnprocessableEntity,
			wantDetail: "api_key: field required",
		},
		{
			name:       "null api key",
			body:       `{"user_message":"hi","api_key":null}`,
			wantStatus: http.StatusUnprocessableEntity,
			wantDetail: "api_key: field required",
		},
		{
			name:       "wrong field type",
			body:       `{"user_message":42,"api_key":"sk-1"}`,
			wantStatus: http.StatusBadRequest,
			wantDetail: "invalid JSON body",
		},
		{
			name:       "oversized body",
			body:       `{"user_message":"` + strings.Repeat("x", 256) + `","api_key":"sk-1"}`,
			opts:       []Option{WithMaxRequestBytes(64)},
			wantStatus: http.StatusRequestEntityTooLarge,
			wantDetail: http.StatusText(http.StatusRequestEntityTooLarge),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			streamer := &fakeStreamer{units: []unit{text("never")}}
			relay := newTestRelay(t, streamer, tt.opts...)

			w := postChat(t, relay, tt.body)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tt.wantStatus, w.Body.String())
			}
			var body detailResponse
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("error body is not JSON: %v", err)
			}
			if !strings.Contains(body.Detail, tt.wantDetail) {
				t.Errorf("detail = %q, want it to contain %q", body.Detail, tt.wantDetail)
			}
			if n := len(streamer.calls()); n != 0 {
				t.Errorf("upstream calls = %d, want 0", n)
			}
		})
	}
}

// blockingStreamer yields one fragment and then waits for cancellation,
// signalling once the stream has been released.
type blockingStreamer struct {
	released chan struct{}
	after    chan int
}

func (b *blockingStreamer) OpenStream(ctx context.Context, req upstream.Request) (iter.Seq2[upstream.Delta, error], error) {
	return func(yield func(upstream.Delta, error) bool) {
		defer close(b.released)

		if !yield(upstream.Some("first\n"), nil) {
			return
		}

		<-ctx.Done()
		extra := 0
		if yield(upstream.None(), ctx.Err()) {
			extra++
		}
		b.after <- extra
	}, nil
}

func TestChatClientDisconnectReleasesUpstream(t *testing.T) {
	streamer := &blockingStreamer{released: make(chan struct{}), after: make(chan int, 1)}
	relay := newTestRelay(t, streamer)

	server := httptest.NewServer(relay)
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, server.URL+"/api/chat", strings.NewReader(validChat))
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	// The first fragment arrives before the upstream finishes
	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	if err != nil || line != "first\n" {
		t.Fatalf("first chunk = %q, %v", line, err)
	}

	cancel()

	select {
	case <-streamer.released:
	case <-time.After(5 * time.Second):
		t.Fatal("upstream stream was not released after client disconnect")
	}

	if extra := <-streamer.after; extra != 0 {
		t.Errorf("relay kept consuming after disconnect (%d extra units)", extra)
	}
}
