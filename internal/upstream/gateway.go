package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// DefaultBaseURL is the Helicone AI gateway, which speaks the OpenAI chat
// completions protocol and routes to the provider owning the requested model.
const DefaultBaseURL = "https://ai-gateway.helicone.ai"

// Gateway opens streaming chat completions against an OpenAI-compatible endpoint.
// It holds no per-request state; the credential of each request is used to build
// a fresh client for that request only.
type Gateway struct {
	baseURL   string
	transport http.RoundTripper
}

// Compile-time check that Gateway implements Streamer
var _ Streamer = (*Gateway)(nil)

// Option configures a Gateway.
type Option func(*Gateway)

// WithTransport overrides the HTTP transport used for upstream calls.
func WithTransport(transport http.RoundTripper) Option {
	return func(g *Gateway) {
		g.transport = transport
	}
}

// NewGateway creates a Gateway for the given base URL.
func NewGateway(baseURL string, opts ...Option) (*Gateway, error) {
	if baseURL == "" {
		return nil, errors.New("base URL cannot be empty")
	}

	g := &Gateway{
		baseURL:   strings.TrimRight(baseURL, "/"),
		transport: newTransport(),
	}
	for _, opt := range opts {
		opt(g)
	}

	if g.transport == nil {
		return nil, errors.New("transport cannot be nil")
	}

	return g, nil
}

// newTransport returns a transport that never reuses connections, so every
// request owns its upstream connection for the lifetime of its stream.
func newTransport() http.RoundTripper {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DisableKeepAlives = true
	return transport
}

// OpenStream starts a streaming completion. The returned sequence reads raw
// units so that a malformed unit can be reported and skipped without giving up
// on the rest of the stream.
func (g *Gateway) OpenStream(ctx context.Context, req Request) (iter.Seq2[Delta, error], error) {
	config := openai.DefaultConfig(req.APIKey)
	config.BaseURL = g.baseURL
	// Client.Timeout = 0 keeps long-running streams open; cancellation comes from ctx
	config.HTTPClient = &http.Client{Transport: g.transport}

	client := openai.NewClientWithConfig(config)

	stream, err := client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: toChatCompletionMessages(req.Messages),
		Stream:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("open completion stream: %w", err)
	}

	return func(yield func(Delta, error) bool) {
		defer stream.Close()

		for {
			raw, err := stream.RecvRaw()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(None(), fmt.Errorf("read completion stream: %w", err))
				return
			}

			if !yield(decodeUnit(raw)) {
				return
			}
		}
	}, nil
}

func toChatCompletionMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		out[i] = openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		}
	}
	return out
}

// decodeUnit extracts the assistant text of the first choice of a streamed unit.
// Units without choices or without content decode to None.
func decodeUnit(raw []byte) (Delta, error) {
	var unit openai.ChatCompletionStreamResponse
	if err := json.Unmarshal(raw, &unit); err != nil {
		return None(), &DecodeError{Raw: raw, Err: err}
	}

	if len(unit.Choices) == 0 || unit.Choices[0].Delta.Content == "" {
		return None(), nil
	}

	return Some(unit.Choices[0].Delta.Content), nil
}
