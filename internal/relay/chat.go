package relay

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	obsmiddleware "github.com/chat-relay/chat-relay/internal/observability/middleware"
	"github.com/chat-relay/chat-relay/internal/upstream"
)

// DefaultModel is used when a chat request does not name a model.
const DefaultModel = "gpt-4o-mini"

// errorMarkerPrefix introduces the in-band note appended when the upstream
// stream fails after the response has started.
const errorMarkerPrefix = "\n\nError: "

// chatRequest is the body of POST /api/chat. Required fields are pointers so
// that a missing field is rejected while an explicit empty string is relayed.
type chatRequest struct {
	DeveloperMessage string  `json:"developer_message"`
	UserMessage      *string `json:"user_message" validate:"required"`
	Model            *string `json:"model"`
	APIKey           *string `json:"api_key" validate:"required"`
}

// toUpstream builds the single upstream call for this request.
func (r chatRequest) toUpstream(defaultModel string) upstream.Request {
	model := defaultModel
	if r.Model != nil && *r.Model != "" {
		model = *r.Model
	}

	return upstream.Request{
		Model:    model,
		Messages: upstream.BuildMessages(r.DeveloperMessage, *r.UserMessage),
		APIKey:   *r.APIKey,
	}
}

// ChatHandler relays one chat request to the upstream gateway and streams the
// assistant text back as plain text.
//
// Failures before the stream opens are reported with a status code. Once the
// stream is open the response is committed: malformed units are skipped and a
// stream failure is appended to the body as a readable note.
type ChatHandler struct {
	Upstream     upstream.Streamer
	DefaultModel string
	Metrics      *Metrics

	validate *validator.Validate
}

// Compile-time check to ensure ChatHandler implements http.Handler
var _ http.Handler = (*ChatHandler)(nil)

// NewChatHandler creates a ChatHandler. An empty defaultModel selects DefaultModel.
func NewChatHandler(streamer upstream.Streamer, defaultModel string, metrics *Metrics) *ChatHandler {
	if defaultModel == "" {
		defaultModel = DefaultModel
	}
	return &ChatHandler{
		Upstream:     streamer,
		DefaultModel: defaultModel,
		Metrics:      metrics,
		validate:     newValidator(),
	}
}

// ServeHTTP implements http.Handler.
func (h *ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	started := time.Now()

	req, ok := h.decodeRequest(ctx, w, r)
	if !ok {
		h.Metrics.observeRequest(outcomeInvalidRequest)
		return
	}

	upstreamReq := req.toUpstream(h.DefaultModel)
	obsmiddleware.SetLogAttrs(ctx, slog.String("model", upstreamReq.Model))

	units, err := h.Upstream.OpenStream(ctx, upstreamReq)
	if err != nil {
		slog.ErrorContext(ctx, "upstream connect failed", "model", upstreamReq.Model, "error", err)
		h.Metrics.observeRequest(outcomeConnectError)
		writeDetail(ctx, w, err.Error(), http.StatusInternalServerError)
		return
	}

	outcome := h.relay(ctx, w, units, started)
	h.Metrics.observeRequest(outcome)
}

// decodeRequest reads and validates the request body, writing the error
// response itself when it fails.
func (h *ChatHandler) decodeRequest(ctx context.Context, w http.ResponseWriter, r *http.Request) (chatRequest, bool) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			slog.WarnContext(ctx, "request exceeds size limit", "limit_bytes", maxBytesErr.Limit)
			writeDetail(ctx, w, http.StatusText(http.StatusRequestEntityTooLarge), http.StatusRequestEntityTooLarge)
			return req, false
		}
		slog.WarnContext(ctx, "failed to decode request", "error", err)
		writeDetail(ctx, w, "invalid JSON body: "+err.Error(), http.StatusBadRequest)
		return req, false
	}

	if err := h.validate.StructCtx(ctx, req); err != nil {
		slog.WarnContext(ctx, "invalid chat request", "error", err)
		writeDetail(ctx, w, describeValidation(err), http.StatusUnprocessableEntity)
		return req, false
	}

	return req, true
}

// relay streams units to the client in arrival order and reports how the
// stream ended. It never fails the response: by the time it runs the status
// line has been sent.
func (h *ChatHandler) relay(ctx context.Context, w http.ResponseWriter, units iter.Seq2[upstream.Delta, error], started time.Time) outcome {
	stream := newTextStream(w)
	if err := stream.Start(); err != nil {
		slog.DebugContext(ctx, "client gone before stream start", "error", err)
		return outcomeClientGone
	}

	relayed := 0
	for delta, err := range units {
		// Leaving the loop releases the upstream stream
		if ctx.Err() != nil {
			slog.DebugContext(ctx, "client disconnected during stream", "chunks", relayed)
			return outcomeClientGone
		}

		if err != nil {
			var decodeErr *upstream.DecodeError
			if errors.As(err, &decodeErr) {
				slog.WarnContext(ctx, "skipping malformed stream unit", "error", err)
				h.Metrics.observeMalformedUnit()
				continue
			}

			slog.ErrorContext(ctx, "upstream stream failed", "chunks", relayed, "error", err)
			if writeErr := stream.WriteString(errorMarkerPrefix + err.Error()); writeErr != nil {
				slog.DebugContext(ctx, "failed to write error marker", "error", writeErr)
				return outcomeClientGone
			}
			return outcomeStreamError
		}

		text, ok := delta.Get()
		if !ok {
			continue
		}

		if err := stream.WriteString(text); err != nil {
			slog.DebugContext(ctx, "failed to write chunk", "chunks", relayed, "error", err)
			return outcomeClientGone
		}

		if relayed == 0 {
			h.Metrics.observeFirstChunk(time.Since(started))
		}
		relayed++
		h.Metrics.observeChunk()
	}

	slog.DebugContext(ctx, "stream completed", "chunks", relayed)
	return outcomeStreamed
}
