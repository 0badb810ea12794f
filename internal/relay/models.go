package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/chat-relay/chat-relay/internal/registry"
)

// ModelLister returns the model catalog served to model pickers.
type ModelLister interface {
	Models(ctx context.Context) (json.RawMessage, error)
}

type modelsErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// modelsHandler serves the gateway's model registry from the server side, so
// browsers do not hit the registry's CORS policy.
func modelsHandler(models ModelLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		body, err := models.Models(ctx)
		if err == nil {
			writeRawJSON(ctx, w, body, http.StatusOK)
			return
		}

		slog.ErrorContext(ctx, "failed to fetch models", "error", err)

		var statusErr *registry.StatusError
		switch {
		case errors.As(err, &statusErr):
			writeJSON(ctx, w, modelsErrorResponse{
				Error:  fmt.Sprintf("Failed to fetch models from Helicone: %d", statusErr.Status),
				Detail: statusErr.Body,
			}, relayedStatus(statusErr.Status))
		case errors.Is(err, registry.ErrUnexpectedShape):
			writeJSON(ctx, w, modelsErrorResponse{
				Error: "Unexpected response structure from Helicone API",
			}, http.StatusInternalServerError)
		default:
			writeJSON(ctx, w, modelsErrorResponse{
				Error:  "Failed to fetch models",
				Detail: err.Error(),
			}, http.StatusInternalServerError)
		}
	}
}

// relayedStatus mirrors registry error statuses. Anything else (1xx-3xx) cannot
// carry the JSON error body and becomes 502.
func relayedStatus(status int) int {
	if status >= http.StatusBadRequest && status <= 599 {
		return status
	}
	return http.StatusBadGateway
}
