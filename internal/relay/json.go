package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
)

// detailResponse is the error body for requests that fail before streaming.
type detailResponse struct {
	Detail string `json:"detail"`
}

// writeJSON writes a JSON response with the given status code.
// Logs encoding failures internally using the provided context.
func writeJSON(ctx context.Context, w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	// Headers and status are written before encoding to avoid buffering.
	// If encoding fails, the client may receive a partial response.
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.ErrorContext(ctx, "failed to encode JSON response", "error", err)
	}
}

// writeDetail writes a {"detail": ...} error response.
func writeDetail(ctx context.Context, w http.ResponseWriter, detail string, status int) {
	writeJSON(ctx, w, detailResponse{Detail: detail}, status)
}

// writeRawJSON writes an already encoded JSON document.
func writeRawJSON(ctx context.Context, w http.ResponseWriter, body json.RawMessage, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		slog.ErrorContext(ctx, "failed to write response", "error", err)
	}
}
