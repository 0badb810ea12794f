package app

import (
	"log/slog"
	"sync/atomic"

	"github.com/chat-relay/chat-relay/internal/relay"
)

// Health tracks whether the relay accepts traffic, backing GET /api/ready.
// Liveness (GET /api/health) is static and does not consult it.
type Health struct {
	ready atomic.Bool
}

var _ relay.ReadinessChecker = (*Health)(nil)

// NewHealth creates a Health that starts out not ready.
func NewHealth() *Health {
	return &Health{}
}

// SetReady updates readiness, logging only actual transitions.
func (h *Health) SetReady(ready bool) {
	if h.ready.Swap(ready) != ready {
		slog.Info("readiness changed", "ready", ready)
	}
}

func (h *Health) IsReady() bool {
	return h.ready.Load()
}
