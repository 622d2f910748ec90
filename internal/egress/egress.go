// Package egress delivers agent-emitted and system-requested
// observations to the outside world via per-session or default
// adapters, returning delivery errors to a caller that logs and
// swallows them (fail-open).
package egress

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/nugget/gatecore/internal/observation"
)

// Adapter delivers a single Observation to an external sink (a chat
// channel, a webhook, an MQTT topic). Implementations must respect
// ctx's deadline; Dispatch returns a timeout like any other delivery
// error, for the caller to log and swallow.
type Adapter interface {
	Deliver(ctx context.Context, obs observation.Observation) error
}

// ShouldEgress reports whether obs is a deliverable the outside world
// should see: an agent-sourced MESSAGE, or a system-requested
// CONTROL(system_mode_changed) (spec section 4.8).
func ShouldEgress(obs observation.Observation) bool {
	if obs.ObsType == observation.TypeMessage && obs.IsAgentSourced() {
		return true
	}
	if obs.ObsType == observation.TypeControl && obs.Payload.Control != nil &&
		obs.Payload.Control.Kind == observation.ControlSystemModeChange {
		return true
	}
	return false
}

// Hub routes observations to the adapter registered for their session,
// falling back to a default adapter, and drops (with a counter) if
// neither exists.
type Hub struct {
	mu        sync.RWMutex
	def       Adapter
	bySession map[string]Adapter

	droppedTotal atomic.Int64
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{bySession: make(map[string]Adapter)}
}

// RegisterDefault sets the fallback adapter used when no session-
// specific adapter is registered.
func (h *Hub) RegisterDefault(adapter Adapter) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.def = adapter
}

// RegisterSession binds adapter to sessionKey, taking priority over the
// default adapter for that session's observations.
func (h *Hub) RegisterSession(sessionKey string, adapter Adapter) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.bySession[sessionKey] = adapter
}

// Dispatch delivers obs via the session-specific adapter if one is
// registered, else the default, else drops it and increments
// droppedTotal. Delivery errors are returned to the caller, which is
// expected to log and swallow them (fail-open, spec section 4.7).
func (h *Hub) Dispatch(ctx context.Context, obs observation.Observation) error {
	h.mu.RLock()
	adapter, ok := h.bySession[obs.Session]
	if !ok {
		adapter = h.def
		ok = adapter != nil
	}
	h.mu.RUnlock()

	if !ok {
		h.droppedTotal.Add(1)
		return nil
	}
	return adapter.Deliver(ctx, obs)
}

// DroppedTotal returns the cumulative count of observations dropped for
// lack of any registered adapter.
func (h *Hub) DroppedTotal() int64 {
	return h.droppedTotal.Load()
}
