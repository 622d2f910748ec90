// Package session demultiplexes the input bus into per-session bounded
// FIFO inboxes, and owns the runtime-only SessionState each session's
// worker mutates.
package session

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/nugget/gatecore/internal/observation"
)

// InboxCapacity is the bounded capacity of each per-session inbox.
const InboxCapacity = 256

// ResolveSessionKey derives a session_key for an Observation that
// arrives without one. MESSAGE observations from a user actor route to
// a per-actor DM session; ALERT, SCHEDULE, SYSTEM and CONTROL route to
// the reserved system session; everything else routes to "unknown".
func ResolveSessionKey(obs observation.Observation) string {
	if obs.Session != "" {
		return obs.Session
	}
	switch obs.ObsType {
	case observation.TypeMessage:
		if obs.Actor.ActorType == observation.ActorUser {
			return "dm:" + obs.Actor.ActorID
		}
		return "unknown"
	case observation.TypeSchedule, observation.TypeAlert, observation.TypeSystem, observation.TypeControl:
		return observation.SystemSessionKey
	default:
		return "unknown"
	}
}

// Router demultiplexes a single bus stream into per-session inboxes. It
// is the only component that creates and removes inboxes; Route
// resolves each observation's session key itself via ResolveSessionKey.
type Router struct {
	logger *slog.Logger

	mu      sync.RWMutex
	inboxes map[string]chan observation.Observation

	droppedTotal int64
	droppedMu    sync.Mutex
}

// New creates an empty Router.
func New(logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		logger:  logger,
		inboxes: make(map[string]chan observation.Observation),
	}
}

// EnsureInbox returns the inbox channel for sessionKey, creating a new
// bounded channel if one does not already exist.
func (r *Router) EnsureInbox(sessionKey string) <-chan observation.Observation {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.inboxes[sessionKey]
	if !ok {
		ch = make(chan observation.Observation, InboxCapacity)
		r.inboxes[sessionKey] = ch
	}
	return ch
}

// Route resolves obs's session key and enqueues it into that session's
// inbox, creating the inbox if necessary. On a full inbox, the
// observation is dropped (drop-newest) and dropped_total is
// incremented. Route never blocks.
func (r *Router) Route(obs observation.Observation) (sessionKey string, dropped bool) {
	sessionKey = ResolveSessionKey(obs)

	r.mu.Lock()
	ch, ok := r.inboxes[sessionKey]
	if !ok {
		ch = make(chan observation.Observation, InboxCapacity)
		r.inboxes[sessionKey] = ch
	}
	r.mu.Unlock()

	select {
	case ch <- obs:
		return sessionKey, false
	default:
		r.droppedMu.Lock()
		r.droppedTotal++
		r.droppedMu.Unlock()
		r.logger.Warn("session inbox full, dropping newest observation",
			"session_key", sessionKey, "obs_id", obs.ObsID)
		return sessionKey, true
	}
}

// DroppedTotal returns the cumulative count of observations dropped due
// to a full session inbox.
func (r *Router) DroppedTotal() int64 {
	r.droppedMu.Lock()
	defer r.droppedMu.Unlock()
	return r.droppedTotal
}

// ListActiveSessions returns a stable, sorted snapshot of session keys
// that currently have an inbox.
func (r *Router) ListActiveSessions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.inboxes))
	for k := range r.inboxes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// HasSession reports whether sessionKey currently has an inbox.
func (r *Router) HasSession(sessionKey string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.inboxes[sessionKey]
	return ok
}

// RemoveSession deletes a session's inbox. Must be called by the idle
// GC after the owning worker has terminated; otherwise the watcher will
// observe the session still listed and revive a worker for it
// immediately (spec section 4.2, 4.7).
func (r *Router) RemoveSession(sessionKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.inboxes[sessionKey]; !ok {
		return fmt.Errorf("session: no inbox for %q", sessionKey)
	}
	delete(r.inboxes, sessionKey)
	return nil
}
