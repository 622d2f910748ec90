package session

import (
	"sync"
	"time"

	"github.com/nugget/gatecore/internal/observation"
)

// RecentObsCapacity is the number of recent observations retained per
// session for gate feature extraction and post-mortem inspection.
const RecentObsCapacity = 20

// State is the runtime-only record of a session's activity. It is
// never persisted: a restart loses all State and the next observation
// for that session_key simply recreates it. State is owned exclusively
// by the worker processing that session — spec section 5 requires no
// other task write it — so State itself keeps a mutex only to let
// read-only observers (metrics, admin HTTP) take a consistent
// snapshot without racing the owning worker.
type State struct {
	SessionKey   string
	CreatedAt    time.Time
	LastActiveAt time.Time

	mu            sync.RWMutex
	processedTotal int64
	errorTotal     int64
	recentObs      []observation.Observation
}

// NewState creates a fresh State for sessionKey, stamped at now.
func NewState(sessionKey string, now time.Time) *State {
	return &State{
		SessionKey:   sessionKey,
		CreatedAt:    now,
		LastActiveAt: now,
		recentObs:    make([]observation.Observation, 0, RecentObsCapacity),
	}
}

// RecordObservation appends obs to the session's recent history (evicting
// the oldest entry past RecentObsCapacity), bumps processed_total, and
// updates last_active_at. Only the owning worker may call this.
func (s *State) RecordObservation(obs observation.Observation, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastActiveAt = now
	s.processedTotal++
	s.recentObs = append(s.recentObs, obs)
	if len(s.recentObs) > RecentObsCapacity {
		s.recentObs = s.recentObs[len(s.recentObs)-RecentObsCapacity:]
	}
}

// RecordError increments error_total. Only the owning worker may call
// this (e.g. after a failed agent invocation).
func (s *State) RecordError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorTotal++
}

// ProcessedTotal returns the number of observations processed by this
// session so far.
func (s *State) ProcessedTotal() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.processedTotal
}

// ErrorTotal returns the number of handler errors recorded for this
// session so far.
func (s *State) ErrorTotal() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.errorTotal
}

// RecentObs returns a copy of the last N recorded observations, oldest
// first.
func (s *State) RecentObs() []observation.Observation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]observation.Observation, len(s.recentObs))
	copy(out, s.recentObs)
	return out
}

// IdleSeconds returns how long it has been since the session last saw
// activity, measured against now.
func (s *State) IdleSeconds(now time.Time) float64 {
	s.mu.RLock()
	last := s.LastActiveAt
	s.mu.RUnlock()
	return now.Sub(last).Seconds()
}

// Registry tracks live SessionState by session key. It is a thin,
// mutex-guarded map; the orchestrator is the only writer (worker
// creation/GC), while metrics and admin HTTP are readers.
type Registry struct {
	mu     sync.RWMutex
	states map[string]*State
}

// NewRegistry creates an empty session state Registry.
func NewRegistry() *Registry {
	return &Registry{states: make(map[string]*State)}
}

// GetOrCreate returns the existing State for sessionKey, or creates one
// stamped at now.
func (r *Registry) GetOrCreate(sessionKey string, now time.Time) *State {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[sessionKey]
	if !ok {
		st = NewState(sessionKey, now)
		r.states[sessionKey] = st
	}
	return st
}

// Get returns the State for sessionKey, if any.
func (r *Registry) Get(sessionKey string) (*State, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.states[sessionKey]
	return st, ok
}

// Remove deletes the State for sessionKey.
func (r *Registry) Remove(sessionKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.states, sessionKey)
}

// Snapshot returns a slice of all current session States, in no
// particular order.
func (r *Registry) Snapshot() []*State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*State, 0, len(r.states))
	for _, st := range r.states {
		out = append(out, st)
	}
	return out
}
