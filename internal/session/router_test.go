package session

import (
	"testing"
	"time"

	"github.com/nugget/gatecore/internal/observation"
)

func msg(sessionKey, actorID string, actorType observation.ActorType) observation.Observation {
	return observation.New(observation.TypeMessage, sessionKey,
		observation.Actor{ActorID: actorID, ActorType: actorType},
		"text_input", observation.SourceExternal,
		observation.Payload{Message: &observation.MessagePayload{Text: "hi"}})
}

func TestResolveSessionKeyDerivesDMForUserMessage(t *testing.T) {
	obs := msg("", "alice", observation.ActorUser)
	if got := ResolveSessionKey(obs); got != "dm:alice" {
		t.Fatalf("ResolveSessionKey() = %q, want dm:alice", got)
	}
}

func TestResolveSessionKeyRoutesAlertToSystem(t *testing.T) {
	obs := observation.New(observation.TypeAlert, "", observation.Actor{ActorID: "x", ActorType: observation.ActorSystem},
		"adapter", observation.SourceInternal, observation.Payload{Alert: &observation.AlertPayload{Severity: observation.SeverityHigh}})
	if got := ResolveSessionKey(obs); got != observation.SystemSessionKey {
		t.Fatalf("ResolveSessionKey() = %q, want system", got)
	}
}

func TestResolveSessionKeyUnknownFallback(t *testing.T) {
	obs := msg("", "bot1", observation.ActorService)
	if got := ResolveSessionKey(obs); got != "unknown" {
		t.Fatalf("ResolveSessionKey() = %q, want unknown", got)
	}
}

func TestRouteFIFOWithinSession(t *testing.T) {
	r := New(nil)
	for i := 0; i < 5; i++ {
		if _, dropped := r.Route(msg("dm:alice", "alice", observation.ActorUser)); dropped {
			t.Fatalf("unexpected drop at %d", i)
		}
	}

	inbox := r.EnsureInbox("dm:alice")
	for i := 0; i < 5; i++ {
		select {
		case <-inbox:
		default:
			t.Fatalf("expected buffered observation %d", i)
		}
	}
}

func TestRouteDropsNewestWhenInboxFull(t *testing.T) {
	r := New(nil)
	for i := 0; i < InboxCapacity; i++ {
		if _, dropped := r.Route(msg("dm:bob", "bob", observation.ActorUser)); dropped {
			t.Fatalf("unexpected drop filling inbox at %d", i)
		}
	}
	if _, dropped := r.Route(msg("dm:bob", "bob", observation.ActorUser)); !dropped {
		t.Fatalf("expected drop once inbox is full")
	}
	if got := r.DroppedTotal(); got != 1 {
		t.Fatalf("DroppedTotal() = %d, want 1", got)
	}
}

func TestRemoveSessionThenRevive(t *testing.T) {
	r := New(nil)
	r.Route(msg("dm:carol", "carol", observation.ActorUser))
	if !r.HasSession("dm:carol") {
		t.Fatalf("expected session to exist after routing")
	}
	if err := r.RemoveSession("dm:carol"); err != nil {
		t.Fatalf("RemoveSession: %v", err)
	}
	if r.HasSession("dm:carol") {
		t.Fatalf("expected session removed")
	}

	// A later event recreates state.
	r.Route(msg("dm:carol", "carol", observation.ActorUser))
	if !r.HasSession("dm:carol") {
		t.Fatalf("expected session revived")
	}
}

func TestListActiveSessionsStableSnapshot(t *testing.T) {
	r := New(nil)
	r.Route(msg("dm:a", "a", observation.ActorUser))
	r.Route(msg("dm:b", "b", observation.ActorUser))
	keys := r.ListActiveSessions()
	if len(keys) != 2 {
		t.Fatalf("expected 2 active sessions, got %v", keys)
	}
}

func TestStateRecentObsEviction(t *testing.T) {
	st := NewState("dm:alice", time.Now())
	for i := 0; i < RecentObsCapacity+5; i++ {
		st.RecordObservation(msg("dm:alice", "alice", observation.ActorUser), time.Now())
	}
	if got := len(st.RecentObs()); got != RecentObsCapacity {
		t.Fatalf("RecentObs() len = %d, want %d", got, RecentObsCapacity)
	}
	if got := st.ProcessedTotal(); got != RecentObsCapacity+5 {
		t.Fatalf("ProcessedTotal() = %d, want %d", got, RecentObsCapacity+5)
	}
}
