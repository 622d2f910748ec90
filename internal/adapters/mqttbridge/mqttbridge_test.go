package mqttbridge

import (
	"testing"

	"github.com/nugget/gatecore/internal/observation"
)

type recordingPublisher struct {
	published []observation.Observation
}

func (r *recordingPublisher) PublishNowait(obs observation.Observation) error {
	r.published = append(r.published, obs)
	return nil
}

func TestHandleInboundDropsNonJSONPayload(t *testing.T) {
	b := New(Config{ControlTopic: "gatecore/control"}, nil)
	pub := &recordingPublisher{}

	b.handleInbound("gatecore/control", []byte("not json"), pub)

	if len(pub.published) != 0 {
		t.Fatalf("expected no observation published for malformed payload, got %d", len(pub.published))
	}
}

func TestHandleInboundPublishesControlObservation(t *testing.T) {
	b := New(Config{ControlTopic: "gatecore/control"}, nil)
	pub := &recordingPublisher{}

	b.handleInbound("gatecore/control", []byte(`{"kind":"tuning_suggestion","scene":"chat"}`), pub)

	if len(pub.published) != 1 {
		t.Fatalf("expected 1 observation, got %d", len(pub.published))
	}
	obs := pub.published[0]
	if obs.ObsType != observation.TypeControl {
		t.Errorf("obs_type = %q, want CONTROL", obs.ObsType)
	}
	if obs.Payload.Control == nil || obs.Payload.Control.Kind != "tuning_suggestion" {
		t.Errorf("unexpected control payload: %+v", obs.Payload.Control)
	}
	if obs.Session != observation.SystemSessionKey {
		t.Errorf("session_key = %q, want %q", obs.Session, observation.SystemSessionKey)
	}
}

func TestHandleInboundDefaultsKindWhenMissing(t *testing.T) {
	b := New(Config{ControlTopic: "gatecore/control"}, nil)
	pub := &recordingPublisher{}

	b.handleInbound("gatecore/control", []byte(`{"scene":"chat"}`), pub)

	if len(pub.published) != 1 {
		t.Fatalf("expected 1 observation, got %d", len(pub.published))
	}
	if pub.published[0].Payload.Control.Kind != observation.ControlTuningSuggestion {
		t.Errorf("kind = %q, want default tuning_suggestion", pub.published[0].Payload.Control.Kind)
	}
}

func TestDeliverWithoutStartReturnsError(t *testing.T) {
	b := New(Config{Topic: "gatecore/out"}, nil)
	obs := observation.New(observation.TypeMessage, "sess-1",
		observation.Actor{ActorID: "agent", ActorType: observation.ActorAgent},
		"agent:handler", observation.SourceInternal,
		observation.Payload{Message: &observation.MessagePayload{Text: "hi"}})

	if err := b.Deliver(nil, obs); err == nil { //nolint:staticcheck // Deliver only dereferences ctx via cm, which is nil here
		t.Fatal("expected error delivering before Start")
	}
}

func TestConnectedDefaultsFalse(t *testing.T) {
	b := New(Config{}, nil)
	if b.Connected() {
		t.Fatal("expected Connected() to be false before Start")
	}
}
