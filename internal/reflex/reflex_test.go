package reflex

import (
	"testing"
	"time"

	"github.com/nugget/gatecore/internal/gateconfig"
	"github.com/nugget/gatecore/internal/observation"
)

func suggestionObs(overrides map[string]any, ttlSec any) observation.Observation {
	data := map[string]any{"suggested_overrides": overrides}
	if ttlSec != nil {
		data["ttl_sec"] = ttlSec
	}
	return observation.New(observation.TypeControl, observation.SystemSessionKey,
		observation.Actor{ActorID: "agent", ActorType: observation.ActorAgent},
		"agent:tuning", observation.SourceInternal,
		observation.Payload{Control: &observation.ControlPayload{Kind: observation.ControlTuningSuggestion, Data: data}})
}

func TestApplyApprovesWhitelistedDeniesOthers(t *testing.T) {
	p := gateconfig.NewProvider("", nil)
	c := New(p)
	now := time.Now()

	obs := suggestionObs(map[string]any{"force_low_model": true, "emergency_mode": true}, float64(60))
	emits := c.Apply(obs, now)

	if len(emits) != 2 {
		t.Fatalf("expected tuning_applied + system_mode_changed, got %d emits", len(emits))
	}
	applied := emits[0].Payload.Control.Data
	approved := applied["approved"].(map[string]bool)
	denied := applied["denied"].(map[string]string)
	if !approved["force_low_model"] {
		t.Fatalf("expected force_low_model approved")
	}
	if denied["emergency_mode"] != "not_whitelisted" {
		t.Fatalf("expected emergency_mode denied as not_whitelisted, got %v", denied)
	}
	if !p.Snapshot().Overrides.ForceLowModel {
		t.Fatalf("expected ForceLowModel override applied to snapshot")
	}
}

func TestApplyRespectsCooldown(t *testing.T) {
	p := gateconfig.NewProvider("", nil)
	c := New(p)
	now := time.Now()

	c.Apply(suggestionObs(map[string]any{"force_low_model": true}, float64(60)), now)
	emits := c.Apply(suggestionObs(map[string]any{"force_low_model": true}, float64(60)), now.Add(1*time.Second))

	denied := emits[0].Payload.Control.Data["denied"].(map[string]string)
	if denied["force_low_model"] != "cooldown" {
		t.Fatalf("expected cooldown denial on immediate re-application, got %v", denied)
	}
}

func TestEvaluateTTLRevertsAfterExpiry(t *testing.T) {
	p := gateconfig.NewProvider("", nil)
	c := New(p)
	now := time.Now()

	c.Apply(suggestionObs(map[string]any{"force_low_model": true}, float64(60)), now)
	if !p.Snapshot().Overrides.ForceLowModel {
		t.Fatalf("expected override applied")
	}

	reverts := c.EvaluateTTL(now.Add(61 * time.Second))
	if len(reverts) != 1 || reverts[0].Payload.Control.Kind != observation.ControlTuningReverted {
		t.Fatalf("expected one tuning_reverted emission, got %v", reverts)
	}
	if p.Snapshot().Overrides.ForceLowModel {
		t.Fatalf("expected ForceLowModel reverted to false")
	}
	if len(c.ActiveKeys()) != 0 {
		t.Fatalf("expected no active keys remaining")
	}
}

func TestEvaluateTTLNotYetExpiredKeepsOverride(t *testing.T) {
	p := gateconfig.NewProvider("", nil)
	c := New(p)
	now := time.Now()

	c.Apply(suggestionObs(map[string]any{"force_low_model": true}, float64(60)), now)
	reverts := c.EvaluateTTL(now.Add(10 * time.Second))
	if len(reverts) != 0 {
		t.Fatalf("expected no reverts before TTL elapses")
	}
}

func TestApplyClampsTTLToHardMax(t *testing.T) {
	p := gateconfig.NewProvider("", nil)
	c := New(p)
	now := time.Now()

	c.Apply(suggestionObs(map[string]any{"force_low_model": true}, float64(999999)), now)
	reverts := c.EvaluateTTL(now.Add(MaxSuggestionTTL + time.Second))
	if len(reverts) != 1 {
		t.Fatalf("expected TTL clamped to MaxSuggestionTTL so revert fires by then")
	}
}

func TestApplyInvalidPayload(t *testing.T) {
	p := gateconfig.NewProvider("", nil)
	c := New(p)
	obs := observation.New(observation.TypeControl, observation.SystemSessionKey,
		observation.Actor{ActorID: "agent", ActorType: observation.ActorAgent},
		"agent:tuning", observation.SourceInternal,
		observation.Payload{Control: &observation.ControlPayload{Kind: observation.ControlTuningSuggestion, Data: nil}})

	emits := c.Apply(obs, time.Now())
	if len(emits) != 1 {
		t.Fatalf("expected a single tuning_applied emission reporting invalid_payload")
	}
	denied := emits[0].Payload.Control.Data["denied"].(map[string]string)
	if denied["_payload"] != "invalid_payload" {
		t.Fatalf("expected invalid_payload denial, got %v", denied)
	}
}

func TestApplyIgnoresNonTuningSuggestionControl(t *testing.T) {
	p := gateconfig.NewProvider("", nil)
	c := New(p)
	obs := observation.New(observation.TypeControl, observation.SystemSessionKey,
		observation.Actor{}, "x", observation.SourceInternal,
		observation.Payload{Control: &observation.ControlPayload{Kind: observation.ControlTuningApplied}})

	if emits := c.Apply(obs, time.Now()); emits != nil {
		t.Fatalf("expected nil emits for a non-tuning_suggestion CONTROL, got %v", emits)
	}
}
