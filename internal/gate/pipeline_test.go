package gate

import (
	"testing"
	"time"

	"github.com/nugget/gatecore/internal/gateconfig"
	"github.com/nugget/gatecore/internal/observation"
	"github.com/nugget/gatecore/internal/session"
)

func baseCtx(cfg *gateconfig.GateConfig) GateContext {
	return GateContext{
		Now:              time.Now(),
		Snapshot:         cfg,
		SystemSessionKey: observation.SystemSessionKey,
		Metrics:          NopMetrics{},
	}
}

func dialogueMsg(text string) observation.Observation {
	obs := observation.New(observation.TypeMessage, "dm:alice",
		observation.Actor{ActorID: "alice", ActorType: observation.ActorUser},
		"text_input", observation.SourceExternal,
		observation.Payload{Message: &observation.MessagePayload{Text: text}})
	obs.NormalizeMessage()
	return obs
}

func TestHandleUserGreetingSafetyValve(t *testing.T) {
	g := New()
	cfg := gateconfig.Default()
	obs := dialogueMsg("hi")

	out := g.Handle(obs, baseCtx(cfg))

	if out.Decision.Action != gateconfig.ActionDeliver {
		t.Fatalf("action = %v, want DELIVER", out.Decision.Action)
	}
	if out.Decision.Scene != gateconfig.SceneDialogue {
		t.Fatalf("scene = %v, want DIALOGUE", out.Decision.Scene)
	}
	found := false
	for _, r := range out.Decision.Reasons {
		if r == "user_dialogue_safe_valve" {
			found = true
		}
	}
	if !found {
		t.Fatalf("reasons %v missing user_dialogue_safe_valve", out.Decision.Reasons)
	}
	if len(out.Ingest) != 0 {
		t.Fatalf("expected no ingest for DELIVER, got %v", out.Ingest)
	}
}

func TestHandleEmptyMessageDrops(t *testing.T) {
	g := New()
	cfg := gateconfig.Default()
	obs := dialogueMsg("")

	out := g.Handle(obs, baseCtx(cfg))

	if out.Decision.Action != gateconfig.ActionDrop {
		t.Fatalf("action = %v, want DROP", out.Decision.Action)
	}
	if out.Decision.Reasons[0] != "empty_content" {
		t.Fatalf("reasons = %v, want empty_content first", out.Decision.Reasons)
	}
	if len(out.Ingest) != 1 {
		t.Fatalf("expected one ingest entry for DROP, got %d", len(out.Ingest))
	}
	if g.DropPool.Len() != 1 {
		t.Fatalf("DropPool.Len() = %d, want 1", g.DropPool.Len())
	}
}

func TestHandleDuplicateMessageDedup(t *testing.T) {
	g := New()
	cfg := gateconfig.Default()
	obs := dialogueMsg("hi")

	ctx := baseCtx(cfg)
	first := g.Handle(obs, ctx)
	if first.Decision.Action != gateconfig.ActionDeliver {
		t.Fatalf("first action = %v, want DELIVER", first.Decision.Action)
	}

	ctx.Now = ctx.Now.Add(2 * time.Second)
	second := g.Handle(obs, ctx)
	if second.Decision.Action != gateconfig.ActionSink {
		t.Fatalf("second action = %v, want SINK", second.Decision.Action)
	}
	found := false
	for _, r := range second.Decision.Reasons {
		if r == "dedup_hit" {
			found = true
		}
	}
	if !found {
		t.Fatalf("reasons %v missing dedup_hit", second.Decision.Reasons)
	}
}

func TestHandleEmergencyModeForcesSinkLowModel(t *testing.T) {
	g := New()
	cfg := gateconfig.Default()
	cfg.Overrides.EmergencyMode = true
	obs := dialogueMsg("hi")

	out := g.Handle(obs, baseCtx(cfg))

	if out.Decision.Action != gateconfig.ActionSink {
		t.Fatalf("action = %v, want SINK", out.Decision.Action)
	}
	if out.Decision.ModelTier != gateconfig.ModelTierLow {
		t.Fatalf("model tier = %q, want low", out.Decision.ModelTier)
	}
}

func TestHandleAgentSourcedMessageNotSafetyValved(t *testing.T) {
	g := New()
	cfg := gateconfig.Default()
	obs := observation.New(observation.TypeMessage, "dm:alice",
		observation.Actor{ActorID: "agent", ActorType: observation.ActorAgent},
		"agent:handler", observation.SourceInternal,
		observation.Payload{Message: &observation.MessagePayload{Text: "reply"}})

	out := g.Handle(obs, baseCtx(cfg))
	for _, r := range out.Decision.Reasons {
		if r == "user_dialogue_safe_valve" {
			t.Fatalf("agent-sourced message must not hit the safety valve")
		}
	}
}

func TestHandleDropBurstEmitsPainAlert(t *testing.T) {
	g := New()
	cfg := gateconfig.Default()
	cfg.DropEscalation.BurstCountThreshold = 3
	cfg.DropEscalation.ConsecutiveThreshold = 3
	cfg.DropEscalation.BurstWindowSec = 60

	ctx := baseCtx(cfg)
	var last GateOutcome
	for i := 0; i < 3; i++ {
		obs := dialogueMsg("")
		ctx.Now = ctx.Now.Add(time.Second)
		last = g.Handle(obs, ctx)
	}

	if !last.Decision.DropBurst {
		t.Fatalf("expected DropBurst=true on the third consecutive drop")
	}
	if len(last.Emit) == 0 {
		t.Fatalf("expected a pain ALERT queued in Emit")
	}
}

func TestHandleDropSessionOverride(t *testing.T) {
	g := New()
	cfg := gateconfig.Default()
	cfg.Overrides.DropSessions = []string{"dm:alice"}
	obs := dialogueMsg("hi")

	out := g.Handle(obs, baseCtx(cfg))
	if out.Decision.Action != gateconfig.ActionDrop {
		t.Fatalf("action = %v, want DROP", out.Decision.Action)
	}
}

func TestHandleRecordsSessionStateWithoutPanicking(t *testing.T) {
	g := New()
	cfg := gateconfig.Default()
	st := session.NewState("dm:alice", time.Now())
	ctx := baseCtx(cfg)
	ctx.SessionState = st

	obs := dialogueMsg("question?")
	out := g.Handle(obs, ctx)
	if out.Decision.Hint == nil {
		t.Fatalf("expected a GateHint to always be populated")
	}
}
