package gate

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nugget/gatecore/internal/gateconfig"
	"github.com/nugget/gatecore/internal/nociception"
	"github.com/nugget/gatecore/internal/observation"
)

// Gate runs the seven-stage deterministic pipeline and owns the
// stateful bookkeeping stages 2 and 5 require: the hard-bypass
// drop-burst window and the dedup fingerprint table. A single Gate
// instance is shared by every session worker.
type Gate struct {
	logger func(msg string, args ...any)

	dedup *deduplicator

	mu               sync.Mutex
	dropTimes        []time.Time
	consecutiveDrops int

	SinkPool *Pool
	DropPool *Pool
	ToolPool *Pool
}

// New creates a Gate with fresh pools and dedup state.
func New() *Gate {
	return &Gate{
		dedup:    newDeduplicator(),
		SinkPool: NewPool(PoolCapacity),
		DropPool: NewPool(PoolCapacity),
		ToolPool: NewPool(PoolCapacity),
	}
}

// Handle runs obs through all seven stages and always returns a
// GateOutcome; no stage error is allowed to escape (spec section 4.4,
// 7, 8).
func (g *Gate) Handle(obs observation.Observation, ctx GateContext) GateOutcome {
	d := GateDecision{}
	var emit []observation.Observation

	scene := g.inferScene(obs, ctx)
	d.Scene = scene
	g.trace(ctx, "scene_inference", d)

	g.hardBypass(obs, ctx, &d, &emit)
	g.trace(ctx, "hard_bypass", d)

	policy := ctx.Snapshot.Policy(scene)
	rules := ctx.Snapshot.Rule(scene)

	recentLen := 0
	if ctx.SessionState != nil {
		recentLen = len(ctx.SessionState.RecentObs())
	}
	feats := safeExtractFeatures(obs, rules, recentLen, &d)
	g.trace(ctx, "feature_extraction", d)

	if d.Action == "" {
		d.Score = safeScore(feats, rules, &d)
	}
	g.trace(ctx, "scoring", d)

	fp := fingerprint(obs, scene)
	d.Fingerprint = fp
	if obs.ObsType != observation.TypeAlert && d.Action == "" {
		key := obs.Session + "|" + string(scene) + "|" + fp
		if g.dedup.checkAndRecord(key, ctx.Now) {
			d.Action = gateconfig.ActionSink
			d.addReason("dedup_hit")
		}
	} else if obs.ObsType != observation.TypeAlert {
		// Already decided (e.g. DROP from hard bypass); still record the
		// sighting so a later duplicate within the window is caught.
		key := obs.Session + "|" + string(scene) + "|" + fp
		g.dedup.checkAndRecord(key, ctx.Now)
	}
	g.trace(ctx, "dedup", d)

	g.mapPolicy(obs, ctx, scene, policy, &d)
	g.trace(ctx, "policy_mapper", d)

	g.finalize(obs, ctx, policy, &d)
	g.trace(ctx, "finalize", d)

	ingest := g.ingestFor(obs, scene, d)

	if ctx.Metrics != nil {
		ctx.Metrics.ObserveDecision(scene, d.Action)
	}

	return GateOutcome{Decision: d, Emit: emit, Ingest: ingest}
}

func (g *Gate) trace(ctx GateContext, stage string, d GateDecision) {
	if ctx.Trace != nil {
		ctx.Trace(stage, d)
	}
}

// inferScene is stage 1.
func (g *Gate) inferScene(obs observation.Observation, ctx GateContext) gateconfig.Scene {
	if obs.ObsType == observation.TypeAlert {
		return gateconfig.SceneAlert
	}
	sysKey := ctx.SystemSessionKey
	if sysKey == "" {
		sysKey = observation.SystemSessionKey
	}
	if obs.Session == sysKey {
		return gateconfig.SceneSystem
	}
	if obs.ObsType == observation.TypeMessage && obs.Actor.ActorType == observation.ActorUser {
		return gateconfig.SceneDialogue
	}
	if strings.Contains(strings.ToLower(obs.Source), "tool") {
		if strings.Contains(strings.ToLower(obs.Source), "result") {
			return gateconfig.SceneToolResult
		}
		return gateconfig.SceneToolCall
	}
	return gateconfig.SceneUnknown
}

// hardBypass is stage 2. It may set d.Action=DROP and queue a pain
// ALERT to emit; it also maintains the drop-burst sliding window.
func (g *Gate) hardBypass(obs observation.Observation, ctx GateContext, d *GateDecision, emit *[]observation.Observation) {
	dropped := false

	if ctx.SystemHealth != nil && ctx.SystemHealth.Overload {
		d.Action = gateconfig.ActionDrop
		d.addReason("overload")
		*emit = append(*emit, nociception.MakePainAlert("gate", "overload", observation.SeverityHigh, "", "system overload"))
		dropped = true
	}

	if obs.ObsType == observation.TypeMessage && obs.HasQualityFlag(observation.QualityEmptyContent) {
		d.Action = gateconfig.ActionDrop
		d.addReason("empty_content")
		dropped = true
	}

	if obs.ObsType == observation.TypeAlert {
		g.mu.Lock()
		g.consecutiveDrops = 0
		g.mu.Unlock()
		return
	}

	if !dropped {
		g.mu.Lock()
		g.consecutiveDrops = 0
		g.mu.Unlock()
		return
	}

	esc := ctx.Snapshot.DropEscalation
	windowSec := esc.BurstWindowSec
	if windowSec <= 0 {
		windowSec = gateconfig.DefaultBurstWindowSec
	}
	countThresh := esc.BurstCountThreshold
	if countThresh <= 0 {
		countThresh = gateconfig.DefaultBurstCountThreshold
	}
	consecThresh := esc.ConsecutiveThreshold
	if consecThresh <= 0 {
		consecThresh = gateconfig.DefaultConsecutiveThreshold
	}

	g.mu.Lock()
	g.dropTimes = append(g.dropTimes, ctx.Now)
	cutoff := ctx.Now.Add(-time.Duration(windowSec) * time.Second)
	i := 0
	for i < len(g.dropTimes) && g.dropTimes[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		g.dropTimes = append([]time.Time(nil), g.dropTimes[i:]...)
	}
	g.consecutiveDrops++
	burst := len(g.dropTimes) >= countThresh || g.consecutiveDrops >= consecThresh
	g.mu.Unlock()

	if burst {
		d.DropBurst = true
		d.addReason("drop_burst")
		*emit = append(*emit, nociception.MakePainAlert("gate", "drop_burst", observation.SeverityHigh, "", "drop burst detected"))
	}
}

func safeExtractFeatures(obs observation.Observation, rules gateconfig.RuleSet, recentLen int, d *GateDecision) (f featureSet) {
	defer func() {
		if r := recover(); r != nil {
			d.addReason(fmt.Sprintf("feature_extraction_error:%v", r))
		}
	}()
	return extractFeatures(obs, rules, recentLen)
}

func safeScore(f featureSet, rules gateconfig.RuleSet, d *GateDecision) (s float64) {
	defer func() {
		if r := recover(); r != nil {
			d.addReason(fmt.Sprintf("scoring_error:%v", r))
		}
	}()
	return score(f, rules)
}

// mapPolicy is stage 6, applied in the exact strict priority order spec
// section 4.4 enumerates.
func (g *Gate) mapPolicy(obs observation.Observation, ctx GateContext, scene gateconfig.Scene, policy gateconfig.ScenePolicy, d *GateDecision) {
	cfg := ctx.Snapshot
	agentSourced := obs.IsAgentSourced()

	// 1. emergency_mode.
	if cfg.Overrides.EmergencyMode {
		d.Action = gateconfig.ActionSink
		d.ModelTier = gateconfig.ModelTierLow
		d.addReason("override=emergency")
		g.selectBudget(ctx, scene, policy, d)
		return
	}

	// 2. drop_sessions.
	if cfg.SessionDropped(obs.Session) {
		d.Action = gateconfig.ActionDrop
		d.addReason("override=drop_session")
		g.selectBudget(ctx, scene, policy, d)
		return
	}

	// 3. drop_actors.
	if cfg.ActorDropped(obs.Actor.ActorID) {
		d.Action = gateconfig.ActionDrop
		d.addReason("override=drop_actor")
		g.selectBudget(ctx, scene, policy, d)
		return
	}

	// 4. prior-stage decision wins outright: hard bypass DROP (stage 2) or
	// a dedup_hit SINK (stage 5) are both terminal — the testable
	// round-trip property requires a duplicate within the window to stay
	// SINK even for a user MESSAGE that would otherwise hit the safety
	// valve below.
	if d.Action != "" {
		g.selectBudget(ctx, scene, policy, d)
		return
	}

	// 5. user dialogue safety valve.
	if obs.ObsType == observation.TypeMessage && obs.Actor.ActorType == observation.ActorUser &&
		!strings.HasPrefix(obs.Source, observation.AgentSourcePrefix) && obs.Actor.ActorID != observation.AgentActorID {
		d.Action = gateconfig.ActionDeliver
		d.addReason("user_dialogue_safe_valve")
		d.ModelTier = policy.DefaultModelTier
		if cfg.Overrides.ForceLowModel {
			d.ModelTier = gateconfig.ModelTierLow
			d.addReason("override=force_low_model")
		}
		g.selectBudget(ctx, scene, policy, d)
		return
	}

	// 6. deliver_sessions (excluding agent-sourced).
	if !agentSourced && cfg.SessionDelivered(obs.Session) {
		d.Action = gateconfig.ActionDeliver
		d.addReason("override=deliver_session")
		g.finishDeliver(ctx, scene, policy, cfg, d)
		return
	}

	// 7. deliver_actors (excluding agent-sourced).
	if !agentSourced && cfg.ActorDelivered(obs.Actor.ActorID) {
		d.Action = gateconfig.ActionDeliver
		d.addReason("override=deliver_actor")
		g.finishDeliver(ctx, scene, policy, cfg, d)
		return
	}

	// 8. standard threshold policy.
	switch {
	case obs.ObsType == observation.TypeMessage:
		d.Action = gateconfig.ActionDeliver
		d.addReason("message_default_deliver")
	case d.Score >= policy.DeliverThreshold:
		d.Action = gateconfig.ActionDeliver
		d.addReason("score_above_deliver_threshold")
	case d.Score >= policy.SinkThreshold:
		d.Action = gateconfig.ActionSink
		d.addReason("score_above_sink_threshold")
	default:
		d.Action = policy.DefaultAction
		d.addReason("scene_default_action")
	}

	if d.Action == gateconfig.ActionDeliver {
		g.finishDeliver(ctx, scene, policy, cfg, d)
	} else {
		g.selectBudget(ctx, scene, policy, d)
	}
}

// finishDeliver applies step 9 (force_low_model) and budget selection
// for any path that concluded in DELIVER.
func (g *Gate) finishDeliver(ctx GateContext, scene gateconfig.Scene, policy gateconfig.ScenePolicy, cfg *gateconfig.GateConfig, d *GateDecision) {
	if d.ModelTier == "" {
		d.ModelTier = policy.DefaultModelTier
	}
	if cfg.Overrides.ForceLowModel {
		d.ModelTier = gateconfig.ModelTierLow
		d.addReason("override=force_low_model")
	}
	g.selectBudget(ctx, scene, policy, d)
}

// selectBudget picks a BudgetSpec profile per spec section 4.4 stage 6
// and always produces a GateHint before finalize.
func (g *Gate) selectBudget(ctx GateContext, scene gateconfig.Scene, policy gateconfig.ScenePolicy, d *GateDecision) {
	cfg := ctx.Snapshot
	th := cfg.BudgetThresholds
	autoClarify := false

	var profile string
	switch scene {
	case gateconfig.SceneAlert, gateconfig.SceneSystem:
		profile = gateconfig.ProfileDeep
	case gateconfig.SceneToolResult, gateconfig.SceneToolCall:
		profile = gateconfig.ProfileTiny
	case gateconfig.SceneDialogue:
		switch {
		case d.Score >= th.HighScore:
			profile = gateconfig.ProfileDeep
		case d.Score >= th.MediumScore:
			profile = gateconfig.ProfileNormal
		default:
			profile = gateconfig.ProfileTiny
			autoClarify = true
		}
	default:
		profile = gateconfig.ProfileNormal
	}

	budget := cfg.BudgetProfile(profile)
	budget.AutoClarify = autoClarify

	if d.ModelTier == "" {
		d.ModelTier = policy.DefaultModelTier
	}
	d.Hint = &GateHint{
		ModelTier:      d.ModelTier,
		ResponsePolicy: policy.DefaultResponsePolicy,
		Budget:         budget,
		AutoClarify:    autoClarify,
	}
}

// finalize is stage 7: truncate reasons to max_reasons and ensure an
// action was actually decided.
func (g *Gate) finalize(obs observation.Observation, ctx GateContext, policy gateconfig.ScenePolicy, d *GateDecision) {
	if d.Action == "" {
		d.Action = gateconfig.ActionSink
		d.addReason("indeterminate_default_sink")
	}
	maxReasons := policy.MaxReasons
	if maxReasons > 0 && len(d.Reasons) > maxReasons {
		d.Reasons = d.Reasons[:maxReasons]
	}
	if d.Hint == nil {
		g.selectBudget(ctx, d.Scene, policy, d)
	}
}

// ingestFor routes obs into the appropriate pool per the decision,
// mirroring the post-decision side effect spec section 4.4 describes.
func (g *Gate) ingestFor(obs observation.Observation, scene gateconfig.Scene, d GateDecision) []observation.Observation {
	switch {
	case d.Action == gateconfig.ActionDrop:
		g.DropPool.Add(obs)
	case scene == gateconfig.SceneToolCall || scene == gateconfig.SceneToolResult:
		g.ToolPool.Add(obs)
	case d.Action == gateconfig.ActionSink:
		g.SinkPool.Add(obs)
	default:
		return nil
	}
	return []observation.Observation{obs}
}
