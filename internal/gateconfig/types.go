// Package gateconfig holds the immutable GateConfig snapshot and the
// provider that serves it: readers dereference an atomic pointer once
// per observation, and every mutation (file reload or in-memory
// override) produces a brand-new snapshot rather than mutating the one
// in flight (spec sections 3, 4.3, 5, 9).
package gateconfig

import "time"

// Scene is the gate's inferred classification of an observation.
type Scene string

const (
	SceneDialogue   Scene = "DIALOGUE"
	SceneAlert      Scene = "ALERT"
	SceneSystem     Scene = "SYSTEM"
	SceneToolCall   Scene = "TOOL_CALL"
	SceneToolResult Scene = "TOOL_RESULT"
	SceneUnknown    Scene = "UNKNOWN"
)

// Action is the gate's final disposition for an observation.
type Action string

const (
	ActionDrop    Action = "DROP"
	ActionSink    Action = "SINK"
	ActionDeliver Action = "DELIVER"
)

// ScenePolicy holds the per-scene thresholds and defaults used by the
// gate's policy mapper stage.
type ScenePolicy struct {
	DeliverThreshold     float64 `yaml:"deliver_threshold"`
	SinkThreshold        float64 `yaml:"sink_threshold"`
	DefaultAction        Action  `yaml:"default_action"`
	DefaultModelTier     string  `yaml:"default_model_tier"`
	DefaultResponsePolicy string `yaml:"default_response_policy"`
	MaxReasons           int     `yaml:"max_reasons"`
}

// RuleSet holds per-scene scoring weights and keyword lists consulted
// by the gate's scoring stage. The exact weights and keyword lists are
// pure configuration (see DESIGN.md Open Question 1) — these fields are
// deliberately generic (map-keyed) rather than hardcoded feature names.
type RuleSet struct {
	Weights     map[string]float64  `yaml:"weights"`
	Keywords    map[string][]string `yaml:"keywords"`
	LongTextLen int                 `yaml:"long_text_len"`
}

// DropEscalation configures the hard-bypass stage's burst detection.
type DropEscalation struct {
	BurstWindowSec       int `yaml:"burst_window_sec"`
	BurstCountThreshold  int `yaml:"burst_count_threshold"`
	ConsecutiveThreshold int `yaml:"consecutive_threshold"`
	CooldownSuggestSec   int `yaml:"cooldown_suggest_sec"`
}

// Overrides holds the mutable policy overrides, set either by the
// reflex controller (whitelisted CONTROL-driven tuning) or by an
// operator editing gate.yaml directly.
type Overrides struct {
	EmergencyMode   bool     `yaml:"emergency_mode"`
	ForceLowModel   bool     `yaml:"force_low_model"`
	DropSessions    []string `yaml:"drop_sessions"`
	DeliverSessions []string `yaml:"deliver_sessions"`
	DropActors      []string `yaml:"drop_actors"`
	DeliverActors   []string `yaml:"deliver_actors"`
}

// BudgetThresholds are the score bands used to pick a budget profile.
type BudgetThresholds struct {
	HighScore   float64 `yaml:"high_score"`
	MediumScore float64 `yaml:"medium_score"`
}

// BudgetSpec is the advisory resource envelope handed to the
// intelligent handler via GateHint. Enforcement is the handler's
// responsibility; the core only supplies the budget (spec section 9).
type BudgetSpec struct {
	TimeMs          int    `yaml:"time_ms"`
	MaxTokens       int    `yaml:"max_tokens"`
	MaxParallel     int    `yaml:"max_parallel"`
	EvidenceAllowed bool   `yaml:"evidence_allowed"`
	MaxToolCalls    int    `yaml:"max_tool_calls"`
	CanSearchKB     bool   `yaml:"can_search_kb"`
	CanCallTools    bool   `yaml:"can_call_tools"`
	AutoClarify     bool   `yaml:"auto_clarify"`
	FallbackMode    string `yaml:"fallback_mode"`
}

// GateConfig is the complete, immutable gate policy snapshot. Every
// field is read-only after construction; change overrides through
// Provider.UpdateOverrides, which clones the snapshot and swaps the copy
// in, rather than mutating a live GateConfig.
type GateConfig struct {
	ScenePolicies    map[Scene]ScenePolicy  `yaml:"scene_policies"`
	Rules            map[Scene]RuleSet      `yaml:"rules"`
	DropEscalation   DropEscalation         `yaml:"drop_escalation"`
	Overrides        Overrides              `yaml:"overrides"`
	BudgetThresholds BudgetThresholds       `yaml:"budget_thresholds"`
	BudgetProfiles   map[string]BudgetSpec  `yaml:"budget_profiles"`

	// loadedAt records when this snapshot was constructed, for
	// diagnostics only; it plays no role in equality/reload decisions.
	loadedAt time.Time
}

// Policy returns the ScenePolicy for scene, falling back to a safe
// default (SINK-biased) if the scene is not configured.
func (c *GateConfig) Policy(scene Scene) ScenePolicy {
	if c == nil {
		return defaultScenePolicy()
	}
	if p, ok := c.ScenePolicies[scene]; ok {
		return p
	}
	return defaultScenePolicy()
}

// Rule returns the RuleSet for scene, or a zero-value RuleSet if the
// scene is not configured (scoring then yields 0 for every feature).
func (c *GateConfig) Rule(scene Scene) RuleSet {
	if c == nil {
		return RuleSet{}
	}
	return c.Rules[scene]
}

// BudgetProfile returns the named budget profile, or the zero value if
// it does not exist.
func (c *GateConfig) BudgetProfile(name string) BudgetSpec {
	if c == nil {
		return BudgetSpec{}
	}
	return c.BudgetProfiles[name]
}

func defaultScenePolicy() ScenePolicy {
	return ScenePolicy{
		DeliverThreshold: 0.8,
		SinkThreshold:    0.4,
		DefaultAction:    ActionSink,
		DefaultModelTier: "normal",
		MaxReasons:       8,
	}
}

// containsString reports whether needle is present in haystack.
func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

// SessionDropped reports whether sessionKey is in the drop_sessions
// override list.
func (c *GateConfig) SessionDropped(sessionKey string) bool {
	return c != nil && containsString(c.Overrides.DropSessions, sessionKey)
}

// SessionDelivered reports whether sessionKey is in the
// deliver_sessions override list.
func (c *GateConfig) SessionDelivered(sessionKey string) bool {
	return c != nil && containsString(c.Overrides.DeliverSessions, sessionKey)
}

// ActorDropped reports whether actorID is in the drop_actors override
// list.
func (c *GateConfig) ActorDropped(actorID string) bool {
	return c != nil && containsString(c.Overrides.DropActors, actorID)
}

// ActorDelivered reports whether actorID is in the deliver_actors
// override list.
func (c *GateConfig) ActorDelivered(actorID string) bool {
	return c != nil && containsString(c.Overrides.DeliverActors, actorID)
}
