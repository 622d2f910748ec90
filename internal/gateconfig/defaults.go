package gateconfig

// Default tuning constants, overridable via gate.yaml.
const (
	DefaultBurstWindowSec       = 60
	DefaultBurstCountThreshold  = 5
	DefaultConsecutiveThreshold = 3
	DefaultCooldownSuggestSec   = 300
)

// Default budget profile names, referenced by BudgetThresholds-driven
// selection in the gate's policy mapper stage.
const (
	ProfileTiny   = "tiny"
	ProfileNormal = "normal"
	ProfileDeep   = "deep"
)

// Default model tiers.
const (
	ModelTierLow    = "low"
	ModelTierNormal = "normal"
	ModelTierDeep   = "deep"
)

// Default returns a complete, reasonable GateConfig suitable for
// bootstrapping a fresh install before an operator-authored gate.yaml
// exists, and as the baseline every test in this module builds from.
func Default() *GateConfig {
	return &GateConfig{
		ScenePolicies: map[Scene]ScenePolicy{
			SceneDialogue: {
				DeliverThreshold: 0.6, SinkThreshold: 0.3,
				DefaultAction: ActionDeliver, DefaultModelTier: ModelTierNormal,
				DefaultResponsePolicy: "reply", MaxReasons: 8,
			},
			SceneAlert: {
				DeliverThreshold: 0.0, SinkThreshold: 0.0,
				DefaultAction: ActionDeliver, DefaultModelTier: ModelTierDeep,
				DefaultResponsePolicy: "notify", MaxReasons: 8,
			},
			SceneSystem: {
				DeliverThreshold: 0.0, SinkThreshold: 0.0,
				DefaultAction: ActionDeliver, DefaultModelTier: ModelTierNormal,
				DefaultResponsePolicy: "internal", MaxReasons: 8,
			},
			SceneToolCall: {
				DeliverThreshold: 0.9, SinkThreshold: 0.2,
				DefaultAction: ActionSink, DefaultModelTier: ModelTierLow,
				DefaultResponsePolicy: "internal", MaxReasons: 8,
			},
			SceneToolResult: {
				DeliverThreshold: 0.9, SinkThreshold: 0.2,
				DefaultAction: ActionSink, DefaultModelTier: ModelTierLow,
				DefaultResponsePolicy: "internal", MaxReasons: 8,
			},
			SceneUnknown: {
				DeliverThreshold: 0.95, SinkThreshold: 0.5,
				DefaultAction: ActionSink, DefaultModelTier: ModelTierNormal,
				DefaultResponsePolicy: "ignore", MaxReasons: 8,
			},
		},
		Rules: map[Scene]RuleSet{
			SceneDialogue: {
				Weights: map[string]float64{
					"has_question_mark": 0.25,
					"has_mention":        0.2,
					"keyword_hit":        0.3,
					"long_text":          0.15,
					"has_attachment":     0.1,
				},
				Keywords: map[string][]string{
					"urgent": {"urgent", "asap", "emergency", "help"},
				},
				LongTextLen: 280,
			},
			SceneToolCall: {
				Weights: map[string]float64{"keyword_hit": 0.5, "has_attachment": 0.5},
			},
			SceneToolResult: {
				Weights: map[string]float64{"keyword_hit": 0.5, "has_attachment": 0.5},
			},
			SceneUnknown: {
				Weights: map[string]float64{"keyword_hit": 1.0},
			},
		},
		DropEscalation: DropEscalation{
			BurstWindowSec:       DefaultBurstWindowSec,
			BurstCountThreshold:  DefaultBurstCountThreshold,
			ConsecutiveThreshold: DefaultConsecutiveThreshold,
			CooldownSuggestSec:   DefaultCooldownSuggestSec,
		},
		Overrides: Overrides{},
		BudgetThresholds: BudgetThresholds{
			HighScore:   0.8,
			MediumScore: 0.5,
		},
		BudgetProfiles: map[string]BudgetSpec{
			ProfileTiny: {
				TimeMs: 2_000, MaxTokens: 512, MaxParallel: 1,
				EvidenceAllowed: false, MaxToolCalls: 0,
				CanSearchKB: false, CanCallTools: false,
				AutoClarify: false, FallbackMode: "template",
			},
			ProfileNormal: {
				TimeMs: 15_000, MaxTokens: 4_096, MaxParallel: 2,
				EvidenceAllowed: true, MaxToolCalls: 4,
				CanSearchKB: true, CanCallTools: true,
				AutoClarify: false, FallbackMode: "best_effort",
			},
			ProfileDeep: {
				TimeMs: 60_000, MaxTokens: 16_384, MaxParallel: 4,
				EvidenceAllowed: true, MaxToolCalls: 12,
				CanSearchKB: true, CanCallTools: true,
				AutoClarify: false, FallbackMode: "best_effort",
			},
		},
	}
}
