package gate

import (
	"strings"

	"github.com/nugget/gatecore/internal/gateconfig"
	"github.com/nugget/gatecore/internal/observation"
)

// featureSet holds the boolean/numeric signals the scoring stage
// weighs. Feature names mirror the keys a RuleSet.Weights map may use,
// so operators can reconfigure weighting without a code change.
type featureSet struct {
	textLen         int
	hasQuestionMark bool
	hasMention      bool
	keywordHit      bool
	hasAttachment   bool
	longText        bool
	recentObsLen    int
}

// extractFeatures derives featureSet from obs and the scene's RuleSet.
// Only MESSAGE payloads carry text-derived features; all other obs
// types yield the zero featureSet (scoring then falls through to the
// scene's default_action).
func extractFeatures(obs observation.Observation, rules gateconfig.RuleSet, recentObsLen int) featureSet {
	f := featureSet{recentObsLen: recentObsLen}
	if obs.ObsType != observation.TypeMessage || obs.Payload.Message == nil {
		return f
	}
	m := obs.Payload.Message
	plain := stripMarkdown(m.Text)
	text := strings.ToLower(plain)
	f.textLen = len(plain)
	f.hasQuestionMark = strings.Contains(plain, "?")
	f.hasMention = len(m.Mentions) > 0
	f.hasAttachment = len(m.Attachments) > 0
	if rules.LongTextLen > 0 {
		f.longText = f.textLen >= rules.LongTextLen
	}
	for _, kws := range rules.Keywords {
		for _, kw := range kws {
			if kw != "" && strings.Contains(text, strings.ToLower(kw)) {
				f.keywordHit = true
				break
			}
		}
		if f.keywordHit {
			break
		}
	}
	return f
}

// toWeightMap exposes featureSet as the generic 0/1 signal map the
// scoring stage multiplies against the configured weights.
func (f featureSet) toWeightMap() map[string]float64 {
	return map[string]float64{
		"has_question_mark": boolToFloat(f.hasQuestionMark),
		"has_mention":       boolToFloat(f.hasMention),
		"keyword_hit":       boolToFloat(f.keywordHit),
		"long_text":         boolToFloat(f.longText),
		"has_attachment":    boolToFloat(f.hasAttachment),
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// score computes the weighted sum of features against rules.Weights,
// clamped to [0, 1] (spec section 4.4 stage 4).
func score(f featureSet, rules gateconfig.RuleSet) float64 {
	if len(rules.Weights) == 0 {
		return 0
	}
	signals := f.toWeightMap()
	var total float64
	for feature, weight := range rules.Weights {
		total += signals[feature] * weight
	}
	if total < 0 {
		return 0
	}
	if total > 1 {
		return 1
	}
	return total
}
