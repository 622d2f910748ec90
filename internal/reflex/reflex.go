// Package reflex translates whitelisted CONTROL(tuning_suggestion)
// observations into TTL-bounded GateConfig overrides with automatic
// revert, grounded on the teacher's internal/scheduler per-key
// time.Timer map (cancel-and-reschedule under a mutex).
package reflex

import (
	"strconv"
	"time"

	"github.com/nugget/gatecore/internal/gateconfig"
	"github.com/nugget/gatecore/internal/observation"
	"github.com/nugget/gatecore/internal/overridestore"
)

// MaxSuggestionTTL is the hard upper bound on a tuning suggestion's
// TTL; data.ttl_sec is clamped to this regardless of what an operator
// configures (spec section 4.6, 9 Open Questions).
const MaxSuggestionTTL = 3600 * time.Second

// Defaults for the cooldown and TTL when a suggestion omits them.
const (
	DefaultCooldown = 30 * time.Second
	DefaultTTL      = 60 * time.Second
)

// DefaultWhitelist is the key set New installs; the Controller offers
// no way to change it. emergency_mode is deliberately never included (spec section 4.6, and DESIGN.md Open Question decision 4).
func DefaultWhitelist() map[string]bool {
	return map[string]bool{"force_low_model": true}
}

// activeOverride tracks one applied suggestion pending revert.
type activeOverride struct {
	activeUntil   time.Time
	lastAppliedAt time.Time
	priorValue    bool
}

// Metrics is the narrow metrics surface the controller reports
// override application/revert through, satisfied structurally by
// *metrics.Registry so this package never imports it.
type Metrics interface {
	ObserveReflexApplied(key string)
	ObserveReflexReverted(key string)
}

// Controller applies and reverts whitelisted overrides against a
// gateconfig.Provider.
type Controller struct {
	provider  *gateconfig.Provider
	whitelist map[string]bool
	cooldown  time.Duration

	active map[string]*activeOverride

	// Ledger, if set, receives an audit record for every apply/deny/
	// revert. A ledger failure is swallowed, never propagated into the
	// gate's main path (fail-open, spec section 9).
	Ledger *overridestore.Store

	// Metrics, if set, is notified of every override applied/reverted.
	// A nil Metrics is a silent no-op.
	Metrics Metrics
}

// New creates a Controller bound to provider, using DefaultWhitelist
// and DefaultCooldown.
func New(provider *gateconfig.Provider) *Controller {
	return &Controller{
		provider:  provider,
		whitelist: DefaultWhitelist(),
		cooldown:  DefaultCooldown,
		active:    make(map[string]*activeOverride),
	}
}

func (c *Controller) record(key string, action overridestore.Action, value bool, reason string, now time.Time) {
	if c.Ledger == nil {
		return
	}
	_ = c.Ledger.Record(key, action, strconv.FormatBool(value), reason, now)
}

// Apply processes a CONTROL(tuning_suggestion) observation, applying
// whatever whitelisted, not-in-cooldown keys it names, and returns the
// CONTROL observations to publish (tuning_applied, and
// system_mode_changed when force_low_model was newly applied).
func (c *Controller) Apply(obs observation.Observation, now time.Time) []observation.Observation {
	if obs.ObsType != observation.TypeControl || obs.Payload.Control == nil ||
		obs.Payload.Control.Kind != observation.ControlTuningSuggestion {
		return nil
	}

	suggested, ttl, ok := parseSuggestion(obs.Payload.Control.Data)
	if !ok {
		return []observation.Observation{
			makeControl(observation.ControlTuningApplied, map[string]any{
				"approved": map[string]bool{},
				"denied":   map[string]string{"_payload": "invalid_payload"},
			}),
		}
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if ttl > MaxSuggestionTTL {
		ttl = MaxSuggestionTTL
	}

	approved := map[string]bool{}
	denied := map[string]string{}

	cfg := c.provider.Snapshot()
	patch := gateconfig.OverridePatch{}
	var appliedForceLowModel bool

	for key, val := range suggested {
		if !c.whitelist[key] {
			denied[key] = "not_whitelisted"
			c.record(key, overridestore.ActionDenied, val, "not_whitelisted", now)
			continue
		}
		if entry, cooling := c.active[key]; cooling && now.Sub(entry.lastAppliedAt) < c.cooldown {
			denied[key] = "cooldown"
			c.record(key, overridestore.ActionDenied, val, "cooldown", now)
			continue
		}

		switch key {
		case "force_low_model":
			prior := cfg.Overrides.ForceLowModel
			v := val
			patch.ForceLowModel = &v
			c.active[key] = &activeOverride{
				activeUntil:   now.Add(ttl),
				lastAppliedAt: now,
				priorValue:    prior,
			}
			approved[key] = v
			appliedForceLowModel = true
			c.record(key, overridestore.ActionApplied, v, "tuning_suggestion", now)
			if c.Metrics != nil {
				c.Metrics.ObserveReflexApplied(key)
			}
		default:
			denied[key] = "not_whitelisted"
			c.record(key, overridestore.ActionDenied, val, "not_whitelisted", now)
		}
	}

	if len(approved) == 0 {
		return []observation.Observation{
			makeControl(observation.ControlTuningApplied, map[string]any{
				"approved": approved,
				"denied":   denied,
			}),
		}
	}

	c.provider.UpdateOverrides(patch)

	emits := []observation.Observation{
		makeControl(observation.ControlTuningApplied, map[string]any{
			"approved": approved,
			"denied":   denied,
		}),
	}
	if appliedForceLowModel {
		emits = append(emits, makeControl(observation.ControlSystemModeChange, map[string]any{
			"force_low_model": approved["force_low_model"],
		}))
	}
	return emits
}

// EvaluateTTL reverts any active override whose TTL has elapsed by now,
// emitting CONTROL(tuning_reverted) for each. Called on every
// system-session ALERT/CONTROL/SCHEDULE observation (spec section 4.6).
func (c *Controller) EvaluateTTL(now time.Time) []observation.Observation {
	var emits []observation.Observation
	for key, entry := range c.active {
		if now.Before(entry.activeUntil) {
			continue
		}
		switch key {
		case "force_low_model":
			v := entry.priorValue
			c.provider.UpdateOverrides(gateconfig.OverridePatch{ForceLowModel: &v})
			c.record(key, overridestore.ActionReverted, v, "ttl_expired", now)
			if c.Metrics != nil {
				c.Metrics.ObserveReflexReverted(key)
			}
		}
		emits = append(emits, makeControl(observation.ControlTuningReverted, map[string]any{
			"key": key,
		}))
		delete(c.active, key)
	}
	return emits
}

// ActiveKeys returns the set of keys currently pending revert, for
// tests and admin inspection.
func (c *Controller) ActiveKeys() []string {
	keys := make([]string, 0, len(c.active))
	for k := range c.active {
		keys = append(keys, k)
	}
	return keys
}

func makeControl(kind string, data map[string]any) observation.Observation {
	return observation.New(
		observation.TypeControl,
		observation.SystemSessionKey,
		observation.Actor{ActorID: "reflex", ActorType: observation.ActorSystem},
		"reflex:controller",
		observation.SourceInternal,
		observation.Payload{Control: &observation.ControlPayload{Kind: kind, Data: data}},
	)
}

// parseSuggestion extracts the suggested_overrides map and ttl_sec from
// a tuning_suggestion CONTROL payload's Data. Returns ok=false if the
// shape is unusable.
func parseSuggestion(data map[string]any) (suggested map[string]bool, ttl time.Duration, ok bool) {
	if data == nil {
		return nil, 0, false
	}
	raw, exists := data["suggested_overrides"]
	if !exists {
		return nil, 0, false
	}
	rawMap, isMap := raw.(map[string]any)
	if !isMap {
		return nil, 0, false
	}
	suggested = make(map[string]bool, len(rawMap))
	for k, v := range rawMap {
		b, isBool := v.(bool)
		if !isBool {
			continue
		}
		suggested[k] = b
	}
	if len(suggested) == 0 {
		return nil, 0, false
	}

	if rawTTL, exists := data["ttl_sec"]; exists {
		switch t := rawTTL.(type) {
		case float64:
			ttl = time.Duration(t) * time.Second
		case int:
			ttl = time.Duration(t) * time.Second
		}
	}
	return suggested, ttl, true
}
