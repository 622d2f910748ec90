// Package gate implements the deterministic seven-stage pre-processing
// pipeline that decides whether every Observation is dropped, sunk for
// inspection only, or delivered onward to the intelligent handler. It is
// grounded on the teacher's internal/router package for its
// decision/audit shape (Decision, reasoning) and on DriftPursuit's
// input-gate burst/metrics style for hard-bypass bookkeeping.
package gate

import (
	"time"

	"github.com/nugget/gatecore/internal/gateconfig"
	"github.com/nugget/gatecore/internal/observation"
	"github.com/nugget/gatecore/internal/session"
)

// SystemHealth reports load signals the hard-bypass stage consults.
// Nil means "healthy" for every field.
type SystemHealth struct {
	Overload bool
}

// Metrics receives per-decision counters. The orchestrator wires a
// prometheus-backed implementation in production; tests may use a
// no-op or recording stub.
type Metrics interface {
	ObserveDecision(scene gateconfig.Scene, action gateconfig.Action)
}

// NopMetrics discards every observation.
type NopMetrics struct{}

// ObserveDecision implements Metrics.
func (NopMetrics) ObserveDecision(gateconfig.Scene, gateconfig.Action) {}

// GateContext carries everything a single handle() call needs beyond
// the observation itself. Callers must capture Snapshot once per
// observation and pass the same reference through — see
// gateconfig.Provider's immutable-snapshot contract.
type GateContext struct {
	Now              time.Time
	Snapshot         *gateconfig.GateConfig
	SystemSessionKey string
	Metrics          Metrics
	SessionState     *session.State
	SystemHealth     *SystemHealth
	// Trace, if set, is invoked after every stage with the stage name
	// and the decision accumulated so far, for debugging and tests.
	Trace func(stage string, wip GateDecision)
}

// GateHint is advisory, per-decision metadata handed to the downstream
// handler. Budget enforcement is the handler's responsibility; the gate
// only supplies the advisory envelope (spec section 4.4, 9).
type GateHint struct {
	ModelTier      string
	ResponsePolicy string
	Budget         gateconfig.BudgetSpec
	AutoClarify    bool
}

// GateDecision is the gate's final disposition for one observation.
type GateDecision struct {
	Action      gateconfig.Action
	Scene       gateconfig.Scene
	Reasons     []string
	ModelTier   string
	Hint        *GateHint
	Fingerprint string
	Score       float64
	DropBurst   bool
}

// addReason appends reason unless it is already present, and is a
// value-receiver-safe helper used throughout the pipeline stages.
func (d *GateDecision) addReason(reason string) {
	for _, r := range d.Reasons {
		if r == reason {
			return
		}
	}
	d.Reasons = append(d.Reasons, reason)
}

// GateOutcome is the gate's complete product: the decision plus any
// queued side effects. Emit holds observations to publish back onto the
// bus (pain ALERTs, reflex CONTROL emissions); Ingest holds observations
// to route into the gate's own pools.
type GateOutcome struct {
	Decision GateDecision
	Emit     []observation.Observation
	Ingest   []observation.Observation
}
