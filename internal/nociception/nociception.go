// Package nociception standardizes error surfacing as ALERT observations
// and drives burst-based adapter protection, grounded on the sliding
// per-sender window and periodic-cleanup pattern of the teacher's
// signal bridge rate limiter.
package nociception

import (
	"fmt"
	"sync"
	"time"

	"github.com/nugget/gatecore/internal/observation"
)

// Tuning defaults (spec section 4.5). PainWindow bounds the sliding
// window used for burst detection; BurstThreshold pain ALERTs with the
// same pain key inside that window trigger a cooldown and fanout
// suppression.
const (
	PainWindow            = 60 * time.Second
	BurstThreshold         = 5
	AdapterCooldown        = 300 * time.Second
	FanoutSuppressDuration = 60 * time.Second

	DropOverloadWindow    = 30 * time.Second
	DropOverloadThreshold = 50
)

// MakePainAlert constructs a standardized ALERT observation reporting an
// internal failure. The result always targets the system session.
func MakePainAlert(sourceKind, sourceID string, severity observation.Severity, exceptionType, message string) observation.Observation {
	data := map[string]any{}
	if message != "" {
		data["message"] = message
	}
	obs := observation.New(
		observation.TypeAlert,
		observation.SystemSessionKey,
		observation.Actor{ActorID: "nociception", ActorType: observation.ActorSystem},
		"nociception:"+sourceKind,
		observation.SourceInternal,
		observation.Payload{Alert: &observation.AlertPayload{
			Severity:      severity,
			SourceKind:    sourceKind,
			SourceID:      sourceID,
			ExceptionType: exceptionType,
			Data:          data,
		}},
	)
	return obs
}

// ExtractPainKey derives the aggregation key "source_kind:source_id"
// from an ALERT observation's payload. Returns "" if obs is not an
// ALERT or carries no alert payload.
func ExtractPainKey(obs observation.Observation) string {
	if obs.ObsType != observation.TypeAlert || obs.Payload.Alert == nil {
		return ""
	}
	return fmt.Sprintf("%s:%s", obs.Payload.Alert.SourceKind, obs.Payload.Alert.SourceID)
}

// Metrics is the narrow metrics surface the aggregator reports pain
// alerts and cooldown state through, satisfied structurally by
// *metrics.Registry so this package never imports it.
type Metrics interface {
	ObservePainAlert(key string)
	SetAdapterCooldown(key string, active bool)
}

// Aggregator tracks pain ALERT arrival times per key and derives
// adapter cooldowns and fanout suppression from burst activity. It also
// watches the cumulative drop counter for overload bursts. All state is
// owned by the caller's single worker/tick loop; Aggregator itself is
// safe for concurrent use since metrics and admin HTTP may read it
// while a worker mutates it.
type Aggregator struct {
	// Metrics, if set, is notified of every pain ALERT recorded and
	// every burst-triggered cooldown. A nil Metrics is a silent no-op,
	// matching reflex.Controller's Ledger field.
	Metrics Metrics

	mu sync.Mutex

	// arrivals holds pain-alert timestamps per key, oldest first,
	// trimmed to PainWindow on every Record call (bounded memory, per
	// spec section 9's sliding-window-as-deque guidance).
	arrivals map[string][]time.Time

	cooldowns           map[string]time.Time
	fanoutSuppressUntil time.Time

	lastDropTotal   int64
	lastDropTick    time.Time
}

// NewAggregator creates an empty Aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{
		arrivals:  make(map[string][]time.Time),
		cooldowns: make(map[string]time.Time),
	}
}

// Record registers a pain ALERT's arrival at now and reports whether
// this arrival triggered a new burst cooldown for its key.
func (a *Aggregator) Record(obs observation.Observation, now time.Time) (key string, burst bool) {
	key = ExtractPainKey(obs)
	if key == "" {
		return "", false
	}

	a.mu.Lock()
	times := append(a.arrivals[key], now)
	times = trimWindow(times, now, PainWindow)
	a.arrivals[key] = times

	if len(times) >= BurstThreshold {
		a.cooldowns[key] = now.Add(AdapterCooldown)
		if now.Add(FanoutSuppressDuration).After(a.fanoutSuppressUntil) {
			a.fanoutSuppressUntil = now.Add(FanoutSuppressDuration)
		}
		burst = true
	}
	a.mu.Unlock()

	if a.Metrics != nil {
		a.Metrics.ObservePainAlert(key)
		if burst {
			a.Metrics.SetAdapterCooldown(key, true)
		}
	}
	return key, burst
}

// AdapterCooldownUntil returns the time key's cooldown expires, or the
// zero Time if it is not currently cooled down.
func (a *Aggregator) AdapterCooldownUntil(key string) time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cooldowns[key]
}

// IsCoolingDown reports whether key is currently within its cooldown
// window at now.
func (a *Aggregator) IsCoolingDown(key string, now time.Time) bool {
	until := a.AdapterCooldownUntil(key)
	return !until.IsZero() && now.Before(until)
}

// FanoutSuppressUntil returns the time until which fanout is suppressed
// system-wide.
func (a *Aggregator) FanoutSuppressUntil() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fanoutSuppressUntil
}

// FanoutSuppressed reports whether fanout is currently suppressed at
// now.
func (a *Aggregator) FanoutSuppressed(now time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return now.Before(a.fanoutSuppressUntil)
}

// CheckDropOverload compares currentDropTotal against the value
// observed on the previous tick. If the delta reaches
// DropOverloadThreshold within DropOverloadWindow, it emits a system
// pain ALERT and extends fanout suppression, returning the alert to
// publish (ok=false if no overload was detected this tick).
func (a *Aggregator) CheckDropOverload(currentDropTotal int64, now time.Time) (alert observation.Observation, ok bool) {
	a.mu.Lock()

	if a.lastDropTick.IsZero() {
		a.lastDropTick = now
		a.lastDropTotal = currentDropTotal
		a.mu.Unlock()
		return observation.Observation{}, false
	}

	elapsed := now.Sub(a.lastDropTick)
	delta := currentDropTotal - a.lastDropTotal

	if elapsed <= DropOverloadWindow && delta >= DropOverloadThreshold {
		if now.Add(FanoutSuppressDuration).After(a.fanoutSuppressUntil) {
			a.fanoutSuppressUntil = now.Add(FanoutSuppressDuration)
		}
		a.lastDropTotal = currentDropTotal
		a.lastDropTick = now
		a.mu.Unlock()

		alert = MakePainAlert("system", "drop_overload", observation.SeverityHigh, "",
			fmt.Sprintf("drop total increased by %d within %s", delta, elapsed))
		if a.Metrics != nil {
			key := ExtractPainKey(alert)
			a.Metrics.ObservePainAlert(key)
			a.Metrics.SetAdapterCooldown(key, true)
		}
		return alert, true
	}

	if elapsed > DropOverloadWindow {
		a.lastDropTick = now
		a.lastDropTotal = currentDropTotal
	}
	a.mu.Unlock()
	return observation.Observation{}, false
}

func trimWindow(times []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	i := 0
	for i < len(times) && times[i].Before(cutoff) {
		i++
	}
	if i == 0 {
		return times
	}
	return append([]time.Time(nil), times[i:]...)
}
