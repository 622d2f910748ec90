// Package metrics wires the dispatch core's counters to
// prometheus/client_golang, grounded on the teacher's stats-by-key
// convention (internal/router.Stats: per-model counters under a mutex)
// generalized to Prometheus vectors so admin HTTP can expose them via
// the standard /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nugget/gatecore/internal/gateconfig"
)

// Registry holds every counter the dispatch core increments. Construct
// one with NewRegistry and register it with a prometheus.Registerer
// (typically a dedicated prometheus.NewRegistry() passed to adminhttp).
type Registry struct {
	Decisions      *prometheus.CounterVec
	BusPublished   prometheus.Counter
	BusDropped     prometheus.Counter
	RouterDropped  prometheus.Counter
	PainAlerts     *prometheus.CounterVec
	AdapterCooldown *prometheus.GaugeVec
	ReflexApplied  *prometheus.CounterVec
	ReflexReverted *prometheus.CounterVec
	EgressDropped  prometheus.Counter
	SessionsActive prometheus.Gauge
}

// NewRegistry creates and registers the full counter set on reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		Decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gatecore",
			Name:      "gate_decisions_total",
			Help:      "Gate pipeline decisions by scene and action.",
		}, []string{"scene", "action"}),
		BusPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gatecore", Name: "bus_published_total",
			Help: "Observations successfully published to the input bus.",
		}),
		BusDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gatecore", Name: "bus_dropped_total",
			Help: "Observations dropped because the input bus was full.",
		}),
		RouterDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gatecore", Name: "router_dropped_total",
			Help: "Observations dropped because a session inbox was full.",
		}),
		PainAlerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gatecore", Name: "pain_alerts_total",
			Help: "Pain ALERT observations recorded, by source_kind:source_id.",
		}, []string{"pain_key"}),
		AdapterCooldown: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "gatecore", Name: "adapter_cooldown_active",
			Help: "1 while an adapter is in its pain-burst cooldown window.",
		}, []string{"pain_key"}),
		ReflexApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gatecore", Name: "reflex_applied_total",
			Help: "Reflex override applications, by key.",
		}, []string{"key"}),
		ReflexReverted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gatecore", Name: "reflex_reverted_total",
			Help: "Reflex override reverts, by key.",
		}, []string{"key"}),
		EgressDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gatecore", Name: "egress_dropped_total",
			Help: "Observations dropped by the egress hub (no adapter registered).",
		}),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gatecore", Name: "sessions_active",
			Help: "Number of sessions currently tracked by the router.",
		}),
	}

	reg.MustRegister(
		r.Decisions, r.BusPublished, r.BusDropped, r.RouterDropped,
		r.PainAlerts, r.AdapterCooldown, r.ReflexApplied, r.ReflexReverted,
		r.EgressDropped, r.SessionsActive,
	)
	return r
}

// ObserveDecision implements gate.Metrics.
func (r *Registry) ObserveDecision(scene gateconfig.Scene, action gateconfig.Action) {
	r.Decisions.WithLabelValues(string(scene), string(action)).Inc()
}

// ObservePainAlert increments the pain-alert counter for key.
func (r *Registry) ObservePainAlert(key string) {
	r.PainAlerts.WithLabelValues(key).Inc()
}

// SetAdapterCooldown records whether key is currently cooling down.
func (r *Registry) SetAdapterCooldown(key string, active bool) {
	v := 0.0
	if active {
		v = 1.0
	}
	r.AdapterCooldown.WithLabelValues(key).Set(v)
}

// ObserveReflexApplied increments the applied counter for key.
func (r *Registry) ObserveReflexApplied(key string) {
	r.ReflexApplied.WithLabelValues(key).Inc()
}

// ObserveReflexReverted increments the reverted counter for key.
func (r *Registry) ObserveReflexReverted(key string) {
	r.ReflexReverted.WithLabelValues(key).Inc()
}

// AddBusPublished adds delta (a period's worth of newly published
// observations, sampled from bus.Bus.PublishedTotal) to the counter.
func (r *Registry) AddBusPublished(delta float64) { r.BusPublished.Add(delta) }

// AddBusDropped adds delta, sampled from bus.Bus.DroppedTotal.
func (r *Registry) AddBusDropped(delta float64) { r.BusDropped.Add(delta) }

// AddRouterDropped adds delta, sampled from session.Router.DroppedTotal.
func (r *Registry) AddRouterDropped(delta float64) { r.RouterDropped.Add(delta) }

// AddEgressDropped adds delta, sampled from egress.Hub.DroppedTotal.
func (r *Registry) AddEgressDropped(delta float64) { r.EgressDropped.Add(delta) }

// SetSessionsActive sets the active-session gauge to n.
func (r *Registry) SetSessionsActive(n float64) { r.SessionsActive.Set(n) }
