package metrics

import (
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nugget/gatecore/internal/gateconfig"
)

func TestObserveDecisionIncrementsLabeledCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRegistry(reg)

	r.ObserveDecision(gateconfig.SceneDialogue, gateconfig.ActionDeliver)
	r.ObserveDecision(gateconfig.SceneDialogue, gateconfig.ActionDeliver)
	r.ObserveDecision(gateconfig.SceneAlert, gateconfig.ActionDeliver)

	var m dto.Metric
	if err := r.Decisions.WithLabelValues("DIALOGUE", "DELIVER").Write(&m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := m.GetCounter().GetValue(); got != 2 {
		t.Fatalf("DIALOGUE/DELIVER count = %v, want 2", got)
	}
}

func TestSetAdapterCooldownTogglesGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRegistry(reg)

	r.SetAdapterCooldown("adapter:text_input", true)
	var m dto.Metric
	if err := r.AdapterCooldown.WithLabelValues("adapter:text_input").Write(&m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := m.GetGauge().GetValue(); got != 1 {
		t.Fatalf("gauge = %v, want 1", got)
	}

	r.SetAdapterCooldown("adapter:text_input", false)
	m = dto.Metric{}
	if err := r.AdapterCooldown.WithLabelValues("adapter:text_input").Write(&m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := m.GetGauge().GetValue(); got != 0 {
		t.Fatalf("gauge = %v, want 0", got)
	}
}
