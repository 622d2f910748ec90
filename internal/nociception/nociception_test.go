package nociception

import (
	"testing"
	"time"

	"github.com/nugget/gatecore/internal/observation"
)

func TestExtractPainKey(t *testing.T) {
	alert := MakePainAlert("adapter", "text_input", observation.SeverityHigh, "", "boom")
	if got := ExtractPainKey(alert); got != "adapter:text_input" {
		t.Fatalf("ExtractPainKey() = %q, want adapter:text_input", got)
	}
}

func TestExtractPainKeyNonAlertReturnsEmpty(t *testing.T) {
	msg := observation.New(observation.TypeMessage, "dm:a", observation.Actor{}, "x", observation.SourceExternal, observation.Payload{})
	if got := ExtractPainKey(msg); got != "" {
		t.Fatalf("ExtractPainKey() = %q, want empty", got)
	}
}

func TestAggregatorBurstTriggersCooldownAndFanoutSuppression(t *testing.T) {
	a := NewAggregator()
	now := time.Now()
	alert := MakePainAlert("adapter", "text_input", observation.SeverityHigh, "", "err")

	var burst bool
	for i := 0; i < BurstThreshold; i++ {
		_, burst = a.Record(alert, now.Add(time.Duration(i)*time.Second))
	}
	if !burst {
		t.Fatalf("expected burst to trigger on the %dth arrival", BurstThreshold)
	}
	if !a.IsCoolingDown("adapter:text_input", now) {
		t.Fatalf("expected adapter to be cooling down")
	}
	if !a.FanoutSuppressed(now) {
		t.Fatalf("expected fanout suppressed")
	}
}

func TestAggregatorBelowThresholdNoBurst(t *testing.T) {
	a := NewAggregator()
	now := time.Now()
	alert := MakePainAlert("adapter", "x", observation.SeverityLow, "", "")
	for i := 0; i < BurstThreshold-1; i++ {
		_, burst := a.Record(alert, now.Add(time.Duration(i)*time.Second))
		if burst {
			t.Fatalf("unexpected burst before threshold reached")
		}
	}
}

func TestAggregatorWindowEvictsOldArrivals(t *testing.T) {
	a := NewAggregator()
	now := time.Now()
	alert := MakePainAlert("adapter", "y", observation.SeverityLow, "", "")

	// Two arrivals well outside the window, then three inside it: total
	// ever-seen is 5 but only 3 fall within the window, so no burst.
	a.Record(alert, now)
	a.Record(alert, now.Add(1*time.Second))
	later := now.Add(PainWindow + 5*time.Second)
	a.Record(alert, later)
	a.Record(alert, later.Add(1*time.Second))
	_, burst := a.Record(alert, later.Add(2*time.Second))
	if burst {
		t.Fatalf("expected no burst once old arrivals fall outside the window")
	}
}

func TestCheckDropOverloadDetectsLargeDelta(t *testing.T) {
	a := NewAggregator()
	now := time.Now()

	if _, ok := a.CheckDropOverload(10, now); ok {
		t.Fatalf("first tick should only seed the baseline")
	}
	_, ok := a.CheckDropOverload(10+DropOverloadThreshold, now.Add(10*time.Second))
	if !ok {
		t.Fatalf("expected overload detection once delta reaches threshold within window")
	}
	if !a.FanoutSuppressed(now.Add(10 * time.Second)) {
		t.Fatalf("expected fanout suppressed after overload alert")
	}
}

func TestCheckDropOverloadIgnoresSlowGrowth(t *testing.T) {
	a := NewAggregator()
	now := time.Now()
	a.CheckDropOverload(0, now)
	_, ok := a.CheckDropOverload(5, now.Add(10*time.Second))
	if ok {
		t.Fatalf("small delta should not trigger overload")
	}
}
