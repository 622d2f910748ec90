package gateconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestProviderLoadParsesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gate.yaml")
	writeFile(t, path, "drop_escalation:\n  burst_window_sec: 120\n")

	p := NewProvider(path, nil)
	if err := p.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := p.Snapshot().DropEscalation.BurstWindowSec; got != 120 {
		t.Fatalf("BurstWindowSec = %d, want 120", got)
	}
}

func TestProviderReloadIfChangedDetectsSizeChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gate.yaml")
	writeFile(t, path, "drop_escalation:\n  burst_window_sec: 60\n")

	p := NewProvider(path, nil)
	if err := p.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	reloaded, err := p.ReloadIfChanged()
	if err != nil {
		t.Fatalf("ReloadIfChanged: %v", err)
	}
	if reloaded {
		t.Fatalf("expected no reload when file is unchanged")
	}

	// Ensure the new mtime is observably different from the first write.
	time.Sleep(2 * time.Millisecond)
	writeFile(t, path, "drop_escalation:\n  burst_window_sec: 999\n")

	reloaded, err = p.ReloadIfChanged()
	if err != nil {
		t.Fatalf("ReloadIfChanged: %v", err)
	}
	if !reloaded {
		t.Fatalf("expected reload after content change")
	}
	if got := p.Snapshot().DropEscalation.BurstWindowSec; got != 999 {
		t.Fatalf("BurstWindowSec = %d, want 999", got)
	}
}

func TestProviderReloadKeepsPriorSnapshotOnParseFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gate.yaml")
	writeFile(t, path, "drop_escalation:\n  burst_window_sec: 60\n")

	p := NewProvider(path, nil)
	if err := p.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	before := p.Snapshot()

	time.Sleep(2 * time.Millisecond)
	writeFile(t, path, "drop_escalation: [this is not a mapping")

	reloaded, err := p.ReloadIfChanged()
	if err == nil {
		t.Fatalf("expected parse error")
	}
	if reloaded {
		t.Fatalf("expected reloaded=false on parse failure")
	}
	if p.Snapshot() != before {
		t.Fatalf("snapshot changed despite parse failure")
	}
}

func TestProviderUpdateOverridesPublishesNewSnapshot(t *testing.T) {
	p := NewProvider("", nil)
	before := p.Snapshot()

	on := true
	changed := p.UpdateOverrides(OverridePatch{EmergencyMode: &on})
	if !changed {
		t.Fatalf("expected UpdateOverrides to report a change")
	}
	after := p.Snapshot()
	if after == before {
		t.Fatalf("expected a new snapshot instance")
	}
	if !after.Overrides.EmergencyMode {
		t.Fatalf("expected EmergencyMode override applied")
	}
	if before.Overrides.EmergencyMode {
		t.Fatalf("prior snapshot must remain unchanged (immutability)")
	}
}

func TestProviderUpdateOverridesNoopReturnsFalse(t *testing.T) {
	p := NewProvider("", nil)
	off := false
	if changed := p.UpdateOverrides(OverridePatch{EmergencyMode: &off}); changed {
		t.Fatalf("expected no-op update to report no change")
	}
}

func TestProviderReloadIfChangedNoPathIsNoop(t *testing.T) {
	p := NewProvider("", nil)
	reloaded, err := p.ReloadIfChanged()
	if err != nil || reloaded {
		t.Fatalf("ReloadIfChanged() = (%v, %v), want (false, nil)", reloaded, err)
	}
}
