package overridestore

import (
	"path/filepath"
	"testing"
	"time"
)

func TestRecordAndRecentForKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overrides.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	now := time.Now()
	if err := s.Record("force_low_model", ActionApplied, "true", "tuning_suggestion", now); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := s.Record("force_low_model", ActionReverted, "false", "ttl_expired", now.Add(time.Minute)); err != nil {
		t.Fatalf("Record: %v", err)
	}

	events, err := s.RecentForKey("force_low_model", 10)
	if err != nil {
		t.Fatalf("RecentForKey: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2", len(events))
	}
	if events[0].Action != ActionReverted {
		t.Fatalf("events[0].Action = %v, want reverted (newest first)", events[0].Action)
	}
	if events[1].Action != ActionApplied {
		t.Fatalf("events[1].Action = %v, want applied", events[1].Action)
	}
}

func TestRecentForKeyEmptyForUnknownKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overrides.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	events, err := s.RecentForKey("nothing", 10)
	if err != nil {
		t.Fatalf("RecentForKey: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected no events, got %d", len(events))
	}
}
