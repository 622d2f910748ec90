package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFindConfig_Explicit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	os.WriteFile(path, []byte("listen:\n  port: 9999\n"), 0600)

	got, err := FindConfig(path)
	if err != nil {
		t.Fatalf("FindConfig(%q) error: %v", path, err)
	}
	if got != path {
		t.Errorf("FindConfig(%q) = %q, want %q", path, got, path)
	}
}

func TestFindConfig_ExplicitMissing(t *testing.T) {
	_, err := FindConfig("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("FindConfig with missing explicit path should error")
	}
}

func TestFindConfig_CWD(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("listen:\n  port: 8080\n"), 0600)

	orig, _ := os.Getwd()
	os.Chdir(dir)
	defer os.Chdir(orig)

	got, err := FindConfig("")
	if err != nil {
		t.Fatalf("FindConfig(\"\") error: %v", err)
	}
	if got != "config.yaml" {
		t.Errorf("FindConfig(\"\") = %q, want %q", got, "config.yaml")
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("adapters:\n  forge:\n    token: ${GATECORE_TEST_TOKEN}\n"), 0600)
	os.Setenv("GATECORE_TEST_TOKEN", "secret123")
	defer os.Unsetenv("GATECORE_TEST_TOKEN")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Adapters.Forge.Token != "secret123" {
		t.Errorf("token = %q, want %q", cfg.Adapters.Forge.Token, "secret123")
	}
}

func TestLoad_AppliesDefaultsAndValidates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("data_dir: /var/lib/gatecore\n"), 0600)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Listen.Port != 8080 {
		t.Errorf("Listen.Port = %d, want 8080", cfg.Listen.Port)
	}
	if cfg.GateConfig.Path != filepath.Join("/var/lib/gatecore", "gate.yaml") {
		t.Errorf("GateConfig.Path = %q, want derived from data_dir", cfg.GateConfig.Path)
	}
	if cfg.Bus.Capacity != 1024 {
		t.Errorf("Bus.Capacity = %d, want 1024", cfg.Bus.Capacity)
	}
	if cfg.Memory.Backend != "noop" {
		t.Errorf("Memory.Backend = %q, want noop", cfg.Memory.Backend)
	}
}

func TestValidate_RejectsOutOfRangeListenPort(t *testing.T) {
	cfg := Default()
	cfg.Listen.Port = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for listen.port 0")
	}
}

func TestValidate_RejectsUnknownMemoryBackend(t *testing.T) {
	cfg := Default()
	cfg.Memory.Backend = "mongodb"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for unknown memory.backend")
	}
}

func TestValidate_RejectsZeroBusCapacity(t *testing.T) {
	cfg := Default()
	cfg.Bus.Capacity = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for zero bus.capacity")
	}
}

func TestValidate_AdminEnabledRequiresValidPort(t *testing.T) {
	cfg := Default()
	cfg.Admin.Enabled = true
	cfg.Admin.Port = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for out-of-range admin.port")
	}
}

func TestValidate_RejectsUnknownLogLevel(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "verbose"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for unknown log_level")
	}
}

func TestDefault_IsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default() config should validate, got: %v", err)
	}
}
