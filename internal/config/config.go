// Package config handles gatecore's process-level configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order. An explicit
// path (from -config flag) is checked first. Then: ./config.yaml,
// ~/.config/gatecore/config.yaml, the container convention, then /etc.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "gatecore", "config.yaml"))
	}

	paths = append(paths, "/config/config.yaml") // Container convention
	paths = append(paths, "/etc/gatecore/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must
// exist. Otherwise, searches DefaultSearchPaths and returns the first
// that exists. Returns the path found, or an error if nothing was
// found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config is gatecore's process-level configuration: listen addresses,
// data directory, the path to the hot-reloadable gate policy file, and
// which optional adapters/surfaces are enabled. Policy tuning itself
// (scene rules, budgets, overrides) lives in gate.yaml and is owned by
// the gateconfig package, not here.
type Config struct {
	Listen      ListenConfig      `yaml:"listen"`
	Admin       AdminConfig       `yaml:"admin"`
	GateConfig  GateConfigSource  `yaml:"gate_config"`
	Bus         BusConfig         `yaml:"bus"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Memory      MemoryConfig      `yaml:"memory"`
	Adapters    AdaptersConfig    `yaml:"adapters"`
	DataDir     string            `yaml:"data_dir"`
	LogLevel    string            `yaml:"log_level"`
}

// ListenConfig holds a bind address and port. It is defaulted and
// validated here; no component in this repository binds to it.
type ListenConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// AdminConfig defines the read-only admin HTTP surface
// (/healthz, /metrics, /pools/*, /events).
type AdminConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// GateConfigSource locates the hot-reloadable gate policy file and
// whether fsnotify-driven early reload is enabled on top of the
// required (mtime_ns, size) poll.
type GateConfigSource struct {
	Path           string `yaml:"path"`
	WatchFSNotify  bool   `yaml:"watch_fsnotify"`
}

// BusConfig sizes the input bus. Per-session inboxes always use
// session.InboxCapacity.
type BusConfig struct {
	Capacity int `yaml:"capacity"`
}

// OrchestratorConfig overrides the orchestrator's default timing
// parameters (idle GC, watcher, sweep). Zero values fall back to the
// package defaults in internal/orchestrator.
type OrchestratorConfig struct {
	IdleTTLSeconds       int `yaml:"idle_ttl_seconds"`
	SweepIntervalSeconds int `yaml:"sweep_interval_seconds"`
	WatcherIntervalSeconds int `yaml:"watcher_interval_seconds"`
}

// MemoryConfig selects the memory hooks backend.
type MemoryConfig struct {
	// Backend is "noop" (default) or "sqlite".
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// AdaptersConfig toggles the worked example adapters.
type AdaptersConfig struct {
	MQTT   MQTTAdapterConfig   `yaml:"mqtt"`
	Forge  ForgeAdapterConfig  `yaml:"forge"`
}

// MQTTAdapterConfig configures the MQTT bridge example adapter.
type MQTTAdapterConfig struct {
	Enabled    bool   `yaml:"enabled"`
	BrokerURL  string `yaml:"broker_url"`
	ClientID   string `yaml:"client_id"`
	Topic      string `yaml:"topic"`
	ControlTopic string `yaml:"control_topic"`
}

// ForgeAdapterConfig configures the GitHub forge-source example adapter.
type ForgeAdapterConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Owner        string   `yaml:"owner"`
	Repos        []string `yaml:"repos"`
	Token        string   `yaml:"token"`
	PollSeconds  int      `yaml:"poll_seconds"`
}

// Load reads configuration from a YAML file, expands environment
// variables, applies defaults for any unset fields, and validates the
// result. After Load returns successfully, all fields are usable
// without additional nil/empty checks.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables (e.g., ${GATECORE_DATA_DIR}) as a
	// container-deployment convenience.
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// applyDefaults fills in zero-value fields with sensible defaults.
// Called automatically by Load. After this, callers can read any field
// without checking for empty strings or zero values.
func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8080
	}
	if c.Admin.Port == 0 {
		c.Admin.Port = 9090
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.GateConfig.Path == "" {
		c.GateConfig.Path = filepath.Join(c.DataDir, "gate.yaml")
	}
	if c.Bus.Capacity == 0 {
		c.Bus.Capacity = 1024
	}
	if c.Orchestrator.IdleTTLSeconds == 0 {
		c.Orchestrator.IdleTTLSeconds = 600
	}
	if c.Orchestrator.SweepIntervalSeconds == 0 {
		c.Orchestrator.SweepIntervalSeconds = 30
	}
	if c.Orchestrator.WatcherIntervalSeconds == 0 {
		c.Orchestrator.WatcherIntervalSeconds = 5
	}
	if c.Memory.Backend == "" {
		c.Memory.Backend = "noop"
	}
	if c.Memory.Path == "" {
		c.Memory.Path = filepath.Join(c.DataDir, "memory.db")
	}
	if c.Adapters.Forge.PollSeconds == 0 {
		c.Adapters.Forge.PollSeconds = 300
	}
}

// Validate checks that the configuration is internally consistent. It
// runs after applyDefaults, so it can assume defaults are populated.
// Returns an error describing the first problem found, or nil.
func (c *Config) Validate() error {
	if c.Listen.Port < 1 || c.Listen.Port > 65535 {
		return fmt.Errorf("listen.port %d out of range (1-65535)", c.Listen.Port)
	}
	if c.Admin.Enabled && (c.Admin.Port < 1 || c.Admin.Port > 65535) {
		return fmt.Errorf("admin.port %d out of range (1-65535)", c.Admin.Port)
	}
	if c.Bus.Capacity < 1 {
		return fmt.Errorf("bus.capacity %d must be positive", c.Bus.Capacity)
	}
	if c.Memory.Backend != "noop" && c.Memory.Backend != "sqlite" {
		return fmt.Errorf("memory.backend %q must be \"noop\" or \"sqlite\"", c.Memory.Backend)
	}
	if c.LogLevel != "" {
		if _, err := ParseLogLevel(c.LogLevel); err != nil {
			return err
		}
	}
	return nil
}

// Default returns a complete, reasonable Config suitable for
// bootstrapping a fresh install before an operator-authored
// config.yaml exists. All defaults are already applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}
