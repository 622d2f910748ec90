package gateconfig

import (
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// fileStamp is the (mtime_ns, size) pair used for the cheap reload
// check, with a content-hash fallback for filesystems that round mtime
// to coarse granularity (spec section 4.3, 6, 9).
type fileStamp struct {
	mtimeNS int64
	size    int64
	hash    [sha256.Size]byte
}

// Provider is the single source of truth for the current GateConfig
// snapshot. Snapshot is lock-free (an atomic pointer load); every
// mutation — file reload or in-memory override — builds a brand-new
// GateConfig and atomically swaps the pointer, so a reader that loaded
// the old reference keeps a fully consistent view for the rest of its
// observation (spec section 4.3, 5).
type Provider struct {
	path   string
	logger *slog.Logger

	current atomic.Pointer[GateConfig]
	stamp   atomic.Pointer[fileStamp]

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
}

// NewProvider creates a Provider seeded with Default(). Call Load to
// read an initial file, or use UpdateOverrides/leave as-is for tests.
func NewProvider(path string, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Provider{path: path, logger: logger, stopCh: make(chan struct{})}
	p.current.Store(Default())
	return p
}

// Snapshot returns the current GateConfig reference. O(1), no lock
// contention: callers must dereference once per observation and operate
// on that captured reference for the remainder of processing.
func (p *Provider) Snapshot() *GateConfig {
	return p.current.Load()
}

// Load reads and parses the config file at p.path, replacing the
// current snapshot on success. On any error the prior snapshot is kept
// unchanged and the error is returned — Load never installs a partial
// snapshot.
func (p *Provider) Load() error {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return fmt.Errorf("gateconfig: read %s: %w", p.path, err)
	}
	cfg, err := parse(data)
	if err != nil {
		return fmt.Errorf("gateconfig: parse %s: %w", p.path, err)
	}
	info, err := os.Stat(p.path)
	if err != nil {
		return fmt.Errorf("gateconfig: stat %s: %w", p.path, err)
	}
	p.stamp.Store(&fileStamp{
		mtimeNS: info.ModTime().UnixNano(),
		size:    info.Size(),
		hash:    sha256.Sum256(data),
	})
	p.current.Store(cfg)
	p.logger.Info("gate config loaded", "path", p.path)
	return nil
}

// ReloadIfChanged checks the file's (mtime_ns, size), falling back to a
// content hash comparison when those are unchanged (coarse-mtime
// filesystems), and reloads only if something actually differs. On
// parse failure the prior snapshot is kept and the error is logged, not
// propagated to the caller's hot path — callers that need to surface
// the failure can still inspect the returned error.
func (p *Provider) ReloadIfChanged() (reloaded bool, err error) {
	if p.path == "" {
		return false, nil
	}
	info, statErr := os.Stat(p.path)
	if statErr != nil {
		return false, fmt.Errorf("gateconfig: stat %s: %w", p.path, statErr)
	}

	prev := p.stamp.Load()
	mtimeNS := info.ModTime().UnixNano()
	size := info.Size()

	if prev != nil && prev.mtimeNS == mtimeNS && prev.size == size {
		// mtime/size unchanged by the coarse check; fall back to a
		// content hash comparison in case the filesystem rounded mtime.
		data, readErr := os.ReadFile(p.path)
		if readErr != nil {
			return false, fmt.Errorf("gateconfig: read %s: %w", p.path, readErr)
		}
		if sha256.Sum256(data) == prev.hash {
			return false, nil
		}
	}

	if err := p.Load(); err != nil {
		p.logger.Error("gate config reload failed, keeping prior snapshot", "path", p.path, "error", err)
		return false, err
	}
	return true, nil
}

// WatchFSNotify starts an fsnotify watch on the config file's directory
// as a low-latency trigger layered on top of the required poll-based
// ReloadIfChanged: a write event simply calls ReloadIfChanged early, it
// never bypasses the (mtime_ns, size)+hash verification. Safe to call
// at most once; returns an error if the watcher cannot be created.
func (p *Provider) WatchFSNotify() error {
	if p.path == "" {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("gateconfig: create watcher: %w", err)
	}
	dir := dirOf(p.path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return fmt.Errorf("gateconfig: watch %s: %w", dir, err)
	}
	p.watcher = w
	go p.watchLoop(w)
	return nil
}

func (p *Provider) watchLoop(w *fsnotify.Watcher) {
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if baseOf(ev.Name) != baseOf(p.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if _, err := p.ReloadIfChanged(); err != nil {
				p.logger.Warn("fsnotify-triggered reload failed", "error", err)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			p.logger.Warn("gate config watcher error", "error", err)
		case <-p.stopCh:
			return
		}
	}
}

// Close stops the fsnotify watch, if one was started.
func (p *Provider) Close() error {
	select {
	case <-p.stopCh:
	default:
		close(p.stopCh)
	}
	if p.watcher != nil {
		return p.watcher.Close()
	}
	return nil
}

// OverridePatch names the subset of Overrides fields UpdateOverrides
// may change; nil pointers leave the corresponding field untouched.
type OverridePatch struct {
	EmergencyMode   *bool
	ForceLowModel   *bool
	DropSessions    []string
	DeliverSessions []string
	DropActors      []string
	DeliverActors   []string
}

// UpdateOverrides applies patch on top of the current snapshot's
// Overrides, publishing a new snapshot via an atomic pointer swap.
// Returns whether the resulting Overrides differ from the prior ones.
func (p *Provider) UpdateOverrides(patch OverridePatch) bool {
	prev := p.Snapshot()
	next := cloneConfig(prev)

	if patch.EmergencyMode != nil {
		next.Overrides.EmergencyMode = *patch.EmergencyMode
	}
	if patch.ForceLowModel != nil {
		next.Overrides.ForceLowModel = *patch.ForceLowModel
	}
	if patch.DropSessions != nil {
		next.Overrides.DropSessions = patch.DropSessions
	}
	if patch.DeliverSessions != nil {
		next.Overrides.DeliverSessions = patch.DeliverSessions
	}
	if patch.DropActors != nil {
		next.Overrides.DropActors = patch.DropActors
	}
	if patch.DeliverActors != nil {
		next.Overrides.DeliverActors = patch.DeliverActors
	}

	next.loadedAt = time.Now()

	if overridesEqual(prev.Overrides, next.Overrides) {
		return false
	}
	p.current.Store(next)
	return true
}

func overridesEqual(a, b Overrides) bool {
	if a.EmergencyMode != b.EmergencyMode || a.ForceLowModel != b.ForceLowModel {
		return false
	}
	return stringSliceEqual(a.DropSessions, b.DropSessions) &&
		stringSliceEqual(a.DeliverSessions, b.DeliverSessions) &&
		stringSliceEqual(a.DropActors, b.DropActors) &&
		stringSliceEqual(a.DeliverActors, b.DeliverActors)
}

func stringSliceEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// cloneConfig returns a shallow copy of cfg. Map-valued fields
// (ScenePolicies, Rules, BudgetProfiles) are never mutated in place
// after construction, so sharing the underlying map across snapshots is
// safe; only the Overrides value (and loadedAt) are ever replaced
// wholesale on a cloned snapshot.
func cloneConfig(cfg *GateConfig) *GateConfig {
	if cfg == nil {
		cfg = Default()
	}
	clone := *cfg
	return &clone
}

func parse(data []byte) (*GateConfig, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.loadedAt = time.Now()
	return cfg, nil
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}

func baseOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}
