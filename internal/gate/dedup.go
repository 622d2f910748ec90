package gate

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/nugget/gatecore/internal/gateconfig"
	"github.com/nugget/gatecore/internal/observation"
)

// DedupWindow bounds how long a fingerprint suppresses repeats of the
// same (session_key, scene) traffic (spec section 4.4 stage 5).
const DedupWindow = 30 * time.Second

// fingerprint computes a stable hash over the fields spec section 4.4's
// finalize stage names: normalized text, scene, actor_id, session_key,
// obs_type. Two observations that agree on all five collide.
func fingerprint(obs observation.Observation, scene gateconfig.Scene) string {
	h := sha256.New()
	h.Write([]byte(scene))
	h.Write([]byte{0})
	h.Write([]byte(obs.ObsType))
	h.Write([]byte{0})
	h.Write([]byte(obs.Session))
	h.Write([]byte{0})
	h.Write([]byte(obs.Actor.ActorID))
	h.Write([]byte{0})
	if obs.Payload.Message != nil {
		h.Write([]byte(obs.Payload.Message.Text))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// deduplicator maintains a per-(session_key, scene, fingerprint)
// last-seen timestamp. It is owned by the Gate and guarded by its own
// mutex since it is consulted from every session's worker.
type deduplicator struct {
	mu       sync.Mutex
	lastSeen map[string]time.Time
}

func newDeduplicator() *deduplicator {
	return &deduplicator{lastSeen: make(map[string]time.Time)}
}

// checkAndRecord reports whether key has been seen within DedupWindow
// of now; in either case it records now as the latest sighting.
func (d *deduplicator) checkAndRecord(key string, now time.Time) (hit bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if last, ok := d.lastSeen[key]; ok && now.Sub(last) < DedupWindow {
		hit = true
	}
	d.lastSeen[key] = now
	return hit
}
