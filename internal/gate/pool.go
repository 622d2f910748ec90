package gate

import (
	"sync"

	"github.com/nugget/gatecore/internal/observation"
)

// PoolCapacity bounds each ingest pool's ring buffer (spec section 4.4,
// 9). The pools belong to the one Gate shared by every session worker,
// so ingest can arrive from several workers at once; each Pool's mutex
// serializes those calls.
const PoolCapacity = 1000

// Pool is a fixed-capacity ring buffer of ingested observations, kept
// for post-mortem inspection via admin HTTP.
type Pool struct {
	mu   sync.Mutex
	buf  []observation.Observation
	next int
	full bool
}

// NewPool creates a Pool with the given capacity (defaulting to
// PoolCapacity if capacity <= 0).
func NewPool(capacity int) *Pool {
	if capacity <= 0 {
		capacity = PoolCapacity
	}
	return &Pool{buf: make([]observation.Observation, capacity)}
}

// Add inserts obs, overwriting the oldest entry once the pool is full.
func (p *Pool) Add(obs observation.Observation) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buf[p.next] = obs
	p.next = (p.next + 1) % len(p.buf)
	if p.next == 0 {
		p.full = true
	}
}

// Len returns the number of observations currently held.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.full {
		return len(p.buf)
	}
	return p.next
}

// Snapshot returns a copy of the pool's contents, oldest first.
func (p *Pool) Snapshot() []observation.Observation {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.full {
		out := make([]observation.Observation, p.next)
		copy(out, p.buf[:p.next])
		return out
	}
	out := make([]observation.Observation, len(p.buf))
	copy(out, p.buf[p.next:])
	copy(out[len(p.buf)-p.next:], p.buf[:p.next])
	return out
}
