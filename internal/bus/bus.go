// Package bus implements the dispatch core's input bus: a bounded,
// producer-nonblocking, single-consumer queue of observations. Producers
// (adapters) call PublishNowait and never block; when the queue is full
// the newest observation is dropped and a counter is incremented. The
// router is the sole consumer, draining via Next in FIFO order.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/nugget/gatecore/internal/observation"
)

// Result reports the outcome of a PublishNowait call.
type Result struct {
	OK      bool
	Dropped bool
	Closed  bool
}

// Bus is a bounded single-consumer FIFO queue of observations with a
// drop-newest-on-full policy. The zero value is not usable; construct
// with New.
type Bus struct {
	logger *slog.Logger
	ch     chan observation.Observation

	closeOnce sync.Once
	closed    atomic.Bool

	droppedTotal  atomic.Int64
	publishTotal  atomic.Int64
	validateTotal atomic.Int64
}

// New creates a Bus with the given bounded capacity. A nil logger
// defaults to slog.Default().
func New(capacity int, logger *slog.Logger) *Bus {
	if capacity <= 0 {
		capacity = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		logger: logger,
		ch:     make(chan observation.Observation, capacity),
	}
}

// PublishNowait validates obs and enqueues it without blocking. It
// never blocks: if the bus is closed, Result.Closed is true and obs is
// not enqueued; if the queue is full, Result.Dropped is true, the
// droppedTotal counter is incremented, and obs is not enqueued; if
// validation fails, an error is returned and obs is not enqueued.
func (b *Bus) PublishNowait(obs observation.Observation) (Result, error) {
	if err := obs.Validate(); err != nil {
		b.validateTotal.Add(1)
		return Result{}, fmt.Errorf("bus: reject invalid observation: %w", err)
	}
	if b.closed.Load() {
		return Result{Closed: true}, nil
	}

	select {
	case b.ch <- obs:
		b.publishTotal.Add(1)
		return Result{OK: true}, nil
	default:
		b.droppedTotal.Add(1)
		b.logger.Warn("bus full, dropping newest observation",
			"obs_id", obs.ObsID, "obs_type", obs.ObsType, "session_key", obs.Session)
		return Result{Dropped: true}, nil
	}
}

// Next blocks until an observation is available, the context is
// cancelled, or the bus is closed and drained. ok is false only once
// the bus has been closed and every buffered observation consumed.
func (b *Bus) Next(ctx context.Context) (obs observation.Observation, ok bool) {
	select {
	case o, open := <-b.ch:
		return o, open
	case <-ctx.Done():
		return observation.Observation{}, false
	}
}

// Close shuts the bus down. Idempotent: calling Close more than once is
// a no-op. After Close, PublishNowait always reports Closed; Next
// continues to drain any observations already buffered before
// reporting ok=false.
func (b *Bus) Close() {
	b.closeOnce.Do(func() {
		b.closed.Store(true)
		close(b.ch)
	})
}

// DroppedTotal returns the cumulative count of observations dropped due
// to a full queue.
func (b *Bus) DroppedTotal() int64 { return b.droppedTotal.Load() }

// PublishedTotal returns the cumulative count of observations
// successfully enqueued.
func (b *Bus) PublishedTotal() int64 { return b.publishTotal.Load() }

// Len returns the number of observations currently buffered.
func (b *Bus) Len() int { return len(b.ch) }

// Cap returns the bus's configured capacity.
func (b *Bus) Cap() int { return cap(b.ch) }
