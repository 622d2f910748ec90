// Package orchestrator runs the dispatch core's main loop: a router
// task draining the bus into per-session inboxes, one serial worker per
// session applying the gate pipeline and invoking the agent, a watcher
// that creates and revives workers, an idle GC, and an egress
// dispatcher. It is the only place the rest of the core's concurrency
// and failure rules become operational.
package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nugget/gatecore/internal/bus"
	"github.com/nugget/gatecore/internal/egress"
	"github.com/nugget/gatecore/internal/gate"
	"github.com/nugget/gatecore/internal/gateconfig"
	"github.com/nugget/gatecore/internal/memoryhooks"
	"github.com/nugget/gatecore/internal/nociception"
	"github.com/nugget/gatecore/internal/observation"
	"github.com/nugget/gatecore/internal/reflex"
	"github.com/nugget/gatecore/internal/session"
)

// Tunables matching the spec's defaults for the idle GC and watcher.
const (
	DefaultIdleTTL         = 600 * time.Second
	DefaultSweepInterval   = 30 * time.Second
	DefaultWatcherInterval = 5 * time.Second
	MinSessionsToGC        = 1

	gcCancelWait      = 1 * time.Second
	shutdownDeadline  = 1500 * time.Millisecond
	egressSoftTimeout = 2 * time.Second
	egressQueueCap    = 1024
)

// AgentRequest is handed to the configured Agent when the gate delivers
// a user MESSAGE. It carries everything the agent needs to decide and
// respond without reaching back into orchestrator internals.
type AgentRequest struct {
	Obs          observation.Observation
	Decision     gate.GateDecision
	SessionState *session.State
	Now          time.Time
	Hint         *gate.GateHint
}

// AgentResult is what an Agent returns after handling a request. Emit
// observations are published back onto the bus by the orchestrator;
// every one of them must be agent-sourced (source_name prefixed
// "agent:" or actor_id "agent") so the self-loop guard recognizes them.
type AgentResult struct {
	Emit             []observation.Observation
	FinalOutputObsID string
}

// Agent is the external collaborator invoked for delivered user
// MESSAGE observations. Building an actual LLM-backed agent is outside
// this core's scope (spec Non-goals: "content understanding inside the
// gate" and the core only supplies the budget, enforcement is the
// agent's responsibility) — callers wire in their own implementation.
type Agent interface {
	Handle(ctx context.Context, req AgentRequest) (AgentResult, error)
}

// SystemHandler dispatches system-session observations after the gate
// delivers them: ALERT to pain aggregation, CONTROL to the reflex
// controller, SCHEDULE ticks to drop-overload/fanout maintenance.
type SystemHandler struct {
	Nociception *nociception.Aggregator
	Reflex      *reflex.Controller
}

// Metrics is everything the orchestrator reports beyond the gate
// pipeline's own per-decision counter (gate.Metrics). Satisfied
// structurally by *metrics.Registry so this package never imports it.
type Metrics interface {
	gate.Metrics

	AddBusPublished(delta float64)
	AddBusDropped(delta float64)
	AddRouterDropped(delta float64)
	AddEgressDropped(delta float64)
	SetSessionsActive(n float64)
}

// Config bundles everything the Orchestrator needs to run.
type Config struct {
	Logger         *slog.Logger
	Bus            *bus.Bus
	Router         *session.Router
	ConfigProvider *gateconfig.Provider
	Gate           *gate.Gate
	Egress         *egress.Hub
	Memory         memoryhooks.Hooks
	Metrics        Metrics
	Agent          Agent
	System         SystemHandler

	// OnOutcome, if set, is called with every GateOutcome the pipeline
	// produces, after emit/ingest bookkeeping. It must not block; the
	// admin HTTP live feed is the intended consumer (spec section 9's
	// "observability is ambient infrastructure", wired in main.go so
	// this package never imports adminhttp directly).
	OnOutcome func(outcome gate.GateOutcome, sessionKey, obsID string)

	IdleTTL         time.Duration
	SweepInterval   time.Duration
	WatcherInterval time.Duration
}

// Orchestrator owns the session worker lifecycle and the background
// router/watcher/GC/egress tasks.
type Orchestrator struct {
	cfg Config
	log *slog.Logger

	egressCh chan observation.Observation

	registry *session.Registry

	mu      sync.Mutex
	workers map[string]context.CancelFunc
	done    map[string]chan struct{}

	wg sync.WaitGroup

	// Sampled cumulative totals, owned exclusively by gcLoop's single
	// goroutine so no lock is needed around them.
	lastBusPublished  int64
	lastBusDropped    int64
	lastRouterDropped int64
	lastEgressDropped int64
}

// New constructs an Orchestrator, defaulting any unset timing
// parameters to the spec's defaults.
func New(cfg Config) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = DefaultIdleTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.WatcherInterval <= 0 {
		cfg.WatcherInterval = DefaultWatcherInterval
	}
	if cfg.Memory == nil {
		cfg.Memory = memoryhooks.NoopHooks{}
	}
	return &Orchestrator{
		cfg:      cfg,
		log:      cfg.Logger,
		egressCh: make(chan observation.Observation, egressQueueCap),
		registry: session.NewRegistry(),
		workers:  make(map[string]context.CancelFunc),
		done:     make(map[string]chan struct{}),
	}
}

// Run starts the router, watcher, GC and egress background tasks and
// blocks until ctx is cancelled, then shuts everything down within the
// spec's bounded deadline.
func (o *Orchestrator) Run(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	o.wg.Add(4)
	go o.routerLoop(runCtx)
	go o.watcherLoop(runCtx)
	go o.gcLoop(runCtx)
	go o.egressLoop(runCtx)

	<-ctx.Done()
	o.log.Info("orchestrator shutting down")
	cancel()
	o.shutdown()
}

func (o *Orchestrator) shutdown() {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownDeadline):
		o.log.Warn("shutdown deadline exceeded, remaining tasks abandoned", "deadline", shutdownDeadline)
	}
	o.cfg.Bus.Close()
}

// routerLoop drains the bus into per-session inboxes via the router.
func (o *Orchestrator) routerLoop(ctx context.Context) {
	defer o.wg.Done()
	for {
		obs, ok := o.cfg.Bus.Next(ctx)
		if !ok {
			return
		}
		o.cfg.Router.Route(obs)
	}
}

// watcherLoop ensures every currently-active session (per the router)
// has a running worker, reviving any that a prior GC sweep removed.
func (o *Orchestrator) watcherLoop(ctx context.Context) {
	defer o.wg.Done()
	ticker := time.NewTicker(o.cfg.WatcherInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, key := range o.cfg.Router.ListActiveSessions() {
				o.ensureWorker(ctx, key)
			}
		}
	}
}

// ensureWorker starts a session_loop goroutine for key if one is not
// already running.
func (o *Orchestrator) ensureWorker(ctx context.Context, key string) {
	o.mu.Lock()
	if _, ok := o.workers[key]; ok {
		o.mu.Unlock()
		return
	}
	workerCtx, cancel := context.WithCancel(ctx)
	doneCh := make(chan struct{})
	o.workers[key] = cancel
	o.done[key] = doneCh
	o.mu.Unlock()

	state := o.registry.GetOrCreate(key, time.Now())

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer close(doneCh)
		o.sessionLoop(workerCtx, key, state)
	}()
}

// sessionLoop is the only writer of its session's State. It drains the
// session's inbox (blocking on the ctx-aware bus-equivalent select),
// runs every observation through the gate, and either stops (non-
// DELIVER) or invokes the agent (DELIVER).
func (o *Orchestrator) sessionLoop(ctx context.Context, key string, state *session.State) {
	inbox := o.cfg.Router.EnsureInbox(key)
	for {
		select {
		case <-ctx.Done():
			return
		case obs, ok := <-inbox:
			if !ok {
				return
			}
			o.processObservation(ctx, key, state, obs)
		}
	}
}

func (o *Orchestrator) processObservation(ctx context.Context, key string, state *session.State, obs observation.Observation) {
	now := time.Now()
	state.RecordObservation(obs, now)

	if egress.ShouldEgress(obs) {
		select {
		case o.egressCh <- obs:
		default:
			o.log.Warn("egress queue full, dropping newest", "session_key", key, "obs_id", obs.ObsID)
		}
	}

	if o.cfg.ConfigProvider != nil {
		if _, err := o.cfg.ConfigProvider.ReloadIfChanged(); err != nil {
			o.log.Warn("gate config reload failed, keeping prior snapshot", "error", err)
		}
	}

	gctx := gate.GateContext{
		Now:              now,
		Snapshot:         o.cfg.ConfigProvider.Snapshot(),
		SystemSessionKey: observation.SystemSessionKey,
		Metrics:          o.cfg.Metrics,
		SessionState:     state,
	}

	outcome := o.cfg.Gate.Handle(obs, gctx)

	if o.cfg.OnOutcome != nil {
		o.cfg.OnOutcome(outcome, key, obs.ObsID)
	}

	for _, emitted := range outcome.Emit {
		if _, err := o.cfg.Bus.PublishNowait(emitted); err != nil {
			o.log.Warn("failed to publish gate emission", "error", err)
		}
	}

	if key != observation.SystemSessionKey {
		memoryhooks.AppendEvent(ctx, o.cfg.Memory, &obs, o.log)
	}

	if outcome.Decision.Action != gateconfig.ActionDeliver {
		return
	}

	o.handleObservation(ctx, key, state, obs, outcome.Decision)
}

// handleObservation dispatches a DELIVER'd observation: system-session
// traffic to the SystemHandler, user traffic to the agent (with
// self-loop rejection).
func (o *Orchestrator) handleObservation(ctx context.Context, key string, state *session.State, obs observation.Observation, decision gate.GateDecision) {
	if key == observation.SystemSessionKey {
		o.handleSystem(obs)
		return
	}

	if obs.IsAgentSourced() {
		return
	}
	if obs.ObsType != observation.TypeMessage {
		return
	}
	if o.cfg.Agent == nil {
		return
	}

	var plan string
	var turnID string
	if id := obs.Metadata["memory_event_id"]; id != "" {
		turnID = memoryhooks.StartTurn(ctx, o.cfg.Memory, key, id, plan, o.log)
	}

	result, err := o.cfg.Agent.Handle(ctx, AgentRequest{
		Obs:          obs,
		Decision:     decision,
		SessionState: state,
		Now:          time.Now(),
		Hint:         decision.Hint,
	})
	if err != nil {
		state.RecordError()
		o.log.Error("agent invocation failed", "session_key", key, "error", err)
		memoryhooks.FinishTurn(ctx, o.cfg.Memory, turnID, memoryhooks.StatusError, err.Error(), "", o.log)
		return
	}

	memoryhooks.FinishTurn(ctx, o.cfg.Memory, turnID, memoryhooks.StatusOK, "", result.FinalOutputObsID, o.log)

	for _, emitted := range result.Emit {
		if _, err := o.cfg.Bus.PublishNowait(emitted); err != nil {
			o.log.Warn("failed to publish agent emission", "error", err)
		}
	}
}

func (o *Orchestrator) handleSystem(obs observation.Observation) {
	switch obs.ObsType {
	case observation.TypeAlert:
		if o.cfg.System.Nociception != nil {
			o.cfg.System.Nociception.Record(obs, time.Now())
		}
	case observation.TypeControl:
		if o.cfg.System.Reflex != nil {
			for _, emitted := range o.cfg.System.Reflex.Apply(obs, time.Now()) {
				if _, err := o.cfg.Bus.PublishNowait(emitted); err != nil {
					o.log.Warn("failed to publish reflex emission", "error", err)
				}
			}
		}
	case observation.TypeSchedule:
		if o.cfg.System.Nociception != nil {
			total := o.cfg.Bus.DroppedTotal() + o.cfg.Router.DroppedTotal()
			if alert, ok := o.cfg.System.Nociception.CheckDropOverload(total, time.Now()); ok {
				if _, err := o.cfg.Bus.PublishNowait(alert); err != nil {
					o.log.Warn("failed to publish drop-overload alert", "error", err)
				}
			}
		}
	}

	switch obs.ObsType {
	case observation.TypeAlert, observation.TypeControl, observation.TypeSchedule:
		if o.cfg.System.Reflex != nil {
			for _, emitted := range o.cfg.System.Reflex.EvaluateTTL(time.Now()) {
				if _, err := o.cfg.Bus.PublishNowait(emitted); err != nil {
					o.log.Warn("failed to publish reflex revert", "error", err)
				}
			}
		}
	}
}

// gcLoop sweeps idle sessions, cancelling their workers and removing
// both the router inbox and the in-process SessionState. It also
// samples the bus/router/egress drop counters and the active-session
// gauge on the same cadence (spec section 11, component 11's metrics
// surface), since those totals live in their owning packages rather
// than being incremented at a single call site.
func (o *Orchestrator) gcLoop(ctx context.Context) {
	defer o.wg.Done()
	ticker := time.NewTicker(o.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.sweep()
			o.sampleMetrics()
		}
	}
}

// sampleMetrics reports the deltas of every cumulative counter the
// orchestrator does not directly increment (they live on bus, router
// and egress, whose own call sites have no reason to import metrics),
// plus the current active-session count.
func (o *Orchestrator) sampleMetrics() {
	if o.cfg.Metrics == nil {
		return
	}

	published := o.cfg.Bus.PublishedTotal()
	if delta := published - o.lastBusPublished; delta > 0 {
		o.cfg.Metrics.AddBusPublished(float64(delta))
	}
	o.lastBusPublished = published

	busDropped := o.cfg.Bus.DroppedTotal()
	if delta := busDropped - o.lastBusDropped; delta > 0 {
		o.cfg.Metrics.AddBusDropped(float64(delta))
	}
	o.lastBusDropped = busDropped

	routerDropped := o.cfg.Router.DroppedTotal()
	if delta := routerDropped - o.lastRouterDropped; delta > 0 {
		o.cfg.Metrics.AddRouterDropped(float64(delta))
	}
	o.lastRouterDropped = routerDropped

	egressDropped := o.cfg.Egress.DroppedTotal()
	if delta := egressDropped - o.lastEgressDropped; delta > 0 {
		o.cfg.Metrics.AddEgressDropped(float64(delta))
	}
	o.lastEgressDropped = egressDropped

	o.cfg.Metrics.SetSessionsActive(float64(len(o.registry.Snapshot())))
}

func (o *Orchestrator) sweep() {
	now := time.Now()
	var candidates []string
	for _, key := range o.cfg.Router.ListActiveSessions() {
		if key == observation.SystemSessionKey {
			continue
		}
		state, ok := o.registry.Get(key)
		if !ok {
			continue
		}
		if state.IdleSeconds(now) >= o.cfg.IdleTTL.Seconds() {
			candidates = append(candidates, key)
		}
	}
	if len(candidates) < MinSessionsToGC {
		return
	}
	for _, key := range candidates {
		o.gcSession(key)
	}
}

func (o *Orchestrator) gcSession(key string) {
	o.mu.Lock()
	cancel, hasWorker := o.workers[key]
	doneCh := o.done[key]
	o.mu.Unlock()

	if hasWorker {
		cancel()
		select {
		case <-doneCh:
		case <-time.After(gcCancelWait):
			o.log.Warn("gc: worker did not stop within bounded wait, abandoning", "session_key", key)
		}
	}

	o.mu.Lock()
	delete(o.workers, key)
	delete(o.done, key)
	o.mu.Unlock()
	o.registry.Remove(key)

	if err := o.cfg.Router.RemoveSession(key); err != nil {
		o.log.Warn("gc: failed to remove session from router", "session_key", key, "error", err)
	} else {
		o.log.Info("gc: session removed for idleness", "session_key", key)
	}
}

// egressLoop is the single consumer draining the egress channel,
// dispatching each item with a soft timeout. Dispatch failures are
// logged and swallowed (fail-open, spec section 4.7/4.8).
func (o *Orchestrator) egressLoop(ctx context.Context) {
	defer o.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case obs, ok := <-o.egressCh:
			if !ok {
				return
			}
			dispatchCtx, cancel := context.WithTimeout(ctx, egressSoftTimeout)
			if err := o.cfg.Egress.Dispatch(dispatchCtx, obs); err != nil {
				o.log.Warn("egress dispatch failed", "obs_id", obs.ObsID, "error", err)
			}
			cancel()
		}
	}
}
