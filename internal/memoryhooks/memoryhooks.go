// Package memoryhooks defines the narrow, fail-open interface the
// dispatch core uses to notify an external memory/episodic-history
// service of gated events and agent turns. No implementation here is
// required to persist anything across restarts (spec section 4.9); the
// guarded Append/Start/Finish helpers are what make every call site
// fail-open regardless of which Hooks implementation is wired in.
package memoryhooks

import (
	"context"
	"log/slog"

	"github.com/nugget/gatecore/internal/observation"
)

// Status reports how an agent turn concluded.
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// Hooks is the external collaborator interface the core invokes after
// gating (AppendEvent) and around agent invocation (StartTurn/
// FinishTurn). Implementations may return an error for any reason;
// callers must use the package-level Append/Start/Finish helpers rather
// than calling Hooks methods directly, so every failure is swallowed at
// a single choke point.
type Hooks interface {
	AppendEvent(ctx context.Context, obs observation.Observation) (eventID string, err error)
	StartTurn(ctx context.Context, sessionKey, inputEventID, plan string) (turnID string, err error)
	FinishTurn(ctx context.Context, turnID string, status Status, errorMessage, finalOutputObsID string) error
}

// NoopHooks implements Hooks as a pure no-op, the default when no
// memory service is configured.
type NoopHooks struct{}

func (NoopHooks) AppendEvent(context.Context, observation.Observation) (string, error) {
	return "", nil
}

func (NoopHooks) StartTurn(context.Context, string, string, string) (string, error) {
	return "", nil
}

func (NoopHooks) FinishTurn(context.Context, string, Status, string, string) error {
	return nil
}

// AppendEvent calls hooks.AppendEvent, logging and swallowing any
// error. On success it writes metadata["memory_event_id"] onto obs, per
// spec section 4.9.
func AppendEvent(ctx context.Context, hooks Hooks, obs *observation.Observation, logger *slog.Logger) {
	if hooks == nil {
		return
	}
	id, err := safeAppendEvent(ctx, hooks, *obs)
	if err != nil {
		logIfPresent(logger, "memory append_event failed", err)
		return
	}
	if id != "" {
		obs.SetMetadata("memory_event_id", id)
	}
}

// StartTurn calls hooks.StartTurn, logging and swallowing any error.
// Per spec section 4.9 the caller should only invoke this when
// decision.action == DELIVER, obs_type == MESSAGE, and a memory_event_id
// was set by a prior AppendEvent call.
func StartTurn(ctx context.Context, hooks Hooks, sessionKey, inputEventID, plan string, logger *slog.Logger) string {
	if hooks == nil {
		return ""
	}
	id, err := safeStartTurn(ctx, hooks, sessionKey, inputEventID, plan)
	if err != nil {
		logIfPresent(logger, "memory start_turn failed", err)
		return ""
	}
	return id
}

// FinishTurn calls hooks.FinishTurn, logging and swallowing any error.
func FinishTurn(ctx context.Context, hooks Hooks, turnID string, status Status, errorMessage, finalOutputObsID string, logger *slog.Logger) {
	if hooks == nil || turnID == "" {
		return
	}
	if err := safeFinishTurn(ctx, hooks, turnID, status, errorMessage, finalOutputObsID); err != nil {
		logIfPresent(logger, "memory finish_turn failed", err)
	}
}

func logIfPresent(logger *slog.Logger, msg string, err error) {
	if logger == nil {
		return
	}
	logger.Warn(msg, "error", err)
}

func safeAppendEvent(ctx context.Context, hooks Hooks, obs observation.Observation) (id string, err error) {
	defer func() {
		if r := recover(); r != nil {
			id, err = "", recoverToError(r)
		}
	}()
	return hooks.AppendEvent(ctx, obs)
}

func safeStartTurn(ctx context.Context, hooks Hooks, sessionKey, inputEventID, plan string) (id string, err error) {
	defer func() {
		if r := recover(); r != nil {
			id, err = "", recoverToError(r)
		}
	}()
	return hooks.StartTurn(ctx, sessionKey, inputEventID, plan)
}

func safeFinishTurn(ctx context.Context, hooks Hooks, turnID string, status Status, errorMessage, finalOutputObsID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = recoverToError(r)
		}
	}()
	return hooks.FinishTurn(ctx, turnID, status, errorMessage, finalOutputObsID)
}

func recoverToError(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return errPanic{r}
}

type errPanic struct{ v any }

func (e errPanic) Error() string { return "memory hook panicked" }
