// Package adminop runs administrative mutations behind the authorization gate
// and records exactly one operation log entry per attempt.
package adminop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lumenmart/backoffice/internal/audit"
	"github.com/lumenmart/backoffice/internal/rbac"
	"github.com/lumenmart/backoffice/internal/shared"
)

// Authorizer decides access.
type Authorizer interface {
	Authorize(ctx context.Context, userID int64, code string) (rbac.Decision, error)
}

// Recorder accepts operation log entries.
type Recorder interface {
	Record(e audit.Entry)
}

// Operation describes one administrative action.
type Operation struct {
	Module      string
	Action      string
	Permission  string
	Description string
	Params      []audit.Param
}

// Runner executes operations.
type Runner struct {
	gate     Authorizer
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time
}

// NewRunner builds a runner.
func NewRunner(gate Authorizer, recorder Recorder, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{gate: gate, recorder: recorder, logger: logger, now: time.Now}
}

// Run authorizes the caller for op.Permission, invokes fn on Allow and
// records the outcome. Deny returns rbac.ErrUnauthorized and a resolution
// failure returns the wrapped rbac.ErrStoreUnavailable; fn never runs in
// either case. A panic in fn is recorded with outcome error and re-raised.
func (r *Runner) Run(ctx context.Context, op Operation, fn func(ctx context.Context) error) (err error) {
	actor, ok := shared.ActorFromContext(ctx)
	entry := r.entry(ctx, op, actor)
	if !ok {
		entry.Outcome = audit.OutcomeDenied
		entry.ErrorMessage = shared.ErrMissingActor.Error()
		r.recorder.Record(entry)
		return shared.ErrMissingActor
	}

	decision, authErr := r.gate.Authorize(ctx, actor.ID, op.Permission)
	switch decision {
	case rbac.Allow:
	case rbac.Deny:
		entry.Outcome = audit.OutcomeDenied
		entry.ErrorMessage = rbac.ErrUnauthorized.Error()
		r.recorder.Record(entry)
		return rbac.ErrUnauthorized
	default:
		if authErr == nil {
			authErr = rbac.ErrStoreUnavailable
		}
		entry.Outcome = audit.OutcomeError
		entry.ErrorMessage = authErr.Error()
		r.recorder.Record(entry)
		return authErr
	}

	start := r.now()
	defer func() {
		entry.Duration = r.now().Sub(start)
		if rec := recover(); rec != nil {
			entry.Outcome = audit.OutcomeError
			entry.ErrorMessage = fmt.Sprintf("panic: %v", rec)
			r.recorder.Record(entry)
			panic(rec)
		}
		if err != nil {
			entry.Outcome = audit.OutcomeFailure
			entry.ErrorMessage = err.Error()
		} else {
			entry.Outcome = audit.OutcomeSuccess
		}
		r.recorder.Record(entry)
	}()
	return fn(ctx)
}

func (r *Runner) entry(ctx context.Context, op Operation, actor shared.Actor) audit.Entry {
	req := RequestFromContext(ctx)
	ip := req.IP
	if ip == "" {
		ip = actor.IP
	}
	return audit.Entry{
		ActorID:       actor.ID,
		ActorName:     actor.Name,
		Module:        op.Module,
		Action:        op.Action,
		Description:   op.Description,
		SourceIP:      ip,
		RequestMethod: req.Method,
		RequestTarget: req.Target,
		RequestID:     req.ID,
		Params:        op.Params,
		CreatedAt:     r.now(),
	}
}

// IsDenied reports whether err came from a Deny decision.
func IsDenied(err error) bool {
	return errors.Is(err, rbac.ErrUnauthorized) || errors.Is(err, shared.ErrMissingActor)
}
