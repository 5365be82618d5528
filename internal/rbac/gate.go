package rbac

import (
	"context"
	"log/slog"
	"time"
)

const defaultResolveTimeout = 2 * time.Second

// PermissionResolver is the contract the Gate consumes.
type PermissionResolver interface {
	Resolve(ctx context.Context, userID int64) (PermissionSet, error)
}

// Gate is the single authorization decision point.
type Gate struct {
	resolver PermissionResolver
	timeout  time.Duration
	logger   *slog.Logger
	metrics  *Metrics
}

// NewGate builds a Gate. A non-positive timeout uses the default budget.
func NewGate(resolver PermissionResolver, timeout time.Duration, logger *slog.Logger, metrics *Metrics) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = defaultResolveTimeout
	}
	return &Gate{resolver: resolver, timeout: timeout, logger: logger, metrics: metrics}
}

// Authorize decides whether userID may exercise code. On Error the returned
// error explains the failure; callers must treat Error as Deny.
func (g *Gate) Authorize(ctx context.Context, userID int64, code string) (Decision, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	set, err := g.resolver.Resolve(ctx, userID)
	if err != nil {
		g.logger.Warn("rbac authorize failed closed",
			slog.Int64("user_id", userID),
			slog.String("permission", code),
			slog.Any("error", err))
		g.metrics.decision(Error)
		return Error, unavailable(err)
	}
	decision := evaluate(set, code)
	g.logger.Debug("rbac authorize",
		slog.Int64("user_id", userID),
		slog.String("permission", code),
		slog.String("decision", decision.String()))
	g.metrics.decision(decision)
	return decision, nil
}

// Require is Authorize mapped to errors: nil on Allow, ErrUnauthorized on Deny
// and an ErrStoreUnavailable wrap on Error.
func (g *Gate) Require(ctx context.Context, userID int64, code string) error {
	decision, err := g.Authorize(ctx, userID, code)
	switch decision {
	case Allow:
		return nil
	case Deny:
		return ErrUnauthorized
	default:
		if err == nil {
			err = ErrStoreUnavailable
		}
		return err
	}
}

func evaluate(set PermissionSet, code string) Decision {
	if set.All() {
		return Allow
	}
	if set.Has(code) {
		return Allow
	}
	if wildcard, ok := WildcardFor(code); ok && set.Has(wildcard) {
		return Allow
	}
	return Deny
}
