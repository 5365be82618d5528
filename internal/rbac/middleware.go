package rbac

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/lumenmart/backoffice/internal/platform/httpx"
	"github.com/lumenmart/backoffice/internal/shared"
)

// Middleware gates read-only HTTP routes on the Gate. Mutating routes go
// through the adminop runner instead so that they are audited.
type Middleware struct {
	Gate   *Gate
	Logger *slog.Logger
}

// Require allows the request only when the actor holds perm.
func (m Middleware) Require(perm string) func(http.Handler) http.Handler {
	return m.RequireAny(perm)
}

// RequireAny allows the request when the actor holds at least one of perms.
// A resolution error on every candidate fails closed.
func (m Middleware) RequireAny(perms ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := shared.ActorFromContext(r.Context())
			if !ok {
				httpx.RespondError(w, httpx.ErrUnauthorized)
				return
			}
			var lastErr error
			for _, perm := range perms {
				decision, err := m.Gate.Authorize(r.Context(), actor.ID, perm)
				if decision == Allow {
					next.ServeHTTP(w, r)
					return
				}
				if err != nil {
					lastErr = err
				}
			}
			if lastErr != nil {
				if m.Logger != nil {
					m.Logger.Error("rbac require", slog.Int64("user_id", actor.ID), slog.Any("error", lastErr))
				}
				httpx.RespondError(w, ToHTTP(lastErr))
				return
			}
			httpx.RespondError(w, httpx.ErrForbidden)
		})
	}
}

// ToHTTP maps rbac errors onto transport sentinels.
func ToHTTP(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrRoleNotFound), errors.Is(err, ErrPermissionNotFound),
		errors.Is(err, ErrUserNotFound), errors.Is(err, ErrBindingNotFound):
		return fmt.Errorf("%w: %v", httpx.ErrNotFound, err)
	case errors.Is(err, ErrBindingConflict), errors.Is(err, ErrRoleExists):
		return fmt.Errorf("%w: %v", httpx.ErrConflict, err)
	case errors.Is(err, ErrInvalidCode):
		return fmt.Errorf("%w: %v", httpx.ErrValidation, err)
	case errors.Is(err, ErrUnauthorized):
		return httpx.ErrForbidden
	case errors.Is(err, ErrStoreUnavailable):
		return httpx.ErrUnavailable
	default:
		return err
	}
}
