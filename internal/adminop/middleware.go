package adminop

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/lumenmart/backoffice/internal/platform/httpx"
	"github.com/lumenmart/backoffice/internal/rbac"
	"github.com/lumenmart/backoffice/internal/shared"
)

// StatusError reports a handler response status of 400 or above.
type StatusError struct {
	Code int
}

func (e StatusError) Error() string {
	return fmt.Sprintf("%d %s", e.Code, http.StatusText(e.Code))
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(p)
}

// Middleware wraps a mutating route whose parameters live in the URL. build
// derives the operation from the request. The response status becomes the
// recorded outcome.
func (r *Runner) Middleware(build func(req *http.Request) Operation) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			sw := &statusWriter{ResponseWriter: w}
			err := r.Run(req.Context(), build(req), func(ctx context.Context) error {
				next.ServeHTTP(sw, req.WithContext(ctx))
				if sw.status >= http.StatusBadRequest {
					return StatusError{Code: sw.status}
				}
				return nil
			})
			var statusErr StatusError
			switch {
			case err == nil, errors.As(err, &statusErr):
			case errors.Is(err, shared.ErrMissingActor):
				httpx.RespondError(w, httpx.ErrUnauthorized)
			default:
				httpx.RespondError(w, rbac.ToHTTP(err))
			}
		})
	}
}
