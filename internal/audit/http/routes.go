package audithttp

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/lumenmart/backoffice/internal/rbac"
	"github.com/lumenmart/backoffice/internal/shared"
)

const rateLimit = 10
const rateWindow = time.Minute

// MountRoutes registers the operation log query, export and verify endpoints.
func (h *Handler) MountRoutes(r chi.Router, authz rbac.Middleware) {
	if h == nil {
		return
	}
	limiter := httprate.Limit(rateLimit, rateWindow,
		httprate.WithKeyFuncs(rateLimitKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		}),
	)
	r.With(authz.Require(shared.PermAuditRead)).Get("/audit/logs", h.handleLogs)
	r.With(authz.Require(shared.PermAuditRead)).Get("/audit/partitions/{partition}/verify", h.handleVerify)
	r.Group(func(gr chi.Router) {
		gr.Use(authz.Require(shared.PermAuditExport))
		gr.Use(limiter)
		gr.Get("/audit/logs/export.csv", h.handleExport)
	})
}

func rateLimitKey(r *http.Request) (string, error) {
	if actor, ok := shared.ActorFromContext(r.Context()); ok {
		return "actor:" + strconv.FormatInt(actor.ID, 10), nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}
