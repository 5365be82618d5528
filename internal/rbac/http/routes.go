package rbachttp

import (
	"github.com/go-chi/chi/v5"

	"github.com/lumenmart/backoffice/internal/rbac"
	"github.com/lumenmart/backoffice/internal/shared"
)

// MountRoutes registers role and permission endpoints. Reads are gated by
// authz. Mutations authorize inside the operation runner so denied attempts
// are audited too.
func (h *Handler) MountRoutes(r chi.Router, authz rbac.Middleware) {
	if h == nil {
		return
	}
	r.With(authz.Require(shared.PermPermissionRead)).Get("/permissions", h.handlePermissions)
	r.With(authz.Require(shared.PermPermissionRead)).Get("/permissions/tree", h.handleTree)
	r.With(authz.Require(shared.PermRoleRead)).Get("/roles", h.handleRoles)
	r.With(authz.RequireAny(shared.PermRoleRead, shared.PermPermissionRead)).Get("/users/{userID}/permissions", h.handleEffective)

	r.Post("/roles", h.handleCreateRole)
	r.Post("/users/{userID}/roles", h.handleAssignRole)
	r.With(h.ops.Middleware(revokeRoleOperation)).Delete("/users/{userID}/roles/{roleCode}", h.handleRevokeRole)
	r.Post("/roles/{roleCode}/permissions", h.handleGrantPermission)
	r.With(h.ops.Middleware(revokePermissionOperation)).Delete("/roles/{roleCode}/permissions/{permissionCode}", h.handleRevokePermission)
}
