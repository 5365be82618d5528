package rbachttp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/lumenmart/backoffice/internal/adminop"
	"github.com/lumenmart/backoffice/internal/audit"
	"github.com/lumenmart/backoffice/internal/platform/httpx"
	"github.com/lumenmart/backoffice/internal/rbac"
	"github.com/lumenmart/backoffice/internal/shared"
)

// Service is the rbac contract the handlers need.
type Service interface {
	ListRoles(ctx context.Context) ([]rbac.Role, error)
	ListPermissions(ctx context.Context) ([]rbac.Permission, error)
	PermissionTree(ctx context.Context) ([]rbac.TreeNode, error)
	CreateRole(ctx context.Context, code, name string) (rbac.Role, error)
	AssignRole(ctx context.Context, userID int64, roleCode string) error
	RevokeRole(ctx context.Context, userID int64, roleCode string) error
	GrantPermission(ctx context.Context, roleCode, permCode string) error
	RevokePermission(ctx context.Context, roleCode, permCode string) error
	EffectivePermissions(ctx context.Context, userID int64) (rbac.EffectivePermissions, error)
}

// Operations runs audited mutations.
type Operations interface {
	Run(ctx context.Context, op adminop.Operation, fn func(ctx context.Context) error) error
	Middleware(build func(r *http.Request) adminop.Operation) func(http.Handler) http.Handler
}

// Handler exposes role and permission management over JSON.
type Handler struct {
	logger  *slog.Logger
	service Service
	ops     Operations
}

// NewHandler builds a handler.
func NewHandler(logger *slog.Logger, service Service, ops Operations) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, ops: ops}
}

type createRoleRequest struct {
	Code string `json:"code" validate:"required,max=64,excludesall=0x20"`
	Name string `json:"name" validate:"required,max=128"`
}

type assignRoleRequest struct {
	RoleCode string `json:"role_code" validate:"required,max=64"`
}

type grantPermissionRequest struct {
	PermissionCode string `json:"permission_code" validate:"required,max=128"`
}

func (h *Handler) handleTree(w http.ResponseWriter, r *http.Request) {
	tree, err := h.service.PermissionTree(r.Context())
	if err != nil {
		h.fail(w, "permission tree", err)
		return
	}
	httpx.JSON(w, http.StatusOK, tree)
}

func (h *Handler) handlePermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.service.ListPermissions(r.Context())
	if err != nil {
		h.fail(w, "list permissions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, perms)
}

func (h *Handler) handleRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.ListRoles(r.Context())
	if err != nil {
		h.fail(w, "list roles", err)
		return
	}
	httpx.JSON(w, http.StatusOK, roles)
}

func (h *Handler) handleEffective(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDParam(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	eff, err := h.service.EffectivePermissions(r.Context(), userID)
	if err != nil {
		h.fail(w, "effective permissions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, eff)
}

// Body-carrying mutations authorize before reporting input errors, so a
// rejected body is still audited against the caller's permission.

func (h *Handler) handleCreateRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	inputErr := httpx.DecodeAndValidate(w, r, &req)
	var created rbac.Role
	op := adminop.Operation{
		Module:      "role",
		Action:      "create",
		Permission:  shared.PermRoleCreate,
		Description: fmt.Sprintf("create role %s", req.Code),
		Params:      []audit.Param{audit.P("code", req.Code), audit.P("name", req.Name)},
	}
	err := h.ops.Run(r.Context(), op, func(ctx context.Context) error {
		if inputErr != nil {
			return inputErr
		}
		role, err := h.service.CreateRole(ctx, req.Code, req.Name)
		created = role
		return err
	})
	if err != nil {
		h.fail(w, "create role", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) handleAssignRole(w http.ResponseWriter, r *http.Request) {
	rawUserID := chi.URLParam(r, "userID")
	userID, inputErr := userIDParam(r)
	var req assignRoleRequest
	if inputErr == nil {
		inputErr = httpx.DecodeAndValidate(w, r, &req)
	}
	op := adminop.Operation{
		Module:      "role",
		Action:      "assign",
		Permission:  shared.PermRoleAssign,
		Description: fmt.Sprintf("assign role %s to user %s", req.RoleCode, rawUserID),
		Params:      []audit.Param{audit.P("user_id", rawUserID), audit.P("role_code", req.RoleCode)},
	}
	err := h.ops.Run(r.Context(), op, func(ctx context.Context) error {
		if inputErr != nil {
			return inputErr
		}
		return h.service.AssignRole(ctx, userID, req.RoleCode)
	})
	if err != nil {
		h.fail(w, "assign role", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRevokeRole(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDParam(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.RevokeRole(r.Context(), userID, chi.URLParam(r, "roleCode")); err != nil {
		h.fail(w, "revoke role", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleGrantPermission(w http.ResponseWriter, r *http.Request) {
	roleCode := chi.URLParam(r, "roleCode")
	var req grantPermissionRequest
	inputErr := httpx.DecodeAndValidate(w, r, &req)
	op := adminop.Operation{
		Module:      "permission",
		Action:      "grant",
		Permission:  shared.PermPermissionGrant,
		Description: fmt.Sprintf("grant %s to role %s", req.PermissionCode, roleCode),
		Params:      []audit.Param{audit.P("role_code", roleCode), audit.P("permission_code", req.PermissionCode)},
	}
	err := h.ops.Run(r.Context(), op, func(ctx context.Context) error {
		if inputErr != nil {
			return inputErr
		}
		return h.service.GrantPermission(ctx, roleCode, req.PermissionCode)
	})
	if err != nil {
		h.fail(w, "grant permission", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRevokePermission(w http.ResponseWriter, r *http.Request) {
	roleCode := chi.URLParam(r, "roleCode")
	permCode := chi.URLParam(r, "permissionCode")
	if err := h.service.RevokePermission(r.Context(), roleCode, permCode); err != nil {
		h.fail(w, "revoke permission", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func revokeRoleOperation(r *http.Request) adminop.Operation {
	userID := chi.URLParam(r, "userID")
	roleCode := chi.URLParam(r, "roleCode")
	return adminop.Operation{
		Module:      "role",
		Action:      "revoke",
		Permission:  shared.PermRoleRevoke,
		Description: fmt.Sprintf("revoke role %s from user %s", roleCode, userID),
		Params:      []audit.Param{audit.P("user_id", userID), audit.P("role_code", roleCode)},
	}
}

func revokePermissionOperation(r *http.Request) adminop.Operation {
	roleCode := chi.URLParam(r, "roleCode")
	permCode := chi.URLParam(r, "permissionCode")
	return adminop.Operation{
		Module:      "permission",
		Action:      "revoke",
		Permission:  shared.PermPermissionRevoke,
		Description: fmt.Sprintf("revoke %s from role %s", permCode, roleCode),
		Params:      []audit.Param{audit.P("role_code", roleCode), audit.P("permission_code", permCode)},
	}
}

func (h *Handler) fail(w http.ResponseWriter, message string, err error) {
	mapped := rbac.ToHTTP(err)
	switch {
	case errors.Is(err, shared.ErrMissingActor):
		mapped = httpx.ErrUnauthorized
	case errors.Is(mapped, httpx.ErrValidation):
	case errors.Is(mapped, httpx.ErrUnavailable):
		h.logger.Error(message, slog.Any("error", err))
	case mapped == err:
		h.logger.Error(message, slog.Any("error", err))
	}
	httpx.RespondError(w, mapped)
}

func userIDParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid user id", httpx.ErrValidation)
	}
	return id, nil
}
