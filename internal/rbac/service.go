package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// ErrRoleExists indicates a role code is already taken.
var ErrRoleExists = errors.New("rbac: role already exists")

// Store is the full persistence contract used by the administration service.
type Store interface {
	CatalogStore
	BindingStore
	BindingWriter
	CatalogWriter
}

// EffectivePermissions is the presentation form of a resolved set.
type EffectivePermissions struct {
	UserID int64    `json:"user_id"`
	All    bool     `json:"all"`
	Codes  []string `json:"codes"`
}

// Service orchestrates binding administration. Every successful mutation
// invalidates the resolver before returning.
type Service struct {
	store       Store
	resolver    PermissionResolver
	invalidator Invalidator
	tree        *TreeBuilder
	logger      *slog.Logger
}

// NewService constructs a Service.
func NewService(store Store, resolver PermissionResolver, invalidator Invalidator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:       store,
		resolver:    resolver,
		invalidator: invalidator,
		tree:        NewTreeBuilder(store),
		logger:      logger,
	}
}

// ListRoles returns all roles.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.store.ListRoles(ctx)
}

// ListPermissions returns the catalog, wildcard rows included.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.store.ListPermissions(ctx)
}

// PermissionTree returns the grouped catalog for the admin UI.
func (s *Service) PermissionTree(ctx context.Context) ([]TreeNode, error) {
	return s.tree.Build(ctx)
}

// CreateRole adds an admin-managed role.
func (s *Service) CreateRole(ctx context.Context, code, name string) (Role, error) {
	if code == "" || strings.ContainsAny(code, " \t\n") {
		return Role{}, ErrInvalidCode
	}
	role, err := s.store.CreateRole(ctx, Role{Code: code, Name: strings.TrimSpace(name), Status: StatusActive})
	if err != nil {
		return Role{}, err
	}
	s.logger.Info("rbac role created", slog.String("role", code))
	return role, nil
}

// AssignRole binds roleCode to userID.
func (s *Service) AssignRole(ctx context.Context, userID int64, roleCode string) error {
	role, err := s.store.RoleByCode(ctx, roleCode)
	if err != nil {
		return err
	}
	if err := s.store.InsertUserRole(ctx, userID, role.ID); err != nil {
		return fmt.Errorf("rbac: assign role %s: %w", roleCode, err)
	}
	s.invalidate("assign_role", slog.Int64("user_id", userID), slog.String("role", roleCode))
	return nil
}

// RevokeRole removes the roleCode binding from userID.
func (s *Service) RevokeRole(ctx context.Context, userID int64, roleCode string) error {
	role, err := s.store.RoleByCode(ctx, roleCode)
	if err != nil {
		return err
	}
	if err := s.store.DeleteUserRole(ctx, userID, role.ID); err != nil {
		return fmt.Errorf("rbac: revoke role %s: %w", roleCode, err)
	}
	s.invalidate("revoke_role", slog.Int64("user_id", userID), slog.String("role", roleCode))
	return nil
}

// GrantPermission attaches permCode to roleCode.
func (s *Service) GrantPermission(ctx context.Context, roleCode, permCode string) error {
	role, perm, err := s.lookupPair(ctx, roleCode, permCode)
	if err != nil {
		return err
	}
	if err := s.store.InsertRolePermission(ctx, role.ID, perm.ID); err != nil {
		return fmt.Errorf("rbac: grant %s to %s: %w", permCode, roleCode, err)
	}
	s.invalidate("grant_permission", slog.String("role", roleCode), slog.String("permission", permCode))
	return nil
}

// RevokePermission detaches permCode from roleCode.
func (s *Service) RevokePermission(ctx context.Context, roleCode, permCode string) error {
	role, perm, err := s.lookupPair(ctx, roleCode, permCode)
	if err != nil {
		return err
	}
	if err := s.store.DeleteRolePermission(ctx, role.ID, perm.ID); err != nil {
		return fmt.Errorf("rbac: revoke %s from %s: %w", permCode, roleCode, err)
	}
	s.invalidate("revoke_permission", slog.String("role", roleCode), slog.String("permission", permCode))
	return nil
}

// EffectivePermissions resolves userID for display.
func (s *Service) EffectivePermissions(ctx context.Context, userID int64) (EffectivePermissions, error) {
	set, err := s.resolver.Resolve(ctx, userID)
	if err != nil {
		return EffectivePermissions{}, err
	}
	return EffectivePermissions{UserID: userID, All: set.All(), Codes: set.Codes()}, nil
}

func (s *Service) lookupPair(ctx context.Context, roleCode, permCode string) (Role, Permission, error) {
	role, err := s.store.RoleByCode(ctx, roleCode)
	if err != nil {
		return Role{}, Permission{}, err
	}
	perm, err := s.store.PermissionByCode(ctx, permCode)
	if err != nil {
		return Role{}, Permission{}, err
	}
	return role, perm, nil
}

func (s *Service) invalidate(op string, attrs ...any) {
	if s.invalidator != nil {
		s.invalidator.Invalidate()
	}
	s.logger.Info("rbac bindings changed", append([]any{slog.String("op", op)}, attrs...)...)
}
