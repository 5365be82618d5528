package rbac

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/lumenmart/backoffice/internal/platform/db"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// Repository provides PostgreSQL backed catalog and binding stores. It runs
// on a pool or inside a transaction.
type Repository struct {
	pool db.DBTX
}

// NewRepository constructs a repository.
func NewRepository(pool db.DBTX) *Repository {
	return &Repository{pool: pool}
}

// ListPermissions returns the catalog ordered by code.
func (r *Repository) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, code, resource, action, description FROM permissions ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("rbac: list permissions: %w", err)
	}
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Code, &p.Resource, &p.Action, &p.Description); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return perms, nil
}

// ListRoles returns all roles ordered by code.
func (r *Repository) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, code, name, status, created_at, updated_at FROM roles ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("rbac: list roles: %w", err)
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Code, &role.Name, &role.Status, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return roles, nil
}

// PermissionByCode looks a permission up by its exact code.
func (r *Repository) PermissionByCode(ctx context.Context, code string) (Permission, error) {
	var p Permission
	err := r.pool.QueryRow(ctx, `SELECT id, code, resource, action, description FROM permissions WHERE code = $1`, code).
		Scan(&p.ID, &p.Code, &p.Resource, &p.Action, &p.Description)
	if errors.Is(err, pgx.ErrNoRows) {
		return Permission{}, ErrPermissionNotFound
	}
	if err != nil {
		return Permission{}, fmt.Errorf("rbac: permission by code: %w", err)
	}
	return p, nil
}

// RoleByCode looks a role up by its exact code.
func (r *Repository) RoleByCode(ctx context.Context, code string) (Role, error) {
	var role Role
	err := r.pool.QueryRow(ctx, `SELECT id, code, name, status, created_at, updated_at FROM roles WHERE code = $1`, code).
		Scan(&role.ID, &role.Code, &role.Name, &role.Status, &role.CreatedAt, &role.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Role{}, ErrRoleNotFound
	}
	if err != nil {
		return Role{}, fmt.Errorf("rbac: role by code: %w", err)
	}
	return role, nil
}

// ListRolesForUser returns the role IDs bound to userID.
func (r *Repository) ListRolesForUser(ctx context.Context, userID int64) ([]int64, error) {
	return r.queryIDs(ctx, `SELECT role_id FROM user_roles WHERE user_id = $1 ORDER BY role_id`, userID)
}

// ListPermissionsForRole returns the permission IDs bound to roleID.
func (r *Repository) ListPermissionsForRole(ctx context.Context, roleID int64) ([]int64, error) {
	return r.queryIDs(ctx, `SELECT permission_id FROM role_permissions WHERE role_id = $1 ORDER BY permission_id`, roleID)
}

// UserStatus returns the lifecycle status of userID.
func (r *Repository) UserStatus(ctx context.Context, userID int64) (Status, error) {
	var status Status
	err := r.pool.QueryRow(ctx, `SELECT status FROM users WHERE id = $1`, userID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrUserNotFound
	}
	if err != nil {
		return "", fmt.Errorf("rbac: user status: %w", err)
	}
	return status, nil
}

// InsertUserRole binds a role to a user.
func (r *Repository) InsertUserRole(ctx context.Context, userID, roleID int64) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO user_roles (user_id, role_id, created_at) VALUES ($1, $2, NOW())`, userID, roleID)
	return mapInsertError(err, ErrUserNotFound)
}

// DeleteUserRole unbinds a role from a user.
func (r *Repository) DeleteUserRole(ctx context.Context, userID, roleID int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`, userID, roleID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBindingNotFound
	}
	return nil
}

// InsertRolePermission attaches a permission to a role.
func (r *Repository) InsertRolePermission(ctx context.Context, roleID, permissionID int64) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO role_permissions (role_id, permission_id, created_at) VALUES ($1, $2, NOW())`, roleID, permissionID)
	return mapInsertError(err, ErrPermissionNotFound)
}

// DeleteRolePermission detaches a permission from a role.
func (r *Repository) DeleteRolePermission(ctx context.Context, roleID, permissionID int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1 AND permission_id = $2`, roleID, permissionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBindingNotFound
	}
	return nil
}

// UpsertPermission inserts or refreshes a catalog permission by code.
func (r *Repository) UpsertPermission(ctx context.Context, perm Permission) (Permission, error) {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO permissions (code, resource, action, description)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (code) DO UPDATE SET description = EXCLUDED.description
		RETURNING id`, perm.Code, perm.Resource, perm.Action, perm.Description).Scan(&perm.ID)
	if err != nil {
		return Permission{}, fmt.Errorf("rbac: upsert permission %s: %w", perm.Code, err)
	}
	return perm, nil
}

// UpsertRole inserts or renames a catalog role by code.
func (r *Repository) UpsertRole(ctx context.Context, role Role) (Role, error) {
	if role.Status == "" {
		role.Status = StatusActive
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO roles (code, name, status, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (code) DO UPDATE SET name = EXCLUDED.name, updated_at = NOW()
		RETURNING id, created_at, updated_at`, role.Code, role.Name, role.Status).Scan(&role.ID, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		return Role{}, fmt.Errorf("rbac: upsert role %s: %w", role.Code, err)
	}
	return role, nil
}

// CreateRole inserts a new role, failing with ErrRoleExists on a taken code.
func (r *Repository) CreateRole(ctx context.Context, role Role) (Role, error) {
	if role.Status == "" {
		role.Status = StatusActive
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO roles (code, name, status, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		RETURNING id, created_at, updated_at`, role.Code, role.Name, role.Status).Scan(&role.ID, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return Role{}, ErrRoleExists
		}
		return Role{}, fmt.Errorf("rbac: create role: %w", err)
	}
	return role, nil
}

func (r *Repository) queryIDs(ctx context.Context, query string, arg int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func mapInsertError(err error, missing error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return ErrBindingConflict
		case pgForeignKeyViolation:
			return missing
		}
	}
	return err
}
