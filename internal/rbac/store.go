package rbac

import "context"

// CatalogStore reads the provisioned permission and role catalog.
type CatalogStore interface {
	ListPermissions(ctx context.Context) ([]Permission, error)
	ListRoles(ctx context.Context) ([]Role, error)
	PermissionByCode(ctx context.Context, code string) (Permission, error)
	RoleByCode(ctx context.Context, code string) (Role, error)
}

// BindingStore reads the user↔role and role↔permission edges as explicit ID lists.
type BindingStore interface {
	ListRolesForUser(ctx context.Context, userID int64) ([]int64, error)
	ListPermissionsForRole(ctx context.Context, roleID int64) ([]int64, error)
}

// BindingWriter mutates bindings. Inserts of an existing pair must return
// ErrBindingConflict and deletes of a missing pair ErrBindingNotFound.
type BindingWriter interface {
	InsertUserRole(ctx context.Context, userID, roleID int64) error
	DeleteUserRole(ctx context.Context, userID, roleID int64) error
	InsertRolePermission(ctx context.Context, roleID, permissionID int64) error
	DeleteRolePermission(ctx context.Context, roleID, permissionID int64) error
}

// CatalogWriter creates catalog rows. Used by provisioning and custom roles.
type CatalogWriter interface {
	UpsertPermission(ctx context.Context, perm Permission) (Permission, error)
	UpsertRole(ctx context.Context, role Role) (Role, error)
	CreateRole(ctx context.Context, role Role) (Role, error)
}

// UserDirectory exposes user lifecycle state. Optional for the resolver.
type UserDirectory interface {
	UserStatus(ctx context.Context, userID int64) (Status, error)
}

// Invalidator is notified after every committed binding change.
type Invalidator interface {
	Invalidate()
}

// NoopInvalidator ignores invalidations. Processes without a resolver use it
// with a Broadcaster to publish only.
type NoopInvalidator struct{}

// Invalidate does nothing.
func (NoopInvalidator) Invalidate() {}
