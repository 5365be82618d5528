package rbac

import "errors"

var (
	// ErrPermissionNotFound indicates an unknown permission code.
	ErrPermissionNotFound = errors.New("rbac: permission not found")
	// ErrUserNotFound indicates an unknown user.
	ErrUserNotFound = errors.New("rbac: user not found")
	// ErrRoleNotFound indicates an unknown role code.
	ErrRoleNotFound = errors.New("rbac: role not found")
	// ErrBindingConflict indicates the binding already exists.
	ErrBindingConflict = errors.New("rbac: binding already exists")
	// ErrBindingNotFound indicates the binding to remove does not exist.
	ErrBindingNotFound = errors.New("rbac: binding not found")
	// ErrUnauthorized is returned when the actor may not perform the action.
	ErrUnauthorized = errors.New("not authorized")
	// ErrStoreUnavailable means resolution could not complete. Callers must deny.
	ErrStoreUnavailable = errors.New("rbac: store unavailable")
	// ErrInvalidCode indicates a malformed permission or role code.
	ErrInvalidCode = errors.New("rbac: invalid code")
)
