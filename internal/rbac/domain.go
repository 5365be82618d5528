package rbac

import (
	"strings"
	"time"
)

// WildcardAction is the action segment that grants every action under a resource.
const WildcardAction = "*"

// DefaultSuperRoleCode is the reserved role that bypasses permission resolution.
const DefaultSuperRoleCode = "R_SUPER"

// Status describes the lifecycle state of users and roles.
type Status string

// Known statuses.
const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusDeleted  Status = "deleted"
)

// Role is a named permission grouping, either provisioned or admin-managed.
type Role struct {
	ID        int64
	Code      string
	Name      string
	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Active reports whether the role contributes permissions.
func (r Role) Active() bool {
	return r.Status == "" || r.Status == StatusActive
}

// Permission is an atomic capability identified by a `resource:action` code.
type Permission struct {
	ID          int64
	Code        string
	Resource    string
	Action      string
	Description string
}

// IsWildcard reports whether the permission is a `resource:*` rule.
func (p Permission) IsWildcard() bool {
	return p.Action == WildcardAction
}

// UserRole links a user to a role.
type UserRole struct {
	UserID    int64
	RoleID    int64
	CreatedAt time.Time
}

// RolePermission ties a permission to a role.
type RolePermission struct {
	RoleID       int64
	PermissionID int64
	CreatedAt    time.Time
}

// Decision is the outcome of an authorization check.
type Decision int

// Possible decisions. Callers must treat anything but Allow as a rejection.
const (
	Deny Decision = iota
	Allow
	Error
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case Deny:
		return "deny"
	default:
		return "error"
	}
}

// ParsePermissionCode splits a code at its last ':' into resource and action.
// Codes are case-sensitive and are returned untouched.
func ParsePermissionCode(code string) (resource, action string, err error) {
	idx := strings.LastIndex(code, ":")
	if idx <= 0 || idx == len(code)-1 {
		return "", "", ErrInvalidCode
	}
	if strings.TrimSpace(code) != code {
		return "", "", ErrInvalidCode
	}
	return code[:idx], code[idx+1:], nil
}

// NewPermission builds a Permission with resource and action derived from the code.
func NewPermission(code, description string) (Permission, error) {
	resource, action, err := ParsePermissionCode(code)
	if err != nil {
		return Permission{}, err
	}
	return Permission{Code: code, Resource: resource, Action: action, Description: description}, nil
}

// WildcardFor returns the `resource:*` form of a permission code.
func WildcardFor(code string) (string, bool) {
	idx := strings.LastIndex(code, ":")
	if idx <= 0 {
		return "", false
	}
	return code[:idx+1] + WildcardAction, true
}
