package shared

// Back-office permission codes. Modules and actions recorded in the audit log
// mirror the resource and action segments.
const (
	PermRoleRead   = "role:read"
	PermRoleCreate = "role:create"
	PermRoleAssign = "role:assign"
	PermRoleRevoke = "role:revoke"

	PermPermissionRead   = "permission:read"
	PermPermissionGrant  = "permission:grant"
	PermPermissionRevoke = "permission:revoke"

	PermAuditRead   = "audit:read"
	PermAuditExport = "audit:export"
)

// Storefront permission codes checked by the CRUD handlers that call into the core.
const (
	PermSubscriptionRead   = "subscription:read"
	PermSubscriptionExport = "subscription:export"
	PermSubscriptionDelete = "subscription:delete"
	PermStatsRead          = "stats:read"
	PermSystemRead         = "system:read"
	PermUserDelete         = "user:delete"
)
