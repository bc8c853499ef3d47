package auth

import "ovpn-portal/internal/database"

// Permission is an action class a route requires.
type Permission string

const (
	PermRead  Permission = "read"  // View dashboards, identities, sessions and logs
	PermWrite Permission = "write" // Edit identities and terminate sessions
	PermAdmin Permission = "admin" // Manage portal users and server registrations
)

// Authorize reports whether role may perform actions requiring perm.
// Unknown roles are denied everything.
func Authorize(role string, perm Permission) bool {
	switch role {
	case database.RoleAdmin:
		return perm == PermRead || perm == PermWrite || perm == PermAdmin
	case database.RoleOperator:
		return perm == PermRead || perm == PermWrite
	case database.RoleViewer:
		return perm == PermRead
	default:
		return false
	}
}

// ValidRole reports whether role is one of the portal roles.
func ValidRole(role string) bool {
	switch role {
	case database.RoleAdmin, database.RoleOperator, database.RoleViewer:
		return true
	}
	return false
}
