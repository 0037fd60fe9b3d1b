// Package access gates administrative operations: static role/permission
// grants plus JWT-backed admin sessions with an MFA claim.
package access

import (
	"github.com/arguslabs/argus/core/pkg/errcode"
)

// Role names.
const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
	RoleViewer   = "viewer"
)

// Permission names.
const (
	PermPolicyWrite       = "policy:write"
	PermConstraintWrite   = "constraint:write"
	PermBaselineWrite     = "baseline:write"
	PermAuditRead         = "audit:read"
	PermEscalationResolve = "escalation:resolve"
)

// grants is the static role → permission relation.
var grants = map[string][]string{
	RoleAdmin: {
		PermPolicyWrite,
		PermConstraintWrite,
		PermBaselineWrite,
		PermAuditRead,
		PermEscalationResolve,
	},
	RoleOperator: {
		PermEscalationResolve,
		PermAuditRead,
	},
	RoleViewer: {
		PermAuditRead,
	},
}

// validPermissions indexes every known permission for input validation.
var validPermissions = func() map[string]bool {
	m := make(map[string]bool)
	for _, ps := range grants {
		for _, p := range ps {
			m[p] = true
		}
	}
	return m
}()

// RoleGrants returns the permissions of a role, E8507 for unknown roles.
func RoleGrants(role string) ([]string, error) {
	ps, ok := grants[role]
	if !ok {
		return nil, errcode.Newf(errcode.CodeRoleNotAssigned, "unknown role %q", role)
	}
	return append([]string(nil), ps...), nil
}

// HasPermission reports whether the role carries the permission. Unknown
// permissions are E8506, unknown roles E8507.
func HasPermission(role, permission string) (bool, error) {
	if !validPermissions[permission] {
		return false, errcode.Newf(errcode.CodePermissionNotFound, "unknown permission %q", permission)
	}
	ps, ok := grants[role]
	if !ok {
		return false, errcode.Newf(errcode.CodeRoleNotAssigned, "unknown role %q", role)
	}
	for _, p := range ps {
		if p == permission {
			return true, nil
		}
	}
	return false, nil
}
