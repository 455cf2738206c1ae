package auth

import (
	"fmt"
	"strings"
)

// Role is the caller's permission tier within a tenant.
type Role string

const (
	RoleViewer   Role = "viewer"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)

// roleRanks orders roles; a higher rank inherits every lower permission.
var roleRanks = map[Role]int{
	RoleViewer:   1,
	RoleOperator: 2,
	RoleAdmin:    3,
}

// NormalizeRole lower-cases value and reports whether it names a known role.
func NormalizeRole(value string) (Role, bool) {
	role := Role(strings.ToLower(strings.TrimSpace(value)))
	if _, ok := roleRanks[role]; !ok {
		return "", false
	}
	return role, true
}

// RoleAtLeast reports whether role may perform actions gated on required.
func RoleAtLeast(role Role, required Role) bool {
	have, ok := roleRanks[role]
	return ok && have >= roleRanks[required]
}

// Authorize returns ErrForbidden when role ranks below required.
func Authorize(role, required Role) error {
	if !RoleAtLeast(role, required) {
		return fmt.Errorf("%w: %s requires %s", ErrForbidden, roleLabel(role), required)
	}
	return nil
}

func roleLabel(role Role) string {
	if role == "" {
		return "unknown role"
	}
	return string(role)
}
