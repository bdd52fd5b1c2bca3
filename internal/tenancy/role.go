package tenancy

import (
	"fmt"
	"strings"
)

// Role is the closed set of roles a membership can hold.
type Role string

const (
	RoleOwner      Role = "owner"
	RoleAdmin      Role = "admin"
	RoleAccountant Role = "accountant"
	RoleMember     Role = "member"
)

// Roles lists every role, most privileged first.
var Roles = []Role{RoleOwner, RoleAdmin, RoleAccountant, RoleMember}

// Valid reports whether r is one of the enumerated roles.
func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleAccountant, RoleMember:
		return true
	}
	return false
}

func (r Role) rank() int {
	switch r {
	case RoleOwner:
		return 4
	case RoleAdmin:
		return 3
	case RoleAccountant:
		return 2
	case RoleMember:
		return 1
	}
	return 0
}

// Outranks reports whether r is strictly more privileged than other.
func (r Role) Outranks(other Role) bool { return r.rank() > other.rank() }

func (r Role) String() string { return string(r) }

// ParseRole converts stored or external input into a Role. Unknown values fail with ErrInvalidState.
func ParseRole(raw string) (Role, error) {
	role := Role(strings.TrimSpace(strings.ToLower(raw)))
	if !role.Valid() {
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidState, raw)
	}
	return role, nil
}
