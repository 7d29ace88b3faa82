package domain

// Role represents an API caller role.
type Role string

// Roles, lowest to highest privilege.
const (
	RoleViewer   Role = "viewer"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)

var roleRank = map[Role]int{
	RoleViewer:   1,
	RoleOperator: 2,
	RoleAdmin:    3,
}

// IsValid checks if the role is known.
func (r Role) IsValid() bool {
	_, ok := roleRank[r]
	return ok
}

// HasPermission reports whether the role satisfies the minimum required role.
func (r Role) HasPermission(min Role) bool {
	return roleRank[r] >= roleRank[min]
}
