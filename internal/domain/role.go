package domain

// Role identifies a user's position in the platform hierarchy.
type Role string

const (
	RoleSuperAdmin  Role = "super_admin"
	RoleSiteAdmin   Role = "site_admin"
	RoleOperator    Role = "operator"
	RoleClientAdmin Role = "client_admin"
	RoleClientUser  Role = "client_user"
)

// inviteTable is the authoritative invite-authorization matrix.
// It is intentionally NOT derived from role levels: operator may invite
// client_admin but not another operator. Do not "fix" this to be
// level-monotonic without product sign-off.
var inviteTable = map[Role]map[Role]bool{
	RoleSuperAdmin: {
		RoleSiteAdmin:   true,
		RoleOperator:    true,
		RoleClientAdmin: true,
	},
	RoleSiteAdmin: {
		RoleOperator:    true,
		RoleClientAdmin: true,
	},
	RoleOperator: {
		RoleClientAdmin: true,
	},
	RoleClientAdmin: {
		RoleClientUser: true,
	},
	RoleClientUser: {},
}

var roleLevels = map[Role]int{
	RoleSuperAdmin:  5,
	RoleSiteAdmin:   4,
	RoleOperator:    3,
	RoleClientAdmin: 2,
	RoleClientUser:  1,
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	_, ok := roleLevels[r]
	return ok
}

// CanInvite reports whether a user with role r may create an invite for target.
func (r Role) CanInvite(target Role) bool {
	return inviteTable[r][target]
}

// RequiresOrganization reports whether the role only exists inside an
// organization boundary.
func (r Role) RequiresOrganization() bool {
	return r == RoleClientAdmin || r == RoleClientUser
}

// Level returns the informational rank of the role. Higher means more
// privileged. Invite authorization uses CanInvite, never Level.
func (r Role) Level() int {
	return roleLevels[r]
}
