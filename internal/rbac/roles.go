package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleDispatcher = "dispatcher"
	RoleSupervisor = "supervisor"
	RoleAnalyst    = "analyst"
	RoleSuperAdmin = "super_admin"
	RoleAutomation = "automation" // hidden role for internal schedulers
)

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }

func IsHiddenRole(role string) bool { return role == RoleAutomation }
