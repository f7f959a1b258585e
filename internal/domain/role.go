package domain

// Role constants define the customer tiers known to the backend.
const (
	RoleRetail          = "retail"
	RoleWholesaleLevel1 = "wholesale_level1"
	RoleWholesaleLevel2 = "wholesale_level2"
	RoleWholesaleLevel3 = "wholesale_level3"
	RoleTrainer         = "trainer"
	RoleFederationRep   = "federation_rep"
	RoleAdmin           = "admin"
)

// ValidRoles returns the set of valid user roles.
func ValidRoles() []string {
	return []string{
		RoleRetail,
		RoleWholesaleLevel1,
		RoleWholesaleLevel2,
		RoleWholesaleLevel3,
		RoleTrainer,
		RoleFederationRep,
		RoleAdmin,
	}
}

// IsValidRole checks whether the given role string is a valid user role.
func IsValidRole(role string) bool {
	for _, r := range ValidRoles() {
		if r == role {
			return true
		}
	}
	return false
}

// IsWholesale reports whether role is one of the wholesale tiers.
func IsWholesale(role string) bool {
	switch role {
	case RoleWholesaleLevel1, RoleWholesaleLevel2, RoleWholesaleLevel3:
		return true
	default:
		return false
	}
}
