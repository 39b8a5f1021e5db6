package charityauth

import (
	"fmt"
	"strings"
)

// Role is one of the platform's fixed roles.
type Role string

const (
	RoleSuperAdmin     Role = "SUPER_ADMIN"
	RoleAdmin          Role = "ADMIN"
	RoleCharityManager Role = "CHARITY_MANAGER"
	RoleCharity        Role = "CHARITY"
	RoleDonor          Role = "DONOR"
	RoleNeedy          Role = "NEEDY"
	RoleVendor         Role = "VENDOR"
	RoleShopManager    Role = "SHOP_MANAGER"
	RoleVolunteer      Role = "VOLUNTEER"
	RoleUser           Role = "USER"
	RoleGuest          Role = "GUEST"
)

var allRoles = []Role{
	RoleSuperAdmin, RoleAdmin, RoleCharityManager, RoleCharity, RoleDonor,
	RoleNeedy, RoleVendor, RoleShopManager, RoleVolunteer, RoleUser, RoleGuest,
}

// AllRoles returns every known role.
func AllRoles() []Role {
	return append([]Role(nil), allRoles...)
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	for _, v := range allRoles {
		if v == r {
			return true
		}
	}
	return false
}

// RequiresVerification reports whether new accounts with r start in
// NEED_VERIFICATION.
func (r Role) RequiresVerification() bool {
	return r == RoleNeedy || r == RoleVendor
}

// IsAdministrative reports whether r may review verification requests.
func (r Role) IsAdministrative() bool {
	return r == RoleSuperAdmin || r == RoleAdmin
}

// ParseRole parses a role name case-insensitively.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// RoleSet is an account's role collection.
type RoleSet []Role

// Has reports whether r is in the set.
func (s RoleSet) Has(r Role) bool {
	for _, v := range s {
		if v == r {
			return true
		}
	}
	return false
}

// HasAnyOf reports whether the set intersects roles.
func (s RoleSet) HasAnyOf(roles ...Role) bool {
	for _, r := range roles {
		if s.Has(r) {
			return true
		}
	}
	return false
}

// Strings returns the role names.
func (s RoleSet) Strings() []string {
	out := make([]string, len(s))
	for i, r := range s {
		out[i] = string(r)
	}
	return out
}

// RoleSetFromStrings parses names, skipping unknown ones.
func RoleSetFromStrings(names []string) RoleSet {
	out := make(RoleSet, 0, len(names))
	for _, n := range names {
		if r, err := ParseRole(n); err == nil {
			out = append(out, r)
		}
	}
	return out
}

// DefaultSelfRegistrationRoles lists the roles a visitor may pick at sign-up.
func DefaultSelfRegistrationRoles() []Role {
	return []Role{RoleDonor, RoleNeedy, RoleVendor, RoleVolunteer, RoleUser}
}
