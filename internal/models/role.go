package models

import (
	"sort"
	"strings"
)

// Role is the application-level role of a profile. The empty value is RoleUnknown.
type Role string

const (
	RoleUnknown      Role = ""
	RoleCustomer     Role = "customer"
	RoleAttorney     Role = "attorney"
	RoleLawFirm      Role = "law_firm"
	RoleTitleCompany Role = "title_company"
	RoleAdmin        Role = "admin"
)

var roleAliases = map[string]Role{
	"customer":      RoleCustomer,
	"client":        RoleCustomer,
	"attorney":      RoleAttorney,
	"law_firm":      RoleLawFirm,
	"lawfirm":       RoleLawFirm,
	"law-firm":      RoleLawFirm,
	"title_company": RoleTitleCompany,
	"title-company": RoleTitleCompany,
	"title":         RoleTitleCompany,
	"admin":         RoleAdmin,
}

// ParseRole normalises s into a known Role. ok is false for anything unrecognised.
func ParseRole(s string) (Role, bool) {
	r, ok := roleAliases[strings.ToLower(strings.TrimSpace(s))]
	return r, ok
}

// ResolveRole collapses the legacy profile_type/role pair into a single Role.
// profile_type wins when it names a known role.
func ResolveRole(profileType, role string) Role {
	if r, ok := ParseRole(profileType); ok {
		return r
	}
	if r, ok := ParseRole(role); ok {
		return r
	}
	return RoleUnknown
}

// Spellings returns every stored spelling that ParseRole maps to r, sorted.
func (r Role) Spellings() []string {
	var out []string
	for s, role := range roleAliases {
		if role == r {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

// RoleSpellings returns every spelling ParseRole recognises, sorted.
func RoleSpellings() []string {
	out := make([]string, 0, len(roleAliases))
	for s := range roleAliases {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func (r Role) Known() bool { return r != RoleUnknown }

func (r Role) String() string { return string(r) }

// Roles lists every known role in display order.
func Roles() []Role {
	return []Role{RoleCustomer, RoleAttorney, RoleLawFirm, RoleTitleCompany, RoleAdmin}
}
