// Package auth - scopes.go defines the permission scopes of the operator admin API.
package auth

// Scope is one admin API permission. Operators receive scopes from their role.
type Scope string

const (
	ScopeAppsRead      Scope = "apps:read"
	ScopeAppsWrite     Scope = "apps:write" // create, rename, enable and disable apps; edit whitelists
	ScopeAPIKeysManage Scope = "api_keys:manage"

	ScopeOrganizationsRead  Scope = "organizations:read"
	ScopeOrganizationsWrite Scope = "organizations:write"

	ScopeAuditRead Scope = "audit:read"

	// ScopeAdmin grants every scope in every organization.
	ScopeAdmin Scope = "admin"
)

// impliedReads maps a write or manage scope to the read scope it includes.
var impliedReads = map[Scope]Scope{
	ScopeAppsWrite:          ScopeAppsRead,
	ScopeAPIKeysManage:      ScopeAppsRead,
	ScopeOrganizationsWrite: ScopeOrganizationsRead,
}

// Grants reports whether holding scope s satisfies required.
func (s Scope) Grants(required Scope) bool {
	if s == required || s == ScopeAdmin {
		return true
	}
	implied, ok := impliedReads[s]
	return ok && implied == required
}

// HasScope reports whether any of the held scopes grants required.
func HasScope(held []string, required Scope) bool {
	for _, s := range held {
		if Scope(s).Grants(required) {
			return true
		}
	}
	return false
}
