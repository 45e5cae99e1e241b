// Package models - user.go defines the User model for helpdesk operators together with the
// role-to-scope mapping used when issuing operator sessions.
package models

import "time"

// Operator roles
const (
	RoleAdmin  = "admin"
	RoleAgent  = "agent"
	RoleViewer = "viewer"
)

// User represents a helpdesk operator account
type User struct {
	ID             string
	OrganizationID string
	Email          string
	Name           string
	Role           string // admin, agent, viewer
	PasswordHash   string // bcrypt; never serialized
	Active         bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Scopes returns the admin API scopes granted by the user's role.
// Unknown roles grant nothing.
func (u *User) Scopes() []string {
	switch u.Role {
	case RoleAdmin:
		return []string{"admin"}
	case RoleAgent:
		return []string{"apps:read", "apps:write", "api_keys:manage"}
	case RoleViewer:
		return []string{"apps:read"}
	}
	return nil
}
