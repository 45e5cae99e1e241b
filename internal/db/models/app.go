// Package models - app.go defines the App model: an integration registered by an
// organization that calls the external API with its own keys.
package models

import "time"

// App represents an application registered against an organization
type App struct {
	ID             string    `json:"id" db:"id"`
	OrganizationID string    `json:"organization_id" db:"organization_id"`
	Name           string    `json:"name" db:"name"`
	Description    *string   `json:"description,omitempty" db:"description"`
	Active         bool      `json:"is_active" db:"is_active"`
	CreatedBy      *string   `json:"created_by,omitempty" db:"created_by"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`

	// Joined: active whitelist rows, populated by the credential bulk read
	Whitelist []*AppWhitelistEntry `json:"-" db:"-"`
}
