// Package models - organization.go defines the Organization model, the tenant that owns
// helpdesk apps and the operators who manage them.
package models

import "time"

// Organization represents a helpdesk tenant
type Organization struct {
	ID          string    `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`                 // URL-safe slug
	DisplayName string    `json:"display_name" db:"display_name"` // Human-readable name
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// OrganizationSummary counts what an organization owns. Usable keys are active and unexpired.
type OrganizationSummary struct {
	Name             string `json:"name" db:"name"`
	Apps             int    `json:"apps" db:"apps"`
	ActiveApps       int    `json:"active_apps" db:"active_apps"`
	UsableKeys       int    `json:"usable_keys" db:"usable_keys"`
	WhitelistEntries int    `json:"whitelist_entries" db:"whitelist_entries"`
}
