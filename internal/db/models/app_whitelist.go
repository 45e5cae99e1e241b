// Package models - app_whitelist.go defines the per-app IP whitelist entry.
package models

import "time"

// AppWhitelistEntry is one network rule on an app's whitelist. Network holds either a bare
// address ("203.0.113.5") or a CIDR block ("10.0.0.0/8", "2001:db8::/32").
type AppWhitelistEntry struct {
	ID        string    `json:"id" db:"id"`
	AppID     string    `json:"app_id" db:"app_id"`
	Network   string    `json:"network" db:"network"`
	Label     *string   `json:"label,omitempty" db:"label"`
	Active    bool      `json:"is_active" db:"is_active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
