// Package models defines the helpdesk's table rows. Struct tags serve both JSON responses
// and sqlx scanning.
package models

import "time"

// AppAPIKey is a stored app credential. Only the bcrypt digest of the secret is kept.
type AppAPIKey struct {
	ID                       string     `json:"id" db:"id"`
	AppID                    string     `json:"app_id" db:"app_id"`
	Name                     string     `json:"name" db:"name"`             // Operator label, e.g. "Production sync"
	KeyHash                  string     `json:"-" db:"key_hash"`            // Bcrypt digest of the full key
	KeyPrefix                string     `json:"key_prefix" db:"key_prefix"` // First 10 chars, for display and lookup narrowing
	Active                   bool       `json:"is_active" db:"is_active"`
	ExpiresAt                *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	LastUsedAt               *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
	LastUsedIP               *string    `json:"last_used_ip,omitempty" db:"last_used_ip"`
	ExpiryNotificationSentAt *time.Time `json:"-" db:"expiry_notification_sent_at"`
	CreatedBy                *string    `json:"created_by,omitempty" db:"created_by"`
	CreatedAt                time.Time  `json:"created_at" db:"created_at"`

	// Joined: owning app, populated by the credential bulk read
	App *App `json:"-" db:"-"`
}

// IsExpired reports whether the key has an expiry at or before now.
func (k *AppAPIKey) IsExpired(now time.Time) bool {
	return k.ExpiresAt != nil && !k.ExpiresAt.After(now)
}

// Usable reports whether the key may take part in matching at the given instant.
func (k *AppAPIKey) Usable(now time.Time) bool {
	return k.Active && !k.IsExpired(now)
}
