// Package models - audit_log.go defines the AuditLog model for recording security-relevant
// events, capturing actor, action, affected resource, client IP, and arbitrary metadata.
package models

import "time"

// AuditLog represents an audit log entry for operator and app actions
type AuditLog struct {
	ID             string                 `json:"id"`
	UserID         *string                `json:"user_id"` // Nullable for app-key and system actions
	OrganizationID *string                `json:"organization_id"`
	Action         string                 `json:"action"`        // "app.created", "app_key.revoked", "app_auth.denied"
	ResourceType   *string                `json:"resource_type"` // "app", "app_key", "whitelist_entry"
	ResourceID     *string                `json:"resource_id"`   // UUID of affected resource
	Metadata       map[string]interface{} `json:"metadata"`      // JSONB: additional context
	IPAddress      *string                `json:"ip_address"`    // Client IP
	CreatedAt      time.Time              `json:"created_at"`
}
