// stats.go implements the dashboard statistics handler: app, key, and whitelist counts for
// the caller's organization, plus service-wide authentication denials for admins.
package admin

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/helpdesk-io/helpdesk/internal/auth"
)

// StatsHandler handles stats-related API requests
type StatsHandler struct {
	db *sqlx.DB
}

// NewStatsHandler creates a new stats handler
func NewStatsHandler(database *sqlx.DB) *StatsHandler {
	return &StatsHandler{
		db: database,
	}
}

// AppStats counts an organization's apps
type AppStats struct {
	Total    int64 `json:"total"`
	Active   int64 `json:"active"`
	Disabled int64 `json:"disabled"`
}

// KeyStats counts an organization's app keys by state
type KeyStats struct {
	Active       int64 `json:"active"`
	Revoked      int64 `json:"revoked"`
	Expired      int64 `json:"expired"`
	ExpiringSoon int64 `json:"expiring_soon"` // within 7 days
}

// DeniedReasonCount is the number of denied app-key attempts for one reason
type DeniedReasonCount struct {
	Reason string `json:"reason" db:"reason"`
	Count  int64  `json:"count" db:"count"`
}

// DashboardStats represents the response for dashboard statistics
type DashboardStats struct {
	Apps             AppStats            `json:"apps"`
	Keys             KeyStats            `json:"keys"`
	WhitelistEntries int64               `json:"whitelist_entries"`
	Unrestricted     int64               `json:"unrestricted_apps"` // active apps with no active whitelist entry
	Denied24h        []DeniedReasonCount `json:"denied_last_24h,omitempty"` // admins only
}

// GetDashboardStats returns dashboard statistics for the caller's organization
// GET /api/v1/admin/stats/dashboard
func (h *StatsHandler) GetDashboardStats(c *gin.Context) {
	ctx := c.Request.Context()
	orgID := c.GetString("organization_id")

	// Core counts in a single round-trip.
	query := `
		SELECT
			(SELECT COUNT(*) FROM apps WHERE organization_id = $1) AS app_count,
			(SELECT COUNT(*) FROM apps WHERE organization_id = $1 AND is_active) AS active_app_count,
			(SELECT COUNT(*) FROM app_api_keys k JOIN apps a ON a.id = k.app_id
				WHERE a.organization_id = $1 AND k.is_active AND (k.expires_at IS NULL OR k.expires_at > NOW())) AS active_key_count,
			(SELECT COUNT(*) FROM app_api_keys k JOIN apps a ON a.id = k.app_id
				WHERE a.organization_id = $1 AND NOT k.is_active) AS revoked_key_count,
			(SELECT COUNT(*) FROM app_api_keys k JOIN apps a ON a.id = k.app_id
				WHERE a.organization_id = $1 AND k.is_active AND k.expires_at <= NOW()) AS expired_key_count,
			(SELECT COUNT(*) FROM app_api_keys k JOIN apps a ON a.id = k.app_id
				WHERE a.organization_id = $1 AND k.is_active
				AND k.expires_at > NOW() AND k.expires_at <= NOW() + INTERVAL '7 days') AS expiring_key_count,
			(SELECT COUNT(*) FROM app_ip_whitelist w JOIN apps a ON a.id = w.app_id
				WHERE a.organization_id = $1 AND w.is_active) AS whitelist_count,
			(SELECT COUNT(*) FROM apps a WHERE a.organization_id = $1 AND a.is_active
				AND NOT EXISTS (SELECT 1 FROM app_ip_whitelist w WHERE w.app_id = a.id AND w.is_active)) AS unrestricted_count
	`

	var stats DashboardStats
	err := h.db.QueryRowContext(ctx, query, orgID).Scan(
		&stats.Apps.Total,
		&stats.Apps.Active,
		&stats.Keys.Active,
		&stats.Keys.Revoked,
		&stats.Keys.Expired,
		&stats.Keys.ExpiringSoon,
		&stats.WhitelistEntries,
		&stats.Unrestricted,
	)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load dashboard statistics"})
		return
	}
	stats.Apps.Disabled = stats.Apps.Total - stats.Apps.Active

	// Denied attempts carry no organization, so they are reported service-wide to admins.
	// The list stays empty unless failed-request auditing is on.
	if auth.HasScope(callerScopes(c), auth.ScopeAdmin) {
		stats.Denied24h = []DeniedReasonCount{}
		_ = h.db.SelectContext(ctx, &stats.Denied24h, `
			SELECT COALESCE(metadata->>'reason', 'unknown') AS reason, COUNT(*) AS count
			FROM audit_logs
			WHERE action = 'app_auth.denied'
			  AND created_at > NOW() - INTERVAL '24 hours'
			GROUP BY reason
			ORDER BY count DESC
		`)
	}

	c.JSON(http.StatusOK, stats)
}
