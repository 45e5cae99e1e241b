// audit_logs.go implements read-only handlers over the audit history.
package admin

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/helpdesk-io/helpdesk/internal/auth"
	"github.com/helpdesk-io/helpdesk/internal/db/repositories"
)

// AuditLogHandlers handles audit log endpoints
type AuditLogHandlers struct {
	auditRepo *repositories.AuditRepository
}

// NewAuditLogHandlers creates a new AuditLogHandlers instance
func NewAuditLogHandlers(db *sql.DB) *AuditLogHandlers {
	return &AuditLogHandlers{auditRepo: repositories.NewAuditRepository(db)}
}

// ListAuditLogsHandler lists audit entries, newest first. Non-admins only see their own
// organization. Filters: action, resource_type, user_id, app_id, start, end (RFC3339).
// GET /api/v1/audit-logs
func (h *AuditLogHandlers) ListAuditLogsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		page, perPage := pageParams(c, 50, 200)

		var filters repositories.AuditFilters
		if auth.HasScope(callerScopes(c), auth.ScopeAdmin) {
			if v := c.Query("organization_id"); v != "" {
				filters.OrganizationID = &v
			}
		} else {
			orgID := c.GetString("organization_id")
			filters.OrganizationID = &orgID
		}
		if v := c.Query("action"); v != "" {
			filters.Action = &v
		}
		if v := c.Query("resource_type"); v != "" {
			filters.ResourceType = &v
		}
		if v := c.Query("user_id"); v != "" {
			filters.UserID = &v
		}
		if v := c.Query("app_id"); v != "" {
			filters.AppID = &v
		}
		for name, dst := range map[string]**time.Time{"start": &filters.StartDate, "end": &filters.EndDate} {
			if v := c.Query(name); v != "" {
				t, err := time.Parse(time.RFC3339, v)
				if err != nil {
					c.JSON(http.StatusBadRequest, gin.H{
						"error": "Invalid " + name + " format, use RFC3339",
					})
					return
				}
				*dst = &t
			}
		}

		logs, total, err := h.auditRepo.ListAuditLogs(c.Request.Context(), filters, perPage, (page-1)*perPage)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to list audit logs",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"logs": logs,
			"pagination": paginationBody(page, perPage, total),
		})
	}
}

// GetAuditLogHandler returns one audit entry
// GET /api/v1/audit-logs/:id
func (h *AuditLogHandlers) GetAuditLogHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		entry, err := h.auditRepo.GetAuditLog(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to get audit log",
			})
			return
		}
		visible := entry != nil
		if visible && !auth.HasScope(callerScopes(c), auth.ScopeAdmin) {
			visible = entry.OrganizationID != nil && *entry.OrganizationID == c.GetString("organization_id")
		}
		if !visible {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Audit log not found",
			})
			return
		}

		c.JSON(http.StatusOK, entry)
	}
}
