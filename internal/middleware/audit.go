// audit.go provides Gin middleware that records operator mutations and denied app-key
// attempts to the audit log, with optional shipping to external audit destinations.
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/helpdesk-io/helpdesk/internal/audit"
	"github.com/helpdesk-io/helpdesk/internal/config"
	"github.com/helpdesk-io/helpdesk/internal/db/models"
	"github.com/helpdesk-io/helpdesk/internal/safego"
)

// CreatedResourceKey is set by create handlers to the new resource's ID so the audit row
// names the created resource rather than its parent from the route.
const CreatedResourceKey = "created_resource_id"

// AuditWriter persists audit log rows.
type AuditWriter interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// AuditMiddleware logs authenticated actions to the database only
func AuditMiddleware(auditRepo AuditWriter) gin.HandlerFunc {
	return AuditMiddlewareWithShipper(auditRepo, nil, nil)
}

// AuditMiddlewareWithShipper logs authenticated actions and ships to external destinations.
// Requests rejected by AppAuthMiddleware are recorded as "app_auth.denied" when
// LogFailedRequests is enabled.
func AuditMiddlewareWithShipper(auditRepo AuditWriter, shipper audit.Shipper, auditCfg *config.AuditConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Process request first
		c.Next()

		if c.Request.Method == http.MethodOptions {
			return
		}

		logReadOps := auditCfg != nil && auditCfg.LogReadOperations
		logFailedReqs := auditCfg != nil && auditCfg.LogFailedRequests

		status := c.Writer.Status()
		isReadOp := c.Request.Method == http.MethodGet || c.Request.Method == http.MethodHead
		isFailed := status >= 400
		denied := c.GetString("auth_denied")

		switch {
		case denied != "":
			if !logFailedReqs {
				return
			}
		case auditCfg == nil:
			// Default behavior: only log successful write operations
			if isReadOp || isFailed {
				return
			}
		default:
			if isReadOp && !logReadOps {
				return
			}
			if isFailed && !logFailedReqs {
				return
			}
		}

		userID := c.GetString("user_id")
		orgID := c.GetString("organization_id")
		authMethod := c.GetString("auth_method")
		ipAddress := c.ClientIP()
		path := c.Request.URL.Path

		resourceType := resourceTypeForPath(path)
		action := actionFor(c.Request.Method, path, resourceType)
		if denied != "" {
			action = "app_auth.denied"
			resourceType = "app_key"
		}

		auditLog := &models.AuditLog{
			Action:    action,
			IPAddress: &ipAddress,
			CreatedAt: time.Now(),
		}
		if userID != "" {
			auditLog.UserID = &userID
		}
		if orgID != "" {
			auditLog.OrganizationID = &orgID
		}
		if resourceType != "" {
			auditLog.ResourceType = &resourceType
		}
		if id := resourceIDForPath(c); id != "" {
			auditLog.ResourceID = &id
		}

		method := c.Request.Method
		metadata := map[string]interface{}{
			"status_code": status,
			"method":      method,
			"path":        path,
		}
		if authMethod != "" {
			metadata["auth_method"] = authMethod
		}
		if denied != "" {
			metadata["reason"] = denied
		}
		appID := c.GetString("app_id")
		if appID != "" {
			metadata["app_id"] = appID
		}
		apiKeyID := c.GetString("api_key_id")
		reqID := c.GetString(RequestIDKey)
		if reqID != "" {
			metadata["request_id"] = reqID
		}
		auditLog.Metadata = metadata

		safego.Go("audit-write", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if auditRepo != nil {
				if err := auditRepo.CreateAuditLog(ctx, auditLog); err != nil {
					slog.Error("failed to create audit log", "action", auditLog.Action, "error", err)
				}
			}

			if shipper != nil {
				entry := &audit.Event{
					Timestamp:      auditLog.CreatedAt,
					Action:         auditLog.Action,
					Outcome:        audit.OutcomeFor(status, denied),
					Reason:         denied,
					RequestID:      reqID,
					UserID:         userID,
					OrganizationID: orgID,
					AppID:          appID,
					APIKeyID:       apiKeyID,
					ResourceType:   resourceType,
					ClientIP:       ipAddress,
					AuthMethod:     authMethod,
					StatusCode:     status,
					Metadata:       map[string]any{"method": method, "path": path},
				}
				if auditLog.ResourceID != nil {
					entry.ResourceID = *auditLog.ResourceID
				}

				if err := shipper.Ship(ctx, entry); err != nil {
					slog.Warn("failed to ship audit log", "action", auditLog.Action, "error", err)
				}
			}
		})
	}
}

// resourceTypeForPath maps a request path onto the audited resource type. The most specific
// segment wins: /apps/:id/keys/:key_id is an app_key, not an app.
func resourceTypeForPath(path string) string {
	switch {
	case strings.Contains(path, "/keys"):
		return "app_key"
	case strings.Contains(path, "/whitelist"):
		return "whitelist_entry"
	case strings.Contains(path, "/apps"):
		return "app"
	case strings.Contains(path, "/organizations"):
		return "organization"
	case strings.Contains(path, "/users"):
		return "user"
	case strings.Contains(path, "/auth/login"):
		return "session"
	}
	return ""
}

// actionFor builds a dotted action name such as "app_key.created". Paths without a known
// resource type fall back to "METHOD /path".
func actionFor(method, path, resourceType string) string {
	if resourceType == "" {
		return fmt.Sprintf("%s %s", method, path)
	}
	switch {
	case strings.HasSuffix(path, "/activate"):
		return resourceType + ".activated"
	case strings.HasSuffix(path, "/deactivate"):
		return resourceType + ".deactivated"
	case resourceType == "app_key" && method == http.MethodDelete:
		// Keys are deactivated, never removed.
		return resourceType + ".revoked"
	}
	switch method {
	case http.MethodPost:
		return resourceType + ".created"
	case http.MethodPut, http.MethodPatch:
		return resourceType + ".updated"
	case http.MethodDelete:
		return resourceType + ".deleted"
	}
	return resourceType + ".read"
}

// resourceIDForPath returns the ID a create handler recorded, else the innermost route
// parameter naming the affected resource.
func resourceIDForPath(c *gin.Context) string {
	if id := c.GetString(CreatedResourceKey); id != "" {
		return id
	}
	for _, name := range []string{"key_id", "entry_id", "id"} {
		if v := c.Param(name); v != "" {
			return v
		}
	}
	return ""
}
