// Package middleware (rbac.go) gates operator routes by scope and keeps app-scoped routes
// inside the operator's organization.
//
// Scopes are set by AuthMiddleware from the operator's current role on every request, so a
// role change applies on the next request without reissuing the session token.
package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/helpdesk-io/helpdesk/internal/auth"
	"github.com/helpdesk-io/helpdesk/internal/db/models"
)

// TargetAppKey is the context key holding the app loaded by RequireAppInOrganization.
const TargetAppKey = "target_app"

// contextScopes returns the scopes AuthMiddleware stored, or nil when there are none.
func contextScopes(c *gin.Context) []string {
	v, _ := c.Get("scopes")
	s, _ := v.([]string)
	return s
}

// RequireScope rejects the request with 403 unless the operator holds a scope granting
// the required one.
func RequireScope(scope auth.Scope) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !auth.HasScope(contextScopes(c), scope) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "Missing required scope",
				"details": "Required scope: " + string(scope),
			})
			return
		}
		c.Next()
	}
}

// AppLookup loads an app by ID. *repositories.AppRepository satisfies it.
type AppLookup interface {
	GetByID(ctx context.Context, id string) (*models.App, error)
}

// RequireAppInOrganization loads the app named by the :id route parameter and checks that it
// belongs to the operator's organization. Admins reach every organization. Apps outside the
// caller's reach are reported as not found so their existence is not disclosed.
func RequireAppInOrganization(apps AppLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		app, err := apps.GetByID(c.Request.Context(), c.Param("id"))
		if err != nil {
			slog.Error("failed to load app for organization check", "app_id", c.Param("id"), "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to load app",
			})
			return
		}
		if app == nil || !callerReaches(c, app.OrganizationID) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{
				"error": "App not found",
			})
			return
		}

		c.Set(TargetAppKey, app)
		c.Next()
	}
}

func callerReaches(c *gin.Context, orgID string) bool {
	if auth.HasScope(contextScopes(c), auth.ScopeAdmin) {
		return true
	}
	id := c.GetString("organization_id")
	return id != "" && id == orgID
}
