package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/helpdesk-io/helpdesk/internal/services"
)

// DefaultAppKeyHeader is the header checked for an app key before Authorization: Bearer.
const DefaultAppKeyHeader = "X-API-Key"

// AppAuthorizer is implemented by *services.AppAuthorizer.
type AppAuthorizer interface {
	Authorize(ctx context.Context, presentedKey, clientIP string) (*services.AuthorizedContext, error)
}

// AppAuthMiddleware authenticates external callers by app key. The key is read from header
// (DefaultAppKeyHeader when empty) or from an Authorization: Bearer header. The client
// address is gin's ClientIP, which honours only the engine's trusted proxies.
//
// On success the context carries "app", "app_id", "api_key_id", "organization_id" and
// auth_method "app_key". Denials set "auth_denied" for the audit middleware.
func AppAuthMiddleware(authorizer AppAuthorizer, header string) gin.HandlerFunc {
	if header == "" {
		header = DefaultAppKeyHeader
	}
	return func(c *gin.Context) {
		key := appKeyFromRequest(c, header)
		if key == "" {
			c.Set("auth_denied", "missing_credential")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Missing API key",
			})
			return
		}

		result, err := authorizer.Authorize(c.Request.Context(), key, c.ClientIP())
		switch {
		case err == nil:
		case errors.Is(err, services.ErrInvalidCredential):
			c.Set("auth_denied", "invalid_credential")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid API key"})
			return
		case errors.Is(err, services.ErrApplicationDisabled):
			c.Set("auth_denied", "application_disabled")
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Application is disabled"})
			return
		case errors.Is(err, services.ErrNetworkNotAllowed):
			c.Set("auth_denied", "network_not_allowed")
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Client IP address is not allowed"})
			return
		default:
			slog.Error("app authorization failed", "error", err, "client_ip", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Authentication failed"})
			return
		}

		c.Set("app", result.App)
		c.Set("app_id", result.App.ID)
		c.Set("api_key_id", result.Credential.ID)
		c.Set("organization_id", result.App.OrganizationID)
		c.Set("auth_method", "app_key")

		c.Next()
	}
}

func appKeyFromRequest(c *gin.Context, header string) string {
	if key := strings.TrimSpace(c.GetHeader(header)); key != "" {
		return key
	}
	authz := c.GetHeader("Authorization")
	if !strings.HasPrefix(authz, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(authz, "Bearer "))
}
