// Package middleware provides Gin HTTP middleware for authentication, authorization,
// rate limiting, security headers, and audit logging.
//
// Middleware ordering matters and is enforced in router.go:
//
//	Security → RateLimit → Audit → Auth → RBAC → Handler
//
// Security headers run first so they appear on all responses including errors.
// Rate limiting runs before auth so brute-force attempts are dropped before any bcrypt work.
// Audit wraps auth so denied app-key attempts are recorded alongside successful mutations.
// Auth populates the caller identity; RBAC reads from that context.
package middleware

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/helpdesk-io/helpdesk/internal/auth"
	"github.com/helpdesk-io/helpdesk/internal/db/repositories"
)

// AuthMiddleware validates an operator session token and loads the operator. Scopes come from
// the operator's current role, not from the token.
func AuthMiddleware(userRepo *repositories.UserRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := auth.ExtractAPIKeyFromHeader(c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Missing or malformed authorization header",
			})
			return
		}

		claims, err := auth.ParseSession(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid or expired session",
			})
			return
		}

		user, err := userRepo.GetUserByID(c.Request.Context(), claims.UserID)
		if err != nil {
			slog.Error("failed to load operator", "user_id", claims.UserID, "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to load user",
			})
			return
		}
		if user == nil || !user.Active {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "User not found or disabled",
			})
			return
		}

		c.Set("user", user)
		c.Set("user_id", user.ID)
		c.Set("organization_id", user.OrganizationID)
		c.Set("auth_method", "jwt")
		c.Set("scopes", user.Scopes())

		c.Next()
	}
}
