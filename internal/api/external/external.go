// Package external implements the HTTP surface that integrated apps call with their own API
// keys. Every route here sits behind middleware.AppAuthMiddleware, so a handler can rely on
// the authorized app being present in the gin context.
package external

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/helpdesk-io/helpdesk/internal/db/models"
)

// MeResponse describes the app and key a request was authorized with.
type MeResponse struct {
	AppID          string `json:"app_id"`
	AppName        string `json:"app_name"`
	OrganizationID string `json:"organization_id"`
	APIKeyID       string `json:"api_key_id"`
	AuthMethod     string `json:"auth_method"`
	ClientIP       string `json:"client_ip"`
}

// MeHandler returns the authorized app context
// GET /api/external/v1/me
func MeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		v, _ := c.Get("app")
		app, ok := v.(*models.App)
		if !ok || app == nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "App not authenticated",
			})
			return
		}

		c.JSON(http.StatusOK, MeResponse{
			AppID:          app.ID,
			AppName:        app.Name,
			OrganizationID: app.OrganizationID,
			APIKeyID:       c.GetString("api_key_id"),
			AuthMethod:     c.GetString("auth_method"),
			ClientIP:       c.ClientIP(),
		})
	}
}

// RegisterRoutes mounts the external endpoints on an already-authenticated group.
func RegisterRoutes(g *gin.RouterGroup) {
	g.GET("/me", MeHandler())
}
