// Package admin implements the operator HTTP handlers for the helpdesk: apps, their API keys
// and IP whitelists, organizations, sessions, audit history, and dashboard statistics.
// These handlers require an operator session and the appropriate RBAC scopes (see
// internal/middleware/rbac.go), unlike the external app API in internal/api/external which
// authenticates with app keys.
package admin

import (
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/helpdesk-io/helpdesk/internal/auth"
	"github.com/helpdesk-io/helpdesk/internal/config"
	"github.com/helpdesk-io/helpdesk/internal/db/models"
	"github.com/helpdesk-io/helpdesk/internal/db/repositories"
	"github.com/helpdesk-io/helpdesk/internal/middleware"
)

// AppHandlers handles app registration endpoints
type AppHandlers struct {
	cfg     *config.Config
	appRepo *repositories.AppRepository
	orgRepo *repositories.OrganizationRepository
}

// NewAppHandlers creates a new AppHandlers instance
func NewAppHandlers(cfg *config.Config, db *sql.DB) *AppHandlers {
	sqlxDB := sqlx.NewDb(db, "postgres")
	return &AppHandlers{
		cfg:     cfg,
		appRepo: repositories.NewAppRepository(sqlxDB),
		orgRepo: repositories.NewOrganizationRepository(sqlxDB),
	}
}

// CreateAppRequest is the body of POST /api/v1/apps
type CreateAppRequest struct {
	Name        string  `json:"name" binding:"required"`
	Description *string `json:"description"`
	// OrganizationID is honoured for admins only; other operators always create in their own org.
	OrganizationID string `json:"organization_id"`
}

// UpdateAppRequest is the body of PUT /api/v1/apps/:id
type UpdateAppRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

// callerScopes returns the scopes placed on the context by AuthMiddleware.
func callerScopes(c *gin.Context) []string {
	v, _ := c.Get("scopes")
	s, _ := v.([]string)
	return s
}

// targetApp returns the app loaded by middleware.RequireAppInOrganization.
func targetApp(c *gin.Context) (*models.App, bool) {
	v, ok := c.Get(middleware.TargetAppKey)
	if !ok {
		return nil, false
	}
	app, ok := v.(*models.App)
	return app, ok && app != nil
}

// ListAppsHandler lists apps in the caller's organization. Admins may list another
// organization with ?organization_id=.
// GET /api/v1/apps
func (h *AppHandlers) ListAppsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orgID := c.GetString("organization_id")
		if q := c.Query("organization_id"); q != "" && q != orgID {
			if !auth.HasScope(callerScopes(c), auth.ScopeAdmin) {
				c.JSON(http.StatusForbidden, gin.H{
					"error": "Cannot list apps of another organization",
				})
				return
			}
			orgID = q
		}

		apps, err := h.appRepo.ListByOrganization(c.Request.Context(), orgID)
		if err != nil {
			slog.Error("failed to list apps", "organization_id", orgID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to list apps",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"apps": apps,
		})
	}
}

// CreateAppHandler registers a new, active app
// POST /api/v1/apps
func (h *AppHandlers) CreateAppHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateAppRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid request",
			})
			return
		}
		req.Name = strings.TrimSpace(req.Name)
		if req.Name == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Name must not be empty",
			})
			return
		}

		orgID := c.GetString("organization_id")
		if req.OrganizationID != "" && req.OrganizationID != orgID {
			if !auth.HasScope(callerScopes(c), auth.ScopeAdmin) {
				c.JSON(http.StatusForbidden, gin.H{
					"error": "Cannot create apps in another organization",
				})
				return
			}
			org, err := h.orgRepo.GetByID(c.Request.Context(), req.OrganizationID)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{
					"error": "Failed to load organization",
				})
				return
			}
			if org == nil {
				c.JSON(http.StatusNotFound, gin.H{
					"error": "Organization not found",
				})
				return
			}
			orgID = org.ID
		}

		app := &models.App{
			OrganizationID: orgID,
			Name:           req.Name,
			Description:    req.Description,
		}
		if userID := c.GetString("user_id"); userID != "" {
			app.CreatedBy = &userID
		}

		if err := h.appRepo.Create(c.Request.Context(), app); err != nil {
			if errors.Is(err, repositories.ErrDuplicate) {
				c.JSON(http.StatusConflict, gin.H{
					"error": "An app with this name already exists",
				})
				return
			}
			slog.Error("failed to create app", "organization_id", orgID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to create app",
			})
			return
		}

		c.Set(middleware.CreatedResourceKey, app.ID)
		c.JSON(http.StatusCreated, app)
	}
}

// GetAppHandler returns one app
// GET /api/v1/apps/:id
func (h *AppHandlers) GetAppHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		app, ok := targetApp(c)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "App not found"})
			return
		}
		c.JSON(http.StatusOK, app)
	}
}

// UpdateAppHandler renames an app or changes its description
// PUT /api/v1/apps/:id
func (h *AppHandlers) UpdateAppHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		app, ok := targetApp(c)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "App not found"})
			return
		}

		var req UpdateAppRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid request",
			})
			return
		}
		if req.Name != nil {
			name := strings.TrimSpace(*req.Name)
			if name == "" {
				c.JSON(http.StatusBadRequest, gin.H{
					"error": "Name must not be empty",
				})
				return
			}
			app.Name = name
		}
		if req.Description != nil {
			app.Description = req.Description
		}

		if err := h.appRepo.Update(c.Request.Context(), app); err != nil {
			if errors.Is(err, repositories.ErrDuplicate) {
				c.JSON(http.StatusConflict, gin.H{
					"error": "An app with this name already exists",
				})
				return
			}
			slog.Error("failed to update app", "app_id", app.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to update app",
			})
			return
		}

		c.JSON(http.StatusOK, app)
	}
}

// ActivateAppHandler re-enables a disabled app
// POST /api/v1/apps/:id/activate
func (h *AppHandlers) ActivateAppHandler() gin.HandlerFunc {
	return h.setActive(true)
}

// DeactivateAppHandler disables an app. Its keys stop authenticating immediately but are
// not revoked.
// POST /api/v1/apps/:id/deactivate
func (h *AppHandlers) DeactivateAppHandler() gin.HandlerFunc {
	return h.setActive(false)
}

func (h *AppHandlers) setActive(active bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		app, ok := targetApp(c)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "App not found"})
			return
		}

		found, err := h.appRepo.SetActive(c.Request.Context(), app.ID, active)
		if err != nil {
			slog.Error("failed to change app state", "app_id", app.ID, "active", active, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to update app",
			})
			return
		}
		if !found {
			c.JSON(http.StatusNotFound, gin.H{"error": "App not found"})
			return
		}

		slog.Info("app state changed", "app_id", app.ID, "active", active, "by", c.GetString("user_id"))
		app.Active = active
		c.JSON(http.StatusOK, app)
	}
}
