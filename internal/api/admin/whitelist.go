// whitelist.go implements handlers for managing an app's IP whitelist. Network specs are
// validated and normalized with the same parser the request-time evaluator uses, so a rule
// accepted here is a rule the evaluator understands.
package admin

import (
	"database/sql"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/helpdesk-io/helpdesk/internal/db/models"
	"github.com/helpdesk-io/helpdesk/internal/db/repositories"
	"github.com/helpdesk-io/helpdesk/internal/middleware"
	"github.com/helpdesk-io/helpdesk/internal/netpolicy"
)

// WhitelistHandlers handles app whitelist endpoints
type WhitelistHandlers struct {
	repo *repositories.WhitelistRepository
}

// NewWhitelistHandlers creates a new WhitelistHandlers instance
func NewWhitelistHandlers(db *sql.DB) *WhitelistHandlers {
	return &WhitelistHandlers{
		repo: repositories.NewWhitelistRepository(sqlx.NewDb(db, "postgres")),
	}
}

// CreateWhitelistEntryRequest is the body of POST /api/v1/apps/:id/whitelist
type CreateWhitelistEntryRequest struct {
	Network string  `json:"network" binding:"required"`
	Label   *string `json:"label"`
	Active  *bool   `json:"is_active"`
}

// UpdateWhitelistEntryRequest is the body of PUT /api/v1/apps/:id/whitelist/:entry_id.
// The network itself is immutable; delete and recreate to change it.
type UpdateWhitelistEntryRequest struct {
	Label  *string `json:"label"`
	Active *bool   `json:"is_active"`
}

// ListWhitelistHandler lists an app's whitelist entries
// GET /api/v1/apps/:id/whitelist
func (h *WhitelistHandlers) ListWhitelistHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		app, ok := targetApp(c)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "App not found"})
			return
		}

		entries, err := h.repo.ListByApp(c.Request.Context(), app.ID)
		if err != nil {
			slog.Error("failed to list whitelist", "app_id", app.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to list whitelist entries",
			})
			return
		}

		active := 0
		for _, e := range entries {
			if e.Active {
				active++
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"entries": entries,
			// With no active entries every client address is admitted.
			"unrestricted": active == 0,
		})
	}
}

// CreateWhitelistEntryHandler adds a network rule to an app
// POST /api/v1/apps/:id/whitelist
func (h *WhitelistHandlers) CreateWhitelistEntryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		app, ok := targetApp(c)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "App not found"})
			return
		}

		var req CreateWhitelistEntryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid request",
			})
			return
		}

		network, err := netpolicy.NormalizeNetworkSpec(req.Network)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid network: " + err.Error(),
			})
			return
		}

		entry := &models.AppWhitelistEntry{
			AppID:   app.ID,
			Network: network,
			Label:   req.Label,
			Active:  req.Active == nil || *req.Active,
		}
		if err := h.repo.Create(c.Request.Context(), entry); err != nil {
			if errors.Is(err, repositories.ErrDuplicate) {
				c.JSON(http.StatusConflict, gin.H{
					"error": "Network is already on this app's whitelist",
				})
				return
			}
			slog.Error("failed to create whitelist entry", "app_id", app.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to create whitelist entry",
			})
			return
		}

		c.Set(middleware.CreatedResourceKey, entry.ID)
		c.JSON(http.StatusCreated, entry)
	}
}

// UpdateWhitelistEntryHandler toggles or relabels an entry
// PUT /api/v1/apps/:id/whitelist/:entry_id
func (h *WhitelistHandlers) UpdateWhitelistEntryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		app, ok := targetApp(c)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "App not found"})
			return
		}

		var req UpdateWhitelistEntryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid request",
			})
			return
		}

		entry, err := h.repo.GetByID(c.Request.Context(), app.ID, c.Param("entry_id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to load whitelist entry",
			})
			return
		}
		if entry == nil {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Whitelist entry not found",
			})
			return
		}

		if req.Label != nil {
			entry.Label = req.Label
		}
		if req.Active != nil {
			entry.Active = *req.Active
		}

		if err := h.repo.Update(c.Request.Context(), entry); err != nil {
			slog.Error("failed to update whitelist entry", "entry_id", entry.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to update whitelist entry",
			})
			return
		}

		c.JSON(http.StatusOK, entry)
	}
}

// DeleteWhitelistEntryHandler removes an entry
// DELETE /api/v1/apps/:id/whitelist/:entry_id
func (h *WhitelistHandlers) DeleteWhitelistEntryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		app, ok := targetApp(c)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "App not found"})
			return
		}

		found, err := h.repo.Delete(c.Request.Context(), app.ID, c.Param("entry_id"))
		if err != nil {
			slog.Error("failed to delete whitelist entry", "app_id", app.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to delete whitelist entry",
			})
			return
		}
		if !found {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Whitelist entry not found",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"message": "Whitelist entry deleted",
		})
	}
}
