// apikeys.go implements handlers for issuing, listing, and revoking app API keys.
package admin

import (
	"database/sql"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/helpdesk-io/helpdesk/internal/auth"
	"github.com/helpdesk-io/helpdesk/internal/config"
	"github.com/helpdesk-io/helpdesk/internal/db/models"
	"github.com/helpdesk-io/helpdesk/internal/db/repositories"
	"github.com/helpdesk-io/helpdesk/internal/middleware"
)

// AppKeyHandlers handles app API key management endpoints
type AppKeyHandlers struct {
	cfg     *config.Config
	keyRepo *repositories.AppAPIKeyRepository
	now     func() time.Time
}

// NewAppKeyHandlers creates a new AppKeyHandlers instance
func NewAppKeyHandlers(cfg *config.Config, db *sql.DB) *AppKeyHandlers {
	return &AppKeyHandlers{
		cfg:     cfg,
		keyRepo: repositories.NewAppAPIKeyRepository(db),
		now:     time.Now,
	}
}

// CreateAppKeyRequest is the body of POST /api/v1/apps/:id/keys
type CreateAppKeyRequest struct {
	Name      string  `json:"name" binding:"required"`
	ExpiresAt *string `json:"expires_at"` // RFC3339 format
}

// CreateAppKeyResponse carries the plaintext key. It is the only response that ever does.
type CreateAppKeyResponse struct {
	ID        string     `json:"id"`
	AppID     string     `json:"app_id"`
	Name      string     `json:"name"`
	Key       string     `json:"key"` // Only returned once during creation
	KeyPrefix string     `json:"key_prefix"`
	ExpiresAt *time.Time `json:"expires_at"`
	CreatedAt time.Time  `json:"created_at"`
}

// keyStatus summarises a key for listings
func keyStatus(k *models.AppAPIKey, now time.Time) string {
	switch {
	case !k.Active:
		return "revoked"
	case k.IsExpired(now):
		return "expired"
	}
	return "active"
}

// ListAppKeysHandler lists every key of an app, including revoked and expired ones.
// Digests are never returned.
// GET /api/v1/apps/:id/keys
func (h *AppKeyHandlers) ListAppKeysHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		app, ok := targetApp(c)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "App not found"})
			return
		}

		keys, err := h.keyRepo.ListByApp(c.Request.Context(), app.ID)
		if err != nil {
			slog.Error("failed to list app keys", "app_id", app.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to list API keys",
			})
			return
		}

		now := h.now()
		resp := make([]gin.H, 0, len(keys))
		for _, k := range keys {
			var expiresAt, lastUsed interface{}
			if k.ExpiresAt != nil {
				expiresAt = k.ExpiresAt.Format(time.RFC3339)
			}
			if k.LastUsedAt != nil {
				lastUsed = k.LastUsedAt.Format(time.RFC3339)
			}

			resp = append(resp, gin.H{
				"id":           k.ID,
				"name":         k.Name,
				"key_prefix":   k.KeyPrefix,
				"status":       keyStatus(k, now),
				"expires_at":   expiresAt,
				"last_used_at": lastUsed,
				"last_used_ip": k.LastUsedIP,
				"created_at":   k.CreatedAt.Format(time.RFC3339),
			})
		}

		c.JSON(http.StatusOK, gin.H{
			"keys": resp,
		})
	}
}

// CreateAppKeyHandler issues a new key for an app and returns the plaintext once
// POST /api/v1/apps/:id/keys
func (h *AppKeyHandlers) CreateAppKeyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		app, ok := targetApp(c)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "App not found"})
			return
		}

		var req CreateAppKeyRequest
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

		var expiresAt *time.Time
		if req.ExpiresAt != nil && *req.ExpiresAt != "" {
			t, err := time.Parse(time.RFC3339, *req.ExpiresAt)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{
					"error": "Invalid expires_at format, use RFC3339",
				})
				return
			}
			if !t.After(h.now()) {
				c.JSON(http.StatusBadRequest, gin.H{
					"error": "expires_at must be in the future",
				})
				return
			}
			expiresAt = &t
		}

		issued, err := auth.GenerateAPIKey(h.cfg.Auth.AppKeys.Tag, h.cfg.Auth.AppKeys.BcryptCost)
		if err != nil {
			slog.Error("failed to generate app key", "app_id", app.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to generate API key",
			})
			return
		}

		key := &models.AppAPIKey{
			AppID:     app.ID,
			Name:      req.Name,
			KeyHash:   issued.Hash,
			KeyPrefix: issued.DisplayPrefix,
			ExpiresAt: expiresAt,
		}
		if userID := c.GetString("user_id"); userID != "" {
			key.CreatedBy = &userID
		}

		if err := h.keyRepo.Create(c.Request.Context(), key); err != nil {
			slog.Error("failed to store app key", "app_id", app.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to create API key",
			})
			return
		}

		slog.Info("app key issued", "app_id", app.ID, "key_id", key.ID, "issued", issued)

		c.Set(middleware.CreatedResourceKey, key.ID)
		c.Header("Cache-Control", "no-store")
		c.JSON(http.StatusCreated, CreateAppKeyResponse{
			ID:        key.ID,
			AppID:     app.ID,
			Name:      key.Name,
			Key:       issued.Plaintext,
			KeyPrefix: key.KeyPrefix,
			ExpiresAt: key.ExpiresAt,
			CreatedAt: key.CreatedAt,
		})
	}
}

// RevokeAppKeyHandler deactivates a key. The row is kept for audit history.
// DELETE /api/v1/apps/:id/keys/:key_id
func (h *AppKeyHandlers) RevokeAppKeyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		app, ok := targetApp(c)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "App not found"})
			return
		}
		keyID := c.Param("key_id")

		key, err := h.keyRepo.GetByID(c.Request.Context(), keyID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to load API key",
			})
			return
		}
		if key == nil || key.AppID != app.ID {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "API key not found",
			})
			return
		}

		if _, err := h.keyRepo.Revoke(c.Request.Context(), key.ID); err != nil {
			slog.Error("failed to revoke app key", "key_id", key.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to revoke API key",
			})
			return
		}

		slog.Info("app key revoked", "app_id", app.ID, "key_id", key.ID, "key_prefix", key.KeyPrefix)
		c.JSON(http.StatusOK, gin.H{
			"message": "API key revoked",
		})
	}
}
