// auth.go implements operator session handlers: password login, token refresh, and the
// current-operator endpoint.
package admin

import (
	"database/sql"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/helpdesk-io/helpdesk/internal/auth"
	"github.com/helpdesk-io/helpdesk/internal/config"
	"github.com/helpdesk-io/helpdesk/internal/db/models"
	"github.com/helpdesk-io/helpdesk/internal/db/repositories"
)

const defaultSessionTTL = 8 * time.Hour

// AuthHandlers handles operator authentication endpoints
type AuthHandlers struct {
	cfg      *config.Config
	userRepo *repositories.UserRepository
}

// NewAuthHandlers creates a new AuthHandlers instance
func NewAuthHandlers(cfg *config.Config, db *sql.DB) *AuthHandlers {
	return &AuthHandlers{
		cfg:      cfg,
		userRepo: repositories.NewUserRepository(db),
	}
}

// LoginRequest is the body of POST /api/v1/auth/login
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

var (
	dummyHashOnce sync.Once
	dummyHash     []byte
)

// compareDummy spends the same bcrypt work as a real comparison so unknown emails are not
// distinguishable by latency.
func compareDummy(password string) {
	dummyHashOnce.Do(func() {
		dummyHash, _ = bcrypt.GenerateFromPassword([]byte("helpdesk-dummy-password"), bcrypt.DefaultCost)
	})
	_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
}

func (h *AuthHandlers) sessionTTL() time.Duration {
	if h.cfg != nil && h.cfg.Auth.JWT.SessionTTL > 0 {
		return h.cfg.Auth.JWT.SessionTTL
	}
	return defaultSessionTTL
}

func sessionFor(user *models.User) auth.Session {
	return auth.Session{
		UserID:         user.ID,
		Email:          user.Email,
		OrganizationID: user.OrganizationID,
		Scopes:         user.Scopes(),
	}
}

// LoginHandler authenticates an operator by email and password
// POST /api/v1/auth/login
func (h *AuthHandlers) LoginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid request",
			})
			return
		}
		email := strings.ToLower(strings.TrimSpace(req.Email))

		user, err := h.userRepo.GetUserByEmail(c.Request.Context(), email)
		if err != nil {
			slog.Error("failed to look up operator", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Login failed",
			})
			return
		}
		if user == nil {
			compareDummy(req.Password)
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid email or password",
			})
			return
		}
		if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil || !user.Active {
			slog.Info("operator login rejected", "user_id", user.ID, "active", user.Active)
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid email or password",
			})
			return
		}

		ttl := h.sessionTTL()
		token, err := auth.IssueSession(sessionFor(user), ttl)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to generate token",
			})
			return
		}

		c.Set("user_id", user.ID)
		c.Set("organization_id", user.OrganizationID)
		c.JSON(http.StatusOK, gin.H{
			"token":      token,
			"expires_in": int(ttl.Seconds()),
		})
	}
}

// RefreshHandler exchanges a valid session for a fresh one
// POST /api/v1/auth/refresh
// Authorization: Bearer <existing_jwt>
func (h *AuthHandlers) RefreshHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("user_id")
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "User not authenticated",
			})
			return
		}

		user, err := h.userRepo.GetUserByID(c.Request.Context(), userID)
		if err != nil || user == nil || !user.Active {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "User not found",
			})
			return
		}

		ttl := h.sessionTTL()
		newToken, err := auth.IssueSession(sessionFor(user), ttl)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to generate new token",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"token":      newToken,
			"expires_in": int(ttl.Seconds()),
		})
	}
}

// MeHandler returns the current operator and the scopes their role grants
// GET /api/v1/auth/me
func (h *AuthHandlers) MeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("user_id")
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "User not authenticated",
			})
			return
		}

		user, err := h.userRepo.GetUserByID(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to get user information",
			})
			return
		}
		if user == nil {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "User not found",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"user": gin.H{
				"id":              user.ID,
				"email":           user.Email,
				"name":            user.Name,
				"role":            user.Role,
				"organization_id": user.OrganizationID,
				"created_at":      user.CreatedAt,
				"updated_at":      user.UpdatedAt,
			},
			"allowed_scopes": user.Scopes(),
		})
	}
}
