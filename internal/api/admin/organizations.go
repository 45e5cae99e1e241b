// organizations.go implements the organization endpoints. Organizations are helpdesk tenants:
// every app, and every operator, belongs to exactly one.
package admin

import (
	"database/sql"
	"errors"
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/helpdesk-io/helpdesk/internal/auth"
	"github.com/helpdesk-io/helpdesk/internal/db/models"
	"github.com/helpdesk-io/helpdesk/internal/db/repositories"
	"github.com/helpdesk-io/helpdesk/internal/middleware"
)

var orgNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{1,62}$`)

const maxDisplayNameLen = 200

// OrganizationHandlers handles organization endpoints
type OrganizationHandlers struct {
	orgRepo *repositories.OrganizationRepository
}

// NewOrganizationHandlers creates a new OrganizationHandlers instance
func NewOrganizationHandlers(db *sql.DB) *OrganizationHandlers {
	return &OrganizationHandlers{
		orgRepo: repositories.NewOrganizationRepository(sqlx.NewDb(db, "postgres")),
	}
}

// CreateOrganizationRequest is the body of POST /api/v1/organizations
type CreateOrganizationRequest struct {
	Name        string `json:"name" binding:"required"`
	DisplayName string `json:"display_name" binding:"required"`
}

// UpdateOrganizationRequest is the body of PATCH /api/v1/organizations/:id. The slug is
// immutable.
type UpdateOrganizationRequest struct {
	DisplayName string `json:"display_name" binding:"required"`
}

func validDisplayName(name string) bool {
	name = strings.TrimSpace(name)
	return name != "" && len(name) <= maxDisplayNameLen
}

// reachable reports whether the caller may see organization id.
func reachable(c *gin.Context, id string) bool {
	return id == c.GetString("organization_id") || auth.HasScope(callerScopes(c), auth.ScopeAdmin)
}

// ListOrganizationsHandler lists organizations, newest first
// GET /api/v1/organizations
func (h *OrganizationHandlers) ListOrganizationsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		page, perPage := pageParams(c, 20, 100)

		orgs, err := h.orgRepo.List(ctx, perPage, (page-1)*perPage)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list organizations"})
			return
		}
		total, err := h.orgRepo.Count(ctx)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to count organizations"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"organizations": orgs,
			"pagination":    paginationBody(page, perPage, total),
		})
	}
}

// GetOrganizationHandler returns one organization. Other tenants are reported as not found
// unless the caller is an admin.
// GET /api/v1/organizations/:id
func (h *OrganizationHandlers) GetOrganizationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if !reachable(c, id) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Organization not found"})
			return
		}

		org, err := h.orgRepo.GetByID(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get organization"})
			return
		}
		if org == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Organization not found"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"organization": org})
	}
}

// CreateOrganizationHandler creates an organization with a unique slug
// POST /api/v1/organizations
func (h *OrganizationHandlers) CreateOrganizationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateOrganizationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
			return
		}
		if !orgNamePattern.MatchString(req.Name) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Name must be a lowercase slug (letters, digits, hyphens)",
			})
			return
		}
		if !validDisplayName(req.DisplayName) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Display name must be 1-200 characters"})
			return
		}

		ctx := c.Request.Context()
		existing, err := h.orgRepo.GetByName(ctx, req.Name)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to check existing organization"})
			return
		}
		if existing != nil {
			c.JSON(http.StatusConflict, gin.H{"error": "Organization with this name already exists"})
			return
		}

		org := &models.Organization{
			Name:        req.Name,
			DisplayName: strings.TrimSpace(req.DisplayName),
		}
		if err := h.orgRepo.Create(ctx, org); err != nil {
			if errors.Is(err, repositories.ErrDuplicate) {
				c.JSON(http.StatusConflict, gin.H{"error": "Organization with this name already exists"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create organization"})
			return
		}

		c.Set(middleware.CreatedResourceKey, org.ID)
		c.JSON(http.StatusCreated, gin.H{"organization": org})
	}
}

// UpdateOrganizationHandler renames an organization's display name
// PATCH /api/v1/organizations/:id
func (h *OrganizationHandlers) UpdateOrganizationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if !reachable(c, id) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Organization not found"})
			return
		}

		var req UpdateOrganizationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
			return
		}
		if !validDisplayName(req.DisplayName) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Display name must be 1-200 characters"})
			return
		}

		ctx := c.Request.Context()
		updated, err := h.orgRepo.UpdateDisplayName(ctx, id, strings.TrimSpace(req.DisplayName))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update organization"})
			return
		}
		if !updated {
			c.JSON(http.StatusNotFound, gin.H{"error": "Organization not found"})
			return
		}

		org, err := h.orgRepo.GetByID(ctx, id)
		if err != nil || org == nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to reload organization"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"organization": org})
	}
}
