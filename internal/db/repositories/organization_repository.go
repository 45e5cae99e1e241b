// organization_repository.go implements OrganizationRepository, providing database queries
// for creating, fetching, and listing helpdesk tenants.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/helpdesk-io/helpdesk/internal/db/models"
)

// OrganizationRepository handles database operations for organizations
type OrganizationRepository struct {
	db *sqlx.DB
}

// NewOrganizationRepository creates a new organization repository
func NewOrganizationRepository(db *sqlx.DB) *OrganizationRepository {
	return &OrganizationRepository{db: db}
}

const orgColumns = `id, name, display_name, created_at, updated_at`

// GetByID retrieves an organization by ID
func (r *OrganizationRepository) GetByID(ctx context.Context, id string) (*models.Organization, error) {
	return r.getBy(ctx, "id", id)
}

// GetByName retrieves an organization by its slug
func (r *OrganizationRepository) GetByName(ctx context.Context, name string) (*models.Organization, error) {
	return r.getBy(ctx, "name", name)
}

// getBy loads one organization by a unique column. column is never caller input.
func (r *OrganizationRepository) getBy(ctx context.Context, column, value string) (*models.Organization, error) {
	var org models.Organization
	query := `SELECT ` + orgColumns + ` FROM organizations WHERE ` + column + ` = $1`
	err := r.db.GetContext(ctx, &org, query, value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	return &org, nil
}

// List retrieves a page of organizations, newest first
func (r *OrganizationRepository) List(ctx context.Context, limit, offset int) ([]*models.Organization, error) {
	orgs := make([]*models.Organization, 0)
	query := `SELECT ` + orgColumns + ` FROM organizations ORDER BY created_at DESC LIMIT $1 OFFSET $2`
	if err := r.db.SelectContext(ctx, &orgs, query, limit, offset); err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}
	return orgs, nil
}

// Create inserts a new organization
func (r *OrganizationRepository) Create(ctx context.Context, org *models.Organization) error {
	now := time.Now()
	org.ID = uuid.New().String()
	org.CreatedAt = now
	org.UpdatedAt = now

	query := `
		INSERT INTO organizations (id, name, display_name, created_at, updated_at)
		VALUES (:id, :name, :display_name, :created_at, :updated_at)
	`
	if _, err := r.db.NamedExecContext(ctx, query, org); err != nil {
		return writeError("failed to create organization", err)
	}
	return nil
}

// Count returns the number of organizations
func (r *OrganizationRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM organizations`); err != nil {
		return 0, fmt.Errorf("failed to count organizations: %w", err)
	}
	return n, nil
}

// UpdateDisplayName renames an organization. It reports false when no organization has the ID.
func (r *OrganizationRepository) UpdateDisplayName(ctx context.Context, id, displayName string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE organizations SET display_name = $2, updated_at = NOW() WHERE id = $1`, id, displayName)
	if err != nil {
		return false, fmt.Errorf("failed to update organization: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to update organization: %w", err)
	}
	return n > 0, nil
}

// Summaries counts apps, usable keys and active whitelist entries for every organization,
// ordered by name.
func (r *OrganizationRepository) Summaries(ctx context.Context) ([]*models.OrganizationSummary, error) {
	query := `
		SELECT o.name,
		       COUNT(DISTINCT a.id) AS apps,
		       COUNT(DISTINCT a.id) FILTER (WHERE a.is_active) AS active_apps,
		       COUNT(DISTINCT k.id) FILTER (WHERE k.is_active AND (k.expires_at IS NULL OR k.expires_at > NOW())) AS usable_keys,
		       COUNT(DISTINCT w.id) FILTER (WHERE w.is_active) AS whitelist_entries
		FROM organizations o
		LEFT JOIN apps a ON a.organization_id = o.id
		LEFT JOIN app_api_keys k ON k.app_id = a.id
		LEFT JOIN app_ip_whitelist w ON w.app_id = a.id
		GROUP BY o.name
		ORDER BY o.name
	`
	summaries := make([]*models.OrganizationSummary, 0)
	if err := r.db.SelectContext(ctx, &summaries, query); err != nil {
		return nil, fmt.Errorf("failed to summarize organizations: %w", err)
	}
	return summaries, nil
}
