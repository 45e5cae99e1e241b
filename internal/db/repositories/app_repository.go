// app_repository.go implements AppRepository, providing database queries for registering,
// listing, editing, and enabling or disabling helpdesk apps.
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

const appColumns = `id, organization_id, name, description, is_active, created_by, created_at, updated_at`

// AppRepository handles database operations for apps
type AppRepository struct {
	db *sqlx.DB
}

// NewAppRepository creates a new app repository
func NewAppRepository(db *sqlx.DB) *AppRepository {
	return &AppRepository{db: db}
}

// Create inserts a new app. New apps are active.
func (r *AppRepository) Create(ctx context.Context, app *models.App) error {
	now := time.Now()
	app.ID = uuid.New().String()
	app.Active = true
	app.CreatedAt = now
	app.UpdatedAt = now

	query := `
		INSERT INTO apps (` + appColumns + `)
		VALUES (:id, :organization_id, :name, :description, :is_active, :created_by, :created_at, :updated_at)
	`
	if _, err := r.db.NamedExecContext(ctx, query, app); err != nil {
		return writeError("failed to create app", err)
	}
	return nil
}

// GetByID retrieves an app by ID
func (r *AppRepository) GetByID(ctx context.Context, id string) (*models.App, error) {
	var app models.App
	query := `SELECT ` + appColumns + ` FROM apps WHERE id = $1`
	err := r.db.GetContext(ctx, &app, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get app: %w", err)
	}
	return &app, nil
}

// ListByOrganization lists an organization's apps by name
func (r *AppRepository) ListByOrganization(ctx context.Context, orgID string) ([]*models.App, error) {
	apps := make([]*models.App, 0)
	query := `SELECT ` + appColumns + ` FROM apps WHERE organization_id = $1 ORDER BY name`
	if err := r.db.SelectContext(ctx, &apps, query, orgID); err != nil {
		return nil, fmt.Errorf("failed to list apps: %w", err)
	}
	return apps, nil
}

// Update saves an app's name and description
func (r *AppRepository) Update(ctx context.Context, app *models.App) error {
	app.UpdatedAt = time.Now()
	query := `UPDATE apps SET name = $2, description = $3, updated_at = $4 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, app.ID, app.Name, app.Description, app.UpdatedAt); err != nil {
		return writeError("failed to update app", err)
	}
	return nil
}

// SetActive enables or disables an app. It reports false when no app has the given ID.
func (r *AppRepository) SetActive(ctx context.Context, id string, active bool) (bool, error) {
	query := `UPDATE apps SET is_active = $2, updated_at = $3 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, active, time.Now())
	if err != nil {
		return false, fmt.Errorf("failed to set app active state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to set app active state: %w", err)
	}
	return n > 0, nil
}
