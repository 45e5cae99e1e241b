// whitelist_repository.go implements WhitelistRepository, providing database queries for the
// per-app IP whitelist managed by operators.
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

const whitelistColumns = `id, app_id, network, label, is_active, created_at`

// WhitelistRepository handles database operations for app whitelist entries
type WhitelistRepository struct {
	db *sqlx.DB
}

// NewWhitelistRepository creates a new whitelist repository
func NewWhitelistRepository(db *sqlx.DB) *WhitelistRepository {
	return &WhitelistRepository{db: db}
}

// Create inserts a whitelist entry. The caller validates Network beforehand.
func (r *WhitelistRepository) Create(ctx context.Context, entry *models.AppWhitelistEntry) error {
	entry.ID = uuid.New().String()
	entry.CreatedAt = time.Now()

	query := `
		INSERT INTO app_ip_whitelist (` + whitelistColumns + `)
		VALUES (:id, :app_id, :network, :label, :is_active, :created_at)
	`
	if _, err := r.db.NamedExecContext(ctx, query, entry); err != nil {
		return writeError("failed to create whitelist entry", err)
	}
	return nil
}

// GetByID retrieves a whitelist entry scoped to its app
func (r *WhitelistRepository) GetByID(ctx context.Context, appID, entryID string) (*models.AppWhitelistEntry, error) {
	var entry models.AppWhitelistEntry
	query := `SELECT ` + whitelistColumns + ` FROM app_ip_whitelist WHERE id = $1 AND app_id = $2`
	err := r.db.GetContext(ctx, &entry, query, entryID, appID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get whitelist entry: %w", err)
	}
	return &entry, nil
}

// ListByApp lists every entry of an app, active or not, oldest first
func (r *WhitelistRepository) ListByApp(ctx context.Context, appID string) ([]*models.AppWhitelistEntry, error) {
	entries := make([]*models.AppWhitelistEntry, 0)
	query := `SELECT ` + whitelistColumns + ` FROM app_ip_whitelist WHERE app_id = $1 ORDER BY created_at, id`
	if err := r.db.SelectContext(ctx, &entries, query, appID); err != nil {
		return nil, fmt.Errorf("failed to list whitelist entries: %w", err)
	}
	return entries, nil
}

// Update saves an entry's active flag and label
func (r *WhitelistRepository) Update(ctx context.Context, entry *models.AppWhitelistEntry) error {
	query := `UPDATE app_ip_whitelist SET is_active = $3, label = $4 WHERE id = $1 AND app_id = $2`
	if _, err := r.db.ExecContext(ctx, query, entry.ID, entry.AppID, entry.Active, entry.Label); err != nil {
		return fmt.Errorf("failed to update whitelist entry: %w", err)
	}
	return nil
}

// Delete removes an entry. It reports false when nothing matched.
func (r *WhitelistRepository) Delete(ctx context.Context, appID, entryID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM app_ip_whitelist WHERE id = $1 AND app_id = $2`, entryID, appID)
	if err != nil {
		return false, fmt.Errorf("failed to delete whitelist entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to delete whitelist entry: %w", err)
	}
	return n > 0, nil
}
