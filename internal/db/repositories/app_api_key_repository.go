// app_api_key_repository.go implements AppAPIKeyRepository, providing database queries for app
// key issuance, revocation, the authentication bulk read, last-used bookkeeping, and expiry
// notification tracking.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/helpdesk-io/helpdesk/internal/db/models"
)

const appKeyColumns = `id, app_id, name, key_hash, key_prefix, is_active, expires_at,
		last_used_at, last_used_ip, expiry_notification_sent_at, created_by, created_at`

// AppAPIKeyRepository handles app API key database operations
type AppAPIKeyRepository struct {
	db *sql.DB
}

// NewAppAPIKeyRepository creates a new AppAPIKeyRepository
func NewAppAPIKeyRepository(db *sql.DB) *AppAPIKeyRepository {
	return &AppAPIKeyRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAppKey(row rowScanner, k *models.AppAPIKey, extra ...any) error {
	dest := []any{
		&k.ID,
		&k.AppID,
		&k.Name,
		&k.KeyHash,
		&k.KeyPrefix,
		&k.Active,
		&k.ExpiresAt,
		&k.LastUsedAt,
		&k.LastUsedIP,
		&k.ExpiryNotificationSentAt,
		&k.CreatedBy,
		&k.CreatedAt,
	}
	return row.Scan(append(dest, extra...)...)
}

// Create stores a newly issued key. Only the digest and display prefix are persisted.
func (r *AppAPIKeyRepository) Create(ctx context.Context, key *models.AppAPIKey) error {
	key.ID = uuid.New().String()
	key.CreatedAt = time.Now()
	key.Active = true

	query := `
		INSERT INTO app_api_keys (id, app_id, name, key_hash, key_prefix, is_active, expires_at, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.ExecContext(ctx, query,
		key.ID,
		key.AppID,
		key.Name,
		key.KeyHash,
		key.KeyPrefix,
		key.Active,
		key.ExpiresAt,
		key.CreatedBy,
		key.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create app key: %w", err)
	}
	return nil
}

// GetByID retrieves a key by ID
func (r *AppAPIKeyRepository) GetByID(ctx context.Context, keyID string) (*models.AppAPIKey, error) {
	query := `SELECT ` + appKeyColumns + ` FROM app_api_keys WHERE id = $1`

	key := &models.AppAPIKey{}
	err := scanAppKey(r.db.QueryRowContext(ctx, query, keyID), key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get app key: %w", err)
	}
	return key, nil
}

// ListByApp lists every key of an app, including revoked and expired ones, newest first
func (r *AppAPIKeyRepository) ListByApp(ctx context.Context, appID string) ([]*models.AppAPIKey, error) {
	query := `SELECT ` + appKeyColumns + ` FROM app_api_keys WHERE app_id = $1 ORDER BY created_at DESC`
	return r.list(ctx, query, appID)
}

// FindByPrefix returns every key, in any state, sharing a display prefix
func (r *AppAPIKeyRepository) FindByPrefix(ctx context.Context, keyPrefix string) ([]*models.AppAPIKey, error) {
	query := `SELECT ` + appKeyColumns + ` FROM app_api_keys WHERE key_prefix = $1 ORDER BY created_at DESC`
	return r.list(ctx, query, keyPrefix)
}

func (r *AppAPIKeyRepository) list(ctx context.Context, query string, args ...any) ([]*models.AppAPIKey, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list app keys: %w", err)
	}
	defer rows.Close()

	keys := make([]*models.AppAPIKey, 0)
	for rows.Next() {
		k := &models.AppAPIKey{}
		if err := scanAppKey(rows, k); err != nil {
			return nil, fmt.Errorf("failed to scan app key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Revoke deactivates a key. Keys are never deleted so that audit history stays intact.
// It reports false when no key has the given ID.
func (r *AppAPIKeyRepository) Revoke(ctx context.Context, keyID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE app_api_keys SET is_active = false WHERE id = $1`, keyID)
	if err != nil {
		return false, fmt.Errorf("failed to revoke app key: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to revoke app key: %w", err)
	}
	return n > 0, nil
}

// ListActiveCandidates is the authentication bulk read. In one query it returns every key
// that is active and unexpired at now, each joined to its owning app (whatever the app's
// state) and that app's active whitelist entries. A non-empty keyPrefix narrows the read to
// keys sharing that display prefix. Keys of the same app share one *models.App.
func (r *AppAPIKeyRepository) ListActiveCandidates(ctx context.Context, now time.Time, keyPrefix string) ([]*models.AppAPIKey, error) {
	query := `
		SELECT k.id, k.app_id, k.name, k.key_hash, k.key_prefix, k.is_active, k.expires_at,
		       k.last_used_at, k.last_used_ip, k.expiry_notification_sent_at, k.created_by, k.created_at,
		       a.organization_id, a.name, a.is_active,
		       w.id, w.network, w.label, w.is_active, w.created_at
		FROM app_api_keys k
		JOIN apps a ON a.id = k.app_id
		LEFT JOIN app_ip_whitelist w ON w.app_id = a.id AND w.is_active = true
		WHERE k.is_active = true
		  AND (k.expires_at IS NULL OR k.expires_at > $1)
	`
	args := []any{now}
	if keyPrefix != "" {
		query += ` AND k.key_prefix = $2`
		args = append(args, keyPrefix)
	}
	query += ` ORDER BY k.created_at DESC, k.id, w.created_at, w.id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load app key candidates: %w", err)
	}
	defer rows.Close()

	keys := make([]*models.AppAPIKey, 0)
	byKey := make(map[string]*models.AppAPIKey)
	apps := make(map[string]*models.App)
	seenEntries := make(map[string]bool)

	for rows.Next() {
		var (
			k         models.AppAPIKey
			orgID     string
			appName   string
			appActive bool
			wID       sql.NullString
			wNetwork  sql.NullString
			wLabel    sql.NullString
			wActive   sql.NullBool
			wCreated  sql.NullTime
		)
		if err := scanAppKey(rows, &k,
			&orgID, &appName, &appActive,
			&wID, &wNetwork, &wLabel, &wActive, &wCreated,
		); err != nil {
			return nil, fmt.Errorf("failed to scan app key candidate: %w", err)
		}

		app, ok := apps[k.AppID]
		if !ok {
			app = &models.App{ID: k.AppID, OrganizationID: orgID, Name: appName, Active: appActive}
			apps[k.AppID] = app
		}

		if _, ok := byKey[k.ID]; !ok {
			key := k
			key.App = app
			byKey[k.ID] = &key
			keys = append(keys, &key)
		}

		if wID.Valid && !seenEntries[wID.String] {
			seenEntries[wID.String] = true
			entry := &models.AppWhitelistEntry{
				ID:        wID.String,
				AppID:     app.ID,
				Network:   wNetwork.String,
				Active:    wActive.Bool,
				CreatedAt: wCreated.Time,
			}
			if wLabel.Valid {
				label := wLabel.String
				entry.Label = &label
			}
			app.Whitelist = append(app.Whitelist, entry)
		}
	}

	return keys, rows.Err()
}

// UpdateLastUsed records when and from where a key last authenticated
func (r *AppAPIKeyRepository) UpdateLastUsed(ctx context.Context, keyID, clientIP string, usedAt time.Time) error {
	query := `UPDATE app_api_keys SET last_used_at = $2, last_used_ip = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, keyID, usedAt, clientIP); err != nil {
		return fmt.Errorf("failed to update app key last used: %w", err)
	}
	return nil
}

// FindExpiringKeys returns active keys that will expire within warningDays days and have not
// yet had a notification sent. Only keys with a recorded issuer are returned so the caller can
// look up an email address.
func (r *AppAPIKeyRepository) FindExpiringKeys(ctx context.Context, warningDays int) ([]*models.AppAPIKey, error) {
	cutoff := time.Now().Add(time.Duration(warningDays) * 24 * time.Hour)
	query := `
		SELECT ` + appKeyColumns + `
		FROM app_api_keys
		WHERE is_active = true
		  AND expires_at IS NOT NULL
		  AND expires_at > NOW()
		  AND expires_at <= $1
		  AND expiry_notification_sent_at IS NULL
		  AND created_by IS NOT NULL
		ORDER BY expires_at ASC
	`
	return r.list(ctx, query, cutoff)
}

// MarkExpiryNotificationSent records that the expiry warning was sent for a key,
// preventing duplicate emails on subsequent job runs.
func (r *AppAPIKeyRepository) MarkExpiryNotificationSent(ctx context.Context, keyID string) error {
	query := `UPDATE app_api_keys SET expiry_notification_sent_at = $1 WHERE id = $2`
	if _, err := r.db.ExecContext(ctx, query, time.Now(), keyID); err != nil {
		return fmt.Errorf("failed to mark expiry notification: %w", err)
	}
	return nil
}
