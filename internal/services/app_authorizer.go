// Package services implements business logic that coordinates across repositories and the
// lower-level auth and netpolicy packages.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/helpdesk-io/helpdesk/internal/auth"
	"github.com/helpdesk-io/helpdesk/internal/db/models"
	"github.com/helpdesk-io/helpdesk/internal/netpolicy"
	"github.com/helpdesk-io/helpdesk/internal/telemetry"
)

// Authorization outcomes. Callers distinguish them with errors.Is; any other error returned
// by Authorize is an infrastructure failure.
var (
	ErrInvalidCredential   = errors.New("invalid API key")
	ErrApplicationDisabled = errors.New("application is disabled")
	ErrNetworkNotAllowed   = errors.New("client network is not allowed")
)

// Reason labels recorded on app_auth_attempts_total.
const (
	reasonOK                = "ok"
	reasonInvalidCredential = "invalid_credential"
	reasonUnknownKey        = "unknown_key"
	reasonRevokedKey        = "revoked_key"
	reasonExpiredKey        = "expired_key"
	reasonAppDisabled       = "application_disabled"
	reasonNetworkNotAllowed = "network_not_allowed"
	reasonStoreError        = "store_error"
)

const defaultLastUsedTimeout = 2 * time.Second

// CredentialStore is the persistence the authorizer needs. *repositories.AppAPIKeyRepository
// satisfies it.
type CredentialStore interface {
	// ListActiveCandidates returns every active, unexpired key with its owning app and the
	// app's active whitelist rows attached, in one read. A non-empty keyPrefix narrows the
	// result to keys with that display prefix.
	ListActiveCandidates(ctx context.Context, now time.Time, keyPrefix string) ([]*models.AppAPIKey, error)
	UpdateLastUsed(ctx context.Context, keyID, clientIP string, usedAt time.Time) error
}

// CredentialClassifier is optionally implemented by a CredentialStore to explain why a
// presented key failed to match. It is consulted only when failure classification is on.
type CredentialClassifier interface {
	FindByPrefix(ctx context.Context, keyPrefix string) ([]*models.AppAPIKey, error)
}

// AuthorizedContext is the result of a successful authorization.
type AuthorizedContext struct {
	App        *models.App
	Credential *models.AppAPIKey
}

// AppAuthorizerOptions tunes an AppAuthorizer.
type AppAuthorizerOptions struct {
	// PrefixLookup loads only keys whose display prefix equals the presented key's.
	PrefixLookup bool
	// ClassifyFailures re-checks prefix-matched records after a failed match to tell
	// unknown, revoked and expired keys apart. The result reaches logs and metrics only.
	ClassifyFailures bool
	// LastUsedTimeout bounds the bookkeeping write. Zero uses 2s.
	LastUsedTimeout time.Duration
}

// AppAuthorizer decides whether a request carrying an app key may proceed.
type AppAuthorizer struct {
	store CredentialStore
	opts  AppAuthorizerOptions
	now   func() time.Time
}

// NewAppAuthorizer creates an authorizer backed by store.
func NewAppAuthorizer(store CredentialStore, opts AppAuthorizerOptions) *AppAuthorizer {
	if opts.LastUsedTimeout <= 0 {
		opts.LastUsedTimeout = defaultLastUsedTimeout
	}
	return &AppAuthorizer{store: store, opts: opts, now: time.Now}
}

// Authorize checks presentedKey and clientIP in a fixed order: credential match, app
// active, network policy. The first failing check decides the error. On success the key's
// last-used time and address are recorded; a failure there is logged and never returned.
func (a *AppAuthorizer) Authorize(ctx context.Context, presentedKey, clientIP string) (*AuthorizedContext, error) {
	now := a.now()
	prefix := auth.DisplayPrefix(presentedKey)

	lookupPrefix := ""
	if a.opts.PrefixLookup {
		lookupPrefix = prefix
	}

	candidates, err := a.store.ListActiveCandidates(ctx, now, lookupPrefix)
	if err != nil {
		telemetry.AppAuthAttemptsTotal.WithLabelValues(telemetry.OutcomeError, reasonStoreError).Inc()
		return nil, fmt.Errorf("failed to load app credentials: %w", err)
	}

	usable := make([]*models.AppAPIKey, 0, len(candidates))
	for _, c := range candidates {
		if c != nil && c.Usable(now) {
			usable = append(usable, c)
		}
	}
	telemetry.AppAuthCandidates.Observe(float64(len(usable)))

	start := time.Now()
	cred, ok := auth.FindMatch(presentedKey, usable)
	telemetry.AppAuthKeyCompareDuration.Observe(time.Since(start).Seconds())

	if !ok {
		reason := reasonInvalidCredential
		if a.opts.ClassifyFailures {
			reason = a.classify(ctx, presentedKey, prefix, now)
		}
		a.deny(reason, prefix, clientIP)
		return nil, ErrInvalidCredential
	}

	app := cred.App
	if app == nil {
		telemetry.AppAuthAttemptsTotal.WithLabelValues(telemetry.OutcomeError, reasonStoreError).Inc()
		return nil, fmt.Errorf("app key %s loaded without its app", cred.ID)
	}

	if !app.Active {
		a.deny(reasonAppDisabled, prefix, clientIP, "app_id", app.ID, "api_key_id", cred.ID)
		return nil, ErrApplicationDisabled
	}

	if !netpolicy.IsAdmitted(clientIP, whitelistEntries(app)) {
		a.deny(reasonNetworkNotAllowed, prefix, clientIP, "app_id", app.ID, "api_key_id", cred.ID)
		return nil, ErrNetworkNotAllowed
	}

	a.recordLastUsed(ctx, cred, clientIP, now)
	telemetry.AppAuthAttemptsTotal.WithLabelValues(telemetry.OutcomeGranted, reasonOK).Inc()

	return &AuthorizedContext{App: app, Credential: cred}, nil
}

// whitelistEntries parses the app's whitelist rows. Malformed rows stay in the list as
// non-admitting entries.
func whitelistEntries(app *models.App) []netpolicy.Entry {
	rows := make([]*models.AppWhitelistEntry, 0, len(app.Whitelist))
	specs := make([]string, 0, len(app.Whitelist))
	for _, row := range app.Whitelist {
		if row != nil {
			rows = append(rows, row)
			specs = append(specs, row.Network)
		}
	}

	entries, errs := netpolicy.ParseEntries(specs)
	for i, row := range rows {
		if errs[i] != nil {
			slog.Warn("ignoring malformed whitelist entry", "app_id", app.ID, "entry_id", row.ID,
				"kind", entries[i].Kind.String(), "error", errs[i])
		}
		entries[i].Active = row.Active
	}
	return entries
}

func (a *AppAuthorizer) recordLastUsed(ctx context.Context, cred *models.AppAPIKey, clientIP string, now time.Time) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.opts.LastUsedTimeout)
	defer cancel()

	if err := a.store.UpdateLastUsed(writeCtx, cred.ID, clientIP, now); err != nil {
		telemetry.AppKeyLastUsedWriteFailuresTotal.Inc()
		slog.Warn("failed to record app key usage", "api_key_id", cred.ID, "error", err)
		return
	}
	cred.LastUsedAt = &now
	ip := clientIP
	cred.LastUsedIP = &ip
}

// classify explains a failed match by comparing the key against every stored record with the
// same display prefix, including revoked and expired ones.
func (a *AppAuthorizer) classify(ctx context.Context, presentedKey, prefix string, now time.Time) string {
	classifier, ok := a.store.(CredentialClassifier)
	if !ok || presentedKey == "" {
		return reasonUnknownKey
	}
	records, err := classifier.FindByPrefix(ctx, prefix)
	if err != nil {
		slog.Debug("failure classification lookup failed", "error", err)
		return reasonInvalidCredential
	}
	for _, r := range records {
		if r == nil || r.KeyHash == "" || !auth.ValidateAPIKey(presentedKey, r.KeyHash) {
			continue
		}
		switch {
		case !r.Active:
			return reasonRevokedKey
		case r.IsExpired(now):
			return reasonExpiredKey
		}
	}
	return reasonUnknownKey
}

func (a *AppAuthorizer) deny(reason, prefix, clientIP string, attrs ...any) {
	telemetry.AppAuthAttemptsTotal.WithLabelValues(telemetry.OutcomeDenied, reason).Inc()
	args := append([]any{"reason", reason, "key_prefix", prefix, "client_ip", clientIP}, attrs...)
	slog.Info("app authorization denied", args...)
}
