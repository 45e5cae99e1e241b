// api_key_expiry_notifier.go implements the APIKeyExpiryNotifier background job, which
// periodically scans for app keys approaching their expiry date and emails the operator who
// issued them. Notification state is persisted in the database (expiry_notification_sent_at)
// so each key is announced once, across restarts. The job is a no-op when
// notifications.enabled is false or the SMTP host is not configured.
package jobs

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strings"
	"sync"
	"time"

	"github.com/helpdesk-io/helpdesk/internal/config"
	"github.com/helpdesk-io/helpdesk/internal/db/models"
	"github.com/helpdesk-io/helpdesk/internal/telemetry"
)

// ExpiringKeyStore is the key persistence the notifier needs.
// *repositories.AppAPIKeyRepository satisfies it.
type ExpiringKeyStore interface {
	FindExpiringKeys(ctx context.Context, warningDays int) ([]*models.AppAPIKey, error)
	MarkExpiryNotificationSent(ctx context.Context, keyID string) error
}

// OperatorLookup resolves the issuing operator. *repositories.UserRepository satisfies it.
type OperatorLookup interface {
	GetUserByID(ctx context.Context, userID string) (*models.User, error)
}

// mailFunc delivers one message to one recipient.
type mailFunc func(cfg *config.SMTPConfig, to, subject, body string) error

// APIKeyExpiryNotifier periodically emails operators whose app keys are about to expire.
type APIKeyExpiryNotifier struct {
	keys     ExpiringKeyStore
	users    OperatorLookup
	cfg      *config.NotificationsConfig
	interval time.Duration
	send     mailFunc
	stopOnce sync.Once
	stopChan chan struct{}
}

// NewAPIKeyExpiryNotifier creates a new APIKeyExpiryNotifier.
// The check interval comes from cfg.APIKeyExpiryCheckIntervalHours (default 24h).
func NewAPIKeyExpiryNotifier(keys ExpiringKeyStore, users OperatorLookup, cfg *config.NotificationsConfig) *APIKeyExpiryNotifier {
	hours := cfg.APIKeyExpiryCheckIntervalHours
	if hours <= 0 {
		hours = 24
	}
	return &APIKeyExpiryNotifier{
		keys:     keys,
		users:    users,
		cfg:      cfg,
		interval: time.Duration(hours) * time.Hour,
		send:     sendSMTP,
		stopChan: make(chan struct{}),
	}
}

// Start runs an initial check immediately, then repeats on the configured interval.
// It blocks until ctx is cancelled or Stop is called.
func (n *APIKeyExpiryNotifier) Start(ctx context.Context) {
	if !n.cfg.Enabled {
		slog.Info("app key expiry notifier disabled", "reason", "notifications.enabled=false")
		return
	}
	if n.cfg.SMTP.Host == "" {
		slog.Info("app key expiry notifier disabled", "reason", "notifications.smtp.host not set")
		return
	}

	ticker := time.NewTicker(n.interval)
	defer ticker.Stop()

	slog.Info("app key expiry notifier started",
		"interval", n.interval, "warning_days", n.warningDays())

	n.runCheck(ctx)

	for {
		select {
		case <-ticker.C:
			n.runCheck(ctx)
		case <-n.stopChan:
			slog.Info("app key expiry notifier stopped")
			return
		case <-ctx.Done():
			slog.Info("app key expiry notifier context cancelled")
			return
		}
	}
}

// Stop signals the background loop to exit. It is safe to call more than once.
func (n *APIKeyExpiryNotifier) Stop() {
	n.stopOnce.Do(func() { close(n.stopChan) })
}

func (n *APIKeyExpiryNotifier) warningDays() int {
	if n.cfg.APIKeyExpiryWarningDays <= 0 {
		return 7
	}
	return n.cfg.APIKeyExpiryWarningDays
}

// runCheck queries for expiring keys and sends one email per key. A key is only marked
// notified after its email was handed to the mail server.
func (n *APIKeyExpiryNotifier) runCheck(ctx context.Context) {
	keys, err := n.keys.FindExpiringKeys(ctx, n.warningDays())
	if err != nil {
		slog.Error("app key expiry notifier: failed to query expiring keys", "error", err)
		return
	}
	if len(keys) == 0 {
		return
	}

	slog.Info("app key expiry notifier: keys approaching expiry", "count", len(keys))

	for _, key := range keys {
		if key.CreatedBy == nil || key.ExpiresAt == nil {
			continue
		}

		user, err := n.users.GetUserByID(ctx, *key.CreatedBy)
		if err != nil {
			slog.Error("app key expiry notifier: could not load operator",
				"user_id", *key.CreatedBy, "key_id", key.ID, "error", err)
			continue
		}
		if user == nil || user.Email == "" {
			continue
		}

		subject, body := expiryMessage(user.Name, key, time.Now())
		if err := n.send(&n.cfg.SMTP, user.Email, subject, body); err != nil {
			slog.Error("app key expiry notifier: failed to send email",
				"key_id", key.ID, "to", user.Email, "error", err)
			continue
		}
		telemetry.APIKeyExpiryNotificationsSentTotal.Inc()

		if err := n.keys.MarkExpiryNotificationSent(ctx, key.ID); err != nil {
			slog.Error("app key expiry notifier: failed to mark notification sent",
				"key_id", key.ID, "error", err)
		}
	}
}

// expiryMessage renders the warning email for key.
func expiryMessage(operatorName string, key *models.AppAPIKey, now time.Time) (subject, body string) {
	daysLeft := int(key.ExpiresAt.Sub(now).Hours()/24) + 1
	if daysLeft < 0 {
		daysLeft = 0
	}

	subject = fmt.Sprintf("Action Required: app API key '%s' expires in %d day(s)", key.Name, daysLeft)
	body = strings.Join([]string{
		fmt.Sprintf("Hello %s,", operatorName),
		"",
		fmt.Sprintf("The helpdesk API key '%s' (%s...) of app %s will expire on %s (%d day(s) from now).",
			key.Name, key.KeyPrefix, key.AppID, key.ExpiresAt.UTC().Format(time.RFC1123), daysLeft),
		"",
		"Once it expires, requests presenting this key are rejected as invalid credentials.",
		"To avoid an outage, issue a replacement key for the app and roll it out before that date.",
		"",
		"If the key is no longer needed, no action is required.",
		"",
		"Helpdesk",
	}, "\r\n")
	return subject, body
}

// sendSMTP delivers a plain-text message through the configured mail server.
func sendSMTP(cfg *config.SMTPConfig, to, subject, body string) error {
	headers := fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n",
		cfg.From, to, subject,
	)
	msg := []byte(headers + body + "\r\n")

	addr := net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port))
	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}

	if cfg.UseTLS {
		return sendMailTLS(addr, cfg.Host, auth, cfg.From, []string{to}, msg)
	}
	return smtp.SendMail(addr, auth, cfg.From, []string{to}, msg)
}

// sendMailTLS connects with implicit TLS (SMTPS) and falls back to smtp.SendMail, which
// upgrades with STARTTLS when the server offers it.
func sendMailTLS(addr, host string, auth smtp.Auth, from string, to []string, msg []byte) error {
	tlsConfig := &tls.Config{
		ServerName: host,
		MinVersion: tls.VersionTLS12,
	}

	conn, err := tls.Dial("tcp", addr, tlsConfig)
	if err != nil {
		return smtp.SendMail(addr, auth, from, to, msg)
	}
	defer conn.Close()

	c, err := smtp.NewClient(conn, host)
	if err != nil {
		return fmt.Errorf("smtp new client: %w", err)
	}
	defer c.Quit() //nolint:errcheck

	if auth != nil {
		if err := c.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := c.Mail(from); err != nil {
		return fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	for _, addr := range to {
		if err := c.Rcpt(addr); err != nil {
			return fmt.Errorf("smtp RCPT TO %s: %w", addr, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	return w.Close()
}
