// Package audit emits structured records of security-relevant helpdesk events: app-key
// denials, key issuance and revocation, whitelist edits, and application state changes.
// Events go to the audit_logs table and, through the Shipper interface, to any number of
// external destinations (webhook, JSON-lines file) for a SIEM or log aggregator.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/helpdesk-io/helpdesk/internal/config"
)

// Outcome values for Event.Outcome.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeDenied    = "denied"
)

// Event is one shipped audit record. App-key denials carry Reason and leave UserID empty;
// operator mutations carry UserID and the affected resource.
type Event struct {
	Timestamp      time.Time      `json:"timestamp"`
	Action         string         `json:"action"`
	Outcome        string         `json:"outcome"`
	Reason         string         `json:"reason,omitempty"`
	RequestID      string         `json:"request_id,omitempty"`
	UserID         string         `json:"user_id,omitempty"`
	OrganizationID string         `json:"organization_id,omitempty"`
	AppID          string         `json:"app_id,omitempty"`
	APIKeyID       string         `json:"api_key_id,omitempty"`
	ResourceType   string         `json:"resource_type,omitempty"`
	ResourceID     string         `json:"resource_id,omitempty"`
	ClientIP       string         `json:"client_ip,omitempty"`
	AuthMethod     string         `json:"auth_method,omitempty"`
	StatusCode     int            `json:"status_code,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// OutcomeFor maps a response status, and the denial reason if any, to an Event outcome.
func OutcomeFor(status int, deniedReason string) string {
	switch {
	case deniedReason != "":
		return OutcomeDenied
	case status >= 400:
		return OutcomeFailed
	}
	return OutcomeSucceeded
}

// Shipper delivers events to one external destination.
type Shipper interface {
	Ship(ctx context.Context, event *Event) error
	Close() error
}

// Fanout delivers each event to every configured destination. The set of destinations is
// fixed at construction.
type Fanout struct {
	shippers []Shipper
}

// NewFanout builds a shipper for every enabled entry of cfg.Shippers. A nil cfg yields an
// empty Fanout.
func NewFanout(cfg *config.AuditConfig) (*Fanout, error) {
	f := &Fanout{}
	if cfg == nil {
		return f, nil
	}

	for i, sc := range cfg.Shippers {
		if !sc.Enabled {
			continue
		}
		s, err := newShipper(sc)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("audit shipper %d (%s): %w", i, sc.Type, err)
		}
		f.shippers = append(f.shippers, s)
	}
	return f, nil
}

func newShipper(sc config.AuditShipperConfig) (Shipper, error) {
	switch sc.Type {
	case "webhook":
		if sc.Webhook == nil {
			return nil, errors.New("webhook settings are required")
		}
		return NewWebhookShipper(sc.Webhook)
	case "file":
		if sc.File == nil {
			return nil, errors.New("file settings are required")
		}
		return NewFileShipper(sc.File)
	}
	return nil, fmt.Errorf("unknown shipper type %q", sc.Type)
}

// Len returns the number of active destinations.
func (f *Fanout) Len() int {
	return len(f.shippers)
}

// Ship hands the event to every destination. A failing destination does not stop delivery
// to the others; all failures are joined into the returned error.
func (f *Fanout) Ship(ctx context.Context, event *Event) error {
	var errs []error
	for _, s := range f.shippers {
		if err := s.Ship(ctx, event); err != nil {
			slog.Warn("audit shipper error", "action", event.Action, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close releases every destination.
func (f *Fanout) Close() error {
	var errs []error
	for _, s := range f.shippers {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
