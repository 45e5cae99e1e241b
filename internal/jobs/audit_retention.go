package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/helpdesk-io/helpdesk/internal/telemetry"
)

const (
	retentionInterval = 6 * time.Hour
	purgeBatchSize    = 5000
)

// AuditPurger deletes stored audit entries. *repositories.AuditRepository satisfies it.
type AuditPurger interface {
	PurgeOlderThan(ctx context.Context, cutoff time.Time, batch int) (int64, error)
}

// AuditRetention periodically deletes audit entries older than the retention window.
type AuditRetention struct {
	store    AuditPurger
	keep     time.Duration
	interval time.Duration
	now      func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
}

// NewAuditRetention returns a job keeping retentionDays of history. Zero days disables it.
func NewAuditRetention(store AuditPurger, retentionDays int) *AuditRetention {
	return &AuditRetention{
		store:    store,
		keep:     time.Duration(retentionDays) * 24 * time.Hour,
		interval: retentionInterval,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
}

// Start purges once immediately and then every six hours until ctx is cancelled or Stop is
// called.
func (r *AuditRetention) Start(ctx context.Context) {
	if r.keep <= 0 {
		slog.Info("audit retention disabled", "reason", "audit.retention_days=0")
		return
	}
	slog.Info("audit retention started", "keep", r.keep, "interval", r.interval)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		r.purge(ctx)
		select {
		case <-ticker.C:
		case <-r.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop ends the loop. It is safe to call more than once.
func (r *AuditRetention) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

// purge deletes in batches until a short batch shows nothing older remains.
func (r *AuditRetention) purge(ctx context.Context) int64 {
	cutoff := r.now().Add(-r.keep)
	var total int64
	for {
		n, err := r.store.PurgeOlderThan(ctx, cutoff, purgeBatchSize)
		total += n
		telemetry.AuditLogsPurgedTotal.Add(float64(n))
		if err != nil {
			slog.Error("audit retention: purge failed", "cutoff", cutoff, "deleted", total, "error", err)
			return total
		}
		if n < purgeBatchSize || ctx.Err() != nil {
			break
		}
	}
	if total > 0 {
		slog.Info("audit retention: purged old entries", "cutoff", cutoff, "deleted", total)
	}
	return total
}
