// Package telemetry provides application-level observability for the helpdesk service.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// automatically available on the side-channel HTTP server started by cmd/server:
//
//	GET http(s)://<host>:<HDK_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090.  The endpoint returns data in the Prometheus text exposition
// format and is intended to be scraped by a Prometheus server every 15–60 seconds.
// It is NOT served by the Gin router.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - App API-key authentication outcomes, comparison latency and candidate set size
//   - Rate limiter rejections
//   - App key expiry notification counters
//   - Database pool gauges and wait counter (polled every 30 s)
//   - Panics recovered in background goroutines
//   - Audit log entries removed by retention
//
// # Label Cardinality
//
// HTTP metrics use c.FullPath() (route template such as /api/v1/apps/:id/keys)
// rather than the raw request URL.  Authentication metrics never carry an app ID,
// key ID or client address as a label.
package telemetry

import (
	"context"
	"database/sql"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics, labelled by API surface, method, route template, and status code.
// api is "external" for app traffic under /api/external, "admin" for the operator API
// under /api/v1, and "system" for everything else (health, readiness, unmatched routes).
//
// HTTPRequestsTotal is a CounterVec with labels {api, method, path, status}.
//
// Example PromQL queries:
//   - App traffic (req/s):   sum(rate(http_requests_total{api="external"}[5m]))
//   - App rejections (%):    sum(rate(http_requests_total{api="external",status=~"401|403"}[5m])) / sum(rate(http_requests_total{api="external"}[5m])) * 100
//
// HTTPRequestDuration is a HistogramVec with labels {api, method, path} and buckets
// from 5 ms to 30 s.
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by API surface, method, route template, and status code.",
		},
		[]string{"api", "method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by API surface, method, and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"api", "method", "path"},
	)
)

// App authentication outcome labels.
const (
	OutcomeGranted = "granted"
	OutcomeDenied  = "denied"
	OutcomeError   = "error"
)

// App API-key authentication metrics, recorded by the app authorizer.
//
// AppAuthAttemptsTotal is a CounterVec with labels {outcome, reason}.  outcome is one of
// granted, denied or error.  reason is "ok" for granted attempts, otherwise one of
// invalid_credential, unknown_key, revoked_key, expired_key, application_disabled,
// network_not_allowed or store_error.
//
// Example PromQL queries:
//   - Denial rate by reason:  sum by (reason) (rate(app_auth_attempts_total{outcome="denied"}[5m]))
//   - Alert on store errors:  increase(app_auth_attempts_total{outcome="error"}[10m]) > 0
//
// AppAuthKeyCompareDuration observes the wall time spent comparing the presented key
// against every candidate digest of one attempt.  bcrypt dominates it, so buckets start at 10 ms.
//
// AppAuthCandidates observes how many stored keys were loaded for one attempt.  A
// steadily growing value is a sign that prefix narrowing should be enabled.
//
// AppKeyLastUsedWriteFailuresTotal counts bookkeeping writes that failed after a
// successful authorization.  Those failures never deny a request.
var (
	AppAuthAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "app_auth_attempts_total",
			Help: "Total number of app API-key authentication attempts, by outcome and reason.",
		},
		[]string{"outcome", "reason"},
	)

	AppAuthKeyCompareDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "app_auth_key_compare_seconds",
			Help:    "Time spent comparing a presented app key against stored digests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
	)

	AppAuthCandidates = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "app_auth_candidates",
			Help:    "Number of stored app keys considered for one authentication attempt.",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100, 250},
		},
	)

	AppKeyLastUsedWriteFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "app_key_last_used_write_failures_total",
			Help: "Total number of failed last-used bookkeeping writes for app keys.",
		},
	)
)

// RateLimitRejectionsTotal is a CounterVec with labels {scope, backend}.  scope is
// "app" or "ip"; backend is "memory" or "redis".
//
// Example PromQL queries:
//   - Rejections by scope:  sum by (scope) (rate(rate_limit_rejections_total[5m]))
var RateLimitRejectionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "rate_limit_rejections_total",
		Help: "Total number of requests rejected by the rate limiter, by scope and backend.",
	},
	[]string{"scope", "backend"},
)

// APIKeyExpiryNotificationsSentTotal is a plain Counter (no labels) incremented once
// per app key whose expiry warning was recorded by the expiry notifier job.
//
// Example PromQL queries:
//   - Rate of notifications sent:  rate(apikey_expiry_notifications_sent_total[24h])
var APIKeyExpiryNotificationsSentTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "apikey_expiry_notifications_sent_total",
		Help: "Total number of app key expiry warnings emitted.",
	},
)

// BackgroundPanicsTotal counts panics recovered by safego, labelled by task name.
var BackgroundPanicsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "background_panics_total",
		Help: "Panics recovered in background goroutines, by task.",
	},
	[]string{"task"},
)

// AuditLogsPurgedTotal counts audit_logs rows removed by the retention job.
var AuditLogsPurgedTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "audit_logs_purged_total",
		Help: "Total number of audit log entries deleted by retention.",
	},
)

// DBPoolConnections reports the sql.DB pool by state: "open", "in_use" and "idle". It is
// sampled every 30 seconds by StartDBStatsCollector rather than per request.
//
// Example PromQL queries:
//   - Pool saturation (%): db_pool_connections{state="in_use"} / <HDK_DATABASE_MAX_CONNECTIONS> * 100
var DBPoolConnections = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "db_pool_connections",
		Help: "Database pool connections by state.",
	},
	[]string{"state"},
)

// DBPoolWaitsTotal mirrors sql.DBStats.WaitCount: how often a query had to wait for a free
// connection. A rising rate means max_connections is too low.
var DBPoolWaitsTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "db_pool_waits_total",
		Help: "Total number of times a query waited for a pooled database connection.",
	},
)

type poolStats interface {
	Stats() sql.DBStats
}

// recordPoolStats publishes one sample. lastWaits is the WaitCount already added to
// DBPoolWaitsTotal; the new total is returned.
func recordPoolStats(pool poolStats, lastWaits int64) int64 {
	st := pool.Stats()
	DBPoolConnections.WithLabelValues("open").Set(float64(st.OpenConnections))
	DBPoolConnections.WithLabelValues("in_use").Set(float64(st.InUse))
	DBPoolConnections.WithLabelValues("idle").Set(float64(st.Idle))
	if st.WaitCount > lastWaits {
		DBPoolWaitsTotal.Add(float64(st.WaitCount - lastWaits))
	}
	return st.WaitCount
}

// StartDBStatsCollector samples pool statistics every 30 seconds until ctx is cancelled.
// Call it once, right after db.Connect succeeds.
func StartDBStatsCollector(ctx context.Context, pool *sql.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		waits := recordPoolStats(pool, 0)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				waits = recordPoolStats(pool, waits)
			}
		}
	}()
}
