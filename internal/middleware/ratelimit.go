// ratelimit.go charges each request against a token bucket keyed by operator, app or client
// address and answers 429 with Retry-After once the bucket is empty. Buckets live in process
// memory, or in Redis when replicas must share one budget.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/helpdesk-io/helpdesk/internal/config"
	"github.com/helpdesk-io/helpdesk/internal/telemetry"
)

// RateLimitConfig is one token-bucket budget: BurstSize tokens refilled at
// RequestsPerMinute. Name separates budgets that share a Redis keyspace. CleanupInterval
// only applies to the in-memory limiter.
type RateLimitConfig struct {
	Name              string
	RequestsPerMinute int
	BurstSize         int
	CleanupInterval   time.Duration
}

const bucketCleanupInterval = 5 * time.Minute

// APIRateLimitConfig is the budget for authenticated admin and external traffic: 200/min
// with a burst of 50 unless security.rate_limiting overrides either.
func APIRateLimitConfig(rl config.RateLimitingConfig) RateLimitConfig {
	budget := RateLimitConfig{Name: "api", RequestsPerMinute: 200, BurstSize: 50, CleanupInterval: bucketCleanupInterval}
	if rl.RequestsPerMinute > 0 {
		budget.RequestsPerMinute = rl.RequestsPerMinute
	}
	if rl.Burst > 0 {
		budget.BurstSize = rl.Burst
	}
	return budget
}

// LoginRateLimitConfig is the fixed budget for password login: 10/min, burst 5.
func LoginRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{Name: "login", RequestsPerMinute: 10, BurstSize: 5, CleanupInterval: bucketCleanupInterval}
}

// LimitResult is the outcome of charging one request against a key's budget.
type LimitResult struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter is a rate-limit backend.
type Limiter interface {
	Take(ctx context.Context, key string) (LimitResult, error)
	// Limit returns the configured requests per minute.
	Limit() int
	// Backend names the implementation for metrics ("memory" or "redis").
	Backend() string
}

// RateLimitMiddleware creates a Gin middleware that rate limits requests. Backend errors
// let the request through.
func RateLimitMiddleware(limiter Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := rateLimitKey(c)

		res, err := limiter.Take(c.Request.Context(), key)
		if err != nil {
			slog.Warn("rate limiter unavailable, allowing request", "backend", limiter.Backend(), "error", err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(limiter.Limit()))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(max(res.Remaining, 0)))

		if !res.Allowed {
			retryAfter := int(res.RetryAfter.Round(time.Second).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			scope, _, _ := strings.Cut(key, ":")
			telemetry.RateLimitRejectionsTotal.WithLabelValues(scope, limiter.Backend()).Inc()

			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Rate limit exceeded",
				"retry_after": retryAfter,
			})
			return
		}

		c.Next()
	}
}

// rateLimitKey charges an operator by user, an authorized app by app, and anything not yet
// authenticated by client address.
func rateLimitKey(c *gin.Context) string {
	if id := c.GetString("user_id"); id != "" {
		return "user:" + id
	}
	if id := c.GetString("app_id"); id != "" {
		return "app:" + id
	}
	return "ip:" + c.ClientIP()
}
