package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
)

// RedisRateLimiter shares budgets between replicas using the GCRA implementation of
// redis_rate. Keys are namespaced per budget as "helpdesk:ratelimit:<name>:<key>".
type RedisRateLimiter struct {
	limiter   *redis_rate.Limiter
	limit     redis_rate.Limit
	namespace string
}

// NewRedisRateLimiter creates a Redis-backed limiter on an existing client.
func NewRedisRateLimiter(client redis.UniversalClient, config RateLimitConfig) *RedisRateLimiter {
	burst := config.BurstSize
	if burst < 1 {
		burst = 1
	}
	name := config.Name
	if name == "" {
		name = "default"
	}
	return &RedisRateLimiter{
		namespace: "helpdesk:ratelimit:" + name + ":",
		limiter:   redis_rate.NewLimiter(client),
		limit: redis_rate.Limit{
			Rate:   config.RequestsPerMinute,
			Burst:  burst,
			Period: time.Minute,
		},
	}
}

// Take implements Limiter.
func (rl *RedisRateLimiter) Take(ctx context.Context, key string) (LimitResult, error) {
	res, err := rl.limiter.Allow(ctx, rl.namespace+key, rl.limit)
	if err != nil {
		return LimitResult{}, fmt.Errorf("redis rate limit: %w", err)
	}
	return LimitResult{
		Allowed:    res.Allowed > 0,
		Remaining:  res.Remaining,
		RetryAfter: res.RetryAfter,
	}, nil
}

// Limit implements Limiter.
func (rl *RedisRateLimiter) Limit() int { return rl.limit.Rate }

// Backend implements Limiter.
func (rl *RedisRateLimiter) Backend() string { return "redis" }
