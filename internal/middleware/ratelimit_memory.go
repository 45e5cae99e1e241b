package middleware

import (
	"context"
	"math"
	"sync"
	"time"
)

// idleEviction is how long a bucket may go untouched before cleanup drops it. A dropped
// bucket is indistinguishable from a full one, so this only needs to exceed the refill time.
const idleEviction = 10 * time.Minute

type bucket struct {
	tokens float64
	seen   time.Time
}

// MemoryRateLimiter is a per-process token bucket limiter. Each key starts with BurstSize
// tokens and refills at RequestsPerMinute/60 tokens per second.
type MemoryRateLimiter struct {
	config  RateLimitConfig
	now     func() time.Time
	mu      sync.Mutex
	buckets map[string]*bucket

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewMemoryRateLimiter creates the limiter and starts its cleanup loop. Call Stop to end it.
func NewMemoryRateLimiter(config RateLimitConfig) *MemoryRateLimiter {
	rl := &MemoryRateLimiter{
		config:  config,
		now:     time.Now,
		buckets: make(map[string]*bucket),
		stopCh:  make(chan struct{}),
	}
	interval := config.CleanupInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	go rl.cleanupLoop(interval)
	return rl
}

func (rl *MemoryRateLimiter) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.evictIdle()
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *MemoryRateLimiter) evictIdle() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := rl.now().Add(-idleEviction)
	for key, b := range rl.buckets {
		if b.seen.Before(cutoff) {
			delete(rl.buckets, key)
		}
	}
}

// Stop ends the cleanup loop. It is safe to call more than once.
func (rl *MemoryRateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

func (rl *MemoryRateLimiter) refillPerSecond() float64 {
	return float64(rl.config.RequestsPerMinute) / 60
}

// Take implements Limiter. RetryAfter on a rejection is the time until one token is back.
func (rl *MemoryRateLimiter) Take(_ context.Context, key string) (LimitResult, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	burst := float64(max(rl.config.BurstSize, 1))
	rate := rl.refillPerSecond()

	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{tokens: burst, seen: now}
		rl.buckets[key] = b
	} else {
		b.tokens = math.Min(burst, b.tokens+now.Sub(b.seen).Seconds()*rate)
		b.seen = now
	}

	if b.tokens >= 1 {
		b.tokens--
		return LimitResult{Allowed: true, Remaining: int(b.tokens)}, nil
	}

	res := LimitResult{Allowed: false, Remaining: 0, RetryAfter: time.Minute}
	if rate > 0 {
		res.RetryAfter = time.Duration((1 - b.tokens) / rate * float64(time.Second))
	}
	return res, nil
}

// Limit implements Limiter.
func (rl *MemoryRateLimiter) Limit() int { return rl.config.RequestsPerMinute }

// Backend implements Limiter.
func (rl *MemoryRateLimiter) Backend() string { return "memory" }
