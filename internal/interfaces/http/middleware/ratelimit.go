package middleware

import (
	"context"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/turtacn/plankton-batchedit/pkg/errors"
)

// RateLimiter decides whether a request identified by key may proceed.
type RateLimiter interface {
	Allow(key string) (bool, RateLimitInfo)
}

// RateLimitInfo contains current rate limit state for a given key.
type RateLimitInfo struct {
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RateLimitConfig holds configuration for the rate limit middleware.
type RateLimitConfig struct {
	// KeyFunc extracts the rate limit key. Defaults to ClientIPKeyFunc.
	KeyFunc   func(c *gin.Context) string
	SkipPaths []string
}

// DefaultRateLimitConfig skips the health endpoints.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		KeyFunc:   APIKeyKeyFunc,
		SkipPaths: []string{"/healthz", "/readyz", "/metrics"},
	}
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// KeyedLimiter keeps one token bucket per key.
type KeyedLimiter struct {
	limit rate.Limit
	burst int
	idle  time.Duration
	now   func() time.Time

	mu      sync.Mutex
	entries map[string]*limiterEntry
}

// NewKeyedLimiter allows rps sustained requests per key with the given
// burst. Buckets unused for idle are dropped by Cleanup.
func NewKeyedLimiter(rps float64, burst int, idle time.Duration) *KeyedLimiter {
	if burst < 1 {
		burst = 1
	}
	return &KeyedLimiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		idle:    idle,
		now:     time.Now,
		entries: make(map[string]*limiterEntry),
	}
}

// Allow implements RateLimiter.
func (l *KeyedLimiter) Allow(key string) (bool, RateLimitInfo) {
	now := l.now()

	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.entries[key] = e
	}
	e.lastSeen = now
	l.mu.Unlock()

	allowed := e.limiter.AllowN(now, 1)
	tokens := e.limiter.TokensAt(now)

	info := RateLimitInfo{
		Limit:     l.burst,
		Remaining: int(math.Max(0, math.Floor(tokens))),
		ResetAt:   now,
	}
	if tokens < 1 && l.limit > 0 {
		wait := (1 - tokens) / float64(l.limit)
		info.ResetAt = now.Add(time.Duration(wait * float64(time.Second)))
	}
	return allowed, info
}

// Cleanup drops idle buckets and returns how many were removed.
func (l *KeyedLimiter) Cleanup() int {
	if l.idle <= 0 {
		return 0
	}
	threshold := l.now().Add(-l.idle)
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for key, e := range l.entries {
		if e.lastSeen.Before(threshold) {
			delete(l.entries, key)
			removed++
		}
	}
	return removed
}

// Run calls Cleanup every interval until ctx ends.
func (l *KeyedLimiter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Cleanup()
		}
	}
}

// Len returns the number of tracked keys.
func (l *KeyedLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// RateLimit returns middleware that enforces limiter per request key.
func RateLimit(limiter RateLimiter, config RateLimitConfig) gin.HandlerFunc {
	skipSet := make(map[string]bool, len(config.SkipPaths))
	for _, p := range config.SkipPaths {
		skipSet[p] = true
	}
	keyFunc := config.KeyFunc
	if keyFunc == nil {
		keyFunc = ClientIPKeyFunc
	}

	return func(c *gin.Context) {
		if skipSet[c.Request.URL.Path] {
			c.Next()
			return
		}

		allowed, info := limiter.Allow(keyFunc(c))
		c.Header("X-RateLimit-Limit", strconv.Itoa(info.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(info.ResetAt.Unix(), 10))

		if !allowed {
			retryAfter := int(math.Ceil(time.Until(info.ResetAt).Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			WriteError(c, errors.RateLimit("rate limit exceeded, please retry later"))
			return
		}
		c.Next()
	}
}

// ClientIPKeyFunc keys requests by client address.
func ClientIPKeyFunc(c *gin.Context) string {
	return "ip:" + c.ClientIP()
}

// APIKeyKeyFunc keys authenticated requests by API key and the rest by
// client address.
func APIKeyKeyFunc(c *gin.Context) string {
	if id := GetAPIKeyID(c); id != "" {
		return "apikey:" + id
	}
	return ClientIPKeyFunc(c)
}
