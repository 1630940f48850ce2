package google

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/custodia-labs/inboxd/internal/core/domain"
)

// RateLimitConfig holds rate limiting configuration for provider calls.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate limit.
	RequestsPerSecond float64
	// BurstSize is the maximum burst size.
	BurstSize int
}

// DefaultRateLimit is well below Gmail's per-user quota.
var DefaultRateLimit = RateLimitConfig{RequestsPerSecond: 5.0, BurstSize: 10}

// RateLimitFromSettings builds a RateLimitConfig from sync settings,
// falling back to DefaultRateLimit for unset values.
func RateLimitFromSettings(s domain.SyncSettings) RateLimitConfig {
	cfg := DefaultRateLimit
	if s.RequestsPerSecond > 0 {
		cfg.RequestsPerSecond = s.RequestsPerSecond
	}
	if s.Burst > 0 {
		cfg.BurstSize = s.Burst
	}
	return cfg
}

// RateLimiter provides rate limiting for Google API requests.
// It uses a token bucket and honours Retry-After pauses recorded after
// throttled responses. One limiter is shared by all calls of an account.
type RateLimiter struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	retryAt time.Time
}

// NewRateLimiter creates a rate limiter with the given configuration.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.RequestsPerSecond <= 0 || cfg.BurstSize <= 0 {
		cfg = DefaultRateLimit
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.BurstSize),
	}
}

// Wait blocks until a request can be made without exceeding the rate limit.
// It also respects any pause set by RecordRateLimit.
func (r *RateLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	retryAt := r.retryAt
	r.mu.Unlock()

	if d := time.Until(retryAt); d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	return r.limiter.Wait(ctx)
}

// RecordRateLimit pauses all callers for the given duration.
// A zero duration leaves the pause unchanged; the caller's backoff applies.
func (r *RateLimiter) RecordRateLimit(pause time.Duration) {
	if pause <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if at := time.Now().Add(pause); at.After(r.retryAt) {
		r.retryAt = at
	}
}

// Allow checks if a request can be made immediately without blocking.
func (r *RateLimiter) Allow() bool {
	r.mu.Lock()
	retryAt := r.retryAt
	r.mu.Unlock()

	if time.Now().Before(retryAt) {
		return false
	}

	return r.limiter.Allow()
}
