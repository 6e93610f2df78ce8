// Package ratelimiter throttles connection admission with a token bucket.
//
// The server's accept callback consults a RateLimiter before registering a
// new session; connections arriving above the sustained rate (plus burst
// headroom) are closed immediately instead of queued, so an accept flood
// cannot exhaust sessions or completion contexts.
package ratelimiter

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter wraps golang.org/x/time/rate with the admission policy used
// by the accept path: a zero sustained rate disables limiting entirely.
//
// All methods are safe for concurrent use.
type RateLimiter struct {
	limiter *rate.Limiter
}

// New creates a RateLimiter allowing perSecond sustained admissions with
// burst headroom. perSecond 0 means unlimited.
func New(perSecond, burst uint) *RateLimiter {
	if perSecond == 0 {
		return &RateLimiter{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	if burst == 0 {
		burst = perSecond
	}
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(perSecond), int(burst))}
}

// Allow reports whether one more connection may be admitted right now,
// consuming a token when it may. This is the fast path used on accept
// completions; callers reject rather than wait.
func (r *RateLimiter) Allow() bool {
	return r.limiter.Allow()
}

// Wait blocks until a token is available or ctx is cancelled. Used by
// drivers that prefer throttling over rejection.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// AllowN consumes n tokens if all are available at once.
func (r *RateLimiter) AllowN(n uint) bool {
	return r.limiter.AllowN(time.Now(), int(n))
}
