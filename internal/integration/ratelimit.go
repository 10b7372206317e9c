package integration

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter is a per-connector token bucket refilled at quota per minute.
// Callers past the quota queue for a token instead of being rejected.
type RateLimiter struct {
	lim   *rate.Limiter
	quota int
}

func NewRateLimiter(perMinute int) *RateLimiter {
	if perMinute <= 0 {
		perMinute = DefaultRequestsPerMinute
	}
	return &RateLimiter{
		lim:   rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
		quota: perMinute,
	}
}

// Wait blocks until a token is available and returns how long it waited.
func (r *RateLimiter) Wait(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := r.lim.Wait(ctx); err != nil {
		return time.Since(start), err
	}
	return time.Since(start), nil
}

// Quota is the configured requests per minute.
func (r *RateLimiter) Quota() int { return r.quota }

// Available reports the tokens currently in the bucket.
func (r *RateLimiter) Available() float64 { return r.lim.Tokens() }
