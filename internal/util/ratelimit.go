package util

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a token bucket holding up to burst tokens, refilled at a
// steady per-minute rate. Wait reserves a token up front and sleeps until it
// is due, so concurrent callers are served in arrival order. A nil
// *RateLimiter never blocks.
type RateLimiter struct {
	mu     sync.Mutex
	rate   float64 // tokens per second
	burst  float64
	tokens float64 // negative while callers hold reservations
	last   time.Time
	now    func() time.Time
}

// NewRateLimiter allows perMinute operations per minute with up to burst
// issued back to back. It returns nil, an unlimited limiter, when perMinute
// is not positive. A burst below one is treated as one.
func NewRateLimiter(perMinute, burst int) *RateLimiter {
	if perMinute <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	rl := &RateLimiter{
		rate:   float64(perMinute) / 60.0,
		burst:  float64(burst),
		tokens: float64(burst),
		now:    time.Now,
	}
	rl.last = rl.now()
	return rl
}

// Wait blocks until a token is available or ctx is done. A cancelled wait
// returns its reservation to the bucket.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if rl == nil {
		return nil
	}

	rl.mu.Lock()
	delay := rl.reserve(rl.now())
	rl.mu.Unlock()
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		rl.mu.Lock()
		rl.tokens++
		rl.mu.Unlock()
		return ctx.Err()
	}
}

// reserve takes one token at now and returns how long the caller must wait
// for it. Callers hold rl.mu.
func (rl *RateLimiter) reserve(now time.Time) time.Duration {
	if elapsed := now.Sub(rl.last).Seconds(); elapsed > 0 {
		rl.tokens += elapsed * rl.rate
		if rl.tokens > rl.burst {
			rl.tokens = rl.burst
		}
		rl.last = now
	}
	rl.tokens--
	if rl.tokens >= 0 {
		return 0
	}
	return time.Duration(-rl.tokens / rl.rate * float64(time.Second))
}
