// ratelimit.go implements token-bucket rate limiting for the futures REST API.
//
// The venue enforces a request-weight budget per minute and a separate order
// budget per 10-second window. This file provides a smooth token-bucket
// implementation that refills continuously (rather than in window bursts)
// to stay clear of hard limits.
//
// Two buckets are maintained:
//   - Request: 240 burst / 40 per sec (maps to the 2400-weight/min budget)
//   - Order:   30 burst / 3 per sec (maps to the 300/10s order budget)
package exchange

import (
	"context"
	"sync"
	"time"
)

// TokenBucket implements a token-bucket rate limiter with continuous refill.
// Callers block in Wait() until a token is available or the context is cancelled.
type TokenBucket struct {
	mu       sync.Mutex
	tokens   float64   // current available tokens (fractional allowed)
	capacity float64   // maximum burst size
	rate     float64   // tokens refilled per second
	lastTime time.Time // last time tokens were calculated
}

// NewTokenBucket creates a rate limiter with the given capacity and refill rate.
func NewTokenBucket(capacity, ratePerSecond float64) *TokenBucket {
	return &TokenBucket{
		tokens:   capacity,
		capacity: capacity,
		rate:     ratePerSecond,
		lastTime: time.Now(),
	}
}

// Wait blocks until a token is available or ctx is cancelled.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		tb.mu.Lock()
		now := time.Now()
		elapsed := now.Sub(tb.lastTime).Seconds()
		tb.tokens += elapsed * tb.rate
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastTime = now

		if tb.tokens >= 1 {
			tb.tokens--
			tb.mu.Unlock()
			return nil
		}

		// Calculate wait time for next token
		wait := time.Duration((1 - tb.tokens) / tb.rate * float64(time.Second))
		tb.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
			// retry
		}
	}
}

// RateLimiter groups token buckets by API budget. Each REST call must go
// through the appropriate bucket's Wait() before the HTTP request.
type RateLimiter struct {
	Request *TokenBucket // market data, account, leverage, listen key
	Order   *TokenBucket // POST/DELETE /fapi/v1/order
}

// NewRateLimiter creates rate limiters tuned to the venue's published budgets.
// Capacities are set to the window burst allowance, rates to the smooth
// per-second equivalent.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		Request: NewTokenBucket(240, 40), // 2400 weight per minute
		Order:   NewTokenBucket(30, 3),   // 300 orders per 10s window
	}
}
