// Package middleware holds HTTP middleware shared by the API routes.
package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

// RateLimiter tracks one token bucket per principal.
type RateLimiter struct {
	mu     sync.Mutex
	limits map[string]*rate.Limiter

	every time.Duration
	burst int
}

// NewRateLimiter creates a limiter that admits one request per `every`
// with the given burst, per key.
func NewRateLimiter(every time.Duration, burst int) *RateLimiter {
	if every <= 0 {
		every = time.Second / 10
	}
	if burst <= 0 {
		burst = 20
	}
	return &RateLimiter{
		limits: make(map[string]*rate.Limiter),
		every:  every,
		burst:  burst,
	}
}

// getLimiter gets or creates a limiter for the given key.
func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if limiter, ok := rl.limits[key]; ok {
		return limiter
	}

	limiter := rate.NewLimiter(rate.Every(rl.every), rl.burst)
	rl.limits[key] = limiter
	return limiter
}

// Allow checks if a request is allowed for the given key.
func (rl *RateLimiter) Allow(key string) bool {
	return rl.getLimiter(key).Allow()
}

// RetryAfter reports how long the key must wait for the next token.
func (rl *RateLimiter) RetryAfter(key string) time.Duration {
	reservation := rl.getLimiter(key).Reserve()
	delay := reservation.Delay()
	reservation.Cancel()
	return delay
}

// Wait blocks until a request is allowed or the context is cancelled.
func (rl *RateLimiter) Wait(ctx context.Context, key string) error {
	return rl.getLimiter(key).Wait(ctx)
}

// RateLimitMiddleware rejects requests over the per-principal budget with a
// 429 and a retry hint in seconds. keyFunc decides the bucket for a request.
func RateLimitMiddleware(rl *RateLimiter, keyFunc func(echo.Context) string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := keyFunc(c)
			if rl.Allow(key) {
				return next(c)
			}

			retryAfter := rl.RetryAfter(key)
			seconds := int(retryAfter.Round(time.Second).Seconds())
			if seconds < 1 {
				seconds = 1
			}
			return c.JSON(http.StatusTooManyRequests, map[string]any{
				"code":        "rate_limited",
				"message":     "too many requests",
				"retry_after": seconds,
			})
		}
	}
}
