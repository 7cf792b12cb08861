// SPDX-License-Identifier: MIT

package middleware

import (
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"
)

// RateLimitConfig holds configuration for rate limiting middleware.
type RateLimitConfig struct {
	// RequestLimit is the maximum number of requests allowed in the window.
	RequestLimit int
	// WindowSize is the sliding window.
	WindowSize time.Duration
	// KeyFunc extracts the limiter key; nil limits by peer IP.
	KeyFunc func(r *http.Request) (string, error)
}

// RateLimit limits requests with httprate's sliding window counter.
func RateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	keyFunc := cfg.KeyFunc
	if keyFunc == nil {
		keyFunc = httprate.KeyByIP
	}
	retryAfter := strconv.Itoa(int(cfg.WindowSize.Seconds()))

	return httprate.Limit(
		cfg.RequestLimit,
		cfg.WindowSize,
		httprate.WithKeyFuncs(keyFunc),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", retryAfter)
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate_limit_exceeded","detail":"Too many requests. Please try again later."}`))
		}),
	)
}

// KeyByClientIP keys the limiter by ClientIP so clients behind a trusted
// proxy are limited individually.
func KeyByClientIP(trustedProxies []*net.IPNet) func(r *http.Request) (string, error) {
	return func(r *http.Request) (string, error) {
		return ClientIP(r, trustedProxies), nil
	}
}

// APIRateLimit limits every client to perMinute requests.
func APIRateLimit(perMinute int, trustedProxies []*net.IPNet) func(http.Handler) http.Handler {
	return RateLimit(RateLimitConfig{
		RequestLimit: perMinute,
		WindowSize:   time.Minute,
		KeyFunc:      KeyByClientIP(trustedProxies),
	})
}

// IngestRateLimit guards the device ingest routes. Each device is keyed by
// its own address, so a misbehaving board cannot starve the other.
func IngestRateLimit(perMinute int) func(http.Handler) http.Handler {
	if perMinute <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return RateLimit(RateLimitConfig{
		RequestLimit: perMinute,
		WindowSize:   time.Minute,
	})
}
