// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package middleware holds the HTTP ingress stack shared by every route.
package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/babybridge/internal/log"
)

// StackConfig configures the HTTP ingress middleware stack.
type StackConfig struct {
	EnableCORS     bool
	AllowedOrigins []string

	EnableSecurityHeaders bool
	CSP                   string
	// TrustedProxies may set X-Forwarded-Proto and X-Forwarded-For.
	TrustedProxies []*net.IPNet

	EnableMetrics  bool
	TracingService string // empty disables tracing
	EnableLogging  bool

	// RateLimit is requests per minute per client IP; 0 disables it.
	RateLimit int
	// RateLimitExempt lists path prefixes that bypass RateLimit. Routes
	// under them carry their own limiter.
	RateLimitExempt []string
}

// NewRouter constructs a chi router with the stack applied.
func NewRouter(cfg StackConfig) *chi.Mux {
	r := chi.NewRouter()
	ApplyStack(r, cfg)
	return r
}

// ApplyStack applies the middleware stack to r, outermost first.
func ApplyStack(r chi.Router, cfg StackConfig) {
	r.Use(Recoverer)
	r.Use(RequestID)
	if cfg.EnableCORS {
		r.Use(CORS(cfg.AllowedOrigins))
	}
	if cfg.EnableSecurityHeaders {
		r.Use(SecurityHeaders(cfg.CSP, cfg.TrustedProxies))
	}
	if cfg.EnableMetrics {
		r.Use(Metrics())
	}
	if cfg.TracingService != "" {
		r.Use(Tracing(cfg.TracingService))
	}
	if cfg.EnableLogging {
		r.Use(log.Middleware())
	}
	if cfg.RateLimit > 0 {
		r.Use(skipPrefixes(cfg.RateLimitExempt, APIRateLimit(cfg.RateLimit, cfg.TrustedProxies)))
	}
}

// skipPrefixes applies mw except on requests whose path starts with one of
// prefixes.
func skipPrefixes(prefixes []string, mw func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	if len(prefixes) == 0 {
		return mw
	}
	return func(next http.Handler) http.Handler {
		limited := mw(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, p := range prefixes {
				if strings.HasPrefix(r.URL.Path, p) {
					next.ServeHTTP(w, r)
					return
				}
			}
			limited.ServeHTTP(w, r)
		})
	}
}
