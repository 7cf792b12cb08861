// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// Middleware writes one access log line per request. Health probes and
// metrics scrapes are logged at debug level to keep the info stream readable.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if p := rctx.RoutePattern(); p != "" {
					route = p
				}
			}

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}

			l := WithComponentFromContext(r.Context(), "http")
			ev := l.Info()
			switch {
			case status >= 500:
				ev = l.Error()
			case status >= 400:
				ev = l.Warn()
			case isQuietPath(r.URL.Path):
				ev = l.Debug()
			}
			ev.Str(FieldEvent, "http.request").
				Str(FieldMethod, r.Method).
				Str(FieldPath, r.URL.Path).
				Str(FieldRoute, route).
				Int(FieldStatus, status).
				Int(FieldBytes, ww.BytesWritten()).
				Int64(FieldDurationMS, time.Since(start).Milliseconds()).
				Str(FieldRemoteAddr, r.RemoteAddr).
				Msg("request completed")
		})
	}
}

func isQuietPath(p string) bool {
	switch p {
	case "/healthz", "/readyz", "/metrics", "/health", "/app/ping":
		return true
	}
	return false
}
