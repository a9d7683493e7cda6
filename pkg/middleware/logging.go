package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// Logging logs every completed request. Probe endpoints are logged at debug
// level so they do not drown the access log.
func Logging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}

			level := slog.LevelInfo
			switch {
			case status >= 500:
				level = slog.LevelError
			case r.URL.Path == "/health" || r.URL.Path == "/ready":
				level = slog.LevelDebug
			}

			logger.Log(r.Context(), level, "HTTP request completed",
				"method", r.Method,
				"path", r.URL.Path,
				"route", route,
				"status_code", status,
				"duration_ms", time.Since(start).Milliseconds(),
				"bytes_written", ww.BytesWritten(),
				"remote_addr", r.RemoteAddr,
				"correlation_id", GetCorrelationID(r.Context()),
			)
		})
	}
}
