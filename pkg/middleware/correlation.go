package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
)

// CorrelationHeader carries the request correlation id in both directions
const CorrelationHeader = "X-Correlation-ID"

type contextKey string

const correlationIDKey contextKey = "correlation_id"

// CorrelationID reuses the caller's correlation id or assigns a new one
func CorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		correlationID := r.Header.Get(CorrelationHeader)
		if correlationID == "" {
			correlationID = uuid.NewString()
		}
		w.Header().Set(CorrelationHeader, correlationID)

		ctx := context.WithValue(r.Context(), correlationIDKey, correlationID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetCorrelationID extracts correlation ID from context
func GetCorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey).(string); ok {
		return id
	}
	return ""
}

// Logger returns base annotated with the request's correlation id
func Logger(ctx context.Context, base *slog.Logger) *slog.Logger {
	if id := GetCorrelationID(ctx); id != "" {
		return base.With("correlation_id", id)
	}
	return base
}
