package proxyhttp

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/ongarde/ongarde/internal/ctxkey"
)

// RequestIDMiddleware assigns or propagates a correlation ID for every
// inbound request and enriches the logger with it, so every log line and
// audit record for a request can be tied back to the same id (SPEC_FULL.md
// §1.1's ctxkey pattern, grounded on the teacher's
// internal/adapter/inbound/http/middleware.go).
func RequestIDMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-OnGarde-Request-Id")
			if requestID == "" {
				requestID = uuid.New().String()
			}

			enrichedLogger := logger.With("request_id", requestID)

			ctx := context.WithValue(r.Context(), ctxkey.RequestIDKey{}, requestID)
			ctx = context.WithValue(ctx, ctxkey.LoggerKey{}, enrichedLogger)

			w.Header().Set("X-OnGarde-Request-Id", requestID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// LoggerFromContext retrieves the per-request enriched logger, falling back
// to slog.Default if RequestIDMiddleware was not run (e.g. in tests).
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(ctxkey.LoggerKey{}).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}
