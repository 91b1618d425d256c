package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/rjsadow/contestgate/internal/reqctx"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

// RequestIDHeader is the HTTP header name for request IDs.
const RequestIDHeader = "X-Request-ID"

// RequestID is middleware that generates a UUID for each request,
// adds it to the request context, and sets it as a response header.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Use existing request ID from header if present, otherwise generate one
		reqID := r.Header.Get(RequestIDHeader)
		if reqID == "" || len(reqID) > 128 {
			reqID = uuid.New().String()
		}

		w.Header().Set(RequestIDHeader, reqID)
		next.ServeHTTP(w, r.WithContext(reqctx.WithRequestID(r.Context(), reqID)))
	})
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	return reqctx.RequestID(ctx)
}

// Logger returns the default logger annotated with the request and trace
// IDs of ctx.
func Logger(ctx context.Context) *slog.Logger {
	return reqctx.Logger(ctx)
}
