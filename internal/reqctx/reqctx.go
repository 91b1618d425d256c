// Package reqctx holds the request-scoped values shared by the HTTP
// middleware and the packages below it: the request ID, the request
// logger and whether proxy headers may be believed.
package reqctx

import (
	"context"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/trace"
)

type key int

const (
	requestIDKey key = iota
	trustProxyKey
)

// WithRequestID returns a copy of ctx carrying id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID returns the request ID of ctx, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// Logger returns the default logger annotated with the request ID and, when
// ctx carries a span, the trace ID.
func Logger(ctx context.Context) *slog.Logger {
	logger := slog.Default()
	if id := RequestID(ctx); id != "" {
		logger = logger.With("request_id", id)
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		logger = logger.With("trace_id", sc.TraceID().String())
	}
	return logger
}

// WithTrustedProxy marks ctx as belonging to a request that arrived through
// a trusted reverse proxy.
func WithTrustedProxy(ctx context.Context) context.Context {
	return context.WithValue(ctx, trustProxyKey, true)
}

// TrustsProxy reports whether proxy headers of the request may be believed.
func TrustsProxy(ctx context.Context) bool {
	ok, _ := ctx.Value(trustProxyKey).(bool)
	return ok
}

// IsHTTPS reports whether the client reached us over TLS. X-Forwarded-Proto
// is honored only behind a trusted proxy.
func IsHTTPS(r *http.Request) bool {
	if r == nil {
		return false
	}
	if r.TLS != nil {
		return true
	}
	return TrustsProxy(r.Context()) && r.Header.Get("X-Forwarded-Proto") == "https"
}
