// Package middleware provides HTTP middleware for the contestgate server.
package middleware

import (
	"net/http"
)

// SecurityHeaders wraps an http.Handler and adds security headers to all responses.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Prevent clickjacking - deny all framing
		w.Header().Set("X-Frame-Options", "DENY")

		// Prevent MIME type sniffing
		w.Header().Set("X-Content-Type-Options", "nosniff")

		// Login pages and redirects must never be cached by intermediaries
		w.Header().Set("Cache-Control", "no-store")

		// Control referrer information; the OIDC callback URL carries the
		// authorization code and must not leak to third parties
		w.Header().Set("Referrer-Policy", "same-origin")

		// Content Security Policy
		// - default-src 'self': Only allow resources from same origin
		// - style-src 'self' 'unsafe-inline': login page uses inline styles
		// - form-action 'self': forms only post back to this server
		// - frame-ancestors 'none': Prevent framing (redundant with X-Frame-Options but more modern)
		w.Header().Set("Content-Security-Policy",
			"default-src 'self'; "+
				"style-src 'self' 'unsafe-inline'; "+
				"form-action 'self'; "+
				"frame-ancestors 'none'")

		// Permissions Policy - disable unnecessary browser features
		w.Header().Set("Permissions-Policy", "geolocation=(), microphone=(), camera=()")

		next.ServeHTTP(w, r)
	})
}
