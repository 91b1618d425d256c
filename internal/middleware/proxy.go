package middleware

import (
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/rjsadow/contestgate/internal/reqctx"
)

// TrustProxy is mounted when the service runs behind a reverse proxy whose
// headers can be believed. It takes the client address from
// X-Forwarded-For / X-Real-IP and lets X-Forwarded-Proto decide whether the
// request was made over https. Without it both are ignored.
func TrustProxy(next http.Handler) http.Handler {
	realIP := chimw.RealIP(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		realIP.ServeHTTP(w, r.WithContext(reqctx.WithTrustedProxy(r.Context())))
	})
}
