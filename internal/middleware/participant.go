package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/rjsadow/contestgate/internal/login"
	"github.com/rjsadow/contestgate/internal/session"
)

const participantContextKey contextKey = "participant"

// ParticipantFromContext returns the session grant established by
// ParticipantSession, or nil for anonymous requests.
func ParticipantFromContext(ctx context.Context) *login.Grant {
	g, _ := ctx.Value(participantContextKey).(*login.Grant)
	return g
}

// ParticipantSession checks the login session cookie of the current
// contest. A valid session is refreshed and attached to the request
// context; an invalid one is cleared. Requests are never rejected here.
// Must run after LoadContest.
func ParticipantSession(v *login.Validator, issuer *session.Issuer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			contest := ContestFromContext(r.Context())
			if contest == nil {
				next.ServeHTTP(w, r)
				return
			}
			token := issuer.Token(r, contest.Name)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			grant, err := v.Authenticate(r.Context(), contest, token, time.Now(), ClientAddr(r))
			if err != nil {
				Logger(r.Context()).Debug("dropping session", "contest", contest.Name, "error", err)
				issuer.Revoke(w, r, contest.Name)
				next.ServeHTTP(w, r)
				return
			}
			if err := issuer.Issue(w, r, contest.Name, grant.Token); err != nil {
				Logger(r.Context()).Warn("failed to refresh session", "contest", contest.Name, "error", err)
			}

			ctx := context.WithValue(r.Context(), participantContextKey, grant)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
