// Package auth implements the login strategies a contest can be served
// with. Exactly one strategy is active per process; it is chosen at startup
// and mounts its own routes under the contest router.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rjsadow/contestgate/internal/db"
	"github.com/rjsadow/contestgate/internal/login"
	"github.com/rjsadow/contestgate/internal/middleware"
	"github.com/rjsadow/contestgate/internal/session"
)

// Kind names a login strategy.
type Kind string

const (
	KindPassword      Kind = "password"
	KindOpenIDConnect Kind = "openidconnect"
)

// ErrUnknownKind is returned for strategy names that are not recognized.
var ErrUnknownKind = errors.New("unknown auth type")

// ParseKind converts a configured strategy name to a Kind.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindPassword, KindOpenIDConnect:
		return k, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

// Strategy is a login method. The set of implementations is closed.
type Strategy interface {
	// Kind identifies the strategy.
	Kind() Kind
	// LoginFragment names the template rendered inside the login page.
	LoginFragment() string
	// Routes mounts the strategy's handlers on a contest router.
	Routes(r chi.Router)
	// UserString describes how a logged-in user authenticated.
	UserString(u *db.User) string

	sealed()
}

// AccountStore provisions accounts for federated logins.
type AccountStore interface {
	EnsureUser(ctx context.Context, u db.User) (*db.User, bool, error)
	EnsureParticipation(ctx context.Context, contestID, userID int64) (*db.Participation, bool, error)
	LogAudit(ctx context.Context, contest, username, action, details string) error
}

// Deps are the collaborators shared by the strategies.
type Deps struct {
	Validator *login.Validator
	Issuer    *session.Issuer

	// Federated login only.
	FlowJar         *session.Jar
	Accounts        AccountStore
	Replay          *ReplayCache
	ExchangeTimeout time.Duration
	HTTPClient      *http.Client

	// Now defaults to time.Now.
	Now func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// New builds the strategy of the given kind.
func New(kind Kind, deps Deps) (Strategy, error) {
	if deps.Validator == nil || deps.Issuer == nil {
		return nil, errors.New("auth: validator and issuer are required")
	}
	switch kind {
	case KindPassword:
		return &passwordStrategy{deps: deps}, nil
	case KindOpenIDConnect:
		if deps.FlowJar == nil || deps.Accounts == nil || deps.Replay == nil {
			return nil, errors.New("auth: openidconnect requires a flow jar, an account store and a replay cache")
		}
		if deps.ExchangeTimeout <= 0 {
			deps.ExchangeTimeout = 10 * time.Second
		}
		return &oidcStrategy{deps: deps}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

// completeLogin stores the session of a successful login and sends the
// user on, or clears any session and redirects to the login error page.
func completeLogin(w http.ResponseWriter, r *http.Request, deps Deps, contest *db.Contest, grant *login.Grant, err error, next string) {
	if err == nil {
		err = deps.Issuer.Issue(w, r, contest.Name, grant.Token)
		if err != nil {
			middleware.Logger(r.Context()).Error("failed to store session", "contest", contest.Name, "error", err)
		}
	}
	if err != nil {
		deps.Issuer.Revoke(w, r, contest.Name)
		http.Redirect(w, r, LoginErrorURL(contest.Name), http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, SafeNext(contest.Name, next), http.StatusSeeOther)
}
