package session

import (
	"net/http"
)

// CookieName returns the name of the login session cookie of a contest.
func CookieName(contest string) string {
	return contest + "_login"
}

// FlowCookieName returns the name of the cookie holding in-flight
// federated login state for a contest.
func FlowCookieName(contest string) string {
	return contest + "_auth"
}

// NextCookieName returns the name of the cookie remembering where to send
// the user once a federated login completes.
func NextCookieName(contest string) string {
	return contest + "_auth_next"
}

// Issuer sets and clears login session cookies.
type Issuer struct {
	jar *Jar
}

// NewIssuer creates an issuer storing sessions in jar.
func NewIssuer(jar *Jar) *Issuer {
	return &Issuer{jar: jar}
}

// Issue stores token as the login session of contest.
func (i *Issuer) Issue(w http.ResponseWriter, r *http.Request, contest, token string) error {
	return i.jar.Set(w, r, CookieName(contest), token)
}

// Revoke clears the login session of contest. It is a no-op when there is
// no session and always emits the same expiring cookie.
func (i *Issuer) Revoke(w http.ResponseWriter, r *http.Request, contest string) {
	i.jar.Clear(w, r, CookieName(contest))
}

// Token returns the session token of contest carried by r, or "" when the
// request has no readable session.
func (i *Issuer) Token(r *http.Request, contest string) string {
	var token string
	if err := i.jar.Get(r, CookieName(contest), &token); err != nil {
		return ""
	}
	return token
}
