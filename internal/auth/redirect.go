package auth

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/rjsadow/contestgate/internal/reqctx"
)

// ContestRoot returns the landing page of contest.
func ContestRoot(contest string) string {
	return "/" + url.PathEscape(contest) + "/"
}

// LoginErrorURL returns the page users are sent to after any failed login.
func LoginErrorURL(contest string) string {
	return ContestRoot(contest) + "?login_error=true"
}

// SafeNext returns next when it is a path on this server, and the contest
// root otherwise.
func SafeNext(contest, next string) string {
	if next == "" || !strings.HasPrefix(next, "/") ||
		strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return ContestRoot(contest)
	}
	u, err := url.Parse(next)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return ContestRoot(contest)
	}
	return next
}

// redirectURI is the URL the identity provider sends users back to: the
// current request's URL without its query. The scheme follows
// X-Forwarded-Proto only behind a trusted proxy.
func redirectURI(r *http.Request) string {
	scheme := "http"
	if reqctx.IsHTTPS(r) {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URL.Path
}
