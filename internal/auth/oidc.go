package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/oauth2"

	"github.com/rjsadow/contestgate/internal/db"
	"github.com/rjsadow/contestgate/internal/middleware"
	"github.com/rjsadow/contestgate/internal/passwd"
	"github.com/rjsadow/contestgate/internal/session"
)

// Audit actions recorded by the federated login flow.
const (
	ActionUserProvisioned          = "user_provisioned"
	ActionParticipationProvisioned = "participation_provisioned"
	ActionFederatedLoginFailed     = "federated_login_failed"
)

// flowSecretBytes is the entropy of the state and nonce values.
const flowSecretBytes = 32

var tracer = otel.Tracer("github.com/rjsadow/contestgate/internal/auth")

var (
	errNoFlow        = errors.New("no login flow in progress")
	errStateMismatch = errors.New("state mismatch")
	errReplayed      = errors.New("login flow already completed")
	errNonceMismatch = errors.New("nonce mismatch")
	errNoIDToken     = errors.New("token response carries no id_token")
	errNoSubject     = errors.New("id token has no subject")
)

// idClaims are the identity claims read from the ID token.
type idClaims struct {
	Subject           string `json:"sub"`
	GivenName         string `json:"given_name"`
	FamilyName        string `json:"family_name"`
	Email             string `json:"email"`
	PreferredUsername string `json:"preferred_username"`
}

// oidcStrategy logs users in through the contest's OpenID Connect
// provider using the authorization code flow. The state and nonce of a
// flow travel in a signed cookie, so any replica can complete it.
type oidcStrategy struct {
	deps Deps
}

func (s *oidcStrategy) Kind() Kind            { return KindOpenIDConnect }
func (s *oidcStrategy) LoginFragment() string { return "auth_oic" }
func (s *oidcStrategy) sealed()               {}

func (s *oidcStrategy) UserString(*db.User) string {
	return "via OpenIDConnect"
}

func (s *oidcStrategy) Routes(r chi.Router) {
	r.Get("/oic_login", s.handleLogin)
}

func (s *oidcStrategy) handleLogin(w http.ResponseWriter, r *http.Request) {
	contest := middleware.ContestFromContext(r.Context())
	if contest == nil {
		http.NotFound(w, r)
		return
	}

	q := r.URL.Query()
	if q.Has("code") || q.Has("error") {
		s.callback(w, r, contest)
		return
	}
	s.initiate(w, r, contest)
}

// initiate starts a flow and sends the user to the provider.
func (s *oidcStrategy) initiate(w http.ResponseWriter, r *http.Request, contest *db.Contest) {
	authURL, err := s.startFlow(w, r, contest)
	if err != nil {
		middleware.Logger(r.Context()).Error("cannot start openid connect login", "contest", contest.Name, "error", err)
		http.Redirect(w, r, LoginErrorURL(contest.Name), http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

// startFlow stores a fresh state and nonce and returns the authorization
// request URL carrying them.
func (s *oidcStrategy) startFlow(w http.ResponseWriter, r *http.Request, contest *db.Contest) (string, error) {
	cfg, err := ParseProviderConfig(contest.OpenIDConnectInfo)
	if err != nil {
		return "", err
	}
	state, err := randomSecret()
	if err != nil {
		return "", err
	}
	nonce, err := randomSecret()
	if err != nil {
		return "", err
	}

	if err := s.deps.FlowJar.Set(w, r, session.FlowCookieName(contest.Name), []string{state, nonce}); err != nil {
		return "", err
	}
	if next := r.URL.Query().Get("next"); next != "" {
		if err := s.deps.FlowJar.Set(w, r, session.NextCookieName(contest.Name), next); err != nil {
			return "", err
		}
	} else {
		s.deps.FlowJar.Clear(w, r, session.NextCookieName(contest.Name))
	}

	return cfg.OAuth2Config(redirectURI(r)).AuthCodeURL(state,
		oidc.Nonce(nonce),
		oauth2.SetAuthURLParam("claims", ClaimsRequest),
	), nil
}

// callback completes a flow when the provider sends the user back.
func (s *oidcStrategy) callback(w http.ResponseWriter, r *http.Request, contest *db.Contest) {
	ctx, span := tracer.Start(r.Context(), "oidc.callback")
	defer span.End()
	span.SetAttributes(attribute.String("contest", contest.Name))
	log := middleware.Logger(ctx).With("contest", contest.Name)

	// The flow cookies are single use whatever the outcome.
	var flow []string
	flowErr := s.deps.FlowJar.Get(r, session.FlowCookieName(contest.Name), &flow)
	var next string
	_ = s.deps.FlowJar.Get(r, session.NextCookieName(contest.Name), &next)
	s.deps.FlowJar.Clear(w, r, session.FlowCookieName(contest.Name))
	s.deps.FlowJar.Clear(w, r, session.NextCookieName(contest.Name))

	fail := func(reason error) {
		span.RecordError(reason)
		span.SetStatus(codes.Error, "federated login failed")
		log.Info("openid connect login failed", "error", reason)
		if err := s.deps.Accounts.LogAudit(ctx, contest.Name, "", ActionFederatedLoginFailed, reason.Error()); err != nil {
			log.Warn("failed to record audit entry", "error", err)
		}
		s.deps.Issuer.Revoke(w, r, contest.Name)
		http.Redirect(w, r, LoginErrorURL(contest.Name), http.StatusSeeOther)
	}

	if flowErr != nil || len(flow) != 2 {
		fail(errNoFlow)
		return
	}
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		fail(fmt.Errorf("provider returned error %q", e))
		return
	}
	code := q.Get("code")
	if code == "" || subtle.ConstantTimeCompare([]byte(q.Get("state")), []byte(flow[0])) != 1 {
		fail(errStateMismatch)
		return
	}
	if !s.deps.Replay.Consume(flow[0]) {
		fail(errReplayed)
		return
	}

	cfg, err := ParseProviderConfig(contest.OpenIDConnectInfo)
	if err != nil {
		log.Error("cannot complete openid connect login", "error", err)
		fail(err)
		return
	}

	claims, err := s.exchange(ctx, cfg, redirectURI(r), code, flow[1])
	if err != nil {
		fail(err)
		return
	}

	user, err := s.provision(ctx, contest, claims)
	if err != nil {
		log.Error("failed to provision federated account", "sub", claims.Subject, "error", err)
		fail(err)
		return
	}

	span.SetAttributes(attribute.String("username", user.Username))
	grant, err := s.deps.Validator.LoginUser(ctx, contest, s.deps.now(), user, middleware.ClientAddr(r))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "federated login rejected")
	}
	completeLogin(w, r, s.deps, contest, grant, err, next)
}

// exchange trades code for tokens and returns the verified identity.
func (s *oidcStrategy) exchange(ctx context.Context, cfg *ProviderConfig, redirectURL, code, nonce string) (*idClaims, error) {
	ctx, span := tracer.Start(ctx, "oidc.exchange")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, s.deps.ExchangeTimeout)
	defer cancel()
	client := s.deps.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: s.deps.ExchangeTimeout}
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, client)

	tok, err := cfg.OAuth2Config(redirectURL).Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}
	rawIDToken, ok := tok.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, errNoIDToken
	}

	idToken, err := cfg.Verifier(s.deps.now).Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("verify id token: %w", err)
	}
	if subtle.ConstantTimeCompare([]byte(idToken.Nonce), []byte(nonce)) != 1 {
		return nil, errNonceMismatch
	}

	var claims idClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("parse id token claims: %w", err)
	}
	if claims.Subject == "" {
		return nil, errNoSubject
	}
	return &claims, nil
}

// provision returns the account of the federated subject and makes sure
// it participates in contest, creating both on first login.
func (s *oidcStrategy) provision(ctx context.Context, contest *db.Contest, claims *idClaims) (*db.User, error) {
	// Federated users never log in with this password.
	random, err := passwd.GenerateRandom()
	if err != nil {
		return nil, fmt.Errorf("generate password: %w", err)
	}
	encoded, err := passwd.Hash(random)
	if err != nil {
		return nil, err
	}

	user, created, err := s.deps.Accounts.EnsureUser(ctx, db.User{
		Username:   claims.Subject,
		FirstName:  claims.GivenName,
		LastName:   claims.FamilyName,
		Email:      claims.Email,
		Password:   encoded,
		AuthSource: db.AuthSourceOIDC,
	})
	if err != nil {
		return nil, fmt.Errorf("ensure user: %w", err)
	}
	if created {
		s.audit(ctx, contest.Name, user.Username, ActionUserProvisioned)
	}

	_, created, err = s.deps.Accounts.EnsureParticipation(ctx, contest.ID, user.ID)
	if err != nil {
		return nil, fmt.Errorf("ensure participation: %w", err)
	}
	if created {
		s.audit(ctx, contest.Name, user.Username, ActionParticipationProvisioned)
	}
	return user, nil
}

func (s *oidcStrategy) audit(ctx context.Context, contest, username, action string) {
	if err := s.deps.Accounts.LogAudit(ctx, contest, username, action, string(KindOpenIDConnect)); err != nil {
		middleware.Logger(ctx).Warn("failed to record audit entry", "action", action, "error", err)
	}
}

func randomSecret() (string, error) {
	b := make([]byte, flowSecretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
