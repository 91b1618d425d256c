// Package authtest provides a fake OpenID Connect provider for tests.
// It serves only a token endpoint; tests read the state and nonce from the
// authorization redirect and register the identity to return with Grant.
package authtest

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
)

const (
	ClientID     = "contestgate"
	ClientSecret = "client-secret"
	KeyID        = "test-key"
)

// TB is the part of testing.TB the helpers need. GinkgoT() satisfies it.
type TB interface {
	Helper()
	Fatalf(format string, args ...any)
	Cleanup(func())
}

// Identity is what the provider asserts for one authorization code.
type Identity struct {
	Subject    string
	GivenName  string
	FamilyName string
	Email      string
	Nonce      string

	// Overrides for negative tests; zero values produce a valid token.
	Issuer      string
	Audience    string
	ExpiresAt   time.Time
	SigningKey  *rsa.PrivateKey
	OmitIDToken bool
}

// IdP is a fake identity provider backed by an httptest.Server.
type IdP struct {
	Server *httptest.Server

	// Delay holds every token response for this long, or until the client
	// gives up.
	Delay time.Duration

	key        *rsa.PrivateKey
	mu         sync.Mutex
	grants     map[string]Identity
	tokenCalls atomic.Int32
}

// New starts a provider that is shut down when the test ends.
func New(t TB) *IdP {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("authtest: generate key: %v", err)
	}
	p := &IdP{key: key, grants: make(map[string]Identity)}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /token", p.handleToken)
	p.Server = httptest.NewServer(mux)
	t.Cleanup(p.Server.Close)
	return p
}

// Issuer returns the issuer identifier of the provider.
func (p *IdP) Issuer() string {
	return p.Server.URL
}

// AuthorizationEndpoint returns the URL users are redirected to.
func (p *IdP) AuthorizationEndpoint() string {
	return p.Server.URL + "/authorize"
}

// Grant makes code redeemable, once, for id.
func (p *IdP) Grant(code string, id Identity) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.grants[code] = id
}

// TokenCalls reports how many token requests were received.
func (p *IdP) TokenCalls() int {
	return int(p.tokenCalls.Load())
}

// JWKS returns the public signing key set of the provider.
func (p *IdP) JWKS() jose.JSONWebKeySet {
	return jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
		Key:       &p.key.PublicKey,
		KeyID:     KeyID,
		Algorithm: string(jose.RS256),
		Use:       "sig",
	}}}
}

// ProviderConfig returns the contest configuration pointing at this
// provider, as stored on the contest.
func (p *IdP) ProviderConfig(t TB) string {
	t.Helper()
	cfg := map[string]any{
		"op_info": map[string]any{
			"issuer":                 p.Issuer(),
			"authorization_endpoint": p.AuthorizationEndpoint(),
			"token_endpoint":         p.Server.URL + "/token",
		},
		"client_info": map[string]any{
			"client_id":                  ClientID,
			"client_secret":              ClientSecret,
			"token_endpoint_auth_method": "client_secret_basic",
		},
		"jwks": p.JWKS(),
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("authtest: marshal provider config: %v", err)
	}
	return string(b)
}

// SignIDToken signs an ID token for id the way the token endpoint does.
func (p *IdP) SignIDToken(id Identity) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss":         p.Issuer(),
		"sub":         id.Subject,
		"aud":         ClientID,
		"iat":         now.Unix(),
		"exp":         now.Add(5 * time.Minute).Unix(),
		"nonce":       id.Nonce,
		"given_name":  id.GivenName,
		"family_name": id.FamilyName,
		"email":       id.Email,
	}
	if id.Issuer != "" {
		claims["iss"] = id.Issuer
	}
	if id.Audience != "" {
		claims["aud"] = id.Audience
	}
	if !id.ExpiresAt.IsZero() {
		claims["exp"] = id.ExpiresAt.Unix()
	}
	key := p.key
	if id.SigningKey != nil {
		key = id.SigningKey
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = KeyID
	return token.SignedString(key)
}

func (p *IdP) handleToken(w http.ResponseWriter, r *http.Request) {
	p.tokenCalls.Add(1)

	if p.Delay > 0 {
		select {
		case <-time.After(p.Delay):
		case <-r.Context().Done():
			return
		}
	}

	id, secret, ok := r.BasicAuth()
	if !ok || id != ClientID || secret != ClientSecret {
		writeError(w, http.StatusUnauthorized, "invalid_client")
		return
	}
	if err := r.ParseForm(); err != nil || r.PostForm.Get("grant_type") != "authorization_code" {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	code := r.PostForm.Get("code")
	p.mu.Lock()
	identity, found := p.grants[code]
	delete(p.grants, code)
	p.mu.Unlock()
	if !found {
		writeError(w, http.StatusBadRequest, "invalid_grant")
		return
	}

	resp := map[string]any{
		"access_token": "access-" + code,
		"token_type":   "Bearer",
		"expires_in":   300,
	}
	if !identity.OmitIDToken {
		idToken, err := p.SignIDToken(identity)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "server_error")
			return
		}
		resp["id_token"] = idToken
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func writeError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": code})
}
