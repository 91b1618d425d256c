package auth

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/go-jose/go-jose/v4"
	"golang.org/x/oauth2"
)

// Client authentication methods at the token endpoint.
const (
	AuthMethodClientSecretBasic = "client_secret_basic"
	AuthMethodClientSecretPost  = "client_secret_post"
)

// ScopeOfflineAccess asks the provider for a refresh token.
const ScopeOfflineAccess = "offline_access"

// ClaimsRequest marks the subject and the name claims as essential.
const ClaimsRequest = `{"id_token":{"sub":{"essential":true}},` +
	`"userinfo":{"given_name":{"essential":true},"family_name":{"essential":true},"preferred_username":{"essential":true}}}`

var (
	ErrProviderNotConfigured = errors.New("openid connect is not configured for this contest")
	ErrInvalidProviderConfig = errors.New("invalid openid connect configuration")
)

// ProviderConfig is the per-contest identity provider setup, stored as
// JSON on the contest.
type ProviderConfig struct {
	OPInfo     OPInfo             `json:"op_info"`
	ClientInfo ClientInfo         `json:"client_info"`
	JWKS       jose.JSONWebKeySet `json:"jwks"`
}

// OPInfo is the provider metadata the login flow needs.
type OPInfo struct {
	Issuer                string   `json:"issuer"`
	AuthorizationEndpoint string   `json:"authorization_endpoint"`
	TokenEndpoint         string   `json:"token_endpoint"`
	UserinfoEndpoint      string   `json:"userinfo_endpoint,omitempty"`
	JWKSURI               string   `json:"jwks_uri,omitempty"`
	SigningAlgs           []string `json:"id_token_signing_alg_values_supported,omitempty"`
}

// ClientInfo is this deployment's registration at the provider.
type ClientInfo struct {
	ClientID                string   `json:"client_id"`
	ClientSecret            string   `json:"client_secret"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method,omitempty"`
	Scope                   Scopes   `json:"scope,omitempty"`
	RedirectURIs            []string `json:"redirect_uris,omitempty"`
}

// Scopes accepts either a space separated string or a list of scopes.
type Scopes []string

func (s *Scopes) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*s = strings.Fields(str)
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("scope must be a string or a list of strings")
	}
	*s = list
	return nil
}

// ParseProviderConfig decodes and validates the stored configuration.
func ParseProviderConfig(raw string) (*ProviderConfig, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, ErrProviderNotConfigured
	}
	var cfg ProviderConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidProviderConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every problem with the configuration at once.
func (c *ProviderConfig) Validate() error {
	var problems []string
	for field, v := range map[string]string{
		"op_info.issuer":                 c.OPInfo.Issuer,
		"op_info.authorization_endpoint": c.OPInfo.AuthorizationEndpoint,
		"op_info.token_endpoint":         c.OPInfo.TokenEndpoint,
	} {
		if !isAbsoluteURL(v) {
			problems = append(problems, field+" must be an absolute URL")
		}
	}
	if c.ClientInfo.ClientID == "" {
		problems = append(problems, "client_info.client_id is required")
	}
	switch c.ClientInfo.TokenEndpointAuthMethod {
	case "", AuthMethodClientSecretBasic, AuthMethodClientSecretPost:
	default:
		problems = append(problems, fmt.Sprintf("client_info.token_endpoint_auth_method %q is not supported", c.ClientInfo.TokenEndpointAuthMethod))
	}
	if len(c.signingKeys()) == 0 {
		problems = append(problems, "jwks must contain at least one signing key")
	}
	if len(problems) == 0 {
		return nil
	}
	slices.Sort(problems)
	return fmt.Errorf("%w: %s", ErrInvalidProviderConfig, strings.Join(problems, "; "))
}

func isAbsoluteURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && (u.Scheme == "https" || u.Scheme == "http") && u.Host != ""
}

// OAuth2Config returns the client configuration for redirectURL.
func (c *ProviderConfig) OAuth2Config(redirectURL string) *oauth2.Config {
	style := oauth2.AuthStyleInHeader
	if c.ClientInfo.TokenEndpointAuthMethod == AuthMethodClientSecretPost {
		style = oauth2.AuthStyleInParams
	}
	return &oauth2.Config{
		ClientID:     c.ClientInfo.ClientID,
		ClientSecret: c.ClientInfo.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:   c.OPInfo.AuthorizationEndpoint,
			TokenURL:  c.OPInfo.TokenEndpoint,
			AuthStyle: style,
		},
		RedirectURL: redirectURL,
		Scopes:      c.scopes(),
	}
}

func (c *ProviderConfig) scopes() []string {
	scopes := []string(c.ClientInfo.Scope)
	if len(scopes) == 0 {
		return []string{oidc.ScopeOpenID, ScopeOfflineAccess}
	}
	if !slices.Contains(scopes, oidc.ScopeOpenID) {
		scopes = append([]string{oidc.ScopeOpenID}, scopes...)
	}
	return scopes
}

// Verifier returns an ID token verifier trusting only the configured keys.
func (c *ProviderConfig) Verifier(now func() time.Time) *oidc.IDTokenVerifier {
	keys := c.signingKeys()
	pub := make([]crypto.PublicKey, 0, len(keys))
	for _, k := range keys {
		pub = append(pub, k.Key)
	}
	return oidc.NewVerifier(c.OPInfo.Issuer, &oidc.StaticKeySet{PublicKeys: pub}, &oidc.Config{
		ClientID:             c.ClientInfo.ClientID,
		SupportedSigningAlgs: c.signingAlgs(keys),
		Now:                  now,
	})
}

// signingKeys returns the public halves of the usable signature keys.
func (c *ProviderConfig) signingKeys() []jose.JSONWebKey {
	var keys []jose.JSONWebKey
	for _, k := range c.JWKS.Keys {
		if !k.Valid() || (k.Use != "" && k.Use != "sig") {
			continue
		}
		if !k.IsPublic() {
			k = k.Public()
		}
		switch k.Key.(type) {
		case *rsa.PublicKey, *ecdsa.PublicKey, ed25519.PublicKey:
			keys = append(keys, k)
		}
	}
	return keys
}

func (c *ProviderConfig) signingAlgs(keys []jose.JSONWebKey) []string {
	algs := slices.Clone(c.OPInfo.SigningAlgs)
	for _, k := range keys {
		alg := k.Algorithm
		if alg == "" {
			alg = defaultAlgorithm(k.Key)
		}
		if alg != "" && !slices.Contains(algs, alg) {
			algs = append(algs, alg)
		}
	}
	return algs
}

func defaultAlgorithm(key any) string {
	switch k := key.(type) {
	case *rsa.PublicKey:
		return oidc.RS256
	case *ecdsa.PublicKey:
		switch k.Curve {
		case elliptic.P256():
			return oidc.ES256
		case elliptic.P384():
			return oidc.ES384
		case elliptic.P521():
			return oidc.ES512
		}
	case ed25519.PublicKey:
		return oidc.EdDSA
	}
	return ""
}
