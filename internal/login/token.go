package login

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenIssuer is the iss claim of every login session token.
const TokenIssuer = "contestgate"

// Claims are the claims of a login session token. The audience is the
// contest name and the subject is the username.
type Claims struct {
	jwt.RegisteredClaims
}

// TokenSigner mints and verifies login session tokens.
type TokenSigner struct {
	key      []byte
	duration time.Duration
}

// NewTokenSigner returns a signer using HS256 with key. Tokens stay valid
// for duration after they were issued.
func NewTokenSigner(key []byte, duration time.Duration) *TokenSigner {
	return &TokenSigner{key: key, duration: duration}
}

// Duration returns how long a token stays valid after issuance.
func (s *TokenSigner) Duration() time.Duration {
	return s.duration
}

// Sign mints a token binding username to contest, issued at issuedAt.
func (s *TokenSigner) Sign(contest, username string, issuedAt time.Time) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    TokenIssuer,
			Subject:   username,
			Audience:  jwt.ClaimStrings{contest},
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(s.duration)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// Parse verifies a token for contest as seen at now and returns its claims.
func (s *TokenSigner) Parse(contest, tokenString string, now time.Time) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(TokenIssuer),
		jwt.WithAudience(contest),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Subject == "" || claims.IssuedAt == nil {
		return nil, errors.New("token lacks subject or issue time")
	}
	// The lifetime is re-checked against the current duration so that
	// shortening it takes effect for tokens already handed out.
	if now.Sub(claims.IssuedAt.Time) > s.duration {
		return nil, jwt.ErrTokenExpired
	}
	return claims, nil
}
