// Package passwd encodes and checks stored passwords.
//
// Stored passwords have the form "method:payload". Two methods are known:
//   - bcrypt: payload is a bcrypt hash
//   - plaintext: payload is the password itself (imported contest data)
package passwd

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	MethodBcrypt    = "bcrypt"
	MethodPlaintext = "plaintext"
)

// RandomPasswordBytes is the entropy of generated passwords.
const RandomPasswordBytes = 32

var (
	ErrUnknownMethod = errors.New("unknown password method")
	ErrMalformed     = errors.New("malformed password encoding")
)

// Build encodes a plaintext password with the given method.
func Build(method, password string) (string, error) {
	switch method {
	case MethodBcrypt:
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return "", fmt.Errorf("hash password: %w", err)
		}
		return MethodBcrypt + ":" + string(hash), nil
	case MethodPlaintext:
		return MethodPlaintext + ":" + password, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}
}

// Hash encodes password with bcrypt.
func Hash(password string) (string, error) {
	return Build(MethodBcrypt, password)
}

// Parse splits an encoded password into its method and payload.
func Parse(encoded string) (method, payload string, err error) {
	method, payload, ok := strings.Cut(encoded, ":")
	if !ok || method == "" {
		return "", "", ErrMalformed
	}
	switch method {
	case MethodBcrypt, MethodPlaintext:
		return method, payload, nil
	default:
		return "", "", fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}
}

// Validate reports whether password matches the encoded password.
// Malformed encodings never match.
func Validate(encoded, password string) bool {
	method, payload, err := Parse(encoded)
	if err != nil {
		return false
	}
	switch method {
	case MethodBcrypt:
		return bcrypt.CompareHashAndPassword([]byte(payload), []byte(password)) == nil
	case MethodPlaintext:
		return subtle.ConstantTimeCompare([]byte(payload), []byte(password)) == 1
	}
	return false
}

// GenerateRandom returns a high-entropy password that is never shown to anyone.
func GenerateRandom() (string, error) {
	b := make([]byte, RandomPasswordBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
