// Package session manages the signed cookies that carry login sessions and
// in-flight login flow state.
package session

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"

	"github.com/rjsadow/contestgate/internal/reqctx"
)

// ErrNoCookie is returned by Get when the cookie is absent.
var ErrNoCookie = errors.New("cookie not present")

// Jar reads and writes authenticated, encrypted cookies. Values are
// serialized as JSON.
type Jar struct {
	codec *securecookie.SecureCookie
}

// NewJar creates a jar from the given keys. maxAge bounds how old a cookie
// value may be when read back; zero disables the check.
func NewJar(hashKey, blockKey []byte, maxAge time.Duration) *Jar {
	codec := securecookie.New(hashKey, blockKey)
	codec.SetSerializer(securecookie.JSONEncoder{})
	codec.MaxAge(int(maxAge / time.Second))
	return &Jar{codec: codec}
}

// Set stores value in the cookie called name. The cookie carries no
// expiry and lives until the browser session ends or it is cleared.
func (j *Jar) Set(w http.ResponseWriter, r *http.Request, name string, value any) error {
	encoded, err := j.codec.Encode(name, value)
	if err != nil {
		return fmt.Errorf("encode cookie %s: %w", name, err)
	}
	http.SetCookie(w, newCookie(r, name, encoded, 0))
	return nil
}

// Get decodes the cookie called name into dst.
func (j *Jar) Get(r *http.Request, name string, dst any) error {
	c, err := r.Cookie(name)
	if err != nil {
		return ErrNoCookie
	}
	if err := j.codec.Decode(name, c.Value, dst); err != nil {
		return fmt.Errorf("decode cookie %s: %w", name, err)
	}
	return nil
}

// Clear expires the cookie called name. Clearing an absent cookie emits
// the same header as clearing a present one.
func (j *Jar) Clear(w http.ResponseWriter, r *http.Request, name string) {
	http.SetCookie(w, newCookie(r, name, "", -1))
}

func newCookie(r *http.Request, name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   reqctx.IsHTTPS(r),
		SameSite: http.SameSiteLaxMode,
	}
}
