package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rjsadow/contestgate/internal/reqctx"
)

func TestTrustProxy(t *testing.T) {
	var (
		https bool
		addr  string
	)
	handler := TrustProxy(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		https = reqctx.IsHTTPS(r)
		addr = ClientAddr(r).String()
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	req.Header.Set("X-Forwarded-For", "203.0.113.7")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if !https {
		t.Error("forwarded https must be honored behind a trusted proxy")
	}
	if addr != "203.0.113.7" {
		t.Errorf("client address = %q, want 203.0.113.7", addr)
	}
}

func TestForwardedProtoIgnoredWithoutTrustProxy(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	if reqctx.IsHTTPS(req) {
		t.Error("X-Forwarded-Proto from an untrusted client must be ignored")
	}
}
