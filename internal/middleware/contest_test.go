package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rjsadow/contestgate/internal/db"
	"github.com/rjsadow/contestgate/internal/db/dbtest"
	"github.com/rjsadow/contestgate/internal/login"
	"github.com/rjsadow/contestgate/internal/session"
)

type failingStore struct{}

func (failingStore) GetContestByName(context.Context, string) (*db.Contest, error) {
	return nil, errors.New("boom")
}

func contestRouter(store ContestStore, h http.HandlerFunc) http.Handler {
	r := chi.NewRouter()
	r.Route("/{contest}", func(r chi.Router) {
		r.Use(LoadContest(store))
		r.Get("/", h)
	})
	return r
}

func TestLoadContest(t *testing.T) {
	database := dbtest.NewTestDB(t)
	dbtest.SeedContest(t, database, db.Contest{Name: "ioi", AllowPasswordAuthentication: true})

	var loaded *db.Contest
	handler := contestRouter(database, func(w http.ResponseWriter, r *http.Request) {
		loaded = ContestFromContext(r.Context())
	})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ioi/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if loaded == nil || loaded.Name != "ioi" {
		t.Fatalf("contest in context = %+v, want ioi", loaded)
	}

	loaded = nil
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/unknown/", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	if loaded != nil {
		t.Error("handler must not run for unknown contests")
	}
}

func TestLoadContest_StoreError(t *testing.T) {
	handler := contestRouter(failingStore{}, func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run when the store fails")
	})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ioi/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestContestFromContext_Empty(t *testing.T) {
	if c := ContestFromContext(context.Background()); c != nil {
		t.Errorf("expected nil contest, got %+v", c)
	}
}

type participantFixture struct {
	database  *db.DB
	contest   *db.Contest
	signer    *login.TokenSigner
	issuer    *session.Issuer
	validator *login.Validator
	handler   http.Handler
	seen      *login.Grant
}

func newParticipantFixture(t *testing.T) *participantFixture {
	t.Helper()
	f := &participantFixture{database: dbtest.NewTestDB(t)}
	f.contest = dbtest.SeedContest(t, f.database, db.Contest{Name: "ioi", AllowPasswordAuthentication: true})
	u := dbtest.SeedUser(t, f.database, "alice", "pw")
	dbtest.SeedParticipation(t, f.database, db.Participation{ContestID: f.contest.ID, UserID: u.ID})

	f.signer = login.NewTokenSigner([]byte("0123456789abcdef0123456789abcdef"), time.Hour)
	f.validator = login.NewValidator(f.database, f.signer, nil)
	f.issuer = session.NewIssuer(session.NewJar(
		[]byte("hash-key-hash-key-hash-key-hash-key-hash-key-hash-key-hash-key-xx"),
		[]byte("block-key-block-key-block-key-32"),
		0,
	))

	r := chi.NewRouter()
	r.Route("/{contest}", func(r chi.Router) {
		r.Use(LoadContest(f.database))
		r.Use(ParticipantSession(f.validator, f.issuer))
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			f.seen = ParticipantFromContext(r.Context())
		})
	})
	f.handler = r
	return f
}

// sessionCookie returns a request cookie carrying token as the session of contest.
func (f *participantFixture) sessionCookie(t *testing.T, token string) *http.Cookie {
	t.Helper()
	rec := httptest.NewRecorder()
	if err := f.issuer.Issue(rec, httptest.NewRequest(http.MethodGet, "/", nil), "ioi", token); err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	return rec.Result().Cookies()[0]
}

func TestParticipantSession_Valid(t *testing.T) {
	f := newParticipantFixture(t)
	token, err := f.signer.Sign("ioi", "alice", time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/ioi/", nil)
	req.AddCookie(f.sessionCookie(t, token))
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	if f.seen == nil || f.seen.User.Username != "alice" {
		t.Fatalf("participant = %+v, want alice", f.seen)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != session.CookieName("ioi") || cookies[0].MaxAge != 0 {
		t.Errorf("expected refreshed session cookie, got %+v", cookies)
	}
}

func TestParticipantSession_Anonymous(t *testing.T) {
	f := newParticipantFixture(t)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ioi/", nil))

	if f.seen != nil {
		t.Errorf("expected anonymous request, got %+v", f.seen)
	}
	if len(rec.Result().Cookies()) != 0 {
		t.Errorf("anonymous request must not set cookies")
	}
}

func TestParticipantSession_ExpiredIsRevoked(t *testing.T) {
	f := newParticipantFixture(t)
	token, err := f.signer.Sign("ioi", "alice", time.Now().Add(-2*time.Hour))
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/ioi/", nil)
	req.AddCookie(f.sessionCookie(t, token))
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	if f.seen != nil {
		t.Errorf("expired session must not authenticate")
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].MaxAge >= 0 {
		t.Errorf("expected session cookie to be cleared, got %+v", cookies)
	}
}

func TestParticipantSession_ForeignContestToken(t *testing.T) {
	f := newParticipantFixture(t)
	token, err := f.signer.Sign("other", "alice", time.Now())
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/ioi/", nil)
	req.AddCookie(f.sessionCookie(t, token))
	f.handler.ServeHTTP(httptest.NewRecorder(), req)

	if f.seen != nil {
		t.Errorf("token minted for another contest must not authenticate")
	}
}
