package auth

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rjsadow/contestgate/internal/db"
	"github.com/rjsadow/contestgate/internal/middleware"
)

// passwordStrategy logs users in with a username and password form.
type passwordStrategy struct {
	deps Deps
}

func (s *passwordStrategy) Kind() Kind            { return KindPassword }
func (s *passwordStrategy) LoginFragment() string { return "auth_password" }
func (s *passwordStrategy) sealed()               {}

func (s *passwordStrategy) UserString(u *db.User) string {
	return u.Username
}

func (s *passwordStrategy) Routes(r chi.Router) {
	r.Post("/login", s.handleLogin)
}

func (s *passwordStrategy) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	contest := middleware.ContestFromContext(ctx)
	if contest == nil {
		http.NotFound(w, r)
		return
	}

	// A malformed body leaves the fields empty and fails validation below.
	if err := r.ParseForm(); err != nil {
		middleware.Logger(ctx).Info("unreadable login form", "contest", contest.Name, "error", err)
	}
	username := r.PostFormValue("username")
	password := r.PostFormValue("password")
	next := r.PostFormValue("next")

	grant, err := s.deps.Validator.ValidateLogin(ctx, contest, s.deps.now(), username, password, middleware.ClientAddr(r))
	completeLogin(w, r, s.deps, contest, grant, err, next)
}
