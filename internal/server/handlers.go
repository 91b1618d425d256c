package server

import (
	"encoding/json"
	"net/http"

	"github.com/rjsadow/contestgate/internal/auth"
	"github.com/rjsadow/contestgate/internal/middleware"
	"github.com/rjsadow/contestgate/internal/web"
)

// ActionLogout is the audit action recorded when a participant logs out.
const ActionLogout = "logout"

// handlers binds HTTP handler methods to an App's dependencies.
type handlers struct {
	app *App
}

// --- Health endpoints ---

func (h *handlers) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (h *handlers) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ready := true
	checks := make(map[string]any)

	if err := h.app.DB.Ping(r.Context()); err != nil {
		ready = false
		checks["database"] = map[string]string{"status": "unhealthy", "error": err.Error()}
	} else {
		checks["database"] = map[string]string{"status": "healthy"}
	}
	checks["auth_type"] = string(h.app.Strategy.Kind())

	w.Header().Set("Content-Type", "application/json")
	if ready {
		checks["status"] = "ready"
		w.WriteHeader(http.StatusOK)
	} else {
		checks["status"] = "not_ready"
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(checks)
}

// --- Contest pages ---

func (h *handlers) handleContestIndex(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	contest := middleware.ContestFromContext(ctx)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	var err error
	if grant := middleware.ParticipantFromContext(ctx); grant != nil {
		err = h.app.Pages.Index(w, web.IndexPage{
			Contest:    contest,
			Username:   grant.User.Username,
			UserString: h.app.Strategy.UserString(grant.User),
		})
	} else {
		q := r.URL.Query()
		err = h.app.Pages.Login(w, web.LoginPage{
			Contest:    contest,
			Fragment:   h.app.Strategy.LoginFragment(),
			Next:       auth.SafeNext(contest.Name, q.Get("next")),
			LoginError: q.Get("login_error") == "true",
		})
	}
	if err != nil {
		middleware.Logger(ctx).Error("failed to render contest page", "contest", contest.Name, "error", err)
	}
}

func (h *handlers) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	contest := middleware.ContestFromContext(ctx)

	if token := h.app.Issuer.Token(r, contest.Name); token != "" {
		if claims, err := h.app.Validator.Claims(contest, token); err == nil {
			if err := h.app.DB.LogAudit(ctx, contest.Name, claims.Subject, ActionLogout, ""); err != nil {
				middleware.Logger(ctx).Warn("failed to record audit entry", "action", ActionLogout, "error", err)
			}
		}
	}

	h.app.Issuer.Revoke(w, r, contest.Name)
	http.Redirect(w, r, auth.ContestRoot(contest.Name), http.StatusSeeOther)
}
