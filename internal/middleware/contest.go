package middleware

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rjsadow/contestgate/internal/db"
)

const contestContextKey contextKey = "contest"

// ContestStore looks contests up by name.
type ContestStore interface {
	GetContestByName(ctx context.Context, name string) (*db.Contest, error)
}

// WithContest returns a copy of ctx carrying contest.
func WithContest(ctx context.Context, contest *db.Contest) context.Context {
	return context.WithValue(ctx, contestContextKey, contest)
}

// ContestFromContext retrieves the contest loaded by LoadContest.
func ContestFromContext(ctx context.Context) *db.Contest {
	c, _ := ctx.Value(contestContextKey).(*db.Contest)
	return c
}

// LoadContest resolves the {contest} URL parameter and stores the contest
// in the request context. Unknown contests get a 404.
func LoadContest(store ContestStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			name := chi.URLParam(r, "contest")
			contest, err := store.GetContestByName(r.Context(), name)
			if err != nil {
				Logger(r.Context()).Error("failed to load contest", "contest", name, "error", err)
				http.Error(w, "Internal server error", http.StatusInternalServerError)
				return
			}
			if contest == nil {
				http.NotFound(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithContest(r.Context(), contest)))
		})
	}
}
