// Package server provides the HTTP handler assembly for contestgate.
// It accepts all dependencies as parameters so that both main() and tests
// can build the same handler chain without route drift.
package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/rjsadow/contestgate/internal/auth"
	"github.com/rjsadow/contestgate/internal/config"
	"github.com/rjsadow/contestgate/internal/db"
	"github.com/rjsadow/contestgate/internal/login"
	"github.com/rjsadow/contestgate/internal/middleware"
	"github.com/rjsadow/contestgate/internal/session"
	"github.com/rjsadow/contestgate/internal/web"
)

// App holds all dependencies needed to build the HTTP handler.
type App struct {
	DB        *db.DB
	Config    *config.Config
	Strategy  auth.Strategy
	Validator *login.Validator
	Issuer    *session.Issuer
	Pages     *web.Renderer

	throttle *login.Throttle
}

// Options tweak how NewApp wires the application.
type Options struct {
	// HTTPClient is used for token requests to identity providers.
	HTTPClient *http.Client
	// Now overrides the clock of the login strategies.
	Now func() time.Time
}

// NewApp builds the application from configuration. Call Close when done.
func NewApp(cfg *config.Config, database *db.DB, opts Options) (*App, error) {
	kind, err := auth.ParseKind(cfg.AuthType)
	if err != nil {
		return nil, err
	}
	keys, err := cfg.DeriveKeys()
	if err != nil {
		return nil, err
	}
	pages, err := web.New()
	if err != nil {
		return nil, err
	}

	throttle := login.NewThrottle(rate.Limit(cfg.LoginRateLimit), cfg.LoginBurst)
	validator := login.NewValidator(database, login.NewTokenSigner(keys.Token, cfg.CookieDuration), throttle)
	issuer := session.NewIssuer(session.NewJar(keys.CookieHash, keys.CookieBlock, 0))

	strategy, err := auth.New(kind, auth.Deps{
		Validator:       validator,
		Issuer:          issuer,
		FlowJar:         session.NewJar(keys.CookieHash, keys.CookieBlock, cfg.OIDCStateTTL),
		Accounts:        database,
		Replay:          auth.NewReplayCache(auth.DefaultReplayCacheSize, cfg.OIDCStateTTL),
		ExchangeTimeout: cfg.OIDCExchangeTimeout,
		HTTPClient:      opts.HTTPClient,
		Now:             opts.Now,
	})
	if err != nil {
		throttle.Close()
		return nil, fmt.Errorf("configure %s login: %w", kind, err)
	}

	return &App{
		DB:        database,
		Config:    cfg,
		Strategy:  strategy,
		Validator: validator,
		Issuer:    issuer,
		Pages:     pages,
		throttle:  throttle,
	}, nil
}

// Close releases background resources.
func (a *App) Close() {
	a.throttle.Close()
}

// Handler builds and returns the complete HTTP handler with all routes
// registered and middleware applied.
func (a *App) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.TraceContext)
	if a.Config != nil && a.Config.TrustProxyHeaders {
		r.Use(middleware.TrustProxy)
	}
	r.Use(chimw.Recoverer)
	r.Use(middleware.SecurityHeaders)

	// Bind the handlers package to this App's dependencies.
	h := &handlers{app: a}

	// Observability endpoints
	r.Get("/healthz", h.handleHealthz)
	r.Get("/readyz", h.handleReadyz)

	r.Route("/{contest}", func(r chi.Router) {
		r.Use(middleware.LoadContest(a.DB))

		r.With(middleware.ParticipantSession(a.Validator, a.Issuer)).Get("/", h.handleContestIndex)
		r.Post("/logout", h.handleLogout)

		// Login routes of the active strategy
		a.Strategy.Routes(r)
	})

	return r
}
