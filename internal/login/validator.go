// Package login decides whether a principal may hold a session for a
// contest and mints the session token when it may.
package login

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/rjsadow/contestgate/internal/db"
	"github.com/rjsadow/contestgate/internal/passwd"
	"github.com/rjsadow/contestgate/internal/reqctx"
)

// ErrLoginFailed is wrapped by every error returned from this package.
// Handlers must not reveal anything more specific to the client.
var ErrLoginFailed = errors.New("login failed")

var (
	ErrThrottled             = fmt.Errorf("%w: too many attempts", ErrLoginFailed)
	ErrNotRegistered         = fmt.Errorf("%w: not registered for contest", ErrLoginFailed)
	ErrPasswordLoginDisabled = fmt.Errorf("%w: password login disabled", ErrLoginFailed)
	ErrInvalidCredentials    = fmt.Errorf("%w: invalid credentials", ErrLoginFailed)
	ErrHidden                = fmt.Errorf("%w: hidden participation", ErrLoginFailed)
	ErrNoIP                  = fmt.Errorf("%w: client address unknown", ErrLoginFailed)
	ErrIPRejected            = fmt.Errorf("%w: client address not allowed", ErrLoginFailed)
	ErrInvalidSession        = fmt.Errorf("%w: invalid session", ErrLoginFailed)
)

// Audit actions recorded by the validator.
const (
	ActionLogin       = "login"
	ActionLoginFailed = "login_failed"
)

// dummyPassword is a bcrypt encoding compared against whenever an attempt has
// no bcrypt password to check, so every attempt costs one bcrypt comparison
// whether or not the username exists.
var dummyPassword = sync.OnceValue(func() string {
	encoded, err := passwd.Hash("contestgate timing equalizer")
	if err != nil {
		panic(fmt.Sprintf("login: hash dummy password: %v", err))
	}
	return encoded
})

// validatePassword is replaced in tests to observe comparisons.
var validatePassword = passwd.Validate

// Store is the persistence the validator needs.
type Store interface {
	FindParticipation(ctx context.Context, contestID int64, username string) (*db.Participation, error)
	LogAudit(ctx context.Context, contest, username, action, details string) error
}

// Grant is the outcome of a successful check: the participation the
// session belongs to and a freshly minted token.
type Grant struct {
	Participation *db.Participation
	User          *db.User
	Token         string
	IssuedAt      time.Time
}

// Validator implements the credential and session policy.
type Validator struct {
	store    Store
	signer   *TokenSigner
	throttle *Throttle
}

// NewValidator creates a validator. throttle may be nil.
func NewValidator(store Store, signer *TokenSigner, throttle *Throttle) *Validator {
	return &Validator{store: store, signer: signer, throttle: throttle}
}

// ValidateLogin checks a username/password attempt against contest at ts.
// ip is the client address; the zero Addr means it is unknown.
func (v *Validator) ValidateLogin(ctx context.Context, contest *db.Contest, ts time.Time, username, password string, ip netip.Addr) (*Grant, error) {
	key := "user:" + username
	if ip.IsValid() {
		key = "ip:" + ip.String()
	}
	if !v.throttle.AllowAt(key, ts) {
		return nil, v.fail(ctx, contest, username, ip, ErrThrottled)
	}

	p, err := v.store.FindParticipation(ctx, contest.ID, username)
	if err != nil {
		return nil, fmt.Errorf("%w: find participation: %w", ErrLoginFailed, err)
	}
	if p == nil || p.User == nil {
		validatePassword(dummyPassword(), password)
		return nil, v.fail(ctx, contest, username, ip, ErrNotRegistered)
	}

	if !contest.AllowPasswordAuthentication || p.User.Federated() {
		validatePassword(dummyPassword(), password)
		return nil, v.fail(ctx, contest, username, ip, ErrPasswordLoginDisabled)
	}

	stored := p.User.Password
	if p.Password != "" {
		stored = p.Password
	}
	if !checkPassword(stored, password) {
		return nil, v.fail(ctx, contest, username, ip, ErrInvalidCredentials)
	}

	grant, err := v.grant(ctx, contest, p, ts, ip)
	if err != nil {
		return nil, v.fail(ctx, contest, username, ip, err)
	}
	v.succeed(ctx, contest, username, ip, "password")
	return grant, nil
}

// LoginUser grants a session to an already identified user, skipping the
// credential check but applying the rest of the session policy.
func (v *Validator) LoginUser(ctx context.Context, contest *db.Contest, ts time.Time, user *db.User, ip netip.Addr) (*Grant, error) {
	p, err := v.store.FindParticipation(ctx, contest.ID, user.Username)
	if err != nil {
		return nil, fmt.Errorf("%w: find participation: %w", ErrLoginFailed, err)
	}
	if p == nil {
		return nil, v.fail(ctx, contest, user.Username, ip, ErrNotRegistered)
	}

	grant, err := v.grant(ctx, contest, p, ts, ip)
	if err != nil {
		return nil, v.fail(ctx, contest, user.Username, ip, err)
	}
	v.succeed(ctx, contest, user.Username, ip, string(user.AuthSource))
	return grant, nil
}

// Authenticate checks an existing session token at ts and returns a grant
// carrying a refreshed token.
func (v *Validator) Authenticate(ctx context.Context, contest *db.Contest, token string, ts time.Time, ip netip.Addr) (*Grant, error) {
	if token == "" {
		return nil, ErrInvalidSession
	}
	claims, err := v.signer.Parse(contest.Name, token, ts)
	if err != nil {
		reqctx.Logger(ctx).Debug("session token rejected", "contest", contest.Name, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrInvalidSession, err)
	}

	p, err := v.store.FindParticipation(ctx, contest.ID, claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("%w: find participation: %w", ErrLoginFailed, err)
	}
	if p == nil {
		return nil, ErrNotRegistered
	}
	return v.grant(ctx, contest, p, ts, ip)
}

// Claims returns the claims of a session token of contest that is still
// valid now, without consulting the store.
func (v *Validator) Claims(contest *db.Contest, token string) (*Claims, error) {
	return v.signer.Parse(contest.Name, token, time.Now())
}

// grant applies the policy common to every way of obtaining a session and
// mints the token.
func (v *Validator) grant(ctx context.Context, contest *db.Contest, p *db.Participation, ts time.Time, ip netip.Addr) (*Grant, error) {
	if contest.BlockHiddenParticipations && p.Hidden {
		return nil, ErrHidden
	}

	if contest.IPRestriction && len(p.IP) > 0 {
		if !ip.IsValid() {
			return nil, ErrNoIP
		}
		if !addrAllowed(ctx, ip, p.IP) {
			return nil, ErrIPRejected
		}
	}

	username := p.User.Username
	token, err := v.signer.Sign(contest.Name, username, ts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoginFailed, err)
	}
	return &Grant{
		Participation: p,
		User:          p.User,
		Token:         token,
		IssuedAt:      ts,
	}, nil
}

// addrAllowed reports whether ip falls inside one of networks. Entries may
// be CIDR prefixes or bare addresses; unparsable entries never match.
func addrAllowed(ctx context.Context, ip netip.Addr, networks []string) bool {
	ip = ip.Unmap()
	for _, n := range networks {
		prefix, err := netip.ParsePrefix(n)
		if err != nil {
			addr, aerr := netip.ParseAddr(n)
			if aerr != nil {
				reqctx.Logger(ctx).Warn("ignoring malformed participation network", "network", n)
				continue
			}
			addr = addr.Unmap()
			prefix = netip.PrefixFrom(addr, addr.BitLen())
		}
		if prefix.Masked().Contains(ip) {
			return true
		}
	}
	return false
}

// checkPassword compares password with the stored encoding. Encodings that
// are not bcrypt are padded with a dummy bcrypt comparison.
func checkPassword(stored, password string) bool {
	if method, _, err := passwd.Parse(stored); err != nil || method != passwd.MethodBcrypt {
		validatePassword(dummyPassword(), password)
	}
	return validatePassword(stored, password)
}

func (v *Validator) fail(ctx context.Context, contest *db.Contest, username string, ip netip.Addr, reason error) error {
	reqctx.Logger(ctx).Info("login failed",
		"contest", contest.Name,
		"username", username,
		"ip", addrString(ip),
		"reason", reason,
	)
	v.audit(ctx, contest.Name, username, ActionLoginFailed, reason.Error())
	return reason
}

func (v *Validator) succeed(ctx context.Context, contest *db.Contest, username string, ip netip.Addr, method string) {
	reqctx.Logger(ctx).Info("login succeeded",
		"contest", contest.Name,
		"username", username,
		"ip", addrString(ip),
		"method", method,
	)
	v.audit(ctx, contest.Name, username, ActionLogin, method)
}

func (v *Validator) audit(ctx context.Context, contest, username, action, details string) {
	if err := v.store.LogAudit(ctx, contest, username, action, details); err != nil {
		reqctx.Logger(ctx).Warn("failed to record audit entry", "action", action, "error", err)
	}
}

func addrString(ip netip.Addr) string {
	if !ip.IsValid() {
		return ""
	}
	return ip.String()
}
