// Package importer loads contests, users and participations from YAML
// files into the store.
package importer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"gopkg.in/yaml.v3"

	"github.com/rjsadow/contestgate/internal/auth"
	"github.com/rjsadow/contestgate/internal/db"
	"github.com/rjsadow/contestgate/internal/passwd"
)

// File is the document accepted by Import.
type File struct {
	Users    []User    `yaml:"users"`
	Contests []Contest `yaml:"contests"`
}

// User is an account to create. Existing accounts are left untouched.
type User struct {
	Username       string `yaml:"username"`
	FirstName      string `yaml:"first_name"`
	LastName       string `yaml:"last_name"`
	Email          string `yaml:"email"`
	Password       string `yaml:"password"`
	PasswordMethod string `yaml:"password_method"` // defaults to bcrypt
}

// Contest is a contest and its login settings.
type Contest struct {
	Name                        string          `yaml:"name"`
	Description                 string          `yaml:"description"`
	AllowPasswordAuthentication *bool           `yaml:"allow_password_authentication"`
	IPRestriction               bool            `yaml:"ip_restriction"`
	BlockHiddenParticipations   bool            `yaml:"block_hidden_participations"`
	OpenIDConnect               map[string]any  `yaml:"openidconnect"`
	Participations              []Participation `yaml:"participations"`
}

// Participation enrolls an existing or imported user in a contest.
type Participation struct {
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	PasswordMethod string   `yaml:"password_method"`
	Hidden         bool     `yaml:"hidden"`
	IP             []string `yaml:"ip"`
}

// Summary counts what an import changed.
type Summary struct {
	UsersCreated   int
	UsersExisting  int
	Contests       int
	Participations int
}

// Store is the persistence Import writes to.
type Store interface {
	EnsureUser(ctx context.Context, u db.User) (*db.User, bool, error)
	GetUserByUsername(ctx context.Context, username string) (*db.User, error)
	UpsertContest(ctx context.Context, c db.Contest) (*db.Contest, error)
	UpsertParticipation(ctx context.Context, p db.Participation) (*db.Participation, error)
}

// Parse decodes and checks an import document.
func Parse(r io.Reader) (*File, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode import file: %w", err)
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *File) validate() error {
	var errs []error
	for i, u := range f.Users {
		if u.Username == "" {
			errs = append(errs, fmt.Errorf("users[%d]: username is required", i))
		}
	}
	for i, c := range f.Contests {
		if c.Name == "" {
			errs = append(errs, fmt.Errorf("contests[%d]: name is required", i))
		}
		if c.OpenIDConnect != nil {
			if _, err := providerJSON(c.OpenIDConnect); err != nil {
				errs = append(errs, fmt.Errorf("contests[%d].openidconnect: %w", i, err))
			}
		}
		for j, p := range c.Participations {
			if p.Username == "" {
				errs = append(errs, fmt.Errorf("contests[%d].participations[%d]: username is required", i, j))
			}
		}
	}
	return errors.Join(errs...)
}

// providerJSON converts the YAML provider configuration to the stored JSON
// form and validates it.
func providerJSON(cfg map[string]any) (string, error) {
	b, err := json.Marshal(cfg)
	if err != nil {
		return "", err
	}
	if _, err := auth.ParseProviderConfig(string(b)); err != nil {
		return "", err
	}
	return string(b), nil
}

// Import writes f to store. Contests and participations are created or
// updated; users are only created.
func Import(ctx context.Context, store Store, f *File) (Summary, error) {
	var s Summary

	for _, u := range f.Users {
		encoded, err := encode(u.PasswordMethod, u.Password)
		if err != nil {
			return s, fmt.Errorf("user %s: %w", u.Username, err)
		}
		_, created, err := store.EnsureUser(ctx, db.User{
			Username:  u.Username,
			FirstName: u.FirstName,
			LastName:  u.LastName,
			Email:     u.Email,
			Password:  encoded,
		})
		if err != nil {
			return s, fmt.Errorf("user %s: %w", u.Username, err)
		}
		if created {
			s.UsersCreated++
		} else {
			s.UsersExisting++
			slog.Info("user already exists, skipping", "username", u.Username)
		}
	}

	for _, c := range f.Contests {
		contest := db.Contest{
			Name:                        c.Name,
			Description:                 c.Description,
			AllowPasswordAuthentication: c.AllowPasswordAuthentication == nil || *c.AllowPasswordAuthentication,
			IPRestriction:               c.IPRestriction,
			BlockHiddenParticipations:   c.BlockHiddenParticipations,
		}
		if c.OpenIDConnect != nil {
			raw, err := providerJSON(c.OpenIDConnect)
			if err != nil {
				return s, fmt.Errorf("contest %s: %w", c.Name, err)
			}
			contest.OpenIDConnectInfo = raw
		}
		stored, err := store.UpsertContest(ctx, contest)
		if err != nil {
			return s, fmt.Errorf("contest %s: %w", c.Name, err)
		}
		s.Contests++

		for _, p := range c.Participations {
			user, err := store.GetUserByUsername(ctx, p.Username)
			if err != nil {
				return s, fmt.Errorf("contest %s: participation %s: %w", c.Name, p.Username, err)
			}
			if user == nil {
				return s, fmt.Errorf("contest %s: participation %s: %w", c.Name, p.Username, db.ErrNotFound)
			}
			var encoded string
			if p.Password != "" {
				if encoded, err = encode(p.PasswordMethod, p.Password); err != nil {
					return s, fmt.Errorf("contest %s: participation %s: %w", c.Name, p.Username, err)
				}
			}
			if _, err := store.UpsertParticipation(ctx, db.Participation{
				ContestID: stored.ID,
				UserID:    user.ID,
				Password:  encoded,
				Hidden:    p.Hidden,
				IP:        db.StringSlice(p.IP),
			}); err != nil {
				return s, fmt.Errorf("contest %s: participation %s: %w", c.Name, p.Username, err)
			}
			s.Participations++
		}
	}
	return s, nil
}

func encode(method, password string) (string, error) {
	if method == "" {
		method = passwd.MethodBcrypt
	}
	return passwd.Build(method, password)
}
