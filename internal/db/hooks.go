package db

import (
	"context"
	"time"

	"github.com/uptrace/bun"
)

// --- Contest hooks ---

var _ bun.BeforeAppendModelHook = (*Contest)(nil)

func (c *Contest) BeforeAppendModel(_ context.Context, query bun.Query) error {
	if _, ok := query.(*bun.UpdateQuery); ok {
		c.UpdatedAt = time.Now()
	}
	return nil
}

// --- User hooks ---

var _ bun.BeforeAppendModelHook = (*User)(nil)
var _ bun.AfterScanRowHook = (*User)(nil)

func (u *User) BeforeAppendModel(_ context.Context, query bun.Query) error {
	// Set defaults
	if u.AuthSource == "" {
		u.AuthSource = AuthSourceLocal
	}
	if _, ok := query.(*bun.UpdateQuery); ok {
		u.UpdatedAt = time.Now()
	}
	return nil
}

func (u *User) AfterScanRow(_ context.Context) error {
	// Rows written before auth_source existed count as local accounts
	if u.AuthSource == "" {
		u.AuthSource = AuthSourceLocal
	}
	return nil
}

// --- Participation hooks ---

var _ bun.AfterScanRowHook = (*Participation)(nil)

func (p *Participation) AfterScanRow(_ context.Context) error {
	if len(p.IP) == 0 {
		p.IP = nil
	}
	return nil
}
