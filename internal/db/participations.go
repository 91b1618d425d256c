package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/uptrace/bun"
)

// --- Participation CRUD ---

// FindParticipation returns the participation of username in the contest,
// with its User loaded. It returns nil, nil when the user does not take
// part in the contest.
func (db *DB) FindParticipation(ctx context.Context, contestID int64, username string) (*Participation, error) {
	var p Participation
	err := db.bun.NewSelect().Model(&p).
		Relation("User").
		Where("?TableAlias.contest_id = ?", contestID).
		Where("?.username = ?", bun.Ident("user"), username).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// EnsureParticipation returns the participation of userID in contestID,
// creating a plain one (no password override, not hidden, no network
// restriction) when none exists. Safe against concurrent callers.
func (db *DB) EnsureParticipation(ctx context.Context, contestID, userID int64) (p *Participation, created bool, err error) {
	np := Participation{
		ContestID: contestID,
		UserID:    userID,
		CreatedAt: time.Now(),
	}
	res, err := db.bun.NewInsert().Model(&np).On("CONFLICT (contest_id, user_id) DO NOTHING").Exec(ctx)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, false, err
	default:
		if n, rerr := res.RowsAffected(); rerr == nil && n > 0 {
			created = true
		}
	}

	p, err = db.getParticipation(ctx, contestID, userID)
	if err != nil {
		return nil, false, err
	}
	return p, created, nil
}

// UpsertParticipation creates or replaces the participation settings for
// (p.ContestID, p.UserID).
func (db *DB) UpsertParticipation(ctx context.Context, p Participation) (*Participation, error) {
	p.ID = 0
	p.CreatedAt = time.Now()
	_, err := db.bun.NewInsert().Model(&p).
		On("CONFLICT (contest_id, user_id) DO UPDATE").
		Set("password = EXCLUDED.password").
		Set("hidden = EXCLUDED.hidden").
		Set("ip = EXCLUDED.ip").
		Exec(ctx)
	if err != nil {
		return nil, err
	}
	return db.getParticipation(ctx, p.ContestID, p.UserID)
}

// ListParticipations returns the participations of a contest ordered by username
func (db *DB) ListParticipations(ctx context.Context, contestID int64) ([]Participation, error) {
	var ps []Participation
	err := db.bun.NewSelect().Model(&ps).
		Relation("User").
		Where("?TableAlias.contest_id = ?", contestID).
		OrderExpr("?.username", bun.Ident("user")).
		Scan(ctx)
	return ps, err
}

func (db *DB) getParticipation(ctx context.Context, contestID, userID int64) (*Participation, error) {
	var p Participation
	err := db.bun.NewSelect().Model(&p).
		Relation("User").
		Where("?TableAlias.contest_id = ?", contestID).
		Where("?TableAlias.user_id = ?", userID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}
