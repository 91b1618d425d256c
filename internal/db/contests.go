package db

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// --- Contest CRUD ---

// GetContestByName retrieves a contest by its unique name. It returns
// nil, nil when no such contest exists.
func (db *DB) GetContestByName(ctx context.Context, name string) (*Contest, error) {
	var c Contest
	err := db.bun.NewSelect().Model(&c).Where("name = ?", name).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// UpsertContest creates the contest or replaces the settings of the
// existing contest with the same name, and returns the stored row.
func (db *DB) UpsertContest(ctx context.Context, c Contest) (*Contest, error) {
	now := time.Now()
	c.ID = 0
	c.CreatedAt = now
	c.UpdatedAt = now
	_, err := db.bun.NewInsert().Model(&c).
		On("CONFLICT (name) DO UPDATE").
		Set("description = EXCLUDED.description").
		Set("allow_password_authentication = EXCLUDED.allow_password_authentication").
		Set("ip_restriction = EXCLUDED.ip_restriction").
		Set("block_hidden_participations = EXCLUDED.block_hidden_participations").
		Set("openidconnect_info = EXCLUDED.openidconnect_info").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return nil, err
	}
	stored, err := db.GetContestByName(ctx, c.Name)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, ErrNotFound
	}
	return stored, nil
}

// ListContests returns all contests ordered by name
func (db *DB) ListContests(ctx context.Context) ([]Contest, error) {
	var contests []Contest
	err := db.bun.NewSelect().Model(&contests).OrderExpr("name").Scan(ctx)
	return contests, err
}
