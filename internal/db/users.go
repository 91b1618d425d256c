package db

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// --- User CRUD ---

// CreateUser inserts a new user. It fails when the username is taken.
func (db *DB) CreateUser(ctx context.Context, u User) (*User, error) {
	now := time.Now()
	u.ID = 0
	u.CreatedAt = now
	u.UpdatedAt = now
	if _, err := db.bun.NewInsert().Model(&u).Exec(ctx); err != nil {
		return nil, err
	}
	return db.mustGetUser(ctx, u.Username)
}

// GetUserByUsername retrieves a user by username. It returns nil, nil
// when no such user exists.
func (db *DB) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	var u User
	err := db.bun.NewSelect().Model(&u).Where("username = ?", username).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// EnsureUser returns the user with u.Username, creating it from u when it
// does not exist yet. Concurrent callers racing on the same username all
// get the single stored row; created is true only for the caller whose
// insert won.
func (db *DB) EnsureUser(ctx context.Context, u User) (user *User, created bool, err error) {
	existing, err := db.GetUserByUsername(ctx, u.Username)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	now := time.Now()
	u.ID = 0
	u.CreatedAt = now
	u.UpdatedAt = now
	res, err := db.bun.NewInsert().Model(&u).On("CONFLICT (username) DO NOTHING").Exec(ctx)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// Postgres RETURNING yields no row when the conflict path was taken
	case err != nil:
		return nil, false, err
	default:
		if n, rerr := res.RowsAffected(); rerr == nil && n > 0 {
			created = true
		}
	}

	user, err = db.mustGetUser(ctx, u.Username)
	if err != nil {
		return nil, false, err
	}
	return user, created, nil
}

// SetUserPassword replaces the stored (already encoded) password.
func (db *DB) SetUserPassword(ctx context.Context, username, encoded string) error {
	result, err := db.bun.NewUpdate().Model((*User)(nil)).
		Set("password = ?", encoded).
		Set("updated_at = ?", time.Now()).
		Where("username = ?", username).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (db *DB) mustGetUser(ctx context.Context, username string) (*User, error) {
	u, err := db.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrNotFound
	}
	return u, nil
}
