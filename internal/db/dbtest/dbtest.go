// Package dbtest provides shared test helpers for creating test databases.
// All test packages that need a database should use NewTestDB instead of
// writing their own setup functions. The backend is controlled by the
// CONTESTGATE_TEST_DB_TYPE environment variable ("sqlite" or "postgres").
package dbtest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rjsadow/contestgate/internal/db"
	"github.com/rjsadow/contestgate/internal/passwd"
)

// testDBType returns the configured test database type (default: "sqlite").
func testDBType() string {
	if v := os.Getenv("CONTESTGATE_TEST_DB_TYPE"); v != "" {
		return v
	}
	return "sqlite"
}

// NewTestDB creates a test database appropriate for the current backend.
//
// For SQLite (default): creates a temp-file database in t.TempDir().
// For Postgres: connects using CONTESTGATE_TEST_POSTGRES_DSN and truncates
// all tables. Skips the test if no DSN is set.
//
// Cleanup (Close) is registered via t.Cleanup automatically.
func NewTestDB(t testing.TB) *db.DB {
	t.Helper()

	dbType := testDBType()

	switch dbType {
	case "sqlite":
		return newSQLiteTestDB(t)
	case "postgres":
		return newPostgresTestDB(t)
	default:
		t.Fatalf("unsupported CONTESTGATE_TEST_DB_TYPE: %s", dbType)
		return nil
	}
}

func newSQLiteTestDB(t testing.TB) *db.DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	database, err := db.OpenDB("sqlite", dbPath)
	if err != nil {
		t.Fatalf("dbtest: failed to open SQLite database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func newPostgresTestDB(t testing.TB) *db.DB {
	t.Helper()

	dsn := os.Getenv("CONTESTGATE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("CONTESTGATE_TEST_POSTGRES_DSN not set; skipping Postgres test")
	}

	database, err := db.OpenDB("postgres", dsn)
	if err != nil {
		t.Fatalf("dbtest: failed to open Postgres database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	truncateAllTables(t, database)
	return database
}

// truncateAllTables removes all data from Postgres tables in FK-safe order.
func truncateAllTables(t testing.TB, database *db.DB) {
	t.Helper()

	for _, table := range []string{"audit_log", "participations", "users", "contests"} {
		if _, err := database.ExecRaw("TRUNCATE TABLE " + table + " RESTART IDENTITY CASCADE"); err != nil {
			t.Fatalf("dbtest: failed to truncate %s: %v", table, err)
		}
	}
}

// SeedContest stores a contest, failing the test on error.
func SeedContest(t testing.TB, database *db.DB, c db.Contest) *db.Contest {
	t.Helper()
	stored, err := database.UpsertContest(context.Background(), c)
	if err != nil {
		t.Fatalf("dbtest: failed to seed contest %q: %v", c.Name, err)
	}
	return stored
}

// SeedUser stores a local user with a plaintext-encoded password.
func SeedUser(t testing.TB, database *db.DB, username, password string) *db.User {
	t.Helper()
	encoded, err := passwd.Build(passwd.MethodPlaintext, password)
	if err != nil {
		t.Fatalf("dbtest: failed to encode password: %v", err)
	}
	u, err := database.CreateUser(context.Background(), db.User{
		Username:  username,
		FirstName: username,
		Password:  encoded,
	})
	if err != nil {
		t.Fatalf("dbtest: failed to seed user %q: %v", username, err)
	}
	return u
}

// SeedParticipation stores p, failing the test on error.
func SeedParticipation(t testing.TB, database *db.DB, p db.Participation) *db.Participation {
	t.Helper()
	stored, err := database.UpsertParticipation(context.Background(), p)
	if err != nil {
		t.Fatalf("dbtest: failed to seed participation: %v", err)
	}
	return stored
}
