package db

import (
	"os"
	"path/filepath"
	"testing"
)

// testDBType returns the configured test database type (default: "sqlite").
func testDBType() string {
	if v := os.Getenv("CONTESTGATE_TEST_DB_TYPE"); v != "" {
		return v
	}
	return "sqlite"
}

// newTestDatabase creates a test database for the db package's own tests.
// This mirrors dbtest.NewTestDB but lives inside the db package to avoid
// a circular import (db -> dbtest -> db).
func newTestDatabase(t *testing.T) *DB {
	t.Helper()

	dbType := testDBType()

	switch dbType {
	case "sqlite":
		dbPath := filepath.Join(t.TempDir(), "test.db")
		database, err := OpenDB("sqlite", dbPath)
		if err != nil {
			t.Fatalf("failed to open SQLite test database: %v", err)
		}
		t.Cleanup(func() { database.Close() })
		return database

	case "postgres":
		dsn := os.Getenv("CONTESTGATE_TEST_POSTGRES_DSN")
		if dsn == "" {
			t.Skip("CONTESTGATE_TEST_POSTGRES_DSN not set; skipping Postgres test")
		}
		database, err := OpenDB("postgres", dsn)
		if err != nil {
			t.Fatalf("failed to open Postgres test database: %v", err)
		}
		t.Cleanup(func() { database.Close() })
		truncateAllTables(t, database)
		return database

	default:
		t.Fatalf("unsupported CONTESTGATE_TEST_DB_TYPE: %s", dbType)
		return nil
	}
}

// truncateAllTables removes all data from Postgres tables. Used before each
// test to ensure a clean state.
func truncateAllTables(t *testing.T, database *DB) {
	t.Helper()

	for _, table := range []string{"audit_log", "participations", "users", "contests"} {
		if _, err := database.ExecRaw("TRUNCATE TABLE " + table + " RESTART IDENTITY CASCADE"); err != nil {
			t.Fatalf("failed to truncate %s: %v", table, err)
		}
	}
}

func TestNewTestDatabase_ReturnsWorkingDB(t *testing.T) {
	database := newTestDatabase(t)

	if err := database.Ping(t.Context()); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
	if database.DBType() != testDBType() {
		t.Errorf("DBType() = %q, want %q", database.DBType(), testDBType())
	}
}

func TestNewTestDatabase_IndependentInstances(t *testing.T) {
	db1 := newTestDatabase(t)
	db2 := newTestDatabase(t)

	if _, err := db1.UpsertContest(t.Context(), Contest{Name: "instance_test"}); err != nil {
		t.Fatalf("db1 UpsertContest error: %v", err)
	}

	// SQLite: each call creates a separate temp file. Postgres shares one
	// database, so only creation-time cleanliness is guaranteed there.
	if testDBType() == "sqlite" {
		got, err := db2.GetContestByName(t.Context(), "instance_test")
		if err != nil {
			t.Fatalf("db2 GetContestByName error: %v", err)
		}
		if got != nil {
			t.Error("db2 saw db1's data, want separate databases")
		}
	}
}
