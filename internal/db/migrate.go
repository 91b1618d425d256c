package db

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratepostgres "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed all:migrations
var migrationFiles embed.FS

// migrationDirs maps each supported database type to its scripts. The
// database/sql driver names match the type names.
var migrationDirs = map[string]string{
	"sqlite":   "migrations/sqlite",
	"postgres": "migrations/postgres",
}

// runMigrations brings the contests schema at dsn up to date. The migrator
// uses its own connection because closing it closes the connection too.
func runMigrations(dbType, dsn string) error {
	m, err := NewMigrator(dbType, dsn)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// NewMigrator returns a migrator for the schema at dsn, backed by the
// embedded scripts of dbType. Close releases its connection.
func NewMigrator(dbType, dsn string) (*migrate.Migrate, error) {
	dir, ok := migrationDirs[dbType]
	if !ok {
		return nil, fmt.Errorf("unsupported database type: %s", dbType)
	}
	source, err := iofs.New(migrationFiles, dir)
	if err != nil {
		return nil, fmt.Errorf("load %s migrations: %w", dbType, err)
	}

	conn, err := sql.Open(dbType, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s for migration: %w", dbType, err)
	}
	driver, err := migrationDriver(conn, dbType)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("prepare %s migration driver: %w", dbType, err)
	}

	m, err := migrate.NewWithInstance("iofs", source, dbType, driver)
	if err != nil {
		driver.Close()
		return nil, fmt.Errorf("create migrator: %w", err)
	}
	return m, nil
}

func migrationDriver(conn *sql.DB, dbType string) (database.Driver, error) {
	switch dbType {
	case "postgres":
		return migratepostgres.WithInstance(conn, &migratepostgres.Config{})
	default:
		return migratesqlite.WithInstance(conn, &migratesqlite.Config{})
	}
}
