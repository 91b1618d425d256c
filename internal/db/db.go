package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// AuthSource records how a user authenticates.
type AuthSource string

const (
	AuthSourceLocal AuthSource = "local"
	AuthSourceOIDC  AuthSource = "oidc"
)

// ErrNotFound is returned by lookups that must find a row.
var ErrNotFound = errors.New("not found")

// Contest represents a contest instance and its login policy
type Contest struct {
	bun.BaseModel `bun:"table:contests"`

	ID                          int64     `json:"id" bun:"id,pk,autoincrement"`
	Name                        string    `json:"name" bun:"name,unique,notnull"`
	Description                 string    `json:"description" bun:"description"`
	AllowPasswordAuthentication bool      `json:"allow_password_authentication" bun:"allow_password_authentication,notnull"`
	IPRestriction               bool      `json:"ip_restriction" bun:"ip_restriction,notnull"`
	BlockHiddenParticipations   bool      `json:"block_hidden_participations" bun:"block_hidden_participations,notnull"`
	OpenIDConnectInfo           string    `json:"-" bun:"openidconnect_info"`
	CreatedAt                   time.Time `json:"created_at" bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt                   time.Time `json:"updated_at" bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

// User represents a user account
type User struct {
	bun.BaseModel `bun:"table:users"`

	ID         int64      `json:"id" bun:"id,pk,autoincrement"`
	Username   string     `json:"username" bun:"username,unique,notnull"`
	FirstName  string     `json:"first_name" bun:"first_name,notnull"`
	LastName   string     `json:"last_name" bun:"last_name,notnull"`
	Email      string     `json:"email,omitempty" bun:"email,nullzero"`
	Password   string     `json:"-" bun:"password,notnull"`
	AuthSource AuthSource `json:"auth_source" bun:"auth_source,notnull"`
	CreatedAt  time.Time  `json:"created_at" bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt  time.Time  `json:"updated_at" bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

// Federated reports whether the account was provisioned by an identity provider.
func (u *User) Federated() bool {
	return u.AuthSource == AuthSourceOIDC
}

// Participation binds a user to one contest
type Participation struct {
	bun.BaseModel `bun:"table:participations"`

	ID        int64       `json:"id" bun:"id,pk,autoincrement"`
	ContestID int64       `json:"contest_id" bun:"contest_id,notnull"`
	UserID    int64       `json:"user_id" bun:"user_id,notnull"`
	Password  string      `json:"-" bun:"password,nullzero"` // overrides the user password when set
	Hidden    bool        `json:"hidden" bun:"hidden,notnull"`
	IP        StringSlice `json:"ip,omitempty" bun:"ip,type:text"` // CIDR networks allowed to log in
	CreatedAt time.Time   `json:"created_at" bun:"created_at,nullzero,notnull,default:current_timestamp"`

	User *User `json:"user,omitempty" bun:"rel:belongs-to,join:user_id=id"`
}

// AuditLog represents an audit log entry
type AuditLog struct {
	bun.BaseModel `bun:"table:audit_log"`

	ID        int64     `json:"id" bun:"id,pk,autoincrement"`
	Timestamp time.Time `json:"timestamp" bun:"timestamp,nullzero,notnull,default:current_timestamp"`
	Contest   string    `json:"contest" bun:"contest"`
	Username  string    `json:"username" bun:"username"`
	Action    string    `json:"action" bun:"action"`
	Details   string    `json:"details" bun:"details"`
}

// DB wraps the bun.DB connection
type DB struct {
	bun    *bun.DB
	dbType string
}

// DBType returns the database type ("sqlite" or "postgres").
func (db *DB) DBType() string {
	return db.dbType
}

// Open opens a SQLite database at the given path.
func Open(dbPath string) (*DB, error) {
	return OpenDB("sqlite", dbPath)
}

// OpenDB opens a database connection for the given type and DSN,
// runs any pending migrations, and returns the DB handle.
func OpenDB(dbType, dsn string) (*DB, error) {
	var driverName string
	switch dbType {
	case "sqlite":
		driverName = "sqlite"
	case "postgres":
		driverName = "postgres"
	default:
		return nil, fmt.Errorf("unsupported database type: %s", dbType)
	}

	// For SQLite in-memory databases, use shared cache so that the migration
	// connection (opened separately by golang-migrate) sees the same database.
	if dbType == "sqlite" && dsn == ":memory:" {
		dsn = "file::memory:?cache=shared"
	}

	conn, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if dbType == "sqlite" {
		// busy_timeout waits up to 5 seconds for locks to clear
		if _, err := conn.Exec("PRAGMA busy_timeout = 5000"); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to set busy_timeout: %w", err)
		}

		if _, err := conn.Exec("PRAGMA journal_mode = WAL"); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}

		// SQLite has a single writer and the PRAGMAs above only apply to
		// the connection they ran on, so the pool is pinned to one connection.
		// This also keeps in-memory databases alive between queries.
		conn.SetMaxOpenConns(1)
		conn.SetMaxIdleConns(1)
	}

	// Uses its own connection to avoid m.Close() side effects
	if err := runMigrations(dbType, dsn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	var bunDB *bun.DB
	switch dbType {
	case "sqlite":
		bunDB = bun.NewDB(conn, sqlitedialect.New())
	case "postgres":
		bunDB = bun.NewDB(conn, pgdialect.New())
	}

	return &DB{bun: bunDB, dbType: dbType}, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.bun.Close()
}

// Ping verifies the database connection is alive.
func (db *DB) Ping(ctx context.Context) error {
	return db.bun.PingContext(ctx)
}

// ExecRaw runs a raw statement. Used by test helpers.
func (db *DB) ExecRaw(query string, args ...any) (sql.Result, error) {
	return db.bun.ExecContext(context.Background(), query, args...)
}

// LogAudit records an audit log entry
func (db *DB) LogAudit(ctx context.Context, contest, username, action, details string) error {
	entry := AuditLog{
		Timestamp: time.Now(),
		Contest:   contest,
		Username:  username,
		Action:    action,
		Details:   details,
	}
	_, err := db.bun.NewInsert().Model(&entry).Exec(ctx)
	return err
}

// GetAuditLogs returns the most recent audit log entries, newest first
func (db *DB) GetAuditLogs(ctx context.Context, limit int) ([]AuditLog, error) {
	var logs []AuditLog
	err := db.bun.NewSelect().Model(&logs).
		OrderExpr("id DESC").
		Limit(limit).
		Scan(ctx)
	return logs, err
}
