package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rjsadow/contestgate/internal/config"
	"github.com/rjsadow/contestgate/internal/db"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// dbFlags are the database overrides shared by every subcommand.
type dbFlags struct {
	dbType string
	db     string
}

func (f *dbFlags) overrides() config.Overrides {
	return config.Overrides{DBType: f.dbType, DB: f.db}
}

// open loads the database settings and opens the database. Migrations are
// applied on open.
func (f *dbFlags) open() (*db.DB, error) {
	cfg, err := config.LoadDatabase(f.overrides())
	if err != nil {
		return nil, err
	}
	database, err := db.OpenDB(cfg.DBType, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return database, nil
}

func newRootCmd() *cobra.Command {
	var flags dbFlags

	root := &cobra.Command{
		Use:           "contestgate",
		Short:         "Contest login gateway",
		Long:          "contestgate authenticates contestants with passwords or an OpenID Connect provider and issues contest sessions.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.dbType, "db-type", "", "Database type: sqlite or postgres (overrides CONTESTGATE_DB_TYPE)")
	root.PersistentFlags().StringVar(&flags.db, "db", "", "SQLite database path (overrides CONTESTGATE_DB)")

	root.AddCommand(newServeCmd(&flags))
	root.AddCommand(newUserCmd(&flags))
	root.AddCommand(newContestCmd(&flags))
	root.AddCommand(newMigrateCmd(&flags))
	return root
}

// newLogger builds the process logger from the configured level and format.
func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}
