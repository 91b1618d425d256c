package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	"github.com/spf13/cobra"

	"github.com/rjsadow/contestgate/internal/config"
	"github.com/rjsadow/contestgate/internal/db"
)

func newMigrateCmd(flags *dbFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Inspect or change the database schema version",
	}

	withMigrator := func(run func(cmd *cobra.Command, m *migrate.Migrate, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadDatabase(flags.overrides())
			if err != nil {
				return err
			}
			m, err := db.NewMigrator(cfg.DBType, cfg.DSN())
			if err != nil {
				return fmt.Errorf("failed to create migrator: %w", err)
			}
			defer m.Close()
			return run(cmd, m, args)
		}
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: withMigrator(func(cmd *cobra.Command, m *migrate.Migrate, _ []string) error {
			if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
				return fmt.Errorf("migration up failed: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Migrations applied successfully")
			return nil
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		RunE: withMigrator(func(cmd *cobra.Command, m *migrate.Migrate, _ []string) error {
			if err := m.Steps(-1); err != nil {
				return fmt.Errorf("migration down failed: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Rolled back one migration")
			return nil
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show the current migration version",
		RunE: withMigrator(func(cmd *cobra.Command, m *migrate.Migrate, _ []string) error {
			v, dirty, err := m.Version()
			if err != nil {
				return fmt.Errorf("failed to get version: %w", err)
			}
			suffix := ""
			if dirty {
				suffix = " (dirty)"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Version: %d%s\n", v, suffix)
			return nil
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "force <version>",
		Short: "Force the migration version without running migrations",
		Args:  cobra.ExactArgs(1),
		RunE: withMigrator(func(cmd *cobra.Command, m *migrate.Migrate, args []string) error {
			v, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid version number: %w", err)
			}
			if err := m.Force(v); err != nil {
				return fmt.Errorf("force failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Forced version to %d\n", v)
			return nil
		}),
	})
	return cmd
}
