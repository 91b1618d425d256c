package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rjsadow/contestgate/internal/config"
	"github.com/rjsadow/contestgate/internal/db"
	"github.com/rjsadow/contestgate/internal/server"
	"github.com/rjsadow/contestgate/internal/telemetry"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd(flags *dbFlags) *cobra.Command {
	var (
		port     int
		authType string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the contest login pages",
		RunE: func(cmd *cobra.Command, args []string) error {
			o := flags.overrides()
			o.Port = port
			o.AuthType = authType
			cfg, err := config.LoadWithFlags(o)
			if err != nil {
				return err
			}
			slog.SetDefault(newLogger(cfg))

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "Port to listen on (overrides CONTESTGATE_PORT)")
	cmd.Flags().StringVar(&authType, "auth-type", "", "Login strategy: password or openidconnect (overrides CONTESTGATE_AUTH_TYPE)")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	shutdownTracing, err := telemetry.Setup(ctx, cfg.OTELEndpoint, version)
	if err != nil {
		return fmt.Errorf("set up tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			slog.Warn("tracing shutdown failed", "error", err)
		}
	}()

	database, err := db.OpenDB(cfg.DBType, cfg.DSN())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close()
	slog.Info("database opened", "type", cfg.DBType)

	app, err := server.NewApp(cfg, database, server.Options{})
	if err != nil {
		return err
	}
	defer app.Close()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           app.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("contestgate listening", "addr", srv.Addr, "auth_type", cfg.AuthType, "version", version)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
