package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"registration-service/internal/app"
	"registration-service/internal/config"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Load .env file if it exists (ignore error if file doesn't exist)
	_ = godotenv.Load()

	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the registration HTTP server",
		RunE:  runServe,
	}

	root := &cobra.Command{
		Use:          app.ServiceName,
		Short:        "Registration intake service",
		Version:      fmt.Sprintf("%s (commit %s, built %s)", app.Version, app.GitCommit, app.BuildTime),
		RunE:         runServe,
		SilenceUsage: true,
	}

	root.AddCommand(serve, &cobra.Command{
		Use:   "migrate",
		Short: "Create the registrations table and upload directory, then exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return app.Migrate(cmd.Context(), cfg)
		},
	})

	return root
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- application.Run()
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			shutdown(application)
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	return shutdown(application)
}

func shutdown(application *app.App) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := application.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}
