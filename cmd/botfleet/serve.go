package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/botfleet/botfleet"
	"github.com/spf13/cobra"
)

func createServeCommand(flags *GlobalFlags) *cobra.Command {
	var skipScan bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the supervision daemon with the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), flags.ConfigPath, skipScan)
		},
	}
	cmd.Flags().BoolVar(&skipScan, "no-scan", false, "skip the startup discovery scan")
	return cmd
}

func runServe(ctx context.Context, configPath string, skipScan bool) error {
	cfg, err := botfleet.LoadConfig(configPath)
	if err != nil {
		return err
	}

	fleet, err := botfleet.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = fleet.Close() }()

	if err := botfleet.RegisterMetricsDefault(); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	// reconcile persisted records against reality before serving
	if err := fleet.Tick(ctx); err != nil {
		return fmt.Errorf("initial reconcile: %w", err)
	}
	if !skipScan && cfg.Signature != "" {
		n, err := fleet.Scan(ctx, "")
		if err != nil {
			slog.Warn("startup scan failed", "error", err)
		} else if n > 0 {
			slog.Info("startup scan adopted running bots", "count", n)
		}
	}

	fleet.StartScheduler()
	srv := fleet.NewHTTPServer(cfg.Listen, "")
	slog.Info("botfleet serving", "listen", cfg.Listen, "registry", cfg.RegistryPath)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig.String())
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Warn("http shutdown", "error", err)
	}
	return nil
}
