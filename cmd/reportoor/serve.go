package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ethpandaops/reportoor/pkg/api"
	"github.com/ethpandaops/reportoor/pkg/history"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the read-only report API",
	Long: `Serve the merged report and, when history is enabled, the recorded runs
and cross-build flakiness over HTTP.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Set up context with signal handling.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	opts := api.Options{
		ReportPath:    cfg.Report.Output,
		HistoryWindow: cfg.History.Window,
	}

	if cfg.History.Enabled {
		store := history.NewStore(log, &cfg.History.Database)
		if err := store.Start(ctx); err != nil {
			return fmt.Errorf("starting history store: %w", err)
		}

		defer func() {
			if err := store.Stop(); err != nil {
				log.WithError(err).Warn("Failed to close history store")
			}
		}()

		opts.History = store
	}

	srv := api.NewServer(log, &cfg.API, opts)

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting api server: %w", err)
	}

	// Wait for shutdown signal.
	sig := <-sigCh
	log.WithField("signal", sig).Info("Shutting down API server")
	cancel()

	if err := srv.Stop(); err != nil {
		return fmt.Errorf("stopping api server: %w", err)
	}

	return nil
}
