package main

import (
	"fmt"
	"time"

	units "github.com/docker/go-units"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ethpandaops/reportoor/pkg/history"
)

var (
	flakyLast   int
	flakyOutput string
)

var flakyHistoryCmd = &cobra.Command{
	Use:   "flaky-history",
	Short: "Report tests that are flaky across recent builds",
	Long: `Analyse the merged results of the most recent runs recorded in the
history database and write a flake report listing every test whose status
was not consistent across those runs.`,
	RunE: runFlakyHistory,
}

func init() {
	rootCmd.AddCommand(flakyHistoryCmd)
	flakyHistoryCmd.Flags().IntVar(&flakyLast, "last", 0,
		"Number of recent runs to analyse (defaults to history.window)")
	flakyHistoryCmd.Flags().StringVar(&flakyOutput, "output", "",
		"Flake report path (defaults to history.output next to the report)")
}

func runFlakyHistory(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if err := cfg.History.Database.Validate(); err != nil {
		return fmt.Errorf("history database: %w", err)
	}

	owner, err := cfg.ReportOwner()
	if err != nil {
		return err
	}

	last := flakyLast
	if last <= 0 {
		last = cfg.History.Window
	}

	store := history.NewStore(log, &cfg.History.Database)
	if err := store.Start(cmd.Context()); err != nil {
		return fmt.Errorf("starting history store: %w", err)
	}

	defer func() {
		if err := store.Stop(); err != nil {
			log.WithError(err).Warn("Failed to close history store")
		}
	}()

	report, err := history.BuildFlakeReport(cmd.Context(), store, last)
	if err != nil {
		return fmt.Errorf("building flake report: %w", err)
	}

	output := valueOr(flakyOutput, besideReport(cfg.Report.Output, cfg.History.Output))
	if err := history.WriteFlakeReport(output, report, owner); err != nil {
		return err
	}

	for _, t := range report.Tests {
		fields := logrus.Fields{
			"test":      t.TestID,
			"runs":      t.Runs,
			"flakiness": fmt.Sprintf("%.2f%%", t.Flakiness),
		}

		if t.LastFailed != nil {
			fields["last_failed"] = units.HumanDuration(time.Since(*t.LastFailed)) + " ago"
		}

		log.WithFields(fields).Debug("Flaky test")
	}

	log.WithFields(logrus.Fields{
		"output": output,
		"runs":   report.Runs,
		"flaky":  len(report.Tests),
	}).Info("Flake report written")

	return nil
}
