package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ethpandaops/reportoor/pkg/fsutil"
	"github.com/ethpandaops/reportoor/pkg/merge"
	"github.com/ethpandaops/reportoor/pkg/summary"
)

var (
	summarizeInput  string
	summarizeOutput string
)

var summarizeCmd = &cobra.Command{
	Use:   "summarize",
	Short: "Compute filter counters for a merged report",
	Long: `Recompute the filter counters (failed, flaky, skipped, untracked,
passed, marker counts) of a merged report and print them as JSON.`,
	RunE: runSummarize,
}

func init() {
	rootCmd.AddCommand(summarizeCmd)
	summarizeCmd.Flags().StringVar(&summarizeInput, "input", "",
		"Merged report path (defaults to report.output)")
	summarizeCmd.Flags().StringVar(&summarizeOutput, "output", "",
		"Write the counters to this file instead of stdout")
}

func runSummarize(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	policy, err := cfg.Policy()
	if err != nil {
		return err
	}

	src, err := merge.ReadSource(valueOr(summarizeInput, cfg.Report.Output))
	if err != nil {
		return err
	}

	// Raw worker files are accepted too.
	merged, err := merge.Merge([]merge.Source{src}, policy)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(summary.Summarize(merged), "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling filters: %w", err)
	}

	if summarizeOutput == "" {
		_, err := fmt.Fprintln(cmd.OutOrStdout(), string(data))

		return err
	}

	owner, err := cfg.ReportOwner()
	if err != nil {
		return err
	}

	if err := fsutil.WriteFileAtomic(summarizeOutput, data, 0644, owner); err != nil {
		return fmt.Errorf("writing filters to %s: %w", summarizeOutput, err)
	}

	log.WithField("path", summarizeOutput).Info("Filter counters written")

	return nil
}
