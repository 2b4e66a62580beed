package main

import (
	"fmt"
	"path/filepath"
	"time"

	units "github.com/docker/go-units"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ethpandaops/reportoor/pkg/config"
	"github.com/ethpandaops/reportoor/pkg/history"
	"github.com/ethpandaops/reportoor/pkg/merge"
	"github.com/ethpandaops/reportoor/pkg/metadata"
	"github.com/ethpandaops/reportoor/pkg/upload"
)

var (
	mergeSource   string
	mergeDir      string
	mergeOutput   string
	mergePolicy   string
	mergeMetadata bool
	mergeHistory  bool
)

var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Merge worker result files into the final report",
	Long: `Read every worker result file, reconcile the attempts of each test into
one merged record, flag flaky tests and write the report with its filter
counters. Worker files are read from a local directory or an S3 prefix.`,
	RunE: runMerge,
}

func init() {
	rootCmd.AddCommand(mergeCmd)
	mergeCmd.Flags().StringVar(&mergeSource, "source", "local",
		`Source of worker files: "local" (directory) or "s3" (bucket prefix)`)
	mergeCmd.Flags().StringVar(&mergeDir, "dir", "",
		"Worker file directory (defaults to report.worker_dir)")
	mergeCmd.Flags().StringVar(&mergeOutput, "output", "",
		"Merged report path (defaults to report.output)")
	mergeCmd.Flags().StringVar(&mergePolicy, "policy", "",
		fmt.Sprintf("Flaky policy: %q or %q (defaults to report.flaky_policy)",
			merge.PolicyAnyChange, merge.PolicyRecovered))
	mergeCmd.Flags().BoolVar(&mergeMetadata, "metadata", true,
		"Write report metadata next to the merged report")
	mergeCmd.Flags().BoolVar(&mergeHistory, "record-history", false,
		"Record the merged run in the history database (defaults to history.enabled)")
}

func runMerge(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if mergePolicy != "" {
		cfg.Report.FlakyPolicy = mergePolicy
	}

	policy, err := cfg.Policy()
	if err != nil {
		return err
	}

	owner, err := cfg.ReportOwner()
	if err != nil {
		return err
	}

	dir := valueOr(mergeDir, cfg.Report.WorkerDir)
	output := valueOr(mergeOutput, cfg.Report.Output)
	start := time.Now()

	var report *merge.Report

	switch mergeSource {
	case "local":
		log.WithFields(logrus.Fields{
			"dir":    dir,
			"policy": policy,
		}).Info("Merging worker results")

		report, err = merge.MergeDirectory(dir, output, policy, owner)
		if err != nil {
			return fmt.Errorf("merging %s: %w", dir, err)
		}
	case "s3":
		report, err = mergeFromS3(cmd, cfg, dir, output, policy)
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported source %q (use \"local\" or \"s3\")", mergeSource)
	}

	logReport(report, output, start)

	if mergeMetadata {
		if err := writeMetadata(cmd, cfg, output); err != nil {
			return err
		}
	}

	if mergeHistory || (!cmd.Flags().Changed("record-history") && cfg.History.Enabled) {
		if err := recordHistory(cmd, cfg, policy, report); err != nil {
			return err
		}
	}

	return nil
}

func mergeFromS3(
	cmd *cobra.Command,
	cfg *config.Config,
	dir, output string,
	policy merge.Policy,
) (*merge.Report, error) {
	if !cfg.Upload.S3Enabled() {
		return nil, fmt.Errorf("S3 is not configured or not enabled in config")
	}

	reader := upload.NewS3Reader(log, cfg.Upload.S3)
	prefix := reader.WorkerPrefix(filepath.Base(dir))

	log.WithFields(logrus.Fields{
		"bucket": cfg.Upload.S3.Bucket,
		"prefix": prefix,
		"policy": policy,
	}).Info("Merging worker results from S3")

	sources, err := reader.FetchSources(cmd.Context(), prefix)
	if err != nil {
		return nil, fmt.Errorf("fetching worker files: %w", err)
	}

	merged, err := merge.Merge(sources, policy)
	if err != nil {
		return nil, err
	}

	owner, err := cfg.ReportOwner()
	if err != nil {
		return nil, err
	}

	report := merge.BuildReport(merged)
	if err := merge.WriteReport(output, report, owner); err != nil {
		return nil, err
	}

	return report, nil
}

func logReport(report *merge.Report, output string, start time.Time) {
	var duration float64
	for _, r := range report.Results {
		duration += r.Duration
	}

	log.WithFields(logrus.Fields{
		"output":     output,
		"total":      report.Filters.Total,
		"passed":     report.Filters.Passed,
		"failed":     report.Filters.Failed,
		"flaky":      report.Filters.Flaky,
		"skipped":    report.Filters.Skipped,
		"untracked":  report.Filters.Untracked,
		"test_time":  units.HumanDuration(time.Duration(duration * float64(time.Second))),
		"size":       units.HumanSize(float64(fileSize(output))),
		"merge_took": time.Since(start).Round(time.Millisecond),
	}).Info("Merged report written")
}

func writeMetadata(cmd *cobra.Command, cfg *config.Config, output string) error {
	md := metadata.Collect(cmd.Context(), metadata.Options{
		Title:       cfg.Report.Title,
		Environment: cfg.Report.Environment,
	})

	owner, err := cfg.ReportOwner()
	if err != nil {
		return err
	}

	path := besideReport(output, cfg.Report.MetadataOutput)
	if err := metadata.Write(path, md, owner); err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"path": path,
		"ref":  metadata.DisplayRef(md.Branch, md.Commit),
	}).Info("Report metadata written")

	return nil
}

func recordHistory(
	cmd *cobra.Command,
	cfg *config.Config,
	policy merge.Policy,
	report *merge.Report,
) error {
	if err := cfg.History.Database.Validate(); err != nil {
		return fmt.Errorf("history database: %w", err)
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

	branch, commit := metadata.RepoInfo(envLookup)

	run, outcomes, err := history.NewRun(history.RunInfo{
		Branch:      branch,
		Commit:      commit,
		Environment: cfg.Report.Environment,
		Time:        time.Now(),
	}, policy, report)
	if err != nil {
		return err
	}

	if err := store.RecordRun(cmd.Context(), run, outcomes); err != nil {
		return fmt.Errorf("recording run: %w", err)
	}

	log.WithFields(logrus.Fields{
		"run_id":   run.RunID,
		"outcomes": len(outcomes),
	}).Info("Run recorded in history")

	return nil
}
