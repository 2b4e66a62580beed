package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ethpandaops/reportoor/pkg/collector"
	"github.com/ethpandaops/reportoor/pkg/merge"
	"github.com/ethpandaops/reportoor/pkg/result"
)

var (
	recordNodeID     string
	recordName       string
	recordStatus     string
	recordDuration   float64
	recordError      string
	recordMarkers    []string
	recordLinks      []string
	recordWorker     string
	recordScreenshot string
	recordCollection bool
	recordFile       string
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Append one test attempt to this worker's result file",
	Long: `Append one observed test attempt to the result file of the current
worker, for test runners without a native plugin. The worker id is taken
from --worker or PYTEST_XDIST_WORKER; without one the attempt goes to the
"main" worker file. Every worker file lives in report.worker_dir, where
merge picks it up.`,
	RunE: runRecord,
}

func init() {
	rootCmd.AddCommand(recordCmd)
	recordCmd.Flags().StringVar(&recordNodeID, "nodeid", "", "Stable test identity")
	recordCmd.Flags().StringVar(&recordName, "test", "", "Display name of the test")
	recordCmd.Flags().StringVar(&recordStatus, "status", "",
		"Attempt status: passed, failed, skipped or error")
	recordCmd.Flags().Float64Var(&recordDuration, "duration", 0, "Attempt duration in seconds")
	recordCmd.Flags().StringVar(&recordError, "error", "", "Failure text (failed/error only)")
	recordCmd.Flags().StringSliceVar(&recordMarkers, "marker", nil, "Marker tag (repeatable)")
	recordCmd.Flags().StringSliceVar(&recordLinks, "link", nil, "Tracking link (repeatable)")
	recordCmd.Flags().StringVar(&recordWorker, "worker", "", "Worker id (defaults to PYTEST_XDIST_WORKER)")
	recordCmd.Flags().StringVar(&recordScreenshot, "screenshot", "",
		"Path of a captured screenshot (kept when report.screenshots selects the status)")
	recordCmd.Flags().BoolVar(&recordCollection, "collection-error", false,
		"Record a collection failure of --file instead of a test attempt")
	recordCmd.Flags().StringVar(&recordFile, "file", "", "Source file of the test")
}

func runRecord(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	owner, err := cfg.ReportOwner()
	if err != nil {
		return err
	}

	worker := valueOr(recordWorker, collector.WorkerID())
	path := collector.WorkerReportPath(cfg.Report.Output, cfg.Report.WorkerDir, worker)

	c := collector.New(path, collector.WithOwner(owner))

	if err := loadExisting(c); err != nil {
		return err
	}

	attempt := buildAttempt(worker, collector.CaptureMode(cfg.Report.Screenshots))

	if err := c.Record(attempt); err != nil {
		return fmt.Errorf("recording attempt: %w", err)
	}

	if err := c.Persist(); err != nil {
		return err
	}

	fields := logrus.Fields{
		"path":     path,
		"test":     attempt.Key(),
		"status":   attempt.Status,
		"attempts": c.Len(),
	}

	if attempt.Status.IsFailure() && attempt.Error != nil {
		fields["error"] = attempt.ErrorBlock()
	}

	log.WithFields(fields).Debug("Attempt recorded")

	return nil
}

var errMergedReport = errors.New("file is a merged report, not a worker file")

// loadExisting replays the attempts already persisted at the collector's
// path so appending keeps earlier attempts.
func loadExisting(c *collector.Collector) error {
	src, err := merge.ReadSource(c.Path())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}

		return err
	}

	attempts, err := merge.Decode(src)
	if err != nil {
		return err
	}

	for _, a := range attempts {
		if a.History != nil {
			return fmt.Errorf("%s: %w", c.Path(), errMergedReport)
		}

		if err := c.Record(a.Record); err != nil {
			return fmt.Errorf("replaying %s: %w", c.Path(), err)
		}
	}

	return nil
}

func buildAttempt(worker string, screenshots collector.CaptureMode) result.Record {
	if recordCollection {
		return result.NewCollectionError(
			valueOr(recordNodeID, recordFile), recordFile, recordError, worker,
		)
	}

	attempt := result.Record{
		Name:      valueOr(recordName, recordNodeID),
		NodeID:    recordNodeID,
		Status:    result.Status(recordStatus),
		Duration:  recordDuration,
		Markers:   recordMarkers,
		Links:     recordLinks,
		Timestamp: result.Timestamp(time.Now()),
	}

	if attempt.Status.IsFailure() && recordError != "" {
		attempt.Error = result.StringPtr(recordError)
	}

	if worker != "" {
		attempt.Worker = result.StringPtr(worker)
	}

	if recordScreenshot != "" && collector.ShouldCapture(screenshots, attempt.Status) {
		attempt.Screenshot = result.StringPtr(recordScreenshot)
	}

	if recordFile != "" {
		attempt.File = result.StringPtr(recordFile)
	}

	return attempt
}
