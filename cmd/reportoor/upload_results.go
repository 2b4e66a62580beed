package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ethpandaops/reportoor/pkg/upload"
)

var (
	uploadMethod    string
	uploadResultDir string
)

var uploadResultsCmd = &cobra.Command{
	Use:   "upload-results",
	Short: "Upload the report directory to remote storage",
	Long:  `Upload a local report directory to S3-compatible storage using the config file settings.`,
	RunE:  runUploadResults,
}

func init() {
	rootCmd.AddCommand(uploadResultsCmd)
	uploadResultsCmd.Flags().StringVar(&uploadMethod, "method", "s3",
		"Upload method (currently only \"s3\")")
	uploadResultsCmd.Flags().StringVar(&uploadResultDir, "result-dir", "",
		"Path to the report directory to upload (defaults to the directory of report.output)")
}

func runUploadResults(cmd *cobra.Command, _ []string) error {
	if uploadMethod != "s3" {
		return fmt.Errorf("unsupported method %q (only \"s3\" is supported)", uploadMethod)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if !cfg.Upload.S3Enabled() {
		return fmt.Errorf("S3 upload is not configured or not enabled in config")
	}

	uploader, err := upload.NewS3Uploader(log, cfg.Upload.S3)
	if err != nil {
		return fmt.Errorf("creating S3 uploader: %w", err)
	}

	ctx := cmd.Context()

	if err := uploader.Preflight(ctx); err != nil {
		return fmt.Errorf("s3 preflight: %w", err)
	}

	dir := valueOr(uploadResultDir, filepath.Dir(cfg.Report.Output))

	log.WithField("dir", dir).Info("Uploading results")

	prefix, err := uploader.Upload(ctx, dir)
	if err != nil {
		return fmt.Errorf("uploading results: %w", err)
	}

	log.WithField("prefix", prefix).Info("Upload completed successfully")

	return nil
}
