package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethpandaops/reportoor/pkg/fsutil"
)

// FlakeReport is the cross-build flakiness report.
type FlakeReport struct {
	GeneratedAt time.Time   `json:"generated_at"`
	Runs        int         `json:"runs"`
	Tests       []FlakyTest `json:"tests"`
}

// BuildFlakeReport analyses the outcomes of the last n runs in the store.
func BuildFlakeReport(ctx context.Context, s Store, n int) (*FlakeReport, error) {
	runs, err := s.ListRuns(ctx, n)
	if err != nil {
		return nil, err
	}

	outcomes, err := s.ListRecentOutcomes(ctx, n)
	if err != nil {
		return nil, err
	}

	return &FlakeReport{
		GeneratedAt: time.Now().UTC(),
		Runs:        len(runs),
		Tests:       Analyze(outcomes),
	}, nil
}

// WriteFlakeReport writes the report to path atomically.
func WriteFlakeReport(path string, report *FlakeReport, owner *fsutil.OwnerConfig) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling flake report: %w", err)
	}

	if err := fsutil.WriteFileAtomic(path, data, 0644, owner); err != nil {
		return fmt.Errorf("writing flake report to %s: %w", path, err)
	}

	return nil
}
