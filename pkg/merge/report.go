package merge

import (
	"encoding/json"
	"fmt"

	"github.com/ethpandaops/reportoor/pkg/fsutil"
	"github.com/ethpandaops/reportoor/pkg/result"
	"github.com/ethpandaops/reportoor/pkg/summary"
)

// Report is the merged output file consumed by report renderers.
type Report struct {
	Filters *summary.Filters `json:"filters"`
	Results []*result.Merged `json:"results"`
}

// BuildReport pairs merged records with their filter counters.
func BuildReport(merged []*result.Merged) *Report {
	if merged == nil {
		merged = []*result.Merged{}
	}

	return &Report{
		Filters: summary.Summarize(merged),
		Results: merged,
	}
}

// WriteReport writes the report to path. The file is replaced atomically.
func WriteReport(path string, report *Report, owner *fsutil.OwnerConfig) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling merged report: %w", err)
	}

	if err := fsutil.WriteFileAtomic(path, data, 0644, owner); err != nil {
		return fmt.Errorf("failed to write merged report to %s: %w", path, err)
	}

	return nil
}

// MergeDirectory merges every worker file in dir and writes the report to
// output. Nothing is written when any source is malformed.
func MergeDirectory(
	dir, output string,
	policy Policy,
	owner *fsutil.OwnerConfig,
) (*Report, error) {
	sources, err := DirSources(dir, output)
	if err != nil {
		return nil, err
	}

	merged, err := Merge(sources, policy)
	if err != nil {
		return nil, err
	}

	report := BuildReport(merged)

	if err := WriteReport(output, report, owner); err != nil {
		return nil, err
	}

	return report, nil
}
