package history

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ethpandaops/reportoor/pkg/merge"
	"github.com/ethpandaops/reportoor/pkg/result"
)

// RunInfo describes the build a merged report belongs to.
type RunInfo struct {
	Branch      string
	Commit      string
	Environment string
	Time        time.Time
}

// NewRunID returns a new unique run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// NewRun converts a merged report into a run and its test outcomes.
func NewRun(
	info RunInfo, policy merge.Policy, report *merge.Report,
) (*Run, []*TestOutcome, error) {
	if report == nil || report.Filters == nil {
		return nil, nil, fmt.Errorf("report has no filter summary")
	}

	filters, err := json.Marshal(report.Filters)
	if err != nil {
		return nil, nil, fmt.Errorf("marshaling filters: %w", err)
	}

	ts := info.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	run := &Run{
		RunID:       NewRunID(),
		Timestamp:   ts.Unix(),
		Branch:      info.Branch,
		Commit:      info.Commit,
		Environment: info.Environment,
		Policy:      policy.String(),
		Total:       report.Filters.Total,
		Passed:      report.Filters.Passed,
		Failed:      report.Filters.Failed,
		Flaky:       report.Filters.Flaky,
		Skipped:     report.Filters.Skipped,
		Untracked:   report.Filters.Untracked,
		FiltersJSON: string(filters),
		RecordedAt:  time.Now().UTC(),
	}

	outcomes := make([]*TestOutcome, 0, len(report.Results))

	for _, m := range report.Results {
		if m == nil {
			continue
		}

		at := run.Timestamp
		if captured, err := m.CapturedAt(); err == nil {
			at = captured.Unix()
		}

		outcomes = append(outcomes, &TestOutcome{
			RunID:     run.RunID,
			TestID:    m.Key(),
			Name:      m.Name,
			Status:    m.Status.String(),
			Flaky:     m.Flaky,
			Attempts:  joinStatuses(m.Attempts),
			Duration:  m.Duration,
			Timestamp: at,
		})
	}

	return run, outcomes, nil
}

func joinStatuses(statuses []result.Status) string {
	parts := make([]string, 0, len(statuses))
	for _, s := range statuses {
		parts = append(parts, s.String())
	}

	return strings.Join(parts, ",")
}
