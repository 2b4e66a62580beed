// Package summary reduces a merged result set into the counters used by the
// report dashboard filters.
package summary

import "github.com/ethpandaops/reportoor/pkg/result"

// Filters contains the aggregate counters over a merged result set.
type Filters struct {
	Failed       int            `json:"failed"`
	Flaky        int            `json:"flaky"`
	Skipped      int            `json:"skipped"`
	Untracked    int            `json:"untracked"`
	Total        int            `json:"total"`
	Passed       int            `json:"passed"`
	MarkerCounts map[string]int `json:"marker_counts"`
}

// Summarize computes the filter counters for records.
//
// Failed counts only non-flaky failures so the failed and flaky filters are
// disjoint. Passed is total minus failed minus skipped: flaky failures and
// error outcomes fall into that remainder.
func Summarize(records []*result.Merged) *Filters {
	f := &Filters{
		MarkerCounts: make(map[string]int, 16),
	}

	for _, rec := range records {
		if rec == nil {
			continue
		}

		f.Total++

		if rec.Status == result.StatusFailed && !rec.Flaky {
			f.Failed++
		}

		if rec.Flaky {
			f.Flaky++
		}

		if rec.Status == result.StatusSkipped {
			f.Skipped++
		}

		if rec.Untracked() {
			f.Untracked++
		}

		seen := make(map[string]struct{}, len(rec.Markers))

		for _, marker := range rec.Markers {
			if _, dup := seen[marker]; dup {
				continue
			}

			seen[marker] = struct{}{}
			f.MarkerCounts[marker]++
		}
	}

	f.Passed = f.Total - f.Failed - f.Skipped

	return f
}
