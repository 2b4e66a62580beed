// Package merge reconciles the attempt lists persisted by test workers into
// one canonical result per logical test.
//
// Attempts are concatenated in source order, then in stored order within
// each source, and grouped by node id (falling back to the test name). The
// last attempt of a group provides the merged record's fields; the ordered
// statuses of all attempts form its history, which the configured Policy
// turns into the flaky flag. Merging is a pure in-memory batch step.
package merge

import (
	"github.com/ethpandaops/reportoor/pkg/result"
)

// Merge decodes every source and reconciles their attempts. A malformed
// source aborts the merge with a *MalformedSourceError naming it; no
// sources or no attempts yield an empty, non-nil result.
func Merge(sources []Source, policy Policy) ([]*result.Merged, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	attempts := make([]Attempt, 0, 64)

	for _, src := range sources {
		decoded, err := Decode(src)
		if err != nil {
			return nil, err
		}

		attempts = append(attempts, decoded...)
	}

	return Reconcile(attempts, policy), nil
}

// MergeRecords reconciles the attempts of a single in-memory list, e.g. the
// results of a collector that saw reruns within one process.
func MergeRecords(records []result.Record, policy Policy) ([]*result.Merged, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	attempts := make([]Attempt, 0, len(records))
	for _, rec := range records {
		attempts = append(attempts, Attempt{Record: rec})
	}

	return Reconcile(attempts, policy), nil
}

// Reconcile groups ordered attempts by logical test identity and builds one
// merged record per group. Groups are returned in order of first
// appearance, so the output is deterministic for a given input.
func Reconcile(attempts []Attempt, policy Policy) []*result.Merged {
	order := make([]string, 0, len(attempts))
	groups := make(map[string][]*Attempt, len(attempts))

	for i := range attempts {
		key := attempts[i].Record.Key()

		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}

		groups[key] = append(groups[key], &attempts[i])
	}

	merged := make([]*result.Merged, 0, len(order))

	for _, key := range order {
		group := groups[key]
		last := group[len(group)-1]

		history := make([]result.Status, 0, len(group))
		for _, a := range group {
			history = append(history, a.history()...)
		}

		merged = append(merged, &result.Merged{
			Record:   last.Record.Normalized(),
			Flaky:    policy.IsFlaky(history),
			Attempts: history,
		})
	}

	return merged
}
