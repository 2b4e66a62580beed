package history_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/reportoor/pkg/config"
	"github.com/ethpandaops/reportoor/pkg/history"
	"github.com/ethpandaops/reportoor/pkg/merge"
	"github.com/ethpandaops/reportoor/pkg/result"
)

func setupTestStore(t *testing.T) history.Store {
	t.Helper()

	cfg := &config.DatabaseConfig{
		Driver: config.DriverSQLite,
		SQLite: config.SQLiteDatabaseConfig{Path: ":memory:"},
	}

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	s := history.NewStore(log, cfg)
	require.NoError(t, s.Start(context.Background()))

	t.Cleanup(func() { _ = s.Stop() })

	return s
}

func mergedReport(t *testing.T, records ...result.Record) *merge.Report {
	t.Helper()

	merged, err := merge.MergeRecords(records, merge.PolicyAnyChange)
	require.NoError(t, err)

	return merge.BuildReport(merged)
}

func recordRun(
	t *testing.T, s history.Store, at time.Time, records ...result.Record,
) *history.Run {
	t.Helper()

	run, outcomes, err := history.NewRun(
		history.RunInfo{Branch: "main", Commit: "abc123", Time: at},
		merge.PolicyAnyChange,
		mergedReport(t, records...),
	)
	require.NoError(t, err)
	require.NoError(t, s.RecordRun(context.Background(), run, outcomes))

	return run
}

func TestStore_UnsupportedDriver(t *testing.T) {
	s := history.NewStore(logrus.New(), &config.DatabaseConfig{Driver: "mysql"})

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrDatabaseDriver)
}

func TestStore_RecordAndGetRun(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	run := recordRun(t, s, time.Unix(1_700_000_000, 0),
		result.Record{NodeID: "t1", Status: result.StatusFailed},
		result.Record{NodeID: "t1", Status: result.StatusPassed},
		result.Record{NodeID: "t2", Name: "second", Status: result.StatusSkipped, Duration: 0.5},
	)

	got, outcomes, err := s.GetRun(ctx, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, "main", got.Branch)
	assert.Equal(t, "abc123", got.Commit)
	assert.Equal(t, int64(1_700_000_000), got.Timestamp)
	assert.Equal(t, 2, got.Total)
	assert.Equal(t, 1, got.Flaky)
	assert.Equal(t, 1, got.Skipped)
	assert.Equal(t, 1, got.Passed)
	assert.Equal(t, "any-change", got.Policy)

	var filters map[string]any
	require.NoError(t, json.Unmarshal([]byte(got.FiltersJSON), &filters))
	assert.EqualValues(t, 2, filters["total"])

	require.Len(t, outcomes, 2)
	assert.Equal(t, "t1", outcomes[0].TestID)
	assert.True(t, outcomes[0].Flaky)
	assert.Equal(t, "failed,passed", outcomes[0].Attempts)
	assert.Equal(t, "t2", outcomes[1].TestID)
	assert.Equal(t, "second", outcomes[1].Name)
	assert.Equal(t, 0.5, outcomes[1].Duration)
}

func TestNewRun_OutcomeTimestamps(t *testing.T) {
	runAt := time.Unix(1_700_000_000, 0)
	attemptAt := time.Unix(1_699_999_000, 0)

	_, outcomes, err := history.NewRun(
		history.RunInfo{Time: runAt},
		merge.PolicyAnyChange,
		mergedReport(t,
			result.Record{NodeID: "stamped", Status: result.StatusPassed, Timestamp: result.Timestamp(attemptAt)},
			result.Record{NodeID: "unstamped", Status: result.StatusPassed},
		),
	)
	require.NoError(t, err)
	require.Len(t, outcomes, 2)

	assert.Equal(t, attemptAt.Unix(), outcomes[0].Timestamp)
	assert.Equal(t, runAt.Unix(), outcomes[1].Timestamp)
}

func TestStore_GetRunNotFound(t *testing.T) {
	s := setupTestStore(t)

	_, _, err := s.GetRun(context.Background(), "missing")
	assert.ErrorIs(t, err, history.ErrRunNotFound)
}

func TestStore_RecordRunDuplicateID(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	run := recordRun(t, s, time.Now(), result.Record{NodeID: "t", Status: result.StatusPassed})

	dup := &history.Run{RunID: run.RunID}
	require.Error(t, s.RecordRun(ctx, dup, nil))

	runs, err := s.ListRuns(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestStore_ListRuns(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)

	first := recordRun(t, s, base, result.Record{NodeID: "t", Status: result.StatusPassed})
	second := recordRun(t, s, base.Add(time.Hour), result.Record{NodeID: "t", Status: result.StatusPassed})
	third := recordRun(t, s, base.Add(2*time.Hour), result.Record{NodeID: "t", Status: result.StatusPassed})

	all, err := s.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, third.RunID, all[0].RunID)
	assert.Equal(t, second.RunID, all[1].RunID)
	assert.Equal(t, first.RunID, all[2].RunID)

	limited, err := s.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, third.RunID, limited[0].RunID)
}

func TestStore_ListRecentOutcomes(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)

	empty, err := s.ListRecentOutcomes(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, empty)

	recordRun(t, s, base, result.Record{NodeID: "old", Status: result.StatusFailed})
	recordRun(t, s, base.Add(time.Hour), result.Record{NodeID: "t", Status: result.StatusFailed})
	recordRun(t, s, base.Add(2*time.Hour), result.Record{NodeID: "t", Status: result.StatusPassed})

	outcomes, err := s.ListRecentOutcomes(ctx, 2)
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	assert.Equal(t, "failed", outcomes[0].Status)
	assert.Equal(t, "passed", outcomes[1].Status)
}

func TestBuildAndWriteFlakeReport(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)

	recordRun(t, s, base, result.Record{NodeID: "t", Status: result.StatusFailed},
		result.Record{NodeID: "stable", Status: result.StatusPassed})
	recordRun(t, s, base.Add(time.Hour), result.Record{NodeID: "t", Status: result.StatusPassed},
		result.Record{NodeID: "stable", Status: result.StatusPassed})

	report, err := history.BuildFlakeReport(ctx, s, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Runs)
	require.Len(t, report.Tests, 1)
	assert.Equal(t, "t", report.Tests[0].TestID)
	assert.Equal(t, 50.0, report.Tests[0].Flakiness)

	path := filepath.Join(t.TempDir(), "flake_report.json")
	require.NoError(t, history.WriteFlakeReport(path, report, nil))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"flakiness_pct": 50`)
}

func TestNewRun_RequiresFilters(t *testing.T) {
	_, _, err := history.NewRun(history.RunInfo{}, merge.PolicyAnyChange, &merge.Report{})
	require.Error(t, err)
}
