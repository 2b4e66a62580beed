package merge

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethpandaops/reportoor/pkg/result"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func src(t *testing.T, name string, v any) Source {
	t.Helper()

	data, err := json.Marshal(v)
	require.NoError(t, err)

	return Source{Name: name, Data: data}
}

type rec map[string]any

func byKey(merged []*result.Merged) map[string]*result.Merged {
	out := make(map[string]*result.Merged, len(merged))
	for _, m := range merged {
		out[m.Key()] = m
	}

	return out
}

func TestMerge_FlakyAcrossWorkers(t *testing.T) {
	merged, err := Merge([]Source{
		src(t, "part1.json", []rec{{"nodeid": "t1", "status": "failed"}}),
		src(t, "part2.json", []rec{{"nodeid": "t1", "status": "passed"}}),
	}, PolicyAnyChange)
	require.NoError(t, err)
	require.Len(t, merged, 1)

	m := merged[0]
	assert.Equal(t, "t1", m.NodeID)
	assert.Equal(t, result.StatusPassed, m.Status)
	assert.True(t, m.Flaky)
	assert.Equal(t, []result.Status{f, p}, m.Attempts)
}

func TestMerge_SingleAttemptNotFlaky(t *testing.T) {
	for _, policy := range Policies() {
		t.Run(policy.String(), func(t *testing.T) {
			merged, err := Merge([]Source{
				src(t, "single.json", []rec{{"nodeid": "t2", "status": "passed"}}),
			}, policy)
			require.NoError(t, err)
			require.Len(t, merged, 1)
			assert.False(t, merged[0].Flaky)
			assert.Equal(t, []result.Status{p}, merged[0].Attempts)
		})
	}
}

func TestMerge_InvalidJSONNamesSource(t *testing.T) {
	_, err := Merge([]Source{
		src(t, "good.json", []rec{{"nodeid": "x", "status": "passed"}}),
		{Name: "broken.json", Data: []byte("{ not valid json")},
	}, PolicyAnyChange)
	require.Error(t, err)

	var malformed *MalformedSourceError
	require.True(t, errors.As(err, &malformed))
	assert.Equal(t, "broken.json", malformed.Source)
	assert.Contains(t, err.Error(), "broken.json")
}

func TestMerge_WrongShapeIsMalformed(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "object without results", data: `{"tests": []}`},
		{name: "scalar", data: `42`},
		{name: "record without status", data: `[{"nodeid": "a"}]`},
		{name: "record without identity", data: `[{"status": "passed"}]`},
		{name: "null identity", data: `[{"nodeid": null, "test": null, "status": "passed"}]`},
		{name: "empty identity", data: `[{"nodeid": "", "test": "", "status": "failed"}]`},
		{name: "non-integral line", data: `[{"nodeid": "a", "status": "passed", "line": 3.5}]`},
		{name: "unknown status", data: `[{"nodeid": "a", "status": "xfailed"}]`},
		{name: "negative duration", data: `[{"nodeid": "a", "status": "passed", "duration": -1}]`},
		{name: "results not a list", data: `{"results": {"nodeid": "a"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Merge([]Source{{Name: "w.json", Data: []byte(tt.data)}}, PolicyAnyChange)

			var malformed *MalformedSourceError
			require.True(t, errors.As(err, &malformed), "got %v", err)
			assert.Equal(t, "w.json", malformed.Source)
		})
	}
}

func TestMerge_EmptyInput(t *testing.T) {
	merged, err := Merge(nil, PolicyAnyChange)
	require.NoError(t, err)
	assert.NotNil(t, merged)
	assert.Empty(t, merged)

	merged, err = Merge([]Source{
		{Name: "a.json", Data: []byte(`[]`)},
		{Name: "b.json", Data: []byte(`{"results": []}`)},
	}, PolicyRecovered)
	require.NoError(t, err)
	assert.Empty(t, merged)
}

func TestMerge_RecoveredPolicyNeverRecovered(t *testing.T) {
	merged, err := Merge([]Source{
		src(t, "run.json", []rec{
			{"nodeid": "t3", "status": "failed"},
			{"nodeid": "t3", "status": "failed"},
		}),
	}, PolicyRecovered)
	require.NoError(t, err)
	require.Len(t, merged, 1)
	assert.Equal(t, result.StatusFailed, merged[0].Status)
	assert.False(t, merged[0].Flaky)
	assert.Equal(t, []result.Status{f, f}, merged[0].Attempts)
}

func TestMerge_PoliciesDisagree(t *testing.T) {
	sources := []Source{
		src(t, "a.json", []rec{{"nodeid": "t4", "status": "passed"}}),
		src(t, "b.json", []rec{{"nodeid": "t4", "status": "failed"}}),
	}

	anyChange, err := Merge(sources, PolicyAnyChange)
	require.NoError(t, err)
	assert.True(t, anyChange[0].Flaky)

	recovered, err := Merge(sources, PolicyRecovered)
	require.NoError(t, err)
	assert.False(t, recovered[0].Flaky)
}

func TestMerge_UnknownPolicy(t *testing.T) {
	_, err := Merge(nil, Policy("sometimes"))
	require.Error(t, err)
}

func TestMerge_ResultsObjectShape(t *testing.T) {
	merged, err := Merge([]Source{
		src(t, "dict1.json", map[string]any{"results": []rec{{"nodeid": "case", "status": "failed"}}}),
		src(t, "dict2.json", map[string]any{
			"results": []rec{{"nodeid": "case", "status": "passed"}},
			"filters": map[string]any{"total": 1},
		}),
	}, PolicyAnyChange)
	require.NoError(t, err)
	require.Len(t, merged, 1)
	assert.True(t, merged[0].Flaky)
	assert.ElementsMatch(t, []result.Status{p, f}, merged[0].Attempts)
}

func TestMerge_FallsBackToTestName(t *testing.T) {
	merged, err := Merge([]Source{
		src(t, "p1.json", []rec{{"test": "test_sample.py::test_alt", "status": "skipped"}}),
		src(t, "p2.json", []rec{{"test": "test_sample.py::test_alt", "status": "passed"}}),
	}, PolicyAnyChange)
	require.NoError(t, err)
	require.Len(t, merged, 1)
	assert.Equal(t, "test_sample.py::test_alt", merged[0].Name)
	assert.Equal(t, result.StatusPassed, merged[0].Status)
	assert.True(t, merged[0].Flaky)
	assert.Equal(t, []result.Status{s, p}, merged[0].Attempts)
}

func TestMerge_LastAttemptWins(t *testing.T) {
	merged, err := Merge([]Source{
		src(t, "run.json", []rec{
			{"nodeid": "meta", "status": "failed", "duration": 0.3, "error": "boom", "worker": "gw0"},
			{"nodeid": "other", "status": "passed"},
			{"nodeid": "meta", "status": "passed", "duration": 0.2, "worker": "gw1", "line": 12},
		}),
	}, PolicyRecovered)
	require.NoError(t, err)
	require.Len(t, merged, 2)

	assert.Equal(t, "meta", merged[0].Key(), "groups keep first-appearance order")
	assert.Equal(t, "other", merged[1].Key())

	m := merged[0]
	assert.Equal(t, 0.2, m.Duration)
	assert.Nil(t, m.Error)
	require.NotNil(t, m.Worker)
	assert.Equal(t, "gw1", *m.Worker)
	require.NotNil(t, m.Line)
	assert.Equal(t, 12, *m.Line)
	assert.True(t, m.Flaky)
}

func TestMerge_TolerantOptionalFields(t *testing.T) {
	merged, err := Merge([]Source{
		src(t, "w.json", []rec{{
			"nodeid":     "t",
			"status":     "failed",
			"error":      nil,
			"logs":       []any{"POST /login", "200 OK"},
			"worker":     7,
			"screenshot": nil,
			"markers":    nil,
		}}),
	}, PolicyAnyChange)
	require.NoError(t, err)
	require.Len(t, merged, 1)

	m := merged[0]
	require.NotNil(t, m.Logs)
	assert.Equal(t, "POST /login\n200 OK", *m.Logs)
	require.NotNil(t, m.Worker)
	assert.Equal(t, "7", *m.Worker)
	assert.Nil(t, m.Screenshot)
	assert.Equal(t, []string{}, m.Markers)
}

func TestMerge_IntegralFloatLine(t *testing.T) {
	merged, err := Merge([]Source{{
		Name: "w.json",
		Data: []byte(`[{"nodeid": "t", "status": "passed", "line": 3.0}]`),
	}}, PolicyAnyChange)
	require.NoError(t, err)
	require.Len(t, merged, 1)
	require.NotNil(t, merged[0].Line)
	assert.Equal(t, 3, *merged[0].Line)
}

func TestMerge_NoRecordDroppedOrDuplicated(t *testing.T) {
	sources := []Source{
		src(t, "gw0.json", []rec{
			{"nodeid": "a", "status": "passed"},
			{"nodeid": "b", "status": "failed"},
			{"nodeid": "a", "status": "failed"},
		}),
		src(t, "gw1.json", []rec{
			{"nodeid": "c", "status": "skipped"},
			{"nodeid": "b", "status": "passed"},
			{"test": "d", "status": "error"},
		}),
	}

	merged, err := Merge(sources, PolicyAnyChange)
	require.NoError(t, err)

	total := 0
	for _, m := range merged {
		total += len(m.Attempts)
		assert.Equal(t, m.Status, m.Attempts[len(m.Attempts)-1])
	}

	assert.Equal(t, 6, total)
	assert.Len(t, merged, 4)

	got := byKey(merged)
	assert.Equal(t, []result.Status{p, f}, got["a"].Attempts)
	assert.Equal(t, []result.Status{f, p}, got["b"].Attempts)
}

func TestMerge_Deterministic(t *testing.T) {
	sources := []Source{
		src(t, "gw0.json", []rec{{"nodeid": "a", "status": "passed"}, {"nodeid": "b", "status": "failed"}}),
		src(t, "gw1.json", []rec{{"nodeid": "b", "status": "passed"}, {"nodeid": "c", "status": "skipped"}}),
	}

	first, err := Merge(sources, PolicyAnyChange)
	require.NoError(t, err)

	second, err := Merge(sources, PolicyAnyChange)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestMerge_Idempotent(t *testing.T) {
	for _, policy := range Policies() {
		t.Run(policy.String(), func(t *testing.T) {
			first, err := Merge([]Source{
				src(t, "gw0.json", []rec{
					{"nodeid": "a", "status": "failed"},
					{"nodeid": "b", "status": "passed", "markers": []string{"smoke"}},
				}),
				src(t, "gw1.json", []rec{
					{"nodeid": "a", "status": "passed"},
					{"nodeid": "c", "status": "failed"},
					{"nodeid": "c", "status": "failed"},
				}),
			}, policy)
			require.NoError(t, err)

			data, err := json.Marshal(BuildReport(first))
			require.NoError(t, err)

			second, err := Merge([]Source{{Name: "final_report.json", Data: data}}, policy)
			require.NoError(t, err)

			assert.Equal(t, first, second)
		})
	}
}

func TestMergeRecords(t *testing.T) {
	merged, err := MergeRecords([]result.Record{
		{NodeID: "x", Status: f},
		{NodeID: "x", Status: p},
		{NodeID: "y", Status: p},
	}, PolicyRecovered)
	require.NoError(t, err)
	require.Len(t, merged, 2)

	got := byKey(merged)
	assert.True(t, got["x"].Flaky)
	assert.Equal(t, []result.Status{f, p}, got["x"].Attempts)
	assert.False(t, got["y"].Flaky)
}

func TestDirSources(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.json"), []byte(`[]`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.json"), []byte(`[]`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte(`x`), 0644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.json"), 0755))

	sources, err := DirSources(dir, filepath.Join(dir, "b.json"))
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, filepath.Join(dir, "a.json"), sources[0].Name)

	missing, err := DirSources(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestMergeDirectory(t *testing.T) {
	t.Run("writes report", func(t *testing.T) {
		dir := t.TempDir()
		workers := filepath.Join(dir, ".pytest_worker_jsons")
		require.NoError(t, os.MkdirAll(workers, 0755))
		require.NoError(t, os.WriteFile(filepath.Join(workers, "final_report_gw0.json"),
			[]byte(`[{"nodeid":"t1","status":"failed","links":["https://t/1"]}]`), 0644))
		require.NoError(t, os.WriteFile(filepath.Join(workers, "final_report_gw1.json"),
			[]byte(`[{"nodeid":"t1","status":"passed","links":["https://t/1"]}]`), 0644))

		output := filepath.Join(dir, "final_report.json")
		report, err := MergeDirectory(workers, output, PolicyAnyChange, nil)
		require.NoError(t, err)
		assert.Equal(t, 1, report.Filters.Flaky)

		data, err := os.ReadFile(output)
		require.NoError(t, err)

		var written map[string]any
		require.NoError(t, json.Unmarshal(data, &written))
		assert.Contains(t, written, "filters")
		assert.Len(t, written["results"], 1)
	})

	t.Run("empty directory", func(t *testing.T) {
		dir := t.TempDir()
		output := filepath.Join(dir, "out", "final_report.json")

		_, err := MergeDirectory(dir, output, PolicyAnyChange, nil)
		require.NoError(t, err)

		data, err := os.ReadFile(output)
		require.NoError(t, err)
		assert.JSONEq(t, `{
			"results": [],
			"filters": {"failed":0,"flaky":0,"skipped":0,"untracked":0,"total":0,"passed":0,"marker_counts":{}}
		}`, string(data))
	})

	t.Run("malformed source writes nothing", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{ not valid json"), 0644))

		output := filepath.Join(t.TempDir(), "final_report.json")
		_, err := MergeDirectory(dir, output, PolicyAnyChange, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "broken.json")
		assert.NoFileExists(t, output)
	})

	t.Run("output inside source directory is not merged", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "gw0.json"),
			[]byte(`[{"nodeid":"t","status":"passed"}]`), 0644))

		output := filepath.Join(dir, "merged.json")

		_, err := MergeDirectory(dir, output, PolicyAnyChange, nil)
		require.NoError(t, err)

		report, err := MergeDirectory(dir, output, PolicyAnyChange, nil)
		require.NoError(t, err)
		require.Len(t, report.Results, 1)
		assert.Equal(t, []result.Status{p}, report.Results[0].Attempts)
	})
}
