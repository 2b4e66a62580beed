package result

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusValid(t *testing.T) {
	tests := []struct {
		status  Status
		valid   bool
		failure bool
	}{
		{status: StatusPassed, valid: true},
		{status: StatusFailed, valid: true, failure: true},
		{status: StatusSkipped, valid: true},
		{status: StatusError, valid: true, failure: true},
		{status: "xfailed"},
		{status: ""},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.valid, tt.status.Valid())
			assert.Equal(t, tt.failure, tt.status.IsFailure())
		})
	}
}

func TestRecordKey(t *testing.T) {
	r := Record{Name: "test_login", NodeID: "tests/test_auth.py::test_login"}
	assert.Equal(t, "tests/test_auth.py::test_login", r.Key())

	r.NodeID = ""
	assert.Equal(t, "test_login", r.Key())
}

func TestRecordCapturedAt(t *testing.T) {
	ts := time.Date(2025, 7, 4, 12, 0, 0, 123456000, time.UTC)
	r := Record{Timestamp: Timestamp(ts)}

	got, err := r.CapturedAt()
	require.NoError(t, err)
	assert.True(t, ts.Equal(got))

	r.Timestamp = "yesterday"
	_, err = r.CapturedAt()
	assert.Error(t, err)
}

func TestMergedJSONShape(t *testing.T) {
	m := Merged{
		Record: Record{
			Name:   "test_b",
			NodeID: "test_sample.py::test_b",
			Status: StatusPassed,
		}.Normalized(),
		Flaky:    true,
		Attempts: []Status{StatusFailed, StatusPassed},
	}

	data, err := json.Marshal(&m)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))

	assert.Equal(t, "test_sample.py::test_b", got["nodeid"])
	assert.Equal(t, true, got["flaky"])
	assert.Equal(t, []any{"failed", "passed"}, got["flaky_attempts"])
	assert.Equal(t, []any{}, got["markers"])
	assert.Equal(t, []any{}, got["links"])
	assert.Nil(t, got["error"])
	assert.NotContains(t, got, "trace")
}

func TestNewCollectionError(t *testing.T) {
	r := NewCollectionError("tests/test_broken.py", "tests/test_broken.py", "ImportError: nope", "gw1")

	assert.Equal(t, CollectionErrorName, r.Name)
	assert.Equal(t, StatusError, r.Status)
	require.NotNil(t, r.Error)
	assert.Equal(t, "ImportError: nope", *r.Error)
	require.NotNil(t, r.Line)
	assert.Equal(t, 0, *r.Line)
	assert.Equal(t, "gw1", *r.Worker)
	assert.True(t, r.Untracked())
}

func TestErrorBlock(t *testing.T) {
	tests := []struct {
		name  string
		error *string
		want  string
	}{
		{name: "nil error", want: ""},
		{name: "empty error", error: StringPtr(""), want: ""},
		{
			name:  "assertion lines only",
			error: StringPtr("def test_x():\n>       assert 1 == 2\nE       assert 1 == 2\nE        +1\n\ntest_x.py:3: AssertionError"),
			want:  "E       assert 1 == 2\nE        +1",
		},
		{
			name:  "falls back to full text",
			error: StringPtr("  Timeout after 30s  \n"),
			want:  "Timeout after 30s",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Record{Error: tt.error}
			assert.Equal(t, tt.want, r.ErrorBlock())
		})
	}
}

func TestTraceBlock(t *testing.T) {
	text := "def test_x():\n>       assert 1 == 2\nE       assert 1 == 2\n\ntest_x.py:3: AssertionError"

	t.Run("uses error when trace missing", func(t *testing.T) {
		r := Record{Error: StringPtr(text)}
		assert.Equal(t, "def test_x():\n>       assert 1 == 2", r.TraceBlock())
	})

	t.Run("prefers trace", func(t *testing.T) {
		r := Record{Error: StringPtr("boom"), Trace: StringPtr("frame 1\nframe 2\nE  boom")}
		assert.Equal(t, "frame 1\nframe 2", r.TraceBlock())
	})

	t.Run("empty", func(t *testing.T) {
		r := Record{}
		assert.Equal(t, "", r.TraceBlock())
	})
}
