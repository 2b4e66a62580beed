package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v4/host"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestRepoInfo(t *testing.T) {
	tests := []struct {
		name       string
		env        map[string]string
		wantBranch string
		wantCommit string
	}{
		{
			name:       "nothing set",
			env:        map[string]string{},
			wantBranch: "NA",
			wantCommit: "NA",
		},
		{
			name: "manual override wins over ci",
			env: map[string]string{
				"REPORTER_BRANCH": "release",
				"GITHUB_SHA":      "deadbeef",
				"GITHUB_REF_NAME": "main",
			},
			wantBranch: "release",
			wantCommit: "NA",
		},
		{
			name: "github actions pull request",
			env: map[string]string{
				"GITHUB_HEAD_REF": "feature/login",
				"GITHUB_REF_NAME": "42/merge",
				"GITHUB_SHA":      "5bb4c87aa",
			},
			wantBranch: "feature/login",
			wantCommit: "5bb4c87aa",
		},
		{
			name: "gitlab",
			env: map[string]string{
				"CI_COMMIT_REF_NAME": "develop",
				"CI_COMMIT_SHA":      "abc",
			},
			wantBranch: "develop",
			wantCommit: "abc",
		},
		{
			name:       "branch without commit",
			env:        map[string]string{"CIRCLE_BRANCH": "main"},
			wantBranch: "main",
			wantCommit: "NA",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			branch, commit := RepoInfo(envMap(tt.env))
			assert.Equal(t, tt.wantBranch, branch)
			assert.Equal(t, tt.wantCommit, commit)
		})
	}
}

func TestDisplayRef(t *testing.T) {
	assert.Equal(t, "feature/foo (5bb4c87)", DisplayRef("feature/foo", "5bb4c87aa11"))
	assert.Equal(t, "5bb4c87", DisplayRef("NA", "5bb4c87aa11"))
	assert.Equal(t, "main (NA)", DisplayRef("main", "NA"))
	assert.Equal(t, "NA", DisplayRef("", ""))
}

func TestCollect(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	md := Collect(context.Background(), Options{
		Title:  "Nightly",
		Getenv: envMap(map[string]string{"GITHUB_SHA": "abc", "GITHUB_REF_NAME": "main"}),
		HostInfo: func(context.Context) (*host.InfoStat, error) {
			return &host.InfoStat{Hostname: "ci-1", OS: "linux", Platform: "ubuntu", KernelArch: "x86_64"}, nil
		},
		Now: func() time.Time { return now },
	})

	assert.Equal(t, "Nightly", md.ReportTitle)
	assert.Equal(t, "NA", md.Environment)
	assert.Equal(t, "main", md.Branch)
	assert.Equal(t, "abc", md.Commit)
	assert.Equal(t, now, md.GeneratedAt)
	require.NotNil(t, md.Host)
	assert.Equal(t, "ci-1", md.Host.Hostname)
	assert.Equal(t, "ubuntu", md.Host.Platform)
}

func TestCollect_HostFailure(t *testing.T) {
	md := Collect(context.Background(), Options{
		Getenv: envMap(nil),
		HostInfo: func(context.Context) (*host.InfoStat, error) {
			return nil, errors.New("no /proc")
		},
	})

	assert.Nil(t, md.Host)
	assert.Equal(t, "NA", md.ReportTitle)
	assert.False(t, md.GeneratedAt.IsZero())
}

func TestWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports", "plus_metadata.json")

	md := &Metadata{ReportTitle: "T", Environment: "qa", Branch: "main", Commit: "abc"}
	require.NoError(t, Write(path, md, nil))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "qa", got["environment"])
	assert.NotContains(t, got, "host")
}
