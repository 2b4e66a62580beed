// Package metadata describes the build and host a report was generated on.
package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/host"

	"github.com/ethpandaops/reportoor/pkg/fsutil"
)

// NotAvailable marks a value that could not be resolved.
const NotAvailable = "NA"

// Manual overrides, checked before any CI variable.
const (
	EnvBranchOverride = "REPORTER_BRANCH"
	EnvCommitOverride = "REPORTER_COMMIT"
)

// CI variables carrying the branch name, in lookup order.
var ciBranchVars = []string{
	"GITHUB_HEAD_REF", "GITHUB_REF_NAME",
	"CI_COMMIT_REF_NAME", "BITBUCKET_BRANCH",
	"BUILD_SOURCEBRANCHNAME", "CIRCLE_BRANCH",
	"BRANCH_NAME", "TRAVIS_BRANCH", "GIT_BRANCH",
}

// CI variables carrying the commit sha, in lookup order.
var ciCommitVars = []string{
	"GITHUB_SHA", "CI_COMMIT_SHA", "BITBUCKET_COMMIT",
	"BUILD_SOURCEVERSION", "CIRCLE_SHA1", "TRAVIS_COMMIT",
}

// Metadata is written next to the merged report.
type Metadata struct {
	ReportTitle string    `json:"report_title"`
	Environment string    `json:"environment"`
	Branch      string    `json:"branch"`
	Commit      string    `json:"commit"`
	GoVersion   string    `json:"go_version"`
	Host        *Host     `json:"host,omitempty"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Host describes the machine the report was generated on.
type Host struct {
	Hostname        string `json:"hostname"`
	OS              string `json:"os"`
	Platform        string `json:"platform"`
	PlatformVersion string `json:"platform_version"`
	KernelArch      string `json:"kernel_arch"`
}

// Options controls metadata collection.
type Options struct {
	Title       string
	Environment string
	// Getenv defaults to os.Getenv.
	Getenv func(string) string
	// HostInfo defaults to gopsutil's host.InfoWithContext.
	HostInfo func(ctx context.Context) (*host.InfoStat, error)
	// Now defaults to time.Now.
	Now func() time.Time
}

// Collect gathers report metadata. Host lookup failures leave Host unset.
func Collect(ctx context.Context, opts Options) *Metadata {
	getenv := opts.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}

	hostInfo := opts.HostInfo
	if hostInfo == nil {
		hostInfo = host.InfoWithContext
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	branch, commit := RepoInfo(getenv)

	md := &Metadata{
		ReportTitle: orNA(opts.Title),
		Environment: orNA(opts.Environment),
		Branch:      branch,
		Commit:      commit,
		GoVersion:   runtime.Version(),
		GeneratedAt: now().UTC(),
	}

	if info, err := hostInfo(ctx); err == nil && info != nil {
		md.Host = &Host{
			Hostname:        info.Hostname,
			OS:              info.OS,
			Platform:        info.Platform,
			PlatformVersion: info.PlatformVersion,
			KernelArch:      info.KernelArch,
		}
	}

	return md
}

// RepoInfo resolves the branch and commit of the build from the manual
// overrides, then from well known CI variables. Unresolved values are NA.
func RepoInfo(getenv func(string) string) (branch, commit string) {
	manualBranch := getenv(EnvBranchOverride)
	manualCommit := getenv(EnvCommitOverride)

	if manualBranch != "" || manualCommit != "" {
		return orNA(manualBranch), orNA(manualCommit)
	}

	return orNA(firstSet(getenv, ciBranchVars)), orNA(firstSet(getenv, ciCommitVars))
}

// DisplayRef renders "branch (short sha)", or only the short sha when the
// branch is unknown.
func DisplayRef(branch, commit string) string {
	short := NotAvailable
	if commit != "" && commit != NotAvailable {
		short = commit
		if len(short) > 7 {
			short = short[:7]
		}
	}

	if branch != "" && branch != NotAvailable {
		return fmt.Sprintf("%s (%s)", branch, short)
	}

	return short
}

// Write stores the metadata as indented JSON.
func Write(path string, md *Metadata, owner *fsutil.OwnerConfig) error {
	data, err := json.MarshalIndent(md, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling metadata: %w", err)
	}

	if err := fsutil.WriteFileAtomic(path, data, 0644, owner); err != nil {
		return fmt.Errorf("writing metadata to %s: %w", path, err)
	}

	return nil
}

func firstSet(getenv func(string) string, vars []string) string {
	for _, name := range vars {
		if v := getenv(name); v != "" {
			return v
		}
	}

	return ""
}

func orNA(v string) string {
	if v == "" {
		return NotAvailable
	}

	return v
}
