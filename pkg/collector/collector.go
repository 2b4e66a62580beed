// Package collector accumulates the result records produced by one test
// execution process and persists them for the merge step.
//
// A Collector is owned by exactly one worker and is not safe for concurrent
// use: the test runner's reporting hook is its single writer. Workers never
// share a Collector or a destination file.
package collector

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethpandaops/reportoor/pkg/fsutil"
	"github.com/ethpandaops/reportoor/pkg/result"
)

// DefaultWorkerDir is where workers persist their partial results.
const DefaultWorkerDir = ".pytest_worker_jsons"

// MainWorkerID names the file of a process that runs without workers.
const MainWorkerID = "main"

var (
	// ErrMissingIdentity is returned for attempts with neither a node id
	// nor a display name.
	ErrMissingIdentity = errors.New("attempt has no node id or test name")

	// ErrInvalidStatus is returned for attempts with an unknown status.
	ErrInvalidStatus = errors.New("attempt has no valid status")
)

// Collector is an append-only list of attempts backed by a JSON file.
type Collector struct {
	path    string
	owner   *fsutil.OwnerConfig
	results []result.Record
}

// Option configures a Collector.
type Option func(*Collector)

// WithOwner chowns the persisted file and its directory.
func WithOwner(owner *fsutil.OwnerConfig) Option {
	return func(c *Collector) {
		c.owner = owner
	}
}

// New creates a Collector that persists to path.
func New(path string, opts ...Option) *Collector {
	c := &Collector{
		path:    path,
		results: make([]result.Record, 0, 64),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Path returns the destination file.
func (c *Collector) Path() string {
	return c.path
}

// Record appends one attempt. Attempts are not deduplicated; optional
// fields are stored as given.
func (c *Collector) Record(attempt result.Record) error {
	if attempt.Key() == "" {
		return ErrMissingIdentity
	}

	if !attempt.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, attempt.Status)
	}

	c.results = append(c.results, attempt.Normalized())

	return nil
}

// Results returns the attempts recorded so far, in arrival order.
func (c *Collector) Results() []result.Record {
	out := make([]result.Record, len(c.results))
	copy(out, c.results)

	return out
}

// Len returns the number of recorded attempts.
func (c *Collector) Len() int {
	return len(c.results)
}

// Persist writes the recorded attempts as a bare JSON array, creating the
// destination directory first.
func (c *Collector) Persist() error {
	data, err := json.MarshalIndent(c.results, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling results: %w", err)
	}

	if dir := filepath.Dir(c.path); dir != "." {
		if err := fsutil.MkdirAll(dir, 0755, c.owner); err != nil {
			return fmt.Errorf("creating directory for %s: %w", c.path, err)
		}
	}

	if err := fsutil.WriteFile(c.path, data, 0644, c.owner); err != nil {
		return fmt.Errorf("writing results to %s: %w", c.path, err)
	}

	return nil
}

// WorkerReportPath returns the file a worker persists to:
// <workerDir>/<name>_<worker><ext>, so no two workers share a file. The main
// process (empty worker id) persists as worker MainWorkerID and never writes
// reportPath, which belongs to the merge step.
func WorkerReportPath(reportPath, workerDir, workerID string) string {
	if workerID == "" {
		workerID = MainWorkerID
	}

	if workerDir == "" {
		workerDir = DefaultWorkerDir
	}

	base := filepath.Base(reportPath)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)

	return filepath.Join(workerDir, fmt.Sprintf("%s_%s%s", name, workerID, ext))
}

// WorkerID returns the worker identity of the current process from the
// environment, or "" for the main process.
func WorkerID() string {
	return os.Getenv("PYTEST_XDIST_WORKER")
}
