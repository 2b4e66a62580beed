// Package result defines the per-attempt and merged test result records
// exchanged between workers, the merge step and report renderers.
package result

import (
	"strings"
	"time"
)

// CollectionErrorName is the display name used for collection failures.
const CollectionErrorName = "COLLECTION ERROR"

// Record is one observed attempt of one test. Records are immutable once
// handed to a collector.
type Record struct {
	Name       string   `json:"test" mapstructure:"test"`
	NodeID     string   `json:"nodeid" mapstructure:"nodeid"`
	Status     Status   `json:"status" mapstructure:"status"`
	Duration   float64  `json:"duration" mapstructure:"duration"`
	Error      *string  `json:"error" mapstructure:"error"`
	Trace      *string  `json:"trace,omitempty" mapstructure:"trace"`
	Markers    []string `json:"markers" mapstructure:"markers"`
	File       *string  `json:"file" mapstructure:"file"`
	Line       *int     `json:"line" mapstructure:"line"`
	Stdout     *string  `json:"stdout" mapstructure:"stdout"`
	Stderr     *string  `json:"stderr" mapstructure:"stderr"`
	Logs       *string  `json:"logs" mapstructure:"logs"`
	Timestamp  string   `json:"timestamp" mapstructure:"timestamp"`
	Screenshot *string  `json:"screenshot" mapstructure:"screenshot"`
	Worker     *string  `json:"worker" mapstructure:"worker"`
	Links      []string `json:"links" mapstructure:"links"`
}

// Merged is the canonical result for one logical test after all of its
// attempts have been reconciled. The embedded Record is the last attempt.
type Merged struct {
	Record

	Flaky    bool     `json:"flaky"`
	Attempts []Status `json:"flaky_attempts"`
}

// Key returns the grouping identity of the record: the node id, or the
// display name when the node id is absent.
func (r *Record) Key() string {
	if r.NodeID != "" {
		return r.NodeID
	}

	return r.Name
}

// Untracked reports whether the record has no tracking links.
func (r *Record) Untracked() bool {
	return len(r.Links) == 0
}

// CapturedAt parses the attempt completion timestamp.
func (r *Record) CapturedAt() (time.Time, error) {
	return time.Parse(time.RFC3339Nano, r.Timestamp)
}

// Normalized returns a copy with nil slices replaced by empty ones so the
// record always serializes markers and links as arrays.
func (r Record) Normalized() Record {
	if r.Markers == nil {
		r.Markers = []string{}
	}

	if r.Links == nil {
		r.Links = []string{}
	}

	return r
}

// Timestamp formats t the way attempt timestamps are persisted.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// NewCollectionError builds the record reported when a test module fails
// to be collected.
func NewCollectionError(nodeID, file, longrepr, worker string) Record {
	line := 0
	empty := ""

	return Record{
		Name:      CollectionErrorName,
		NodeID:    nodeID,
		Status:    StatusError,
		Error:     &longrepr,
		Markers:   []string{},
		File:      &file,
		Line:      &line,
		Stdout:    &empty,
		Stderr:    &empty,
		Timestamp: Timestamp(time.Now()),
		Worker:    &worker,
		Links:     []string{},
	}
}

// ErrorBlock returns the assertion lines ("E   ...") of the error text, or
// the whole trimmed error text when there are none.
func (r *Record) ErrorBlock() string {
	if r.Error == nil || *r.Error == "" {
		return ""
	}

	lines := strings.Split(*r.Error, "\n")
	block := make([]string, 0, len(lines))

	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "E ") {
			block = append(block, line)
		}
	}

	if out := strings.TrimSpace(strings.Join(block, "\n")); out != "" {
		return out
	}

	return strings.TrimSpace(*r.Error)
}

// TraceBlock returns the traceback lines preceding the first assertion
// line. The trace text is preferred; the error text is used when the
// record has no separate trace.
func (r *Record) TraceBlock() string {
	text := r.Trace
	if text == nil {
		text = r.Error
	}

	if text == nil || *text == "" {
		return ""
	}

	lines := strings.Split(*text, "\n")
	block := make([]string, 0, len(lines))

	for _, line := range lines {
		if strings.HasPrefix(strings.TrimLeft(line, " \t"), "E ") {
			break
		}

		block = append(block, line)
	}

	return strings.TrimSpace(strings.Join(block, "\n"))
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}

// IntPtr returns a pointer to i.
func IntPtr(i int) *int {
	return &i
}
