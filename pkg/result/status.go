package result

// Status is the outcome of a single test attempt.
type Status string

// Attempt outcomes.
const (
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
	StatusError   Status = "error"
)

// Valid reports whether s is one of the known outcomes.
func (s Status) Valid() bool {
	switch s {
	case StatusPassed, StatusFailed, StatusSkipped, StatusError:
		return true
	default:
		return false
	}
}

// IsFailure reports whether the attempt carries error text.
func (s Status) IsFailure() bool {
	return s == StatusFailed || s == StatusError
}

// String implements fmt.Stringer.
func (s Status) String() string {
	return string(s)
}
