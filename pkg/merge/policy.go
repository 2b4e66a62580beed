package merge

import (
	"fmt"
	"slices"

	"github.com/ethpandaops/reportoor/pkg/result"
)

// Policy decides whether a test's attempt history makes it flaky.
type Policy string

const (
	// PolicyAnyChange marks a test flaky when its attempts disagree in any
	// way. Suited to attempts coming from independent parallel workers.
	PolicyAnyChange Policy = "any-change"

	// PolicyRecovered marks a test flaky only when it finally passed after
	// failing at least once. Suited to sequential reruns: a test that fails
	// every time is broken, not flaky.
	PolicyRecovered Policy = "recovered"
)

// DefaultPolicy is used when no policy is configured.
const DefaultPolicy = PolicyAnyChange

// Policies lists the supported policies.
func Policies() []Policy {
	return []Policy{PolicyAnyChange, PolicyRecovered}
}

// ParsePolicy parses a policy name. The empty string selects DefaultPolicy.
func ParsePolicy(name string) (Policy, error) {
	if name == "" {
		return DefaultPolicy, nil
	}

	p := Policy(name)
	if err := p.Validate(); err != nil {
		return "", err
	}

	return p, nil
}

// Validate checks that p is a supported policy.
func (p Policy) Validate() error {
	if !slices.Contains(Policies(), p) {
		return fmt.Errorf("unknown flaky policy %q (use %q or %q)",
			string(p), PolicyAnyChange, PolicyRecovered)
	}

	return nil
}

// IsFlaky applies the policy to an ordered attempt history. A single
// attempt is never flaky.
func (p Policy) IsFlaky(history []result.Status) bool {
	if len(history) < 2 {
		return false
	}

	switch p {
	case PolicyAnyChange:
		first := history[0]
		for _, s := range history[1:] {
			if s != first {
				return true
			}
		}

		return false
	case PolicyRecovered:
		last := len(history) - 1

		return history[last] == result.StatusPassed &&
			slices.Contains(history[:last], result.StatusFailed)
	default:
		return false
	}
}

// String implements fmt.Stringer.
func (p Policy) String() string {
	return string(p)
}
