package history

import (
	"math"
	"sort"
	"time"

	"github.com/ethpandaops/reportoor/pkg/result"
)

// FlakyTest summarizes how consistently one test behaved across runs.
type FlakyTest struct {
	TestID       string         `json:"test_id"`
	Name         string         `json:"name"`
	Runs         int            `json:"total_runs"`
	Statuses     []string       `json:"statuses"`
	StatusCounts map[string]int `json:"status_counts"`
	Majority     int            `json:"majority"`
	Flakiness    float64        `json:"flakiness_pct"`
	FlakyRuns    int            `json:"flaky_runs"`
	LastFailed   *time.Time     `json:"last_failed"`
}

// Analyze groups outcomes by test and computes flakiness as the share of
// runs that disagree with the test's most common status, in percent
// rounded to two decimals. Only tests with a non-zero flakiness are
// returned, most flaky first and then by test id.
func Analyze(outcomes []TestOutcome) []FlakyTest {
	byTest := make(map[string]*FlakyTest, len(outcomes))

	for _, o := range outcomes {
		ft, ok := byTest[o.TestID]
		if !ok {
			ft = &FlakyTest{
				TestID:       o.TestID,
				StatusCounts: make(map[string]int, 4),
			}
			byTest[o.TestID] = ft
		}

		if o.Name != "" {
			ft.Name = o.Name
		}

		ft.Runs++
		ft.Statuses = append(ft.Statuses, o.Status)
		ft.StatusCounts[o.Status]++

		if o.Flaky {
			ft.FlakyRuns++
		}

		if result.Status(o.Status).IsFailure() {
			at := time.Unix(o.Timestamp, 0).UTC()
			if ft.LastFailed == nil || at.After(*ft.LastFailed) {
				ft.LastFailed = &at
			}
		}
	}

	flaky := make([]FlakyTest, 0, len(byTest))

	for _, ft := range byTest {
		for _, n := range ft.StatusCounts {
			if n > ft.Majority {
				ft.Majority = n
			}
		}

		ft.Flakiness = flakiness(ft.Runs, ft.Majority)
		if ft.Flakiness > 0 {
			flaky = append(flaky, *ft)
		}
	}

	sort.Slice(flaky, func(i, j int) bool {
		if flaky[i].Flakiness != flaky[j].Flakiness {
			return flaky[i].Flakiness > flaky[j].Flakiness
		}

		return flaky[i].TestID < flaky[j].TestID
	})

	return flaky
}

func flakiness(runs, majority int) float64 {
	if runs == 0 {
		return 0
	}

	pct := float64(runs-majority) / float64(runs) * 100

	return math.Round(pct*100) / 100
}
