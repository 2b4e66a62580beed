package history

import "time"

// Run represents one merged report recorded in the history database.
type Run struct {
	ID          uint   `gorm:"primaryKey" json:"-"`
	RunID       string `gorm:"not null;uniqueIndex" json:"run_id"`
	Timestamp   int64  `gorm:"index" json:"timestamp"`
	Branch      string `gorm:"index" json:"branch"`
	Commit      string `json:"commit"`
	Environment string `json:"environment"`
	Policy      string `json:"policy"`

	// Denormalized filter counters.
	Total     int `json:"total"`
	Passed    int `json:"passed"`
	Failed    int `json:"failed"`
	Flaky     int `json:"flaky"`
	Skipped   int `json:"skipped"`
	Untracked int `json:"untracked"`

	// Full filter summary serialized as JSON.
	FiltersJSON string `gorm:"type:text" json:"-"`

	RecordedAt time.Time `json:"recorded_at"`
}

// TestOutcome is the merged result of one test within a recorded run.
type TestOutcome struct {
	ID        uint    `gorm:"primaryKey" json:"-"`
	RunID     string  `gorm:"not null;index" json:"run_id"`
	TestID    string  `gorm:"not null;index" json:"test_id"`
	Name      string  `json:"name"`
	Status    string  `json:"status"`
	Flaky     bool    `json:"flaky"`
	Attempts  string  `json:"attempts"`
	Duration  float64 `json:"duration"`
	Timestamp int64   `gorm:"index" json:"timestamp"`
}
