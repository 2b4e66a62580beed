// Package history records merged reports in a database so flakiness can be
// measured across builds, not only across reruns of one build.
package history

import (
	"context"
	"errors"
	"fmt"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ethpandaops/reportoor/pkg/config"
)

// ErrRunNotFound is returned when a run id is unknown.
var ErrRunNotFound = errors.New("run not found")

// Store provides persistence for recorded runs.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	// RecordRun stores a run and its outcomes in one transaction.
	RecordRun(ctx context.Context, run *Run, outcomes []*TestOutcome) error
	// ListRuns returns the most recent runs, newest first. A limit <= 0
	// returns all runs.
	ListRuns(ctx context.Context, limit int) ([]Run, error)
	GetRun(ctx context.Context, runID string) (*Run, []TestOutcome, error)
	// ListRecentOutcomes returns the outcomes of the last n runs, oldest
	// run first.
	ListRecentOutcomes(ctx context.Context, n int) ([]TestOutcome, error)
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log logrus.FieldLogger
	cfg *config.DatabaseConfig
	db  *gorm.DB
}

// NewStore creates a new history Store backed by the configured database driver.
func NewStore(
	log logrus.FieldLogger,
	cfg *config.DatabaseConfig,
) Store {
	return &store{
		log: log.WithField("component", "history"),
		cfg: cfg,
	}
}

// Start opens the database connection and runs migrations.
func (s *store) Start(ctx context.Context) error {
	var dialector gorm.Dialector

	gormCfg := &gorm.Config{
		Logger: logger.Discard,
	}

	switch s.cfg.Driver {
	case config.DriverSQLite:
		dialector = sqlite.Open(s.cfg.SQLite.Path)
	case config.DriverPostgres:
		dialector = postgres.Open(s.cfg.Postgres.DSN())
	default:
		return fmt.Errorf("%w: %s", config.ErrDatabaseDriver, s.cfg.Driver)
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return fmt.Errorf("opening history database: %w", err)
	}

	if s.cfg.Driver == config.DriverSQLite {
		// A second connection to ":memory:" would see an empty database.
		sqlDB, err := db.DB()
		if err != nil {
			return fmt.Errorf("getting underlying db: %w", err)
		}

		sqlDB.SetMaxOpenConns(1)
	}

	s.db = db

	if err := s.db.WithContext(ctx).AutoMigrate(
		&Run{},
		&TestOutcome{},
	); err != nil {
		return fmt.Errorf("running history migrations: %w", err)
	}

	s.log.WithField("driver", s.cfg.Driver).
		Info("History database connected")

	return nil
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

// RecordRun inserts a run and its outcomes.
func (s *store) RecordRun(
	ctx context.Context, run *Run, outcomes []*TestOutcome,
) error {
	const batchSize = 100

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(run).Error; err != nil {
			return fmt.Errorf("inserting run: %w", err)
		}

		if len(outcomes) == 0 {
			return nil
		}

		if err := tx.CreateInBatches(outcomes, batchSize).Error; err != nil {
			return fmt.Errorf("inserting test outcomes: %w", err)
		}

		return nil
	})
	if err != nil {
		return err
	}

	s.log.WithFields(logrus.Fields{
		"run_id":   run.RunID,
		"outcomes": len(outcomes),
	}).Debug("Recorded run")

	return nil
}

// ListRuns returns runs ordered by timestamp, newest first.
func (s *store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	var runs []Run

	q := s.db.WithContext(ctx).Order("timestamp DESC").Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	if err := q.Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}

	return runs, nil
}

// GetRun returns a run and its outcomes in stored order.
func (s *store) GetRun(
	ctx context.Context, runID string,
) (*Run, []TestOutcome, error) {
	var run Run

	err := s.db.WithContext(ctx).Where("run_id = ?", runID).First(&run).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrRunNotFound
		}

		return nil, nil, fmt.Errorf("getting run: %w", err)
	}

	var outcomes []TestOutcome
	if err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("id ASC").
		Find(&outcomes).Error; err != nil {
		return nil, nil, fmt.Errorf("listing test outcomes: %w", err)
	}

	return &run, outcomes, nil
}

// ListRecentOutcomes returns the outcomes recorded by the last n runs.
func (s *store) ListRecentOutcomes(
	ctx context.Context, n int,
) ([]TestOutcome, error) {
	runs, err := s.ListRuns(ctx, n)
	if err != nil {
		return nil, err
	}

	if len(runs) == 0 {
		return []TestOutcome{}, nil
	}

	ids := make([]string, 0, len(runs))
	for _, run := range runs {
		ids = append(ids, run.RunID)
	}

	var outcomes []TestOutcome
	if err := s.db.WithContext(ctx).
		Where("run_id IN ?", ids).
		Order("timestamp ASC").
		Order("id ASC").
		Find(&outcomes).Error; err != nil {
		return nil, fmt.Errorf("listing recent outcomes: %w", err)
	}

	return outcomes, nil
}
