package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/sirupsen/logrus"
)

// MigrationRunner applies the SQL files in the migrations directory.
type MigrationRunner struct {
	migrate *migrate.Migrate
	log     *logrus.Logger
}

// NewMigrationRunner creates a new migration runner
func NewMigrationRunner(databaseURL, migrationsPath string, logger *logrus.Logger) (*MigrationRunner, error) {
	m, err := migrate.New(
		fmt.Sprintf("file://%s", migrationsPath),
		databaseURL,
	)
	if err != nil {
		return nil, fmt.Errorf("creating migration instance: %w", err)
	}

	return &MigrationRunner{
		migrate: m,
		log:     logger,
	}, nil
}

// Up applies every pending migration. An up-to-date schema is not an error.
func (mr *MigrationRunner) Up(ctx context.Context) error {
	return mr.run(ctx, "up", mr.migrate.Up)
}

// Down rolls back the most recent migration.
func (mr *MigrationRunner) Down(ctx context.Context) error {
	return mr.run(ctx, "down", func() error { return mr.migrate.Steps(-1) })
}

// Force records version as applied and clears the dirty flag without
// running any SQL. It is the recovery step after a failed migration has
// been repaired by hand.
func (mr *MigrationRunner) Force(version int) error {
	if version < 0 {
		return fmt.Errorf("invalid migration version %d", version)
	}
	if err := mr.migrate.Force(version); err != nil {
		return fmt.Errorf("forcing migration version %d: %w", version, err)
	}
	mr.log.WithField("version", version).Warn("Migration version forced")
	return nil
}

func (mr *MigrationRunner) run(ctx context.Context, direction string, fn func() error) error {
	entry := mr.log.WithField("direction", direction)
	entry.Info("Running database migrations")

	err := mr.withContext(ctx, fn)
	switch {
	case errors.Is(err, migrate.ErrNoChange):
		entry.Info("Schema already at target version")
		return nil
	case err != nil:
		return fmt.Errorf("running migrations %s: %w", direction, err)
	}

	if version, dirty, err := mr.Version(); err != nil {
		entry.WithError(err).Warn("Could not read schema version")
	} else {
		entry.WithFields(logrus.Fields{"version": version, "dirty": dirty}).Info("Migrations applied")
	}
	return nil
}

// withContext runs fn and asks golang-migrate to stop gracefully once ctx ends.
func (mr *MigrationRunner) withContext(ctx context.Context, fn func() error) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			select {
			case mr.migrate.GracefulStop <- true:
			default:
			}
		case <-done:
		}
	}()
	return fn()
}

// Version returns the current migration version. A database with no
// migrations applied reports version 0.
func (mr *MigrationRunner) Version() (uint, bool, error) {
	version, dirty, err := mr.migrate.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

// Close closes the migration runner
func (mr *MigrationRunner) Close() error {
	sourceErr, dbErr := mr.migrate.Close()
	if sourceErr != nil {
		return fmt.Errorf("closing migration source: %w", sourceErr)
	}
	if dbErr != nil {
		return fmt.Errorf("closing migration database: %w", dbErr)
	}
	return nil
}
