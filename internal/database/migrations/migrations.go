package migrations

import (
	"database/sql"
	"errors"
	"fmt"
	"os"

	"ms-tourbooking/internal/logger"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"go.uber.org/multierr"
)

// SchemaVersion is the last migration that only changes schema. Later
// versions load demo tours and products.
const SchemaVersion uint = 1

type MigrateOptions struct {
	MigrationsDir string
	AutoMigrate   bool
	// SeedData also applies the demo data migrations after the schema.
	SeedData bool
}

func DefaultOptions() MigrateOptions {
	return MigrateOptions{
		MigrationsDir: "./migrations",
		AutoMigrate:   true,
		SeedData:      false,
	}
}

// Runner applies the SQL files in MigrationsDir to Postgres.
type Runner struct {
	sqlDB    *sql.DB
	options  MigrateOptions
	logger   *logger.Logger
	migrator *migrate.Migrate
}

func NewRunner(sqlDB *sql.DB, opts MigrateOptions, log *logger.Logger) *Runner {
	return &Runner{
		sqlDB:   sqlDB,
		options: opts,
		logger:  log,
	}
}

func (r *Runner) init() error {
	if r.migrator != nil {
		return nil
	}
	if _, err := os.Stat(r.options.MigrationsDir); os.IsNotExist(err) {
		return fmt.Errorf("migrations directory does not exist: %s", r.options.MigrationsDir)
	}

	driver, err := postgres.WithInstance(r.sqlDB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create postgres migration driver: %w", err)
	}
	migrator, err := migrate.NewWithDatabaseInstance("file://"+r.options.MigrationsDir, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	r.migrator = migrator
	return nil
}

// Run brings the schema up to date, and the demo data too when SeedData is set.
func (r *Runner) Run() error {
	if err := r.init(); err != nil {
		return err
	}

	version, dirty, err := r.Version()
	if err != nil {
		return err
	}
	if dirty {
		r.logger.Warn("MIGRATE", fmt.Sprintf("Dirty migration at version %d, forcing", version))
		if err := r.migrator.Force(int(version)); err != nil {
			return fmt.Errorf("fix dirty migration: %w", err)
		}
	}

	if r.options.SeedData {
		r.logger.Info("MIGRATE", "Running schema and seed migrations")
		err = r.migrator.Up()
	} else if version < SchemaVersion {
		r.logger.Info("MIGRATE", "Running schema migrations only")
		err = r.migrator.Migrate(SchemaVersion)
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}

	version, _, err = r.Version()
	if err != nil {
		return err
	}
	r.logger.Info("MIGRATE", fmt.Sprintf("Current schema version: %d", version))
	return nil
}

func (r *Runner) Up() error {
	if err := r.init(); err != nil {
		return err
	}
	if err := r.migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

func (r *Runner) Down() error {
	if err := r.init(); err != nil {
		return err
	}
	if err := r.migrator.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration down failed: %w", err)
	}
	return nil
}

// To migrates up or down to version.
func (r *Runner) To(version uint) error {
	if err := r.init(); err != nil {
		return err
	}
	if err := r.migrator.Migrate(version); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration to version %d failed: %w", version, err)
	}
	return nil
}

// Version returns 0 when no migration has run yet.
func (r *Runner) Version() (uint, bool, error) {
	if err := r.init(); err != nil {
		return 0, false, err
	}
	version, dirty, err := r.migrator.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read migration version: %w", err)
	}
	return version, dirty, nil
}

func (r *Runner) Close() error {
	if r.migrator == nil {
		return nil
	}
	sourceErr, databaseErr := r.migrator.Close()
	return multierr.Combine(sourceErr, databaseErr)
}
