package database

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"
)

// MigrationsTable records applied migration versions.
const MigrationsTable = "unpaywall_schema_migrations"

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Migrator applies the cache store schema.
type Migrator struct {
	migrate *migrate.Migrate
	sqlDB   *sql.DB // database/sql view of the pgx pool, closed with the migrator
	logger  zerolog.Logger
}

// NewMigrator creates a migrator. An empty migrationsPath selects the
// migrations compiled into the binary; otherwise they are read from disk.
func NewMigrator(db *DB, migrationsPath string, logger zerolog.Logger) (*Migrator, error) {
	if db == nil || db.pool == nil {
		return nil, errors.New("database is required")
	}

	src, sourceName, err := openSource(migrationsPath)
	if err != nil {
		return nil, err
	}

	sqlDB := stdlib.OpenDBFromPool(db.pool)
	driver, err := postgres.WithInstance(sqlDB, &postgres.Config{
		MigrationsTable: MigrationsTable,
	})
	if err != nil {
		src.Close()
		sqlDB.Close()
		return nil, fmt.Errorf("failed to create postgres driver: %w", err)
	}

	m, err := migrate.NewWithInstance(sourceName, src, "postgres", driver)
	if err != nil {
		src.Close()
		sqlDB.Close()
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}

	return &Migrator{
		migrate: m,
		sqlDB:   sqlDB,
		logger: logger.With().
			Str("component", "migrator").
			Str("source", sourceName).
			Logger(),
	}, nil
}

func openSource(path string) (source.Driver, string, error) {
	if path == "" {
		src, err := iofs.New(embeddedMigrations, "migrations")
		if err != nil {
			return nil, "", fmt.Errorf("reading embedded migrations: %w", err)
		}
		return src, "embedded", nil
	}

	if _, err := os.Stat(path); err != nil {
		return nil, "", fmt.Errorf("migrations path validation failed: %w", err)
	}
	src, err := source.Open("file://" + path)
	if err != nil {
		return nil, "", fmt.Errorf("opening migrations at %s: %w", path, err)
	}
	return src, "file", nil
}

// Up applies all pending migrations.
func (m *Migrator) Up() error {
	if err := m.migrate.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			m.logger.Info().Msg("no migrations to apply")
			return nil
		}
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	m.logger.Info().Msg("migrations applied")
	return nil
}

// Down rolls back all migrations, dropping the cache table.
func (m *Migrator) Down() error {
	m.logger.Warn().Msg("rolling back all migrations")

	if err := m.migrate.Down(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			m.logger.Info().Msg("no migrations to roll back")
			return nil
		}
		return fmt.Errorf("failed to rollback migrations: %w", err)
	}
	return nil
}

// Steps runs n migrations (positive = up, negative = down).
func (m *Migrator) Steps(n int) error {
	if err := m.migrate.Steps(n); err != nil {
		if errors.Is(err, migrate.ErrNoChange) || errors.Is(err, os.ErrNotExist) {
			m.logger.Info().Int("steps", n).Msg("no migrations to apply")
			return nil
		}
		return fmt.Errorf("failed to run migration steps: %w", err)
	}

	m.logger.Info().Int("steps", n).Msg("migration steps applied")
	return nil
}

// Version returns the current migration version and whether it is dirty.
// A database with no migrations applied reports version 0.
func (m *Migrator) Version() (uint, bool, error) {
	v, dirty, err := m.migrate.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}

// Force sets the migration version without running migrations.
func (m *Migrator) Force(version int) error {
	m.logger.Warn().Int("version", version).Msg("forcing migration version")
	return m.migrate.Force(version)
}

// Close releases the migration source and the database/sql handle.
func (m *Migrator) Close() error {
	sourceErr, dbErr := m.migrate.Close()

	if m.sqlDB != nil {
		if err := m.sqlDB.Close(); err != nil && dbErr == nil {
			dbErr = err
		}
	}

	return errors.Join(sourceErr, dbErr)
}
