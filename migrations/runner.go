package migrations

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

var (
	// ErrInvalidMigrationName is returned when an embedded file does not follow
	// the 001_name.(up|down).sql naming standard.
	ErrInvalidMigrationName = errors.New("invalid migration filename")

	// ErrNilConnection is returned when Apply is called without a database handle.
	ErrNilConnection = errors.New("database connection cannot be nil")
)

// Apply runs all embedded migrations up against db. Running against an
// already-migrated database is a no-op, which makes startup idempotent
// (create-if-absent semantics).
func Apply(db *sql.DB) error {
	if db == nil {
		return ErrNilConnection
	}

	// Validate the embedded set before touching the database.
	if _, err := List(); err != nil {
		return err
	}

	source, err := iofs.New(embeddedMigrations, ".")
	if err != nil {
		return fmt.Errorf("failed to open embedded migration source: %w", err)
	}

	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	return nil
}
