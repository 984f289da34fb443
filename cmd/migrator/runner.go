package main

import (
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	_ "github.com/lib/pq" // PostgreSQL driver

	migrate "github.com/golang-migrate/migrate/v4"

	"github.com/eventgate-io/eventgate/migrations"
)

// ErrDatabaseURLRequired is returned when DATABASE_URL is not set.
var ErrDatabaseURLRequired = errors.New("DATABASE_URL environment variable is required")

type (
	// Runner drives the embedded migration set against the hot store.
	Runner struct {
		migrate *migrate.Migrate
		db      *sql.DB
	}

	// migrateLogger adapts the standard logger to the migrate.Logger interface.
	migrateLogger struct{}
)

var _ migrate.Logger = (*migrateLogger)(nil)

// NewRunner opens the database and binds the embedded migration source to it.
func NewRunner(databaseURL string) (*Runner, error) {
	if databaseURL == "" {
		return nil, ErrDatabaseURLRequired
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to create postgres driver: %w", err)
	}

	source, err := iofs.New(migrations.FS(), ".")
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to open embedded migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}

	m.Log = &migrateLogger{}

	return &Runner{migrate: m, db: db}, nil
}

// Up applies all pending migrations.
func (r *Runner) Up() error {
	err := r.migrate.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}

	if errors.Is(err, migrate.ErrNoChange) {
		log.Println("No new migrations to apply")
	} else {
		log.Println("All migrations applied successfully")
	}

	return nil
}

// Down rolls back the last migration.
func (r *Runner) Down() error {
	err := r.migrate.Steps(-1)
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration down failed: %w", err)
	}

	if errors.Is(err, migrate.ErrNoChange) {
		log.Println("No migrations to rollback")
	} else {
		log.Println("Last migration rolled back successfully")
	}

	return nil
}

// Status prints the current migration version and dirty flag.
func (r *Runner) Status() error {
	ver, dirty, err := r.migrate.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			fmt.Println("Migration Status: No migrations applied yet")

			return nil
		}

		return fmt.Errorf("failed to get migration version: %w", err)
	}

	status := "clean"
	if dirty {
		status = "dirty (needs manual intervention)"
	}

	fmt.Printf("Migration Status: Version %d (%s)\n", ver, status)

	return nil
}

// Drop drops all tables. Destructive; the CLI asks for confirmation first.
func (r *Runner) Drop() error {
	if err := r.migrate.Drop(); err != nil {
		return fmt.Errorf("drop operation failed: %w", err)
	}

	log.Println("All tables dropped successfully")

	return nil
}

// Close closes the migrate instance and the database connection.
func (r *Runner) Close() error {
	var errs []error

	if r.migrate != nil {
		if sourceErr, dbErr := r.migrate.Close(); sourceErr != nil || dbErr != nil {
			if sourceErr != nil {
				errs = append(errs, fmt.Errorf("source close error: %w", sourceErr))
			}

			if dbErr != nil {
				errs = append(errs, fmt.Errorf("database close error: %w", dbErr))
			}
		}
	}

	if r.db != nil {
		if err := r.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("database connection close error: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}

	return nil
}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	log.Printf("[MIGRATE] "+format, v...)
}

func (l *migrateLogger) Verbose() bool {
	return false
}
