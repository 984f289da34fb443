package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	// PostgreSQL driver, registered as "postgres".
	_ "github.com/lib/pq"
)

// Sentinel errors for connection management.
var (
	// ErrNoDatabaseConnection is returned when an operation requires a
	// connection that was never established or already closed.
	ErrNoDatabaseConnection = errors.New("no database connection")

	// ErrConnectionFailed is returned when the initial connect or ping fails.
	ErrConnectionFailed = errors.New("database connection failed")
)

const healthCheckTimeout = 5 * time.Second

// Connection wraps *sql.DB with pool tuning applied from Config. All stores
// in this package share one Connection; the pool is the only state they hold.
type Connection struct {
	db  *sql.DB
	cfg *Config
}

// Connect opens a PostgreSQL connection pool and verifies it with a ping.
// The context bounds the initial ping only; the pool itself lives until
// Close.
func Connect(ctx context.Context, cfg *Config) (*Connection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", cfg.databaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	return &Connection{db: db, cfg: cfg}, nil
}

// WrapDB adopts an already-open *sql.DB. Used by tests that obtain their
// connection from a container helper.
func WrapDB(db *sql.DB) *Connection {
	return &Connection{db: db}
}

// HealthCheck pings the database with a bounded timeout.
func (c *Connection) HealthCheck(ctx context.Context) error {
	if c == nil || c.db == nil {
		return ErrNoDatabaseConnection
	}

	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	return nil
}

// BeginTx starts a transaction.
func (c *Connection) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	if c == nil || c.db == nil {
		return nil, ErrNoDatabaseConnection
	}

	return c.db.BeginTx(ctx, opts)
}

// ExecContext executes a statement outside a transaction.
func (c *Connection) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if c == nil || c.db == nil {
		return nil, ErrNoDatabaseConnection
	}

	return c.db.ExecContext(ctx, query, args...)
}

// QueryRowContext runs a single-row query outside a transaction.
func (c *Connection) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return c.db.QueryRowContext(ctx, query, args...)
}

// DB exposes the underlying pool for migration tooling.
func (c *Connection) DB() *sql.DB {
	return c.db
}

// Close closes the pool. Safe to call on a nil receiver.
func (c *Connection) Close() error {
	if c == nil || c.db == nil {
		return nil
	}

	return c.db.Close()
}
