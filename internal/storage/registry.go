package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/eventgate-io/eventgate/internal/config"
	"github.com/eventgate-io/eventgate/internal/ingestion"
)

// Sentinel errors for idempotency registry operations.
var (
	// ErrRegistryFailed is returned when a registration attempt fails at
	// the database level.
	ErrRegistryFailed = errors.New("idempotency registration failed")

	// IdempotencyRegistry implements ingestion.Registry.
	_ ingestion.Registry = (*IdempotencyRegistry)(nil)
)

// registerQuery is the single-statement merge that makes concurrent
// duplicate attempts safe. A plain try-insert-then-read is incorrect here:
// the winner's row may not yet be visible to the loser's read. The no-op
// DO UPDATE forces the loser to block on the winner's row lock and then
// return the surviving row, so both callers observe a consistent outcome.
// (xmax = 0) distinguishes a fresh insert from a conflicting update path.
const registerQuery = `
	INSERT INTO ingest_idempotency (tenant_id, idempotency_key, payload_hash, first_seen_at)
	VALUES ($1, $2, $3, now())
	ON CONFLICT (tenant_id, idempotency_key)
	DO UPDATE SET payload_hash = ingest_idempotency.payload_hash
	RETURNING payload_hash, (xmax = 0) AS inserted
`

// IdempotencyRegistry implements ingestion.Registry with a PostgreSQL
// backend. It holds no state beyond the shared connection pool.
type IdempotencyRegistry struct {
	conn   *Connection
	logger *slog.Logger
}

// NewIdempotencyRegistry creates a PostgreSQL-backed idempotency registry.
// Returns ErrNoDatabaseConnection if conn is nil.
func NewIdempotencyRegistry(conn *Connection) (*IdempotencyRegistry, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &IdempotencyRegistry{
		conn: conn,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}, nil
}

// TryRegister implements ingestion.Registry.
//
// Outcome mapping:
//   - inserted=true                         → Inserted
//   - inserted=false, stored hash == hash   → Duplicate (safe retry)
//   - inserted=false, stored hash != hash   → Conflict (key misuse)
func (r *IdempotencyRegistry) TryRegister(
	ctx context.Context,
	tenantID, idempotencyKey, payloadHash string,
) (ingestion.RegisterOutcome, error) {
	var (
		storedHash string
		inserted   bool
	)

	err := r.conn.QueryRowContext(ctx, registerQuery, tenantID, idempotencyKey, payloadHash).
		Scan(&storedHash, &inserted)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrRegistryFailed, err)
	}

	switch {
	case inserted:
		return ingestion.RegisterInserted, nil
	case storedHash == payloadHash:
		return ingestion.RegisterDuplicate, nil
	default:
		r.logger.Warn("idempotency key reused with different payload",
			slog.String("tenant_id", tenantID),
			slog.String("idempotency_key", idempotencyKey),
		)

		return ingestion.RegisterConflict, nil
	}
}

// Unregister implements ingestion.Registry. Deleting a row that no longer
// exists is not an error.
func (r *IdempotencyRegistry) Unregister(ctx context.Context, tenantID, idempotencyKey string) error {
	_, err := r.conn.ExecContext(ctx,
		`DELETE FROM ingest_idempotency WHERE tenant_id = $1 AND idempotency_key = $2`,
		tenantID, idempotencyKey,
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRegistryFailed, err)
	}

	return nil
}
