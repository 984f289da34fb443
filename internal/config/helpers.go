package config

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/eventgate-io/eventgate/migrations"
)

const (
	occurrenceCount = 2
	startUpTimeOut  = 120 * time.Second
)

// TestDatabase encapsulates test database resources for cleanup.
// Used by integration tests across multiple packages to maintain consistent
// test infrastructure.
type TestDatabase struct {
	Container  *postgres.PostgresContainer
	Connection *sql.DB
}

// SetupTestDatabase creates a PostgreSQL container and applies the embedded
// schema migrations. This is the standard way to set up integration test
// databases across all packages.
//
// Usage:
//
//	func TestMyFeature(t *testing.T) {
//		if testing.Short() {
//			t.Skip("skipping integration test in short mode")
//		}
//		ctx := context.Background()
//		testDB := config.SetupTestDatabase(ctx, t)
//		t.Cleanup(func() {
//			_ = testDB.Connection.Close()
//			_ = testcontainers.TerminateContainer(testDB.Container)
//		})
//		// ... your test code
//	}
//
// Cleanup is the caller's responsibility using t.Cleanup().
func SetupTestDatabase(ctx context.Context, t *testing.T) *TestDatabase {
	t.Helper()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("eventgate_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(occurrenceCount).
				WithStartupTimeout(startUpTimeOut),
		),
	)
	require.NoError(t, err, "Failed to start postgres container")
	require.NotNil(t, pgContainer, "postgres container is nil")

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "Failed to get connection string")

	conn, err := sql.Open("postgres", connStr)
	require.NoError(t, err, "Failed to open database")

	// Embedded migrations: no file-path coupling between packages and the
	// migrations directory.
	if err := migrations.Apply(conn); err != nil {
		_ = conn.Close()
		_ = testcontainers.TerminateContainer(pgContainer)

		t.Fatalf("Failed to run migrations: %v", err)
	}

	return &TestDatabase{
		Container:  pgContainer,
		Connection: conn,
	}
}
