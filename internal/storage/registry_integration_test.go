package storage

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"

	"github.com/eventgate-io/eventgate/internal/config"
	"github.com/eventgate-io/eventgate/internal/ingestion"
)

func setupTestConnection(ctx context.Context, t *testing.T) *Connection {
	t.Helper()

	testDB := config.SetupTestDatabase(ctx, t)
	t.Cleanup(func() {
		_ = testDB.Connection.Close()
		_ = testcontainers.TerminateContainer(testDB.Container)
	})

	return WrapDB(testDB.Connection)
}

func TestTryRegisterLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	conn := setupTestConnection(ctx, t)

	registry, err := NewIdempotencyRegistry(conn)
	require.NoError(t, err)

	const (
		tenant = "acme"
		key    = "idem-lifecycle"
		hash   = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	)

	// First attempt wins the insert.
	outcome, err := registry.TryRegister(ctx, tenant, key, hash)
	require.NoError(t, err)
	assert.Equal(t, ingestion.RegisterInserted, outcome)

	// Same key, same hash: safe retry.
	outcome, err = registry.TryRegister(ctx, tenant, key, hash)
	require.NoError(t, err)
	assert.Equal(t, ingestion.RegisterDuplicate, outcome)

	// Same key, different hash: key misuse.
	outcome, err = registry.TryRegister(ctx, tenant, key,
		"bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	require.NoError(t, err)
	assert.Equal(t, ingestion.RegisterConflict, outcome)

	// The conflict must not have overwritten the stored hash.
	outcome, err = registry.TryRegister(ctx, tenant, key, hash)
	require.NoError(t, err)
	assert.Equal(t, ingestion.RegisterDuplicate, outcome)

	// Compensation frees the key for a fresh insert.
	require.NoError(t, registry.Unregister(ctx, tenant, key))

	outcome, err = registry.TryRegister(ctx, tenant, key, hash)
	require.NoError(t, err)
	assert.Equal(t, ingestion.RegisterInserted, outcome)
}

func TestTryRegisterScopedByTenant(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	conn := setupTestConnection(ctx, t)

	registry, err := NewIdempotencyRegistry(conn)
	require.NoError(t, err)

	const key = "shared-key"

	outcome, err := registry.TryRegister(ctx, "tenant-a", key, "hash-1")
	require.NoError(t, err)
	assert.Equal(t, ingestion.RegisterInserted, outcome)

	// Same key under a different tenant is an independent registration.
	outcome, err = registry.TryRegister(ctx, "tenant-b", key, "hash-2")
	require.NoError(t, err)
	assert.Equal(t, ingestion.RegisterInserted, outcome)
}

func TestTryRegisterConcurrentDuplicates(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	conn := setupTestConnection(ctx, t)

	registry, err := NewIdempotencyRegistry(conn)
	require.NoError(t, err)

	const (
		workers = 16
		tenant  = "acme"
		key     = "idem-concurrent"
		hash    = "cccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccc"
	)

	outcomes := make([]ingestion.RegisterOutcome, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			outcomes[i], errs[i] = registry.TryRegister(ctx, tenant, key, hash)
		}()
	}

	wg.Wait()

	insertedCount := 0

	for i := range workers {
		require.NoError(t, errs[i])

		switch outcomes[i] {
		case ingestion.RegisterInserted:
			insertedCount++
		case ingestion.RegisterDuplicate:
			// expected for all losers
		case ingestion.RegisterConflict:
			t.Fatalf("worker %d observed conflict for identical payloads", i)
		}
	}

	// Exactly one concurrent caller may win the insert.
	assert.Equal(t, 1, insertedCount)
}
