package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMigratorRoundTrip(t *testing.T) {
	store := rawStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	expect := func(version int64, pending ...int64) {
		t.Helper()
		state, err := store.MigrationStatus(ctx)
		require.NoError(t, err)
		require.Equal(t, version, state.Version)
		require.Equal(t, int(version), state.Applied)
		if len(pending) == 0 {
			require.Empty(t, state.Pending)
		} else {
			require.Equal(t, pending, state.Pending)
		}
	}

	require.NoError(t, store.MigrateDown(ctx, 10))
	expect(0, 1, 2)

	require.NoError(t, store.MigrateUp(ctx, 1))
	expect(1, 2)

	require.NoError(t, store.MigrateUp(ctx, 0))
	expect(2)

	require.NoError(t, store.MigrateUp(ctx, 0), "re-running up is a no-op")
	expect(2)

	require.NoError(t, store.MigrateDown(ctx, 0), "zero steps rolls back one")
	expect(1, 2)

	require.NoError(t, store.MigrateDown(ctx, 1))
	expect(0, 1, 2)
	require.NoError(t, store.MigrateDown(ctx, 1), "rolling back an empty schema is a no-op")

	require.NoError(t, store.EnsureSchema(ctx))
	expect(2)
}

func TestMigratorGuards(t *testing.T) {
	ctx := context.Background()
	var missing *Store

	require.ErrorIs(t, missing.MigrateUp(ctx, 0), errStoreNotInitialized)
	require.ErrorIs(t, missing.MigrateDown(ctx, 1), errStoreNotInitialized)
	_, err := missing.MigrationStatus(ctx)
	require.ErrorIs(t, err, errStoreNotInitialized)

	db, err := sql.Open("pgx", "postgres://unused@127.0.0.1:1/payflow")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	unreachable := &Store{db: db}
	require.ErrorContains(t, unreachable.migrate(ctx, migrationDirection("sideways"), 0), "unknown migration direction")
}
