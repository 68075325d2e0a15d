package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStoreOpenPingClose(t *testing.T) {
	store := rawStore(t)
	ctx := context.Background()

	require.NoError(t, store.Ping(ctx))
	require.NotNil(t, store.DB())
	require.NoError(t, store.EnsureSchema(ctx))
}

func TestStoreNilIsSafe(t *testing.T) {
	var store *Store
	require.ErrorIs(t, store.Ping(context.Background()), errStoreNotInitialized)
	require.NoError(t, store.Close())
}

func TestOpenFailures(t *testing.T) {
	_, err := Open(context.Background(), "")
	require.ErrorContains(t, err, "dsn is empty")

	_, err = Open(context.Background(), "postgres://nobody@127.0.0.1:1/payflow?sslmode=disable",
		WithPingTimeout(200*time.Millisecond), WithMaxConns(2), WithConnMaxLifetime(time.Minute))
	require.ErrorContains(t, err, "ping postgres")
}
