package postgres

import (
	"context"
	"os"
	"testing"
	"time"
)

// testDSNEnv указывает на базу для интеграционных тестов; без неё тесты пропускаются.
const testDSNEnv = "PAYFLOW_POSTGRES_TEST_DSN"

var payflowTables = []string{
	"idempotency_keys",
	"outbox_messages",
	"timeline_events",
	"seat_reservations",
	"subscriptions",
	"order_lines",
	"orders",
}

// rawStore открывает базу без миграций.
func rawStore(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres integration tests are skipped in -short mode")
	}

	dsn := os.Getenv(testDSNEnv)
	if dsn == "" {
		dsn = os.Getenv("PAYFLOW_POSTGRES_DSN")
	}
	if dsn == "" {
		t.Skipf("%s is not set", testDSNEnv)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	store, err := Open(ctx, dsn)
	if err != nil {
		t.Skipf("postgres unavailable: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// migratedStore открывает базу, накатывает схему и очищает все таблицы.
func migratedStore(t *testing.T) *Store {
	t.Helper()
	store := rawStore(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.MigrateUp(ctx, 0); err != nil {
		t.Fatalf("migrate up: %v", err)
	}
	truncate(t, store, payflowTables...)
	return store
}

func truncate(t *testing.T, store *Store, tables ...string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, table := range tables {
		if _, err := store.DB().ExecContext(ctx, "TRUNCATE TABLE "+table+" CASCADE"); err != nil {
			t.Fatalf("truncate %s: %v", table, err)
		}
	}
}
