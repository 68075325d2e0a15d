package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/payflow/internal/storage/postgres"
)

type fakeStore struct {
	upSteps   []int
	downSteps []int
	state     postgres.MigrationState
	upErr     error
	closed    bool
}

func (f *fakeStore) MigrateUp(_ context.Context, steps int) error {
	f.upSteps = append(f.upSteps, steps)
	return f.upErr
}

func (f *fakeStore) MigrateDown(_ context.Context, steps int) error {
	f.downSteps = append(f.downSteps, steps)
	return nil
}

func (f *fakeStore) MigrationStatus(context.Context) (postgres.MigrationState, error) {
	return f.state, nil
}

func (f *fakeStore) Close() error {
	f.closed = true
	return nil
}

func execute(t *testing.T, store *fakeStore, args ...string) (string, string, error) {
	t.Helper()
	var gotDSN string
	open := func(_ context.Context, dsn string) (migrator, error) {
		gotDSN = dsn
		return store, nil
	}

	var out bytes.Buffer
	cmd := newRootCmd(open)
	cmd.SetOut(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), gotDSN, err
}

func TestUpAppliesAllByDefault(t *testing.T) {
	store := &fakeStore{state: postgres.MigrationState{Version: 3, Applied: 3}}

	out, dsn, err := execute(t, store, "up", "--dsn", " postgres://localhost/payflow ")
	if err != nil {
		t.Fatalf("up failed: %v", err)
	}
	if dsn != "postgres://localhost/payflow" {
		t.Fatalf("unexpected dsn %q", dsn)
	}
	if len(store.upSteps) != 1 || store.upSteps[0] != 0 {
		t.Fatalf("expected one MigrateUp(0), got %v", store.upSteps)
	}
	if !strings.Contains(out, "migrate up ok: version=3 applied=3") {
		t.Fatalf("unexpected output %q", out)
	}
	if !store.closed {
		t.Fatal("store must be closed")
	}
}

func TestDownDefaultsToOneStep(t *testing.T) {
	store := &fakeStore{state: postgres.MigrationState{Version: 2, Applied: 2, Pending: []int64{3}}}

	out, _, err := execute(t, store, "down", "--dsn", "postgres://localhost/payflow")
	if err != nil {
		t.Fatalf("down failed: %v", err)
	}
	if len(store.downSteps) != 1 || store.downSteps[0] != 1 {
		t.Fatalf("expected one MigrateDown(1), got %v", store.downSteps)
	}
	if !strings.Contains(out, "pending=[3]") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestStepsFlag(t *testing.T) {
	store := &fakeStore{}
	if _, _, err := execute(t, store, "up", "--steps", "2", "--dsn", "postgres://localhost/payflow"); err != nil {
		t.Fatalf("up failed: %v", err)
	}
	if store.upSteps[0] != 2 {
		t.Fatalf("expected MigrateUp(2), got %v", store.upSteps)
	}
}

func TestDSNFromEnv(t *testing.T) {
	t.Setenv(dsnEnv, "postgres://env/payflow")
	store := &fakeStore{}

	_, dsn, err := execute(t, store, "status")
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if dsn != "postgres://env/payflow" {
		t.Fatalf("expected dsn from env, got %q", dsn)
	}
}

func TestMissingDSN(t *testing.T) {
	t.Setenv(dsnEnv, "")
	_, _, err := execute(t, &fakeStore{}, "status")
	if !errors.Is(err, errDSNRequired) {
		t.Fatalf("expected errDSNRequired, got %v", err)
	}
}

func TestUpErrorIsReported(t *testing.T) {
	store := &fakeStore{upErr: errors.New("syntax error")}
	_, _, err := execute(t, store, "up", "--dsn", "postgres://localhost/payflow")
	if err == nil || !strings.Contains(err.Error(), "migrate up failed") {
		t.Fatalf("expected migrate up error, got %v", err)
	}
}

func TestFailExits(t *testing.T) {
	if os.Getenv("MIGRATE_TEST_FAIL_EXIT") == "1" {
		fail("forced failure %d", 42)
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=TestFailExits")
	cmd.Env = append(os.Environ(), "MIGRATE_TEST_FAIL_EXIT=1")
	err := cmd.Run()
	if err == nil {
		t.Fatal("expected subprocess to exit with error")
	}
	if exitErr, ok := err.(*exec.ExitError); !ok || exitErr.ExitCode() == 0 {
		t.Fatalf("expected non-zero exit code, got %v", err)
	}
}

func TestMigrateAgainstPostgres(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("PAYFLOW_POSTGRES_TEST_DSN"))
	if dsn == "" {
		t.Skip("PAYFLOW_POSTGRES_TEST_DSN is not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	store, err := postgres.Open(ctx, dsn)
	cancel()
	if err != nil {
		t.Skipf("postgres is not available: %v", err)
	}
	_ = store.Close()

	for _, args := range [][]string{
		{"up", "--dsn", dsn},
		{"down", "--steps", "1", "--dsn", dsn},
		{"up", "--dsn", dsn},
		{"status", "--dsn", dsn},
	} {
		var out bytes.Buffer
		cmd := newRootCmd(openPostgres)
		cmd.SetOut(&out)
		cmd.SetArgs(args)
		if err := cmd.Execute(); err != nil {
			t.Fatalf("%v failed: %v", args, err)
		}
	}
}
