package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/payflow/internal/domain"
)

func claimEntry(key, hash string, expiresAt time.Time) domain.IdempotencyEntry {
	return domain.IdempotencyEntry{
		Key:         key,
		Method:      "/payflow.v1.OrderService/CreateOrder",
		RequestHash: hash,
		ExpiresAt:   expiresAt,
	}
}

func TestIdempotencyRepository_ClaimReturnsHeldEntry(t *testing.T) {
	repo := NewIdempotencyRepository()
	ctx := context.Background()
	expires := time.Now().UTC().Add(time.Hour)

	claimed, err := repo.Claim(ctx, claimEntry(" create-1 ", "h1", expires))
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if claimed.Key != "create-1" || claimed.State != domain.IdempotencyInFlight {
		t.Fatalf("unexpected claim: %+v", claimed)
	}

	held, err := repo.Claim(ctx, claimEntry("create-1", "h1", expires))
	if !errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists) {
		t.Fatalf("second claim: got %v", err)
	}
	if held.State != domain.IdempotencyInFlight {
		t.Fatalf("held entry state %q", held.State)
	}

	if _, err := repo.Claim(ctx, claimEntry("create-1", "h2", expires)); !errors.Is(err, domain.ErrIdempotencyHashMismatch) {
		t.Fatalf("different payload: got %v", err)
	}

	other := claimEntry("create-1", "h1", expires)
	other.Method = "/payflow.v1.OrderService/CancelOrder"
	if _, err := repo.Claim(ctx, other); !errors.Is(err, domain.ErrIdempotencyHashMismatch) {
		t.Fatalf("different method: got %v", err)
	}
}

func TestIdempotencyRepository_ExpiredKeyCanBeReclaimed(t *testing.T) {
	repo := NewIdempotencyRepository()
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }

	if _, err := repo.Claim(ctx, claimEntry("k", "old", now.Add(time.Minute))); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if err := repo.Settle(ctx, "k", domain.IdempotencyFailed, []byte("declined"), 9); err != nil {
		t.Fatalf("Settle: %v", err)
	}

	now = now.Add(time.Minute)
	fresh, err := repo.Claim(ctx, claimEntry("k", "new", now.Add(time.Minute)))
	if err != nil {
		t.Fatalf("reclaim after expiry: %v", err)
	}
	if fresh.RequestHash != "new" || fresh.Result != nil || fresh.Code != 0 {
		t.Fatalf("reclaimed entry kept old result: %+v", fresh)
	}
}

func TestIdempotencyRepository_SettleAndLookup(t *testing.T) {
	repo := NewIdempotencyRepository()
	ctx := context.Background()

	if err := repo.Settle(ctx, "missing", domain.IdempotencySucceeded, nil, 0); !errors.Is(err, domain.ErrIdempotencyKeyNotFound) {
		t.Fatalf("settle missing: got %v", err)
	}
	if _, err := repo.Claim(ctx, claimEntry("k", "h", time.Time{})); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if err := repo.Settle(ctx, "k", domain.IdempotencyInFlight, nil, 0); !errors.Is(err, domain.ErrIdempotencyStateInvalid) {
		t.Fatalf("settle in_flight: got %v", err)
	}

	body := []byte(`{"order":{"id":"o-1"}}`)
	if err := repo.Settle(ctx, "k", domain.IdempotencySucceeded, body, 0); err != nil {
		t.Fatalf("Settle: %v", err)
	}
	body[0] = 'X'

	got, err := repo.Lookup(ctx, "k")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got.State != domain.IdempotencySucceeded || string(got.Result) != `{"order":{"id":"o-1"}}` {
		t.Fatalf("unexpected entry: %+v", got)
	}
	if got.ExpiresAt.Sub(got.CreatedAt) != defaultIdempotencyTTL {
		t.Fatalf("zero expiry must default to %s", defaultIdempotencyTTL)
	}

	if _, err := repo.Lookup(ctx, " "); !errors.Is(err, domain.ErrIdempotencyKeyRequired) {
		t.Fatalf("blank lookup: got %v", err)
	}
	if _, err := repo.Lookup(ctx, "nope"); !errors.Is(err, domain.ErrIdempotencyKeyNotFound) {
		t.Fatalf("missing lookup: got %v", err)
	}
}

func TestIdempotencyRepository_PurgeExpiredHonoursLimit(t *testing.T) {
	repo := NewIdempotencyRepository()
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 5; i++ {
		if _, err := repo.Claim(ctx, claimEntry(fmt.Sprintf("old-%d", i), "h", now.Add(-time.Second))); err != nil {
			t.Fatalf("Claim old-%d: %v", i, err)
		}
	}
	if _, err := repo.Claim(ctx, claimEntry("live", "h", now.Add(time.Hour))); err != nil {
		t.Fatalf("Claim live: %v", err)
	}

	purged, err := repo.PurgeExpired(ctx, now, 3)
	if err != nil || purged != 3 {
		t.Fatalf("first purge: purged=%d err=%v", purged, err)
	}
	purged, err = repo.PurgeExpired(ctx, now, 0)
	if err != nil || purged != 2 {
		t.Fatalf("second purge: purged=%d err=%v", purged, err)
	}
	if _, err := repo.Lookup(ctx, "live"); err != nil {
		t.Fatalf("live key purged: %v", err)
	}
}
