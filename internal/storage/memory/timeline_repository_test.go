package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/payflow/internal/domain"
)

func TestTimelineRepositoryKeepsOrder(t *testing.T) {
	repo := NewTimelineRepository()
	base := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return base }
	ctx := context.Background()

	appendAt := func(typ string, offset time.Duration) {
		t.Helper()
		require.NoError(t, repo.Append(ctx, domain.TimelineEvent{OrderID: "o-1", Type: typ, Occurred: base.Add(offset)}))
	}
	appendAt(domain.TimelinePaymentDone, 2*time.Second)
	appendAt(domain.TimelineOrderCreated, 0)
	appendAt(domain.TimelineSeatsReserved, time.Second)
	appendAt(domain.TimelineOrderConfirmed, 2*time.Second)

	events, err := repo.List(ctx, "o-1")
	require.NoError(t, err)
	var types []string
	for _, e := range events {
		types = append(types, e.Type)
	}
	require.Equal(t, []string{
		domain.TimelineOrderCreated,
		domain.TimelineSeatsReserved,
		domain.TimelinePaymentDone,
		domain.TimelineOrderConfirmed,
	}, types)

	events[0].Type = "mutated"
	again, err := repo.List(ctx, "o-1")
	require.NoError(t, err)
	require.Equal(t, domain.TimelineOrderCreated, again[0].Type, "List returns a copy")
}

func TestTimelineRepositoryValidatesAndStamps(t *testing.T) {
	repo := NewTimelineRepository()
	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }
	ctx := context.Background()

	require.ErrorIs(t, repo.Append(ctx, domain.TimelineEvent{Type: domain.TimelineOrderCreated}), domain.ErrTimelineEventInvalid)
	require.NoError(t, repo.Append(ctx, domain.TimelineEvent{OrderID: " o-1 ", Type: domain.TimelineOrderCreated}))

	events, err := repo.List(ctx, "o-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, now, events[0].Occurred)
	require.EqualValues(t, 1, events[0].Seq)

	empty, err := repo.List(ctx, "missing")
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestTimelineRepositoryConcurrentAppends(t *testing.T) {
	repo := NewTimelineRepository()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = repo.Append(ctx, domain.TimelineEvent{OrderID: "o-1", Type: domain.TimelineStatusChanged})
		}()
	}
	wg.Wait()

	events, err := repo.List(ctx, "o-1")
	require.NoError(t, err)
	require.Len(t, events, 50)
	for i := 1; i < len(events); i++ {
		require.False(t, events[i].Before(events[i-1]))
	}
}
