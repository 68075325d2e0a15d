package credential

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/payflow/internal/domain"
)

func TestCacheGet_ConcurrentCallersShareOneFetch(t *testing.T) {
	var calls int32
	release := make(chan struct{})
	source := TokenSourceFunc(func(ctx context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return "token-1", nil
	})
	cache := NewCache(source)

	const callers = 32
	var wg sync.WaitGroup
	results := make(chan string, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token, err := cache.Get(context.Background())
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			results <- token
		}()
	}

	// даём горутинам встать в ожидание общего запроса
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(results)

	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
	for token := range results {
		require.Equal(t, "token-1", token)
	}
}

func TestCacheRefresh_ReplacesToken(t *testing.T) {
	var calls int32
	cache := NewCache(TokenSourceFunc(func(ctx context.Context) (string, error) {
		n := atomic.AddInt32(&calls, 1)
		return fmt.Sprintf("token-%d", n), nil
	}))

	first, err := cache.Get(context.Background())
	require.NoError(t, err)
	require.Equal(t, "token-1", first)

	cached, err := cache.Get(context.Background())
	require.NoError(t, err)
	require.Equal(t, "token-1", cached)

	cache.Invalidate()
	require.Empty(t, cache.Token())

	refreshed, err := cache.Refresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, "token-2", refreshed)

	got, err := cache.Get(context.Background())
	require.NoError(t, err)
	require.Equal(t, "token-2", got)
}

func TestCacheRefresh_FailureClearsToken(t *testing.T) {
	fail := false
	cache := NewCache(TokenSourceFunc(func(ctx context.Context) (string, error) {
		if fail {
			return "", errors.New("auth service down")
		}
		return "token", nil
	}))

	_, err := cache.Get(context.Background())
	require.NoError(t, err)

	fail = true
	_, err = cache.Refresh(context.Background())
	require.ErrorIs(t, err, domain.ErrCredentialUnavailable)
	require.Empty(t, cache.Token())
}

func TestCacheRefresh_EmptyTokenIsFailure(t *testing.T) {
	cache := NewCache(TokenSourceFunc(func(ctx context.Context) (string, error) {
		return "", nil
	}))

	_, err := cache.Get(context.Background())
	require.ErrorIs(t, err, domain.ErrCredentialUnavailable)
}

func TestCacheRefresh_FetchTimeout(t *testing.T) {
	cache := NewCache(TokenSourceFunc(func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}), WithFetchTimeout(20*time.Millisecond))

	start := time.Now()
	_, err := cache.Get(context.Background())
	require.ErrorIs(t, err, domain.ErrCredentialUnavailable)
	require.Less(t, time.Since(start), time.Second)
}

func TestNewCache_ClampsFetchTimeout(t *testing.T) {
	cache := NewCache(TokenSourceFunc(func(ctx context.Context) (string, error) { return "t", nil }), WithFetchTimeout(time.Minute))
	require.Equal(t, MaxFetchTimeout, cache.timeout)

	cache = NewCache(TokenSourceFunc(func(ctx context.Context) (string, error) { return "t", nil }), WithFetchTimeout(time.Second))
	require.Equal(t, time.Second, cache.timeout)
}

func TestCacheRefresh_CallerContextCancelled(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	cache := NewCache(TokenSourceFunc(func(ctx context.Context) (string, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return "late", nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := cache.Refresh(ctx)
	require.ErrorIs(t, err, domain.ErrCredentialUnavailable)
}
