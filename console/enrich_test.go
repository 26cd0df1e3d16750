package console

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ZapDesk/entity"
)

func TestCacheResolveSingleFlight(t *testing.T) {
	var calls int32
	release := make(chan struct{})
	cache := NewCache(func(ctx context.Context, key string) (entity.Identity, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return entity.Identity{Name: "Maria"}, nil
	}, time.Hour)

	const waiters = 8
	var wg sync.WaitGroup
	results := make([]entity.Identity, waiters)
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := cache.Resolve(context.Background(), "key")
			assert.NoError(t, err)
			results[i] = id
		}(i)
	}

	// Let every goroutine attach to the in-flight resolution before it
	// completes.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	for _, id := range results {
		assert.Equal(t, "Maria", id.Name)
	}
}

func TestCacheResolveCachesNegativeResult(t *testing.T) {
	var calls int32
	cache := NewCache(func(ctx context.Context, key string) (entity.Identity, error) {
		atomic.AddInt32(&calls, 1)
		return entity.Identity{}, context.DeadlineExceeded
	}, time.Hour)

	id, err := cache.Resolve(context.Background(), "key")
	require.NoError(t, err)
	assert.Empty(t, id.Name)
	assert.False(t, id.ResolvedAt.IsZero())

	// The miss is cached: a second resolve does not refetch.
	_, err = cache.Resolve(context.Background(), "key")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestCachePrimeOverwritesNegativeResult(t *testing.T) {
	cache := NewCache(func(ctx context.Context, key string) (entity.Identity, error) {
		return entity.Identity{}, nil
	}, time.Hour)

	_, err := cache.Resolve(context.Background(), "key")
	require.NoError(t, err)

	id := cache.Prime("key", entity.Identity{Name: "Maria", Avatar: "https://cdn/a.jpg"})
	assert.Equal(t, "Maria", id.Name)

	got, ok := cache.Get("key")
	require.True(t, ok)
	assert.Equal(t, "Maria", got.Name)
	assert.Equal(t, "https://cdn/a.jpg", got.Avatar)
}

func TestCacheNotifyVisibleRequiresObservation(t *testing.T) {
	cache := NewCache(nil, time.Hour)

	// Not observed: visibility means nothing.
	assert.False(t, cache.NotifyVisible("key"))

	cache.Observe("key")
	assert.True(t, cache.NotifyVisible("key"))

	// The observation was released; toggling visibility again cannot
	// restart a fetch.
	assert.False(t, cache.NotifyVisible("key"))
}

func TestCacheNotifyVisibleSkipsFreshEntry(t *testing.T) {
	cache := NewCache(nil, time.Hour)
	cache.Prime("key", entity.Identity{Name: "Maria"})

	cache.Observe("key")
	assert.False(t, cache.NotifyVisible("key"))
}

func TestCacheStaleness(t *testing.T) {
	now := time.Now()
	cache := NewCache(nil, time.Hour)
	cache.now = func() time.Time { return now }

	cache.Prime("key", entity.Identity{Name: "Maria"})
	assert.False(t, cache.Stale("key"))

	now = now.Add(2 * time.Hour)
	assert.True(t, cache.Stale("key"))

	// A stale entry may be re-observed for refresh.
	cache.Observe("key")
	assert.True(t, cache.NotifyVisible("key"))
}

func TestCacheStaleEntryNeverDiscarded(t *testing.T) {
	now := time.Now()
	cache := NewCache(nil, time.Minute)
	cache.now = func() time.Time { return now }

	cache.Prime("key", entity.Identity{Name: "Maria"})
	now = now.Add(time.Hour)

	got, ok := cache.Get("key")
	require.True(t, ok)
	assert.Equal(t, "Maria", got.Name)
}
