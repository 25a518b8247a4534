package rate

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Unix(1_700_000_000, 0)

func at(seconds int) time.Time {
	return epoch.Add(time.Duration(seconds) * time.Second)
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return mr, client
}

func forEachStore(t *testing.T, fn func(t *testing.T, store Store)) {
	t.Run("memory", func(t *testing.T) {
		store := NewMemoryStore(0)
		t.Cleanup(store.Close)
		fn(t, store)
	})
	t.Run("redis", func(t *testing.T) {
		_, client := newTestRedis(t)
		fn(t, NewRedisStore(client, "ratelimit"))
	})
}

func TestSlidingWindowScenario(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		window := 60 * time.Second

		for i, remaining := range []int{2, 1, 0} {
			d, err := store.Check(ctx, "key-1", 3, window, at(i*10))
			require.NoError(t, err)
			assert.True(t, d.Allowed)
			assert.Equal(t, remaining, d.Remaining)
			assert.Equal(t, 3, d.Limit)
			assert.Equal(t, at(i*10+60), d.ResetAt)
		}

		d, err := store.Check(ctx, "key-1", 3, window, at(30))
		require.NoError(t, err)
		assert.False(t, d.Allowed)
		assert.Equal(t, 0, d.Remaining)
		assert.Equal(t, at(60).Unix(), d.ResetUnix())

		d, err = store.Check(ctx, "key-1", 3, window, at(61))
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, 0, d.Remaining)
	})
}

func TestCapacityFreesExactlyAtReset(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		window := 60 * time.Second

		_, err := store.Check(ctx, "boundary", 1, window, at(0))
		require.NoError(t, err)

		d, err := store.Check(ctx, "boundary", 1, window, at(59))
		require.NoError(t, err)
		require.False(t, d.Allowed)
		require.Equal(t, at(60), d.ResetAt)

		d, err = store.Check(ctx, "boundary", 1, window, at(60))
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	})
}

func TestDeniedRequestsDoNotConsumeCapacity(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		window := 10 * time.Second

		_, err := store.Check(ctx, "deny", 1, window, at(0))
		require.NoError(t, err)
		for i := 1; i < 10; i++ {
			d, err := store.Check(ctx, "deny", 1, window, at(i))
			require.NoError(t, err)
			require.False(t, d.Allowed)
		}

		d, err := store.Check(ctx, "deny", 1, window, at(10))
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	})
}

func TestIdenticalTimestampsAreAllRetained(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		now := at(5)

		for _, remaining := range []int{3, 2, 1, 0} {
			d, err := store.Check(ctx, "tie", 4, time.Minute, now)
			require.NoError(t, err)
			require.True(t, d.Allowed)
			assert.Equal(t, remaining, d.Remaining)
		}

		d, err := store.Check(ctx, "tie", 4, time.Minute, now)
		require.NoError(t, err)
		assert.False(t, d.Allowed)
		assert.Equal(t, now.Add(time.Minute), d.ResetAt)
	})
}

func TestSubjectsAreIndependent(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()

		d, err := store.Check(ctx, "a", 1, time.Minute, at(0))
		require.NoError(t, err)
		require.True(t, d.Allowed)

		d, err = store.Check(ctx, "b", 1, time.Minute, at(0))
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	})
}

func TestConcurrentBurstNeverOverAdmits(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		const (
			limit   = 10
			workers = 200
		)
		ctx := context.Background()
		now := at(0)

		var (
			wg       sync.WaitGroup
			admitted atomic.Int64
			failures atomic.Int64
		)
		start := make(chan struct{})
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				d, err := store.Check(ctx, "burst", limit, time.Minute, now)
				if err != nil {
					failures.Add(1)
					return
				}
				if d.Allowed {
					admitted.Add(1)
				}
			}()
		}
		close(start)
		wg.Wait()

		require.Zero(t, failures.Load())
		assert.Equal(t, int64(limit), admitted.Load())
	})
}

func TestInvalidParametersAreRejected(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		_, err := store.Check(context.Background(), "x", 0, time.Minute, at(0))
		require.ErrorIs(t, err, ErrInvalidLimit)
		_, err = store.Check(context.Background(), "x", 1, 0, at(0))
		require.ErrorIs(t, err, ErrInvalidLimit)
	})
}

func TestRedisStoreSetsIdleExpiry(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewRedisStore(client, "")

	_, err := store.Check(context.Background(), "idle", 5, 30*time.Second, at(0))
	require.NoError(t, err)

	require.True(t, mr.Exists("ratelimit:idle"))
	assert.Equal(t, 30*time.Second, mr.TTL("ratelimit:idle"))

	mr.FastForward(31 * time.Second)
	assert.False(t, mr.Exists("ratelimit:idle"))
}

func TestRedisStoreFailsWhenUnreachable(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewRedisStore(client, "ratelimit")
	mr.Close()

	_, err := store.Check(context.Background(), "down", 5, time.Minute, at(0))
	require.ErrorIs(t, err, ErrRedisUnavailable)
}

func TestMemoryStoreSweepReclaimsIdleSubjects(t *testing.T) {
	store := NewMemoryStore(0)
	defer store.Close()
	ctx := context.Background()

	_, err := store.Check(ctx, "idle", 1, time.Minute, at(0))
	require.NoError(t, err)

	assert.Zero(t, store.Sweep(at(59)))
	assert.Equal(t, 1, store.Sweep(at(60)))

	d, err := store.Check(ctx, "idle", 1, time.Minute, at(60))
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestMemoryStoreSweepDuringTrafficKeepsCounting(t *testing.T) {
	store := NewMemoryStore(0)
	defer store.Close()
	ctx := context.Background()

	var wg sync.WaitGroup
	var admitted atomic.Int64
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := store.Check(ctx, "busy", 50, time.Minute, at(0))
			if err == nil && d.Allowed {
				admitted.Add(1)
			}
		}()
		if i%10 == 0 {
			store.Sweep(at(-120))
		}
	}
	wg.Wait()

	assert.Equal(t, int64(50), admitted.Load())
}

func TestMemoryStoreClose(t *testing.T) {
	store := NewMemoryStore(time.Millisecond)
	store.Close()
	store.Close()

	_, err := store.Check(context.Background(), "x", 1, time.Minute, at(0))
	require.ErrorIs(t, err, ErrStoreClosed)
}

func TestCeilUnix(t *testing.T) {
	assert.Equal(t, int64(2), CeilUnix(time.UnixMilli(1500)))
	assert.Equal(t, int64(2), CeilUnix(time.UnixMilli(2000)))
	assert.Equal(t, int64(3), CeilUnix(time.UnixMilli(2001)))
	assert.Equal(t, int64(101), CeilUnix(time.Unix(100, 1)))
	assert.Equal(t, int64(100), CeilUnix(time.Unix(100, 0)))
}
