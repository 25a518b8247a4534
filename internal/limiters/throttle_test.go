package limiters

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestRedisThrottleBlocksAfterMaxFailures(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	th := NewRedisThrottle(client, ThrottleConfig{MaxFailures: 3, Cooldown: time.Minute})

	for i := 0; i < 3; i++ {
		require.NoError(t, th.Check(ctx, "10.0.0.1"))
		require.NoError(t, th.RecordFailure(ctx, "10.0.0.1"))
	}
	require.ErrorIs(t, th.Check(ctx, "10.0.0.1"), ErrThrottled)
	require.NoError(t, th.Check(ctx, "10.0.0.2"))

	mr.FastForward(time.Minute + time.Second)
	require.NoError(t, th.Check(ctx, "10.0.0.1"))
}

func TestRedisThrottleCounterAlwaysExpires(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	th := NewRedisThrottle(client, ThrottleConfig{MaxFailures: 3, Cooldown: time.Minute})

	require.NoError(t, th.RecordFailure(ctx, "10.0.0.1"))
	require.Equal(t, time.Minute, mr.TTL("agf:10.0.0.1"))

	// A counter left behind without a TTL is re-armed by the next failure.
	require.NoError(t, mr.Set("agf:10.0.0.2", "7"))
	require.ErrorIs(t, th.Check(ctx, "10.0.0.2"), ErrThrottled)
	require.NoError(t, th.RecordFailure(ctx, "10.0.0.2"))
	require.Equal(t, time.Minute, mr.TTL("agf:10.0.0.2"))

	mr.FastForward(time.Minute + time.Second)
	require.NoError(t, th.Check(ctx, "10.0.0.2"))
}

func TestRedisThrottleReportsUnavailable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	mr.Close()

	th := NewRedisThrottle(client, ThrottleConfig{MaxFailures: 3, Cooldown: time.Minute})
	require.ErrorIs(t, th.Check(context.Background(), "10.0.0.1"), ErrThrottleUnavailable)
	require.ErrorIs(t, th.RecordFailure(context.Background(), "10.0.0.1"), ErrThrottleUnavailable)
}

func TestThrottlesIgnoreUnknownClient(t *testing.T) {
	var nilRedis *RedisThrottle
	require.NoError(t, nilRedis.Check(context.Background(), "1.1.1.1"))

	local := NewLocalThrottle(ThrottleConfig{MaxFailures: 1, Cooldown: time.Minute}, nil)
	require.NoError(t, local.RecordFailure(context.Background(), ""))
	require.NoError(t, local.Check(context.Background(), ""))
}

func TestLocalThrottleRefillsOverCooldown(t *testing.T) {
	clock := &manualClock{now: time.Unix(1_700_000_000, 0)}
	th := NewLocalThrottle(ThrottleConfig{MaxFailures: 2, Cooldown: time.Minute}, clock.Now)
	ctx := context.Background()

	require.NoError(t, th.RecordFailure(ctx, "10.0.0.1"))
	require.NoError(t, th.Check(ctx, "10.0.0.1"))
	require.NoError(t, th.RecordFailure(ctx, "10.0.0.1"))
	require.ErrorIs(t, th.Check(ctx, "10.0.0.1"), ErrThrottled)

	clock.Advance(45 * time.Second)
	require.NoError(t, th.Check(ctx, "10.0.0.1"))
}
