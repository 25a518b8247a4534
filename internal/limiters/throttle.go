package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrThrottled indicates the client exhausted its failed-credential budget.
	ErrThrottled = errors.New("client throttled after repeated invalid credentials")
	// ErrThrottleUnavailable indicates the throttle backend is unreachable.
	ErrThrottleUnavailable = errors.New("throttle backend unavailable")
)

// ThrottleConfig bounds how many unresolved credentials a client may present
// per cooldown period.
type ThrottleConfig struct {
	MaxFailures int
	Cooldown    time.Duration
}

// Throttle is implemented by [RedisThrottle] and [LocalThrottle].
type Throttle interface {
	Check(ctx context.Context, clientIP string) error
	RecordFailure(ctx context.Context, clientIP string) error
}

// recordFailureScript increments the failure counter and arms its expiry in
// one step. A counter found without a TTL is re-armed as well.
var recordFailureScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if redis.call('PTTL', KEYS[1]) < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return count
`)

// RedisThrottle counts failures per client IP in fixed windows shared by every
// gatekeeper instance.
type RedisThrottle struct {
	redis  redis.UniversalClient
	config ThrottleConfig
}

// NewRedisThrottle creates a Redis-backed throttle.
func NewRedisThrottle(redisClient redis.UniversalClient, cfg ThrottleConfig) *RedisThrottle {
	return &RedisThrottle{redis: redisClient, config: cfg}
}

func (l *RedisThrottle) key(clientIP string) string {
	return "agf:" + clientIP
}

// Check fails with ErrThrottled once the counter reached MaxFailures.
func (l *RedisThrottle) Check(ctx context.Context, clientIP string) error {
	if l == nil || l.redis == nil || clientIP == "" {
		return nil
	}
	count, err := l.redis.Get(ctx, l.key(clientIP)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrThrottleUnavailable, err)
	}
	if count >= int64(l.config.MaxFailures) {
		return ErrThrottled
	}
	return nil
}

// RecordFailure increments the counter, arming the cooldown on the first hit.
func (l *RedisThrottle) RecordFailure(ctx context.Context, clientIP string) error {
	if l == nil || l.redis == nil || clientIP == "" {
		return nil
	}
	cooldown := l.config.Cooldown.Milliseconds()
	if cooldown < 1 {
		cooldown = 1
	}
	if err := recordFailureScript.Run(ctx, l.redis, []string{l.key(clientIP)}, cooldown).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrThrottleUnavailable, err)
	}
	return nil
}
