package rate

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingWindowLua performs the prune/count/admit sequence atomically.
// KEYS[1] = subject log key
// ARGV[1] = now (unix ms)
// ARGV[2] = window (ms)
// ARGV[3] = limit
// ARGV[4] = marker member
// ARGV[5] = prune cutoff (unix ms, inclusive)
//
// Returns {allowed (0|1), remaining, reset (unix ms)}.
var slidingWindowLua = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[5])
local count = redis.call('ZCARD', KEYS[1])

if count >= limit then
  local reset = now + window
  local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
  if oldest[2] then
    reset = tonumber(oldest[2]) + window
  end
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
  return {0, 0, reset}
end

redis.call('ZADD', KEYS[1], ARGV[1], ARGV[4])
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return {1, limit - count - 1, now + window}
`)

// RedisStore keeps per-subject logs in Redis sorted sets.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisStore returns a Store keyed under prefix (default "ratelimit").
func NewRedisStore(redisClient redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RedisStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

// Check runs one atomic sliding-window step for subject.
func (s *RedisStore) Check(ctx context.Context, subject string, limit int, window time.Duration, now time.Time) (Decision, error) {
	if err := validate(limit, window); err != nil {
		return Decision{}, err
	}

	nowMs := now.UnixMilli()
	windowMs := window.Milliseconds()
	member := strconv.FormatInt(nowMs, 10) + "-" + uuid.NewString()

	res, err := slidingWindowLua.Run(ctx, s.redis,
		[]string{s.key(subject)},
		nowMs,
		windowMs,
		limit,
		member,
		nowMs-windowMs,
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("%w: unexpected lua result length %d", ErrRedisUnavailable, len(res))
	}

	return Decision{
		Allowed:   res[0] == 1,
		Limit:     limit,
		Remaining: int(res[1]),
		ResetAt:   time.UnixMilli(res[2]),
	}, nil
}

func (s *RedisStore) key(subject string) string {
	return s.prefix + ":" + subject
}
