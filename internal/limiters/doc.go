// Package limiters provides the failed-credential throttle that shields the
// resolver from key-guessing clients.
//
// # Limiters
//
//   - [RedisThrottle]: fixed-window INCR + EXPIRE counter per client IP, shared
//     across instances.
//   - [LocalThrottle]: golang.org/x/time/rate token bucket per client IP, for
//     single-instance deployments without Redis.
//
// All limiters are nil-safe and ignore an empty client IP.
//
// # Architecture boundaries
//
// Thresholds come from [ThrottleConfig] at construction. The engine decides when
// a failure is recorded; this package only counts.
//
// # What this package must NOT do
//
//   - Import apiguard or any sibling internal package.
//   - Apply per-key request quotas (that is internal/rate).
package limiters
