// Package rate implements the sliding-log request quota enforced per API key.
//
// # Window semantics
//
// Each subject owns a time-ordered log of admission markers. A check prunes
// markers at or before now-window, counts the rest, and either denies (reset at
// oldest marker + window) or appends a marker at now (reset at now + window).
// A marker stops counting exactly at its ResetAt, so a check at that instant
// is admitted.
// The whole check is atomic per subject:
//   - [RedisStore] runs it as one Lua script against a sorted set
//     <prefix>:<subject>, with PEXPIRE reclaiming idle subjects.
//   - [MemoryStore] serializes on a per-subject mutex; a janitor reclaims
//     subjects idle for a full window.
//
// # What this package must NOT do
//
//   - Decide whether a subject is rate limited at all (unlimited keys never reach it).
//   - Retry failed store round-trips.
//   - Be imported outside the apiguard module.
package rate
