package rate

import "errors"

var (
	// ErrRedisUnavailable wraps any failure of the Redis round-trip.
	ErrRedisUnavailable = errors.New("redis unavailable")
	// ErrInvalidLimit reports a non-positive limit or window.
	ErrInvalidLimit = errors.New("invalid rate limit parameters")
	// ErrStoreClosed is returned by a MemoryStore after Close.
	ErrStoreClosed = errors.New("rate store closed")
)
