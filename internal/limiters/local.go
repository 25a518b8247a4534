package limiters

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const localThrottleMaxClients = 10000

// LocalThrottle keeps one token bucket per client IP in process memory. The
// bucket holds MaxFailures tokens and refills fully over Cooldown.
type LocalThrottle struct {
	config ThrottleConfig
	now    func() time.Time

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// NewLocalThrottle creates a process-local throttle. A nil now uses time.Now.
func NewLocalThrottle(cfg ThrottleConfig, now func() time.Time) *LocalThrottle {
	if now == nil {
		now = time.Now
	}
	return &LocalThrottle{
		config:  cfg,
		now:     now,
		buckets: make(map[string]*rate.Limiter),
	}
}

// Check fails with ErrThrottled when the client's bucket is empty.
func (l *LocalThrottle) Check(_ context.Context, clientIP string) error {
	if l == nil || clientIP == "" {
		return nil
	}
	l.mu.Lock()
	bucket, ok := l.buckets[clientIP]
	l.mu.Unlock()
	if !ok {
		return nil
	}
	if bucket.TokensAt(l.now()) < 1 {
		return ErrThrottled
	}
	return nil
}

// RecordFailure takes one token from the client's bucket.
func (l *LocalThrottle) RecordFailure(_ context.Context, clientIP string) error {
	if l == nil || clientIP == "" {
		return nil
	}
	now := l.now()

	l.mu.Lock()
	bucket, ok := l.buckets[clientIP]
	if !ok {
		if len(l.buckets) >= localThrottleMaxClients {
			l.pruneLocked(now)
		}
		bucket = rate.NewLimiter(l.refill(), l.config.MaxFailures)
		l.buckets[clientIP] = bucket
	}
	l.mu.Unlock()

	bucket.AllowN(now, 1)
	return nil
}

func (l *LocalThrottle) refill() rate.Limit {
	if l.config.Cooldown <= 0 {
		return rate.Inf
	}
	return rate.Limit(float64(l.config.MaxFailures) / l.config.Cooldown.Seconds())
}

// pruneLocked drops buckets that refilled completely.
func (l *LocalThrottle) pruneLocked(now time.Time) {
	for ip, bucket := range l.buckets {
		if bucket.TokensAt(now) >= float64(l.config.MaxFailures) {
			delete(l.buckets, ip)
		}
	}
}
