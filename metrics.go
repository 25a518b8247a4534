package apiguard

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one engine counter.
type MetricID uint16

const (
	// MetricAuthSuccess counts forwarded requests.
	MetricAuthSuccess MetricID = iota
	// MetricAuthMissing counts requests without an API key.
	MetricAuthMissing
	// MetricAuthInvalid counts malformed or unknown keys.
	MetricAuthInvalid
	// MetricAuthRevoked counts requests with revoked keys.
	MetricAuthRevoked
	// MetricAuthRateLimited counts quota rejections.
	MetricAuthRateLimited
	// MetricAuthThrottled counts clients rejected for repeated invalid keys.
	MetricAuthThrottled
	// MetricBackendUnavailable counts fail-closed rejections.
	MetricBackendUnavailable
	// MetricLastUsedWritten counts successful last-used writes.
	MetricLastUsedWritten
	// MetricLastUsedFailed counts failed last-used writes.
	MetricLastUsedFailed
	// MetricLastUsedDropped counts last-used updates dropped on a full queue.
	MetricLastUsedDropped
	// MetricKeyIssued counts issued keys.
	MetricKeyIssued
	// MetricKeyRevoked counts revocations.
	MetricKeyRevoked
	// MetricAuthLatency is the Authenticate latency histogram.
	MetricAuthLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

// paddedCounter occupies a full cache line so hot counters do not share one.
type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics is a fixed set of lock-free counters plus one latency histogram.
// A nil or disabled Metrics ignores every update.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	latency       metricHistogram
}

// MetricsSnapshot is a point-in-time copy of all counters. Histograms holds
// non-cumulative bucket counts (<=5ms, 10, 25, 50, 100, 250, 500, +Inf).
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics returns counters configured by cfg.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

// Enabled reports whether counters are recorded.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// Inc adds one to counter id.
func (m *Metrics) Inc(id MetricID) {
	if !m.Enabled() || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// ObserveAuth records one Authenticate latency sample.
func (m *Metrics) ObserveAuth(d time.Duration) {
	if m == nil || !m.enableLatency {
		return
	}
	atomic.AddUint64(&m.latency.buckets[bucketIndex(d)], 1)
}

// Value returns the current value of counter id.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies every counter. Disabled metrics yield empty maps.
func (m *Metrics) Snapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		Counters:   map[MetricID]uint64{},
		Histograms: map[MetricID][]uint64{},
	}
	if !m.Enabled() {
		return s
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		if id == MetricAuthLatency {
			continue
		}
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := range buckets {
			buckets[i] = atomic.LoadUint64(&m.latency.buckets[i])
		}
		s.Histograms[MetricAuthLatency] = buckets
	}

	return s
}

var bucketBoundsMs = [histBucketCount - 1]int64{5, 10, 25, 50, 100, 250, 500}

func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()
	for i, bound := range bucketBoundsMs {
		if ms <= bound {
			return i
		}
	}
	return histBucketCount - 1
}
