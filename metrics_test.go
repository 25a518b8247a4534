package apiguard

import (
	"sync"
	"testing"
	"time"
)

func TestMetricsDisabledNoIncrement(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: false})
	m.Inc(MetricAuthSuccess)

	if got := m.Value(MetricAuthSuccess); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
	if snap := m.Snapshot(); len(snap.Counters) != 0 {
		t.Fatalf("expected empty snapshot, got %v", snap.Counters)
	}
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.Inc(MetricAuthSuccess)
	m.ObserveAuth(time.Millisecond)
	if m.Enabled() || m.Value(MetricAuthSuccess) != 0 {
		t.Fatal("nil metrics must be inert")
	}
}

func TestMetricsEnabledIncrement(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	m.Inc(MetricAuthInvalid)
	m.Inc(MetricAuthInvalid)
	m.Inc(MetricAuthInvalid)

	if got := m.Value(MetricAuthInvalid); got != 3 {
		t.Fatalf("expected 3, got %d", got)
	}
}

func TestMetricsConcurrentIncrementSafe(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	const goroutines = 32
	const perG = 4000

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perG; j++ {
				m.Inc(MetricAuthRateLimited)
			}
		}()
	}
	wg.Wait()

	want := uint64(goroutines * perG)
	if got := m.Value(MetricAuthRateLimited); got != want {
		t.Fatalf("expected %d, got %d", want, got)
	}
}

func TestMetricsHistogramBucketCorrectness(t *testing.T) {
	m := NewMetrics(MetricsConfig{
		Enabled:                 true,
		EnableLatencyHistograms: true,
	})

	observations := []time.Duration{
		3 * time.Millisecond,
		5 * time.Millisecond,
		7 * time.Millisecond,
		40 * time.Millisecond,
		300 * time.Millisecond,
		2 * time.Second,
	}
	for _, d := range observations {
		m.ObserveAuth(d)
	}

	snap := m.Snapshot()
	got := snap.Histograms[MetricAuthLatency]
	want := []uint64{2, 1, 0, 1, 0, 0, 1, 1}
	if len(got) != len(want) {
		t.Fatalf("expected %d buckets, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("bucket %d: expected %d, got %d", i, want[i], got[i])
		}
	}
	if _, ok := snap.Counters[MetricAuthLatency]; ok {
		t.Fatal("latency must not appear among counters")
	}
}

func TestMetricsHistogramDisabledBySeparateFlag(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	m.ObserveAuth(time.Millisecond)

	if _, ok := m.Snapshot().Histograms[MetricAuthLatency]; ok {
		t.Fatal("expected no histogram without EnableLatencyHistograms")
	}
}
