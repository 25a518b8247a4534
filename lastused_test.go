package apiguard

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type blockingKeyStore struct {
	*fakeKeyStore
	gate chan struct{}
	err  error
}

func (s *blockingKeyStore) UpdateLastUsed(ctx context.Context, id string, at time.Time) error {
	if s.gate != nil {
		<-s.gate
	}
	if s.err != nil {
		return s.err
	}
	return s.fakeKeyStore.UpdateLastUsed(ctx, id, at)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLastUsedWriterAppliesUpdates(t *testing.T) {
	store := newFakeKeyStore()
	metrics := NewMetrics(MetricsConfig{Enabled: true})
	w := newLastUsedWriter(LastUsedConfig{Enabled: true, BufferSize: 8, WriteTimeout: time.Second}, store, discardLogger(), metrics)

	at := time.Unix(1_700_000_000, 0)
	w.Touch("k1", at)
	w.Touch("k2", at.Add(time.Second))
	w.Close()

	assert.Equal(t, at, store.lastUsed["k1"])
	assert.Equal(t, at.Add(time.Second), store.lastUsed["k2"])
	assert.Equal(t, uint64(2), metrics.Value(MetricLastUsedWritten))

	w.Touch("k3", at)
	assert.NotContains(t, store.lastUsed, "k3")
}

func TestLastUsedWriterDropsWhenFull(t *testing.T) {
	store := &blockingKeyStore{fakeKeyStore: newFakeKeyStore(), gate: make(chan struct{})}
	metrics := NewMetrics(MetricsConfig{Enabled: true})
	w := newLastUsedWriter(LastUsedConfig{Enabled: true, BufferSize: 1, WriteTimeout: time.Second}, store, discardLogger(), metrics)

	w.Touch("k1", time.Now())
	require.Eventually(t, func() bool { return len(w.ch) == 0 }, time.Second, time.Millisecond)
	w.Touch("k2", time.Now())

	done := make(chan struct{})
	go func() {
		w.Touch("k3", time.Now())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Touch blocked on a full queue")
	}

	assert.Equal(t, uint64(1), w.Dropped())
	assert.Equal(t, uint64(1), metrics.Value(MetricLastUsedDropped))
	close(store.gate)
	w.Close()
}

func TestLastUsedWriterSwallowsFailures(t *testing.T) {
	store := &blockingKeyStore{fakeKeyStore: newFakeKeyStore(), err: errors.New("disk full")}
	metrics := NewMetrics(MetricsConfig{Enabled: true})
	w := newLastUsedWriter(LastUsedConfig{Enabled: true, BufferSize: 4, WriteTimeout: time.Second}, store, discardLogger(), metrics)

	w.Touch("k1", time.Now())
	w.Close()

	assert.Equal(t, uint64(1), metrics.Value(MetricLastUsedFailed))
	assert.Empty(t, store.lastUsed)
}

func TestLastUsedWriterDisabled(t *testing.T) {
	w := newLastUsedWriter(LastUsedConfig{Enabled: false}, newFakeKeyStore(), discardLogger(), nil)
	assert.Nil(t, w)
	w.Touch("k", time.Now())
	w.Close()
	assert.Zero(t, w.Dropped())
}
