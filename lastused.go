package apiguard

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

type lastUsedUpdate struct {
	id string
	at time.Time
}

// lastUsedWriter applies KeyStore.UpdateLastUsed off the request path. A full
// queue drops the update; a failed write is logged and never surfaces to the
// request that produced it.
type lastUsedWriter struct {
	store     KeyStore
	timeout   time.Duration
	logger    *slog.Logger
	metrics   *Metrics
	ch        chan lastUsedUpdate
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

func newLastUsedWriter(cfg LastUsedConfig, store KeyStore, logger *slog.Logger, metrics *Metrics) *lastUsedWriter {
	if !cfg.Enabled {
		return nil
	}
	w := &lastUsedWriter{
		store:   store,
		timeout: cfg.WriteTimeout,
		logger:  logger,
		metrics: metrics,
		ch:      make(chan lastUsedUpdate, max(cfg.BufferSize, 1)),
		done:    make(chan struct{}),
	}
	w.wg.Add(1)
	go w.run()
	return w
}

func (w *lastUsedWriter) run() {
	defer w.wg.Done()
	for {
		select {
		case u := <-w.ch:
			w.write(u)
		case <-w.done:
			for {
				select {
				case u := <-w.ch:
					w.write(u)
				default:
					return
				}
			}
		}
	}
}

func (w *lastUsedWriter) write(u lastUsedUpdate) {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	if err := w.store.UpdateLastUsed(ctx, u.id, u.at); err != nil {
		w.metrics.Inc(MetricLastUsedFailed)
		w.logger.Warn("last-used update failed", slog.String("key_id", u.id), slog.Any("error", err))
		return
	}
	w.metrics.Inc(MetricLastUsedWritten)
}

// Touch enqueues an update without blocking.
func (w *lastUsedWriter) Touch(id string, at time.Time) {
	if w == nil || w.closed.Load() {
		return
	}
	select {
	case w.ch <- lastUsedUpdate{id: id, at: at}:
	case <-w.done:
	default:
		w.dropped.Add(1)
		w.metrics.Inc(MetricLastUsedDropped)
	}
}

// Close drains pending updates and stops the worker.
func (w *lastUsedWriter) Close() {
	if w == nil {
		return
	}
	w.closeOnce.Do(func() {
		w.closed.Store(true)
		close(w.done)
		w.wg.Wait()
	})
}

func (w *lastUsedWriter) Dropped() uint64 {
	if w == nil {
		return 0
	}
	return w.dropped.Load()
}
