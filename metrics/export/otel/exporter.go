package otel

import (
	"context"
	"errors"
	"fmt"

	"github.com/apiguard/apiguard"
	"github.com/apiguard/apiguard/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

type metricsSource interface {
	MetricsSnapshot() apiguard.MetricsSnapshot
	AuditDropped() uint64
}

// latencySeries publishes one engine histogram as a cumulative bucket gauge
// labelled by upper bound, plus a sample count.
type latencySeries struct {
	id      apiguard.MetricID
	buckets metric.Int64ObservableGauge
	count   metric.Int64ObservableGauge
}

// Exporter mirrors the engine counters onto observable instruments. Every
// collection reads a single MetricsSnapshot so the published values agree
// with each other.
type Exporter struct {
	source       metricsSource
	counters     map[apiguard.MetricID]metric.Int64ObservableCounter
	latency      []latencySeries
	auditDropped metric.Int64ObservableCounter
	registration metric.Registration
}

// bucketBounds holds one "le" attribute set per histogram bucket.
var bucketBounds = func() []metric.ObserveOption {
	out := make([]metric.ObserveOption, len(internaldefs.HistogramBounds))
	for i, le := range internaldefs.HistogramBounds {
		out[i] = metric.WithAttributeSet(attribute.NewSet(attribute.String("le", le)))
	}
	return out
}()

// New registers the engine instruments on meter. Close unregisters them.
func New(meter metric.Meter, engine *apiguard.Engine) (*Exporter, error) {
	if engine == nil {
		return nil, ErrNilSource
	}
	return NewFromSource(meter, engine)
}

// NewFromSource is New for any value exposing the engine snapshot methods.
func NewFromSource(meter metric.Meter, source metricsSource) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &Exporter{
		source:   source,
		counters: make(map[apiguard.MetricID]metric.Int64ObservableCounter, len(internaldefs.CounterDefs)),
	}
	var instruments []metric.Observable

	for _, def := range internaldefs.CounterDefs {
		c, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
		if err != nil {
			return nil, fmt.Errorf("counter %s: %w", def.Name, err)
		}
		e.counters[def.ID] = c
		instruments = append(instruments, c)
	}

	for _, def := range internaldefs.HistogramDefs {
		buckets, err := meter.Int64ObservableGauge(def.Name+"_bucket",
			metric.WithDescription(def.Help+" Cumulative count per upper bound."))
		if err != nil {
			return nil, fmt.Errorf("gauge %s_bucket: %w", def.Name, err)
		}
		count, err := meter.Int64ObservableGauge(def.Name+"_count",
			metric.WithDescription(def.Help+" Sample count."))
		if err != nil {
			return nil, fmt.Errorf("gauge %s_count: %w", def.Name, err)
		}
		e.latency = append(e.latency, latencySeries{id: def.ID, buckets: buckets, count: count})
		instruments = append(instruments, buckets, count)
	}

	dropped, err := meter.Int64ObservableCounter("apiguard_audit_dropped_total",
		metric.WithDescription("Audit events dropped on a full queue."))
	if err != nil {
		return nil, fmt.Errorf("counter apiguard_audit_dropped_total: %w", err)
	}
	e.auditDropped = dropped
	instruments = append(instruments, dropped)

	reg, err := meter.RegisterCallback(e.observe, instruments...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	e.registration = reg
	return e, nil
}

func (e *Exporter) observe(_ context.Context, o metric.Observer) error {
	snap := e.source.MetricsSnapshot()

	for id, c := range e.counters {
		o.ObserveInt64(c, int64(snap.Counters[id]))
	}
	for _, s := range e.latency {
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snap.Histograms[s.id]))
		for i, opt := range bucketBounds {
			o.ObserveInt64(s.buckets, int64(cumulative[i]), opt)
		}
		o.ObserveInt64(s.count, int64(cumulative[len(cumulative)-1]))
	}
	o.ObserveInt64(e.auditDropped, int64(e.source.AuditDropped()))
	return nil
}

// Close unregisters the callback. Safe on a nil Exporter.
func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
