package otel

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

var _ sdkmetric.Exporter = (*LogExporter)(nil)

// LogExporter is an sdkmetric.Exporter that writes every non-zero int64 data
// point as one structured log record. It lets a deployment without a
// collector still ship engine counters through its log pipeline.
type LogExporter struct {
	logger *slog.Logger
	level  slog.Level
}

// NewLogExporter writes data points to logger at info level.
func NewLogExporter(logger *slog.Logger) *LogExporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogExporter{logger: logger, level: slog.LevelInfo}
}

// NewLogMeterProvider returns a MeterProvider that pushes to a LogExporter
// every interval. Shutdown flushes a final export.
func NewLogMeterProvider(logger *slog.Logger, interval time.Duration) *sdkmetric.MeterProvider {
	reader := sdkmetric.NewPeriodicReader(NewLogExporter(logger), sdkmetric.WithInterval(interval))
	return sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
}

func (l *LogExporter) Temporality(kind sdkmetric.InstrumentKind) metricdata.Temporality {
	return sdkmetric.DefaultTemporalitySelector(kind)
}

func (l *LogExporter) Aggregation(kind sdkmetric.InstrumentKind) sdkmetric.Aggregation {
	return sdkmetric.DefaultAggregationSelector(kind)
}

// Export logs the collected data points.
func (l *LogExporter) Export(ctx context.Context, rm *metricdata.ResourceMetrics) error {
	if rm == nil {
		return nil
	}
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			for _, dp := range int64Points(m.Data) {
				if dp.Value == 0 {
					continue
				}
				attrs := []slog.Attr{slog.String("metric", m.Name), slog.Int64("value", dp.Value)}
				for _, kv := range dp.Attributes.ToSlice() {
					attrs = append(attrs, attrString(kv))
				}
				l.logger.LogAttrs(ctx, l.level, "metric", attrs...)
			}
		}
	}
	return nil
}

func (l *LogExporter) ForceFlush(context.Context) error { return nil }

func (l *LogExporter) Shutdown(context.Context) error { return nil }

func int64Points(data metricdata.Aggregation) []metricdata.DataPoint[int64] {
	switch d := data.(type) {
	case metricdata.Sum[int64]:
		return d.DataPoints
	case metricdata.Gauge[int64]:
		return d.DataPoints
	default:
		return nil
	}
}

func attrString(kv attribute.KeyValue) slog.Attr {
	return slog.String(string(kv.Key), kv.Value.Emit())
}
