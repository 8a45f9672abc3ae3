package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names.
const (
	MetricAnalyzeTotal       = "inference.analyze.total"
	MetricAnalyzeErrors      = "inference.analyze.errors"
	MetricAnalyzeCacheHits   = "inference.analyze.cache_hits"
	MetricAnalyzeDuration    = "inference.analyze.duration_ms"
	MetricBreakerTransitions = "inference.breaker.transitions"
	MetricUsageDropped       = "inference.usage.dropped"
)

// Metrics records inference metrics.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: must return quickly.
// - Errors: implementations must not panic.
type Metrics interface {
	// RecordAnalyze records one analyze call.
	RecordAnalyze(ctx context.Context, meta CallMeta, duration time.Duration, cacheHit bool, err error)

	// RecordBreakerTransition records a circuit breaker state change.
	RecordBreakerTransition(ctx context.Context, from, to string)

	// RecordUsageDropped records a usage record dropped by a full queue.
	RecordUsageDropped(ctx context.Context)
}

// metricsImpl is the concrete implementation of Metrics.
type metricsImpl struct {
	totalCount   metric.Int64Counter
	errorCount   metric.Int64Counter
	hitCount     metric.Int64Counter
	durationHist metric.Float64Histogram
	transitions  metric.Int64Counter
	dropped      metric.Int64Counter
}

// NewMetrics creates Metrics on the given meter.
func NewMetrics(meter metric.Meter) (Metrics, error) {
	m := &metricsImpl{}
	var err error

	if m.totalCount, err = meter.Int64Counter(MetricAnalyzeTotal,
		metric.WithDescription("Total number of analyze calls"),
		metric.WithUnit("{call}"),
	); err != nil {
		return nil, err
	}

	if m.errorCount, err = meter.Int64Counter(MetricAnalyzeErrors,
		metric.WithDescription("Total number of failed analyze calls"),
		metric.WithUnit("{error}"),
	); err != nil {
		return nil, err
	}

	if m.hitCount, err = meter.Int64Counter(MetricAnalyzeCacheHits,
		metric.WithDescription("Analyze calls served from the cache"),
		metric.WithUnit("{hit}"),
	); err != nil {
		return nil, err
	}

	if m.durationHist, err = meter.Float64Histogram(MetricAnalyzeDuration,
		metric.WithDescription("Analyze duration in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}

	if m.transitions, err = meter.Int64Counter(MetricBreakerTransitions,
		metric.WithDescription("Circuit breaker state transitions"),
		metric.WithUnit("{transition}"),
	); err != nil {
		return nil, err
	}

	if m.dropped, err = meter.Int64Counter(MetricUsageDropped,
		metric.WithDescription("Usage records dropped because the queue was full"),
		metric.WithUnit("{record}"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

// RecordAnalyze records metrics for one analyze call.
func (m *metricsImpl) RecordAnalyze(ctx context.Context, meta CallMeta, duration time.Duration, cacheHit bool, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("inference.operation", meta.Operation),
	}
	if meta.Context != "" {
		attrs = append(attrs, attribute.String("inference.context", meta.Context))
	}
	opt := metric.WithAttributes(attrs...)

	m.totalCount.Add(ctx, 1, opt)
	if err != nil {
		m.errorCount.Add(ctx, 1, opt)
	}
	if cacheHit {
		m.hitCount.Add(ctx, 1, opt)
	}
	m.durationHist.Record(ctx, float64(duration.Microseconds())/1000, opt)
}

func (m *metricsImpl) RecordBreakerTransition(ctx context.Context, from, to string) {
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("breaker.from", from),
		attribute.String("breaker.to", to),
	))
}

func (m *metricsImpl) RecordUsageDropped(ctx context.Context) {
	m.dropped.Add(ctx, 1)
}

// noopMetrics is a metrics implementation that does nothing.
type noopMetrics struct{}

// NoopMetrics returns Metrics that record nothing.
func NoopMetrics() Metrics { return noopMetrics{} }

func (noopMetrics) RecordAnalyze(context.Context, CallMeta, time.Duration, bool, error) {}
func (noopMetrics) RecordBreakerTransition(context.Context, string, string)             {}
func (noopMetrics) RecordUsageDropped(context.Context)                                  {}
