package fifo

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("labelscore.fifo")

var (
	cacheHits      metric.Int64Counter
	cacheMisses    metric.Int64Counter
	cacheEvictions metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics creates the instruments once. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error
		if cacheHits, err = meter.Int64Counter("labelscore_cache_hits_total",
			metric.WithDescription("Total number of score cache hits")); err != nil {
			metricsErr = err
			return
		}
		if cacheMisses, err = meter.Int64Counter("labelscore_cache_misses_total",
			metric.WithDescription("Total number of score cache misses")); err != nil {
			metricsErr = err
			return
		}
		if cacheEvictions, err = meter.Int64Counter("labelscore_cache_evictions_total",
			metric.WithDescription("Total number of entries evicted by capacity")); err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func record(ctx context.Context, c metric.Int64Counter, name string, n int64) {
	if n == 0 || initMetrics() != nil {
		return
	}
	c.Add(ctx, n, metric.WithAttributes(attribute.String("cache", name)))
}
