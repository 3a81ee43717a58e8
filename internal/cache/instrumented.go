package cache

import (
	"context"
	"sync"
	"time"

	"github.com/shex1627/warcraftlogs/internal/token"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	metricsOnce         sync.Once
	cacheOperations     metric.Int64Counter
	cacheDuration       metric.Float64Histogram
	persistenceFailures metric.Int64Counter
)

func initMetrics() {
	metricsOnce.Do(func() {
		meter := otel.Meter("github.com/shex1627/warcraftlogs/internal/cache")

		var err error
		cacheOperations, err = meter.Int64Counter(
			"token_cache.operations",
			metric.WithDescription("Total token cache operations"),
		)
		if err != nil {
			otel.Handle(err)
		}

		cacheDuration, err = meter.Float64Histogram(
			"token_cache.operation.duration",
			metric.WithDescription("Token cache operation duration"),
			metric.WithUnit("s"),
		)
		if err != nil {
			otel.Handle(err)
		}

		persistenceFailures, err = meter.Int64Counter(
			"token_cache.persistence.failures",
			metric.WithDescription("Token persistence operations that failed and were absorbed"),
		)
		if err != nil {
			otel.Handle(err)
		}
	})
}

func recordPersistenceFailure(ctx context.Context, operation string) {
	if persistenceFailures == nil {
		return
	}
	persistenceFailures.Add(ctx, 1,
		metric.WithAttributes(attribute.String("cache.operation", operation)),
	)
}

// Instrumented wraps a TokenCache with metrics instrumentation.
type Instrumented struct {
	wrapped   TokenCache
	storeType string
}

// NewInstrumented creates an instrumented cache wrapper. storeType labels the
// persistence backing the wrapped cache ("none", "file" or "valkey").
func NewInstrumented(cache TokenCache, storeType string) *Instrumented {
	initMetrics()
	return &Instrumented{
		wrapped:   cache,
		storeType: storeType,
	}
}

func (i *Instrumented) Get(ctx context.Context, key string) (token.Payload, bool) {
	start := time.Now()

	value, found := i.wrapped.Get(ctx, key)

	status := "miss"
	if found {
		status = "hit"
	}
	i.record(ctx, "get", status, time.Since(start))

	return value, found
}

func (i *Instrumented) Put(ctx context.Context, key string, payload token.Payload) {
	start := time.Now()

	i.wrapped.Put(ctx, key, payload)

	i.record(ctx, "put", "success", time.Since(start))
}

func (i *Instrumented) Invalidate(ctx context.Context, key string) {
	start := time.Now()

	i.wrapped.Invalidate(ctx, key)

	i.record(ctx, "invalidate", "success", time.Since(start))
}

func (i *Instrumented) ClearAll(ctx context.Context) {
	start := time.Now()

	i.wrapped.ClearAll(ctx)

	i.record(ctx, "clear", "success", time.Since(start))
}

// Close releases any resources held by the cache.
func (i *Instrumented) Close() error {
	return i.wrapped.Close()
}

func (i *Instrumented) record(ctx context.Context, operation, status string, duration time.Duration) {
	if cacheOperations != nil {
		cacheOperations.Add(ctx, 1,
			metric.WithAttributes(
				attribute.String("cache.store", i.storeType),
				attribute.String("cache.operation", operation),
				attribute.String("cache.status", status),
			),
		)
	}

	if cacheDuration != nil {
		cacheDuration.Record(ctx, duration.Seconds(),
			metric.WithAttributes(
				attribute.String("cache.store", i.storeType),
				attribute.String("cache.operation", operation),
			),
		)
	}

	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("cache.store", i.storeType),
		attribute.String("cache."+operation+".status", status),
		attribute.Float64("cache."+operation+".duration", duration.Seconds()),
	)
}
