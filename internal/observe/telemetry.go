package observe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptrace"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zerologr"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shex1627/warcraftlogs/internal/config"
	"go.opentelemetry.io/contrib/instrumentation/net/http/httptrace/otelhttptrace"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// ShutdownFunc flushes and stops the telemetry providers.
type ShutdownFunc func(context.Context) error

// Configure sets up the global OpenTelemetry providers. When telemetry is
// disabled the returned shutdown function does nothing and the global no-op
// providers stay in place.
func Configure(ctx context.Context, cfg config.ObserveConfig) (ShutdownFunc, error) {
	if !cfg.Enabled {
		log.Info().Msg("telemetry: disabled")
		return func(context.Context) error { return nil }, nil
	}

	configureSDKLogger(cfg)

	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(attribute.String("service.name", cfg.ServiceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry resource: %w", err)
	}

	var shutdowns []ShutdownFunc
	shutdown := func(ctx context.Context) error {
		var errs []error
		for _, fn := range shutdowns {
			errs = append(errs, fn(ctx))
		}
		return errors.Join(errs...)
	}

	tracerProvider, err := newTracerProvider(ctx, cfg, res)
	if err != nil {
		return nil, err
	}
	shutdowns = append(shutdowns, tracerProvider.Shutdown)
	otel.SetTracerProvider(tracerProvider)

	if cfg.MetricsEnabled {
		meterProvider, err := newMeterProvider(ctx, cfg, res)
		if err != nil {
			_ = shutdown(ctx)
			return nil, err
		}
		shutdowns = append(shutdowns, meterProvider.Shutdown)
		otel.SetMeterProvider(meterProvider)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	log.Info().
		Str("type", cfg.Type).
		Str("service", cfg.ServiceName).
		Bool("metrics", cfg.MetricsEnabled).
		Msg("telemetry: configured")

	return shutdown, nil
}

func newTracerProvider(ctx context.Context, cfg config.ObserveConfig, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	var exporter sdktrace.SpanExporter
	var err error

	switch cfg.Type {
	case "grpc":
		exporter, err = otlptracegrpc.New(ctx)
	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	default:
		return nil, fmt.Errorf("unknown telemetry type %q: must be \"grpc\" or \"stdout\"", cfg.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("trace exporter: %w", err)
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter,
			sdktrace.WithBatchTimeout(time.Duration(cfg.TraceBatchTimeoutSeconds)*time.Second),
		),
	), nil
}

func newMeterProvider(ctx context.Context, cfg config.ObserveConfig, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	var exporter sdkmetric.Exporter
	var err error

	switch cfg.Type {
	case "grpc":
		exporter, err = otlpmetricgrpc.New(ctx)
	case "stdout":
		exporter, err = stdoutmetric.New()
	default:
		return nil, fmt.Errorf("unknown telemetry type %q: must be \"grpc\" or \"stdout\"", cfg.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("metric exporter: %w", err)
	}

	reader := sdkmetric.NewPeriodicReader(exporter,
		sdkmetric.WithInterval(time.Duration(cfg.MetricReadIntervalSeconds)*time.Second),
	)

	return sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	), nil
}

// configureSDKLogger routes the SDK's internal logging through zerolog at its
// own level, independent of the application level.
func configureSDKLogger(cfg config.ObserveConfig) {
	level, err := zerolog.ParseLevel(cfg.SDKLogLevel)
	if err != nil {
		log.Warn().Str("level", cfg.SDKLogLevel).Msg("telemetry: invalid SDK log level, using info")
		level = zerolog.InfoLevel
	}

	sdkLogger := log.Logger.Level(level).With().Str("component", "otel").Logger()

	var logger logr.Logger = zerologr.New(&sdkLogger)
	otel.SetLogger(logger)

	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		sdkLogger.Warn().Err(err).Msg("telemetry: SDK error")
	}))
}

// HTTPTransport wraps an outbound transport with client spans and metrics.
// It returns wrapped unchanged when telemetry or transport tracing is off.
func HTTPTransport(wrapped http.RoundTripper, cfg config.ObserveConfig) http.RoundTripper {
	if !cfg.Enabled || !cfg.HTTPTransportEnabled {
		return wrapped
	}

	var opts []otelhttp.Option
	if cfg.HTTPConnectionTraceEnabled {
		opts = append(opts, otelhttp.WithClientTrace(func(ctx context.Context) *httptrace.ClientTrace {
			return otelhttptrace.NewClientTrace(ctx)
		}))
	}

	return otelhttp.NewTransport(wrapped, opts...)
}
