package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

// MeterName is the instrumentation scope for application metrics
const MeterName = "ticketing-service"

var globalMeterProvider *sdkmetric.MeterProvider

// InitMetrics initializes the OTLP metric pipeline. When disabled, the
// global no-op meter is used and instruments become zero-cost.
func InitMetrics(ctx context.Context, cfg *Config) error {
	if cfg == nil || !cfg.Enabled {
		return nil
	}

	exporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(cfg.CollectorAddr),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		return fmt.Errorf("failed to create OTLP metric exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			attribute.String("environment", cfg.Environment),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(15*time.Second),
		)),
	)

	otel.SetMeterProvider(provider)
	globalMeterProvider = provider
	return nil
}

// ShutdownMetrics flushes and stops the metric pipeline
func ShutdownMetrics(ctx context.Context) error {
	if globalMeterProvider != nil {
		return globalMeterProvider.Shutdown(ctx)
	}
	return nil
}

func meter() metric.Meter {
	return otel.GetMeterProvider().Meter(MeterName)
}

// MetricOpts describes an instrument
type MetricOpts struct {
	Name        string
	Description string
	Unit        string
}

// Counter is a monotonically increasing instrument
type Counter struct {
	inner metric.Int64Counter
}

// NewCounter creates a counter instrument. Instrument creation errors are
// swallowed into a no-op counter so metric wiring can never fail startup.
func NewCounter(opts MetricOpts) *Counter {
	c, err := meter().Int64Counter(opts.Name,
		metric.WithDescription(opts.Description),
		metric.WithUnit(opts.Unit),
	)
	if err != nil {
		return &Counter{}
	}
	return &Counter{inner: c}
}

// Inc increments the counter by one
func (c *Counter) Inc(ctx context.Context, attrs ...attribute.KeyValue) {
	c.Add(ctx, 1, attrs...)
}

// Add increments the counter by n
func (c *Counter) Add(ctx context.Context, n int64, attrs ...attribute.KeyValue) {
	if c == nil || c.inner == nil {
		return
	}
	c.inner.Add(ctx, n, metric.WithAttributes(attrs...))
}

// Histogram records a distribution of values
type Histogram struct {
	inner metric.Float64Histogram
}

// NewHistogram creates a histogram instrument
func NewHistogram(opts MetricOpts) *Histogram {
	h, err := meter().Float64Histogram(opts.Name,
		metric.WithDescription(opts.Description),
		metric.WithUnit(opts.Unit),
	)
	if err != nil {
		return &Histogram{}
	}
	return &Histogram{inner: h}
}

// Record records a value
func (h *Histogram) Record(ctx context.Context, value float64, attrs ...attribute.KeyValue) {
	if h == nil || h.inner == nil {
		return
	}
	h.inner.Record(ctx, value, metric.WithAttributes(attrs...))
}

// UpDownCounter is an instrument that can go up and down
type UpDownCounter struct {
	inner metric.Int64UpDownCounter
}

// NewUpDownCounter creates an up-down counter instrument
func NewUpDownCounter(opts MetricOpts) *UpDownCounter {
	c, err := meter().Int64UpDownCounter(opts.Name,
		metric.WithDescription(opts.Description),
		metric.WithUnit(opts.Unit),
	)
	if err != nil {
		return &UpDownCounter{}
	}
	return &UpDownCounter{inner: c}
}

// Add adds n (which may be negative) to the counter
func (c *UpDownCounter) Add(ctx context.Context, n int64, attrs ...attribute.KeyValue) {
	if c == nil || c.inner == nil {
		return
	}
	c.inner.Add(ctx, n, metric.WithAttributes(attrs...))
}
