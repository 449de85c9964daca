// Package tracing builds the tracer provider of the server. Spans of job,
// phase and node executions are exported over OTLP/HTTP when enabled.
package tracing

import (
	"context"
	"fmt"

	"github.com/aescanero/synthflow/internal/config"
	"go.opentelemetry.io/otel"
	otlptracehttp "go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Option configures NewProvider.
type Option func(*options)

type options struct {
	exporter sdktrace.SpanExporter
	version  string
}

// WithExporter replaces the OTLP exporter.
func WithExporter(exporter sdktrace.SpanExporter) Option {
	return func(o *options) { o.exporter = exporter }
}

// WithVersion sets the service.version resource attribute.
func WithVersion(version string) Option {
	return func(o *options) { o.version = version }
}

// NewProvider returns a tracer provider for cfg. A disabled config yields a
// provider that records nothing, so callers can always use and shut down
// the result.
func NewProvider(ctx context.Context, cfg config.TracingConfig, opts ...Option) (*sdktrace.TracerProvider, error) {
	if !cfg.Enabled {
		return sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.NeverSample())), nil
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	attrs := []resource.Option{resource.WithAttributes(semconv.ServiceName(cfg.ServiceName))}
	if o.version != "" {
		attrs = append(attrs, resource.WithAttributes(semconv.ServiceVersion(o.version)))
	}
	res, err := resource.New(ctx, append(attrs, resource.WithFromEnv(), resource.WithTelemetrySDK())...)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracing resource: %w", err)
	}

	exporter := o.exporter
	if exporter == nil {
		httpOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			httpOpts = append(httpOpts, otlptracehttp.WithInsecure())
		}
		exporter, err = otlptracehttp.New(ctx, httpOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP exporter for %s: %w", cfg.Endpoint, err)
		}
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}))

	return tp, nil
}
