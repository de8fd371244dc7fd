// Package telemetry installs the OpenTelemetry tracer provider and the
// propagator that carries trace context across the task queue.
package telemetry

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

// TracerName is the instrumentation scope used for pipeline spans.
const TracerName = "github.com/JakeFAU/newsfeeds"

// Config controls tracing.
type Config struct {
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Validate checks the sampling ratio and service name.
func (c Config) Validate() error {
	if c.ServiceName == "" {
		return errors.New("telemetry.service_name is required")
	}
	if c.SampleRatio < 0 || c.SampleRatio > 1 {
		return errors.New("telemetry.sample_ratio must be between 0 and 1")
	}
	return nil
}

// Propagator is the W3C trace context plus baggage propagator set globally.
func Propagator() propagation.TextMapPropagator {
	return propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{})
}

// InitTracerProvider sets the global tracer provider and propagator. Spans
// are sampled by ratio unless the parent decided already. No exporter is
// attached; one can be added with RegisterSpanProcessor on the result.
func InitTracerProvider(ctx context.Context, cfg Config) (*sdktrace.TracerProvider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(Propagator())

	return tp, nil
}
