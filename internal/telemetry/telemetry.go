// Package telemetry sets up OpenTelemetry tracing for the process.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Config selects the OTLP endpoint.
type Config struct {
	Enabled     bool   `yaml:"enabled" json:"enabled" env:"ENABLED"`
	Endpoint    string `yaml:"endpoint" json:"endpoint" env:"ENDPOINT"`
	ServiceName string `yaml:"service_name" json:"service_name" env:"SERVICE_NAME"`
}

// DefaultConfig is disabled.
func DefaultConfig() Config {
	return Config{ServiceName: "tsumo"}
}

// Setup initialises tracing from cfg.
//
// Tracing is opt-in: when cfg is disabled or has no endpoint, Setup returns
// a no-op shutdown function and no global provider is registered.
//
// The returned shutdown function flushes pending spans and should be deferred
// by the caller.
func Setup(ctx context.Context, cfg Config) (shutdown func(context.Context) error, err error) {
	noop := func(context.Context) error { return nil }

	if !cfg.Enabled || cfg.Endpoint == "" {
		return noop, nil
	}
	name := cfg.ServiceName
	if name == "" {
		name = "tsumo"
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpointURL(cfg.Endpoint),
	)
	if err != nil {
		return noop, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(name),
		),
	)
	if err != nil {
		return noop, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return tp.Shutdown, nil
}
