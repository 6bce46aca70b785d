// Package tracing builds OpenTelemetry tracer providers for task execution spans.
package tracing

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// InstrumentationName is the tracer name used for executor spans
const InstrumentationName = "github.com/fluxorio/taskexec"

// ShutdownFn flushes and stops a tracer provider
type ShutdownFn func(ctx context.Context) error

// Config selects the exporter
type Config struct {
	// Stdout exports spans as JSON to Writer (os.Stdout when nil)
	Stdout      bool
	Writer      io.Writer
	PrettyPrint bool

	// SamplingRatio in [0, 1]; 0 means always sample
	SamplingRatio float64

	// ServiceName is attached as the service.name resource attribute
	ServiceName string
}

// NewProvider creates a tracer provider for cfg. When no exporter is
// enabled a no-op provider is returned together with a no-op shutdown.
func NewProvider(cfg Config) (trace.TracerProvider, ShutdownFn, error) {
	if !cfg.Stdout {
		return noop.NewTracerProvider(), func(context.Context) error { return nil }, nil
	}

	w := cfg.Writer
	if w == nil {
		w = os.Stdout
	}
	opts := []stdouttrace.Option{stdouttrace.WithWriter(w)}
	if cfg.PrettyPrint {
		opts = append(opts, stdouttrace.WithPrettyPrint())
	}
	exporter, err := stdouttrace.New(opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("create stdout trace exporter: %w", err)
	}

	name := cfg.ServiceName
	if name == "" {
		name = "taskexec"
	}
	res := resource.NewSchemaless(attribute.String("service.name", name))

	sampler := sdktrace.AlwaysSample()
	if cfg.SamplingRatio > 0 && cfg.SamplingRatio < 1 {
		sampler = sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SamplingRatio))
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	return tp, tp.Shutdown, nil
}

// Setup creates a provider for cfg and installs it globally along with
// the W3C trace-context and baggage propagators.
func Setup(cfg Config) (ShutdownFn, error) {
	tp, shutdown, err := NewProvider(cfg)
	if err != nil {
		return nil, err
	}
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return shutdown, nil
}

// Tracer returns the executor tracer from tp, or from the global provider when tp is nil
func Tracer(tp trace.TracerProvider) trace.Tracer {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return tp.Tracer(InstrumentationName)
}
