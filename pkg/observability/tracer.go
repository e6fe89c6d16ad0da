// Package observability wires OpenTelemetry tracing and Prometheus
// metrics. Stage names the four pipeline stages of a chat turn
// (assemble / route / dispatch / store); pkg/server opens one
// StageDispatch span per HTTP request, and the other stages get no span
// of their own.
package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/kadirpekel/conduit/internal/config"
)

// InitTracer builds a TracerProvider from cfg. When tracing is disabled
// it returns a no-op provider so every call site can unconditionally
// pull a Tracer without branching on whether observability is on.
func InitTracer(ctx context.Context, cfg config.ObservabilityConfig) (trace.TracerProvider, error) {
	if !cfg.TracingEnabled {
		return noop.NewTracerProvider(), nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)))
	if err != nil {
		return nil, fmt.Errorf("observability: build resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp, nil
}

// Tracer returns the named tracer off of the process-wide provider
// (call InitTracer first; a no-op provider is installed by default by
// the otel SDK until then).
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// Stage names one of the four pipeline stages, used as the span name
// prefix so traces read the same across deployments regardless of which
// provider/extension backs a given call.
type Stage string

const (
	StageAssemble Stage = "conduit.assemble"
	StageRoute    Stage = "conduit.route"
	StageDispatch Stage = "conduit.dispatch"
	StageStore    Stage = "conduit.store"
)

// StartSpan opens a span for one pipeline stage.
func StartSpan(ctx context.Context, stage Stage) (context.Context, trace.Span) {
	return Tracer("conduit").Start(ctx, string(stage))
}
