// Package telemetry wires OpenTelemetry tracing across request handling.
// Prometheus (internal/adapter/inbound/health) remains the metrics system;
// this package only emits spans, exported to stdout in dev mode and
// otherwise left unexported (spans are still created and can carry
// in-process parent/child relationships, but nothing leaves the process).
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "ongarde"

// Provider owns the process's TracerProvider and knows how to shut it down.
type Provider struct {
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
}

// NewProvider builds a Provider. In dev mode, spans are exported to stdout
// with AlwaysSample; otherwise a 10% ratio-based sampler runs with no
// exporter wired, so sampled-in spans still propagate through context
// (child spans, error recording) without printing anything.
func NewProvider(devMode bool) (*Provider, error) {
	var opts []sdktrace.TracerProviderOption

	if devMode {
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, err
		}
		opts = append(opts, sdktrace.WithSyncer(exporter), sdktrace.WithSampler(sdktrace.AlwaysSample()))
	} else {
		opts = append(opts, sdktrace.WithSampler(sdktrace.TraceIDRatioBased(0.1)))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)

	return &Provider{tracer: tp.Tracer(tracerName), provider: tp}, nil
}

// Tracer returns the tracer spans should be started from.
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// Shutdown flushes and stops the TracerProvider.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.provider.Shutdown(ctx)
}
