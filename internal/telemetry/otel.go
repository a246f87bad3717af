package telemetry

import (
	"context"
	"errors"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/serverledge-faas/fnscheduler"

// DefaultTracer is nil unless tracing has been enabled.
var DefaultTracer trace.Tracer = nil

// SetupOTelSDK exports traces as JSON to outfile. The returned function
// flushes and closes everything.
func SetupOTelSDK(ctx context.Context, outfile string) (func(context.Context) error, error) {
	f, err := os.Create(outfile)
	if err != nil {
		return nil, err
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(f))
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(tp)
	DefaultTracer = tp.Tracer(tracerName)

	shutdown := func(ctx context.Context) error {
		err := tp.Shutdown(ctx)
		return errors.Join(err, f.Close())
	}
	return shutdown, nil
}

// StartSpan starts a span when tracing is enabled, otherwise it returns the
// no-op span carried by ctx.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if DefaultTracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return DefaultTracer.Start(ctx, name, opts...)
}
