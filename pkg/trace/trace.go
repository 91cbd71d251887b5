// Package trace wraps the OpenTelemetry tracer used around pipeline stages.
//
// When tracing is disabled every span is the no-op span carried by the
// context, so callers never need to branch.
package trace

import (
	"context"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/algomatic/dslbacktest/pkg/config"
)

// Version is reported as the service version resource attribute.
const Version = "1.0.0"

// Tracer starts spans. The zero value is a disabled tracer.
type Tracer struct {
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
}

// Init builds a tracer exporting to stdout. A disabled config returns a
// disabled tracer.
func Init(cfg config.TracingConfig) (*Tracer, error) {
	return InitWithWriter(cfg, os.Stdout)
}

// InitWithWriter is Init with an explicit exporter destination.
func InitWithWriter(cfg config.TracingConfig, w io.Writer) (*Tracer, error) {
	if !cfg.Enabled {
		return &Tracer{}, nil
	}

	opts := []stdouttrace.Option{stdouttrace.WithWriter(w)}
	if cfg.PrettyPrint {
		opts = append(opts, stdouttrace.WithPrettyPrint())
	}
	exporter, err := stdouttrace.New(opts...)
	if err != nil {
		return nil, err
	}

	name := cfg.ServiceName
	if name == "" {
		name = "dslbacktest"
	}
	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(name),
			semconv.ServiceVersion(Version),
		),
	)
	if err != nil {
		return nil, err
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)
	return &Tracer{tracer: provider.Tracer(name), provider: provider}, nil
}

// Enabled reports whether spans are recorded.
func (t *Tracer) Enabled() bool {
	return t != nil && t.tracer != nil
}

// StartSpan starts a span, or returns the context's current span when
// tracing is disabled.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if !t.Enabled() {
		return ctx, trace.SpanFromContext(ctx)
	}
	return t.tracer.Start(ctx, name, opts...)
}

// Shutdown flushes pending spans.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t == nil || t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

// TraceFields returns the trace and span IDs of the span in ctx for log
// correlation.
func TraceFields(ctx context.Context) (traceID, spanID string, ok bool) {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return "", "", false
	}
	return sc.TraceID().String(), sc.SpanID().String(), true
}
