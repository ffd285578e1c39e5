package observability

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/ferrebot/ferrebot-backend/internal/platform/logger"
)

const tracerName = "ferrebot-backend"

// InitTracing installs a tracer provider. With TRACING_ENABLED unset or
// false it installs a no-op provider so instrumented paths cost nothing.
func InitTracing(enabled bool, log *logger.Logger) (func(context.Context) error, error) {
	if !enabled {
		otel.SetTracerProvider(sdktrace.NewTracerProvider())
		return func(context.Context) error { return nil }, nil
	}
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(tp)
	if log != nil {
		log.Info("Tracing enabled", "exporter", "stdout")
	}
	return tp.Shutdown, nil
}

func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan opens a child span named after the operation. Callers must
// end the returned span.
func StartSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	operation = strings.TrimSpace(operation)
	if operation == "" {
		operation = "unnamed"
	}
	return Tracer().Start(ctx, operation)
}
