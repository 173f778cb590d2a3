package server

import (
	"context"
	"log/slog"
	"os"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

var tracer trace.Tracer

// init sets up a tracer provider exporting to OTEL_EXPORTER_OTLP_ENDPOINT
// (or localhost:4317 if unset). A failed exporter falls back to a no-op
// tracer instead of panicking package init, since this package is
// imported by tests that never run alongside a collector.
func init() {
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")

	exporter, err := newExporter(endpoint)
	if err != nil {
		slog.Warn("server: otlp exporter unavailable, tracing disabled", "err", err)
		tracer = otel.Tracer("github.com/aep/docbase/server")
		return
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceName("docbase"),
		),
	)
	if err != nil {
		slog.Warn("server: otel resource setup failed", "err", err)
		res = resource.Default()
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	tracer = tp.Tracer("github.com/aep/docbase/server")
}

func newExporter(endpoint string) (sdktrace.SpanExporter, error) {
	if endpoint == "" {
		endpoint = "localhost:4317"
	}
	client := otlptracegrpc.NewClient(
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	return otlptrace.New(context.Background(), client)
}

// TracingMiddleware starts a span per request.
func TracingMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		ctx, span := tracer.Start(req.Context(), req.Method+" "+c.Path(),
			trace.WithAttributes(
				attribute.String("http.method", req.Method),
				attribute.String("http.path", c.Path()),
			),
		)
		defer span.End()

		c.SetRequest(req.WithContext(ctx))
		err := next(c)
		if err != nil {
			span.SetAttributes(attribute.Bool("error", true), attribute.String("error.message", err.Error()))
		}
		span.SetAttributes(attribute.Int("http.status_code", c.Response().Status))
		return err
	}
}
