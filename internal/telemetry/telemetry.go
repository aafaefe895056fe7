// Package telemetry configures OpenTelemetry tracing.
package telemetry

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/soyeahso/xiaoji/internal/config"
	"github.com/soyeahso/xiaoji/internal/logging"
	"github.com/soyeahso/xiaoji/internal/version"
)

// InstrumentationName is the tracer name used by every xiaoji package.
const InstrumentationName = "github.com/soyeahso/xiaoji"

// Shutdown is a function that releases telemetry resources.
type Shutdown func(ctx context.Context) error

// Setup configures OTLP/HTTP trace export when an endpoint is configured.
// Without one, the global no-op provider stays in place.
func Setup(ctx context.Context, cfg config.Config, log *logging.Logger) (Shutdown, error) {
	log = log.Sub("telemetry")
	if cfg.Telemetry.OTLPEndpoint == "" {
		log.Debug().Msg("tracing disabled")
		return func(context.Context) error { return nil }, nil
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(hostOf(cfg.Telemetry.OTLPEndpoint))}
	if !strings.HasPrefix(cfg.Telemetry.OTLPEndpoint, "https://") {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", cfg.Telemetry.ServiceName),
			attribute.String("service.version", version.Version),
			attribute.String("deployment.environment", cfg.Env),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.Telemetry.SamplingRate))),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	log.Info().Str("endpoint", cfg.Telemetry.OTLPEndpoint).Msg("tracing enabled")

	return tp.Shutdown, nil
}

// Tracer returns the xiaoji tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(InstrumentationName)
}

// hostOf strips a scheme so both "collector:4318" and
// "http://collector:4318" are accepted.
func hostOf(endpoint string) string {
	for _, p := range []string{"https://", "http://"} {
		endpoint = strings.TrimPrefix(endpoint, p)
	}
	return strings.TrimSuffix(endpoint, "/")
}
