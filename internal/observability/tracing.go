// Package observability wires OpenTelemetry trace export into Genkit.
//
// Genkit already instruments flows and model calls with OTel spans; this
// package registers an OTLP HTTP exporter on Genkit's tracer provider so
// those spans reach a collector (Jaeger, Grafana Tempo, or a vendor agent
// listening on localhost:4318).
//
// Tracing is opt-in: it activates only when a collector endpoint is
// configured (tracing.endpoint key or ZONDA_OTLP_ENDPOINT). A failing
// exporter setup degrades to a warning, never a startup failure; spans that
// cannot be delivered are dropped by the batch processor.
package observability

import (
	"context"
	"os"

	"github.com/firebase/genkit/go/core/tracing"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/koopa0/zonda/internal/log"
)

// Config for OTLP trace export.
type Config struct {
	// Endpoint is the OTLP HTTP collector endpoint, host:port. Empty
	// disables tracing.
	Endpoint string
	// Environment tags exported spans with deployment.environment.
	Environment string
	// ServiceName is the service name attached to exported spans.
	ServiceName string
}

// Setup registers an OTLP exporter with Genkit's tracer provider.
//
// Returns a shutdown function that flushes pending spans. When tracing is
// disabled or the exporter cannot be built, the returned shutdown is a
// no-op and err is nil.
func Setup(ctx context.Context, cfg Config, logger log.Logger) (shutdown func(context.Context) error, err error) {
	noop := func(context.Context) error { return nil }

	if cfg.Endpoint == "" {
		logger.Debug("tracing disabled, no collector endpoint configured")
		return noop, nil
	}

	// Genkit's tracer provider reads the service identity from the
	// standard OTel environment variables.
	if cfg.ServiceName != "" {
		_ = os.Setenv("OTEL_SERVICE_NAME", cfg.ServiceName)
	}
	if cfg.Environment != "" {
		_ = os.Setenv("OTEL_RESOURCE_ATTRIBUTES", "deployment.environment="+cfg.Environment)
	}

	// Plain HTTP: collectors run on localhost or inside the same network.
	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.Endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		logger.Warn("creating OTLP trace exporter failed, tracing disabled", "error", err)
		return noop, nil
	}

	tracing.TracerProvider().RegisterSpanProcessor(sdktrace.NewBatchSpanProcessor(exporter))

	logger.Info("tracing enabled",
		"endpoint", cfg.Endpoint,
		"service", cfg.ServiceName,
		"environment", cfg.Environment,
	)
	return tracing.TracerProvider().Shutdown, nil
}
