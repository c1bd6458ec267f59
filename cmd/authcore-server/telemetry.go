package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrEthical07/authcore"
	otelexport "github.com/MrEthical07/authcore/metrics/export/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// startOTLP pushes engine metrics to an OTLP/HTTP collector. The returned
// shutdown flushes the last interval and stops the reader.
func startOTLP(ctx context.Context, env authcore.EnvConfig, source otelexport.MetricsSource, logger *slog.Logger) (func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(env.ServiceName)),
		resource.WithHost(),
		resource.WithProcess(),
	)
	if err != nil {
		return nil, fmt.Errorf("otlp resource: %w", err)
	}

	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(env.OTLPEndpoint)}
	if env.OTLPInsecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("otlp metric exporter: %w", err)
	}

	interval := env.OTLPInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))),
		sdkmetric.WithResource(res),
	)

	binding, err := otelexport.NewExporter(provider.Meter("github.com/MrEthical07/authcore"), source)
	if err != nil {
		_ = provider.Shutdown(ctx)
		return nil, err
	}
	logger.Info("otlp metrics enabled", "endpoint", env.OTLPEndpoint, "interval", interval)

	return func(ctx context.Context) error {
		// Shut the provider down first so the final export still sees the callback.
		err := provider.Shutdown(ctx)
		if cerr := binding.Close(); err == nil {
			err = cerr
		}
		return err
	}, nil
}
