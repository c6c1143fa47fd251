// Package telemetry exports agent metrics over OTLP.
//
// Metrics are optional: with no endpoint configured the agent records into a
// no-op meter, and every recording method is safe on a nil *Metrics.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

const meterName = "tillguard"

// Config configures metric export.
type Config struct {
	ServiceName    string
	ServiceVersion string
	StoreID        string
	OTLPEndpoint   string // e.g. "localhost:4317"; empty disables export
	Insecure       bool
	ExportInterval time.Duration
}

// Provider owns the meter provider for the lifetime of the agent.
type Provider struct {
	meterProvider *sdkmetric.MeterProvider
	meter         metric.Meter
	logger        *slog.Logger
}

// Setup creates the meter provider. With an empty endpoint it returns a
// provider backed by a no-op meter.
func Setup(ctx context.Context, cfg Config) (*Provider, error) {
	p := &Provider{logger: slog.Default().With("component", "telemetry")}

	if cfg.OTLPEndpoint == "" {
		p.meter = noop.NewMeterProvider().Meter(meterName)
		p.logger.DebugContext(ctx, "metric export disabled")
		return p, nil
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create metric exporter: %w", err)
	}

	interval := cfg.ExportInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
		attribute.String("tillguard.store_id", cfg.StoreID),
	)

	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(interval),
		)),
	)
	otel.SetMeterProvider(p.meterProvider)
	p.meter = p.meterProvider.Meter(meterName, metric.WithInstrumentationVersion(cfg.ServiceVersion))

	p.logger.InfoContext(ctx, "metric export enabled",
		"endpoint", cfg.OTLPEndpoint,
		"interval", interval,
	)
	return p, nil
}

// Meter returns the configured meter.
func (p *Provider) Meter() metric.Meter {
	return p.meter
}

// Shutdown flushes and stops the exporter.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.meterProvider == nil {
		return nil
	}
	if err := p.meterProvider.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown meter provider: %w", err)
	}
	return nil
}
