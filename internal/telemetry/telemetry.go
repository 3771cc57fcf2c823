// Package telemetry sets up OpenTelemetry tracing and metrics export and
// defines the instruments missiond records.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const instrumentationName = "github.com/kalambet/missiond"

// Config selects the OTLP collector. An empty endpoint disables export and
// leaves the global no-op providers in place.
type Config struct {
	ServiceName  string
	OTLPEndpoint string // host:port of an OTLP gRPC collector
}

// Provider owns the SDK providers installed by Setup.
type Provider struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
}

// Setup installs global trace and meter providers exporting to the
// configured collector.
func Setup(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.OTLPEndpoint == "" {
		slog.Debug("telemetry export disabled")
		return &Provider{}, nil
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "missiond"
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(attribute.String("service.name", cfg.ServiceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	traceExp, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("creating trace exporter: %w", err)
	}
	metricExp, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("creating metric exporter: %w", err)
	}

	p := &Provider{
		tracerProvider: sdktrace.NewTracerProvider(
			sdktrace.WithResource(res),
			sdktrace.WithBatcher(traceExp, sdktrace.WithBatchTimeout(5*time.Second)),
		),
		meterProvider: sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp, sdkmetric.WithInterval(15*time.Second))),
		),
	}
	otel.SetTracerProvider(p.tracerProvider)
	otel.SetMeterProvider(p.meterProvider)

	slog.Info("telemetry export enabled", "endpoint", cfg.OTLPEndpoint, "service", cfg.ServiceName)
	return p, nil
}

// Shutdown flushes and stops the providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	if p.tracerProvider != nil {
		errs = append(errs, p.tracerProvider.Shutdown(ctx))
	}
	if p.meterProvider != nil {
		errs = append(errs, p.meterProvider.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

// MissionMetrics counts routed events and their handling time.
type MissionMetrics struct {
	routed   metric.Int64Counter
	duration metric.Float64Histogram
}

// NewMissionMetrics creates the mission instruments on meter. A nil meter
// uses the global provider.
func NewMissionMetrics(meter metric.Meter) (*MissionMetrics, error) {
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	routed, err := meter.Int64Counter("missiond.missions.routed",
		metric.WithDescription("Events routed, by event type and audit status"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("missiond.missions.duration",
		metric.WithDescription("Time from receipt to audit record"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60),
	)
	if err != nil {
		return nil, err
	}
	return &MissionMetrics{routed: routed, duration: duration}, nil
}

// Record adds one routed event.
func (m *MissionMetrics) Record(ctx context.Context, event, status string, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("event", event),
		attribute.String("status", status),
	)
	m.routed.Add(ctx, 1, attrs)
	m.duration.Record(ctx, d.Seconds(), attrs)
}
