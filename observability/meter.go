package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/kbukum/nodegraph/logger"
	"github.com/kbukum/nodegraph/version"
)

// MeterConfig configures the OpenTelemetry meter provider.
type MeterConfig struct {
	// ServiceName is the name of the service.
	ServiceName string
	// ServiceVersion is the version of the service.
	ServiceVersion string
	// Environment is the deployment environment (dev, staging, prod).
	Environment string
	// Endpoint is the OTLP HTTP endpoint host:port (e.g., "localhost:4318").
	Endpoint string
	// Insecure allows insecure connections (for development).
	Insecure bool
	// Interval is the metric export interval.
	Interval time.Duration
}

// DefaultMeterConfig returns sensible defaults for development.
func DefaultMeterConfig(serviceName string) MeterConfig {
	return MeterConfig{
		ServiceName:    serviceName,
		ServiceVersion: version.Version,
		Environment:    "development",
		Endpoint:       "localhost:4318",
		Insecure:       true,
		Interval:       15 * time.Second,
	}
}

// InitMeter initializes the OpenTelemetry meter provider.
// Returns a MeterProvider that should be shut down on application exit.
func InitMeter(ctx context.Context, config *MeterConfig) (*sdkmetric.MeterProvider, error) {
	opts := []otlpmetrichttp.Option{
		otlpmetrichttp.WithEndpoint(config.Endpoint),
	}
	if config.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}

	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating metric exporter: %w", err)
	}

	res, err := newResource(config.ServiceName, config.ServiceVersion, config.Environment)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	readerOpts := []sdkmetric.PeriodicReaderOption{}
	if config.Interval > 0 {
		readerOpts = append(readerOpts, sdkmetric.WithInterval(config.Interval))
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, readerOpts...)),
		sdkmetric.WithResource(res),
	)

	otel.SetMeterProvider(mp)

	logger.Info("meter initialized", logger.Fields(
		"service", config.ServiceName,
		"endpoint", config.Endpoint,
		"interval", config.Interval.String(),
	))

	return mp, nil
}

// Meter returns a named meter from the global provider.
func Meter(name string) metric.Meter {
	return otel.Meter(name)
}

// Metrics holds the OpenTelemetry instruments recorded by the component
// host, the graph executor and the continuous manager. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	hostCalls         metric.Int64Counter
	hostCallDuration  metric.Float64Histogram
	instancesActive   metric.Int64UpDownCounter
	capabilityDenials metric.Int64Counter
	nodeExecutions    metric.Int64Counter
	graphRunDuration  metric.Float64Histogram
	continuousCycles  metric.Int64Counter
	continuousLeaks   metric.Int64Counter
}

// NewMetrics creates metric instruments on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	hostCalls, err := meter.Int64Counter("nodegraph.host.calls",
		metric.WithDescription("Total component calls through the host"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating nodegraph.host.calls counter: %w", err)
	}

	hostCallDuration, err := meter.Float64Histogram("nodegraph.host.call.duration",
		metric.WithDescription("Duration of component calls in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating nodegraph.host.call.duration histogram: %w", err)
	}

	instancesActive, err := meter.Int64UpDownCounter("nodegraph.host.instances.active",
		metric.WithDescription("Number of live component instances"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating nodegraph.host.instances.active gauge: %w", err)
	}

	capabilityDenials, err := meter.Int64Counter("nodegraph.host.capability.denials",
		metric.WithDescription("Privileged operations refused by the capability validator"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating nodegraph.host.capability.denials counter: %w", err)
	}

	nodeExecutions, err := meter.Int64Counter("nodegraph.executor.nodes",
		metric.WithDescription("Node executions by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating nodegraph.executor.nodes counter: %w", err)
	}

	graphRunDuration, err := meter.Float64Histogram("nodegraph.executor.run.duration",
		metric.WithDescription("Duration of one-shot graph runs in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating nodegraph.executor.run.duration histogram: %w", err)
	}

	continuousCycles, err := meter.Int64Counter("nodegraph.continuous.cycles",
		metric.WithDescription("Continuous node cycles by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating nodegraph.continuous.cycles counter: %w", err)
	}

	continuousLeaks, err := meter.Int64Counter("nodegraph.continuous.leaks",
		metric.WithDescription("Continuous tasks detached after the forced stop deadline"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating nodegraph.continuous.leaks counter: %w", err)
	}

	return &Metrics{
		hostCalls:         hostCalls,
		hostCallDuration:  hostCallDuration,
		instancesActive:   instancesActive,
		capabilityDenials: capabilityDenials,
		nodeExecutions:    nodeExecutions,
		graphRunDuration:  graphRunDuration,
		continuousCycles:  continuousCycles,
		continuousLeaks:   continuousLeaks,
	}, nil
}

// RecordHostCall records one call into a component instance.
// status is "ok" or the error category of the failure.
func (m *Metrics) RecordHostCall(ctx context.Context, componentID, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.hostCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("component_id", componentID),
		attribute.String("status", status),
	))
	m.hostCallDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("component_id", componentID),
	))
}

// RecordInstance adjusts the live instance count by delta.
func (m *Metrics) RecordInstance(ctx context.Context, componentID string, delta int64) {
	if m == nil {
		return
	}
	m.instancesActive.Add(ctx, delta, metric.WithAttributes(
		attribute.String("component_id", componentID),
	))
}

// RecordCapabilityDenied records a refused privileged operation.
func (m *Metrics) RecordCapabilityDenied(ctx context.Context, componentID, kind string) {
	if m == nil {
		return
	}
	m.capabilityDenials.Add(ctx, 1, metric.WithAttributes(
		attribute.String("component_id", componentID),
		attribute.String("kind", kind),
	))
}

// RecordNode records the outcome of one node in a graph run.
func (m *Metrics) RecordNode(ctx context.Context, componentID, status string) {
	if m == nil {
		return
	}
	m.nodeExecutions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("component_id", componentID),
		attribute.String("status", status),
	))
}

// RecordGraphRun records the duration of a one-shot graph run.
func (m *Metrics) RecordGraphRun(ctx context.Context, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.graphRunDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("status", status),
	))
}

// RecordCycle records one continuous cycle.
func (m *Metrics) RecordCycle(ctx context.Context, componentID, status string) {
	if m == nil {
		return
	}
	m.continuousCycles.Add(ctx, 1, metric.WithAttributes(
		attribute.String("component_id", componentID),
		attribute.String("status", status),
	))
}

// RecordLeak records a continuous task that ignored both stop signals.
func (m *Metrics) RecordLeak(ctx context.Context, componentID string) {
	if m == nil {
		return
	}
	m.continuousLeaks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("component_id", componentID),
	))
}
