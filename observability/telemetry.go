package observability

import (
	"context"
	"errors"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// TelemetryConfig selects whether traces and metrics are exported over OTLP.
type TelemetryConfig struct {
	Enabled     bool          `yaml:"enabled" mapstructure:"enabled"`
	Endpoint    string        `yaml:"endpoint" mapstructure:"endpoint"`
	Insecure    bool          `yaml:"insecure" mapstructure:"insecure"`
	Environment string        `yaml:"environment" mapstructure:"environment"`
	SampleRate  float64       `yaml:"sample_rate" mapstructure:"sample_rate"`
	Interval    time.Duration `yaml:"interval" mapstructure:"interval"`
}

// ApplyDefaults fills unset telemetry fields.
func (c *TelemetryConfig) ApplyDefaults() {
	if c.Endpoint == "" {
		c.Endpoint = "localhost:4318"
	}
	if c.Environment == "" {
		c.Environment = "development"
	}
	if c.SampleRate == 0 {
		c.SampleRate = 1.0
	}
	if c.Interval == 0 {
		c.Interval = 15 * time.Second
	}
}

// Telemetry bundles the providers started by Setup with the instruments
// built on top of them.
type Telemetry struct {
	Metrics *Metrics

	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
}

// Setup initializes tracing and metrics. When telemetry is disabled the
// instruments are created on the global no-op provider so callers never
// need to nil-check.
func Setup(ctx context.Context, cfg TelemetryConfig, serviceName string) (*Telemetry, error) {
	cfg.ApplyDefaults()
	tel := &Telemetry{}

	if cfg.Enabled {
		tcfg := DefaultTracerConfig(serviceName)
		tcfg.Endpoint = cfg.Endpoint
		tcfg.Insecure = cfg.Insecure
		tcfg.Environment = cfg.Environment
		tcfg.SampleRate = cfg.SampleRate
		tp, err := InitTracer(ctx, &tcfg)
		if err != nil {
			return nil, err
		}
		tel.tracerProvider = tp

		mcfg := DefaultMeterConfig(serviceName)
		mcfg.Endpoint = cfg.Endpoint
		mcfg.Insecure = cfg.Insecure
		mcfg.Environment = cfg.Environment
		mcfg.Interval = cfg.Interval
		mp, err := InitMeter(ctx, &mcfg)
		if err != nil {
			_ = tp.Shutdown(ctx)
			return nil, err
		}
		tel.meterProvider = mp
	}

	metrics, err := NewMetrics(Meter(defaultTracerName))
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, err
	}
	tel.Metrics = metrics
	return tel, nil
}

// Shutdown flushes and stops the providers started by Setup.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	if t.meterProvider != nil {
		errs = append(errs, t.meterProvider.Shutdown(ctx))
	}
	if t.tracerProvider != nil {
		errs = append(errs, t.tracerProvider.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
