// Package observability wires Prometheus metrics and OpenTelemetry tracing
// for the agent loop.
package observability

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/trace"

	"github.com/vsingh18567/illuminate/internal/logging"
)

// Config represents the complete observability configuration
type Config struct {
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
	Tracing TracingConfig `mapstructure:"tracing" yaml:"tracing"`
}

// DefaultConfig returns the default observability configuration
func DefaultConfig() Config {
	return Config{
		Metrics: MetricsConfig{Enabled: false, Addr: ":9090"},
		Tracing: TracingConfig{
			Enabled:      false,
			Exporter:     "otlp",
			OTLPEndpoint: "localhost:4318",
			Insecure:     true,
			SampleRate:   1.0,
			ServiceName:  "illuminate",
		},
	}
}

// Observability bundles the process-wide collectors shared by every task.
type Observability struct {
	Metrics *MetricsCollector
	tracing *TracerProvider
}

// Setup builds metrics and tracing from config and starts the metrics server.
func Setup(ctx context.Context, config Config, logger logging.Logger) (*Observability, error) {
	metrics, err := NewMetricsCollector(config.Metrics, logger)
	if err != nil {
		return nil, err
	}
	tracing, err := NewTracerProvider(ctx, config.Tracing)
	if err != nil {
		_ = metrics.Shutdown(ctx)
		return nil, err
	}
	if err := metrics.StartServer(config.Metrics.Addr); err != nil {
		return nil, fmt.Errorf("failed to start metrics server: %w", err)
	}
	return &Observability{Metrics: metrics, tracing: tracing}, nil
}

// Tracer returns the tracer for the configured provider.
func (o *Observability) Tracer() trace.Tracer {
	if o == nil {
		return OrNoop(nil)
	}
	return o.tracing.Tracer()
}

// Shutdown flushes metrics and spans.
func (o *Observability) Shutdown(ctx context.Context) error {
	if o == nil {
		return nil
	}
	return errors.Join(o.Metrics.Shutdown(ctx), o.tracing.Shutdown(ctx))
}
