package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/vsingh18567/illuminate/internal/logging"
)

// MetricsCollector records task, planning and tool metrics. The zero value
// and a nil pointer are both valid no-op collectors.
type MetricsCollector struct {
	registry *prometheus.Registry
	provider *sdkmetric.MeterProvider
	logger   logging.Logger

	// Task metrics
	tasks        metric.Int64Counter
	taskDuration metric.Float64Histogram
	tasksActive  metric.Int64UpDownCounter

	// Planner metrics
	plans       metric.Int64Counter
	tokensIn    metric.Int64Counter
	tokensOut   metric.Int64Counter
	planLatency metric.Float64Histogram

	// Step metrics
	steps        metric.Int64Counter
	stepRetries  metric.Int64Counter
	stepDuration metric.Float64Histogram

	// Workspace metrics
	artifactsRemoved metric.Int64Counter

	server *http.Server
}

// MetricsConfig configures the metrics collector
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" yaml:"addr"`
}

// NewMetricsCollector creates a collector backed by its own Prometheus registry.
func NewMetricsCollector(config MetricsConfig, logger logging.Logger) (*MetricsCollector, error) {
	if !config.Enabled {
		return &MetricsCollector{}, nil
	}

	registry := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter("illuminate")

	m := &MetricsCollector{
		registry: registry,
		provider: provider,
		logger:   logging.Component(logger, "metrics"),
	}

	var errs []error
	counter := func(name, desc, unit string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit))
		errs = append(errs, err)
		return c
	}
	histogram := func(name, desc string) metric.Float64Histogram {
		h, err := meter.Float64Histogram(name, metric.WithDescription(desc), metric.WithUnit("s"))
		errs = append(errs, err)
		return h
	}

	m.tasks = counter("illuminate.tasks", "Tasks that reached a terminal status", "{task}")
	m.taskDuration = histogram("illuminate.task.duration", "Task wall time in seconds")
	m.plans = counter("illuminate.plans", "Planner exchanges by outcome", "{plan}")
	m.tokensIn = counter("illuminate.llm.tokens.input", "Prompt tokens sent to the model", "{token}")
	m.tokensOut = counter("illuminate.llm.tokens.output", "Completion tokens returned by the model", "{token}")
	m.planLatency = histogram("illuminate.plan.latency", "Planner latency in seconds")
	m.steps = counter("illuminate.steps", "Executed steps by tool and status", "{step}")
	m.stepRetries = counter("illuminate.step.retries", "Step attempts retried after a tool failure", "{retry}")
	m.stepDuration = histogram("illuminate.step.duration", "Step duration in seconds")
	m.artifactsRemoved = counter("illuminate.artifacts.removed", "Ephemeral artifacts deleted by cleanup", "{artifact}")

	active, err := meter.Int64UpDownCounter("illuminate.tasks.active",
		metric.WithDescription("Tasks currently running"),
		metric.WithUnit("{task}"))
	errs = append(errs, err)
	m.tasksActive = active

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("failed to create instruments: %w", err)
	}
	return m, nil
}

func (m *MetricsCollector) enabled() bool {
	return m != nil && m.registry != nil
}

// Registry returns the Prometheus registry, or nil when metrics are disabled.
func (m *MetricsCollector) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the collected metrics in the Prometheus text format.
func (m *MetricsCollector) Handler() http.Handler {
	if !m.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer exposes /metrics on addr in the background.
func (m *MetricsCollector) StartServer(addr string) error {
	if !m.enabled() || addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	m.server = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		m.logger.Info("Prometheus metrics server listening on %s", addr)
		if err := m.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("Prometheus server error: %v", err)
		}
	}()
	return nil
}

// Shutdown stops the metrics server and flushes the meter provider.
func (m *MetricsCollector) Shutdown(ctx context.Context) error {
	if !m.enabled() {
		return nil
	}
	var errs []error
	if m.server != nil {
		errs = append(errs, m.server.Shutdown(ctx))
	}
	errs = append(errs, m.provider.Shutdown(ctx))
	return errors.Join(errs...)
}

// TaskStarted increments the active task gauge.
func (m *MetricsCollector) TaskStarted(ctx context.Context) {
	if !m.enabled() {
		return
	}
	m.tasksActive.Add(ctx, 1)
}

// TaskFinished records a terminal status.
func (m *MetricsCollector) TaskFinished(ctx context.Context, status string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.tasksActive.Add(ctx, -1)
	m.tasks.Add(ctx, 1, attrs)
	m.taskDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordPlan records one planner exchange. Outcome is plan, finish, malformed or error.
func (m *MetricsCollector) RecordPlan(ctx context.Context, outcome string, latency time.Duration, inputTokens, outputTokens int) {
	if !m.enabled() {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.plans.Add(ctx, 1, attrs)
	m.planLatency.Record(ctx, latency.Seconds(), attrs)
	if inputTokens > 0 {
		m.tokensIn.Add(ctx, int64(inputTokens))
	}
	if outputTokens > 0 {
		m.tokensOut.Add(ctx, int64(outputTokens))
	}
}

// RecordStep records a finished step attempt.
func (m *MetricsCollector) RecordStep(ctx context.Context, tool, status string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.steps.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool_name", tool),
		attribute.String("status", status),
	))
	m.stepDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("tool_name", tool)))
}

// RecordStepRetry counts a retried step attempt.
func (m *MetricsCollector) RecordStepRetry(ctx context.Context, tool string) {
	if !m.enabled() {
		return
	}
	m.stepRetries.Add(ctx, 1, metric.WithAttributes(attribute.String("tool_name", tool)))
}

// RecordCleanup counts artifacts removed by a cleanup pass.
func (m *MetricsCollector) RecordCleanup(ctx context.Context, removed int) {
	if !m.enabled() || removed == 0 {
		return
	}
	m.artifactsRemoved.Add(ctx, int64(removed))
}
