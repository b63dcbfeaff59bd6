// Package otel provides OpenTelemetry tracing and metrics integration
// for the MikroTik collector.
package otel

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// MetricsConfig holds configuration for the OpenTelemetry metrics.
type MetricsConfig struct {
	// Enabled controls whether metrics collection is active. Default: false (no-op).
	Enabled bool

	// ServiceName is the name of the service for metric attribution.
	ServiceName string

	// ServiceVersion is the version of the service.
	ServiceVersion string

	// ExporterType specifies which exporter to use.
	ExporterType ExporterType

	// OTLPEndpoint is the endpoint for OTLP exporters (e.g., "localhost:4317").
	OTLPEndpoint string

	// OTLPInsecure disables TLS for OTLP connections.
	OTLPInsecure bool

	// Attributes are additional attributes to add to all metrics.
	Attributes map[string]string
}

// DefaultMetricsConfig returns a default configuration with metrics disabled.
func DefaultMetricsConfig() *MetricsConfig {
	return &MetricsConfig{
		Enabled:      false,
		ServiceName:  "mikrotik-collector",
		ExporterType: ExporterNone,
	}
}

// Metrics wraps OpenTelemetry metrics functionality with collector-specific
// helpers. It is a second export path alongside the Prometheus text
// exposition in internal/stats — a deployment can scrape /api/v2/stats,
// push to an OTLP collector, or both.
type Metrics struct {
	config           *MetricsConfig
	meterProvider    *sdkmetric.MeterProvider
	meter            metric.Meter
	shutdown         func(context.Context) error
	mu               sync.RWMutex
	inFlight         atomic.Int64
	inFlightCallback metric.Int64ObservableGauge
	inFlightReg      metric.Registration

	// Metric instruments
	commandLatency metric.Float64Histogram
	deviceErrors   metric.Int64Counter
	activeSessions metric.Int64UpDownCounter
	sessionDials   metric.Int64Counter
	cacheCoalesced metric.Int64Counter
}

// globalMetrics is the singleton metrics instance.
var (
	globalMetrics   *Metrics
	globalMetricsMu sync.RWMutex
)

// NewMetrics creates a new Metrics instance with the given configuration.
func NewMetrics(ctx context.Context, cfg *MetricsConfig) (*Metrics, error) {
	if cfg == nil {
		cfg = DefaultMetricsConfig()
	}

	m := &Metrics{
		config: cfg,
	}

	if !cfg.Enabled || cfg.ExporterType == ExporterNone {
		// Use no-op meter when disabled
		m.meterProvider = sdkmetric.NewMeterProvider()
		m.meter = m.meterProvider.Meter(cfg.ServiceName)
		m.shutdown = func(context.Context) error { return nil }
		return m, nil
	}

	// Create exporter based on type
	exporter, err := m.createExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics exporter: %w", err)
	}

	// Create resource with service information
	res, err := m.createResource(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics resource: %w", err)
	}

	// Create meter provider
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		sdkmetric.WithResource(res),
	)

	m.meterProvider = mp
	m.meter = mp.Meter(cfg.ServiceName)
	m.shutdown = mp.Shutdown

	// Register metric instruments
	if err := m.registerInstruments(); err != nil {
		return nil, fmt.Errorf("failed to register metric instruments: %w", err)
	}

	return m, nil
}

// createExporter creates the appropriate metrics exporter based on configuration.
func (m *Metrics) createExporter(ctx context.Context, cfg *MetricsConfig) (sdkmetric.Exporter, error) {
	switch cfg.ExporterType {
	case ExporterStdout:
		return stdoutmetric.New()

	case ExporterOTLPGRPC:
		opts := []otlpmetricgrpc.Option{}
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint))
		}
		if cfg.OTLPInsecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		return otlpmetricgrpc.New(ctx, opts...)

	case ExporterOTLPHTTP:
		opts := []otlpmetrichttp.Option{}
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(cfg.OTLPEndpoint))
		}
		if cfg.OTLPInsecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		return otlpmetrichttp.New(ctx, opts...)

	default:
		return nil, fmt.Errorf("unknown exporter type: %s", cfg.ExporterType)
	}
}

// createResource creates the OpenTelemetry resource with service information.
func (m *Metrics) createResource(cfg *MetricsConfig) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(cfg.ServiceName),
	}

	if cfg.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersion(cfg.ServiceVersion))
	}

	// Add custom attributes
	for k, v := range cfg.Attributes {
		attrs = append(attrs, attribute.String(k, v))
	}

	return resource.Merge(
		resource.Default(),
		resource.NewWithAttributes("", attrs...),
	)
}

// registerInstruments creates and registers all metric instruments.
func (m *Metrics) registerInstruments() error {
	var err error

	// Device command latency histogram (in milliseconds)
	m.commandLatency, err = m.meter.Float64Histogram(
		"mikrotik_collector.command.latency",
		metric.WithDescription("Latency of router API commands"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return fmt.Errorf("failed to create command latency histogram: %w", err)
	}

	// Device error counter with category attribute
	m.deviceErrors, err = m.meter.Int64Counter(
		"mikrotik_collector.device_errors",
		metric.WithDescription("Count of device errors by category"),
	)
	if err != nil {
		return fmt.Errorf("failed to create device error counter: %w", err)
	}

	// Active pooled sessions gauge (up/down counter)
	m.activeSessions, err = m.meter.Int64UpDownCounter(
		"mikrotik_collector.sessions.active",
		metric.WithDescription("Number of active router API sessions"),
	)
	if err != nil {
		return fmt.Errorf("failed to create active sessions counter: %w", err)
	}

	// Session dial counter (new TCP connections and logins)
	m.sessionDials, err = m.meter.Int64Counter(
		"mikrotik_collector.session_dials",
		metric.WithDescription("Count of new router sessions dialed"),
	)
	if err != nil {
		return fmt.Errorf("failed to create session dial counter: %w", err)
	}

	// Cache coalesce counter (singleflight de-duplication hits)
	m.cacheCoalesced, err = m.meter.Int64Counter(
		"mikrotik_collector.cache_coalesced",
		metric.WithDescription("Count of requests coalesced onto an in-flight cache load"),
	)
	if err != nil {
		return fmt.Errorf("failed to create cache coalesce counter: %w", err)
	}

	// In-flight commands observable gauge
	m.inFlightCallback, err = m.meter.Int64ObservableGauge(
		"mikrotik_collector.commands.in_flight",
		metric.WithDescription("Commands currently admitted by the governor"),
	)
	if err != nil {
		return fmt.Errorf("failed to create in-flight gauge: %w", err)
	}

	// Register callback for in-flight gauge
	m.inFlightReg, err = m.meter.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			o.ObserveInt64(m.inFlightCallback, m.inFlight.Load())
			return nil
		},
		m.inFlightCallback,
	)
	if err != nil {
		return fmt.Errorf("failed to register in-flight gauge callback: %w", err)
	}

	return nil
}

// RecordCommandLatency records the latency of a router API command.
func (m *Metrics) RecordCommandLatency(ctx context.Context, operation, router string, latencyMs float64, success bool) {
	if m.commandLatency == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("operation", operation),
		attribute.Bool("success", success),
	}

	if router != "" {
		attrs = append(attrs, attribute.String("router", router))
	}

	m.commandLatency.Record(ctx, latencyMs, metric.WithAttributes(attrs...))
}

// RecordDeviceError records a device error with the specified category.
func (m *Metrics) RecordDeviceError(ctx context.Context, category string) {
	if m.deviceErrors == nil {
		return
	}

	m.deviceErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("category", category),
	))
}

// IncrementSessions increments the active pooled session counter.
func (m *Metrics) IncrementSessions(ctx context.Context) {
	if m.activeSessions == nil {
		return
	}

	m.activeSessions.Add(ctx, 1)
}

// DecrementSessions decrements the active pooled session counter.
func (m *Metrics) DecrementSessions(ctx context.Context) {
	if m.activeSessions == nil {
		return
	}

	m.activeSessions.Add(ctx, -1)
}

// RecordSessionDial increments the session dial counter.
func (m *Metrics) RecordSessionDial(ctx context.Context) {
	if m.sessionDials == nil {
		return
	}

	m.sessionDials.Add(ctx, 1)
}

// RecordCacheCoalesced increments the cache coalesce counter.
func (m *Metrics) RecordCacheCoalesced(ctx context.Context) {
	if m.cacheCoalesced == nil {
		return
	}

	m.cacheCoalesced.Add(ctx, 1)
}

// SetInFlight sets the current in-flight command count for the
// observable gauge. Thread-safe; read by the gauge callback.
func (m *Metrics) SetInFlight(n int) {
	m.inFlight.Store(int64(n))
}

// Shutdown gracefully shuts down the metrics provider, flushing any pending metrics.
func (m *Metrics) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Unregister callback if registered
	if m.inFlightReg != nil {
		if err := m.inFlightReg.Unregister(); err != nil {
			return fmt.Errorf("failed to unregister in-flight callback: %w", err)
		}
	}

	if m.shutdown != nil {
		return m.shutdown(ctx)
	}
	return nil
}

// Enabled returns whether metrics collection is enabled.
func (m *Metrics) Enabled() bool {
	return m.config.Enabled && m.config.ExporterType != ExporterNone
}

// MeterProvider returns the underlying meter provider.
func (m *Metrics) MeterProvider() *sdkmetric.MeterProvider {
	return m.meterProvider
}

// SetGlobalMetrics sets the global metrics instance.
func SetGlobalMetrics(m *Metrics) {
	globalMetricsMu.Lock()
	defer globalMetricsMu.Unlock()
	globalMetrics = m

	if m != nil && m.Enabled() {
		otel.SetMeterProvider(m.meterProvider)
	}
}

// GetGlobalMetrics returns the global metrics instance.
// Returns a no-op metrics instance if none has been set.
func GetGlobalMetrics() *Metrics {
	globalMetricsMu.RLock()
	defer globalMetricsMu.RUnlock()

	if globalMetrics == nil {
		// Return a no-op metrics instance
		cfg := DefaultMetricsConfig()
		m := &Metrics{
			config:        cfg,
			meterProvider: sdkmetric.NewMeterProvider(),
			shutdown:      func(context.Context) error { return nil },
		}
		m.meter = m.meterProvider.Meter(cfg.ServiceName)
		return m
	}

	return globalMetrics
}

// NoopMetrics returns a metrics instance that does nothing (for testing or when disabled).
func NoopMetrics() *Metrics {
	cfg := DefaultMetricsConfig()
	mp := sdkmetric.NewMeterProvider()
	return &Metrics{
		config:        cfg,
		meterProvider: mp,
		meter:         mp.Meter(cfg.ServiceName),
		shutdown:      func(context.Context) error { return nil },
	}
}
