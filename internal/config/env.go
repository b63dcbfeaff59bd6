// Package config assembles runtime configuration for the collector's
// components from environment variables, per §6's recognized-options
// table. It replaces none of the per-package DefaultConfig functions —
// it only overrides their fields when the corresponding variable is set.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tripleplay/mikrotik-collector/internal/auth"
	"github.com/tripleplay/mikrotik-collector/internal/cache"
	"github.com/tripleplay/mikrotik-collector/internal/devapi"
	"github.com/tripleplay/mikrotik-collector/internal/governor"
	"github.com/tripleplay/mikrotik-collector/internal/httpapi"
	"github.com/tripleplay/mikrotik-collector/internal/logging"
	"github.com/tripleplay/mikrotik-collector/internal/otel"
)

// Collector bundles every component config FromEnv produces, ready to be
// handed to the constructors in cmd/collector.
type Collector struct {
	HTTP     httpapi.Config
	Pool     devapi.PoolConfig
	Governor governor.Config
	Cache    cache.Config
	Auth     *auth.Config
	Metrics  *otel.MetricsConfig
	Tracing  *otel.Config
	Log      *logging.EventLogger
}

// FromEnv builds a Collector configuration from the process environment,
// falling back to each component's own defaults for anything unset.
func FromEnv() (Collector, error) {
	c := Collector{
		HTTP:     httpapi.DefaultConfig(),
		Pool:     devapi.DefaultPoolConfig(),
		Governor: governor.DefaultConfig(),
		Cache:    cache.DefaultConfig(),
	}

	host := getenv("COLLECTOR_HOST", "0.0.0.0")
	port := getenv("COLLECTOR_PORT", "8728")
	c.HTTP.Addr = host + ":" + port

	if v, ok := os.LookupEnv("MIKROTIK_API_TIMEOUT"); ok {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return c, fmt.Errorf("config: MIKROTIK_API_TIMEOUT: %w", err)
		}
		c.HTTP.RequestTimeout = time.Duration(secs) * time.Second
	}

	if v, ok := os.LookupEnv("MAX_CONCURRENT_HOSTS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return c, fmt.Errorf("config: MAX_CONCURRENT_HOSTS: %w", err)
		}
		c.HTTP.MaxConcurrentHosts = n
		c.HTTP.MaxConcurrentBatch = n
	}

	// MAX_CONCURRENT_COMMANDS sizes the per-router concurrency semaphore.
	if v, ok := os.LookupEnv("MAX_CONCURRENT_COMMANDS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return c, fmt.Errorf("config: MAX_CONCURRENT_COMMANDS: %w", err)
		}
		c.Governor.PerRouterMaxConcurrent = n
	}

	// MAX_GLOBAL_CONCURRENT_COMMANDS sizes the process-wide concurrency
	// semaphore, independent of any single router's cap.
	if v, ok := os.LookupEnv("MAX_GLOBAL_CONCURRENT_COMMANDS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return c, fmt.Errorf("config: MAX_GLOBAL_CONCURRENT_COMMANDS: %w", err)
		}
		c.Governor.MaxConcurrentCommands = n
	}

	if v, ok := os.LookupEnv("MAX_CONNECTIONS_PER_HOST"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return c, fmt.Errorf("config: MAX_CONNECTIONS_PER_HOST: %w", err)
		}
		c.Pool.MaxSize = n
	}

	if v, ok := os.LookupEnv("CACHE_TTL"); ok {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return c, fmt.Errorf("config: CACHE_TTL: %w", err)
		}
		c.Cache.DefaultTTL = time.Duration(secs) * time.Second
		c.HTTP.CacheTTL = c.Cache.DefaultTTL
	}
	if v, ok := os.LookupEnv("MAX_CACHE_SIZE"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return c, fmt.Errorf("config: MAX_CACHE_SIZE: %w", err)
		}
		c.Cache.MaxSize = n
	}

	if enabled, _ := strconv.ParseBool(os.Getenv("ENABLE_AUTH")); enabled {
		apiKey := os.Getenv("API_KEY")
		if apiKey == "" {
			return c, fmt.Errorf("config: ENABLE_AUTH set but API_KEY is empty")
		}
		c.Auth = &auth.Config{
			Mode:    auth.ModeAPIKey,
			APIKeys: []string{apiKey},
		}
	}

	c.Log = logging.New(parseLevel(getenv("LOG_LEVEL", "info")))
	if logFile := os.Getenv("LOG_FILE"); logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return c, fmt.Errorf("config: LOG_FILE: %w", err)
		}
		c.Log = logging.NewWithWriter(f, parseLevel(getenv("LOG_LEVEL", "info")))
	}

	// MIKROTIK_OTLP_ENDPOINT is an enrichment beyond §6's table: when set,
	// both the stats and tracing OTel pipelines push to it instead of
	// staying no-op.
	if endpoint := os.Getenv("MIKROTIK_OTLP_ENDPOINT"); endpoint != "" {
		exporter := otel.ExporterOTLPGRPC
		traceExporter := tracingExporterFor(exporter)
		c.Metrics = &otel.MetricsConfig{
			Enabled:      true,
			ServiceName:  "mikrotik-collector",
			ExporterType: exporter,
			OTLPEndpoint: endpoint,
			OTLPInsecure: true,
		}
		c.Tracing = &otel.Config{
			Enabled:      true,
			ServiceName:  "mikrotik-collector",
			ExporterType: traceExporter,
			OTLPEndpoint: endpoint,
			OTLPInsecure: true,
			SampleRate:   1.0,
		}
	}

	return c, nil
}

func tracingExporterFor(metricsExporter otel.ExporterType) otel.ExporterType {
	if metricsExporter == otel.ExporterOTLPGRPC {
		return otel.ExporterOTLPGRPC
	}
	return otel.ExporterOTLPHTTP
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseLevel(raw string) slog.Level {
	switch strings.ToLower(raw) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
