// Package main provides the mikrotik-collector CLI binary: an HTTP
// front door that fans out ping/command/batch requests to RouterOS
// devices over the native API, pooling sessions and caching results.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tripleplay/mikrotik-collector/internal/auth"
	"github.com/tripleplay/mikrotik-collector/internal/cache"
	"github.com/tripleplay/mikrotik-collector/internal/config"
	"github.com/tripleplay/mikrotik-collector/internal/devapi"
	"github.com/tripleplay/mikrotik-collector/internal/governor"
	"github.com/tripleplay/mikrotik-collector/internal/httpapi"
	"github.com/tripleplay/mikrotik-collector/internal/otel"
	"github.com/tripleplay/mikrotik-collector/internal/stats"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	log := cfg.Log

	collector := stats.New()
	registry := devapi.NewRegistry(cfg.Pool, log, collector)
	gov := governor.New(cfg.Governor)
	c := cache.New(cfg.Cache)

	metrics, err := otel.NewMetrics(context.Background(), cfg.Metrics)
	if err != nil {
		log.LogServerError("otel_init", err)
		metrics = otel.NoopMetrics()
	}
	tracer, err := otel.NewTracer(context.Background(), cfg.Tracing)
	if err != nil {
		log.LogServerError("otel_init", err)
		tracer = otel.NoopTracer()
	}

	var authMW *auth.Middleware
	if cfg.Auth != nil {
		authMW = auth.NewMiddleware(cfg.Auth, auth.NewAPIKeyAuthenticator(cfg.Auth))
	}

	server := httpapi.NewServer(cfg.HTTP, registry, gov, c, collector, metrics, tracer, authMW, log)
	if err := server.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "error starting collector: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("mikrotik-collector listening on %s\n", server.Addr())
	fmt.Println("Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\nShutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "shutdown error: %v\n", err)
	}
	tracer.Shutdown(ctx)
	metrics.Shutdown(ctx)
	fmt.Println("collector stopped")
}
