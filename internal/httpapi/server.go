package httpapi

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/tripleplay/mikrotik-collector/internal/auth"
	"github.com/tripleplay/mikrotik-collector/internal/cache"
	"github.com/tripleplay/mikrotik-collector/internal/devapi"
	"github.com/tripleplay/mikrotik-collector/internal/governor"
	"github.com/tripleplay/mikrotik-collector/internal/logging"
	"github.com/tripleplay/mikrotik-collector/internal/otel"
	"github.com/tripleplay/mikrotik-collector/internal/stats"
)

// Config configures a Server. A Config with an empty Addr is replaced
// whole by DefaultConfig(); otherwise every field is used as given.
type Config struct {
	Addr string

	DefaultPingCount       int
	DefaultPingSize        int
	DefaultPingInterval    time.Duration
	DefaultTracerouteCount int

	MaxConcurrentBatch    int
	MaxConcurrentHosts    int
	CacheTTL              time.Duration
	CacheEnabledByDefault bool
	RequestTimeout        time.Duration
}

// DefaultConfig returns the §6 defaults.
func DefaultConfig() Config {
	return Config{
		Addr:                   ":8728",
		DefaultPingCount:       4,
		DefaultPingSize:        64,
		DefaultPingInterval:    time.Second,
		DefaultTracerouteCount: 10,
		MaxConcurrentBatch:     10,
		MaxConcurrentHosts:     10,
		CacheTTL:               5 * time.Minute,
		CacheEnabledByDefault:  false,
		RequestTimeout:         60 * time.Second,
	}
}

// Server is the HTTP front door wiring governor, registry, cache and
// stats together, adapted from controlplane/api.Server's ServeMux +
// chained middleware shape.
type Server struct {
	cfg Config

	registry  *devapi.Registry
	governor  *governor.Governor
	cache     *cache.Cache
	collector *stats.Collector
	metrics   *otel.Metrics
	tracer    *otel.Tracer
	log       *logging.EventLogger

	authMiddleware *auth.Middleware

	mu        sync.Mutex
	server    *http.Server
	listener  net.Listener
	running   bool
	startedAt time.Time
}

// NewServer constructs a Server. authMW may be nil to disable auth
// (equivalent to auth.ModeNone); tracer may be nil to disable tracing.
func NewServer(cfg Config, registry *devapi.Registry, gov *governor.Governor, c *cache.Cache, collector *stats.Collector, metrics *otel.Metrics, tracer *otel.Tracer, authMW *auth.Middleware, log *logging.EventLogger) *Server {
	if cfg.Addr == "" {
		cfg = DefaultConfig()
	}
	if log == nil {
		log = logging.Noop()
	}
	if metrics == nil {
		metrics = otel.NoopMetrics()
	}
	if tracer == nil {
		tracer = otel.NoopTracer()
	}
	return &Server{
		cfg:            cfg,
		registry:       registry,
		governor:       gov,
		cache:          c,
		collector:      collector,
		metrics:        metrics,
		tracer:         tracer,
		log:            log,
		authMiddleware: authMW,
	}
}

// Start builds the route table and begins serving in the background,
// mirroring controlplane/api.Server.Start's mux-then-listen sequence.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("httpapi: server already running")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.wrap(s.handleHealth))
	mux.HandleFunc("/api/v2/mikrotik/ping", s.wrap(s.handlePing))
	mux.HandleFunc("/api/v2/mikrotik/command", s.wrap(s.handleCommand))
	mux.HandleFunc("/api/v2/mikrotik/batch", s.wrap(s.handleBatch))
	mux.HandleFunc("/api/v2/mikrotik/multi-host", s.wrap(s.handleMultiHost))
	mux.HandleFunc("/api/v2/test-connection", s.wrap(s.handleTestConnection))
	mux.HandleFunc("/api/v2/stats", s.wrap(s.handleStats))
	mux.HandleFunc("/api/v2/cache/clear", s.wrap(s.handleCacheClear))

	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("httpapi: listen: %w", err)
	}
	s.listener = listener

	s.server = &http.Server{
		Handler:           mux,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      s.cfg.RequestTimeout + 10*time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.running = true
	s.startedAt = time.Now()

	srv := s.server
	go func() {
		if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.LogServerError("serve", err)
		}
	}()

	return nil
}

// wrap chains request-ID stamping, tracing and the auth middleware (if
// configured) in front of handler, following the
// rbacMiddleware(rateLimitMiddleware(handler)) chaining pattern from the
// teacher.
func (s *Server) wrap(handler http.HandlerFunc) http.HandlerFunc {
	var h http.Handler = handler
	if s.authMiddleware != nil {
		h = s.authMiddleware.Handler(h)
	}
	h = otel.Middleware(s.tracer)(h)
	return requestIDMiddleware(h.ServeHTTP)
}

// Shutdown gracefully stops accepting new connections and waits for
// in-flight requests to finish, then closes every pool in the registry.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	srv := s.server
	s.server = nil
	s.mu.Unlock()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}
	if s.registry != nil {
		s.registry.Close()
	}
	return err
}

// Addr returns the bound address, resolved after Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.cfg.Addr
}
