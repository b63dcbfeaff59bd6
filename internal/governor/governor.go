// Package governor implements the concurrency governor (C7): a global
// cap on in-flight device commands plus a per-router concurrency cap,
// both consulted before a caller ever touches the connection pool. Both
// layers are counting semaphores built on the same buffered-channel
// idiom, adapted from the HTTP control plane's hand-rolled rate limiter
// — the per-client bucket map with TTL eviction is kept, its buckets
// now holding a per-router admission channel instead of a token bucket.
package governor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultMaxRouters             = 10000
	defaultRouterTTL              = 10 * time.Minute
	defaultCleanupInterval        = time.Minute
	defaultMaxConcurrentCommands  = 50  // global in-flight cap, process-wide
	defaultPerRouterMaxConcurrent = 200 // per-router in-flight cap
)

// errString lets sentinel errors be declared as untyped constants.
type errString string

func (e errString) Error() string { return string(e) }

const (
	// ErrGlobalCapExceeded is returned when the global in-flight command
	// cap is already saturated. Callers map this to a 429-class response.
	ErrGlobalCapExceeded = errString("governor: global concurrency cap exceeded")

	// ErrRouterCapExceeded is returned when a router's own in-flight
	// command cap is already saturated, independent of global capacity.
	ErrRouterCapExceeded = errString("governor: per-router concurrency cap exceeded")
)

// Config controls the governor's global and per-router concurrency caps.
type Config struct {
	// MaxConcurrentCommands bounds the number of commands in flight
	// across all routers at once — the process-wide worker limit.
	MaxConcurrentCommands int

	// PerRouterMaxConcurrent bounds the number of commands in flight
	// against any single router at once, independent of the global cap.
	PerRouterMaxConcurrent int

	// MaxRouters bounds the number of per-router semaphore entries kept
	// alive; RouterTTL controls how long an idle entry survives before
	// the periodic cleanup reclaims it.
	MaxRouters      int
	RouterTTL       time.Duration
	CleanupInterval time.Duration
}

// DefaultConfig returns conservative defaults suitable for a small
// monitoring fleet.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentCommands:  defaultMaxConcurrentCommands,
		PerRouterMaxConcurrent: defaultPerRouterMaxConcurrent,
		MaxRouters:             defaultMaxRouters,
		RouterTTL:              defaultRouterTTL,
		CleanupInterval:        defaultCleanupInterval,
	}
}

type routerSemaphore struct {
	sem      chan struct{}
	lastSeen time.Time
}

// Governor admits or rejects device commands before they reach the
// connection pool, enforcing both a global concurrency cap and a
// per-router concurrency cap.
type Governor struct {
	cfg Config

	global chan struct{}

	mu          sync.Mutex
	routers     map[string]*routerSemaphore
	lastCleanup time.Time

	admitted atomic.Int64
	rejected atomic.Int64
}

// New constructs a Governor. A zero Config falls back to DefaultConfig.
func New(cfg Config) *Governor {
	if cfg.MaxConcurrentCommands <= 0 {
		cfg.MaxConcurrentCommands = defaultMaxConcurrentCommands
	}
	if cfg.PerRouterMaxConcurrent <= 0 {
		cfg.PerRouterMaxConcurrent = defaultPerRouterMaxConcurrent
	}
	if cfg.MaxRouters <= 0 {
		cfg.MaxRouters = defaultMaxRouters
	}
	if cfg.RouterTTL <= 0 {
		cfg.RouterTTL = defaultRouterTTL
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = defaultCleanupInterval
	}

	return &Governor{
		cfg:         cfg,
		global:      make(chan struct{}, cfg.MaxConcurrentCommands),
		routers:     make(map[string]*routerSemaphore),
		lastCleanup: time.Now(),
	}
}

// Lease represents one admitted command's hold on governor capacity. It
// must be released exactly once, after the command completes, so that
// resources unwind in strict reverse order: release the lease only
// after the pooled session has been released and any tag abandoned.
type Lease struct {
	g         *Governor
	routerSem chan struct{}
}

// Release frees the per-router and global concurrency slots held by this
// lease.
func (l *Lease) Release() {
	if l == nil || l.g == nil {
		return
	}
	<-l.routerSem
	<-l.g.global
}

// Acquire admits a command for routerKey. It fails fast with
// ErrGlobalCapExceeded if the global cap is saturated, or with
// ErrRouterCapExceeded if the router's own concurrency cap is saturated —
// in both cases without blocking, so callers can return a 429-class
// response immediately rather than queuing. A ctx that is already done
// when Acquire runs returns ctx.Err(); Acquire never waits for a slot.
func (g *Governor) Acquire(ctx context.Context, routerKey string) (*Lease, error) {
	select {
	case g.global <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
		g.rejected.Add(1)
		return nil, ErrGlobalCapExceeded
	}

	routerSem := g.routerSemaphoreFor(routerKey)
	select {
	case routerSem <- struct{}{}:
	case <-ctx.Done():
		<-g.global
		return nil, ctx.Err()
	default:
		<-g.global
		g.rejected.Add(1)
		return nil, ErrRouterCapExceeded
	}

	g.admitted.Add(1)
	return &Lease{g: g, routerSem: routerSem}, nil
}

func (g *Governor) routerSemaphoreFor(key string) chan struct{} {
	if key == "" {
		key = "unknown"
	}
	now := time.Now()

	g.mu.Lock()
	defer g.mu.Unlock()

	g.cleanupLocked(now)

	b, ok := g.routers[key]
	if !ok {
		if len(g.routers) >= g.cfg.MaxRouters {
			g.evictOldestLocked()
		}
		b = &routerSemaphore{sem: make(chan struct{}, g.cfg.PerRouterMaxConcurrent)}
		g.routers[key] = b
	}
	b.lastSeen = now
	return b.sem
}

func (g *Governor) cleanupLocked(now time.Time) {
	if now.Sub(g.lastCleanup) < g.cfg.CleanupInterval {
		return
	}
	g.lastCleanup = now
	for k, b := range g.routers {
		if now.Sub(b.lastSeen) > g.cfg.RouterTTL {
			delete(g.routers, k)
		}
	}
}

func (g *Governor) evictOldestLocked() {
	var oldestKey string
	var oldestSeen time.Time
	first := true
	for k, b := range g.routers {
		if first || b.lastSeen.Before(oldestSeen) {
			oldestKey, oldestSeen, first = k, b.lastSeen, false
		}
	}
	if oldestKey != "" {
		delete(g.routers, oldestKey)
	}
}

// Stats is a point-in-time snapshot of admission counters.
type Stats struct {
	InFlight       int   `json:"in_flight"`
	MaxConcurrent  int   `json:"max_concurrent"`
	TrackedRouters int   `json:"tracked_routers"`
	Admitted       int64 `json:"admitted"`
	Rejected       int64 `json:"rejected"`
}

// Snapshot reports current admission state.
func (g *Governor) Snapshot() Stats {
	g.mu.Lock()
	tracked := len(g.routers)
	g.mu.Unlock()

	return Stats{
		InFlight:       len(g.global),
		MaxConcurrent:  g.cfg.MaxConcurrentCommands,
		TrackedRouters: tracked,
		Admitted:       g.admitted.Load(),
		Rejected:       g.rejected.Load(),
	}
}
