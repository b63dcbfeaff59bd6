// Package stats collects operational metrics (C9): counters and duration
// sums/counts per router/operation, a Prometheus text exposition renderer
// (Expose), and a bounded per-router recent-error ring buffer. The
// cached-maps-under-one-RWMutex shape is adapted from the ancestor
// metrics Collector; OTel export is layered on top for anyone scraping
// via an OTLP collector instead of /api/v2/stats.
package stats

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

type opKey struct {
	router    string
	operation string
}

type histogramData struct {
	sum   float64
	count int64
}

// Collector accumulates per-router, per-operation counters and timing
// data. Safe for concurrent use.
//
// Lock strategy: a single RWMutex guards every map. Contention under
// load is acceptable here — writes are short (map update, ring buffer
// push) and reads happen only on the low-frequency Snapshot and Expose
// paths.
type Collector struct {
	mu sync.RWMutex

	requestCounts    map[opKey]int64
	requestErrors    map[opKey]int64
	requestDurations map[opKey]*histogramData

	cacheHits   int64
	cacheMisses int64

	poolCreated int64
	poolReused  int64
	poolFailed  int64

	recentErrors map[string]*errorRing

	nowFunc func() time.Time
}

// New constructs an empty Collector.
func New() *Collector {
	return &Collector{
		requestCounts:    make(map[opKey]int64),
		requestErrors:    make(map[opKey]int64),
		requestDurations: make(map[opKey]*histogramData),
		recentErrors:     make(map[string]*errorRing),
		nowFunc:          time.Now,
	}
}

// RecordRequest records one completed device command: its router,
// operation kind, wall-clock duration, and whether it succeeded.
func (c *Collector) RecordRequest(router, operation string, duration time.Duration, err error) {
	key := opKey{router: router, operation: operation}

	c.mu.Lock()
	c.requestCounts[key]++
	if c.requestDurations[key] == nil {
		c.requestDurations[key] = &histogramData{}
	}
	c.requestDurations[key].sum += duration.Seconds()
	c.requestDurations[key].count++
	if err != nil {
		c.requestErrors[key]++
		c.errorRingFor(router).push(c.nowFunc(), operation, err.Error())
	}
	c.mu.Unlock()
}

// RecordCacheHit and RecordCacheMiss tally cache effectiveness.
func (c *Collector) RecordCacheHit() {
	c.mu.Lock()
	c.cacheHits++
	c.mu.Unlock()
}

func (c *Collector) RecordCacheMiss() {
	c.mu.Lock()
	c.cacheMisses++
	c.mu.Unlock()
}

// RecordPoolEvent tallies connection pool lifecycle events.
func (c *Collector) RecordPoolEvent(created, reused, failed int64) {
	c.mu.Lock()
	c.poolCreated += created
	c.poolReused += reused
	c.poolFailed += failed
	c.mu.Unlock()
}

// errorRingFor must be called with mu held.
func (c *Collector) errorRingFor(router string) *errorRing {
	r, ok := c.recentErrors[router]
	if !ok {
		r = newErrorRing(recentErrorCapacity)
		c.recentErrors[router] = r
	}
	return r
}

// RecentErrors returns the most recent errors recorded for router, most
// recent first.
func (c *Collector) RecentErrors(router string) []ErrorRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.recentErrors[router]
	if !ok {
		return nil
	}
	return r.snapshot()
}

// Snapshot is a JSON-friendly summary of all collected stats, used by
// the /api/v2/stats endpoint.
type Snapshot struct {
	Requests    []RequestStat `json:"requests"`
	CacheHits   int64         `json:"cache_hits"`
	CacheMisses int64         `json:"cache_misses"`
	PoolCreated int64         `json:"pool_created"`
	PoolReused  int64         `json:"pool_reused"`
	PoolFailed  int64         `json:"pool_failed"`
}

// RequestStat summarizes one (router, operation) pair's activity.
type RequestStat struct {
	Router      string  `json:"router"`
	Operation   string  `json:"operation"`
	Count       int64   `json:"count"`
	Errors      int64   `json:"errors"`
	AvgDuration float64 `json:"avg_duration_seconds"`
}

// Snapshot returns a point-in-time copy of all collected stats.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := Snapshot{
		CacheHits:   c.cacheHits,
		CacheMisses: c.cacheMisses,
		PoolCreated: c.poolCreated,
		PoolReused:  c.poolReused,
		PoolFailed:  c.poolFailed,
	}

	for key, count := range c.requestCounts {
		hist := c.requestDurations[key]
		avg := 0.0
		if hist != nil && hist.count > 0 {
			avg = hist.sum / float64(hist.count)
		}
		out.Requests = append(out.Requests, RequestStat{
			Router:      key.router,
			Operation:   key.operation,
			Count:       count,
			Errors:      c.requestErrors[key],
			AvgDuration: avg,
		})
	}
	sort.Slice(out.Requests, func(i, j int) bool {
		if out.Requests[i].Router != out.Requests[j].Router {
			return out.Requests[i].Router < out.Requests[j].Router
		}
		return out.Requests[i].Operation < out.Requests[j].Operation
	})

	return out
}

// Expose renders all collected stats in Prometheus text exposition
// format.
func (c *Collector) Expose() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var sb strings.Builder
	ts := c.nowFunc().UnixMilli()

	c.writeRequestsTotal(&sb, ts)
	c.writeRequestErrors(&sb, ts)
	c.writeRequestDuration(&sb, ts)
	c.writeCacheCounters(&sb, ts)
	c.writePoolCounters(&sb, ts)

	return sb.String()
}

func (c *Collector) writeRequestsTotal(sb *strings.Builder, ts int64) {
	sb.WriteString("# HELP mikrotik_collector_requests_total Total device commands executed\n")
	sb.WriteString("# TYPE mikrotik_collector_requests_total counter\n")
	for _, key := range c.sortedOpKeys() {
		fmt.Fprintf(sb, "mikrotik_collector_requests_total{router=%q,operation=%q} %d %d\n",
			key.router, key.operation, c.requestCounts[key], ts)
	}
}

func (c *Collector) writeRequestErrors(sb *strings.Builder, ts int64) {
	sb.WriteString("# HELP mikrotik_collector_request_errors_total Device commands that failed\n")
	sb.WriteString("# TYPE mikrotik_collector_request_errors_total counter\n")
	for _, key := range c.sortedOpKeys() {
		if n := c.requestErrors[key]; n > 0 {
			fmt.Fprintf(sb, "mikrotik_collector_request_errors_total{router=%q,operation=%q} %d %d\n",
				key.router, key.operation, n, ts)
		}
	}
}

func (c *Collector) writeRequestDuration(sb *strings.Builder, ts int64) {
	sb.WriteString("# HELP mikrotik_collector_request_duration_seconds Device command duration\n")
	sb.WriteString("# TYPE mikrotik_collector_request_duration_seconds histogram\n")
	for _, key := range c.sortedOpKeys() {
		h := c.requestDurations[key]
		if h == nil {
			continue
		}
		fmt.Fprintf(sb, "mikrotik_collector_request_duration_seconds_sum{router=%q,operation=%q} %f %d\n",
			key.router, key.operation, h.sum, ts)
		fmt.Fprintf(sb, "mikrotik_collector_request_duration_seconds_count{router=%q,operation=%q} %d %d\n",
			key.router, key.operation, h.count, ts)
	}
}

func (c *Collector) writeCacheCounters(sb *strings.Builder, ts int64) {
	sb.WriteString("# HELP mikrotik_collector_cache_hits_total Fingerprint cache hits\n")
	sb.WriteString("# TYPE mikrotik_collector_cache_hits_total counter\n")
	fmt.Fprintf(sb, "mikrotik_collector_cache_hits_total %d %d\n", c.cacheHits, ts)
	sb.WriteString("# HELP mikrotik_collector_cache_misses_total Fingerprint cache misses\n")
	sb.WriteString("# TYPE mikrotik_collector_cache_misses_total counter\n")
	fmt.Fprintf(sb, "mikrotik_collector_cache_misses_total %d %d\n", c.cacheMisses, ts)
}

func (c *Collector) writePoolCounters(sb *strings.Builder, ts int64) {
	sb.WriteString("# HELP mikrotik_collector_pool_sessions_total Session pool lifecycle events\n")
	sb.WriteString("# TYPE mikrotik_collector_pool_sessions_total counter\n")
	fmt.Fprintf(sb, "mikrotik_collector_pool_sessions_total{event=\"created\"} %d %d\n", c.poolCreated, ts)
	fmt.Fprintf(sb, "mikrotik_collector_pool_sessions_total{event=\"reused\"} %d %d\n", c.poolReused, ts)
	fmt.Fprintf(sb, "mikrotik_collector_pool_sessions_total{event=\"failed\"} %d %d\n", c.poolFailed, ts)
}

// sortedOpKeys must be called with mu held (read or write).
func (c *Collector) sortedOpKeys() []opKey {
	keys := make([]opKey, 0, len(c.requestCounts))
	for k := range c.requestCounts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].router != keys[j].router {
			return keys[i].router < keys[j].router
		}
		return keys[i].operation < keys[j].operation
	})
	return keys
}
