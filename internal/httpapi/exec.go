package httpapi

import (
	"context"
	"sync"
	"time"

	"github.com/tripleplay/mikrotik-collector/internal/cache"
	"github.com/tripleplay/mikrotik-collector/internal/devapi"
	"github.com/tripleplay/mikrotik-collector/internal/normalize"
	"github.com/tripleplay/mikrotik-collector/internal/otel"
)

const defaultPort = 8728

// endpointOf builds a devapi.Endpoint, applying the default RouterOS API
// port when the caller did not supply one.
func endpointOf(host string, port int, username, password string) devapi.Endpoint {
	if port == 0 {
		port = defaultPort
	}
	return devapi.Endpoint{Host: host, Port: port, Username: username, Password: password}
}

// operationName returns the stats/cache label for op, preferring the
// generic path when set.
func operationName(op devapi.Operation) string {
	switch op.Kind {
	case devapi.OpPing:
		return "ping"
	case devapi.OpTraceroute:
		return "traceroute"
	default:
		return op.Path
	}
}

// fingerprintOf builds the cache key for op against ep, per §4.6.
func fingerprintOf(ep devapi.Endpoint, op devapi.Operation) string {
	return cache.Fingerprint(ep.Host, ep.Port, operationName(op), op.Target, op.Count, op.Size, op.Interval.Seconds(), op.Attrs)
}

// runOperation executes op against ep, applying the fingerprint cache
// when useCache is set and recording request/cache stats, following the
// governor-acquire -> pool-acquire -> adapter-execute -> release sequence
// of §4.4/§4.7.
func (s *Server) runOperation(ctx context.Context, ep devapi.Endpoint, op devapi.Operation, useCache bool) (interface{}, error) {
	router := ep.Key().String()
	operation := operationName(op)

	var key string
	if useCache {
		key = fingerprintOf(ep, op)
		if v, ok := s.cache.Get(key); ok {
			s.collector.RecordCacheHit()
			s.log.LogCacheHit(key)
			return v, nil
		}
		s.collector.RecordCacheMiss()
		s.log.LogCacheMiss(key)
	}

	spanCtx, span := s.tracer.StartOperationSpan(ctx, otel.OperationSpanOptions{
		Router:    router,
		Operation: operation,
	})
	start := time.Now()
	data, err := s.execute(spanCtx, ep, op)
	duration := time.Since(start)
	if err != nil {
		otel.RecordError(span, err, "device_error", false)
	}
	span.End()

	s.collector.RecordRequest(router, operation, duration, err)
	s.metrics.RecordCommandLatency(ctx, operation, router, float64(duration.Milliseconds()), err == nil)
	if err != nil {
		s.metrics.RecordDeviceError(ctx, operation)
		return nil, err
	}

	if useCache {
		s.cache.Put(key, data, s.cfg.CacheTTL)
	}
	return data, nil
}

// execute runs op against ep with no caching, acquiring the governor
// lease and a pooled session for the duration of the call.
func (s *Server) execute(ctx context.Context, ep devapi.Endpoint, op devapi.Operation) (interface{}, error) {
	routerKey := ep.Key().String()

	lease, err := s.governor.Acquire(ctx, routerKey)
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	pool := s.registry.PoolFor(ep)
	session, err := pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer pool.Release(session)

	return s.executeOnSession(ctx, session, op)
}

// executeOnSession runs op against an already-acquired session and
// normalizes its result. The caller owns the session's pool membership
// and any governor lease for the duration of this call.
func (s *Server) executeOnSession(ctx context.Context, session *devapi.Session, op devapi.Operation) (interface{}, error) {
	outcome, err := devapi.Execute(ctx, session, op)
	if err != nil {
		return nil, err
	}

	switch op.Kind {
	case devapi.OpPing:
		return normalize.Ping(outcome.Records), nil
	case devapi.OpTraceroute:
		return normalize.Traceroute(op.Target, outcome.Records), nil
	default:
		return outcome.Records, nil
	}
}

// runPingBatch executes one ping per target, multiplexed as distinct
// tagged calls over a single pooled session per §4.4's "parallel ping on
// one session" requirement: only one session is acquired for the whole
// batch, so wall time is bounded by the slowest target instead of N
// sequential pool acquisitions. Caching and governor admission stay
// per-target; only the session itself is shared.
func (s *Server) runPingBatch(ctx context.Context, ep devapi.Endpoint, targets []string, count, size int, interval time.Duration, useCache bool) map[string]TargetResult {
	router := ep.Key().String()
	results := make(map[string]TargetResult, len(targets))
	var mu sync.Mutex

	type pendingPing struct {
		target string
		op     devapi.Operation
		key    string
	}
	var toRun []pendingPing
	for _, target := range targets {
		op := devapi.Operation{Kind: devapi.OpPing, Target: target, Count: count, Size: size, Interval: interval}
		if useCache {
			key := fingerprintOf(ep, op)
			if v, ok := s.cache.Get(key); ok {
				s.collector.RecordCacheHit()
				s.log.LogCacheHit(key)
				results[target] = TargetResult{Status: ResultStatusSuccess, Data: v}
				continue
			}
			s.collector.RecordCacheMiss()
			s.log.LogCacheMiss(key)
			toRun = append(toRun, pendingPing{target, op, key})
			continue
		}
		toRun = append(toRun, pendingPing{target, op, ""})
	}
	if len(toRun) == 0 {
		return results
	}

	pool := s.registry.PoolFor(ep)
	session, err := pool.Acquire(ctx)
	if err != nil {
		_, errResp := MapError(err)
		for _, p := range toRun {
			results[p.target] = TargetResult{Status: ResultStatusError, Error: errResp.ErrorMessage}
		}
		return results
	}
	defer pool.Release(session)

	fanOut(len(toRun), len(toRun), func(i int) {
		p := toRun[i]
		opStart := time.Now()

		lease, err := s.governor.Acquire(ctx, router)
		if err != nil {
			mu.Lock()
			_, errResp := MapError(err)
			results[p.target] = TargetResult{Status: ResultStatusError, Error: errResp.ErrorMessage}
			mu.Unlock()
			return
		}

		spanCtx, span := s.tracer.StartOperationSpan(ctx, otel.OperationSpanOptions{Router: router, Operation: "ping"})
		data, err := s.executeOnSession(spanCtx, session, p.op)
		duration := time.Since(opStart)
		if err != nil {
			otel.RecordError(span, err, "device_error", false)
		}
		span.End()
		lease.Release()

		s.collector.RecordRequest(router, "ping", duration, err)
		s.metrics.RecordCommandLatency(ctx, "ping", router, float64(duration.Milliseconds()), err == nil)

		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			s.metrics.RecordDeviceError(ctx, "ping")
			_, errResp := MapError(err)
			results[p.target] = TargetResult{Status: ResultStatusError, Error: errResp.ErrorMessage, ExecutionTimeSeconds: duration.Seconds()}
			return
		}
		if useCache {
			s.cache.Put(p.key, data, s.cfg.CacheTTL)
		}
		results[p.target] = TargetResult{Status: ResultStatusSuccess, Data: data, ExecutionTimeSeconds: duration.Seconds()}
	})

	return results
}

// fanOut runs fn once per index in [0, n) with at most maxConcurrent
// running at a time, blocking until every call has returned. Grounded on
// the scheduler allocator's per-key semaphore-acquisition shape (C7),
// adapted here to bound one request's own fan-out rather than a shared
// cross-request budget.
func fanOut(n, maxConcurrent int, fn func(i int)) {
	if maxConcurrent <= 0 || maxConcurrent > n {
		maxConcurrent = n
	}
	if maxConcurrent <= 0 {
		return
	}

	sem := make(chan struct{}, maxConcurrent)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			fn(i)
		}(i)
	}
	wg.Wait()
}
