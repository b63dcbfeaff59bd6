package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/tripleplay/mikrotik-collector/internal/devapi"
)

// maxRequestBodySize caps decoded JSON bodies, mirroring
// controlplane/api.limitedBody's MaxBytesReader guard.
const maxRequestBodySize = 10 * 1024 * 1024

func limitedBody(w http.ResponseWriter, r *http.Request) io.Reader {
	return http.MaxBytesReader(w, r.Body, maxRequestBodySize)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, errResp *ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errResp)
}

func (s *Server) writeMethodNotAllowed(w http.ResponseWriter, method string) {
	w.Header().Set("Allow", "POST")
	s.writeError(w, http.StatusMethodNotAllowed, NewErrorResponse(
		ErrorTypeMethodNotAllow, "METHOD_NOT_ALLOWED", "method not allowed", false,
		map[string]interface{}{"method": method, "allowed": "POST"},
	))
}

func (s *Server) decodeRequest(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(limitedBody(w, r)).Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, NewErrorResponse(
			ErrorTypeBadRequest, "INVALID_JSON", "invalid JSON request body", false,
			map[string]interface{}{"parse_error": err.Error()},
		))
		return false
	}
	return true
}

func (s *Server) badRequest(w http.ResponseWriter, message, field string) {
	s.writeError(w, http.StatusBadRequest, NewErrorResponse(
		ErrorTypeBadRequest, "MISSING_FIELD", message, false,
		map[string]interface{}{"field": field},
	))
}

func now() string { return time.Now().UTC().Format(time.RFC3339) }

func (s *Server) logCompletion(r *http.Request, status int, start time.Time) {
	log := s.log
	if id := requestIDFrom(r.Context()); id != "" {
		log = log.With("request_id", id)
	}
	log.LogRequest(r.Method, r.URL.Path, status, time.Since(start).Milliseconds())
}

// handleHealth serves GET /health: liveness plus top-line counters.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, NewErrorResponse(
			ErrorTypeMethodNotAllow, "METHOD_NOT_ALLOWED", "method not allowed", false,
			map[string]interface{}{"method": r.Method, "allowed": "GET"},
		))
		return
	}

	gs := s.governor.Snapshot()
	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		InFlight:      gs.InFlight,
		TrackedPools:  len(s.registry.Snapshot()),
		Process:       processStats(),
	})
	s.logCompletion(r, http.StatusOK, start)
}

// handlePing serves POST /api/v2/mikrotik/ping: one ping per target,
// fanned out over a single router's session, per §4.4(b)'s "parallel
// ping on one session" model.
func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if r.Method != http.MethodPost {
		s.writeMethodNotAllowed(w, r.Method)
		return
	}

	var req PingRequest
	if !s.decodeRequest(w, r, &req) {
		return
	}
	if req.Host == "" {
		s.badRequest(w, "host is required", "host")
		return
	}
	if req.Username == "" {
		s.badRequest(w, "username is required", "username")
		return
	}
	if len(req.Targets) == 0 {
		s.badRequest(w, "targets must contain at least one address", "targets")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()

	ep := endpointOf(req.Host, req.Port, req.Username, req.Password)
	count := req.Count
	if count <= 0 {
		count = s.cfg.DefaultPingCount
	}
	interval := time.Duration(req.Interval * float64(time.Second))
	if interval <= 0 {
		interval = s.cfg.DefaultPingInterval
	}

	results := s.runPingBatch(ctx, ep, req.Targets, count, req.Size, interval, req.UseCache)
	succeeded, failed := 0, 0
	for _, res := range results {
		if res.Status == ResultStatusSuccess {
			succeeded++
		} else {
			failed++
		}
	}

	total := 0.0
	for _, res := range results {
		if res.ExecutionTimeSeconds > total {
			total = res.ExecutionTimeSeconds
		}
	}

	s.writeJSON(w, http.StatusOK, BatchResponse{
		Status:                    overallStatus(succeeded, failed),
		Method:                    "ping",
		Host:                      req.Host,
		Succeeded:                 succeeded,
		Failed:                    failed,
		Results:                   results,
		TotalExecutionTimeSeconds: round2(total),
		Timestamp:                 now(),
	})
	s.logCompletion(r, http.StatusOK, start)
}

// handleCommand serves POST /api/v2/mikrotik/command: a single generic
// command, dispatched through commandToOperation per §4.4/§4.8.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if r.Method != http.MethodPost {
		s.writeMethodNotAllowed(w, r.Method)
		return
	}

	var req CommandRequest
	if !s.decodeRequest(w, r, &req) {
		return
	}
	if req.Host == "" {
		s.badRequest(w, "host is required", "host")
		return
	}
	if req.Username == "" {
		s.badRequest(w, "username is required", "username")
		return
	}
	if req.Command == "" {
		s.badRequest(w, "command is required", "command")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()

	ep := endpointOf(req.Host, req.Port, req.Username, req.Password)
	op := s.commandToOperation(req.Command, req.Parameters)

	opStart := time.Now()
	data, err := s.runOperation(ctx, ep, op, req.UseCache)
	elapsed := round2(time.Since(opStart).Seconds())

	if err != nil {
		status, errResp := MapError(err)
		s.writeError(w, status, errResp)
		s.logCompletion(r, status, start)
		return
	}

	results := map[string]TargetResult{
		req.Command: {Status: ResultStatusSuccess, Data: data, ExecutionTimeSeconds: elapsed},
	}
	s.writeJSON(w, http.StatusOK, BatchResponse{
		Status:                    ResultStatusSuccess,
		Method:                    "command",
		Host:                      req.Host,
		Succeeded:                 1,
		Failed:                    0,
		Results:                   results,
		TotalExecutionTimeSeconds: elapsed,
		Timestamp:                 now(),
	})
	s.logCompletion(r, http.StatusOK, start)
}

// handleBatch serves POST /api/v2/mikrotik/batch: N commands against one
// router, capped by max_concurrent, per §4.8.
func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if r.Method != http.MethodPost {
		s.writeMethodNotAllowed(w, r.Method)
		return
	}

	var req BatchRequest
	if !s.decodeRequest(w, r, &req) {
		return
	}
	if req.Host == "" {
		s.badRequest(w, "host is required", "host")
		return
	}
	if req.Username == "" {
		s.badRequest(w, "username is required", "username")
		return
	}
	if len(req.Commands) == 0 {
		s.badRequest(w, "commands must contain at least one entry", "commands")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()

	ep := endpointOf(req.Host, req.Port, req.Username, req.Password)
	maxConcurrent := req.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = s.cfg.MaxConcurrentBatch
	}

	results := make(map[string]TargetResult, len(req.Commands))
	var mu sync.Mutex
	succeeded, failed := 0, 0

	fanOut(len(req.Commands), maxConcurrent, func(i int) {
		cmd := req.Commands[i]
		op := s.commandToOperation(cmd.Command, cmd.Parameters)
		opStart := time.Now()
		data, err := s.runOperation(ctx, ep, op, cmd.UseCache)
		elapsed := time.Since(opStart).Seconds()

		key := resultKey(cmd.Command, i)
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			failed++
			_, errResp := MapError(err)
			results[key] = TargetResult{Status: ResultStatusError, Error: errResp.ErrorMessage, ExecutionTimeSeconds: elapsed}
			return
		}
		succeeded++
		results[key] = TargetResult{Status: ResultStatusSuccess, Data: data, ExecutionTimeSeconds: elapsed}
	})

	total := 0.0
	for _, res := range results {
		if res.ExecutionTimeSeconds > total {
			total = res.ExecutionTimeSeconds
		}
	}

	s.writeJSON(w, http.StatusOK, BatchResponse{
		Status:                    overallStatus(succeeded, failed),
		Method:                    "batch",
		Host:                      req.Host,
		Succeeded:                 succeeded,
		Failed:                    failed,
		Results:                   results,
		TotalExecutionTimeSeconds: round2(total),
		Timestamp:                 now(),
	})
	s.logCompletion(r, http.StatusOK, start)
}

// handleMultiHost serves POST /api/v2/mikrotik/multi-host: one command
// across M routers, capped by max_concurrent_hosts, per §4.8.
func (s *Server) handleMultiHost(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if r.Method != http.MethodPost {
		s.writeMethodNotAllowed(w, r.Method)
		return
	}

	var req MultiHostRequest
	if !s.decodeRequest(w, r, &req) {
		return
	}
	if len(req.Hosts) == 0 {
		s.badRequest(w, "hosts must contain at least one entry", "hosts")
		return
	}
	if req.Command == "" {
		s.badRequest(w, "command is required", "command")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()

	maxConcurrent := req.MaxConcurrentHosts
	if maxConcurrent <= 0 {
		maxConcurrent = s.cfg.MaxConcurrentHosts
	}

	results := make(map[string]TargetResult, len(req.Hosts))
	hosts := make([]string, len(req.Hosts))
	var mu sync.Mutex
	succeeded, failed := 0, 0

	fanOut(len(req.Hosts), maxConcurrent, func(i int) {
		target := req.Hosts[i]
		hosts[i] = target.Host
		ep := endpointOf(target.Host, target.Port, target.Username, target.Password)
		op := s.commandToOperation(req.Command, req.Parameters)

		opStart := time.Now()
		data, err := s.runOperation(ctx, ep, op, req.UseCache)
		elapsed := time.Since(opStart).Seconds()

		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			failed++
			_, errResp := MapError(err)
			results[target.Host] = TargetResult{Status: ResultStatusError, Error: errResp.ErrorMessage, ExecutionTimeSeconds: elapsed}
			return
		}
		succeeded++
		results[target.Host] = TargetResult{Status: ResultStatusSuccess, Data: data, ExecutionTimeSeconds: elapsed}
	})

	total := 0.0
	for _, res := range results {
		if res.ExecutionTimeSeconds > total {
			total = res.ExecutionTimeSeconds
		}
	}

	s.writeJSON(w, http.StatusOK, BatchResponse{
		Status:                    overallStatus(succeeded, failed),
		Method:                    "multi-host",
		Hosts:                     hosts,
		Succeeded:                 succeeded,
		Failed:                    failed,
		Results:                   results,
		TotalExecutionTimeSeconds: round2(total),
		Timestamp:                 now(),
	})
	s.logCompletion(r, http.StatusOK, start)
}

// handleTestConnection serves POST /api/v2/test-connection: a cheap
// credential/liveness check using /system/resource/print, per the
// original connector's own test-connection probe.
func (s *Server) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if r.Method != http.MethodPost {
		s.writeMethodNotAllowed(w, r.Method)
		return
	}

	var req TestConnectionRequest
	if !s.decodeRequest(w, r, &req) {
		return
	}
	if req.Host == "" {
		s.badRequest(w, "host is required", "host")
		return
	}
	if req.Username == "" {
		s.badRequest(w, "username is required", "username")
		return
	}

	port := req.Port
	if port == 0 && req.UseSSL {
		port = 8729
	}
	ep := endpointOf(req.Host, port, req.Username, req.Password)

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()

	op := devapi.Operation{Kind: devapi.OpGeneric, Path: "/system/resource/print"}
	opStart := time.Now()
	_, err := s.runOperation(ctx, ep, op, false)
	elapsed := round2(time.Since(opStart).Seconds())

	if err != nil {
		status, errResp := MapError(err)
		s.writeError(w, status, errResp)
		s.logCompletion(r, status, start)
		return
	}

	s.writeJSON(w, http.StatusOK, TestConnectionResponse{
		Status:               ResultStatusSuccess,
		Host:                 req.Host,
		Message:              "credentials accepted",
		ExecutionTimeSeconds: elapsed,
		Timestamp:            now(),
	})
	s.logCompletion(r, http.StatusOK, start)
}

// handleStats serves GET /api/v2/stats: a snapshot of request counters,
// cache effectiveness, pool accounting and governor admission, per §4.9.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, NewErrorResponse(
			ErrorTypeMethodNotAllow, "METHOD_NOT_ALLOWED", "method not allowed", false,
			map[string]interface{}{"method": r.Method, "allowed": "GET"},
		))
		return
	}

	snap := s.collector.Snapshot()
	cacheStats := s.cache.Snapshot()
	pools := s.registry.Snapshot()
	gov := s.governor.Snapshot()

	seenRouters := make(map[string]bool)
	recent := make(map[string]interface{})
	for _, req := range snap.Requests {
		if seenRouters[req.Router] {
			continue
		}
		seenRouters[req.Router] = true
		if errs := s.collector.RecentErrors(req.Router); len(errs) > 0 {
			recent[req.Router] = errs
		}
	}

	s.writeJSON(w, http.StatusOK, StatsResponse{
		Requests:       snap.Requests,
		CacheHits:      snap.CacheHits,
		CacheMisses:    snap.CacheMisses,
		CacheSize:      cacheStats.Size,
		CacheMaxSize:   cacheStats.MaxSize,
		PoolCreated:    snap.PoolCreated,
		PoolReused:     snap.PoolReused,
		PoolFailed:     snap.PoolFailed,
		Pools:          pools,
		GovernorInUse:  gov.InFlight,
		GovernorMax:    gov.MaxConcurrent,
		GovernorRouted: gov.TrackedRouters,
		Admitted:       gov.Admitted,
		Rejected:       gov.Rejected,
		RecentErrors:   recent,
	})
	s.logCompletion(r, http.StatusOK, start)
}

// handleCacheClear serves POST /api/v2/cache/clear: flushes the
// fingerprint cache, per §4.8.
func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if r.Method != http.MethodPost {
		s.writeMethodNotAllowed(w, r.Method)
		return
	}

	cleared := s.cache.Clear()
	s.writeJSON(w, http.StatusOK, CacheClearResponse{Status: "ok", Cleared: cleared})
	s.logCompletion(r, http.StatusOK, start)
}

func overallStatus(succeeded, failed int) string {
	if failed == 0 {
		return ResultStatusSuccess
	}
	if succeeded == 0 {
		return ResultStatusError
	}
	return "partial"
}

func resultKey(command string, index int) string {
	return command + "#" + itoa(index)
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var buf [20]byte
	pos := len(buf)
	neg := i < 0
	if neg {
		i = -i
	}
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

func round2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}
