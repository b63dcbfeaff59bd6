// Package logging provides structured event logging for the collector,
// following the fixed-attribute slog.Logger pattern used throughout this
// codebase's ancestor (one JSON handler, a small set of named LogXxx
// methods per notable lifecycle event).
package logging

import (
	"io"
	"log/slog"
	"os"
	"sync"
)

// EventLogger logs notable collector events (session lifecycle, pool
// pressure, cache activity) with structured JSON output.
type EventLogger struct {
	logger *slog.Logger
}

// New creates an EventLogger writing JSON to stdout at the given level.
func New(level slog.Level) *EventLogger {
	return NewWithWriter(os.Stdout, level)
}

// NewWithWriter creates an EventLogger writing to an arbitrary writer,
// primarily for tests.
func NewWithWriter(w io.Writer, level slog.Level) *EventLogger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return &EventLogger{logger: slog.New(handler)}
}

// With returns a derived EventLogger carrying additional fixed attributes,
// e.g. the router pool-key, for the lifetime of a request or pool.
func (l *EventLogger) With(args ...any) *EventLogger {
	return &EventLogger{logger: l.logger.With(args...)}
}

// LogSessionCreated logs when a new device session is dialed and logged in.
func (l *EventLogger) LogSessionCreated(router, sessionID string) {
	l.logger.Info("session_created", "router", router, "session_id", sessionID)
}

// LogSessionDead logs when a session transitions to Dead.
func (l *EventLogger) LogSessionDead(router, sessionID, reason string) {
	l.logger.Warn("session_dead", "router", router, "session_id", sessionID, "reason", reason)
}

// LogSessionEvicted logs when the janitor removes an idle or dead session.
func (l *EventLogger) LogSessionEvicted(router, sessionID, reason string, idleMs int64) {
	l.logger.Info("session_evicted", "router", router, "session_id", sessionID, "reason", reason, "idle_ms", idleMs)
}

// LogAuthFailure logs a failed login attempt.
func (l *EventLogger) LogAuthFailure(router, user string, err error) {
	l.logger.Error("auth_failure", "router", router, "user", user, "error", err.Error())
}

// LogPoolExhausted logs when a caller could not acquire a session within its deadline.
func (l *EventLogger) LogPoolExhausted(router string, waited int64) {
	l.logger.Warn("pool_exhausted", "router", router, "waited_ms", waited)
}

// LogCacheHit logs a fingerprint cache hit.
func (l *EventLogger) LogCacheHit(key string) {
	l.logger.Debug("cache_hit", "key", key)
}

// LogCacheMiss logs a fingerprint cache miss.
func (l *EventLogger) LogCacheMiss(key string) {
	l.logger.Debug("cache_miss", "key", key)
}

// LogDeviceError logs a !trap/!fatal reply from a device.
func (l *EventLogger) LogDeviceError(router, op, message string) {
	l.logger.Warn("device_error", "router", router, "op", op, "message", message)
}

// LogRequest logs completion of an HTTP request.
func (l *EventLogger) LogRequest(method, path string, status int, durationMs int64) {
	l.logger.Info("http_request", "method", method, "path", path, "status", status, "duration_ms", durationMs)
}

// LogServerError logs an unrecoverable error from the HTTP listener or
// its background goroutines.
func (l *EventLogger) LogServerError(context string, err error) {
	l.logger.Error("server_error", "context", context, "error", err.Error())
}

var (
	globalMu     sync.RWMutex
	globalLogger *EventLogger
)

// SetGlobal installs the process-wide EventLogger.
func SetGlobal(l *EventLogger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = l
}

// Global returns the process-wide EventLogger, defaulting to a no-op logger.
func Global() *EventLogger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalLogger != nil {
		return globalLogger
	}
	return Noop()
}

// Noop returns an EventLogger that discards everything, for tests.
func Noop() *EventLogger {
	return NewWithWriter(io.Discard, slog.LevelInfo)
}
