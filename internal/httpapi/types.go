// Package httpapi exposes the collector's HTTP surface (C8): ping,
// generic command, batch, multi-host fan-out, test-connection, stats and
// cache admin endpoints, adapted from controlplane/api's ServeMux +
// chained-middleware routing and its ErrorResponse envelope.
package httpapi

// ErrorResponse is the standard error body for every non-2xx response,
// mirroring controlplane/api.ErrorResponse's envelope shape.
type ErrorResponse struct {
	ErrorType    string                 `json:"error_type"`
	ErrorCode    string                 `json:"error_code"`
	ErrorMessage string                 `json:"error_message"`
	Retryable    bool                   `json:"retryable"`
	Details      map[string]interface{} `json:"details,omitempty"`
}

// NewErrorResponse builds an ErrorResponse.
func NewErrorResponse(errorType, errorCode, message string, retryable bool, details map[string]interface{}) *ErrorResponse {
	return &ErrorResponse{
		ErrorType:    errorType,
		ErrorCode:    errorCode,
		ErrorMessage: message,
		Retryable:    retryable,
		Details:      details,
	}
}

// Error type constants, one per §7 taxonomy entry.
const (
	ErrorTypeBadRequest     = "bad_request"
	ErrorTypeAuthError      = "auth_error"
	ErrorTypeDeviceError    = "device_error"
	ErrorTypeWireError      = "wire_error"
	ErrorTypePoolExhausted  = "pool_exhausted"
	ErrorTypeBusy           = "busy"
	ErrorTypeTimeout        = "timeout"
	ErrorTypeInternal       = "internal"
	ErrorTypeUnauthorized   = "unauthorized"
	ErrorTypeForbidden      = "forbidden"
	ErrorTypeMethodNotAllow = "method_not_allowed"
)

// HealthResponse is the body for GET /health.
type HealthResponse struct {
	Status        string       `json:"status"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	InFlight      int          `json:"in_flight"`
	TrackedPools  int          `json:"tracked_pools"`
	Process       ProcessStats `json:"process"`
}

// ProcessStats is the collector's own resource footprint, following
// cmd/agent's gopsutil-based host/process sampling.
type ProcessStats struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemRSSMB   float64 `json:"mem_rss_mb"`
	NumThreads int     `json:"num_threads"`
}

// PingRequest is the body for POST /api/v2/mikrotik/ping.
type PingRequest struct {
	Host     string   `json:"host"`
	Port     int      `json:"port,omitempty"`
	Username string   `json:"username"`
	Password string   `json:"password"`
	Targets  []string `json:"targets"`
	Count    int      `json:"count,omitempty"`
	Size     int      `json:"size,omitempty"`
	Interval float64  `json:"interval,omitempty"`
	UseCache bool     `json:"use_cache,omitempty"`
}

// CommandRequest is the body for POST /api/v2/mikrotik/command.
type CommandRequest struct {
	Host       string            `json:"host"`
	Port       int               `json:"port,omitempty"`
	Username   string            `json:"username"`
	Password   string            `json:"password"`
	Command    string            `json:"command"`
	Parameters map[string]string `json:"parameters,omitempty"`
	UseCache   bool              `json:"use_cache,omitempty"`
}

// BatchCommand is one command within a POST /api/v2/mikrotik/batch request.
type BatchCommand struct {
	Command    string            `json:"command"`
	Parameters map[string]string `json:"parameters,omitempty"`
	UseCache   bool              `json:"use_cache,omitempty"`
}

// BatchRequest is the body for POST /api/v2/mikrotik/batch.
type BatchRequest struct {
	Host          string         `json:"host"`
	Port          int            `json:"port,omitempty"`
	Username      string         `json:"username"`
	Password      string         `json:"password"`
	Commands      []BatchCommand `json:"commands"`
	MaxConcurrent int            `json:"max_concurrent,omitempty"`
}

// MultiHostTarget identifies one router within a multi-host request.
type MultiHostTarget struct {
	Host     string `json:"host"`
	Port     int    `json:"port,omitempty"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// MultiHostRequest is the body for POST /api/v2/mikrotik/multi-host.
type MultiHostRequest struct {
	Hosts              []MultiHostTarget `json:"hosts"`
	Command            string            `json:"command"`
	Parameters         map[string]string `json:"parameters,omitempty"`
	MaxConcurrentHosts int               `json:"max_concurrent_hosts,omitempty"`
	UseCache           bool              `json:"use_cache,omitempty"`
}

// TestConnectionRequest is the body for POST /api/v2/test-connection.
type TestConnectionRequest struct {
	Host     string `json:"host"`
	Port     int    `json:"port,omitempty"`
	Username string `json:"username"`
	Password string `json:"password"`
	UseSSL   bool   `json:"use_ssl,omitempty"`
}

// TestConnectionResponse is the body for a successful test-connection call.
type TestConnectionResponse struct {
	Status               string  `json:"status"`
	Host                 string  `json:"host"`
	Message              string  `json:"message"`
	ExecutionTimeSeconds float64 `json:"execution_time_seconds"`
	Timestamp            string  `json:"timestamp"`
}

// TargetResult is one entry of a batch-shaped response's results map, per
// §4.8's "Response envelope (batch)".
type TargetResult struct {
	Status               string      `json:"status"`
	Data                 interface{} `json:"data,omitempty"`
	Error                string      `json:"error,omitempty"`
	ExecutionTimeSeconds float64     `json:"execution_time_seconds"`
}

const (
	ResultStatusSuccess = "success"
	ResultStatusError   = "error"
)

// BatchResponse is the shared envelope for ping/command/batch/multi-host,
// per §4.8: "{status, method, host|hosts, <counts>, results, timestamp}".
type BatchResponse struct {
	Status                    string                  `json:"status"`
	Method                    string                  `json:"method"`
	Host                      string                  `json:"host,omitempty"`
	Hosts                     []string                `json:"hosts,omitempty"`
	Succeeded                 int                     `json:"succeeded"`
	Failed                    int                     `json:"failed"`
	Results                   map[string]TargetResult `json:"results"`
	TotalExecutionTimeSeconds float64                 `json:"total_execution_time_seconds"`
	Timestamp                 string                  `json:"timestamp"`
}

// CacheClearResponse is the body for POST /api/v2/cache/clear.
type CacheClearResponse struct {
	Status  string `json:"status"`
	Cleared int    `json:"cleared"`
}

// StatsResponse is the body for GET /api/v2/stats.
type StatsResponse struct {
	Requests       interface{} `json:"requests"`
	CacheHits      int64       `json:"cache_hits"`
	CacheMisses    int64       `json:"cache_misses"`
	CacheSize      int         `json:"cache_size"`
	CacheMaxSize   int         `json:"cache_max_size"`
	PoolCreated    int64       `json:"pool_created"`
	PoolReused     int64       `json:"pool_reused"`
	PoolFailed     int64       `json:"pool_failed"`
	Pools          interface{} `json:"pools"`
	GovernorInUse  int         `json:"governor_in_flight"`
	GovernorMax    int         `json:"governor_max_concurrent"`
	GovernorRouted int         `json:"governor_tracked_routers"`
	Admitted       int64       `json:"governor_admitted"`
	Rejected       int64       `json:"governor_rejected"`
	RecentErrors   interface{} `json:"recent_errors,omitempty"`
}
