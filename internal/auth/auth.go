// Package auth gates the collector's HTTP surface behind a shared API
// key, per §6's ENABLE_AUTH/API_KEY option — the collector authenticates
// the caller of its own API, not the RouterOS devices it polls (those
// carry their own username/password in each request body).
package auth

import "context"

// Mode selects how requests reaching the collector's HTTP surface are
// authenticated.
type Mode string

const (
	// ModeNone disables authentication (the default).
	ModeNone Mode = "none"
	// ModeAPIKey requires a shared API key on every non-exempt request.
	ModeAPIKey Mode = "api_key"
)

// Config holds authentication configuration.
type Config struct {
	// Mode is the authentication mode (none, api_key).
	Mode Mode `json:"mode"`
	// APIKeys is the set of accepted shared keys for ModeAPIKey. Any one
	// of them authenticates any caller; the collector has no per-caller
	// roles or scopes to distinguish between them.
	APIKeys []string `json:"-"`
	// SkipPaths are paths exempt from authentication. /health is always
	// exempt regardless of this list, so liveness probes never need a key.
	SkipPaths []string `json:"skip_paths,omitempty"`
}

// DefaultConfig returns a default configuration with auth disabled.
func DefaultConfig() *Config {
	return &Config{
		Mode:      ModeNone,
		SkipPaths: []string{"/health"},
	}
}

// Caller identifies the authenticated client behind a request, surfaced
// for request logging and nothing else — the collector has no notion of
// per-caller permissions to check against it.
type Caller struct {
	// KeyID is a truncated hash of the API key that authenticated this
	// request, stable enough to correlate log lines without leaking the
	// key itself.
	KeyID string
}

type contextKey struct{ name string }

var callerContextKey = &contextKey{"caller"}

// SetCallerInContext stores the authenticated caller in ctx.
func SetCallerInContext(ctx context.Context, c *Caller) context.Context {
	return context.WithValue(ctx, callerContextKey, c)
}

// CallerFromContext retrieves the authenticated caller from ctx, or nil
// if the request was unauthenticated (auth disabled, or an exempt path).
func CallerFromContext(ctx context.Context) *Caller {
	c, _ := ctx.Value(callerContextKey).(*Caller)
	return c
}
