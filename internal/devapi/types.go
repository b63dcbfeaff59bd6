package devapi

import (
	"time"
)

// Endpoint identifies a router and the credentials to reach it.
type Endpoint struct {
	Host     string
	Port     int
	Username string
	Password string
}

// PoolKey identifies a pool of equivalent sessions. The password is an
// acquisition credential, not part of identity, per the data model.
type PoolKey struct {
	Host     string
	Port     int
	Username string
}

// Key derives the pool key for an endpoint.
func (e Endpoint) Key() PoolKey {
	return PoolKey{Host: e.Host, Port: e.Port, Username: e.Username}
}

// String renders a PoolKey for logging and map keys.
func (k PoolKey) String() string {
	return k.Host + ":" + itoa(k.Port) + "@" + k.Username
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [20]byte
	pos := len(buf)
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

// SessionState is the session lifecycle state.
type SessionState int32

const (
	StateDialing SessionState = iota
	StateAuthenticating
	StateIdle
	StateBusy
	StateDead
)

func (s SessionState) String() string {
	switch s {
	case StateDialing:
		return "dialing"
	case StateAuthenticating:
		return "authenticating"
	case StateIdle:
		return "idle"
	case StateBusy:
		return "busy"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}

// PoolConfig configures a per-router session pool.
type PoolConfig struct {
	MaxSize        int
	IdleTimeout    time.Duration
	LivenessMaxAge time.Duration
	DialTimeout    time.Duration
	CallTimeout    time.Duration
}

// DefaultPoolConfig mirrors the defaults from §4.3 and §6.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxSize:        50,
		IdleTimeout:    300 * time.Second,
		LivenessMaxAge: 30 * time.Second,
		DialTimeout:    10 * time.Second,
		CallTimeout:    60 * time.Second,
	}
}
