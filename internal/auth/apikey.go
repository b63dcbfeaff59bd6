package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"
)

// Authenticator validates credentials carried on an inbound request.
type Authenticator interface {
	Authenticate(r *http.Request) (*Caller, error)
}

// APIKeyAuthenticator checks the X-API-Key header, or a Bearer token in
// Authorization, against the collector's configured keys. There is no
// per-key scoping: any configured key authenticates any caller for every
// collector route.
type APIKeyAuthenticator struct {
	keyHashes map[string]bool
}

// NewAPIKeyAuthenticator builds an authenticator from cfg's API keys.
func NewAPIKeyAuthenticator(cfg *Config) *APIKeyAuthenticator {
	a := &APIKeyAuthenticator{keyHashes: make(map[string]bool, len(cfg.APIKeys))}
	for _, key := range cfg.APIKeys {
		a.keyHashes[hashKey(key)] = true
	}
	return a
}

// Authenticate extracts and validates the API key from the request.
func (a *APIKeyAuthenticator) Authenticate(r *http.Request) (*Caller, error) {
	key := extractAPIKey(r)
	if key == "" {
		return nil, ErrMissingCredentials
	}
	if !a.validateKey(key) {
		return nil, ErrInvalidCredentials
	}
	return &Caller{KeyID: hashKey(key)[:16]}, nil
}

func extractAPIKey(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}

	authz := r.Header.Get("Authorization")
	if authz == "" {
		return ""
	}

	const bearerPrefix = "Bearer "
	if strings.HasPrefix(authz, bearerPrefix) {
		return strings.TrimPrefix(authz, bearerPrefix)
	}

	return ""
}

func (a *APIKeyAuthenticator) validateKey(key string) bool {
	keyHash := hashKey(key)
	for stored := range a.keyHashes {
		if constantTimeCompare(keyHash, stored) {
			return true
		}
	}
	return false
}

func hashKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}

func constantTimeCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
