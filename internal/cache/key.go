// Package cache implements the short-TTL fingerprint cache (C6): a
// stable hash of a request's (router, operation, parameters) tuple keys
// an entry that is replaced whole and never mutated in place, adapted
// from the idle/TTL janitor shape of devapi's pool janitor and the
// bucket-map-with-cleanup shape of the ancestor rate limiter.
package cache

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// Fingerprint hashes the stable, null-omitted, key-sorted canonical JSON
// of a request's identity: (host, port, op, target, count, size,
// interval, extra params). Insertion order of extraParams is irrelevant;
// nil/zero-value optional fields are omitted so that two logically
// identical requests hash identically regardless of how their optional
// fields were populated.
func Fingerprint(host string, port int, op, target string, count, size int, interval float64, extra map[string]string) string {
	m := map[string]any{
		"host": host,
		"port": port,
		"op":   op,
	}
	if target != "" {
		m["target"] = target
	}
	if count != 0 {
		m["count"] = count
	}
	if size != 0 {
		m["size"] = size
	}
	if interval != 0 {
		m["interval"] = interval
	}
	if len(extra) > 0 {
		keys := make([]string, 0, len(extra))
		for k, v := range extra {
			if v == "" {
				continue
			}
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sortedExtra := make(map[string]string, len(keys))
		for _, k := range keys {
			sortedExtra[k] = extra[k]
		}
		if len(sortedExtra) > 0 {
			m["extra"] = sortedExtra
		}
	}

	// json.Marshal on a map[string]any sorts keys lexicographically,
	// giving a stable canonical encoding without a custom serializer.
	b, err := json.Marshal(m)
	if err != nil {
		// m is built entirely from JSON-marshalable primitives above,
		// so this path is unreachable in practice.
		b = []byte(op)
	}

	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}
