package devapi

import (
	"sync"

	"github.com/tripleplay/mikrotik-collector/internal/logging"
)

// Registry is the process-wide, explicitly-initialized singleton mapping
// pool-keys to their Pool. The map itself is guarded by a short-hold
// mutex; each Pool has its own internal locking for acquire/release.
type Registry struct {
	cfg      PoolConfig
	log      *logging.EventLogger
	recorder PoolEventRecorder

	mu    sync.Mutex
	pools map[PoolKey]*Pool
}

// NewRegistry creates an empty pool registry. recorder may be nil to skip
// fleet-wide pool event accounting.
func NewRegistry(cfg PoolConfig, log *logging.EventLogger, recorder PoolEventRecorder) *Registry {
	return &Registry{
		cfg:      cfg,
		log:      log,
		recorder: recorder,
		pools:    make(map[PoolKey]*Pool),
	}
}

// PoolFor returns the pool for ep's pool-key, creating and starting it on
// first use. The returned pool's credentials come from ep's first caller;
// later callers on the same pool-key implicitly reuse it (the password is
// an acquisition credential, not pool identity, per §3).
func (r *Registry) PoolFor(ep Endpoint) *Pool {
	key := ep.Key()

	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.pools[key]; ok {
		return p
	}

	p := NewPool(ep, r.cfg, r.log, r.recorder)
	p.Start()
	r.pools[key] = p
	return p
}

// Close drains every pool, closing all sessions. Intended for process
// teardown.
func (r *Registry) Close() {
	r.mu.Lock()
	pools := make([]*Pool, 0, len(r.pools))
	for _, p := range r.pools {
		pools = append(pools, p)
	}
	r.pools = make(map[PoolKey]*Pool)
	r.mu.Unlock()

	for _, p := range pools {
		p.Close()
	}
}

// Snapshot returns per-pool accounting for the stats endpoint.
type PoolSnapshot struct {
	Key       PoolKey
	Size      int
	Available int
	InUse     int
	Created   int64
	Reused    int64
	Failed    int64
	Evicted   int64
}

func (r *Registry) Snapshot() []PoolSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]PoolSnapshot, 0, len(r.pools))
	for key, p := range r.pools {
		out = append(out, PoolSnapshot{
			Key:       key,
			Size:      p.Size(),
			Available: p.Available(),
			InUse:     p.InUse(),
			Created:   p.Created(),
			Reused:    p.Reused(),
			Failed:    p.Failed(),
			Evicted:   p.Evicted(),
		})
	}
	return out
}
