package devapi

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tripleplay/mikrotik-collector/internal/logging"
)

// PoolEventRecorder receives pool lifecycle accounting as sessions are
// created, reused, and fail to dial, so /api/v2/stats can report
// fleet-wide totals alongside Registry.Snapshot's per-pool breakdown.
type PoolEventRecorder interface {
	RecordPoolEvent(created, reused, failed int64)
}

// Pool is the per-pool-key set of sessions to one router, adapted from
// the acquire/release/evict algorithm in §4.3: bounded size, idle-MRU
// reuse, liveness-gated reacquire, and an idle/dead janitor.
type Pool struct {
	key      PoolKey
	cfg      PoolConfig
	log      *logging.EventLogger
	recorder PoolEventRecorder
	dialFn   func(ctx context.Context) (*Session, error)

	mu             sync.Mutex
	idle           *list.List // of *Session, back = most recently released
	inUse          map[string]*Session
	pendingCreates int
	cond           *sync.Cond
	closed         atomic.Bool

	created atomic.Int64
	reused  atomic.Int64
	failed  atomic.Int64
	evicted atomic.Int64

	stopJanitor chan struct{}
	janitorDone chan struct{}
}

// NewPool constructs a pool for one router endpoint. recorder may be nil
// to skip fleet-wide pool event accounting.
func NewPool(ep Endpoint, cfg PoolConfig, log *logging.EventLogger, recorder PoolEventRecorder) *Pool {
	p := &Pool{
		key:      ep.Key(),
		cfg:      cfg,
		log:      log,
		recorder: recorder,
		idle:     list.New(),
		inUse:    make(map[string]*Session),
	}
	p.cond = sync.NewCond(&p.mu)
	p.dialFn = func(ctx context.Context) (*Session, error) {
		return dial(ctx, ep, cfg.DialTimeout, log)
	}
	return p
}

// Start launches the idle/dead janitor.
func (p *Pool) Start() {
	p.stopJanitor = make(chan struct{})
	p.janitorDone = make(chan struct{})
	go p.janitorLoop()
}

func (p *Pool) janitorLoop() {
	defer close(p.janitorDone)
	period := p.cfg.IdleTimeout / 4
	if period < time.Second {
		period = time.Second
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopJanitor:
			return
		case <-ticker.C:
			p.sweepIdle()
		}
	}
}

func (p *Pool) sweepIdle() {
	var toClose []*Session

	p.mu.Lock()
	for e := p.idle.Front(); e != nil; {
		next := e.Next()
		s := e.Value.(*Session)
		if s.State() == StateDead || s.idleDuration() > p.cfg.IdleTimeout {
			p.idle.Remove(e)
			toClose = append(toClose, s)
			p.evicted.Add(1)
		}
		e = next
	}
	p.mu.Unlock()

	for _, s := range toClose {
		reason := "idle"
		if s.State() == StateDead {
			reason = "dead"
		}
		if p.log != nil {
			p.log.LogSessionEvicted(p.key.Host, s.ID, reason, s.idleDuration().Milliseconds())
		}
		s.Close()
	}

	if len(toClose) > 0 {
		p.mu.Lock()
		p.cond.Broadcast()
		p.mu.Unlock()
	}
}

// Close drains the pool: stops the janitor and closes every session.
func (p *Pool) Close() {
	if p.closed.Swap(true) {
		return
	}
	if p.stopJanitor != nil {
		close(p.stopJanitor)
		<-p.janitorDone
	}

	p.mu.Lock()
	var sessions []*Session
	for e := p.idle.Front(); e != nil; e = e.Next() {
		sessions = append(sessions, e.Value.(*Session))
	}
	p.idle.Init()
	for _, s := range p.inUse {
		sessions = append(sessions, s)
	}
	p.inUse = make(map[string]*Session)
	p.cond.Broadcast()
	p.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}

// Acquire borrows an Idle session, preferring the most recently used one
// (warm-cache behavior), reconnecting if the pool has capacity, or
// blocking until a session frees up or ctx's deadline expires.
func (p *Pool) Acquire(ctx context.Context) (*Session, error) {
	for {
		s, shouldDial, err := p.tryAcquireOrReserve(ctx)
		if err != nil {
			return nil, err
		}
		if shouldDial {
			created, err := p.dialFn(ctx)
			if err != nil {
				p.cancelReservation()
				p.failed.Add(1)
				p.recordEvent(0, 0, 1)
				return nil, err
			}
			p.addAsBusy(created)
			p.recordEvent(1, 0, 0)
			return created, nil
		}
		if s == nil {
			continue // spurious wake from liveness failure; retry the scan
		}
		p.recordEvent(0, 1, 0)

		if p.needsLivenessCheck(s) {
			if s.IsAlive(ctx) {
				return s, nil
			}
			p.discardDead(s)
			continue
		}
		return s, nil
	}
}

// recordEvent forwards pool lifecycle accounting to the recorder, if one
// was configured, without holding p.mu.
func (p *Pool) recordEvent(created, reused, failed int64) {
	if p.recorder != nil {
		p.recorder.RecordPoolEvent(created, reused, failed)
	}
}

func (p *Pool) needsLivenessCheck(s *Session) bool {
	return p.cfg.LivenessMaxAge > 0 && s.idleDuration() >= p.cfg.LivenessMaxAge
}

// tryAcquireOrReserve scans for an idle session or reserves a creation
// slot, blocking on the pool condition variable at capacity. It mirrors
// the ancestor pool's acquire loop shape.
func (p *Pool) tryAcquireOrReserve(ctx context.Context) (*Session, bool, error) {
	if p.closed.Load() {
		return nil, false, &CollectorError{Op: "acquire", Router: p.key.Host, Err: errRegistryClosed}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for {
		if p.closed.Load() {
			return nil, false, &CollectorError{Op: "acquire", Router: p.key.Host, Err: errRegistryClosed}
		}

		if s := p.popBestIdleLocked(); s != nil {
			s.setState(StateBusy)
			p.inUse[s.ID] = s
			p.reused.Add(1)
			return s, false, nil
		}

		if p.idle.Len()+len(p.inUse)+p.pendingCreates < p.cfg.MaxSize {
			p.pendingCreates++
			return nil, true, nil
		}

		done := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				p.mu.Lock()
				p.cond.Broadcast()
				p.mu.Unlock()
			case <-done:
			}
		}()

		p.cond.Wait()
		close(done)

		if err := ctx.Err(); err != nil {
			if p.log != nil {
				p.log.LogPoolExhausted(p.key.Host, 0)
			}
			return nil, false, &PoolExhaustedError{Router: p.key.Host}
		}
	}
}

// popBestIdleLocked removes and returns the most-recently-used idle,
// non-dead session, evicting any dead ones it encounters along the way.
// Must be called with p.mu held.
func (p *Pool) popBestIdleLocked() *Session {
	for e := p.idle.Back(); e != nil; {
		prev := e.Prev()
		s := e.Value.(*Session)
		p.idle.Remove(e)
		if s.State() == StateDead {
			p.evicted.Add(1)
			go s.Close()
			e = prev
			continue
		}
		return s
	}
	return nil
}

func (p *Pool) discardDead(s *Session) {
	p.mu.Lock()
	delete(p.inUse, s.ID)
	p.evicted.Add(1)
	p.cond.Signal()
	p.mu.Unlock()
	s.Close()
}

func (p *Pool) addAsBusy(s *Session) {
	p.mu.Lock()
	if p.pendingCreates > 0 {
		p.pendingCreates--
	}
	s.setState(StateBusy)
	p.inUse[s.ID] = s
	p.created.Add(1)
	p.mu.Unlock()
}

func (p *Pool) cancelReservation() {
	p.mu.Lock()
	if p.pendingCreates > 0 {
		p.pendingCreates--
	}
	p.cond.Signal()
	p.mu.Unlock()
}

// Release returns a session to the idle set, or discards it if it died
// while in use.
func (p *Pool) Release(s *Session) {
	if p.closed.Load() {
		s.Close()
		return
	}

	p.mu.Lock()
	delete(p.inUse, s.ID)

	if s.State() == StateDead {
		p.evicted.Add(1)
		p.cond.Signal()
		p.mu.Unlock()
		s.Close()
		return
	}

	s.setState(StateIdle)
	p.idle.PushBack(s)
	p.cond.Signal()
	p.mu.Unlock()
}

// Size, Available, InUse, and the accounting counters back §4.3's
// "Accounting" requirement and the pool component of /api/v2/stats.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.idle.Len() + len(p.inUse)
}

func (p *Pool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.idle.Len()
}

func (p *Pool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inUse)
}

func (p *Pool) Created() int64 { return p.created.Load() }
func (p *Pool) Reused() int64  { return p.reused.Load() }
func (p *Pool) Failed() int64  { return p.failed.Load() }
func (p *Pool) Evicted() int64 { return p.evicted.Load() }
