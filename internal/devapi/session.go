package devapi

import (
	"bufio"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tripleplay/mikrotik-collector/internal/logging"
	"github.com/tripleplay/mikrotik-collector/internal/wire"
)

// sink receives the stream of replies for one in-flight call. It is
// closed by the session's reader goroutine once a terminal reply has been
// delivered (or the session dies), per §4.2/§4.7.
type sink struct {
	ch     chan *Reply
	once   sync.Once
	closed atomic.Bool
}

func newSink() *sink {
	return &sink{ch: make(chan *Reply, 8)}
}

func (s *sink) deliver(r *Reply) {
	if s.closed.Load() {
		return
	}
	select {
	case s.ch <- r:
	default:
		// Slow/abandoned consumer: drop rather than block the reader.
	}
}

func (s *sink) close() {
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
	})
}

// Session owns one TCP socket to a router and multiplexes tagged calls
// over it. Only Idle sessions may be acquired by the pool; exactly one
// caller may hold a Busy session at a time.
type Session struct {
	ID       string
	Endpoint Endpoint

	conn   net.Conn
	reader *bufio.Reader

	writeMu sync.Mutex

	mu         sync.Mutex
	state      SessionState
	nextTag    int64
	pending    map[string]*sink
	createdAt  time.Time
	lastUsedAt time.Time

	readerDone chan struct{}
	log        *logging.EventLogger
}

// dial opens a TCP connection and performs login, returning a Session in
// the Idle state on success. Any failure along the way leaves the
// session Dead (and the caller discards it).
func dial(ctx context.Context, ep Endpoint, dialTimeout time.Duration, log *logging.EventLogger) (*Session, error) {
	d := net.Dialer{Timeout: dialTimeout}
	addr := net.JoinHostPort(ep.Host, strconv.Itoa(ep.Port))
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &CollectorError{Op: "dial", Router: ep.Host, Err: err}
	}

	now := time.Now()
	s := &Session{
		ID:         ep.Host + "-" + strconv.FormatInt(now.UnixNano(), 36),
		Endpoint:   ep,
		conn:       conn,
		reader:     bufio.NewReader(conn),
		state:      StateAuthenticating,
		pending:    make(map[string]*sink),
		createdAt:  now,
		lastUsedAt: now,
		readerDone: make(chan struct{}),
		log:        log,
	}

	go s.readLoop()

	if err := s.login(ctx); err != nil {
		s.markDead("login failed")
		s.Close()
		return nil, err
	}

	s.mu.Lock()
	s.state = StateIdle
	s.mu.Unlock()

	if log != nil {
		log.LogSessionCreated(ep.Host, s.ID)
	}
	return s, nil
}

// login attempts the post-6.43 plaintext login first, falling back to the
// legacy MD5 challenge-response form only if the first reply is a !trap,
// per the Open Question in §9.
func (s *Session) login(ctx context.Context) error {
	reply, err := s.callOnce(ctx, "/login", map[string]string{
		"name":     s.Endpoint.Username,
		"password": s.Endpoint.Password,
	})
	if err != nil {
		return &AuthError{Router: s.Endpoint.Host, Err: err}
	}

	if reply.Code == ReplyDone {
		// Legacy servers answer with a =ret= challenge instead of
		// accepting the plaintext credentials.
		if challenge, ok := reply.Attrs["ret"]; ok {
			return s.loginChallenge(ctx, challenge)
		}
		return nil
	}
	if reply.Code != ReplyTrap {
		return newAuthError(s.Endpoint.Host)
	}

	// Plaintext rejected with !trap; request a challenge and fall back to
	// challenge-response.
	reply, err = s.callOnce(ctx, "/login", nil)
	if err != nil {
		return &AuthError{Router: s.Endpoint.Host, Err: err}
	}
	if challenge, ok := reply.Attrs["ret"]; ok && reply.Code == ReplyDone {
		return s.loginChallenge(ctx, challenge)
	}
	return newAuthError(s.Endpoint.Host)
}

func (s *Session) loginChallenge(ctx context.Context, challengeHex string) error {
	challenge, err := hex.DecodeString(challengeHex)
	if err != nil {
		return &CollectorError{Op: "login", Router: s.Endpoint.Host, Err: err}
	}

	h := md5.New()
	h.Write([]byte{0x00})
	h.Write([]byte(s.Endpoint.Password))
	h.Write(challenge)
	sum := h.Sum(nil)

	reply, err := s.callOnce(ctx, "/login", map[string]string{
		"name":     s.Endpoint.Username,
		"response": "00" + hex.EncodeToString(sum),
	})
	if err != nil {
		return &AuthError{Router: s.Endpoint.Host, Err: err}
	}
	if reply.Code != ReplyDone {
		return newAuthError(s.Endpoint.Host)
	}
	return nil
}

// callOnce issues a sentence and waits for its single terminal reply;
// used for login and liveness checks, which never stream.
func (s *Session) callOnce(ctx context.Context, path string, attrs map[string]string) (*Reply, error) {
	sk, err := s.send(path, attrs)
	if err != nil {
		return nil, err
	}
	for {
		select {
		case r, ok := <-sk.ch:
			if !ok {
				return nil, &CollectorError{Op: path, Router: s.Endpoint.Host, Err: errSessionDead}
			}
			if r.Terminal() {
				return r, nil
			}
		case <-ctx.Done():
			return nil, &TimeoutError{Router: s.Endpoint.Host, Op: path}
		}
	}
}

// send allocates a tag, registers a sink, and writes the sentence. Writes
// are serialized under writeMu so concurrent calls cannot interleave
// sentence bytes on the wire (§4.2).
func (s *Session) send(path string, attrs map[string]string) (*sink, error) {
	s.mu.Lock()
	if s.state == StateDead {
		s.mu.Unlock()
		return nil, &CollectorError{Op: path, Router: s.Endpoint.Host, Err: errSessionDead}
	}
	s.nextTag++
	tag := strconv.FormatInt(s.nextTag, 10)
	sk := newSink()
	s.pending[tag] = sk
	s.mu.Unlock()

	words := buildSentence(path, attrs)
	words = append(words, ".tag="+tag)

	s.writeMu.Lock()
	err := wire.WriteSentence(s.conn, words)
	s.writeMu.Unlock()

	if err != nil {
		s.mu.Lock()
		delete(s.pending, tag)
		s.mu.Unlock()
		s.markDead("write failure")
		return nil, &CollectorError{Op: path, Router: s.Endpoint.Host, Err: err}
	}
	return sk, nil
}

// Call issues a sentence and streams its replies to the returned sink.
// The caller must drain the sink until it closes (terminal reply or
// session death) or abandon it, in which case the pending entry is
// dropped only once the reader receives a terminal reply for the tag.
func (s *Session) Call(path string, attrs map[string]string) (<-chan *Reply, error) {
	sk, err := s.send(path, attrs)
	if err != nil {
		return nil, err
	}
	return sk.ch, nil
}

// readLoop is the single dedicated reader for this session's socket. It
// decodes one sentence at a time and routes each reply to the pending
// sink for its tag.
func (s *Session) readLoop() {
	defer close(s.readerDone)
	for {
		words, err := wire.DecodeSentence(s.reader)
		if err != nil {
			s.markDead("read failure")
			s.failAllPending()
			return
		}
		reply := parseReply(words)
		tag := reply.Tag()

		s.mu.Lock()
		sk, ok := s.pending[tag]
		if ok && reply.Terminal() {
			delete(s.pending, tag)
		}
		s.mu.Unlock()

		if !ok {
			continue // late delivery for an abandoned/unknown tag
		}
		sk.deliver(reply)
		if reply.Terminal() {
			sk.close()
		}
	}
}

func (s *Session) failAllPending() {
	s.mu.Lock()
	pending := s.pending
	s.pending = make(map[string]*sink)
	s.mu.Unlock()

	for _, sk := range pending {
		sk.close()
	}
}

func (s *Session) markDead(reason string) {
	s.mu.Lock()
	already := s.state == StateDead
	s.state = StateDead
	s.mu.Unlock()
	if !already && s.log != nil {
		s.log.LogSessionDead(s.Endpoint.Host, s.ID, reason)
	}
}

// IsAlive issues /system/resource/print with a short deadline; success
// marks the session Idle (it already is), any error marks it Dead.
func (s *Session) IsAlive(ctx context.Context) bool {
	reply, err := s.callOnce(ctx, "/system/resource/print", nil)
	if err != nil || reply.Code != ReplyDone {
		s.markDead("liveness check failed")
		return false
	}
	return true
}

// Close marks the session dead, closes the socket and waits for the
// reader to exit; the exiting reader closes every pending sink, so calls
// still in flight end with errSessionDead.
func (s *Session) Close() {
	s.markDead("closed")
	_ = s.conn.Close()
	<-s.readerDone
}

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st SessionState) {
	s.mu.Lock()
	s.state = st
	s.lastUsedAt = time.Now()
	s.mu.Unlock()
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastUsedAt = time.Now()
	s.mu.Unlock()
}

func (s *Session) idleDuration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastUsedAt)
}

func (s *Session) String() string {
	return fmt.Sprintf("Session{%s %s state=%s}", s.ID, s.Endpoint.Host, s.State())
}
