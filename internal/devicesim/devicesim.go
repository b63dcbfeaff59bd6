// Package devicesim mocks a MikroTik RouterOS API socket for tests and a
// standalone debug binary, adapted from internal/mockserver.Server's
// Config/New/Start/Stop/Addr shape — but speaking the binary
// length-prefixed sentence protocol of internal/wire against a real TCP
// listener instead of mocking MCP JSON-RPC+SSE over HTTP.
package devicesim

import (
	"bufio"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/tripleplay/mikrotik-collector/internal/wire"
)

// Config configures one simulated router.
type Config struct {
	Addr string

	Username string
	Password string
	// UseChallenge forces the legacy MD5 challenge path instead of
	// accepting a plaintext /login, exercising the fallback in
	// devapi.Session.login.
	UseChallenge bool

	// PingProbes is replayed verbatim for any /ping call, one !re per
	// entry, regardless of the caller's requested count — callers that
	// want count-accurate replies should size this slice themselves.
	PingProbes []Probe

	// ProbeDelay, if nonzero, is slept before each ping probe reply is
	// written, simulating per-packet round-trip time so tests can
	// observe whether concurrent calls are actually multiplexed over one
	// connection rather than serialized.
	ProbeDelay time.Duration

	// TracerouteHops is replayed for any /tool/traceroute call.
	TracerouteHops []Hop

	// Resources is returned for /system/resource/print and as the
	// fallback reply for any other unrecognized generic path.
	Resources map[string]string

	// FailCommands, keyed by path, causes that path to reply !trap with
	// the given message instead of its configured success reply.
	FailCommands map[string]string
}

// Probe is one simulated ping reply. TimeMs == "" represents a lost probe
// (emitted with a timeout marker instead of a time attribute).
type Probe struct {
	TimeMs string
}

// Hop is one simulated traceroute hop reply.
type Hop struct {
	Hop     int
	Address string
	Loss    string
	Sent    string
	Last    string
	Avg     string
	Best    string
	Worst   string
}

// Server runs a simulated router on a loopback TCP socket.
type Server struct {
	cfg Config

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
	closed   bool
}

// New constructs a Server from cfg. An empty Addr binds to an ephemeral
// loopback port, resolved after Start via Addr().
func New(cfg Config) *Server {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:0"
	}
	return &Server{cfg: cfg}
}

// Start begins accepting connections in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("devicesim: listen: %w", err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.serve(conn)
			}()
		}
	}()
	return nil
}

// Stop closes the listener and waits for in-flight connections to drain.
func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	ln := s.listener
	s.mu.Unlock()

	if ln != nil {
		ln.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// Addr returns the bound address, valid after Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// HostPort splits Addr into a host and numeric port, for building a
// devapi.Endpoint against this simulator.
func (s *Server) HostPort() (string, int) {
	host, portStr, err := net.SplitHostPort(s.Addr())
	if err != nil {
		return "", 0
	}
	port, _ := strconv.Atoi(portStr)
	return host, port
}

// syncConn serializes sentence writes from the concurrently-dispatched
// command handlers below onto one connection, mirroring how a real
// RouterOS device can have several commands in flight on one API socket
// at once but must still emit whole, non-interleaved sentences.
type syncConn struct {
	conn net.Conn
	mu   sync.Mutex
}

func (w *syncConn) write(words []string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	wire.WriteSentence(w.conn, words)
}

func (s *Server) serve(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	w := &syncConn{conn: conn}

	loggedIn := false
	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		words, err := wire.DecodeSentence(r)
		if err != nil {
			return
		}
		path, attrs, tag := splitSentence(words)

		if !loggedIn {
			if path != "/login" {
				writeTrap(w, tag, "not logged in")
				continue
			}
			ok, done := s.handleLogin(w, tag, attrs)
			if done {
				loggedIn = ok
			}
			continue
		}

		// Each command after login runs on its own goroutine so that
		// several tagged calls on one connection are serviced
		// concurrently instead of one-at-a-time, matching a real
		// device's ability to have multiple in-flight commands per
		// session (§4.4's "parallel ping on one session").
		wg.Add(1)
		go func(path, tag string, attrs map[string]string) {
			defer wg.Done()
			switch path {
			case "/ping":
				s.handlePing(w, tag)
			case "/tool/traceroute":
				s.handleTraceroute(w, tag)
			default:
				s.handleGeneric(w, tag, path)
			}
		}(path, tag, attrs)
	}
}

// handleLogin implements both the plaintext and MD5-challenge forms of
// §4.2's login handshake. Returns (accepted, terminal) — terminal is
// false only for the "here's your challenge" intermediate reply.
func (s *Server) handleLogin(w *syncConn, tag string, attrs map[string]string) (bool, bool) {
	if s.cfg.UseChallenge {
		if _, hasResponse := attrs["response"]; !hasResponse {
			challenge := md5.Sum([]byte(s.cfg.Username))
			writeDone(w, tag, map[string]string{"ret": hex.EncodeToString(challenge[:])})
			return false, false
		}
		return s.verifyChallenge(w, tag, attrs)
	}

	name, password := attrs["name"], attrs["password"]
	if name == "" && password == "" {
		// A /login with no credentials asks for a legacy challenge,
		// which plaintext mode does not offer; reject it.
		writeTrap(w, tag, "invalid user name or password")
		return false, true
	}
	if name == s.cfg.Username && password == s.cfg.Password {
		writeDone(w, tag, nil)
		return true, true
	}
	writeTrap(w, tag, "invalid user name or password")
	return false, true
}

func (s *Server) verifyChallenge(w *syncConn, tag string, attrs map[string]string) (bool, bool) {
	name := attrs["name"]
	response := attrs["response"]
	if len(response) < 2 {
		writeTrap(w, tag, "invalid response")
		return false, true
	}

	challenge := md5.Sum([]byte(s.cfg.Username))
	h := md5.New()
	h.Write([]byte{0x00})
	h.Write([]byte(s.cfg.Password))
	h.Write(challenge[:])
	want := "00" + hex.EncodeToString(h.Sum(nil))

	if name == s.cfg.Username && response == want {
		writeDone(w, tag, nil)
		return true, true
	}
	writeTrap(w, tag, "invalid user name or password")
	return false, true
}

func (s *Server) handlePing(w *syncConn, tag string) {
	if msg, fail := s.cfg.FailCommands["/ping"]; fail {
		writeTrap(w, tag, msg)
		return
	}
	for _, p := range s.cfg.PingProbes {
		if s.cfg.ProbeDelay > 0 {
			time.Sleep(s.cfg.ProbeDelay)
		}
		attrs := map[string]string{}
		if p.TimeMs == "" {
			attrs["status"] = "timeout"
		} else {
			attrs["time"] = p.TimeMs
		}
		writeReply(w, tag, attrs)
	}
	writeDone(w, tag, nil)
}

func (s *Server) handleTraceroute(w *syncConn, tag string) {
	if msg, fail := s.cfg.FailCommands["/tool/traceroute"]; fail {
		writeTrap(w, tag, msg)
		return
	}
	for _, h := range s.cfg.TracerouteHops {
		attrs := map[string]string{
			"hop":     strconv.Itoa(h.Hop),
			"address": h.Address,
			"loss":    h.Loss,
			"sent":    h.Sent,
		}
		if h.Last != "" {
			attrs["last"] = h.Last
		}
		if h.Avg != "" {
			attrs["avg"] = h.Avg
		}
		if h.Best != "" {
			attrs["best"] = h.Best
		}
		if h.Worst != "" {
			attrs["worst"] = h.Worst
		}
		writeReply(w, tag, attrs)
	}
	writeDone(w, tag, nil)
}

func (s *Server) handleGeneric(w *syncConn, tag, path string) {
	if msg, fail := s.cfg.FailCommands[path]; fail {
		writeTrap(w, tag, msg)
		return
	}
	if s.cfg.Resources != nil {
		writeReply(w, tag, s.cfg.Resources)
	}
	writeDone(w, tag, nil)
}

func splitSentence(words []string) (path string, attrs map[string]string, tag string) {
	attrs = make(map[string]string)
	for i, w := range words {
		if i == 0 {
			path = w
			continue
		}
		if len(w) > 5 && w[:5] == ".tag=" {
			tag = w[5:]
			continue
		}
		if len(w) > 0 && w[0] == '=' {
			kv := w[1:]
			for j := 0; j < len(kv); j++ {
				if kv[j] == '=' {
					attrs[kv[:j]] = kv[j+1:]
					break
				}
			}
		}
	}
	return path, attrs, tag
}

func writeReply(w *syncConn, tag string, attrs map[string]string) {
	w.write(sentenceFor("!re", tag, attrs))
}

func writeDone(w *syncConn, tag string, attrs map[string]string) {
	w.write(sentenceFor("!done", tag, attrs))
}

func writeTrap(w *syncConn, tag, message string) {
	w.write(sentenceFor("!trap", tag, map[string]string{"message": message}))
}

func sentenceFor(code, tag string, attrs map[string]string) []string {
	words := []string{code}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		words = append(words, "="+k+"="+attrs[k])
	}
	if tag != "" {
		words = append(words, ".tag="+tag)
	}
	return words
}
