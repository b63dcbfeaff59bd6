package devicesim

import (
	"context"
	"testing"
	"time"

	"github.com/tripleplay/mikrotik-collector/internal/devapi"
)

func startSim(t *testing.T, cfg Config) (*Server, devapi.Endpoint) {
	t.Helper()
	cfg.Addr = "127.0.0.1:0"
	srv := New(cfg)
	if err := srv.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Stop(ctx)
	})
	host, port := srv.HostPort()
	return srv, devapi.Endpoint{Host: host, Port: port, Username: cfg.Username, Password: cfg.Password}
}

// dialSession opens one session against ep via a single-use pool, the only
// path devapi exposes for establishing a connection outside the registry.
func dialSession(t *testing.T, ep devapi.Endpoint) (*devapi.Pool, *devapi.Session) {
	t.Helper()
	cfg := devapi.DefaultPoolConfig()
	cfg.DialTimeout = 2 * time.Second
	pool := devapi.NewPool(ep, cfg, nil, nil)
	pool.Start()
	t.Cleanup(pool.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	session, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	return pool, session
}

func TestPlaintextLoginPing(t *testing.T) {
	_, ep := startSim(t, Config{
		Username:   "admin",
		Password:   "secret",
		PingProbes: []Probe{{TimeMs: "1"}, {TimeMs: "2"}, {}},
	})
	pool, session := dialSession(t, ep)
	defer pool.Release(session)

	outcome, err := devapi.Execute(context.Background(), session, devapi.Operation{
		Kind: devapi.OpPing, Target: "8.8.8.8", Count: 3, Size: 64, Interval: time.Second,
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(outcome.Records) != 3 {
		t.Fatalf("want 3 records, got %d", len(outcome.Records))
	}
}

func TestChallengeLogin(t *testing.T) {
	_, ep := startSim(t, Config{
		Username:     "admin",
		Password:     "secret",
		UseChallenge: true,
		Resources:    map[string]string{"version": "7.1"},
	})
	pool, session := dialSession(t, ep)
	defer pool.Release(session)

	outcome, err := devapi.Execute(context.Background(), session, devapi.Operation{
		Kind: devapi.OpGeneric, Path: "/system/resource/print",
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(outcome.Records) != 1 {
		t.Fatalf("want 1 record, got %d", len(outcome.Records))
	}
}

func TestTraceroute(t *testing.T) {
	_, ep := startSim(t, Config{
		Username: "admin",
		Password: "secret",
		TracerouteHops: []Hop{
			{Hop: 1, Address: "10.0.0.1", Loss: "0", Sent: "3", Last: "1", Avg: "1", Best: "1", Worst: "2"},
			{Hop: 2, Address: "8.8.8.8", Loss: "0", Sent: "3", Last: "5", Avg: "5", Best: "4", Worst: "6"},
		},
	})
	pool, session := dialSession(t, ep)
	defer pool.Release(session)

	outcome, err := devapi.Execute(context.Background(), session, devapi.Operation{
		Kind: devapi.OpTraceroute, Target: "8.8.8.8", Count: 3,
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(outcome.Records) != 2 {
		t.Fatalf("want 2 hop records, got %d", len(outcome.Records))
	}
}

func TestBadCredentialsRejected(t *testing.T) {
	_, ep := startSim(t, Config{Username: "admin", Password: "secret"})
	ep.Password = "wrong"

	cfg := devapi.DefaultPoolConfig()
	cfg.DialTimeout = 2 * time.Second
	pool := devapi.NewPool(ep, cfg, nil, nil)
	pool.Start()
	defer pool.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := pool.Acquire(ctx); err == nil {
		t.Fatal("expected auth failure with wrong password")
	}
}

func TestFailCommandTrap(t *testing.T) {
	_, ep := startSim(t, Config{
		Username:     "admin",
		Password:     "secret",
		FailCommands: map[string]string{"/ip/address/print": "no such command"},
	})
	pool, session := dialSession(t, ep)
	defer pool.Release(session)

	_, err := devapi.Execute(context.Background(), session, devapi.Operation{
		Kind: devapi.OpGeneric, Path: "/ip/address/print",
	})
	if err == nil {
		t.Fatal("expected trap error")
	}
}
