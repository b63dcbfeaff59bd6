package normalize

import (
	"testing"

	"github.com/tripleplay/mikrotik-collector/internal/devapi"
)

func TestParseTimeMs(t *testing.T) {
	cases := []struct {
		raw  string
		want float64
		ok   bool
	}{
		{"12ms", 12.0, true},
		{"850us", 0.85, true},
		{"2s", 2000.0, true},
		{"*", 0, false},
		{"", 0, false},
		{"garbage", 0, false},
	}
	for _, c := range cases {
		got, ok := ParseTimeMs(c.raw)
		if ok != c.ok {
			t.Errorf("ParseTimeMs(%q) ok = %v, want %v", c.raw, ok, c.ok)
			continue
		}
		if ok && got != c.want {
			t.Errorf("ParseTimeMs(%q) = %v, want %v", c.raw, got, c.want)
		}
	}
}

func TestPingHappyPath(t *testing.T) {
	records := []devapi.Record{
		{"seq": "0", "time": "10ms"},
		{"seq": "1", "time": "11ms"},
		{"seq": "2", "time": "12ms"},
		{"seq": "3", "time": "13ms"},
	}
	s := Ping(records)

	if s.Sent != 4 || s.Received != 4 {
		t.Fatalf("sent/received = %d/%d, want 4/4", s.Sent, s.Received)
	}
	if s.LossPct != 0 {
		t.Errorf("loss_pct = %v, want 0", s.LossPct)
	}
	if s.Status != StatusReachable {
		t.Errorf("status = %v, want reachable", s.Status)
	}
	if *s.MinMs != 10 || *s.MaxMs != 13 || *s.AvgMs != 11.5 || *s.JitterMs != 3 {
		t.Errorf("min/avg/max/jitter = %v/%v/%v/%v, want 10/11.5/13/3", *s.MinMs, *s.AvgMs, *s.MaxMs, *s.JitterMs)
	}
}

func TestPingPartialLoss(t *testing.T) {
	records := []devapi.Record{
		{"seq": "0", "time": "20ms"},
		{"seq": "1", "status": "timeout"},
		{"seq": "2", "time": "20ms"},
		{"seq": "3", "status": "timeout"},
	}
	s := Ping(records)

	if s.Sent != 4 || s.Received != 2 {
		t.Fatalf("sent/received = %d/%d, want 4/2", s.Sent, s.Received)
	}
	if s.LossPct != 50 || s.AvailabilityPct != 50 {
		t.Errorf("loss/availability = %v/%v, want 50/50", s.LossPct, s.AvailabilityPct)
	}
	if *s.MinMs != 20 || *s.AvgMs != 20 || *s.MaxMs != 20 || *s.JitterMs != 0 {
		t.Errorf("unexpected timing stats: %+v", s)
	}
}

func TestPingZeroCount(t *testing.T) {
	s := Ping(nil)
	if s.Sent != 0 || s.Status != StatusUnreachable || s.LossPct != 100 {
		t.Fatalf("zero-count summary = %+v", s)
	}
	if s.MinMs != nil || s.AvgMs != nil || s.MaxMs != nil {
		t.Fatalf("zero-count summary should have no timing fields: %+v", s)
	}
}

func TestPingAllTimeouts(t *testing.T) {
	records := []devapi.Record{
		{"seq": "0", "status": "timeout"},
		{"seq": "1", "status": "timeout"},
	}
	s := Ping(records)
	if s.Received != 0 || s.LossPct != 100 || s.Status != StatusUnreachable {
		t.Fatalf("all-timeout summary = %+v", s)
	}
	if s.MinMs != nil {
		t.Fatalf("all-timeout summary should have no timing fields: %+v", s)
	}
}

func TestPingInvariants(t *testing.T) {
	records := []devapi.Record{
		{"time": "5ms"}, {"status": "timeout"}, {"time": "7ms"},
	}
	s := Ping(records)
	if s.Received > s.Sent {
		t.Fatalf("received %d > sent %d", s.Received, s.Sent)
	}
	if s.LossPct < 0 || s.LossPct > 100 {
		t.Fatalf("loss_pct out of range: %v", s.LossPct)
	}
	if diff := s.LossPct + s.AvailabilityPct - 100; diff > 0.01 || diff < -0.01 {
		t.Fatalf("loss_pct + availability_pct = %v, want 100", s.LossPct+s.AvailabilityPct)
	}
}

func TestTracerouteDedup(t *testing.T) {
	records := []devapi.Record{
		{"hop": "1", "address": "10.0.0.1", "loss": "0%", "sent": "3"},
		{"hop": "2", "address": "10.0.0.2", "loss": "100%", "sent": "1"},
		{"hop": "2", "address": "10.0.0.2", "loss": "66%", "sent": "2"},
		{"hop": "2", "address": "10.0.0.2", "loss": "33%", "sent": "3"},
	}
	s := Traceroute("10.0.0.2", records)

	if s.HopCount != 2 {
		t.Fatalf("hop_count = %d, want 2", s.HopCount)
	}
	if s.Hops[1].LossPct != 33 {
		t.Fatalf("hops[1].loss_pct = %v, want 33", s.Hops[1].LossPct)
	}
	if !s.ReachedTarget {
		t.Fatalf("expected reached_target true (loss < 100 on final hop)")
	}
}

func TestTracerouteNotReached(t *testing.T) {
	records := []devapi.Record{
		{"hop": "1", "address": "10.0.0.1", "loss": "0%"},
		{"hop": "2", "address": "10.0.0.2", "loss": "100%"},
	}
	s := Traceroute("8.8.8.8", records)
	if s.ReachedTarget {
		t.Fatalf("expected reached_target false")
	}
}
