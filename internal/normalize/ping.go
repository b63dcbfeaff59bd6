package normalize

import "github.com/tripleplay/mikrotik-collector/internal/devapi"

// PingSummary is the canonical ping output of §3/§4.5.
type PingSummary struct {
	Sent            int      `json:"sent"`
	Received        int      `json:"received"`
	LossPct         float64  `json:"loss_pct"`
	AvailabilityPct float64  `json:"availability_pct"`
	MinMs           *float64 `json:"min_ms,omitempty"`
	AvgMs           *float64 `json:"avg_ms,omitempty"`
	MaxMs           *float64 `json:"max_ms,omitempty"`
	JitterMs        *float64 `json:"jitter_ms,omitempty"`
	Status          string   `json:"status"`
}

const (
	StatusReachable   = "reachable"
	StatusUnreachable = "unreachable"
)

// Ping reduces the raw !re records from a /ping call into a PingSummary,
// per §4.5's computation.
func Ping(records []devapi.Record) PingSummary {
	sent := len(records)

	var times []float64
	for _, r := range records {
		if isLost(r) {
			continue
		}
		if ms, ok := ParseTimeMs(r["time"]); ok {
			times = append(times, ms)
		}
	}
	received := len(times)

	summary := PingSummary{Sent: sent, Received: received}

	if sent == 0 {
		summary.LossPct = 100
		summary.AvailabilityPct = 0
		summary.Status = StatusUnreachable
		return summary
	}

	summary.LossPct = round2(100 * float64(sent-received) / float64(sent))
	summary.AvailabilityPct = round2(100 - summary.LossPct)

	if received == 0 {
		summary.Status = StatusUnreachable
		return summary
	}

	min, max, sum := times[0], times[0], 0.0
	for _, t := range times {
		if t < min {
			min = t
		}
		if t > max {
			max = t
		}
		sum += t
	}
	avg := sum / float64(len(times))

	jitter := 0.0
	if len(times) >= 2 {
		jitter = max - min
	}

	minR, avgR, maxR, jitterR := round2(min), round2(avg), round2(max), round2(jitter)
	summary.MinMs = &minR
	summary.AvgMs = &avgR
	summary.MaxMs = &maxR
	summary.JitterMs = &jitterR
	summary.Status = StatusReachable
	return summary
}

// isLost reports whether a ping !re record represents a lost probe:
// missing "time", or an explicit timeout signal ("timeout" flag word or
// status=timeout).
func isLost(r devapi.Record) bool {
	if r["status"] == "timeout" {
		return true
	}
	if _, ok := r["timeout"]; ok {
		return true
	}
	t, ok := r["time"]
	return !ok || t == ""
}
