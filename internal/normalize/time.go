// Package normalize converts raw device records (loosely-typed attribute
// maps from §4.4) into the canonical bounded numeric summaries of §4.5.
package normalize

import (
	"strconv"
	"strings"
)

// ParseTimeMs parses a device time field such as "12ms", "850us", or "2s"
// into milliseconds. Non-numeric values and "*" (no reply) return
// (0, false). The bare "Xs" (no "ms" suffix) form is ambiguous in the
// original source; per §4.5/§9 the canonical rule here treats it as
// seconds and multiplies by 1000.
func ParseTimeMs(raw string) (float64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "*" {
		return 0, false
	}

	switch {
	case strings.HasSuffix(raw, "us"):
		v, err := strconv.ParseFloat(raw[:len(raw)-2], 64)
		if err != nil {
			return 0, false
		}
		return v / 1000.0, true
	case strings.HasSuffix(raw, "ms"):
		v, err := strconv.ParseFloat(raw[:len(raw)-2], 64)
		if err != nil {
			return 0, false
		}
		return v, true
	case strings.HasSuffix(raw, "s"):
		v, err := strconv.ParseFloat(raw[:len(raw)-1], 64)
		if err != nil {
			return 0, false
		}
		return v * 1000.0, true
	default:
		// No unit suffix: treat as already-milliseconds if it parses.
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return 0, false
		}
		return v, true
	}
}

// round2 rounds to 2 decimal places, matching §4.5's rounding rule.
func round2(v float64) float64 {
	return float64(int64(v*100+sign(v)*0.5)) / 100
}

func sign(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}
