package httpapi

import (
	"strconv"
	"time"

	"github.com/tripleplay/mikrotik-collector/internal/devapi"
)

// commandToOperation maps a generic command string + parameter map onto
// one of the adapter's three shapes (§4.4): recognized prefixes get the
// specialized ping/traceroute treatment, everything else passes through
// as a generic sentence, per §4.8's "unknown command prefixes ... passed
// through" rule.
func (s *Server) commandToOperation(command string, parameters map[string]string) devapi.Operation {
	switch command {
	case "/ping":
		op := devapi.Operation{
			Kind:   devapi.OpPing,
			Target: parameters["address"],
			Count:  atoiOr(parameters["count"], s.cfg.DefaultPingCount),
			Size:   atoiOr(parameters["size"], s.cfg.DefaultPingSize),
		}
		op.Interval = parseIntervalOr(parameters["interval"], s.cfg.DefaultPingInterval)
		return op
	case "/tool/traceroute":
		return devapi.Operation{
			Kind:   devapi.OpTraceroute,
			Target: parameters["address"],
			Count:  atoiOr(parameters["count"], s.cfg.DefaultTracerouteCount),
		}
	default:
		return devapi.Operation{
			Kind:  devapi.OpGeneric,
			Path:  command,
			Attrs: parameters,
		}
	}
}

func atoiOr(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func parseIntervalOr(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v <= 0 {
		return fallback
	}
	return time.Duration(v * float64(time.Second))
}
