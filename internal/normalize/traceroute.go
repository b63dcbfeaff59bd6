package normalize

import (
	"sort"
	"strconv"

	"github.com/tripleplay/mikrotik-collector/internal/devapi"
)

// Hop is one traceroute hop's canonical summary.
type Hop struct {
	Hop     int      `json:"hop"`
	Address string   `json:"address,omitempty"`
	LossPct float64  `json:"loss_pct"`
	Sent    int      `json:"sent"`
	LastMs  *float64 `json:"last_ms,omitempty"`
	AvgMs   *float64 `json:"avg_ms,omitempty"`
	BestMs  *float64 `json:"best_ms,omitempty"`
	WorstMs *float64 `json:"worst_ms,omitempty"`
}

// TracerouteSummary is the canonical traceroute output of §3/§4.5.
type TracerouteSummary struct {
	Target        string `json:"target"`
	HopCount      int    `json:"hop_count"`
	Hops          []Hop  `json:"hops"`
	ReachedTarget bool   `json:"reached_target"`
}

// Traceroute reduces raw per-hop records into a TracerouteSummary ordered
// by ascending hop number. When several records share a hop number, only
// the last one is kept (devapi.Execute applies the same rule upstream).
func Traceroute(target string, records []devapi.Record) TracerouteSummary {
	hops := make([]Hop, 0, len(records))
	index := make(map[int]int, len(records))
	for _, r := range records {
		hopNum, _ := strconv.Atoi(r["hop"])
		h := Hop{
			Hop:     hopNum,
			Address: r["address"],
			Sent:    atoiOr(r["sent"], 0),
		}
		h.LossPct = parsePercent(r["loss"])
		h.LastMs = parseOptionalMs(r["last"])
		h.AvgMs = parseOptionalMs(r["avg"])
		h.BestMs = parseOptionalMs(r["best"])
		h.WorstMs = parseOptionalMs(r["worst"])
		if i, seen := index[hopNum]; seen {
			hops[i] = h
			continue
		}
		index[hopNum] = len(hops)
		hops = append(hops, h)
	}

	sort.Slice(hops, func(i, j int) bool { return hops[i].Hop < hops[j].Hop })

	summary := TracerouteSummary{
		Target:   target,
		HopCount: len(hops),
		Hops:     hops,
	}

	if len(hops) > 0 {
		last := hops[len(hops)-1]
		summary.ReachedTarget = last.Address == target || last.LossPct < 100
	}

	return summary
}

func parseOptionalMs(raw string) *float64 {
	ms, ok := ParseTimeMs(raw)
	if !ok {
		return nil
	}
	r := round2(ms)
	return &r
}

func parsePercent(raw string) float64 {
	if raw == "" {
		return 0
	}
	s := raw
	if len(s) > 0 && s[len(s)-1] == '%' {
		s = s[:len(s)-1]
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

func atoiOr(raw string, fallback int) int {
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
