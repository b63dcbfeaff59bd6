// Package main provides the devicesim debug binary: a standalone
// simulated RouterOS API socket for exercising a collector build by hand.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/tripleplay/mikrotik-collector/internal/devicesim"
)

func main() {
	addr := flag.String("addr", ":8728", "RouterOS API listen address")
	username := flag.String("username", "admin", "accepted login username")
	password := flag.String("password", "admin", "accepted login password")
	useChallenge := flag.Bool("challenge", false, "require legacy MD5 challenge-response login instead of plaintext")
	pingTimes := flag.String("ping-times", "1,1,2,1", "comma-separated ping reply times in ms, empty entry = timeout (e.g. \"1,,2\")")
	flag.Parse()

	cfg := devicesim.Config{
		Addr:         *addr,
		Username:     *username,
		Password:     *password,
		UseChallenge: *useChallenge,
		PingProbes:   parsePingTimes(*pingTimes),
		TracerouteHops: []devicesim.Hop{
			{Hop: 1, Address: "10.0.0.1", Loss: "0", Sent: "3", Last: "1", Avg: "1", Best: "1", Worst: "2"},
			{Hop: 2, Address: "203.0.113.1", Loss: "0", Sent: "3", Last: "8", Avg: "7", Best: "6", Worst: "9"},
		},
		Resources: map[string]string{
			"uptime":           "1w2d3h4m5s",
			"version":          "7.15",
			"board-name":       "devicesim",
			"cpu-load":         "3",
			"free-memory":      "134217728",
			"total-memory":     "268435456",
			"architecture-name": "arm64",
		},
	}

	server := devicesim.New(cfg)
	if err := server.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "error starting devicesim: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("devicesim listening on %s (user=%s challenge=%v)\n", server.Addr(), *username, *useChallenge)
	fmt.Println("Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\nShutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	server.Stop(ctx)
	fmt.Println("devicesim stopped")
}

func parsePingTimes(raw string) []devicesim.Probe {
	parts := strings.Split(raw, ",")
	probes := make([]devicesim.Probe, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			probes = append(probes, devicesim.Probe{})
			continue
		}
		if _, err := strconv.Atoi(p); err != nil {
			continue
		}
		probes = append(probes, devicesim.Probe{TimeMs: p})
	}
	return probes
}
