// Adapter translates high-level operations (ping, traceroute, generic
// command) into device sentences and collects their streamed replies,
// adapted from the Adapter/Connection split in the ancestor transport
// package but specialized to the RouterOS sentence protocol instead of
// JSON-RPC over HTTP.
package devapi

import (
	"context"
	"strconv"
	"time"
)

// OpKind selects which sentence shape an Operation builds, the tagged
// variant called for in §9 ("Dynamic dispatch in the source").
type OpKind string

const (
	OpPing       OpKind = "ping"
	OpTraceroute OpKind = "traceroute"
	OpGeneric    OpKind = "generic"
)

// Operation describes one call to issue against a router.
type Operation struct {
	Kind OpKind

	// Ping / Traceroute
	Target   string
	Count    int
	Size     int
	Interval time.Duration

	// Generic
	Path  string
	Attrs map[string]string
}

// defaultPingOverhead is added to count*interval to derive the ping
// deadline, per §4.4(b).
const defaultPingOverhead = 5 * time.Second

// Record is one decoded !re's attributes for a single operation.
type Record map[string]string

// Outcome is everything the adapter collected for one Operation: the
// ordered records plus how it terminated.
type Outcome struct {
	Records []Record
	Trap    string // non-empty iff the device returned !trap/!fatal
}

// Execute dispatches op against session and returns its collected
// records. Generic errors surface as *DeviceError carrying the !trap
// message verbatim, per §4.4(a).
func Execute(ctx context.Context, session *Session, op Operation) (*Outcome, error) {
	switch op.Kind {
	case OpPing:
		return executePing(ctx, session, op)
	case OpTraceroute:
		return executeTraceroute(ctx, session, op)
	default:
		return executeGeneric(ctx, session, op.Path, op.Attrs)
	}
}

func executeGeneric(ctx context.Context, session *Session, path string, attrs map[string]string) (*Outcome, error) {
	ch, err := session.Call(path, attrs)
	if err != nil {
		return nil, err
	}
	return collect(ctx, session.Endpoint.Host, path, ch)
}

func executePing(ctx context.Context, session *Session, op Operation) (*Outcome, error) {
	count := op.Count
	size := op.Size
	interval := op.Interval
	if size == 0 {
		size = 64
	}
	if interval == 0 {
		interval = time.Second
	}

	attrs := map[string]string{
		"address":  op.Target,
		"count":    strconv.Itoa(count),
		"size":     strconv.Itoa(size),
		"interval": strconv.FormatFloat(interval.Seconds(), 'f', -1, 64),
	}

	deadline := time.Duration(count)*interval + defaultPingOverhead
	callCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	ch, err := session.Call("/ping", attrs)
	if err != nil {
		return nil, err
	}
	return collect(callCtx, session.Endpoint.Host, "/ping", ch)
}

func executeTraceroute(ctx context.Context, session *Session, op Operation) (*Outcome, error) {
	attrs := map[string]string{
		"address": op.Target,
		"count":   strconv.Itoa(op.Count),
	}

	ch, err := session.Call("/tool/traceroute", attrs)
	if err != nil {
		return nil, err
	}

	hopDedup := make(map[string]int) // hop number -> index into records
	earlyStop := func(records []Record) bool {
		last := records[len(records)-1]
		return last["address"] == op.Target && last["loss"] == "0"
	}

	return collectDeduped(ctx, session.Endpoint.Host, "/tool/traceroute", ch, hopDedup, "hop", earlyStop)
}

// collect drains ch until a terminal reply or ctx's deadline. On
// cancellation the tag is simply abandoned: the pending sink stays
// registered in the session until the device's terminal reply finally
// arrives (or the session is evicted), per §4.7's abandonment model.
func collect(ctx context.Context, router, op string, ch <-chan *Reply) (*Outcome, error) {
	var records []Record
	for {
		select {
		case r, ok := <-ch:
			if !ok {
				return nil, &CollectorError{Op: op, Router: router, Err: errSessionDead}
			}
			switch r.Code {
			case ReplyRecord:
				records = append(records, Record(r.Attrs))
			case ReplyDone:
				return &Outcome{Records: records}, nil
			case ReplyTrap, ReplyFatal:
				return nil, &DeviceError{Router: router, Command: op, Message: r.TrapMessage()}
			}
		case <-ctx.Done():
			return nil, &TimeoutError{Router: router, Op: op}
		}
	}
}

// collectDeduped is collect, but keeps only the latest record per
// dedupKey value (e.g. traceroute's "hop" field), per §4.4(c)'s
// dedup-by-hop requirement, and supports an optional early-stop
// predicate evaluated against the record list after each arrival.
func collectDeduped(ctx context.Context, router, op string, ch <-chan *Reply, seen map[string]int, dedupKey string, earlyStop func([]Record) bool) (*Outcome, error) {
	var records []Record
	for {
		select {
		case r, ok := <-ch:
			if !ok {
				return nil, &CollectorError{Op: op, Router: router, Err: errSessionDead}
			}
			switch r.Code {
			case ReplyRecord:
				rec := Record(r.Attrs)
				key := rec[dedupKey]
				if idx, exists := seen[key]; exists {
					records[idx] = rec
				} else {
					seen[key] = len(records)
					records = append(records, rec)
				}
				if earlyStop != nil && earlyStop(records) {
					return &Outcome{Records: records}, nil
				}
			case ReplyDone:
				return &Outcome{Records: records}, nil
			case ReplyTrap, ReplyFatal:
				return nil, &DeviceError{Router: router, Command: op, Message: r.TrapMessage()}
			}
		case <-ctx.Done():
			return nil, &TimeoutError{Router: router, Op: op}
		}
	}
}
