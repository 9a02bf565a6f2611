// Package stats tracks session counters (polls, commands, preview frames) plus
// per-sink preview cycle latency for display in the dashboard and for export
// through Prometheus.
package stats

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Session-level counter names.
const (
	PollOK       = "poll_ok"
	PollFailed   = "poll_failed"
	PollStale    = "poll_stale"
	CommandOK    = "command_ok"
	CommandNack  = "command_rejected"
	CommandError = "command_failed"
	StopDeclined = "stop_declined"
	SnapshotSent = "relay_published"
)

// Per-sink counter names.
const (
	FramesFetched   = "frames_fetched"
	FramesUnchanged = "frames_unchanged"
	StreamRetries   = "stream_retries"
)

// Tracker tracks session statistics
type Tracker struct {
	// counters live in sync.Map + atomic.Uint64 so hot-path increments don't fight over a mutex
	counters     sync.Map // string -> *atomic.Uint64
	sinkCounters sync.Map // "counter|sink" -> *atomic.Uint64
	latency      sync.Map // sink -> *LatencyTracker
	start        atomic.Int64
}

// NewTracker creates a new stats tracker
func NewTracker() *Tracker {
	t := &Tracker{}
	t.start.Store(time.Now().UnixNano())
	return t
}

// Inc increases a session-level counter.
func (t *Tracker) Inc(name string) {
	if t == nil {
		return
	}
	incrementCounter(&t.counters, name)
}

// IncSink increases a per-sink counter.
func (t *Tracker) IncSink(name, sink string) {
	if t == nil {
		return
	}
	name = strings.TrimSpace(name)
	sink = strings.TrimSpace(sink)
	if name == "" || sink == "" {
		return
	}
	incrementCounter(&t.sinkCounters, name+"|"+sink)
}

// ObserveCycle records one full preview cycle (fetch, render, advance) for a sink.
func (t *Tracker) ObserveCycle(sink string, d time.Duration) {
	if t == nil || sink == "" {
		return
	}
	value, ok := t.latency.Load(sink)
	if !ok {
		value, _ = t.latency.LoadOrStore(sink, NewLatencyTracker(128))
	}
	value.(*LatencyTracker).Observe(d)
}

// Count returns one session-level counter.
func (t *Tracker) Count(name string) uint64 {
	if t == nil {
		return 0
	}
	if value, ok := t.counters.Load(name); ok {
		return value.(*atomic.Uint64).Load()
	}
	return 0
}

// SinkCount returns one per-sink counter.
func (t *Tracker) SinkCount(name, sink string) uint64 {
	if t == nil {
		return 0
	}
	if value, ok := t.sinkCounters.Load(name + "|" + sink); ok {
		return value.(*atomic.Uint64).Load()
	}
	return 0
}

// Counts returns a copy of all session-level counters.
func (t *Tracker) Counts() map[string]uint64 {
	counts := make(map[string]uint64)
	if t == nil {
		return counts
	}
	t.counters.Range(func(key, value any) bool {
		counts[key.(string)] = value.(*atomic.Uint64).Load()
		return true
	})
	return counts
}

// SinkCounts returns a copy of one per-sink counter keyed by sink name.
func (t *Tracker) SinkCounts(name string) map[string]uint64 {
	counts := make(map[string]uint64)
	if t == nil {
		return counts
	}
	prefix := name + "|"
	t.sinkCounters.Range(func(key, value any) bool {
		k := key.(string)
		if strings.HasPrefix(k, prefix) {
			counts[strings.TrimPrefix(k, prefix)] = value.(*atomic.Uint64).Load()
		}
		return true
	})
	return counts
}

// Cycle returns the preview cycle latency percentiles for a sink.
func (t *Tracker) Cycle(sink string) LatencySnapshot {
	if t == nil {
		return LatencySnapshot{}
	}
	if value, ok := t.latency.Load(sink); ok {
		return value.(*LatencyTracker).Snapshot()
	}
	return LatencySnapshot{}
}

// GetUptime returns how long the tracker has been running
func (t *Tracker) GetUptime() time.Duration {
	if t == nil {
		return 0
	}
	return time.Since(time.Unix(0, t.start.Load()))
}

// SnapshotLines returns human-readable stats ready for console display.
func (t *Tracker) SnapshotLines() []string {
	if t == nil {
		return nil
	}
	return []string{
		fmt.Sprintf("Polls: ok=%d failed=%d stale=%d",
			t.Count(PollOK), t.Count(PollFailed), t.Count(PollStale)),
		fmt.Sprintf("Commands: ok=%d rejected=%d failed=%d declined=%d",
			t.Count(CommandOK), t.Count(CommandNack), t.Count(CommandError), t.Count(StopDeclined)),
		formatSinkCounts("Frames", t.SinkCounts(FramesFetched)),
	}
}

func formatSinkCounts(label string, counts map[string]uint64) string {
	var builder strings.Builder
	builder.WriteString(label)
	builder.WriteString(": ")
	if len(counts) == 0 {
		builder.WriteString("(none)")
		return builder.String()
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for i, k := range keys {
		if i > 0 {
			builder.WriteString(", ")
		}
		fmt.Fprintf(&builder, "%s=%d", k, counts[k])
	}
	return builder.String()
}

func incrementCounter(m *sync.Map, key string) {
	if strings.TrimSpace(key) == "" {
		return
	}
	if value, ok := m.Load(key); ok {
		value.(*atomic.Uint64).Add(1)
		return
	}
	counter := &atomic.Uint64{}
	actual, loaded := m.LoadOrStore(key, counter)
	if loaded {
		actual.(*atomic.Uint64).Add(1)
		return
	}
	counter.Add(1)
}
