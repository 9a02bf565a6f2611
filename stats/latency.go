package stats

import (
	"sort"
	"sync"
	"time"
)

// LatencyTracker keeps a bounded ring of durations for percentile estimates.
type LatencyTracker struct {
	mu      sync.Mutex
	samples []time.Duration
	count   int
	idx     int
}

func NewLatencyTracker(size int) *LatencyTracker {
	if size <= 0 {
		size = 128
	}
	return &LatencyTracker{samples: make([]time.Duration, size)}
}

func (t *LatencyTracker) Observe(d time.Duration) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.samples[t.idx] = d
	t.idx = (t.idx + 1) % len(t.samples)
	if t.count < len(t.samples) {
		t.count++
	}
	t.mu.Unlock()
}

type LatencySnapshot struct {
	P50 time.Duration
	P99 time.Duration
	N   int
}

func (t *LatencyTracker) Snapshot() LatencySnapshot {
	if t == nil {
		return LatencySnapshot{}
	}
	t.mu.Lock()
	values := make([]time.Duration, t.count)
	copy(values, t.samples[:t.count])
	t.mu.Unlock()
	if len(values) == 0 {
		return LatencySnapshot{}
	}
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })
	return LatencySnapshot{
		P50: values[len(values)/2],
		P99: values[int(float64(len(values)-1)*0.99)],
		N:   len(values),
	}
}
