package ratelimit

import (
	"testing"
	"time"
)

func TestCounterThrottlesWithinInterval(t *testing.T) {
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	c := NewCounter(time.Minute)
	c.now = func() time.Time { return now }

	if total, ok := c.Inc(); !ok || total != 1 {
		t.Fatalf("first Inc should log, got total=%d ok=%v", total, ok)
	}
	if total, ok := c.Inc(); ok || total != 2 {
		t.Fatalf("second Inc inside interval should be throttled, got total=%d ok=%v", total, ok)
	}
	now = now.Add(time.Minute)
	if total, ok := c.Inc(); !ok || total != 3 {
		t.Fatalf("Inc after interval should log, got total=%d ok=%v", total, ok)
	}
	if c.Total() != 3 {
		t.Fatalf("expected total 3, got %d", c.Total())
	}
}

func TestCounterZeroIntervalAlwaysLogs(t *testing.T) {
	c := NewCounter(0)
	for i := 0; i < 3; i++ {
		if _, ok := c.Inc(); !ok {
			t.Fatalf("expected every Inc to log with zero interval")
		}
	}
}

func TestNilCounter(t *testing.T) {
	var c *Counter
	if _, ok := c.Inc(); ok {
		t.Fatalf("nil counter should never allow logging")
	}
}
