// Package counter drives the elapsed recording counter. The display is derived
// from a start instant on every tick, so it never drifts with poll cadence.
package counter

import (
	"fmt"
	"sync"
	"time"

	"recstatus/status"
)

// ZeroDisplay is published whenever the counter is stopped.
const ZeroDisplay = "000:00.000"

// State is the tracker lifecycle.
type State int

const (
	Stopped State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "stopped"
}

// Publisher receives display updates. Calls come from the tracker goroutine.
type Publisher interface {
	SetCounter(display string)
	SetPulse(on bool)
}

// Config holds tick cadences. Now overrides the clock in tests.
type Config struct {
	Tick  time.Duration
	Pulse time.Duration
	Now   func() time.Time
}

// Tracker owns CounterState. Start and Stop are serialized; while Running there
// is exactly one goroutine ticking, and while Stopped there is none.
type Tracker struct {
	cfg Config
	pub Publisher

	// runMu serializes Start/Stop including the wait for the old goroutine.
	runMu   sync.Mutex
	running bool
	start   time.Time
	quit    chan struct{}
	done    chan struct{}

	mu      sync.Mutex
	display string
	pulse   bool
}

// NewTracker builds a stopped tracker. A nil publisher is allowed.
func NewTracker(cfg Config, pub Publisher) *Tracker {
	if cfg.Tick <= 0 {
		cfg.Tick = time.Second / 24
	}
	if cfg.Pulse <= 0 {
		cfg.Pulse = 628 * time.Millisecond
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Tracker{cfg: cfg, pub: pub, display: ZeroDisplay}
}

// Start begins counting from ref (now when ref is zero). It is a no-op and
// returns false when the tracker is already running.
func (t *Tracker) Start(ref time.Time) bool {
	if t == nil {
		return false
	}
	t.runMu.Lock()
	defer t.runMu.Unlock()
	if t.running {
		return false
	}
	if ref.IsZero() {
		ref = t.cfg.Now()
	}
	t.running = true
	t.start = ref
	t.quit = make(chan struct{})
	t.done = make(chan struct{})
	t.publish(Format(t.cfg.Now().Sub(ref)))
	go t.loop(ref, t.quit, t.done)
	return true
}

// Stop cancels the tick, waits for it to exit and republishes the zero display.
// It republishes even when already stopped.
func (t *Tracker) Stop() {
	if t == nil {
		return
	}
	t.runMu.Lock()
	defer t.runMu.Unlock()
	if t.running {
		close(t.quit)
		<-t.done
		t.running = false
		t.start = time.Time{}
		t.quit = nil
		t.done = nil
	}
	t.setPulse(false)
	t.publish(ZeroDisplay)
}

// Observe resyncs from a status snapshot: recording starts the counter at
// now - recording_duration unless it is already running; not recording stops it.
func (t *Tracker) Observe(snap status.Snapshot) {
	if t == nil {
		return
	}
	if snap.Recording {
		t.Start(snap.RecordingSince(t.cfg.Now()))
		return
	}
	t.Stop()
}

// State reports whether the tracker is running.
func (t *Tracker) State() State {
	if t == nil {
		return Stopped
	}
	t.runMu.Lock()
	defer t.runMu.Unlock()
	if t.running {
		return Running
	}
	return Stopped
}

// StartedAt returns the start instant while running.
func (t *Tracker) StartedAt() (time.Time, bool) {
	if t == nil {
		return time.Time{}, false
	}
	t.runMu.Lock()
	defer t.runMu.Unlock()
	return t.start, t.running
}

// Display returns the last published display string.
func (t *Tracker) Display() string {
	if t == nil {
		return ZeroDisplay
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.display
}

// Pulse returns the last published pulse state.
func (t *Tracker) Pulse() bool {
	if t == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pulse
}

func (t *Tracker) loop(start time.Time, quit <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	tick := time.NewTicker(t.cfg.Tick)
	defer tick.Stop()
	pulse := time.NewTicker(t.cfg.Pulse)
	defer pulse.Stop()
	on := false
	for {
		select {
		case <-quit:
			return
		case <-tick.C:
			t.publish(Format(t.cfg.Now().Sub(start)))
		case <-pulse.C:
			on = !on
			t.setPulse(on)
		}
	}
}

func (t *Tracker) publish(display string) {
	t.mu.Lock()
	t.display = display
	t.mu.Unlock()
	if t.pub != nil {
		t.pub.SetCounter(display)
	}
}

func (t *Tracker) setPulse(on bool) {
	t.mu.Lock()
	t.pulse = on
	t.mu.Unlock()
	if t.pub != nil {
		t.pub.SetPulse(on)
	}
}

// Format renders d as MMM:SS.mmm. Milliseconds are rounded, minutes are padded
// to three digits and grow past 999 rather than wrap. Negative input shows zero.
func Format(d time.Duration) string {
	ms := d.Round(time.Millisecond).Milliseconds()
	if ms < 0 {
		ms = 0
	}
	minutes := ms / 60000
	seconds := (ms / 1000) % 60
	return fmt.Sprintf("%03d:%02d.%03d", minutes, seconds, ms%1000)
}
