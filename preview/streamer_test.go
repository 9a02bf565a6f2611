package preview

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"recstatus/stats"
)

type fakeClient struct {
	mu           sync.Mutex
	calls        []string
	inFlight     atomic.Int32
	overlap      atomic.Bool
	failFetches  int
	failAdvances int
	frame        func(n int) []byte
}

func (c *fakeClient) track(call string) func() {
	if c.inFlight.Add(1) > 1 {
		c.overlap.Store(true)
	}
	c.mu.Lock()
	c.calls = append(c.calls, call)
	c.mu.Unlock()
	return func() { c.inFlight.Add(-1) }
}

func (c *fakeClient) Frame(ctx context.Context, sink string, token int64) ([]byte, error) {
	defer c.track("frame")()
	time.Sleep(time.Millisecond)
	c.mu.Lock()
	fail := c.failFetches > 0
	if fail {
		c.failFetches--
	}
	n := len(c.calls)
	c.mu.Unlock()
	if fail {
		return nil, errors.New("connection reset")
	}
	if c.frame != nil {
		return c.frame(n), nil
	}
	return []byte("jpeg"), nil
}

func (c *fakeClient) Advance(ctx context.Context, sink string) error {
	defer c.track("advance")()
	time.Sleep(time.Millisecond)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failAdvances > 0 {
		c.failAdvances--
		return errors.New("advance timed out")
	}
	return nil
}

func (c *fakeClient) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.calls))
	copy(out, c.calls)
	return out
}

type fakeRenderer struct {
	mu     sync.Mutex
	frames []Frame
	notify chan struct{}
}

func newFakeRenderer() *fakeRenderer {
	return &fakeRenderer{notify: make(chan struct{}, 64)}
}

func (r *fakeRenderer) ShowFrame(ctx context.Context, f Frame) error {
	r.mu.Lock()
	r.frames = append(r.frames, f)
	r.mu.Unlock()
	select {
	case r.notify <- struct{}{}:
	default:
	}
	return nil
}

func (r *fakeRenderer) waitFrames(t *testing.T, n int) []Frame {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		r.mu.Lock()
		if len(r.frames) >= n {
			out := append([]Frame(nil), r.frames...)
			r.mu.Unlock()
			return out
		}
		r.mu.Unlock()
		select {
		case <-r.notify:
		case <-deadline:
			t.Fatalf("timed out waiting for %d frames", n)
		}
	}
}

func TestNegotiatedLoopAlternatesFetchAndAdvance(t *testing.T) {
	client := &fakeClient{}
	renderer := newFakeRenderer()
	tr := stats.NewTracker()
	s := NewStreamer("cam1", client, renderer, Options{Stats: tr})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	renderer.waitFrames(t, 3)
	s.Stop()

	calls := client.snapshot()
	for i, call := range calls {
		want := "frame"
		if i%2 == 1 {
			want = "advance"
		}
		if call != want {
			t.Fatalf("call %d: expected %s, got %s (%v)", i, want, call, calls)
		}
	}
	if client.overlap.Load() || s.PeakInFlight() > 1 {
		t.Fatalf("more than one request outstanding")
	}
	if tr.SinkCount(stats.FramesFetched, "cam1") < 3 {
		t.Fatalf("expected frames counted, got %d", tr.SinkCount(stats.FramesFetched, "cam1"))
	}
}

func TestFetchFailureIsRetried(t *testing.T) {
	client := &fakeClient{failFetches: 2}
	renderer := newFakeRenderer()
	tr := stats.NewTracker()
	s := NewStreamer("cam1", client, renderer, Options{
		RetryBase: time.Millisecond,
		RetryMax:  2 * time.Millisecond,
		Stats:     tr,
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	renderer.waitFrames(t, 1)
	s.Stop()
	if got := tr.SinkCount(stats.StreamRetries, "cam1"); got != 2 {
		t.Fatalf("expected 2 retries, got %d", got)
	}
}

func TestAdvanceFailureIsRetriedWithoutRefetch(t *testing.T) {
	client := &fakeClient{failAdvances: 2}
	renderer := newFakeRenderer()
	tr := stats.NewTracker()
	s := NewStreamer("cam1", client, renderer, Options{
		RetryBase: time.Millisecond,
		RetryMax:  4 * time.Millisecond,
		Stats:     tr,
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	renderer.waitFrames(t, 2)
	s.Stop()

	calls := client.snapshot()
	want := []string{"frame", "advance", "advance", "advance", "frame"}
	if len(calls) < len(want) {
		t.Fatalf("expected at least %v, got %v", want, calls)
	}
	for i, call := range want {
		if calls[i] != call {
			t.Fatalf("call %d: expected %s, got %s (%v)", i, call, calls[i], calls)
		}
	}
	if got := tr.SinkCount(stats.StreamRetries, "cam1"); got != 2 {
		t.Fatalf("expected 2 retries, got %d", got)
	}
	if client.overlap.Load() || s.PeakInFlight() != 1 {
		t.Fatalf("expected exactly one request outstanding, peak %d", s.PeakInFlight())
	}
}

func TestFixedDelayNeverAdvances(t *testing.T) {
	client := &fakeClient{}
	renderer := newFakeRenderer()
	s := NewStreamer("cam1", client, renderer, Options{Policy: FixedDelay, FallbackPace: time.Millisecond})
	if s.Policy() != FixedDelay {
		t.Fatalf("expected fixed delay policy")
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	renderer.waitFrames(t, 3)
	s.Stop()
	for _, call := range client.snapshot() {
		if call != "frame" {
			t.Fatalf("fixed delay policy issued %s", call)
		}
	}
}

func TestUnchangedFramesAreFlagged(t *testing.T) {
	client := &fakeClient{frame: func(int) []byte { return []byte("same") }}
	renderer := newFakeRenderer()
	s := NewStreamer("cam1", client, renderer, Options{})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	frames := renderer.waitFrames(t, 2)
	s.Stop()
	if !frames[0].Changed {
		t.Fatalf("first frame should be marked changed")
	}
	if frames[1].Changed {
		t.Fatalf("identical second frame should be unchanged")
	}
	if frames[0].Hash != frames[1].Hash || frames[1].Seq != 2 {
		t.Fatalf("unexpected frame metadata %+v", frames[1])
	}
}

func TestStartTwiceIsBusyAndStopReleases(t *testing.T) {
	client := &fakeClient{}
	s := NewStreamer("cam1", client, newFakeRenderer(), Options{})
	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start(ctx); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	s.Stop()
	if s.Running() {
		t.Fatalf("expected loop to exit after Stop")
	}
	if s.InFlight() != 0 {
		t.Fatalf("expected no outstanding request after Stop")
	}
	if err := s.Start(ctx); err != nil {
		t.Fatalf("restart after Stop: %v", err)
	}
	s.Stop()
}

func TestParentCancelEndsLoop(t *testing.T) {
	s := NewStreamer("cam1", &fakeClient{}, newFakeRenderer(), Options{})
	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	cancel()
	deadline := time.Now().Add(time.Second)
	for s.Running() {
		if time.Now().After(deadline) {
			t.Fatalf("loop did not exit on cancel")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestBackoffDoublesAndResets(t *testing.T) {
	b := newBackoff(10*time.Millisecond, 35*time.Millisecond)
	want := []time.Duration{10, 20, 35, 35}
	for i, w := range want {
		if got := b.Next(); got != w*time.Millisecond {
			t.Fatalf("step %d: expected %dms, got %s", i, w, got)
		}
	}
	b.Reset()
	if got := b.Next(); got != 10*time.Millisecond {
		t.Fatalf("expected base after reset, got %s", got)
	}
}

func TestParsePolicy(t *testing.T) {
	if p, err := ParsePolicy(""); err != nil || p != Negotiated {
		t.Fatalf("empty policy should default to negotiated")
	}
	if _, err := ParsePolicy("timer"); err == nil {
		t.Fatalf("expected error for unknown policy")
	}
}
