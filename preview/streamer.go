// Package preview runs the per-sink preview pull loop. Each sink has one
// Streamer with at most one request outstanding against the device at a time.
package preview

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zeebo/xxh3"

	"recstatus/internal/ratelimit"
	"recstatus/stats"
)

// Policy selects how the loop paces itself.
type Policy string

const (
	// Negotiated fetches, renders, then asks the device to advance; the advance
	// response gates the next fetch.
	Negotiated Policy = "negotiated"
	// FixedDelay fetches on a fixed pause after each render, without advance.
	FixedDelay Policy = "fixed_delay"
)

// ErrBusy is returned by Start when the streamer is already running.
var ErrBusy = errors.New("preview: streamer already running")

// Client is the slice of the device API the streamer needs.
type Client interface {
	Frame(ctx context.Context, sink string, token int64) ([]byte, error)
	Advance(ctx context.Context, sink string) error
}

// Renderer displays a frame. ShowFrame returns once the frame is on screen.
type Renderer interface {
	ShowFrame(ctx context.Context, f Frame) error
}

// Frame is one fetched preview image.
type Frame struct {
	Sink      string
	Seq       uint64
	Data      []byte
	Hash      uint64
	Changed   bool
	FetchedAt time.Time
}

// Options tunes a Streamer.
type Options struct {
	Policy       Policy
	FallbackPace time.Duration
	RetryBase    time.Duration
	RetryMax     time.Duration
	Logger       *log.Logger
	Stats        *stats.Tracker
}

// Streamer pulls preview frames for one sink.
type Streamer struct {
	sink     string
	client   Client
	renderer Renderer
	opts     Options
	logger   *log.Logger
	failures *ratelimit.Counter

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	inFlight atomic.Int32
	peak     atomic.Int32
	frames   atomic.Uint64

	lastToken int64
	lastHash  uint64
	haveHash  bool
}

// NewStreamer binds a streamer to sink. It does nothing until Start.
func NewStreamer(sink string, client Client, renderer Renderer, opts Options) *Streamer {
	if opts.Policy != FixedDelay {
		opts.Policy = Negotiated
	}
	if opts.FallbackPace <= 0 {
		opts.FallbackPace = 750 * time.Millisecond
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Streamer{
		sink:     sink,
		client:   client,
		renderer: renderer,
		opts:     opts,
		logger:   logger,
		failures: ratelimit.NewCounter(30 * time.Second),
	}
}

// Sink returns the sink name this streamer is bound to.
func (s *Streamer) Sink() string {
	if s == nil {
		return ""
	}
	return s.sink
}

// Policy returns the effective pacing policy.
func (s *Streamer) Policy() Policy {
	if s == nil {
		return Negotiated
	}
	return s.opts.Policy
}

// Start launches the loop bound to ctx. Cancelling ctx or calling Stop ends it.
func (s *Streamer) Start(ctx context.Context) error {
	if s == nil {
		return errors.New("preview: nil streamer")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		select {
		case <-s.done:
		default:
			return ErrBusy
		}
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(loopCtx, s.done)
	return nil
}

// Stop cancels the loop and waits for it to release its request.
func (s *Streamer) Stop() {
	if s == nil {
		return
	}
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the loop goroutine is alive.
func (s *Streamer) Running() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return false
	}
	select {
	case <-done:
		return false
	default:
		return true
	}
}

// InFlight returns the number of outstanding device requests (0 or 1).
func (s *Streamer) InFlight() int32 {
	if s == nil {
		return 0
	}
	return s.inFlight.Load()
}

// PeakInFlight returns the highest InFlight value ever observed.
func (s *Streamer) PeakInFlight() int32 {
	if s == nil {
		return 0
	}
	return s.peak.Load()
}

// Frames returns the number of frames rendered so far.
func (s *Streamer) Frames() uint64 {
	if s == nil {
		return 0
	}
	return s.frames.Load()
}

func (s *Streamer) run(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	bo := newBackoff(s.opts.RetryBase, s.opts.RetryMax)
	var seq uint64
	for ctx.Err() == nil {
		cycleStart := time.Now()

		var data []byte
		err := s.retry(ctx, bo, "fetch", func() error {
			var ferr error
			data, ferr = s.client.Frame(ctx, s.sink, s.nextToken())
			return ferr
		})
		if err != nil {
			return
		}
		seq++
		frame := s.newFrame(seq, data)
		s.opts.Stats.IncSink(stats.FramesFetched, s.sink)
		if !frame.Changed {
			s.opts.Stats.IncSink(stats.FramesUnchanged, s.sink)
		}

		if s.renderer != nil {
			if rerr := s.renderer.ShowFrame(ctx, frame); rerr != nil {
				if ctx.Err() != nil {
					return
				}
				s.logFailure("render", rerr)
			}
		}
		s.frames.Add(1)

		switch s.opts.Policy {
		case FixedDelay:
			if !sleepWithContext(ctx, s.opts.FallbackPace) {
				return
			}
		default:
			err = s.retry(ctx, bo, "advance", func() error {
				return s.client.Advance(ctx, s.sink)
			})
			if err != nil {
				return
			}
		}
		s.opts.Stats.ObserveCycle(s.sink, time.Since(cycleStart))
	}
}

// retry runs fn until it succeeds or ctx ends. Only one fn call is ever
// outstanding.
func (s *Streamer) retry(ctx context.Context, bo *backoff, step string, fn func() error) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.enter()
		err := fn()
		s.leave()
		if err == nil {
			bo.Reset()
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.opts.Stats.IncSink(stats.StreamRetries, s.sink)
		s.logFailure(step, err)
		if !sleepWithContext(ctx, bo.Next()) {
			return ctx.Err()
		}
	}
}

func (s *Streamer) enter() {
	n := s.inFlight.Add(1)
	for {
		peak := s.peak.Load()
		if n <= peak || s.peak.CompareAndSwap(peak, n) {
			return
		}
	}
}

func (s *Streamer) leave() {
	s.inFlight.Add(-1)
}

func (s *Streamer) newFrame(seq uint64, data []byte) Frame {
	hash := xxh3.Hash(data)
	changed := !s.haveHash || hash != s.lastHash
	s.lastHash = hash
	s.haveHash = true
	return Frame{
		Sink:      s.sink,
		Seq:       seq,
		Data:      data,
		Hash:      hash,
		Changed:   changed,
		FetchedAt: time.Now(),
	}
}

// nextToken returns a strictly increasing millisecond cache-buster.
func (s *Streamer) nextToken() int64 {
	token := time.Now().UnixMilli()
	if token <= s.lastToken {
		token = s.lastToken + 1
	}
	s.lastToken = token
	return token
}

func (s *Streamer) logFailure(step string, err error) {
	if total, ok := s.failures.Inc(); ok {
		s.logger.Printf("preview %s: %s failed (%d failures): %v", s.sink, step, total, err)
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (p Policy) String() string { return string(p) }

// ParsePolicy maps a config value to a Policy.
func ParsePolicy(v string) (Policy, error) {
	switch Policy(v) {
	case "", Negotiated:
		return Negotiated, nil
	case FixedDelay:
		return FixedDelay, nil
	}
	return "", fmt.Errorf("preview: unknown policy %q", v)
}
