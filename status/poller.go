package status

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"recstatus/internal/ratelimit"
	"recstatus/stats"
)

// Source fetches one status snapshot from the device.
type Source interface {
	Status(ctx context.Context) (Snapshot, error)
}

// Subscriber receives every applied snapshot, in registration order.
type Subscriber func(Snapshot)

// Config is the minimal runtime config the poller needs.
type Config struct {
	Interval time.Duration
	// Timeout bounds each status request so in-flight polls cannot pile up.
	Timeout time.Duration
}

// Poller is a clock-driven status reader. Every tick issues one asynchronous
// request; requests are never cancelled individually, and a response older than
// the newest applied one is discarded.
type Poller struct {
	cfg    Config
	src    Source
	logger *log.Logger
	stats  *stats.Tracker
	fails  *ratelimit.Counter

	subMu sync.RWMutex
	subs  []Subscriber

	seq atomic.Uint64

	applyMu sync.Mutex
	applied uint64
	last    Snapshot
	haveAny bool

	wg sync.WaitGroup
}

// New creates a poller with immutable config.
func New(cfg Config, src Source, logger *log.Logger, tracker *stats.Tracker) (*Poller, error) {
	if src == nil {
		return nil, errors.New("status poller: source required")
	}
	if cfg.Interval <= 0 {
		return nil, errors.New("status poller: interval must be > 0")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Poller{
		cfg:    cfg,
		src:    src,
		logger: logger,
		stats:  tracker,
		fails:  ratelimit.NewCounter(30 * time.Second),
	}, nil
}

// Subscribe registers fn for every applied snapshot.
func (p *Poller) Subscribe(fn Subscriber) {
	if p == nil || fn == nil {
		return
	}
	p.subMu.Lock()
	p.subs = append(p.subs, fn)
	p.subMu.Unlock()
}

// Run polls once immediately and then on every tick until ctx is done.
// In-flight requests started by Run are bound to ctx.
func (p *Poller) Run(ctx context.Context) error {
	p.Refresh(ctx)
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.Refresh(ctx)
		}
	}
}

// Refresh issues one asynchronous out-of-band poll and returns immediately.
func (p *Poller) Refresh(ctx context.Context) {
	if p == nil || ctx.Err() != nil {
		return
	}
	seq := p.seq.Add(1)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.poll(ctx, seq)
	}()
}

// PollOnce performs one synchronous poll and reports whether its snapshot was applied.
func (p *Poller) PollOnce(ctx context.Context) bool {
	if p == nil {
		return false
	}
	return p.poll(ctx, p.seq.Add(1))
}

// Wait blocks until every in-flight asynchronous poll has returned.
func (p *Poller) Wait() {
	if p == nil {
		return
	}
	p.wg.Wait()
}

// Last returns the most recently applied snapshot.
func (p *Poller) Last() (Snapshot, bool) {
	if p == nil {
		return Snapshot{}, false
	}
	p.applyMu.Lock()
	defer p.applyMu.Unlock()
	return p.last, p.haveAny
}

func (p *Poller) poll(ctx context.Context, seq uint64) bool {
	reqCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	snap, err := p.src.Status(reqCtx)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		p.stats.Inc(stats.PollFailed)
		if total, ok := p.fails.Inc(); ok {
			p.logger.Printf("status: poll failed (%d total): %v", total, err)
		}
		return false
	}
	snap.Seq = seq
	if snap.At.IsZero() {
		snap.At = time.Now()
	}
	return p.apply(snap)
}

// apply delivers snap unless a newer poll has already been applied.
// Delivery happens under applyMu, so subscribers never run concurrently.
func (p *Poller) apply(snap Snapshot) bool {
	p.applyMu.Lock()
	defer p.applyMu.Unlock()
	if snap.Seq <= p.applied {
		p.stats.Inc(stats.PollStale)
		return false
	}
	p.applied = snap.Seq
	p.last = snap
	p.haveAny = true
	p.stats.Inc(stats.PollOK)

	p.subMu.RLock()
	subs := make([]Subscriber, len(p.subs))
	copy(subs, p.subs)
	p.subMu.RUnlock()

	for _, fn := range subs {
		fn(snap)
	}
	return true
}
