package ui

import (
	"sync"
	"time"

	"github.com/rivo/tview"
)

// frameScheduler coalesces header/pane redraws by id and caps the draw rate.
// The counter ticks faster than a terminal should repaint, so only the latest
// update per id survives each frame.
type frameScheduler struct {
	app          *tview.Application
	pending      map[string]func()
	order        []string
	mu           sync.Mutex
	quit         chan struct{}
	done         chan struct{}
	stopOnce     sync.Once
	started      bool
	frameTime    time.Duration
	drainTimeout time.Duration
	observeDelay func(time.Duration)
}

func newFrameScheduler(app *tview.Application, targetFPS int, drainTimeout time.Duration, observeDelay func(time.Duration)) *frameScheduler {
	if targetFPS <= 0 {
		targetFPS = 30
	}
	if drainTimeout <= 0 {
		drainTimeout = 100 * time.Millisecond
	}
	return &frameScheduler{
		app:          app,
		pending:      make(map[string]func()),
		quit:         make(chan struct{}),
		done:         make(chan struct{}),
		frameTime:    time.Second / time.Duration(targetFPS),
		drainTimeout: drainTimeout,
		observeDelay: observeDelay,
	}
}

func (f *frameScheduler) Start() {
	f.mu.Lock()
	f.started = true
	f.mu.Unlock()
	go f.run()
}

func (f *frameScheduler) Stop() {
	f.stopOnce.Do(func() {
		close(f.quit)
	})
	f.mu.Lock()
	started := f.started
	f.mu.Unlock()
	if !started {
		return
	}
	select {
	case <-f.done:
	case <-time.After(f.drainTimeout):
	}
}

// Schedule replaces any pending update for id. Ids flush in first-scheduled order.
func (f *frameScheduler) Schedule(id string, fn func()) {
	if f == nil {
		return
	}
	f.mu.Lock()
	if _, ok := f.pending[id]; !ok {
		f.order = append(f.order, id)
	}
	f.pending[id] = fn
	f.mu.Unlock()
}

func (f *frameScheduler) run() {
	defer close(f.done)

	ticker := time.NewTicker(f.frameTime)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			f.flush()
		case <-f.quit:
			f.flushBounded(f.drainTimeout)
			return
		}
	}
}

func (f *frameScheduler) flush() {
	f.flushBounded(0)
}

func (f *frameScheduler) flushBounded(max time.Duration) {
	deadline := time.Time{}
	if max > 0 {
		deadline = time.Now().Add(max)
	}
	for {
		if !deadline.IsZero() && time.Now().After(deadline) {
			return
		}
		f.mu.Lock()
		if len(f.pending) == 0 {
			f.mu.Unlock()
			return
		}
		batch := make([]func(), 0, len(f.order))
		for _, id := range f.order {
			batch = append(batch, f.pending[id])
		}
		f.pending = make(map[string]func())
		f.order = f.order[:0]
		f.mu.Unlock()

		queuedAt := time.Now()
		apply := func() {
			for _, fn := range batch {
				fn()
			}
			if f.observeDelay != nil {
				f.observeDelay(time.Since(queuedAt))
			}
		}
		if f.app == nil {
			apply()
			continue
		}
		f.app.QueueUpdateDraw(apply)
	}
}
