// Package transport issues record/stop commands to the device. Every command
// that reaches the network is followed by exactly one status refresh.
package transport

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"recstatus/stats"
	"recstatus/status"
)

// StopPrompt is the confirmation question shown before stopping.
const StopPrompt = "Are you sure you want to stop recording now?"

// Result is the outcome of a transport request.
type Result int

const (
	// Accepted means the device reported success.
	Accepted Result = iota
	// Rejected means the device answered success=false.
	Rejected
	// Declined means the user did not confirm; nothing was sent.
	Declined
	// Failed means the request did not complete.
	Failed
)

func (r Result) String() string {
	switch r {
	case Accepted:
		return "accepted"
	case Rejected:
		return "rejected"
	case Declined:
		return "declined"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Commander sends commands to the device.
type Commander interface {
	Record(ctx context.Context) (bool, error)
	Stop(ctx context.Context) (bool, error)
}

// Counter is the elapsed time tracker.
type Counter interface {
	Start(ref time.Time) bool
	Stop()
}

// Refresher triggers an out-of-band status poll.
type Refresher interface {
	Refresh(ctx context.Context)
}

// Confirmer asks the user a yes/no question and blocks for the answer.
type Confirmer func(prompt string) bool

// Options holds optional collaborators.
type Options struct {
	Logger *log.Logger
	Stats  *stats.Tracker
}

// Controller serializes transport requests.
type Controller struct {
	cmd       Commander
	counter   Counter
	refresher Refresher
	confirm   Confirmer
	logger    *log.Logger
	stats     *stats.Tracker

	mu        sync.Mutex
	recording atomic.Bool
}

// New builds a controller. A nil confirm declines every stop.
func New(cmd Commander, counter Counter, refresher Refresher, confirm Confirmer, opts Options) (*Controller, error) {
	if cmd == nil {
		return nil, errors.New("transport: commander required")
	}
	if refresher == nil {
		return nil, errors.New("transport: refresher required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Controller{
		cmd:       cmd,
		counter:   counter,
		refresher: refresher,
		confirm:   confirm,
		logger:    logger,
		stats:     opts.Stats,
	}, nil
}

// RequestStart asks the device to record. On success the counter starts from
// now. The status refresh happens whatever the outcome.
func (c *Controller) RequestStart(ctx context.Context) (Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.refresher.Refresh(ctx)

	ok, err := c.cmd.Record(ctx)
	res := c.outcome("record", ok, err)
	if res == Accepted && c.counter != nil {
		c.counter.Start(time.Time{})
	}
	return res, err
}

// RequestStop asks for confirmation and then asks the device to stop. A
// declined confirmation sends nothing and changes nothing.
func (c *Controller) RequestStop(ctx context.Context) (Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.confirm == nil || !c.confirm(StopPrompt) {
		c.stats.Inc(stats.StopDeclined)
		return Declined, nil
	}
	defer c.refresher.Refresh(ctx)

	ok, err := c.cmd.Stop(ctx)
	res := c.outcome("stop", ok, err)
	if res == Accepted && c.counter != nil {
		c.counter.Stop()
	}
	return res, err
}

// Toggle starts when the last observed status was idle and stops otherwise.
func (c *Controller) Toggle(ctx context.Context) (Result, error) {
	if c.Recording() {
		return c.RequestStop(ctx)
	}
	return c.RequestStart(ctx)
}

// Observe records the device recording flag from a status snapshot.
func (c *Controller) Observe(snap status.Snapshot) {
	c.recording.Store(snap.Recording)
}

// Recording reports the last observed recording flag.
func (c *Controller) Recording() bool {
	return c.recording.Load()
}

func (c *Controller) outcome(command string, ok bool, err error) Result {
	switch {
	case err != nil:
		c.stats.Inc(stats.CommandError)
		c.logger.Printf("transport: %s failed: %v", command, err)
		return Failed
	case !ok:
		c.stats.Inc(stats.CommandNack)
		c.logger.Printf("transport: %s rejected by device", command)
		return Rejected
	default:
		c.stats.Inc(stats.CommandOK)
		c.logger.Printf("transport: %s accepted", command)
		return Accepted
	}
}
