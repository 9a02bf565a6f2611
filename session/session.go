// Package session wires the status poller, elapsed counter, sink registry,
// preview loops and transport controller into one owned object. Several
// sessions can coexist; each is started with Init and released with Dispose.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"recstatus/config"
	"recstatus/counter"
	"recstatus/device"
	"recstatus/preview"
	"recstatus/sinks"
	"recstatus/stats"
	"recstatus/status"
	"recstatus/transport"
)

// ErrNotStarted is returned by commands issued before Init or after Dispose.
var ErrNotStarted = errors.New("session: not running")

// View is everything the session drives on screen.
type View interface {
	counter.Publisher
	sinks.ViewFactory
	SetRecording(recording bool)
	SetHostname(name string)
	// Confirm blocks until the user answers.
	Confirm(prompt string) bool
}

// Device is the device API surface used by a session.
type Device interface {
	status.Source
	transport.Commander
	preview.Client
}

// SnapshotPublisher receives every applied snapshot (the MQTT relay).
type SnapshotPublisher interface {
	Publish(snap status.Snapshot)
	Close()
}

// Options carries optional collaborators. A nil Device is built from config
// and an empty ID is generated.
type Options struct {
	ID     string
	Logger *log.Logger
	Stats  *stats.Tracker
	Device Device
	Relay  SnapshotPublisher
}

type lifecycle int

const (
	idle lifecycle = iota
	running
	disposed
)

// Session owns every timer, loop and registry for one device.
type Session struct {
	id     string
	cfg    *config.Config
	view   View
	logger *log.Logger
	stats  *stats.Tracker
	device Device
	relay  SnapshotPublisher

	tracker   *counter.Tracker
	poller    *status.Poller
	registry  *sinks.Registry
	transport *transport.Controller
	hostname  Hostname

	mu     sync.Mutex
	state  lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
}

// New builds an idle session. Nothing touches the network until Init.
func New(cfg *config.Config, view View, opts Options) (*Session, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if view == nil {
		return nil, errors.New("session: view required")
	}
	s := &Session{
		id:     opts.ID,
		cfg:    cfg,
		view:   view,
		logger: opts.Logger,
		stats:  opts.Stats,
		device: opts.Device,
		relay:  opts.Relay,
	}
	if s.id == "" {
		s.id = uuid.NewString()
	}
	if s.logger == nil {
		s.logger = log.New(io.Discard, "", 0)
	}
	if s.stats == nil {
		s.stats = stats.NewTracker()
	}
	if s.device == nil {
		client, err := device.New(device.Options{
			BaseURL:   cfg.Device.BaseURL,
			BasePath:  cfg.Device.BasePath,
			Timeout:   cfg.RequestTimeout(),
			UserAgent: cfg.Device.UserAgent,
		})
		if err != nil {
			return nil, err
		}
		s.device = client
	}

	policy, err := preview.ParsePolicy(cfg.Preview.Policy)
	if err != nil {
		return nil, err
	}

	s.tracker = counter.NewTracker(counter.Config{
		Tick:  cfg.CounterTick(),
		Pulse: cfg.PulseInterval(),
	}, view)

	s.poller, err = status.New(status.Config{
		Interval: cfg.PollInterval(),
		Timeout:  cfg.RequestTimeout(),
	}, s.device, s.logger, s.stats)
	if err != nil {
		return nil, err
	}

	regOpts := sinks.Options{
		Views:     view,
		NonVisual: cfg.Preview.NonVisualSinks,
		Logger:    s.logger,
	}
	if cfg.PreviewEnabled() {
		retryBase, retryMax := cfg.RetryBackoff()
		popts := preview.Options{
			Policy:       policy,
			FallbackPace: cfg.FallbackPace(),
			RetryBase:    retryBase,
			RetryMax:     retryMax,
			Logger:       s.logger,
			Stats:        s.stats,
		}
		regOpts.Streams = func(name string, v sinks.View) *preview.Streamer {
			renderer, _ := v.(preview.Renderer)
			return preview.NewStreamer(name, s.device, renderer, popts)
		}
	}
	s.registry = sinks.NewRegistry(regOpts)

	s.transport, err = transport.New(s.device, s.tracker, s.poller, view.Confirm, transport.Options{
		Logger: s.logger,
		Stats:  s.stats,
	})
	if err != nil {
		return nil, err
	}

	s.poller.Subscribe(s.transport.Observe)
	s.poller.Subscribe(s.tracker.Observe)
	s.poller.Subscribe(s.reconcile)
	s.poller.Subscribe(s.present)
	if s.relay != nil {
		s.poller.Subscribe(s.relay.Publish)
	}
	return s, nil
}

// ID is the random identifier of this session.
func (s *Session) ID() string { return s.id }

// Init starts the poll loop under ctx. Preview loops start as sinks appear.
func (s *Session) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case running:
		return errors.New("session: already started")
	case disposed:
		return errors.New("session: disposed")
	}
	sctx, cancel := context.WithCancel(ctx)
	group, gctx := errgroup.WithContext(sctx)
	s.ctx = gctx
	s.cancel = cancel
	s.group = group
	s.state = running

	s.tracker.Stop()
	group.Go(func() error {
		return s.poller.Run(gctx)
	})
	s.logger.Printf("session %s: polling %s every %s", s.id, s.cfg.Device.BaseURL+s.cfg.Device.BasePath, s.cfg.PollInterval())
	return nil
}

// Dispose cancels the session context, waits for the poll loop and any
// in-flight polls, stops every preview loop and the counter. Safe to call
// more than once.
func (s *Session) Dispose() error {
	s.mu.Lock()
	if s.state == disposed {
		s.mu.Unlock()
		return nil
	}
	wasRunning := s.state == running
	s.state = disposed
	cancel, group := s.cancel, s.group
	s.mu.Unlock()

	var err error
	if wasRunning {
		cancel()
		err = group.Wait()
		s.poller.Wait()
	}
	s.registry.Close()
	s.tracker.Stop()
	if s.relay != nil {
		s.relay.Close()
	}
	s.logger.Printf("session %s: disposed", s.id)
	if err != nil {
		return fmt.Errorf("session %s: %w", s.id, err)
	}
	return nil
}

// RequestStart asks the device to start recording.
func (s *Session) RequestStart() (transport.Result, error) {
	ctx, err := s.runningContext()
	if err != nil {
		return transport.Failed, err
	}
	return s.transport.RequestStart(ctx)
}

// RequestStop asks for confirmation and then asks the device to stop.
func (s *Session) RequestStop() (transport.Result, error) {
	ctx, err := s.runningContext()
	if err != nil {
		return transport.Failed, err
	}
	return s.transport.RequestStop(ctx)
}

// Toggle starts or stops depending on the last observed recording flag.
func (s *Session) Toggle() (transport.Result, error) {
	ctx, err := s.runningContext()
	if err != nil {
		return transport.Failed, err
	}
	return s.transport.Toggle(ctx)
}

// Sinks returns the registry entries in first-seen order.
func (s *Session) Sinks() []sinks.Entry { return s.registry.Entries() }

// Counter exposes the elapsed time tracker.
func (s *Session) Counter() *counter.Tracker { return s.tracker }

// Stats exposes the session counters.
func (s *Session) Stats() *stats.Tracker { return s.stats }

// Hostname returns the last reported device hostname.
func (s *Session) Hostname() (string, bool) { return s.hostname.Get() }

// Last returns the most recently applied snapshot.
func (s *Session) Last() (status.Snapshot, bool) { return s.poller.Last() }

// Recording reports the last observed recording flag.
func (s *Session) Recording() bool { return s.transport.Recording() }

func (s *Session) runningContext() (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != running {
		return nil, ErrNotStarted
	}
	return s.ctx, nil
}

func (s *Session) reconcile(snap status.Snapshot) {
	ctx, err := s.runningContext()
	if err != nil {
		return
	}
	for _, name := range s.registry.Reconcile(ctx, snap) {
		s.logger.Printf("session %s: sink %s added", s.id, name)
	}
}

func (s *Session) present(snap status.Snapshot) {
	s.view.SetRecording(snap.Recording)
	if s.hostname.Set(snap.Hostname) {
		name, _ := s.hostname.Get()
		s.view.SetHostname(name)
	}
}
