// Package sinks keeps the registry of recording outputs seen in status
// snapshots. Entries are created on first sight and never removed.
package sinks

import (
	"context"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"recstatus/preview"
	"recstatus/status"
)

// View is the display handle for one sink.
type View interface {
	SetStats(rate, total string)
	SetPresent(present bool)
}

// ViewFactory creates the display handle when a sink is first seen.
type ViewFactory interface {
	NewSinkView(name string, visual bool) View
}

// StreamFactory builds the preview streamer for a visual sink. Returning nil
// leaves the sink without a preview.
type StreamFactory func(name string, view View) *preview.Streamer

// Options configures a Registry.
type Options struct {
	Views     ViewFactory
	Streams   StreamFactory
	NonVisual []string
	Logger    *log.Logger
	Now       func() time.Time
}

// Entry is the registry-owned record for one sink.
type Entry struct {
	Name      string
	Visual    bool
	View      View
	Preview   *preview.Streamer
	FirstSeen time.Time
	LastSeen  time.Time
	// Present is false when the latest snapshot did not list the sink.
	Present bool

	BytesIn          int64
	BytesInPerSecond float64
}

// Registry reconciles snapshots against known sinks. Reconcile is the single
// writer; readers may call Entries or Get concurrently.
type Registry struct {
	opts      Options
	nonVisual map[string]struct{}
	logger    *log.Logger

	mu      sync.RWMutex
	order   []string
	entries map[string]*Entry
	closed  bool
}

// NewRegistry builds an empty registry.
func NewRegistry(opts Options) *Registry {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	nv := make(map[string]struct{}, len(opts.NonVisual))
	for _, name := range opts.NonVisual {
		name = strings.ToLower(strings.TrimSpace(name))
		if name != "" {
			nv[name] = struct{}{}
		}
	}
	return &Registry{
		opts:      opts,
		nonVisual: nv,
		logger:    logger,
		entries:   make(map[string]*Entry),
	}
}

// IsVisual reports whether a sink gets a preview.
func (r *Registry) IsVisual(name string) bool {
	_, skip := r.nonVisual[strings.ToLower(name)]
	return !skip
}

// Reconcile creates entries for unseen sinks, starts their previews under ctx,
// refreshes displayed counters and flags sinks missing from snap as absent.
// It returns the names created by this call.
func (r *Registry) Reconcile(ctx context.Context, snap status.Snapshot) []string {
	if r == nil {
		return nil
	}
	now := r.opts.Now()
	seen := make(map[string]struct{}, len(snap.Sinks))
	var created []string
	var starts []*Entry

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	for _, s := range snap.Sinks {
		if _, dup := seen[s.Name]; dup {
			continue
		}
		seen[s.Name] = struct{}{}
		e, ok := r.entries[s.Name]
		if !ok {
			e = r.create(s.Name, now)
			created = append(created, s.Name)
			if e.Preview != nil {
				starts = append(starts, e)
			}
		}
		e.LastSeen = now
		e.BytesIn = s.BytesIn
		e.BytesInPerSecond = s.BytesInPerSecond
		if !e.Present {
			e.Present = true
			if e.View != nil && ok {
				e.View.SetPresent(true)
			}
		}
		if e.View != nil {
			e.View.SetStats(FormatRate(s.BytesInPerSecond), FormatSize(float64(s.BytesIn)))
		}
	}
	for _, name := range r.order {
		if _, ok := seen[name]; ok {
			continue
		}
		e := r.entries[name]
		if e.Present {
			e.Present = false
			if e.View != nil {
				e.View.SetPresent(false)
			}
			r.logger.Printf("sinks: %s missing from status", name)
		}
	}
	r.mu.Unlock()

	for _, e := range starts {
		if err := e.Preview.Start(ctx); err != nil {
			r.logger.Printf("sinks: preview %s: %v", e.Name, err)
		}
	}
	return created
}

func (r *Registry) create(name string, now time.Time) *Entry {
	visual := r.IsVisual(name)
	e := &Entry{Name: name, Visual: visual, FirstSeen: now, Present: true}
	if r.opts.Views != nil {
		e.View = r.opts.Views.NewSinkView(name, visual)
	}
	if visual && r.opts.Streams != nil {
		e.Preview = r.opts.Streams(name, e.View)
	}
	r.entries[name] = e
	r.order = append(r.order, name)
	r.logger.Printf("sinks: new sink %s (visual=%v)", name, visual)
	return e
}

// Get returns a copy of the entry for name.
func (r *Registry) Get(name string) (Entry, bool) {
	if r == nil {
		return Entry{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Entries returns copies of every entry in first-seen order.
func (r *Registry) Entries() []Entry {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, *r.entries[name])
	}
	return out
}

// Len returns the number of sinks ever seen.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Close stops every preview loop and rejects further reconciliation.
// Entries remain readable.
func (r *Registry) Close() {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.closed = true
	streams := make([]*preview.Streamer, 0, len(r.order))
	for _, name := range r.order {
		if p := r.entries[name].Preview; p != nil {
			streams = append(streams, p)
		}
	}
	r.mu.Unlock()
	for _, p := range streams {
		p.Stop()
	}
}
