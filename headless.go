package main

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"recstatus/counter"
	"recstatus/preview"
	"recstatus/sinks"
	"recstatus/stats"
	"recstatus/status"
)

// headlessView implements the session view without a terminal UI. It logs
// hostname, recording and sink transitions and keeps the latest counter
// display for the periodic summary.
type headlessView struct {
	logger *log.Logger

	mu        sync.Mutex
	display   string
	recording bool
	known     bool
	sinks     []*headlessSink
}

func newHeadlessView(logger *log.Logger) *headlessView {
	if logger == nil {
		logger = log.Default()
	}
	return &headlessView{logger: logger, display: counter.ZeroDisplay}
}

func (v *headlessView) SetCounter(display string) {
	v.mu.Lock()
	v.display = display
	v.mu.Unlock()
}

func (v *headlessView) SetPulse(bool) {}

func (v *headlessView) SetRecording(recording bool) {
	v.mu.Lock()
	changed := !v.known || v.recording != recording
	v.recording = recording
	v.known = true
	v.mu.Unlock()
	if !changed {
		return
	}
	if recording {
		v.logger.Println("Device is recording")
	} else {
		v.logger.Println("Device is idle")
	}
}

func (v *headlessView) SetHostname(name string) {
	v.logger.Printf("Device hostname: %s", name)
}

// Confirm declines: stopping needs an interactive console.
func (v *headlessView) Confirm(prompt string) bool {
	v.logger.Printf("Stop declined (%q needs an interactive console)", prompt)
	return false
}

func (v *headlessView) NewSinkView(name string, visual bool) sinks.View {
	s := &headlessSink{name: name, visual: visual, present: true, logger: v.logger}
	v.mu.Lock()
	v.sinks = append(v.sinks, s)
	v.mu.Unlock()
	kind := "preview"
	if !visual {
		kind = "no preview"
	}
	v.logger.Printf("Sink %s detected (%s)", name, kind)
	return s
}

// summary renders one status line for the periodic report.
func (v *headlessView) summary() string {
	v.mu.Lock()
	display, recording := v.display, v.recording
	list := append([]*headlessSink(nil), v.sinks...)
	v.mu.Unlock()

	state := "idle"
	if recording {
		state = "REC " + display
	}
	parts := []string{state}
	for _, s := range list {
		parts = append(parts, s.summary())
	}
	return strings.Join(parts, " | ")
}

type headlessSink struct {
	name   string
	visual bool
	logger *log.Logger

	mu        sync.Mutex
	rate      string
	total     string
	present   bool
	frames    int64
	lastFrame time.Time
}

var _ preview.Renderer = (*headlessSink)(nil)

func (s *headlessSink) SetStats(rate, total string) {
	s.mu.Lock()
	s.rate, s.total = rate, total
	s.mu.Unlock()
}

func (s *headlessSink) SetPresent(present bool) {
	s.mu.Lock()
	s.present = present
	s.mu.Unlock()
	if present {
		s.logger.Printf("Sink %s reappeared", s.name)
	} else {
		s.logger.Printf("Sink %s missing from status", s.name)
	}
}

// ShowFrame only counts frames; there is nothing to draw.
func (s *headlessSink) ShowFrame(ctx context.Context, f preview.Frame) error {
	s.mu.Lock()
	s.frames++
	s.lastFrame = f.FetchedAt
	s.mu.Unlock()
	return nil
}

func (s *headlessSink) summary() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := fmt.Sprintf("%s %s (%s total)", s.name, s.rate, s.total)
	if !s.present {
		out += " absent"
	}
	if s.visual && !s.lastFrame.IsZero() {
		out += fmt.Sprintf(", %s frames, last %s", humanize.Comma(s.frames), humanize.Time(s.lastFrame))
	}
	return out
}

type snapshotSource interface {
	Last() (status.Snapshot, bool)
}

// Purpose: Periodically log a one-line device summary plus session counters.
// Key aspects: Runs until ctx is cancelled; skips output before the first poll.
// Upstream: main in headless mode.
// Downstream: headlessView.summary, stats.Tracker.SnapshotLines.
func runHeadlessReport(ctx context.Context, interval time.Duration, view *headlessView, src snapshotSource, tracker *stats.Tracker, logger *log.Logger) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap, ok := src.Last()
			if !ok {
				logger.Println("No status received yet")
				continue
			}
			logger.Printf("%s (updated %s)", view.summary(), humanize.Time(snap.At))
			for _, line := range tracker.SnapshotLines() {
				logger.Println(line)
			}
		}
	}
}
