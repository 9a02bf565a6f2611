// Package ui renders the recording status dashboard with tview: a header with
// hostname, record indicator and counter, one pane per sink with stats and a
// preview thumbnail, and a system log pane.
package ui

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"recstatus/counter"
	"recstatus/preview"
	"recstatus/sinks"
	"recstatus/stats"
)

const (
	systemMaxLines = 200
	confirmPage    = "confirm"
	mainPage       = "main"
)

// Options configures the dashboard.
type Options struct {
	ThumbnailWidth  int
	ThumbnailHeight int
	// OnToggle runs on its own goroutine when the record key is pressed.
	OnToggle func()
	// OnQuit runs when the quit key is pressed.
	OnQuit func()
	// Screen overrides the terminal (simulation screens in tests).
	Screen tcell.Screen
}

// Dashboard is the tview implementation of the session view.
type Dashboard struct {
	app       *tview.Application
	pages     *tview.Pages
	header    *tview.TextView
	sinkFlex  *tview.Flex
	system    *tview.TextView
	footer    *tview.TextView
	scheduler *frameScheduler
	drawDelay *stats.LatencyTracker
	opts      Options

	mu        sync.Mutex
	hostname  string
	recording bool
	pulse     bool
	display   string
	panes     []*sinkPane

	confirmMu sync.Mutex
	logs      chan string
	closed    atomic.Bool
	ready     chan struct{}
	stopped   chan struct{}
}

// NewDashboard builds the layout and starts the tview application.
func NewDashboard(opts Options) *Dashboard {
	if opts.ThumbnailWidth <= 0 {
		opts.ThumbnailWidth = 32
	}
	if opts.ThumbnailHeight <= 0 {
		opts.ThumbnailHeight = 9
	}

	header := tview.NewTextView().SetDynamicColors(true).SetWrap(false)
	header.SetBorder(true).SetTitle(" recstatus ").SetTitleAlign(tview.AlignLeft)

	sinkFlex := tview.NewFlex().SetDirection(tview.FlexColumn)

	system := tview.NewTextView().SetDynamicColors(true).SetWrap(false)
	system.SetTextColor(tcell.ColorYellow)
	system.SetBorder(true).SetTitle(" System ").SetTitleAlign(tview.AlignLeft)
	system.SetMaxLines(systemMaxLines)

	footer := tview.NewTextView().SetDynamicColors(true).SetWrap(false)

	layout := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(header, 3, 0, false).
		AddItem(sinkFlex, opts.ThumbnailHeight+4, 0, false).
		AddItem(system, 0, 1, false).
		AddItem(footer, 1, 0, false)

	pages := tview.NewPages().AddPage(mainPage, layout, true, true)
	app := tview.NewApplication().SetRoot(pages, true).EnableMouse(false)
	if opts.Screen != nil {
		app.SetScreen(opts.Screen)
	}

	d := &Dashboard{
		app:       app,
		pages:     pages,
		header:    header,
		sinkFlex:  sinkFlex,
		system:    system,
		footer:    footer,
		drawDelay: stats.NewLatencyTracker(256),
		opts:      opts,
		display:   counter.ZeroDisplay,
		logs:      make(chan string, 256),
		ready:     make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	d.scheduler = newFrameScheduler(app, 30, 100*time.Millisecond, d.drawDelay.Observe)

	var once sync.Once
	app.SetBeforeDrawFunc(func(screen tcell.Screen) bool {
		once.Do(func() { close(d.ready) })
		return false
	})
	app.SetInputCapture(d.handleKey)

	d.renderHeader()
	footer.SetText("[::d]r[::-] record/stop   [::d]q[::-] quit")

	d.scheduler.Start()
	// Dedicated flusher so logging can drop instead of blocking when the UI lags.
	go d.runLogLoop()
	go func() {
		defer close(d.stopped)
		if err := app.Run(); err != nil {
			fmt.Fprintf(os.Stderr, "dashboard error: %v\n", err)
		}
		// tview stops itself on Ctrl+C when a modal has focus.
		d.closed.Store(true)
	}()
	return d
}

// Stop tears the application down. Safe to call more than once, also after
// the application has exited on its own.
func (d *Dashboard) Stop() {
	if d == nil {
		return
	}
	if d.closed.CompareAndSwap(false, true) {
		d.app.Stop()
	}
	d.scheduler.Stop()
	<-d.stopped
}

// queueDraw runs fn on the event goroutine and waits for the draw. It gives
// up when ctx ends or the application exits; QueueUpdateDraw itself never
// returns once the event loop is gone.
func (d *Dashboard) queueDraw(ctx context.Context, fn func()) bool {
	if d.closed.Load() {
		return false
	}
	drawn := make(chan struct{})
	go d.app.QueueUpdateDraw(func() {
		fn()
		close(drawn)
	})
	select {
	case <-drawn:
		return true
	case <-ctx.Done():
		return false
	case <-d.stopped:
		return false
	}
}

// WaitReady blocks until the first draw.
func (d *Dashboard) WaitReady() {
	if d == nil {
		return
	}
	select {
	case <-d.ready:
	case <-d.stopped:
	}
}

// Done is closed when the application exits.
func (d *Dashboard) Done() <-chan struct{} {
	return d.stopped
}

// SystemWriter returns a writer for log output that lands in the system pane.
func (d *Dashboard) SystemWriter() io.Writer {
	if d == nil {
		return io.Discard
	}
	return &paneWriter{d: d}
}

type paneWriter struct {
	d *Dashboard
}

func (w *paneWriter) Write(p []byte) (int, error) {
	if w == nil || w.d == nil || w.d.closed.Load() {
		return len(p), nil
	}
	select {
	case w.d.logs <- time.Now().Format("15:04:05 ") + tview.Escape(string(p)):
	default:
	}
	return len(p), nil
}

func (d *Dashboard) runLogLoop() {
	for {
		select {
		case <-d.stopped:
			return
		case text := <-d.logs:
			d.queueDraw(context.Background(), func() {
				fmt.Fprint(d.system, text)
				d.system.ScrollToEnd()
			})
		}
	}
}

// SetCounter implements counter.Publisher.
func (d *Dashboard) SetCounter(display string) {
	d.mu.Lock()
	d.display = display
	d.mu.Unlock()
	d.scheduleHeader()
}

// SetPulse implements counter.Publisher.
func (d *Dashboard) SetPulse(on bool) {
	d.mu.Lock()
	d.pulse = on
	d.mu.Unlock()
	d.scheduleHeader()
}

// SetRecording shows whether the device is recording.
func (d *Dashboard) SetRecording(recording bool) {
	d.mu.Lock()
	changed := d.recording != recording
	d.recording = recording
	d.mu.Unlock()
	if changed {
		d.scheduleHeader()
	}
}

// SetHostname shows the device hostname.
func (d *Dashboard) SetHostname(name string) {
	d.mu.Lock()
	d.hostname = name
	d.mu.Unlock()
	d.scheduleHeader()
}

func (d *Dashboard) scheduleHeader() {
	if d.closed.Load() {
		return
	}
	d.scheduler.Schedule("header", d.renderHeader)
}

func (d *Dashboard) renderHeader() {
	d.mu.Lock()
	hostname, recording, pulse, display := d.hostname, d.recording, d.pulse, d.display
	panes := len(d.panes)
	d.mu.Unlock()

	indicator := "[gray]● idle[-]"
	if recording {
		indicator = "[red::b]● REC[-::-]"
		if !pulse {
			indicator = "[darkred]● REC[-]"
		}
	}
	host := "[gray]-[-]"
	if hostname != "" {
		host = "[white::b]" + tview.Escape(hostname) + "[-::-]"
	}
	draw := d.drawDelay.Snapshot()
	d.header.SetText(fmt.Sprintf("%s   %s   [yellow::b]%s[-::-]   [gray]%s sinks, draw p99 %s[-]",
		host, indicator, display, humanize.Comma(int64(panes)), draw.P99.Round(time.Millisecond)))
}

// NewSinkView adds a pane for a newly seen sink.
func (d *Dashboard) NewSinkView(name string, visual bool) sinks.View {
	tv := tview.NewTextView().SetDynamicColors(true).SetWrap(false)
	tv.SetBorder(true).SetTitle(" " + tview.Escape(name) + " ").SetTitleAlign(tview.AlignLeft)
	p := &sinkPane{d: d, name: name, visual: visual, view: tv, present: true}

	d.mu.Lock()
	d.panes = append(d.panes, p)
	d.mu.Unlock()

	width := 0
	if visual {
		width = d.opts.ThumbnailWidth + 2
	}
	d.queueDraw(context.Background(), func() {
		d.sinkFlex.AddItem(tv, width, 1, false)
	})
	p.schedule()
	d.scheduleHeader()
	return p
}

// Confirm shows a yes/no modal and blocks until answered. It must not be
// called from the tview event goroutine.
func (d *Dashboard) Confirm(prompt string) bool {
	if d == nil || d.closed.Load() {
		return false
	}
	d.confirmMu.Lock()
	defer d.confirmMu.Unlock()

	answer := make(chan bool, 1)
	d.queueDraw(context.Background(), func() {
		modal := tview.NewModal().
			SetText(prompt).
			AddButtons([]string{"Stop", "Cancel"}).
			SetDoneFunc(func(_ int, label string) {
				d.pages.RemovePage(confirmPage)
				answer <- label == "Stop"
			})
		d.pages.AddPage(confirmPage, modal, true, true)
		d.app.SetFocus(modal)
	})
	select {
	case ok := <-answer:
		return ok
	case <-d.stopped:
		return false
	}
}

func (d *Dashboard) handleKey(ev *tcell.EventKey) *tcell.EventKey {
	if d.pages.HasPage(confirmPage) {
		return ev
	}
	switch {
	case ev.Key() == tcell.KeyRune && (ev.Rune() == 'r' || ev.Rune() == 'R' || ev.Rune() == ' '):
		if d.opts.OnToggle != nil {
			go d.opts.OnToggle()
		}
		return nil
	case ev.Key() == tcell.KeyRune && (ev.Rune() == 'q' || ev.Rune() == 'Q'), ev.Key() == tcell.KeyCtrlC:
		if d.opts.OnQuit != nil {
			go d.opts.OnQuit()
		}
		return nil
	}
	return ev
}

// sinkPane is the per-sink view handle. ShowFrame makes it a preview renderer.
type sinkPane struct {
	d      *Dashboard
	name   string
	visual bool
	view   *tview.TextView

	mu        sync.Mutex
	rate      string
	total     string
	present   bool
	thumbnail string
	frames    int64
	unchanged int64
	lastFrame time.Time
	lastErr   string
}

var _ preview.Renderer = (*sinkPane)(nil)

func (p *sinkPane) SetStats(rate, total string) {
	p.mu.Lock()
	p.rate, p.total = rate, total
	p.mu.Unlock()
	p.schedule()
}

func (p *sinkPane) SetPresent(present bool) {
	p.mu.Lock()
	p.present = present
	p.mu.Unlock()
	p.schedule()
}

// ShowFrame renders the thumbnail and returns once it has been drawn.
func (p *sinkPane) ShowFrame(ctx context.Context, f preview.Frame) error {
	if p.d.closed.Load() {
		return nil
	}
	var thumb string
	var err error
	if f.Changed {
		thumb, err = renderThumbnail(f.Data, p.d.opts.ThumbnailWidth, p.d.opts.ThumbnailHeight)
	}
	p.mu.Lock()
	p.frames++
	if !f.Changed {
		p.unchanged++
	}
	p.lastFrame = f.FetchedAt
	if err != nil {
		p.lastErr = err.Error()
	} else if f.Changed {
		p.thumbnail = thumb
		p.lastErr = ""
	}
	text := p.textLocked()
	p.mu.Unlock()

	if !p.d.queueDraw(ctx, func() { p.view.SetText(text) }) && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (p *sinkPane) schedule() {
	if p.d.closed.Load() {
		return
	}
	p.d.scheduler.Schedule("sink:"+p.name, func() {
		p.mu.Lock()
		text := p.textLocked()
		p.mu.Unlock()
		p.view.SetText(text)
	})
}

func (p *sinkPane) textLocked() string {
	var sb strings.Builder
	if !p.present {
		sb.WriteString("[gray](absent)[-] ")
	}
	rate, total := p.rate, p.total
	if rate == "" {
		rate = "-"
	}
	if total == "" {
		total = "-"
	}
	fmt.Fprintf(&sb, "%s (%s total)\n", tview.Escape(rate), tview.Escape(total))
	if !p.visual {
		return sb.String()
	}
	last := "never"
	if !p.lastFrame.IsZero() {
		last = humanize.Time(p.lastFrame)
	}
	fmt.Fprintf(&sb, "[gray]%s frames, %s unchanged, last %s[-]\n",
		humanize.Comma(p.frames), humanize.Comma(p.unchanged), last)
	if p.lastErr != "" {
		fmt.Fprintf(&sb, "[red]%s[-]\n", tview.Escape(p.lastErr))
	}
	sb.WriteString(p.thumbnail)
	return sb.String()
}
