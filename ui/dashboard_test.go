package ui

import (
	"context"
	"image/color"
	"strings"
	"testing"
	"time"

	"github.com/gdamore/tcell/v2"

	"recstatus/preview"
)

func TestSinkPaneText(t *testing.T) {
	p := &sinkPane{name: "cam1", visual: true, present: true}
	p.rate, p.total = "1.5 KB/s", "2.5 MB"
	p.frames = 1234
	text := p.textLocked()
	if !strings.HasPrefix(text, "1.5 KB/s (2.5 MB total)\n") {
		t.Fatalf("unexpected stats line %q", text)
	}
	if !strings.Contains(text, "1,234 frames") {
		t.Fatalf("expected humanized frame count in %q", text)
	}

	p.present = false
	if !strings.Contains(p.textLocked(), "(absent)") {
		t.Fatalf("expected absent marker")
	}

	audio := &sinkPane{name: "audio", present: true}
	if strings.Contains(audio.textLocked(), "frames") {
		t.Fatalf("non-visual pane should not show frame stats")
	}
}

func TestDashboardShowFrameOnSimulationScreen(t *testing.T) {
	screen := tcell.NewSimulationScreen("UTF-8")
	d := NewDashboard(Options{ThumbnailWidth: 4, ThumbnailHeight: 2, Screen: screen})
	defer d.Stop()

	ready := make(chan struct{})
	go func() {
		d.WaitReady()
		close(ready)
	}()
	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatalf("dashboard never drew")
	}

	d.SetHostname("rec01")
	d.SetCounter("001:05.234")
	view := d.NewSinkView("cam1", true)
	renderer, ok := view.(preview.Renderer)
	if !ok {
		t.Fatalf("sink view should render previews")
	}
	data := encodePNG(t, 8, 8, func(x, y int) color.Color { return color.RGBA{G: 200, A: 255} })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := renderer.ShowFrame(ctx, preview.Frame{Sink: "cam1", Seq: 1, Data: data, Changed: true, FetchedAt: time.Now()}); err != nil {
		t.Fatalf("ShowFrame: %v", err)
	}
	pane := view.(*sinkPane)
	pane.mu.Lock()
	frames, thumb := pane.frames, pane.thumbnail
	pane.mu.Unlock()
	if frames != 1 || !strings.Contains(thumb, halfBlock) {
		t.Fatalf("expected one rendered frame with thumbnail, got %d %q", frames, thumb)
	}
}

func TestDashboardDrawsReturnAfterAppExitsOnItsOwn(t *testing.T) {
	screen := tcell.NewSimulationScreen("UTF-8")
	d := NewDashboard(Options{ThumbnailWidth: 4, ThumbnailHeight: 2, Screen: screen})
	defer d.Stop()
	waitReady(t, d)

	view := d.NewSinkView("cam1", true)
	pane := view.(*sinkPane)

	answered := make(chan bool, 1)
	go func() { answered <- d.Confirm("Stop now?") }()
	deadline := time.Now().Add(2 * time.Second)
	for !modalOpen(d) {
		if time.Now().After(deadline) {
			t.Fatalf("confirm modal never opened")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Ctrl+C reaches tview while the modal has focus; tview stops the app itself.
	screen.InjectKey(tcell.KeyCtrlC, 0, tcell.ModCtrl)
	select {
	case <-d.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("application did not exit on Ctrl+C")
	}
	select {
	case ok := <-answered:
		if ok {
			t.Fatalf("confirm should decline when the application exits")
		}
	case <-time.After(time.Second):
		t.Fatalf("Confirm still blocked after application exit")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	returned := make(chan struct{})
	go func() {
		_ = pane.ShowFrame(ctx, preview.Frame{Sink: "cam1", Seq: 1, Data: []byte("x"), Changed: true, FetchedAt: time.Now()})
		_ = d.NewSinkView("cam2", true)
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatalf("ShowFrame or NewSinkView blocked after application exit")
	}

	stopped := make(chan struct{})
	go func() {
		d.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatalf("Stop blocked after application exit")
	}
}

func TestShowFrameHonorsContextWhileDrawPending(t *testing.T) {
	screen := tcell.NewSimulationScreen("UTF-8")
	d := NewDashboard(Options{ThumbnailWidth: 4, ThumbnailHeight: 2, Screen: screen})
	defer d.Stop()
	waitReady(t, d)
	pane := d.NewSinkView("cam1", true).(*sinkPane)

	// Park the event goroutine so the frame draw cannot run.
	parked := make(chan struct{})
	release := make(chan struct{})
	defer close(release)
	go d.app.QueueUpdate(func() {
		close(parked)
		<-release
	})
	<-parked

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	errc := make(chan error, 1)
	go func() {
		errc <- pane.ShowFrame(ctx, preview.Frame{Sink: "cam1", Seq: 1, Data: []byte("x"), FetchedAt: time.Now()})
	}()
	select {
	case err := <-errc:
		if err != context.DeadlineExceeded {
			t.Fatalf("expected deadline error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("ShowFrame ignored its context")
	}
}

func waitReady(t *testing.T, d *Dashboard) {
	t.Helper()
	ready := make(chan struct{})
	go func() {
		d.WaitReady()
		close(ready)
	}()
	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatalf("dashboard never drew")
	}
}

func modalOpen(d *Dashboard) bool {
	open := make(chan bool, 1)
	if !d.queueDraw(context.Background(), func() { open <- d.pages.HasPage(confirmPage) }) {
		return false
	}
	return <-open
}
