package main

import (
	"context"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"recstatus/preview"
	"recstatus/stats"
	"recstatus/status"
)

func TestLoadConfigFromEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yaml")
	if err := os.WriteFile(path, []byte("poll:\n  interval_ms: 250\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(envConfigPath, path)
	cfg, source, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if source != path || cfg.Poll.IntervalMs != 250 {
		t.Fatalf("unexpected config source=%s interval=%d", source, cfg.Poll.IntervalMs)
	}
}

func TestLoadConfigFallsBackToDefaults(t *testing.T) {
	t.Setenv(envConfigPath, filepath.Join(t.TempDir(), "missing.yaml"))
	wd, _ := os.Getwd()
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	defer os.Chdir(wd)

	cfg, source, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if source != "built-in defaults" || cfg.Poll.IntervalMs != 1000 {
		t.Fatalf("expected defaults, got source=%s interval=%d", source, cfg.Poll.IntervalMs)
	}
}

func TestLoadConfigRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("preview:\n  policy: timer\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(envConfigPath, path)
	if _, _, err := loadConfig(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestWantDashboard(t *testing.T) {
	log.SetOutput(io.Discard)
	defer log.SetOutput(os.Stderr)
	if !wantDashboard("tview", true) {
		t.Fatalf("tview on a tty should draw")
	}
	if wantDashboard("tview", false) {
		t.Fatalf("tview without a tty should be headless")
	}
	if wantDashboard("headless", true) {
		t.Fatalf("headless mode should not draw")
	}
	if wantDashboard("ansi", true) {
		t.Fatalf("unknown mode should fall back to headless")
	}
}

func TestHeadlessViewSummary(t *testing.T) {
	var out strings.Builder
	v := newHeadlessView(log.New(&out, "", 0))
	v.SetHostname("rec01")
	v.SetRecording(true)
	v.SetRecording(true)
	v.SetCounter("001:05.234")
	cam := v.NewSinkView("cam1", true)
	cam.SetStats("1.5 KB/s", "2.5 MB")
	if err := cam.(preview.Renderer).ShowFrame(context.Background(), preview.Frame{FetchedAt: time.Now()}); err != nil {
		t.Fatalf("ShowFrame: %v", err)
	}
	audio := v.NewSinkView("audio", false)
	audio.SetStats("999 bytes/s", "999 bytes")
	audio.SetPresent(false)

	got := v.summary()
	want := "REC 001:05.234 | cam1 1.5 KB/s (2.5 MB total), 1 frames, last now | audio 999 bytes/s (999 bytes total) absent"
	if got != want {
		t.Fatalf("unexpected summary\n got: %s\nwant: %s", got, want)
	}
	if strings.Count(out.String(), "Device is recording") != 1 {
		t.Fatalf("recording transition should log once: %q", out.String())
	}
	if v.Confirm("stop?") {
		t.Fatalf("headless view must decline stops")
	}
}

type safeBuffer struct {
	mu sync.Mutex
	sb strings.Builder
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sb.Write(p)
}

func (b *safeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sb.String()
}

type lastSnapshot struct{ snap status.Snapshot }

func (l lastSnapshot) Last() (status.Snapshot, bool) { return l.snap, true }

func TestRunHeadlessReportLogsSummary(t *testing.T) {
	var out safeBuffer
	logger := log.New(&out, "", 0)
	v := newHeadlessView(logger)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		runHeadlessReport(ctx, 5*time.Millisecond, v, lastSnapshot{status.Snapshot{At: time.Now()}}, stats.NewTracker(), logger)
		close(done)
	}()
	deadline := time.Now().Add(time.Second)
	for !strings.Contains(out.String(), "Polls: ok=0") {
		if time.Now().After(deadline) {
			t.Fatalf("no report logged: %q", out.String())
		}
		time.Sleep(2 * time.Millisecond)
	}
	cancel()
	<-done
}

func TestMetricsServerExposesTracker(t *testing.T) {
	tracker := stats.NewTracker()
	tracker.Inc(stats.PollOK)
	srv, addr, err := startMetricsServer("127.0.0.1:0", tracker, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("startMetricsServer: %v", err)
	}
	defer stopMetricsServer(srv)

	resp, err := http.Get("http://" + addr.String() + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `recstatus_events_total{event="poll_ok"} 1`) {
		t.Fatalf("metrics missing poll counter:\n%s", body)
	}
}
