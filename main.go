// Command recstatus is a live status client for a remote recording device. It
// polls device status, keeps a drift-free recording counter, lists the
// device's sinks with their throughput and pulls a live preview per visual
// sink. Start and stop commands are issued from the dashboard.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/term"

	"recstatus/config"
	"recstatus/relay"
	"recstatus/session"
	"recstatus/stats"
	"recstatus/ui"
)

const (
	envConfigPath          = "RECSTATUS_CONFIG"
	defaultConfigPath      = "recstatus.yaml"
	headlessReportInterval = 30 * time.Second
)

// Version will be set at build time
var Version = "dev"

// Purpose: Report whether stdout is a TTY for UI gating.
// Key aspects: Uses term.IsTerminal on stdout fd.
// Upstream: main UI selection.
// Downstream: term.IsTerminal.
func isStdoutTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// Purpose: Load configuration from env/default locations.
// Key aspects: Tries the env override first, then the default file; when
// neither exists the built-in defaults are used.
// Upstream: main startup.
// Downstream: config.Load and config.Default.
func loadConfig() (*config.Config, string, error) {
	candidates := make([]string, 0, 2)
	if envPath := strings.TrimSpace(os.Getenv(envConfigPath)); envPath != "" {
		candidates = append(candidates, envPath)
	}
	candidates = append(candidates, defaultConfigPath)

	for _, path := range candidates {
		cfg, err := config.Load(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, path, err
		}
		return cfg, cfg.LoadedFrom, nil
	}
	return config.Default(), "built-in defaults", nil
}

// Purpose: Pick the dashboard or headless view from config and terminal.
// Key aspects: tview needs an interactive console; anything else is headless.
// Upstream: main startup.
// Downstream: None.
func wantDashboard(mode string, tty bool) bool {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case config.UIModeHeadless:
		log.Printf("UI disabled (mode=headless)")
		return false
	case config.UIModeTview, "":
		if !tty {
			log.Printf("UI disabled (tview requires an interactive console)")
			return false
		}
		return true
	default:
		log.Printf("UI mode %q not recognized; defaulting to headless", mode)
		return false
	}
}

// Purpose: Program entrypoint; wires config, logging, view, session and the
// optional relay and metrics listener.
// Key aspects: Shuts down on SIGINT/SIGTERM or the dashboard quit key; the
// session is disposed before the dashboard stops so no preview waits on a dead UI.
// Upstream: OS process start.
// Downstream: session.Session, ui.Dashboard, relay.Publisher, metrics server.
func main() {
	cfg, configSource, err := loadConfig()
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}

	fanout, logErr := setupLogging(cfg.Logging, os.Stdout)
	log.SetFlags(0)
	log.SetOutput(fanout)
	defer fanout.Close()
	if logErr != nil {
		log.Printf("Warning: file logging disabled: %v", logErr)
	}
	logger := log.Default()
	log.Printf("Loaded configuration from %s", configSource)

	sessionID := uuid.NewString()
	tracker := stats.NewTracker()
	quit := make(chan struct{}, 1)
	requestQuit := func() {
		select {
		case quit <- struct{}{}:
		default:
		}
	}

	var current atomic.Pointer[session.Session]
	var dash *ui.Dashboard
	var headless *headlessView
	var view session.View

	if wantDashboard(cfg.UI.Mode, isStdoutTTY()) {
		dash = ui.NewDashboard(ui.Options{
			ThumbnailWidth:  cfg.UI.ThumbnailWidth,
			ThumbnailHeight: cfg.UI.ThumbnailHeight,
			OnToggle: func() {
				if s := current.Load(); s != nil {
					_, _ = s.Toggle()
				}
			},
			OnQuit: requestQuit,
		})
		dash.WaitReady()
		// Dashboard handles its own timestamp formatting.
		fanout.SetConsole(dash.SystemWriter(), false)
		view = dash
		log.Printf("Configuration loaded from %s", configSource)
	} else {
		headless = newHeadlessView(logger)
		view = headless
		cfg.Print()
	}

	log.Printf("recstatus v%s starting (session %s)", Version, sessionID)

	opts := session.Options{ID: sessionID, Logger: logger, Stats: tracker}
	if cfg.Relay.Enabled {
		pub := relay.NewPublisher(relay.Config{
			Broker:   cfg.Relay.Broker,
			Port:     cfg.Relay.Port,
			Topic:    cfg.Relay.Topic,
			ClientID: cfg.Relay.ClientID,
			QoS:      cfg.Relay.QoS,
			Retain:   cfg.Relay.Retain,
		}, sessionID, logger, tracker)
		if err := pub.Connect(); err != nil {
			log.Printf("Warning: status relay disabled: %v", err)
		} else {
			opts.Relay = pub
		}
	}

	sess, err := session.New(cfg, view, opts)
	if err != nil {
		dash.Stop()
		log.Fatalf("Error creating session: %v", err)
	}
	current.Store(sess)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Metrics.Enabled {
		srv, addr, err := startMetricsServer(cfg.Metrics.Listen, tracker, logger)
		if err != nil {
			log.Printf("Warning: metrics disabled: %v", err)
		} else {
			log.Printf("Metrics available at http://%s/metrics", addr)
			defer stopMetricsServer(srv)
		}
	}

	if err := sess.Init(ctx); err != nil {
		dash.Stop()
		log.Fatalf("Error starting session: %v", err)
	}
	if headless != nil {
		go runHeadlessReport(ctx, headlessReportInterval, headless, sess, tracker, logger)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var uiDone <-chan struct{}
	if dash != nil {
		uiDone = dash.Done()
		log.Println("Press r to start/stop recording, q to quit.")
	} else {
		log.Println("Running headless. Press Ctrl+C to stop.")
	}

	select {
	case sig := <-sigChan:
		log.Printf("Received signal: %v", sig)
	case <-quit:
		log.Println("Quit requested")
	case <-uiDone:
		log.Println("Dashboard exited")
	}
	log.Println("Shutting down gracefully...")

	cancel()
	if err := sess.Dispose(); err != nil {
		log.Printf("Warning: %v", err)
	}
	if dash != nil {
		fanout.SetConsole(os.Stdout, true)
		dash.Stop()
	}
	for _, line := range tracker.SnapshotLines() {
		log.Println(line)
	}
	fmt.Fprintln(os.Stdout, "recstatus stopped")
}
