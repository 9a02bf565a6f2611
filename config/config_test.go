package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "recstatus.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write recstatus.yaml: %v", err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.PollInterval() != time.Second {
		t.Fatalf("expected 1s poll interval, got %s", cfg.PollInterval())
	}
	if cfg.PulseInterval() != 628*time.Millisecond {
		t.Fatalf("expected 628ms pulse, got %s", cfg.PulseInterval())
	}
	tick := cfg.CounterTick()
	if tick < 41*time.Millisecond || tick > 42*time.Millisecond {
		t.Fatalf("expected ~41.7ms tick, got %s", tick)
	}
	if cfg.FallbackPace() != 750*time.Millisecond {
		t.Fatalf("expected 750ms fallback pace, got %s", cfg.FallbackPace())
	}
	if cfg.Device.BasePath != "/api/v1" {
		t.Fatalf("expected /api/v1 base path, got %q", cfg.Device.BasePath)
	}
	if cfg.Preview.Policy != PolicyNegotiated {
		t.Fatalf("expected negotiated policy by default, got %q", cfg.Preview.Policy)
	}
	if !cfg.PreviewEnabled() {
		t.Fatalf("expected preview enabled by default")
	}
	if len(cfg.Preview.NonVisualSinks) != 1 || cfg.Preview.NonVisualSinks[0] != "audio" {
		t.Fatalf("expected audio as default non-visual sink, got %v", cfg.Preview.NonVisualSinks)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoadOverridesAndNormalizes(t *testing.T) {
	path := writeConfig(t, `device:
  base_url: "http://recorder.local:8080/"
  base_path: "api/v2/"
poll:
  interval_ms: 500
preview:
  policy: "FIXED_DELAY"
  fallback_pace_ms: 400
  enabled: false
  non_visual_sinks: []
ui:
  mode: headless
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.LoadedFrom != path {
		t.Fatalf("expected LoadedFrom=%s, got %s", path, cfg.LoadedFrom)
	}
	if cfg.Device.BaseURL != "http://recorder.local:8080" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.Device.BaseURL)
	}
	if cfg.Device.BasePath != "/api/v2" {
		t.Fatalf("expected /api/v2, got %q", cfg.Device.BasePath)
	}
	if cfg.PollInterval() != 500*time.Millisecond {
		t.Fatalf("expected 500ms, got %s", cfg.PollInterval())
	}
	if cfg.Preview.Policy != PolicyFixedDelay {
		t.Fatalf("expected fixed_delay, got %q", cfg.Preview.Policy)
	}
	if cfg.PreviewEnabled() {
		t.Fatalf("expected preview disabled")
	}
	if len(cfg.Preview.NonVisualSinks) != 0 {
		t.Fatalf("expected explicit empty non-visual list to be kept, got %v", cfg.Preview.NonVisualSinks)
	}
	if cfg.UI.Mode != UIModeHeadless {
		t.Fatalf("expected headless, got %q", cfg.UI.Mode)
	}
}

func TestLoadRejectsUnknownPolicy(t *testing.T) {
	path := writeConfig(t, "preview:\n  policy: \"firehose\"\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected Load() to reject unknown preview policy")
	}
}

func TestLoadRejectsRelayWithoutBroker(t *testing.T) {
	path := writeConfig(t, "relay:\n  enabled: true\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected Load() to reject relay without broker")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	} else if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}
