package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Preview pacing policies.
const (
	PolicyNegotiated = "negotiated"
	PolicyFixedDelay = "fixed_delay"
)

// UI modes.
const (
	UIModeTview    = "tview"
	UIModeHeadless = "headless"
)

// Config represents the complete client configuration
type Config struct {
	Device  DeviceConfig  `yaml:"device"`
	Poll    PollConfig    `yaml:"poll"`
	Counter CounterConfig `yaml:"counter"`
	Preview PreviewConfig `yaml:"preview"`
	UI      UIConfig      `yaml:"ui"`
	Logging LoggingConfig `yaml:"logging"`
	Relay   RelayConfig   `yaml:"relay"`
	Metrics MetricsConfig `yaml:"metrics"`

	// LoadedFrom is the file the configuration was read from (empty for defaults).
	LoadedFrom string `yaml:"-"`
}

// DeviceConfig locates the recording device API.
type DeviceConfig struct {
	BaseURL          string `yaml:"base_url"`
	BasePath         string `yaml:"base_path"`
	RequestTimeoutMs int    `yaml:"request_timeout_ms"`
	UserAgent        string `yaml:"user_agent"`
}

// PollConfig controls status freshness vs. server load.
type PollConfig struct {
	IntervalMs int `yaml:"interval_ms"`
}

// CounterConfig controls the elapsed-time display cadence.
type CounterConfig struct {
	TickMs  float64 `yaml:"tick_ms"`
	PulseMs int     `yaml:"pulse_ms"`
}

// PreviewConfig controls the per-sink preview pull loops.
type PreviewConfig struct {
	Enabled        *bool    `yaml:"enabled"`
	Policy         string   `yaml:"policy"`
	FallbackPaceMs int      `yaml:"fallback_pace_ms"`
	RetryBaseMs    int      `yaml:"retry_base_ms"`
	RetryMaxMs     int      `yaml:"retry_max_ms"`
	NonVisualSinks []string `yaml:"non_visual_sinks"`
}

// UIConfig selects the renderer.
type UIConfig struct {
	Mode            string `yaml:"mode"`
	ThumbnailWidth  int    `yaml:"thumbnail_width"`
	ThumbnailHeight int    `yaml:"thumbnail_height"`
}

// LoggingConfig contains file logging settings
type LoggingConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Dir           string `yaml:"dir"`
	RetentionDays int    `yaml:"retention_days"`
}

// RelayConfig contains the optional MQTT status relay settings
type RelayConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	Port     int    `yaml:"port"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
	QoS      byte   `yaml:"qos"`
	Retain   bool   `yaml:"retain"`
}

// MetricsConfig contains the optional Prometheus listener settings
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.normalize()
	return cfg
}

// Load loads configuration from a YAML file
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", filename, err)
	}
	cfg.LoadedFrom = filename

	return &cfg, nil
}

func (c *Config) normalize() {
	c.Device.BaseURL = strings.TrimRight(strings.TrimSpace(c.Device.BaseURL), "/")
	if c.Device.BaseURL == "" {
		c.Device.BaseURL = "http://127.0.0.1:8080"
	}
	c.Device.BasePath = strings.TrimSpace(c.Device.BasePath)
	if c.Device.BasePath == "" {
		c.Device.BasePath = "/api/v1"
	}
	if !strings.HasPrefix(c.Device.BasePath, "/") {
		c.Device.BasePath = "/" + c.Device.BasePath
	}
	c.Device.BasePath = strings.TrimRight(c.Device.BasePath, "/")
	if c.Device.RequestTimeoutMs <= 0 {
		c.Device.RequestTimeoutMs = 5000
	}
	if strings.TrimSpace(c.Device.UserAgent) == "" {
		c.Device.UserAgent = "recstatus"
	}

	if c.Poll.IntervalMs <= 0 {
		c.Poll.IntervalMs = 1000
	}

	if c.Counter.TickMs <= 0 {
		c.Counter.TickMs = 1000.0 / 24.0
	}
	if c.Counter.PulseMs <= 0 {
		c.Counter.PulseMs = 628
	}

	if c.Preview.Enabled == nil {
		enabled := true
		c.Preview.Enabled = &enabled
	}
	c.Preview.Policy = strings.ToLower(strings.TrimSpace(c.Preview.Policy))
	if c.Preview.Policy == "" {
		c.Preview.Policy = PolicyNegotiated
	}
	if c.Preview.FallbackPaceMs <= 0 {
		c.Preview.FallbackPaceMs = 750
	}
	if c.Preview.RetryBaseMs <= 0 {
		c.Preview.RetryBaseMs = 250
	}
	if c.Preview.RetryMaxMs < c.Preview.RetryBaseMs {
		c.Preview.RetryMaxMs = 5000
		if c.Preview.RetryMaxMs < c.Preview.RetryBaseMs {
			c.Preview.RetryMaxMs = c.Preview.RetryBaseMs
		}
	}
	if c.Preview.NonVisualSinks == nil {
		c.Preview.NonVisualSinks = []string{"audio"}
	}

	c.UI.Mode = strings.ToLower(strings.TrimSpace(c.UI.Mode))
	if c.UI.Mode == "" {
		c.UI.Mode = UIModeTview
	}
	if c.UI.ThumbnailWidth <= 0 {
		c.UI.ThumbnailWidth = 32
	}
	if c.UI.ThumbnailHeight <= 0 {
		c.UI.ThumbnailHeight = 9
	}

	if c.Logging.Dir == "" {
		c.Logging.Dir = "logs"
	}
	if c.Logging.RetentionDays <= 0 {
		c.Logging.RetentionDays = 7
	}

	if c.Relay.Port <= 0 {
		c.Relay.Port = 1883
	}
	if strings.TrimSpace(c.Relay.Topic) == "" {
		c.Relay.Topic = "recstatus/status"
	}

	if strings.TrimSpace(c.Metrics.Listen) == "" {
		c.Metrics.Listen = "127.0.0.1:9108"
	}
}

// Validate checks configuration correctness after defaults have been applied.
func (c *Config) Validate() error {
	if !strings.HasPrefix(c.Device.BaseURL, "http://") && !strings.HasPrefix(c.Device.BaseURL, "https://") {
		return fmt.Errorf("device.base_url %q must start with http:// or https://", c.Device.BaseURL)
	}
	switch c.Preview.Policy {
	case PolicyNegotiated, PolicyFixedDelay:
	default:
		return fmt.Errorf("preview.policy %q not recognized (want %s or %s)", c.Preview.Policy, PolicyNegotiated, PolicyFixedDelay)
	}
	switch c.UI.Mode {
	case UIModeTview, UIModeHeadless:
	default:
		return fmt.Errorf("ui.mode %q not recognized (want %s or %s)", c.UI.Mode, UIModeTview, UIModeHeadless)
	}
	if c.Relay.Enabled && strings.TrimSpace(c.Relay.Broker) == "" {
		return errors.New("relay.broker is required when relay is enabled")
	}
	if c.Relay.QoS > 2 {
		return fmt.Errorf("relay.qos %d out of range (0-2)", c.Relay.QoS)
	}
	return nil
}

// PollInterval returns the status poll cadence.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Poll.IntervalMs) * time.Millisecond
}

// RequestTimeout bounds every device round trip.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Device.RequestTimeoutMs) * time.Millisecond
}

// CounterTick returns the display refresh cadence (fractional milliseconds allowed).
func (c *Config) CounterTick() time.Duration {
	return time.Duration(c.Counter.TickMs * float64(time.Millisecond))
}

// PulseInterval returns the liveness flash cadence.
func (c *Config) PulseInterval() time.Duration {
	return time.Duration(c.Counter.PulseMs) * time.Millisecond
}

// FallbackPace returns the fixed-delay preview pacing.
func (c *Config) FallbackPace() time.Duration {
	return time.Duration(c.Preview.FallbackPaceMs) * time.Millisecond
}

// RetryBackoff returns the preview retry backoff window.
func (c *Config) RetryBackoff() (time.Duration, time.Duration) {
	return time.Duration(c.Preview.RetryBaseMs) * time.Millisecond,
		time.Duration(c.Preview.RetryMaxMs) * time.Millisecond
}

// PreviewEnabled reports whether visual sinks get a preview loop.
func (c *Config) PreviewEnabled() bool {
	return c.Preview.Enabled == nil || *c.Preview.Enabled
}

// Print displays the configuration
func (c *Config) Print() {
	fmt.Printf("Device: %s%s (timeout %dms)\n", c.Device.BaseURL, c.Device.BasePath, c.Device.RequestTimeoutMs)
	fmt.Printf("Poll: every %dms\n", c.Poll.IntervalMs)
	fmt.Printf("Counter: tick %.1fms, pulse %dms\n", c.Counter.TickMs, c.Counter.PulseMs)
	if c.PreviewEnabled() {
		fmt.Printf("Preview: policy=%s (fallback pace %dms, retry %d-%dms)\n",
			c.Preview.Policy, c.Preview.FallbackPaceMs, c.Preview.RetryBaseMs, c.Preview.RetryMaxMs)
	} else {
		fmt.Println("Preview: disabled")
	}
	if len(c.Preview.NonVisualSinks) > 0 {
		fmt.Printf("Non-visual sinks: %s\n", strings.Join(c.Preview.NonVisualSinks, ", "))
	}
	if c.Relay.Enabled {
		fmt.Printf("Relay: %s:%d (topic: %s)\n", c.Relay.Broker, c.Relay.Port, c.Relay.Topic)
	}
	if c.Metrics.Enabled {
		fmt.Printf("Metrics: %s\n", c.Metrics.Listen)
	}
}
