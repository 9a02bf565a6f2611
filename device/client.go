// Package device is the HTTP client for the recording device API: status,
// record, stop and the preview pull endpoint.
package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"recstatus/status"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrUnexpectedStatus is returned for any non-2xx response.
var ErrUnexpectedStatus = errors.New("unexpected HTTP status")

const (
	maxJSONBody  = 1 << 20
	maxFrameBody = 16 << 20
)

// Options configures a Client.
type Options struct {
	BaseURL   string
	BasePath  string
	Timeout   time.Duration
	UserAgent string
	// HTTPClient overrides the default client (tests).
	HTTPClient *http.Client
}

// Client talks to one device. It is safe for concurrent use.
type Client struct {
	base      string
	userAgent string
	http      *http.Client
	// stream carries advance long-polls; only the caller's context bounds them.
	stream *http.Client
}

// New builds a client rooted at BaseURL+BasePath.
func New(opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, errors.New("device: base URL required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("device: parse base URL: %w", err)
	}
	path := strings.TrimSpace(opts.BasePath)
	if path != "" {
		path = "/" + strings.Trim(path, "/")
	}
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	stream := *hc
	stream.Timeout = 0
	return &Client{base: base + path, userAgent: opts.UserAgent, http: hc, stream: &stream}, nil
}

// Endpoint returns the absolute URL for an API path such as "/status".
func (c *Client) Endpoint(path string) string {
	return c.base + path
}

type statusMessage struct {
	Hostname          string        `json:"hostname"`
	Recording         bool          `json:"recording"`
	RecordingDuration float64       `json:"recording_duration"`
	Sinks             []sinkMessage `json:"sinks"`
}

type sinkMessage struct {
	Name             string  `json:"name"`
	BytesIn          int64   `json:"bytes_in"`
	BytesInPerSecond float64 `json:"bytes_in_per_second"`
}

// UnmarshalJSON accepts either a sink object or a bare sink name, which older
// servers report.
func (s *sinkMessage) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var name string
		if err := json.Unmarshal(trimmed, &name); err != nil {
			return err
		}
		*s = sinkMessage{Name: name}
		return nil
	}
	type plain sinkMessage
	var p plain
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return err
	}
	*s = sinkMessage(p)
	return nil
}

type commandMessage struct {
	Success bool `json:"success"`
}

// Status fetches and decodes the current device status.
func (c *Client) Status(ctx context.Context) (status.Snapshot, error) {
	body, err := c.do(ctx, http.MethodGet, c.Endpoint("/status"), maxJSONBody)
	if err != nil {
		return status.Snapshot{}, fmt.Errorf("status: %w", err)
	}
	snap, err := ParseStatus(body)
	if err != nil {
		return status.Snapshot{}, fmt.Errorf("status: %w", err)
	}
	snap.At = time.Now()
	return snap, nil
}

// ParseStatus decodes a status body. Sinks without a name are skipped.
func ParseStatus(body []byte) (status.Snapshot, error) {
	var msg statusMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return status.Snapshot{}, fmt.Errorf("decode: %w", err)
	}
	snap := status.Snapshot{
		Recording:         msg.Recording,
		RecordingDuration: time.Duration(msg.RecordingDuration * float64(time.Second)),
		Hostname:          strings.TrimSpace(msg.Hostname),
		Sinks:             make([]status.SinkStatus, 0, len(msg.Sinks)),
	}
	if snap.RecordingDuration < 0 {
		snap.RecordingDuration = 0
	}
	for _, s := range msg.Sinks {
		if s.Name == "" {
			continue
		}
		snap.Sinks = append(snap.Sinks, status.SinkStatus{
			Name:             s.Name,
			BytesIn:          s.BytesIn,
			BytesInPerSecond: s.BytesInPerSecond,
		})
	}
	return snap, nil
}

// Record asks the device to start recording and reports the success flag.
func (c *Client) Record(ctx context.Context) (bool, error) {
	return c.command(ctx, "/record")
}

// Stop asks the device to stop recording and reports the success flag.
func (c *Client) Stop(ctx context.Context) (bool, error) {
	return c.command(ctx, "/stop")
}

func (c *Client) command(ctx context.Context, path string) (bool, error) {
	body, err := c.do(ctx, http.MethodPost, c.Endpoint(path), maxJSONBody)
	if err != nil {
		return false, fmt.Errorf("%s: %w", strings.TrimPrefix(path, "/"), err)
	}
	var msg commandMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return false, fmt.Errorf("%s: decode: %w", strings.TrimPrefix(path, "/"), err)
	}
	return msg.Success, nil
}

// Frame fetches the current preview image for sink. token defeats caches
// between the client and the device.
func (c *Client) Frame(ctx context.Context, sink string, token int64) ([]byte, error) {
	q := url.Values{}
	q.Set("sink", sink)
	q.Set("_", strconv.FormatInt(token, 10))
	data, err := c.do(ctx, http.MethodGet, c.Endpoint("/preview")+"?"+q.Encode(), maxFrameBody)
	if err != nil {
		return nil, fmt.Errorf("preview %s: %w", sink, err)
	}
	return data, nil
}

// Advance tells the device the last frame for sink was consumed, so it can
// prepare the next one. The response completes when the next frame is ready.
func (c *Client) Advance(ctx context.Context, sink string) error {
	q := url.Values{}
	q.Set("sink", sink)
	q.Set("next", "1")
	if _, err := c.doWith(ctx, c.stream, http.MethodGet, c.Endpoint("/preview")+"?"+q.Encode(), maxFrameBody); err != nil {
		return fmt.Errorf("advance %s: %w", sink, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, target string, limit int64) ([]byte, error) {
	return c.doWith(ctx, c.http, method, target, limit)
}

func (c *Client) doWith(ctx context.Context, hc *http.Client, method, target string, limit int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return nil, err
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	req.Header.Set("Cache-Control", "no-cache")
	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w %d", ErrUnexpectedStatus, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, limit))
}
