package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"recstatus/config"
)

const (
	logTimestampLayout = "2006/01/02 15:04:05"
	logFileDateLayout  = "02-Jan-2006"
	maxPendingLogBytes = 16 * 1024
)

// lineSink receives complete log lines.
type lineSink interface {
	WriteLine(line string, now time.Time)
	Close() error
}

// writerSink forwards lines to the console or dashboard pane.
type writerSink struct {
	w     io.Writer
	stamp bool
}

func (s *writerSink) WriteLine(line string, now time.Time) {
	if s == nil || s.w == nil {
		return
	}
	if s.stamp {
		line = now.Local().Format(logTimestampLayout) + " " + line
	}
	_, _ = io.WriteString(s.w, line+"\n")
}

func (s *writerSink) Close() error { return nil }

// dailyFileSink appends to <dir>/<02-Jan-2006>.log, opening a new file when
// the UTC date changes and pruning files older than the retention window.
type dailyFileSink struct {
	dir       string
	retention int

	mu        sync.Mutex
	date      string
	file      *os.File
	lastError time.Time
}

// Purpose: Create the daily log directory and prune stale files.
// Key aspects: Cleanup failures are reported but never block startup.
// Upstream: setupLogging.
// Downstream: os.MkdirAll, pruneLogs.
func newDailyFileSink(dir string, retentionDays int) (*dailyFileSink, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("log directory is empty")
	}
	if retentionDays <= 0 {
		retentionDays = 7
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create log directory %q: %w", dir, err)
	}
	if err := pruneLogs(dir, time.Now().UTC(), retentionDays); err != nil {
		fmt.Fprintf(os.Stderr, "Logging: prune %s: %v\n", dir, err)
	}
	return &dailyFileSink{dir: dir, retention: retentionDays}, nil
}

// Purpose: Append one timestamped line, switching files at UTC midnight.
// Key aspects: File errors go to stderr at most once a minute.
// Upstream: logFanout.Write.
// Downstream: os.OpenFile, File.WriteString.
func (s *dailyFileSink) WriteLine(line string, now time.Time) {
	if s == nil {
		return
	}
	now = now.UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	if date := now.Format(logFileDateLayout); s.file == nil || s.date != date {
		s.openLocked(date, now)
	}
	if s.file == nil {
		return
	}
	if _, err := s.file.WriteString(now.Format(logTimestampLayout) + " " + line + "\n"); err != nil {
		s.complainLocked(now, fmt.Errorf("write: %w", err))
	}
}

func (s *dailyFileSink) openLocked(date string, now time.Time) {
	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}
	path := filepath.Join(s.dir, logFileName(now))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		s.complainLocked(now, fmt.Errorf("open %s: %w", path, err))
		return
	}
	s.file = f
	s.date = date
	if err := pruneLogs(s.dir, now, s.retention); err != nil {
		s.complainLocked(now, fmt.Errorf("prune: %w", err))
	}
}

func (s *dailyFileSink) complainLocked(now time.Time, err error) {
	if !s.lastError.IsZero() && now.Sub(s.lastError) < time.Minute {
		return
	}
	s.lastError = now
	fmt.Fprintf(os.Stderr, "Logging: %v\n", err)
}

// Path returns the file currently written to, if any.
func (s *dailyFileSink) Path() string {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return ""
	}
	return s.file.Name()
}

func (s *dailyFileSink) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	s.date = ""
	return err
}

// logFanout is the io.Writer handed to the log package. It splits output into
// lines and copies each line to the console sink and the file sink.
type logFanout struct {
	mu      sync.Mutex
	pending []byte
	console lineSink
	file    lineSink
}

// Purpose: Build the process log writer from config.
// Key aspects: Always returns a usable fanout; a file sink error is returned
// alongside so startup can report it and continue.
// Upstream: main.
// Downstream: newDailyFileSink, log.SetOutput.
func setupLogging(cfg config.LoggingConfig, console io.Writer) (*logFanout, error) {
	f := &logFanout{console: &writerSink{w: console, stamp: true}}
	if !cfg.Enabled {
		return f, nil
	}
	sink, err := newDailyFileSink(cfg.Dir, cfg.RetentionDays)
	if err != nil {
		return f, err
	}
	f.mu.Lock()
	f.file = sink
	f.mu.Unlock()
	return f, nil
}

// Purpose: Redirect console lines, e.g. into the dashboard system pane.
// Key aspects: A nil writer silences the console.
// Upstream: main after UI start.
// Downstream: None.
func (f *logFanout) SetConsole(w io.Writer, stamp bool) {
	if f == nil {
		return
	}
	var sink lineSink
	if w != nil {
		sink = &writerSink{w: w, stamp: stamp}
	}
	f.mu.Lock()
	f.console = sink
	f.mu.Unlock()
}

func (f *logFanout) Write(p []byte) (int, error) {
	if f == nil {
		return len(p), nil
	}
	f.mu.Lock()
	f.pending = append(f.pending, p...)
	var lines []string
	for {
		idx := bytes.IndexByte(f.pending, '\n')
		if idx < 0 {
			break
		}
		lines = append(lines, string(bytes.TrimRight(f.pending[:idx], "\r")))
		f.pending = f.pending[idx+1:]
	}
	if len(f.pending) > maxPendingLogBytes {
		lines = append(lines, string(f.pending))
		f.pending = nil
	}
	console, file := f.console, f.file
	f.mu.Unlock()

	now := time.Now()
	for _, line := range lines {
		if console != nil {
			console.WriteLine(line, now)
		}
		if file != nil {
			file.WriteLine(line, now)
		}
	}
	return len(p), nil
}

func (f *logFanout) Close() error {
	if f == nil {
		return nil
	}
	f.mu.Lock()
	console, file := f.console, f.file
	f.mu.Unlock()
	if console != nil {
		_ = console.Close()
	}
	if file != nil {
		return file.Close()
	}
	return nil
}

func logFileName(now time.Time) string {
	return now.UTC().Format(logFileDateLayout) + ".log"
}

func parseLogFileName(name string) (time.Time, bool) {
	base, ok := strings.CutSuffix(name, ".log")
	if !ok {
		return time.Time{}, false
	}
	parsed, err := time.ParseInLocation(logFileDateLayout, base, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return parsed, true
}

// pruneLogs removes daily log files older than retentionDays, counting today.
func pruneLogs(dir string, now time.Time, retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	y, m, d := now.UTC().Date()
	cutoff := time.Date(y, m, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -(retentionDays - 1))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		date, ok := parseLogFileName(entry.Name())
		if ok && date.Before(cutoff) {
			_ = os.Remove(filepath.Join(dir, entry.Name()))
		}
	}
	return nil
}
