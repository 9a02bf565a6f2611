// Package status holds the device status snapshot model and the poller that
// produces snapshots on a fixed cadence and fans them out to subscribers.
package status

import "time"

// SinkStatus is one recording output as reported by the device.
// Identity is Name; the counters change on every poll.
type SinkStatus struct {
	Name             string
	BytesIn          int64
	BytesInPerSecond float64
}

// Snapshot is one status response captured at a poll instant.
// It is immutable once handed to subscribers.
type Snapshot struct {
	// Seq is the poll sequence number that produced the snapshot.
	Seq uint64
	// At is when the response was received.
	At time.Time

	Recording         bool
	RecordingDuration time.Duration
	Hostname          string
	Sinks             []SinkStatus
}

// RecordingSince returns the start instant implied by the server-side duration,
// relative to now.
func (s Snapshot) RecordingSince(now time.Time) time.Time {
	return now.Add(-s.RecordingDuration)
}
