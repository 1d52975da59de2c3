// Package liveness tracks edge-device heartbeats and derives online status.
//
// The tracker is a process-local cache answering "is this device reachable
// right now"; the durable online flag on the hotspot row answers "was it
// last reported online" cluster-wide. SweepStale reconciles the latter.
package liveness

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/roamwifi/roam-backend/internal/ledger"
)

// DefaultStaleThreshold allows two missed beats on a 30s cadence.
const DefaultStaleThreshold = 90 * time.Second

// Status of a device as derived from heartbeats.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
	// StatusUnknown means no heartbeat was ever received from the device.
	StatusUnknown Status = "unknown"
)

// Heartbeat is the last beat recorded for a device.
type Heartbeat struct {
	DeviceID        string
	SequenceID      int64
	ClientTimestamp int64 // unix seconds, device clock
	ReceivedAt      time.Time
}

// Tracker maintains last-seen heartbeats per device.
type Tracker struct {
	beats     map[string]Heartbeat
	mu        sync.RWMutex
	threshold time.Duration
	logger    *zap.Logger
}

// NewTracker creates a heartbeat tracker. A non-positive threshold uses
// the default.
func NewTracker(threshold time.Duration, logger *zap.Logger) *Tracker {
	if threshold <= 0 {
		threshold = DefaultStaleThreshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		beats:     make(map[string]Heartbeat),
		threshold: threshold,
		logger:    logger,
	}
}

// Record stores a heartbeat and returns the observed latency in seconds.
// Latency is diagnostic only; a skewed device clock makes it negative.
func (t *Tracker) Record(deviceID string, sequenceID, clientTimestamp int64, now time.Time) int64 {
	latency := now.Unix() - clientTimestamp

	t.mu.Lock()
	t.beats[deviceID] = Heartbeat{
		DeviceID:        deviceID,
		SequenceID:      sequenceID,
		ClientTimestamp: clientTimestamp,
		ReceivedAt:      now,
	}
	t.mu.Unlock()

	// Log every 10th beat to keep the log readable at a 30s cadence.
	if sequenceID%10 == 0 {
		t.logger.Info("heartbeat",
			zap.String("device_id", deviceID),
			zap.Int64("sequence_id", sequenceID),
			zap.Int64("latency_seconds", latency),
		)
	}

	return latency
}

// Status reports whether a device is online at the given instant. The
// second return is the last heartbeat, nil when status is unknown.
func (t *Tracker) Status(deviceID string, now time.Time) (Status, *Heartbeat) {
	t.mu.RLock()
	beat, ok := t.beats[deviceID]
	t.mu.RUnlock()

	if !ok {
		return StatusUnknown, nil
	}
	if now.Sub(beat.ReceivedAt) < t.threshold {
		return StatusOnline, &beat
	}
	return StatusOffline, &beat
}

// DeviceStatus pairs a heartbeat with its derived status.
type DeviceStatus struct {
	Status    Status
	Heartbeat Heartbeat
}

// Snapshot returns the status of every device seen so far.
func (t *Tracker) Snapshot(now time.Time) map[string]DeviceStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]DeviceStatus, len(t.beats))
	for id, beat := range t.beats {
		status := StatusOffline
		if now.Sub(beat.ReceivedAt) < t.threshold {
			status = StatusOnline
		}
		out[id] = DeviceStatus{Status: status, Heartbeat: beat}
	}
	return out
}

// Reset drops all recorded heartbeats.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.beats = make(map[string]Heartbeat)
	t.mu.Unlock()
}

// Threshold returns the staleness window.
func (t *Tracker) Threshold() time.Duration {
	return t.threshold
}

// SweepStale flips the durable online flag off for hotspots whose last
// heartbeat is older than the threshold.
func (t *Tracker) SweepStale(ctx context.Context, store ledger.Store, now time.Time) (int64, error) {
	n, err := store.MarkStaleOffline(ctx, now.Add(-t.threshold))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		t.logger.Info("marked stale hotspots offline", zap.Int64("count", n))
	}
	return n, nil
}
