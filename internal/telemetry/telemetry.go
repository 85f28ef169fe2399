// Package telemetry provides fire-and-forget operational event tracking.
package telemetry

import (
	"log/slog"
)

// Tracker records named operational events with string attributes.
// Implementations must never block the caller on failure; tracking is
// fire-and-forget.
type Tracker interface {
	TrackEvent(name string, attrs map[string]string)
}

// LogTracker emits events through a structured logger.
type LogTracker struct {
	logger *slog.Logger
}

// NewLogTracker creates a tracker backed by the given logger.
func NewLogTracker(logger *slog.Logger) *LogTracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogTracker{logger: logger}
}

// TrackEvent logs the event at INFO with one attribute per key.
func (t *LogTracker) TrackEvent(name string, attrs map[string]string) {
	args := make([]any, 0, len(attrs)*2+2)
	args = append(args, "event", name)
	for k, v := range attrs {
		args = append(args, k, v)
	}
	t.logger.Info("telemetry", args...)
}

// MultiTracker fans a single event out to several trackers.
type MultiTracker []Tracker

// TrackEvent forwards the event to every tracker in order.
func (m MultiTracker) TrackEvent(name string, attrs map[string]string) {
	for _, t := range m {
		t.TrackEvent(name, attrs)
	}
}

// NopTracker discards all events.
type NopTracker struct{}

func (NopTracker) TrackEvent(string, map[string]string) {}
