package telemetry

import (
	"sync"
	"time"
)

// EventMetrics holds aggregated data for a single event name.
type EventMetrics struct {
	Count     int64
	FirstSeen time.Time
	LastSeen  time.Time
	LastAttrs map[string]string
}

// Snapshot represents all collected event statistics at a point in time.
type Snapshot struct {
	UptimeSeconds float64
	Events        map[string]EventMetrics
}

// Collector aggregates in-memory event statistics. It implements Tracker so
// it can sit behind a MultiTracker alongside the log tracker.
// All methods are thread-safe.
type Collector struct {
	mu        sync.RWMutex
	startTime time.Time
	events    map[string]*EventMetrics
}

// NewCollector creates a new event collector.
func NewCollector() *Collector {
	return &Collector{
		startTime: time.Now(),
		events:    make(map[string]*EventMetrics),
	}
}

// TrackEvent records one occurrence of the named event.
func (c *Collector) TrackEvent(name string, attrs map[string]string) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	m, ok := c.events[name]
	if !ok {
		m = &EventMetrics{FirstSeen: now}
		c.events[name] = m
	}
	m.Count++
	m.LastSeen = now
	m.LastAttrs = cloneAttrs(attrs)
}

// Count returns the number of occurrences recorded for an event name.
func (c *Collector) Count(name string) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if m, ok := c.events[name]; ok {
		return m.Count
	}
	return 0
}

// Snapshot returns a point-in-time copy of all metrics.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	events := make(map[string]EventMetrics, len(c.events))
	for name, m := range c.events {
		events[name] = EventMetrics{
			Count:     m.Count,
			FirstSeen: m.FirstSeen,
			LastSeen:  m.LastSeen,
			LastAttrs: cloneAttrs(m.LastAttrs),
		}
	}
	return Snapshot{
		UptimeSeconds: time.Since(c.startTime).Seconds(),
		Events:        events,
	}
}

func cloneAttrs(attrs map[string]string) map[string]string {
	if attrs == nil {
		return nil
	}
	out := make(map[string]string, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}
