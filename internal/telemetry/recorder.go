package telemetry

import "sync"

// Event is one recorded telemetry event.
type Event struct {
	Name  string
	Attrs map[string]string
}

// Recorder captures every event in order. Used in tests and as the feed for
// live event subscribers.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	subs   map[chan Event]struct{}
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{subs: make(map[chan Event]struct{})}
}

// TrackEvent appends the event and notifies subscribers without blocking;
// a subscriber that cannot keep up misses events rather than stalling the
// producer.
func (r *Recorder) TrackEvent(name string, attrs map[string]string) {
	ev := Event{Name: name, Attrs: cloneAttrs(attrs)}

	r.mu.Lock()
	r.events = append(r.events, ev)
	for ch := range r.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	r.mu.Unlock()
}

// Events returns a copy of all recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Named returns all recorded events with the given name.
func (r *Recorder) Named(name string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

// Subscribe registers a buffered channel that receives future events.
// The returned cancel func removes the subscription and closes the channel.
func (r *Recorder) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 64)

	r.mu.Lock()
	r.subs[ch] = struct{}{}
	r.mu.Unlock()

	cancel := func() {
		r.mu.Lock()
		if _, ok := r.subs[ch]; ok {
			delete(r.subs, ch)
			close(ch)
		}
		r.mu.Unlock()
	}
	return ch, cancel
}
