package queue

import (
	"context"
	"strconv"
	"sync"
	"time"
)

const memPollInterval = 5 * time.Millisecond

// MemQueue is an in-process Queue with SQS-like semantics: delayed delivery,
// visibility timeout, per-message receive counts and automatic dead-lettering
// past MaxReceive. It backs tests and local single-node runs.
type MemQueue struct {
	mu       sync.Mutex
	nextID   int
	ready    []*memItem
	inflight map[string]*memItem
	dlq      []Message

	// Visibility is how long a received message stays invisible before
	// redelivery. Defaults to 5s.
	Visibility time.Duration
	// MaxReceive is the delivery attempt bound before a message is parked on
	// the DLQ. Defaults to 3.
	MaxReceive int
}

type memItem struct {
	id          string
	msg         Message
	availableAt time.Time
	receives    int
}

// NewMemQueue creates an empty in-memory queue.
func NewMemQueue() *MemQueue {
	return &MemQueue{
		inflight:   make(map[string]*memItem),
		Visibility: 5 * time.Second,
		MaxReceive: 3,
	}
}

func (q *MemQueue) Send(_ context.Context, msg Message, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nextID++
	q.ready = append(q.ready, &memItem{
		id:          strconv.Itoa(q.nextID),
		msg:         msg,
		availableAt: time.Now().Add(delay),
	})
	return nil
}

func (q *MemQueue) Receive(ctx context.Context) (Delivery, error) {
	for {
		if d, ok := q.tryReceive(); ok {
			return d, nil
		}
		select {
		case <-ctx.Done():
			return Delivery{}, ctx.Err()
		case <-time.After(memPollInterval):
		}
	}
}

func (q *MemQueue) tryReceive() (Delivery, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	q.requeueExpiredLocked(now)

	for i, item := range q.ready {
		if item.availableAt.After(now) {
			continue
		}
		q.ready = append(q.ready[:i], q.ready[i+1:]...)

		item.receives++
		if item.receives > q.MaxReceive {
			q.dlq = append(q.dlq, item.msg)
			return Delivery{}, false
		}

		item.availableAt = now.Add(q.Visibility)
		q.inflight[item.id] = item
		return Delivery{Message: item.msg, ReceiveCount: item.receives, Handle: item.id}, true
	}
	return Delivery{}, false
}

// requeueExpiredLocked returns in-flight items whose visibility lapsed.
func (q *MemQueue) requeueExpiredLocked(now time.Time) {
	for id, item := range q.inflight {
		if !item.availableAt.After(now) {
			delete(q.inflight, id)
			q.ready = append(q.ready, item)
		}
	}
}

func (q *MemQueue) Delete(_ context.Context, d Delivery) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inflight, d.Handle)
	return nil
}

func (q *MemQueue) DeadLetter(_ context.Context, d Delivery) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.inflight[d.Handle]; ok {
		delete(q.inflight, d.Handle)
		q.dlq = append(q.dlq, d.Message)
	}
	return nil
}

// InjectDLQ places a message directly on the DLQ, simulating an unrelated
// poisoned message in tests.
func (q *MemQueue) InjectDLQ(msg Message) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dlq = append(q.dlq, msg)
}

func (q *MemQueue) ApproximateDepth(_ context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	// Visible and delayed only. In-flight deliveries are excluded so a
	// status-check handler does not count the very message it is processing;
	// the detector's debounce rounds absorb the resulting race.
	return int64(len(q.ready)), nil
}

func (q *MemQueue) DLQDepth(_ context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.dlq)), nil
}

func (q *MemQueue) Purge(_ context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ready = nil
	for id := range q.inflight {
		delete(q.inflight, id)
	}
	return nil
}
