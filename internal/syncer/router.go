package syncer

import (
	"context"
	"log/slog"
	"sync"

	"github.com/justiceops/recordsync/internal/queue"
)

// Router dispatches SYNC_EVENT deliveries to the reconciler for the record
// type named on the message envelope.
type Router struct {
	mu          sync.RWMutex
	reconcilers map[string]*Reconciler
	logger      *slog.Logger
}

// NewRouter returns an empty router.
func NewRouter(logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		reconcilers: make(map[string]*Reconciler),
		logger:      logger,
	}
}

// Register adds a record type's reconciler.
func (r *Router) Register(recordType string, rec *Reconciler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reconcilers[recordType] = rec
}

// Handle routes one delivery. Unregistered record types go to the DLQ.
func (r *Router) Handle(ctx context.Context, d queue.Delivery) queue.Result {
	r.mu.RLock()
	rec, ok := r.reconcilers[d.Type]
	r.mu.RUnlock()
	if !ok {
		r.logger.Error("no reconciler for record type", "type", d.Type)
		return queue.Fail
	}
	return rec.Handle(ctx, d)
}

// Bind installs the router on a consumer.
func (r *Router) Bind(consumer *queue.Consumer) {
	consumer.Handle(queue.KindSyncEvent, r.Handle)
}
