package migrate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/justiceops/recordsync/internal/gateway"
	"github.com/justiceops/recordsync/internal/history"
	"github.com/justiceops/recordsync/internal/queue"
)

// Engine routes queue deliveries to the coordinator for the record type named
// on the message envelope. One engine serves all configured record types.
type Engine struct {
	mu           sync.RWMutex
	coordinators map[string]*Coordinator
	logger       *slog.Logger
}

// NewEngine returns an empty engine; record types are added with Register.
func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		coordinators: make(map[string]*Coordinator),
		logger:       logger,
	}
}

// Register adds a record type's coordinator. Registering the same type twice
// replaces the earlier coordinator.
func (e *Engine) Register(recordType string, c *Coordinator) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.coordinators[recordType] = c
}

// Coordinator returns the coordinator for a record type.
func (e *Engine) Coordinator(recordType string) (*Coordinator, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	c, ok := e.coordinators[recordType]
	return c, ok
}

// Types returns the registered record types.
func (e *Engine) Types() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	types := make([]string, 0, len(e.coordinators))
	for t := range e.coordinators {
		types = append(types, t)
	}
	return types
}

// Start begins a run for one record type.
func (e *Engine) Start(ctx context.Context, recordType string, filter gateway.Filter) (history.Run, error) {
	c, ok := e.Coordinator(recordType)
	if !ok {
		return history.Run{}, fmt.Errorf("unknown record type %q", recordType)
	}
	return c.Start(ctx, filter)
}

// Cancel requests cancellation of a run for one record type.
func (e *Engine) Cancel(ctx context.Context, recordType, migrationID string) error {
	c, ok := e.Coordinator(recordType)
	if !ok {
		return fmt.Errorf("unknown record type %q", recordType)
	}
	return c.Cancel(ctx, migrationID)
}

// Remigrate re-runs the migration path for one record of one type.
func (e *Engine) Remigrate(ctx context.Context, recordType, sourceID string, deleteFirst bool) (Outcome, error) {
	c, ok := e.Coordinator(recordType)
	if !ok {
		return 0, fmt.Errorf("unknown record type %q", recordType)
	}
	return c.Remigrate(ctx, sourceID, deleteFirst)
}

// Bind installs the engine's handlers on a consumer. Deliveries naming an
// unregistered record type go straight to the DLQ.
func (e *Engine) Bind(consumer *queue.Consumer) {
	consumer.Handle(queue.KindDivide, e.route((*Coordinator).HandleDivide))
	consumer.Handle(queue.KindMigratePage, e.route((*Coordinator).HandlePage))
	consumer.Handle(queue.KindMigrateEntity, e.route((*Coordinator).HandleEntity))
	consumer.Handle(queue.KindRetryMapping, e.route((*Coordinator).HandleRetryMapping))
	consumer.Handle(queue.KindStatusCheck, e.route((*Coordinator).HandleStatusCheck))
	consumer.Handle(queue.KindCancelCheck, e.route((*Coordinator).HandleCancelCheck))
}

func (e *Engine) route(h func(*Coordinator, context.Context, queue.Delivery) queue.Result) queue.Handler {
	return func(ctx context.Context, d queue.Delivery) queue.Result {
		c, ok := e.Coordinator(d.Type)
		if !ok {
			e.logger.Error("no coordinator for record type",
				"type", d.Type, "kind", d.Kind)
			return queue.Fail
		}
		return h(c, ctx, d)
	}
}
