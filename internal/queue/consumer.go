package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Consumer runs a bounded worker pool over a queue, dispatching each delivery
// through a handler table keyed by message kind. Concurrency is bounded here,
// not by the handlers; handlers are stateless and may run in parallel for the
// same migration run.
type Consumer struct {
	queue    Queue
	handlers map[Kind]Handler
	workers  int
	logger   *slog.Logger
}

// NewConsumer creates a consumer. A nil logger falls back to slog.Default.
func NewConsumer(q Queue, workers int, logger *slog.Logger) *Consumer {
	if workers <= 0 {
		workers = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		queue:    q,
		handlers: make(map[Kind]Handler),
		workers:  workers,
		logger:   logger,
	}
}

// Handle registers the handler for a message kind. Registration must finish
// before Run; the table is not safe for concurrent mutation.
func (c *Consumer) Handle(kind Kind, h Handler) {
	c.handlers[kind] = h
}

// Run blocks consuming messages until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.work(ctx)
		}()
	}
	wg.Wait()
	return ctx.Err()
}

func (c *Consumer) work(ctx context.Context) {
	for {
		d, err := c.queue.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			c.logger.Error("receive failed", "error", err)
			continue
		}
		c.dispatch(ctx, d)
	}
}

func (c *Consumer) dispatch(ctx context.Context, d Delivery) {
	handler, ok := c.handlers[d.Kind]
	if !ok {
		c.logger.Error("no handler for message kind", "kind", d.Kind)
		if err := c.queue.DeadLetter(ctx, d); err != nil {
			c.logger.Error("dead-letter failed", "kind", d.Kind, "error", err)
		}
		return
	}

	result := c.invoke(ctx, handler, d)

	switch result {
	case Success:
		if err := c.queue.Delete(ctx, d); err != nil {
			c.logger.Error("delete failed", "kind", d.Kind, "error", err)
		}
	case Retry:
		// Leave the delivery alone: the visibility timeout redelivers it and
		// the queue's max receive count eventually parks it on the DLQ.
		c.logger.Warn("handler requested retry", "kind", d.Kind, "receive_count", d.ReceiveCount)
	case Fail:
		c.logger.Warn("handler failed terminally", "kind", d.Kind)
		if err := c.queue.DeadLetter(ctx, d); err != nil {
			c.logger.Error("dead-letter failed", "kind", d.Kind, "error", err)
		}
	}
}

// invoke shields the worker from handler panics; a panicking handler behaves
// like a transport failure and the message redelivers.
func (c *Consumer) invoke(ctx context.Context, handler Handler, d Delivery) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("handler panicked", "kind", d.Kind, "panic", fmt.Sprintf("%v", r))
			result = Retry
		}
	}()
	return handler(ctx, d)
}
