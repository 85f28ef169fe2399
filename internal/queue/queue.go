// Package queue provides the durable message plumbing the migration and
// synchronisation handlers run on: an at-least-once queue contract with
// visibility timeout, bounded redelivery and a dead-letter queue.
package queue

import (
	"context"
	"encoding/json"
	"time"
)

// Kind tags a message with the handler that must process it.
type Kind string

const (
	KindDivide        Kind = "DIVIDE"
	KindMigratePage   Kind = "MIGRATE_BY_PAGE"
	KindMigrateEntity Kind = "MIGRATE_ENTITY"
	KindRetryMapping  Kind = "RETRY_MAPPING"
	KindStatusCheck   Kind = "MIGRATE_STATUS_CHECK"
	KindCancelCheck   Kind = "CANCEL_MIGRATE_STATUS_CHECK"
	KindSyncEvent     Kind = "SYNC_EVENT"
)

// Message is the envelope every handler consumes. Payload is the kind's own
// JSON shape; the queue never interprets it.
type Message struct {
	Kind    Kind            `json:"kind"`
	Type    string          `json:"type,omitempty"` // record type, e.g. "court-cases"
	Payload json.RawMessage `json:"payload"`
}

// NewMessage marshals a payload into an envelope.
func NewMessage(kind Kind, recordType string, payload any) (Message, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{Kind: kind, Type: recordType, Payload: b}, nil
}

// Delivery is one received message together with its redelivery bookkeeping.
type Delivery struct {
	Message
	// ReceiveCount is how many times this message has been delivered,
	// including this delivery.
	ReceiveCount int
	// Handle identifies the in-flight delivery for delete/dead-letter calls.
	Handle string
}

// Result is a handler's structured outcome. Retryable failures are expressed
// as a Result, never as a panic; the consumer translates them into queue
// operations.
type Result int

const (
	// Success deletes the message.
	Success Result = iota
	// Retry leaves the message for redelivery; the queue's max receive count
	// eventually parks it on the DLQ.
	Retry
	// Fail places the message on the DLQ immediately.
	Fail
)

// Handler processes one delivery.
type Handler func(ctx context.Context, d Delivery) Result

// Queue is the durable message transport contract.
type Queue interface {
	// Send enqueues a message, optionally delayed.
	Send(ctx context.Context, msg Message, delay time.Duration) error

	// Receive blocks until a message is available or ctx is done. The
	// delivery stays invisible to other consumers until its visibility
	// timeout lapses or it is deleted.
	Receive(ctx context.Context) (Delivery, error)

	// Delete acknowledges a delivery.
	Delete(ctx context.Context, d Delivery) error

	// DeadLetter moves a delivery onto the DLQ immediately.
	DeadLetter(ctx context.Context, d Delivery) error

	// ApproximateDepth counts visible and delayed messages on the main
	// queue, excluding in-flight deliveries. The count may lag the true
	// depth; callers re-check rather than trust a single read.
	ApproximateDepth(ctx context.Context) (int64, error)

	// DLQDepth counts messages parked on the dead-letter queue.
	DLQDepth(ctx context.Context) (int64, error)

	// Purge drops all remaining messages on the main queue.
	Purge(ctx context.Context) error
}
