// Package queue is the asynchronous alert intake path: producers enqueue
// whole alert events and the intake worker drains them into the fanout
// dispatcher. Per-delivery retries never pass through here; the retry
// scanner owns those.
package queue

import (
	"context"

	"github.com/dekuworks/runner-alerts/internal/domain"
)

const (
	// AlertQueueName is the single intake work queue.
	AlertQueueName = "alerts"

	// AlertDLQName receives intake messages rejected as unprocessable.
	AlertDLQName = "dlq.alerts"

	// queueMaxPriority is the x-max-priority value for the intake queue.
	queueMaxPriority int32 = 3
)

// Publisher publishes alert messages to the intake queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg AlertMessage) error
	Close() error
}

// MessageHandler handles a consumed intake message.
type MessageHandler func(ctx context.Context, msg AlertMessage) error

// Consumer consumes alert messages from the intake queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}

// PriorityValue maps event priority to broker message priority.
func PriorityValue(priority domain.Priority) uint8 {
	switch priority {
	case domain.PriorityHigh:
		return 3
	case domain.PriorityNormal:
		return 2
	case domain.PriorityLow:
		return 1
	default:
		return 0
	}
}
