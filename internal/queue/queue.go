// Package queue feeds the engine front door from an external job queue.
// Payloads are encoded ExecutionRequests. The engine owns admission and the
// queue owns backlog: capacity rejections are nacked back to the source for
// redelivery, everything else is acked exactly once.
package queue

import (
	"context"
	"errors"
	"time"
)

// ErrSourceClosed is returned by Receive once a source is closed and drained.
var ErrSourceClosed = errors.New("queue source closed")

// Job is one delivery from a queue source. Payload is an encoded
// ExecutionRequest; DeliveryID is the source's handle for Ack and Nack.
type Job struct {
	DeliveryID string
	Payload    []byte
	Enqueued   time.Time
}

// Source is the consumer-facing side of a job queue. Receive blocks until a
// delivery is available or ctx ends. Ack discards a delivery; Nack returns
// it to the queue for redelivery. Any broker adapts behind this interface;
// MemorySource is the in-process implementation.
type Source interface {
	Receive(ctx context.Context) (*Job, error)
	Ack(deliveryID string) error
	Nack(deliveryID string) error
}
