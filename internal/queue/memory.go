package queue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/helmsmith/conveyor/pkg/schema"
)

const defaultCapacity = 1024

// MemorySource is a channel-backed Source for in-process deployments and
// tests.
type MemorySource struct {
	mu      sync.Mutex
	jobs    chan *Job
	pending map[string]*Job // delivered, awaiting ack/nack
	next    atomic.Uint64
	closed  bool
}

// NewMemorySource creates a MemorySource holding at most capacity
// undelivered jobs. capacity <= 0 falls back to the default.
func NewMemorySource(capacity int) *MemorySource {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &MemorySource{
		jobs:    make(chan *Job, capacity),
		pending: make(map[string]*Job),
	}
}

// Enqueue adds an encoded execution request to the queue and returns the
// assigned delivery id.
func (s *MemorySource) Enqueue(payload []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrSourceClosed
	}

	job := &Job{
		DeliveryID: fmt.Sprintf("delivery-%d", s.next.Add(1)),
		Payload:    payload,
		Enqueued:   time.Now().UTC(),
	}
	select {
	case s.jobs <- job:
		return job.DeliveryID, nil
	default:
		return "", schema.NewErrorf(schema.ErrCodeCapacity, "queue full (capacity %d)", cap(s.jobs))
	}
}

// Receive blocks until a job is available, the context ends, or the source
// is closed and drained.
func (s *MemorySource) Receive(ctx context.Context) (*Job, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case job, ok := <-s.jobs:
		if !ok {
			return nil, ErrSourceClosed
		}
		s.mu.Lock()
		s.pending[job.DeliveryID] = job
		s.mu.Unlock()
		return job, nil
	}
}

// Ack discards a delivered job.
func (s *MemorySource) Ack(deliveryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[deliveryID]; !ok {
		return fmt.Errorf("unknown delivery %q", deliveryID)
	}
	delete(s.pending, deliveryID)
	return nil
}

// Nack returns a delivered job to the tail of the queue.
func (s *MemorySource) Nack(deliveryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.pending[deliveryID]
	if !ok {
		return fmt.Errorf("unknown delivery %q", deliveryID)
	}
	if s.closed {
		delete(s.pending, deliveryID)
		return ErrSourceClosed
	}
	select {
	case s.jobs <- job:
		delete(s.pending, deliveryID)
		return nil
	default:
		return schema.NewErrorf(schema.ErrCodeCapacity, "queue full, delivery %q stays pending", deliveryID)
	}
}

// Size reports the number of undelivered jobs.
func (s *MemorySource) Size() int {
	return len(s.jobs)
}

// Close stops intake. Jobs already queued can still be received; once the
// buffer drains, Receive returns ErrSourceClosed.
func (s *MemorySource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.jobs)
	return nil
}
