package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"

	"github.com/helmsmith/conveyor/internal/engine"
	"github.com/helmsmith/conveyor/pkg/schema"
)

// capacityBackoff is how long the consumer waits after the engine rejects a
// submission for capacity before pulling the next delivery.
const capacityBackoff = time.Second

// Submitter is the admission path into the engine. Satisfied by
// engine.FrontDoor.
type Submitter interface {
	Submit(ctx context.Context, req *schema.ExecutionRequest) (*engine.Admission, error)
}

// GraphChecker pre-flights workflow graphs arriving on the queue. Satisfied
// by validation.GraphValidator. A nil checker defers structural problems to
// the engine's planner; the job then burns an admission slot before failing.
type GraphChecker interface {
	ValidateGraph(graph *schema.WorkflowGraph) error
}

// ConsumerMetrics is a snapshot of the consumer's counters.
type ConsumerMetrics struct {
	Received  int64 `json:"received"`
	Submitted int64 `json:"submitted"`
	Requeued  int64 `json:"requeued"`
	Discarded int64 `json:"discarded"`
}

// Consumer pulls jobs from a Source, decodes them, pre-flights the graph,
// and submits them to the engine. Capacity rejections are nacked for
// redelivery; malformed or otherwise unrunnable jobs are acked and dropped
// so a poison payload cannot wedge the queue.
type Consumer struct {
	source  Source
	door    Submitter
	check   GraphChecker
	logger  *slog.Logger
	backoff time.Duration
	cancel  context.CancelFunc
	done    chan struct{}
	mu      sync.Mutex

	received  atomic.Int64
	submitted atomic.Int64
	requeued  atomic.Int64
	discarded atomic.Int64
}

// NewConsumer creates a Consumer reading from source and submitting through
// door. check may be nil to skip graph pre-flight.
func NewConsumer(source Source, door Submitter, check GraphChecker, logger *slog.Logger) *Consumer {
	return &Consumer{
		source:  source,
		door:    door,
		check:   check,
		logger:  logger,
		backoff: capacityBackoff,
	}
}

// Start launches the background consume loop.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.done != nil {
		c.mu.Unlock()
		return fmt.Errorf("consumer already started")
	}

	consumeCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.mu.Unlock()

	go c.loop(consumeCtx)
	c.logger.Info("queue consumer started")
	return nil
}

func (c *Consumer) loop(ctx context.Context) {
	defer close(c.done)

	for {
		job, err := c.source.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrSourceClosed) {
				return
			}
			c.logger.Error("queue receive failed", slog.String("error", err.Error()))
			if !c.pause(ctx) {
				return
			}
			continue
		}
		c.handle(ctx, job)
	}
}

// handle decodes one delivery and routes it by the engine's verdict.
func (c *Consumer) handle(ctx context.Context, job *Job) {
	c.received.Add(1)

	var req schema.ExecutionRequest
	if err := json.Unmarshal(job.Payload, &req); err != nil {
		c.logger.Error("discarding malformed job",
			slog.String("delivery_id", job.DeliveryID),
			slog.String("error", err.Error()),
		)
		c.discard(job)
		return
	}

	if c.check != nil {
		if err := c.check.ValidateGraph(req.Graph); err != nil {
			c.logger.Error("discarding job with invalid graph",
				slog.String("delivery_id", job.DeliveryID),
				slog.String("workflow_id", req.WorkflowID),
				slog.String("error", err.Error()),
			)
			c.discard(job)
			return
		}
	}

	admission, err := c.door.Submit(ctx, &req)
	switch {
	case err == nil:
		c.submitted.Add(1)
		c.ack(job)
		c.logger.Info("job submitted",
			slog.String("delivery_id", job.DeliveryID),
			slog.String("execution_id", admission.ExecutionID),
		)
	case schema.IsCode(err, schema.ErrCodeCapacity):
		c.requeued.Add(1)
		if nackErr := c.source.Nack(job.DeliveryID); nackErr != nil {
			c.logger.Error("nack failed",
				slog.String("delivery_id", job.DeliveryID),
				slog.String("error", nackErr.Error()),
			)
		}
		// The engine is saturated; give it a beat before the next pull.
		c.pause(ctx)
	default:
		c.logger.Error("discarding unrunnable job",
			slog.String("delivery_id", job.DeliveryID),
			slog.String("error", err.Error()),
		)
		c.discard(job)
	}
}

func (c *Consumer) ack(job *Job) {
	if err := c.source.Ack(job.DeliveryID); err != nil {
		c.logger.Error("ack failed",
			slog.String("delivery_id", job.DeliveryID),
			slog.String("error", err.Error()),
		)
	}
}

func (c *Consumer) discard(job *Job) {
	c.discarded.Add(1)
	c.ack(job)
}

// pause waits one backoff interval; false means the context ended first.
func (c *Consumer) pause(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(c.backoff):
		return true
	}
}

// Metrics returns the consumer counters.
func (c *Consumer) Metrics() ConsumerMetrics {
	return ConsumerMetrics{
		Received:  c.received.Load(),
		Submitted: c.submitted.Load(),
		Requeued:  c.requeued.Load(),
		Discarded: c.discarded.Load(),
	}
}

// Stop shuts down the consume loop.
func (c *Consumer) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel == nil {
		return nil
	}

	c.cancel()
	<-c.done
	c.cancel = nil
	c.done = nil

	c.logger.Info("queue consumer stopped")
	return nil
}
