package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/helmsmith/conveyor/internal/store"
	"github.com/helmsmith/conveyor/pkg/schema"
)

const tickInterval = 60 * time.Second

// Runner is the submission path for fired schedules. Satisfied by
// engine.FrontDoor; the synchronous form keeps at most one run per schedule
// in flight.
type Runner interface {
	Execute(ctx context.Context, req *schema.ExecutionRequest) (*schema.ExecutionRecord, error)
}

// EventSink receives schedule.triggered events. A nil sink disables emission.
type EventSink interface {
	Emit(ctx context.Context, event *schema.Event)
}

// Scheduler polls the store for enabled schedules and fires the due ones
// through the engine front door.
//
// Due-ness is computed from the cron expression and the last firing, so a
// schedule missed while the process was down fires once on the first tick.
type Scheduler struct {
	store  store.Store
	runner Runner
	sink   EventSink
	parser cron.Parser
	logger *slog.Logger
	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex

	firing sync.WaitGroup

	inflightMu sync.Mutex
	inflight   map[string]struct{} // schedule IDs currently firing (dedup)
}

// NewScheduler creates a new Scheduler. sink may be nil.
func NewScheduler(s store.Store, runner Runner, sink EventSink, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		store:    s,
		runner:   runner,
		sink:     sink,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		logger:   logger,
		inflight: make(map[string]struct{}),
	}
}

// Start launches the background scheduling loop with a 60s ticker.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("scheduler started")
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	// Run an initial tick immediately.
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick checks all enabled schedules and fires those that are due. Each
// firing runs on its own goroutine; the inflight set prevents a schedule
// from overlapping itself across ticks.
func (s *Scheduler) tick(ctx context.Context) {
	enabled := true
	schedules, err := s.store.ListSchedules(ctx, store.ScheduleFilter{Enabled: &enabled})
	if err != nil {
		s.logger.Error("failed to list schedules", slog.String("error", err.Error()))
		return
	}

	now := time.Now().UTC()
	for _, sched := range schedules {
		due, err := s.isDue(sched, now)
		if err != nil {
			s.logger.Error("bad cron expression on schedule",
				slog.String("schedule_id", sched.ID),
				slog.String("cron_expr", sched.CronExpr),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !due {
			continue
		}
		if !s.tryAcquire(sched.ID) {
			continue // previous firing still running (dedup)
		}
		s.firing.Add(1)
		go func() {
			defer s.firing.Done()
			defer s.release(sched.ID)
			s.fire(ctx, sched, now)
		}()
	}
}

// isDue reports whether the schedule's next firing after its last run (or
// its creation, if it has never run) is not in the future.
func (s *Scheduler) isDue(sched *schema.Schedule, now time.Time) (bool, error) {
	basis := sched.CreatedAt
	if sched.LastRunAt != nil {
		basis = *sched.LastRunAt
	}
	next, err := s.CalculateNextRun(sched.CronExpr, basis)
	if err != nil {
		return false, err
	}
	return !next.After(now), nil
}

// fire loads the schedule's workflow and runs it through the front door.
// LastRunAt advances at trigger time rather than completion, so a crash
// mid-run does not re-fire the same window.
func (s *Scheduler) fire(ctx context.Context, sched *schema.Schedule, now time.Time) {
	if err := s.store.UpdateSchedule(ctx, sched.ID, store.ScheduleUpdate{LastRunAt: &now}); err != nil {
		s.logger.Error("failed to mark schedule fired",
			slog.String("schedule_id", sched.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	wf, err := s.store.GetWorkflow(ctx, sched.WorkflowID)
	if err != nil {
		s.logger.Error("schedule references unknown workflow",
			slog.String("schedule_id", sched.ID),
			slog.String("workflow_id", sched.WorkflowID),
			slog.String("error", err.Error()),
		)
		return
	}

	req := &schema.ExecutionRequest{
		ExecutionID:   uuid.NewString(),
		WorkflowID:    sched.WorkflowID,
		CorrelationID: "schedule:" + sched.ID,
		Graph:         wf.Graph,
		Input:         sched.Input,
	}

	s.logger.Info("schedule fired",
		slog.String("schedule_id", sched.ID),
		slog.String("workflow_id", sched.WorkflowID),
		slog.String("execution_id", req.ExecutionID),
	)

	if s.sink != nil {
		s.sink.Emit(ctx, &schema.Event{
			Type:        schema.EventScheduleTriggered,
			ExecutionID: req.ExecutionID,
			WorkflowID:  sched.WorkflowID,
			Timestamp:   now,
			Payload: map[string]any{
				"schedule_id": sched.ID,
				"cron_expr":   sched.CronExpr,
			},
		})
	}

	rec, err := s.runner.Execute(ctx, req)
	if err != nil {
		s.logger.Error("schedule submission rejected",
			slog.String("schedule_id", sched.ID),
			slog.String("execution_id", req.ExecutionID),
			slog.String("error", err.Error()),
		)
		return
	}
	if rec.Status == schema.ExecutionStatusFailed {
		s.logger.Error("scheduled execution failed",
			slog.String("schedule_id", sched.ID),
			slog.String("execution_id", rec.ID),
			slog.String("error", rec.ErrorMessage),
		)
	}
}

// tryAcquire returns true and marks the schedule as in-flight if it is not
// already firing.
func (s *Scheduler) tryAcquire(scheduleID string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[scheduleID]; ok {
		return false
	}
	s.inflight[scheduleID] = struct{}{}
	return true
}

// release removes the schedule from the in-flight set.
func (s *Scheduler) release(scheduleID string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, scheduleID)
}

// CalculateNextRun computes the next firing of a cron expression after from.
func (s *Scheduler) CalculateNextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

// Stop gracefully shuts down the scheduler and waits for in-flight firings
// to finish. Cancelling the scheduling context cancels their executions.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.firing.Wait()
	s.cancel = nil
	s.done = nil

	s.logger.Info("scheduler stopped")
	return nil
}
