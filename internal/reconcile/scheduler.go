package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule runs reconciliation daily at 03:00.
const DefaultSchedule = "0 3 * * *"

// Clock abstracts wall-clock waiting so the scheduler can be driven by tests.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// Trigger yields the next fire time strictly after the given instant.
type Trigger interface {
	Next(after time.Time) time.Time
}

// Runner is the unit the scheduler fires.
type Runner interface {
	Run(ctx context.Context) (Summary, error)
}

type systemClock struct{}

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}

// CronTrigger fires on a standard five-field cron expression.
type CronTrigger struct {
	schedule cron.Schedule
	loc      *time.Location
}

// ParseCronTrigger parses expr, evaluating it in loc (UTC when nil).
func ParseCronTrigger(expr string, loc *time.Location) (*CronTrigger, error) {
	if expr == "" {
		expr = DefaultSchedule
	}
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("reconcile: parse schedule %q: %w", expr, err)
	}
	if loc == nil {
		loc = time.UTC
	}
	return &CronTrigger{schedule: schedule, loc: loc}, nil
}

// Next implements Trigger.
func (t *CronTrigger) Next(after time.Time) time.Time {
	return t.schedule.Next(after.In(t.loc))
}

// Scheduler fires a Runner on its trigger and on demand.
type Scheduler struct {
	runner  Runner
	clock   Clock
	trigger Trigger
	logger  *slog.Logger
}

// NewScheduler wires a scheduler. A nil clock means the system clock.
func NewScheduler(runner Runner, trigger Trigger, clock Clock, logger *slog.Logger) *Scheduler {
	if clock == nil {
		clock = SystemClock
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{runner: runner, clock: clock, trigger: trigger, logger: logger}
}

// Start blocks, firing the runner at each trigger time until ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	for {
		now := s.clock.Now()
		next := s.trigger.Next(now)
		wait := next.Sub(now)
		if wait < 0 {
			wait = 0
		}
		s.logger.Debug("next trust reconciliation scheduled", slog.Time("at", next))
		select {
		case <-ctx.Done():
			return nil
		case <-s.clock.After(wait):
		}
		if _, err := s.RunNow(ctx); err != nil && !errors.Is(err, ErrRunInProgress) {
			s.logger.Error("scheduled trust reconciliation failed", slog.Any("error", err))
		}
	}
}

// RunNow executes the runner immediately through the same lease path.
func (s *Scheduler) RunNow(ctx context.Context) (Summary, error) {
	summary, err := s.runner.Run(ctx)
	if errors.Is(err, ErrRunInProgress) {
		s.logger.Info("trust reconciliation skipped, lease held")
	}
	return summary, err
}
