// Package schedule runs a job on a standard 5-field cron expression
// (minute hour day-of-month month day-of-week), e.g. "0 7 * * 1" for
// Mondays at 07:00 or "0 9 * * 1-5" for weekdays at 09:00.
package schedule

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job is one scheduled execution. Its error is logged; the schedule keeps going.
type Job func(ctx context.Context) error

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Parse validates a 5-field cron expression.
func Parse(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("schedule is empty")
	}
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule '%s': %w", expr, err)
	}
	return sched, nil
}

type Scheduler struct {
	expr  string
	sched cron.Schedule
	loc   *time.Location
	log   *zap.Logger

	now   func() time.Time
	after func(time.Duration) <-chan time.Time
}

func New(expr string, loc *time.Location, log *zap.Logger) (*Scheduler, error) {
	sched, err := Parse(expr)
	if err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.Local
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		expr:  strings.TrimSpace(expr),
		sched: sched,
		loc:   loc,
		log:   log,
		now:   time.Now,
		after: time.After,
	}, nil
}

// Next returns the first activation strictly after t, evaluated in the
// scheduler's timezone.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.sched.Next(t.In(s.loc))
}

// Run blocks, invoking job at every activation until ctx is cancelled.
// Cancellation is a clean shutdown and returns nil.
func (s *Scheduler) Run(ctx context.Context, job Job) error {
	s.log.Info("diagnostic scheduled", zap.String("cron", s.expr), zap.String("timezone", s.loc.String()))
	for {
		if ctx.Err() != nil {
			s.log.Info("scheduler stopped")
			return nil
		}
		now := s.now().In(s.loc)
		next := s.Next(now)
		wait := next.Sub(now)
		s.log.Info("next diagnostic run",
			zap.Time("at", next),
			zap.Duration("in", wait.Round(time.Minute)),
		)

		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return nil
		case <-s.after(wait):
		}

		start := s.now()
		if err := job(ctx); err != nil {
			if ctx.Err() != nil {
				s.log.Info("scheduler stopped during run", zap.Error(err))
				return nil
			}
			s.log.Error("scheduled diagnostic failed", zap.Error(err))
			continue
		}
		s.log.Info("scheduled diagnostic complete", zap.Duration("took", s.now().Sub(start)))
	}
}
