// Package schedule drives recurring runs of the Driver (spec §6 "--every"),
// grounded in roelfdiedericks-goclaw's cron scheduler: a robfig/cron/v3
// expression parser feeding a simple next-run loop, adapted here to a
// single recurring job instead of a multi-job store.
package schedule

import (
	"context"
	"fmt"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/lbj9527/tgrelay/internal/obs/logger"
)

// Job is one recurring unit of work: a closure the scheduler invokes on
// every tick, returning an error that is logged but never stops the loop.
type Job func(ctx context.Context) error

// Scheduler runs Job repeatedly according to either a fixed interval or a
// 5-field cron expression, until its context is cancelled.
type Scheduler struct {
	job      Job
	schedule cronlib.Schedule
	loc      *time.Location
}

// NewInterval builds a Scheduler that fires every d starting after the
// first full interval has elapsed.
func NewInterval(job Job, d time.Duration, loc *time.Location) (*Scheduler, error) {
	if d <= 0 {
		return nil, fmt.Errorf("schedule: interval must be positive, got %s", d)
	}
	return &Scheduler{job: job, schedule: constantSchedule(d), loc: loc}, nil
}

// NewCron builds a Scheduler from a standard 5-field cron expression
// (minute hour dom month dow), evaluated in loc.
func NewCron(job Job, expr string, loc *time.Location) (*Scheduler, error) {
	parser := cronlib.NewParser(cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow)
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("schedule: invalid cron expression %q: %w", expr, err)
	}
	return &Scheduler{job: job, schedule: sched, loc: loc}, nil
}

// Run blocks, firing job at each computed tick, until ctx is cancelled.
// A job error is logged and does not halt subsequent ticks (spec §6: a
// single failed scheduled run should not kill the whole --every process).
func (s *Scheduler) Run(ctx context.Context) error {
	now := time.Now().In(s.loc)
	next := s.schedule.Next(now)

	for {
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			if err := s.job(ctx); err != nil {
				logger.Errorf("schedule: run failed: %v", err)
			}
			next = s.schedule.Next(time.Now().In(s.loc))
		}
	}
}

// constantSchedule adapts a fixed time.Duration to cronlib.Schedule so
// NewInterval can reuse the same Run loop as NewCron.
type constantSchedule time.Duration

func (c constantSchedule) Next(t time.Time) time.Time {
	return t.Add(time.Duration(c))
}
