// Package scheduler runs recurring publish jobs on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/robfig/cron/v3"
)

// MinScheduleInterval is the minimum allowed interval between runs.
const MinScheduleInterval = time.Minute

// Parser is a cron parser for standard 5-field expressions. Descriptors such
// as @hourly and @daily are accepted too.
var Parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Job is one scheduled run.
type Job func(ctx context.Context) error

// ParseSchedule parses a cron expression and returns the schedule.
func ParseSchedule(expr string) (cron.Schedule, error) {
	schedule, err := Parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return schedule, nil
}

// NextSchedule calculates the next scheduled time after the given time.
func NextSchedule(expr string, from time.Time) (time.Time, error) {
	schedule, err := ParseSchedule(expr)
	if err != nil {
		return time.Time{}, err
	}
	return schedule.Next(from), nil
}

// ScheduleInterval estimates the interval between two consecutive runs
// after from.
func ScheduleInterval(expr string, from time.Time) (time.Duration, error) {
	schedule, err := ParseSchedule(expr)
	if err != nil {
		return 0, err
	}
	next := schedule.Next(from)
	return schedule.Next(next).Sub(next), nil
}

// ValidateSchedule rejects invalid expressions and schedules more frequent
// than MinScheduleInterval.
func ValidateSchedule(expr string) error {
	interval, err := ScheduleInterval(expr, time.Now().UTC())
	if err != nil {
		return err
	}
	if interval < MinScheduleInterval {
		return fmt.Errorf("schedule interval %v is less than minimum allowed %v", interval, MinScheduleInterval)
	}
	return nil
}

// Run parses expr and runs job on every tick until ctx is done.
func Run(ctx context.Context, log logr.Logger, expr string, job Job) error {
	schedule, err := ParseSchedule(expr)
	if err != nil {
		return err
	}
	return RunSchedule(ctx, log, schedule, job)
}

// RunSchedule runs job on every tick of schedule until ctx is done. A failed
// run is logged and does not stop the loop; runs never overlap. It returns
// ctx.Err() on cancellation.
func RunSchedule(ctx context.Context, log logr.Logger, schedule cron.Schedule, job Job) error {
	for {
		now := time.Now()
		next := schedule.Next(now)
		if next.IsZero() {
			return fmt.Errorf("schedule has no future runs after %s", now.Format(time.RFC3339))
		}
		log.V(1).Info("Waiting for next scheduled run", "next", next.Format(time.RFC3339))

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		start := time.Now()
		if err := job(ctx); err != nil {
			log.Error(err, "Scheduled run failed", "duration", time.Since(start).String())
			continue
		}
		log.Info("Scheduled run completed", "duration", time.Since(start).String())
	}
}
