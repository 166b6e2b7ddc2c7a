package cron

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// NextRun calculates the next run time for a schedule after now.
func NextRun(schedule Schedule, now time.Time) (time.Time, error) {
	switch schedule.Kind {
	case ScheduleKindEvery:
		return nextEvery(schedule, now)
	case ScheduleKindCron:
		return nextCron(schedule, now)
	default:
		return time.Time{}, fmt.Errorf("unknown schedule kind: %s", schedule.Kind)
	}
}

func nextEvery(schedule Schedule, now time.Time) (time.Time, error) {
	if schedule.Every <= 0 {
		return time.Time{}, fmt.Errorf("'every' schedule requires a positive interval")
	}
	if schedule.Anchor.IsZero() {
		return now.Add(schedule.Every), nil
	}

	elapsed := now.Sub(schedule.Anchor)
	if elapsed < 0 {
		return schedule.Anchor, nil
	}
	periods := elapsed / schedule.Every
	return schedule.Anchor.Add((periods + 1) * schedule.Every), nil
}

func nextCron(schedule Schedule, now time.Time) (time.Time, error) {
	if schedule.Expr == "" {
		return time.Time{}, fmt.Errorf("'cron' schedule requires an expression")
	}

	sched, err := parser.Parse(schedule.Expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression: %w", err)
	}

	if schedule.TZ != "" {
		loc, err := time.LoadLocation(schedule.TZ)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid timezone: %w", err)
		}
		now = now.In(loc)
	}
	return sched.Next(now), nil
}
