package cron

import (
	"context"
	"time"
)

// ScheduleKind represents the type of schedule
type ScheduleKind string

const (
	ScheduleKindEvery ScheduleKind = "every"
	ScheduleKindCron  ScheduleKind = "cron"
)

// Schedule is when a job fires.
type Schedule struct {
	Kind ScheduleKind

	// For "every" schedule
	Every  time.Duration
	Anchor time.Time // optional alignment point

	// For "cron" schedule
	Expr string // 5-field expression or descriptor (@daily, @every 10m)
	TZ   string
}

// Func is the body of a job. The context is cancelled when the service stops.
type Func func(ctx context.Context) error

// JobState tracks runtime state of a job
type JobState struct {
	NextRunAt         time.Time
	RunningSince      time.Time
	LastRunAt         time.Time
	LastStatus        string // "ok", "error" or "skipped"
	LastError         string
	LastDuration      time.Duration
	ConsecutiveErrors int
}

// Job is a named recurring task.
type Job struct {
	ID       string
	Name     string
	Schedule Schedule
	State    JobState

	run Func
}

// EventAction represents the type of event
type EventAction string

const (
	EventActionFinished EventAction = "finished"
	EventActionAdded    EventAction = "added"
	EventActionRemoved  EventAction = "removed"
)

// Event is emitted on job lifecycle changes.
type Event struct {
	Action    EventAction
	JobID     string
	Name      string
	Status    string
	Error     string
	Duration  time.Duration
	NextRunAt time.Time
}

// Every is shorthand for a fixed-interval schedule.
func Every(d time.Duration) Schedule {
	return Schedule{Kind: ScheduleKindEvery, Every: d}
}

// Spec parses a config string into a schedule. "@every 10m" becomes an
// interval schedule, anything else a cron expression.
func Spec(spec string) Schedule {
	const prefix = "@every "
	if len(spec) > len(prefix) && spec[:len(prefix)] == prefix {
		if d, err := time.ParseDuration(spec[len(prefix):]); err == nil {
			return Every(d)
		}
	}
	return Schedule{Kind: ScheduleKindCron, Expr: spec}
}
