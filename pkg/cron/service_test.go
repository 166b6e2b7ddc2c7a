package cron

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, *eventLog) {
	t.Helper()
	events := &eventLog{}
	s := NewService(Options{Logger: zerolog.Nop(), OnEvent: events.add})
	t.Cleanup(s.Stop)
	return s, events
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) add(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) actions() []EventAction {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]EventAction, 0, len(l.events))
	for _, e := range l.events {
		out = append(out, e.Action)
	}
	return out
}

func TestServiceRunsOnSchedule(t *testing.T) {
	s, _ := newTestService(t)

	var runs atomic.Int32
	_, err := s.Add("tick", Every(10*time.Millisecond), func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, 5*time.Millisecond)

	jobs := s.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "tick", jobs[0].Name)
}

func TestServiceAddValidation(t *testing.T) {
	s, _ := newTestService(t)
	noop := func(ctx context.Context) error { return nil }

	_, err := s.Add("", Every(time.Minute), noop)
	assert.Error(t, err)
	_, err = s.Add("nil", Every(time.Minute), nil)
	assert.Error(t, err)
	_, err = s.Add("bad", Schedule{Kind: ScheduleKindCron, Expr: "nope"}, noop)
	assert.ErrorContains(t, err, "invalid cron expression")
}

func TestServiceRunNowTracksState(t *testing.T) {
	s, events := newTestService(t)

	fail := true
	id, err := s.Add("flaky", Every(time.Hour), func(ctx context.Context) error {
		if fail {
			return errors.New("boom")
		}
		return nil
	})
	require.NoError(t, err)

	assert.ErrorContains(t, s.RunNow(id), "boom")
	assert.ErrorContains(t, s.RunNow(id), "boom")
	state := s.Jobs()[0].State
	assert.Equal(t, "error", state.LastStatus)
	assert.Equal(t, "boom", state.LastError)
	assert.Equal(t, 2, state.ConsecutiveErrors)

	fail = false
	require.NoError(t, s.RunNow(id))
	state = s.Jobs()[0].State
	assert.Equal(t, "ok", state.LastStatus)
	assert.Empty(t, state.LastError)
	assert.Zero(t, state.ConsecutiveErrors)
	assert.False(t, state.LastRunAt.IsZero())

	assert.Equal(t, []EventAction{EventActionAdded, EventActionFinished, EventActionFinished, EventActionFinished}, events.actions())
}

func TestServiceRecoversPanics(t *testing.T) {
	s, _ := newTestService(t)
	id, err := s.Add("panics", Every(time.Hour), func(ctx context.Context) error {
		panic("kaboom")
	})
	require.NoError(t, err)

	assert.ErrorContains(t, s.RunNow(id), "job panicked: kaboom")
}

func TestServiceSkipsOverlappingRun(t *testing.T) {
	s, _ := newTestService(t)

	release := make(chan struct{})
	started := make(chan struct{})
	var runs atomic.Int32
	id, err := s.Add("slow", Every(time.Hour), func(ctx context.Context) error {
		if runs.Add(1) == 1 {
			close(started)
		}
		<-release
		return nil
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- s.RunNow(id) }()
	<-started

	require.NoError(t, s.RunNow(id))
	assert.Equal(t, int32(1), runs.Load())

	close(release)
	require.NoError(t, <-done)
}

func TestServiceRemove(t *testing.T) {
	s, events := newTestService(t)

	var runs atomic.Int32
	id, err := s.Add("gone", Every(20*time.Millisecond), func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, s.Remove(id))
	assert.Error(t, s.Remove(id))
	assert.Error(t, s.RunNow(id))

	time.Sleep(60 * time.Millisecond)
	assert.Zero(t, runs.Load())
	assert.Contains(t, events.actions(), EventActionRemoved)
}

func TestServiceStopCancelsRunningJobs(t *testing.T) {
	s := NewService(Options{Logger: zerolog.Nop()})

	started := make(chan struct{})
	var cancelled atomic.Bool
	_, err := s.Add("blocking", Every(time.Millisecond), func(ctx context.Context) error {
		select {
		case <-started:
		default:
			close(started)
		}
		<-ctx.Done()
		cancelled.Store(true)
		return ctx.Err()
	})
	require.NoError(t, err)

	<-started
	s.Stop()
	assert.True(t, cancelled.Load())

	_, err = s.Add("late", Every(time.Minute), func(ctx context.Context) error { return nil })
	assert.Error(t, err)
}
