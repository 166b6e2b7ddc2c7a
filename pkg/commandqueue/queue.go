package commandqueue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/harun/chainpilot/internal/observability"
	"github.com/harun/chainpilot/internal/tracing"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

var (
	// ErrLaneFull is returned when a lane already holds MaxDepth tasks.
	ErrLaneFull = errors.New("lane is full")
	ErrClosed   = errors.New("command queue closed")
)

// Task represents an asynchronous operation to be executed
type Task func(ctx context.Context) (any, error)

// TaskOptions provides configuration for task execution
type TaskOptions struct {
	WarnAfter time.Duration
	OnWait    func(wait time.Duration, queuePos int)
}

// Config configures a CommandQueue.
type Config struct {
	// MaxDepth bounds queued plus running tasks per lane; 0 means unbounded.
	MaxDepth int
	Logger   zerolog.Logger
}

type taskRecord struct {
	id         string
	task       Task
	ctx        context.Context
	enqueuedAt time.Time
	options    TaskOptions
	result     chan taskResult
}

type taskResult struct {
	value any
	err   error
}

// laneState manages execution state for a single lane
type laneState struct {
	name        string
	concurrency int
	queue       []*taskRecord
	running     int
	mu          sync.Mutex
}

// CommandQueue serializes tasks per lane. Lanes are created on first use
// and dropped once idle.
type CommandQueue struct {
	mu       sync.Mutex
	lanes    map[string]*laneState
	seq      int
	maxDepth int
	closed   bool
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	logger   zerolog.Logger
}

// New creates an empty queue.
func New(cfg Config) *CommandQueue {
	observability.EnsureRegistered()

	ctx, cancel := context.WithCancel(context.Background())
	return &CommandQueue{
		lanes:    make(map[string]*laneState),
		maxDepth: cfg.MaxDepth,
		ctx:      ctx,
		cancel:   cancel,
		logger:   cfg.Logger.With().Str("component", "commandqueue").Logger(),
	}
}

// LaneClass is the metric label for a lane: the part before the first
// colon, so "user:42" and "user:43" share one series.
func LaneClass(lane string) string {
	class, _, _ := strings.Cut(lane, ":")
	return class
}

// Enqueue adds a task to the lane and waits for its result.
func (cq *CommandQueue) Enqueue(ctx context.Context, lane string, task Task, options *TaskOptions) (any, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := tracing.StartSpan(ctx, "chainpilot.commandqueue", "commandqueue.enqueue",
		attribute.String("lane", lane))
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, cq.logger).With().Str("lane", lane).Logger()

	opts := TaskOptions{}
	if options != nil {
		opts = *options
	}

	cq.mu.Lock()
	if cq.closed {
		cq.mu.Unlock()
		return nil, ErrClosed
	}
	ls, ok := cq.lanes[lane]
	if !ok {
		ls = &laneState{name: lane, concurrency: 1}
		cq.lanes[lane] = ls
	}
	cq.seq++
	record := &taskRecord{
		id:         fmt.Sprintf("%s-%d", lane, cq.seq),
		task:       task,
		ctx:        ctx,
		enqueuedAt: time.Now(),
		options:    opts,
		result:     make(chan taskResult, 1),
	}

	ls.mu.Lock()
	if cq.maxDepth > 0 && len(ls.queue)+ls.running >= cq.maxDepth {
		ls.mu.Unlock()
		cq.mu.Unlock()
		logger.Warn().Int("maxDepth", cq.maxDepth).Msg("Lane full, rejecting task")
		tracing.Fail(span, ErrLaneFull)
		return nil, ErrLaneFull
	}
	ls.queue = append(ls.queue, record)
	queueSize := len(ls.queue)
	ls.mu.Unlock()
	cq.mu.Unlock()

	logger.Debug().Str("taskId", record.id).Int("queueSize", queueSize).Msg("Task enqueued")
	observability.RecordQueueEnqueue(LaneClass(lane), queueSize)

	if opts.WarnAfter > 0 {
		go cq.startWarnTimer(ls, record)
	}
	go cq.processLane(ls)

	result := <-record.result
	if result.err != nil {
		tracing.Fail(span, result.err)
	}
	return result.value, result.err
}

// processLane starts queued tasks while the lane has capacity.
func (cq *CommandQueue) processLane(ls *laneState) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	for ls.running < ls.concurrency && len(ls.queue) > 0 {
		record := ls.queue[0]
		ls.queue = ls.queue[1:]
		ls.running++

		cq.wg.Add(1)
		go cq.executeTask(ls, record)
	}
}

func (cq *CommandQueue) executeTask(ls *laneState, record *taskRecord) {
	defer cq.wg.Done()

	taskCtx, span := tracing.StartSpan(record.ctx, "chainpilot.commandqueue", "commandqueue.execute_task",
		attribute.String("lane", ls.name),
		attribute.String("task_id", record.id))
	defer span.End()
	logger := tracing.LoggerFromContext(taskCtx, cq.logger).With().Str("lane", ls.name).Logger()

	runCtx, cancel := context.WithCancel(taskCtx)
	stopCancel := context.AfterFunc(cq.ctx, cancel)
	defer func() {
		stopCancel()
		cancel()
	}()

	start := time.Now()
	value, err := cq.run(runCtx, record.task)
	duration := time.Since(start)

	ls.mu.Lock()
	ls.running--
	queueSize := len(ls.queue)
	ls.mu.Unlock()

	record.result <- taskResult{value: value, err: err}
	close(record.result)

	if err != nil {
		tracing.Fail(span, err)
		logger.Error().Str("taskId", record.id).Dur("duration", duration).Err(err).Msg("Task failed")
	} else {
		logger.Debug().Str("taskId", record.id).Dur("duration", duration).Msg("Task completed")
	}
	observability.RecordQueueCompletion(LaneClass(ls.name), duration, err == nil, queueSize)

	if queueSize > 0 {
		go cq.processLane(ls)
		return
	}
	cq.dropIfIdle(ls)
}

// run converts a panicking task into an error so the lane keeps moving.
func (cq *CommandQueue) run(ctx context.Context, task Task) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return task(ctx)
}

func (cq *CommandQueue) dropIfIdle(ls *laneState) {
	cq.mu.Lock()
	defer cq.mu.Unlock()
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if ls.running == 0 && len(ls.queue) == 0 && cq.lanes[ls.name] == ls {
		delete(cq.lanes, ls.name)
	}
}

func (cq *CommandQueue) startWarnTimer(ls *laneState, record *taskRecord) {
	timer := time.NewTimer(record.options.WarnAfter)
	defer timer.Stop()

	select {
	case <-timer.C:
		ls.mu.Lock()
		queuePos := -1
		for i, r := range ls.queue {
			if r.id == record.id {
				queuePos = i
				break
			}
		}
		ls.mu.Unlock()

		if queuePos >= 0 {
			wait := time.Since(record.enqueuedAt)
			cq.logger.Warn().
				Str("lane", ls.name).
				Str("taskId", record.id).
				Dur("wait", wait).
				Int("queuePos", queuePos).
				Msg("Task waiting longer than expected")
			if record.options.OnWait != nil {
				record.options.OnWait(wait, queuePos)
			}
		}
	case <-cq.ctx.Done():
	}
}

func (cq *CommandQueue) lane(name string) *laneState {
	cq.mu.Lock()
	defer cq.mu.Unlock()
	return cq.lanes[name]
}

// GetQueueSize returns the number of queued tasks for a lane
func (cq *CommandQueue) GetQueueSize(lane string) int {
	ls := cq.lane(lane)
	if ls == nil {
		return 0
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return len(ls.queue)
}

// GetRunningCount returns the number of currently executing tasks for a lane
func (cq *CommandQueue) GetRunningCount(lane string) int {
	ls := cq.lane(lane)
	if ls == nil {
		return 0
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.running
}

// LaneCount returns the number of lanes holding work.
func (cq *CommandQueue) LaneCount() int {
	cq.mu.Lock()
	defer cq.mu.Unlock()
	return len(cq.lanes)
}

// WaitForActive waits for all lanes to drain, up to timeout.
func (cq *CommandQueue) WaitForActive(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if cq.LaneCount() == 0 {
			return true
		}
		if time.Now().After(deadline) {
			cq.logger.Warn().Dur("timeout", timeout).Msg("Timeout waiting for active tasks")
			return false
		}
		<-ticker.C
	}
}

// Close cancels running tasks, rejects new ones and waits for workers.
func (cq *CommandQueue) Close() error {
	cq.mu.Lock()
	cq.closed = true
	cq.mu.Unlock()

	cq.cancel()
	cq.wg.Wait()
	return nil
}
