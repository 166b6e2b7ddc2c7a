package commandqueue

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

func newQueue(depth int) *CommandQueue {
	return New(Config{MaxDepth: depth, Logger: zerolog.Nop()})
}

func TestCommandQueue_BasicEnqueue(t *testing.T) {
	cq := newQueue(0)
	defer cq.Close()

	result, err := cq.Enqueue(context.Background(), "user:1", func(ctx context.Context) (any, error) {
		return "result", nil
	}, nil)

	assert.NoError(t, err)
	assert.Equal(t, "result", result)
}

func TestCommandQueue_TaskError(t *testing.T) {
	cq := newQueue(0)
	defer cq.Close()

	expectedErr := errors.New("task failed")
	result, err := cq.Enqueue(context.Background(), "user:1", func(ctx context.Context) (any, error) {
		return nil, expectedErr
	}, nil)

	assert.ErrorIs(t, err, expectedErr)
	assert.Nil(t, result)
}

func TestCommandQueue_PanicBecomesError(t *testing.T) {
	cq := newQueue(0)
	defer cq.Close()

	_, err := cq.Enqueue(context.Background(), "user:1", func(ctx context.Context) (any, error) {
		panic("boom")
	}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	result, err := cq.Enqueue(context.Background(), "user:1", func(ctx context.Context) (any, error) {
		return 1, nil
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result)
}

func TestCommandQueue_SerialFIFO(t *testing.T) {
	cq := newQueue(0)
	defer cq.Close()

	var (
		mu      sync.Mutex
		order   []int
		running int32
		overlap bool
	)
	release := make(chan struct{})

	var wg sync.WaitGroup
	// the first task holds the lane so the rest queue in submission order
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = cq.Enqueue(context.Background(), "user:1", func(ctx context.Context) (any, error) {
			<-release
			return nil, nil
		}, nil)
	}()
	require.Eventually(t, func() bool { return cq.GetRunningCount("user:1") == 1 }, time.Second, 5*time.Millisecond)

	for i := 0; i < 5; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = cq.Enqueue(context.Background(), "user:1", func(ctx context.Context) (any, error) {
				if atomic.AddInt32(&running, 1) > 1 {
					overlap = true
				}
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				atomic.AddInt32(&running, -1)
				return nil, nil
			}, nil)
		}()
		require.Eventually(t, func() bool { return cq.GetQueueSize("user:1") == i+1 }, time.Second, 5*time.Millisecond)
	}

	close(release)
	wg.Wait()

	assert.False(t, overlap)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
	assert.Eventually(t, func() bool { return cq.LaneCount() == 0 }, time.Second, 5*time.Millisecond, "idle lanes are dropped")
}

func TestCommandQueue_ConcurrentLanes(t *testing.T) {
	cq := newQueue(0)
	defer cq.Close()

	started := make(chan struct{}, 2)
	release := make(chan struct{})
	var wg sync.WaitGroup
	for _, lane := range []string{"user:1", "user:2"} {
		lane := lane
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = cq.Enqueue(context.Background(), lane, func(ctx context.Context) (any, error) {
				started <- struct{}{}
				<-release
				return nil, nil
			}, nil)
		}()
	}

	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(time.Second):
			t.Fatal("lanes did not run concurrently")
		}
	}
	close(release)
	wg.Wait()
}

func TestCommandQueue_MaxDepth(t *testing.T) {
	cq := newQueue(2)
	defer cq.Close()

	release := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = cq.Enqueue(context.Background(), "user:1", func(ctx context.Context) (any, error) {
				<-release
				return nil, nil
			}, nil)
		}()
	}
	require.Eventually(t, func() bool {
		return cq.GetRunningCount("user:1")+cq.GetQueueSize("user:1") == 2
	}, time.Second, 5*time.Millisecond)

	_, err := cq.Enqueue(context.Background(), "user:1", func(ctx context.Context) (any, error) { return nil, nil }, nil)
	assert.ErrorIs(t, err, ErrLaneFull)

	_, err = cq.Enqueue(context.Background(), "user:2", func(ctx context.Context) (any, error) { return nil, nil }, nil)
	assert.NoError(t, err, "other lanes are unaffected")

	close(release)
	wg.Wait()
}

func TestCommandQueue_WarnAfter(t *testing.T) {
	cq := newQueue(0)
	defer cq.Close()

	release := make(chan struct{})
	go func() {
		_, _ = cq.Enqueue(context.Background(), "user:1", func(ctx context.Context) (any, error) {
			<-release
			return nil, nil
		}, nil)
	}()
	require.Eventually(t, func() bool { return cq.GetRunningCount("user:1") == 1 }, time.Second, 5*time.Millisecond)

	warned := make(chan int, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = cq.Enqueue(context.Background(), "user:1", func(ctx context.Context) (any, error) { return nil, nil },
			&TaskOptions{WarnAfter: 20 * time.Millisecond, OnWait: func(wait time.Duration, pos int) { warned <- pos }})
	}()

	select {
	case pos := <-warned:
		assert.Equal(t, 0, pos)
	case <-time.After(time.Second):
		t.Fatal("OnWait not called")
	}
	close(release)
	<-done
}

func TestCommandQueue_Close(t *testing.T) {
	cq := newQueue(0)

	started := make(chan struct{})
	errCh := make(chan error, 1)
	go func() {
		_, err := cq.Enqueue(context.Background(), "user:1", func(ctx context.Context) (any, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		}, nil)
		errCh <- err
	}()
	<-started

	require.NoError(t, cq.Close())
	assert.ErrorIs(t, <-errCh, context.Canceled)

	_, err := cq.Enqueue(context.Background(), "user:1", func(ctx context.Context) (any, error) { return nil, nil }, nil)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestLaneClass(t *testing.T) {
	assert.Equal(t, "user", LaneClass("user:42"))
	assert.Equal(t, "main", LaneClass("main"))
}
