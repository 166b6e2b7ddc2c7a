// Package commandqueue serializes work per lane.
//
// A lane is a string key such as "user:42". Tasks enqueued on one lane run
// one at a time in arrival order; separate lanes run concurrently. Enqueue
// blocks until the task finishes and returns its result, or fails fast with
// ErrLaneFull once a lane holds Config.MaxDepth tasks.
//
//	q := commandqueue.New(commandqueue.Config{MaxDepth: 8, Logger: logger})
//	defer q.Close()
//	v, err := q.Enqueue(ctx, "user:42", func(ctx context.Context) (any, error) {
//		return plan(ctx)
//	}, &commandqueue.TaskOptions{WarnAfter: 30 * time.Second})
package commandqueue
