package crawl

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// TaskQueue runs repository-scan tasks with two independent caps: a
// fixed worker count and a limit on task starts per interval. Tasks
// still wait on the client pool themselves, so a rate-limited task
// never blocks the queue for the others.
type TaskQueue struct {
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	wg      sync.WaitGroup
}

// NewTaskQueue builds a queue with the given worker cap and minimum
// interval between task starts. A zero interval disables the start
// limiter.
func NewTaskQueue(workers int, startInterval time.Duration) *TaskQueue {
	if workers <= 0 {
		workers = 4
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if startInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(startInterval), 1)
	}
	return &TaskQueue{
		sem:     semaphore.NewWeighted(int64(workers)),
		limiter: limiter,
	}
}

// Go schedules a task. It returns immediately; the task starts once a
// worker slot and a start token are both available. A cancelled context
// drops tasks that have not started yet.
func (q *TaskQueue) Go(ctx context.Context, task func()) {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		if err := q.sem.Acquire(ctx, 1); err != nil {
			return
		}
		defer q.sem.Release(1)
		if err := q.limiter.Wait(ctx); err != nil {
			return
		}
		task()
	}()
}

// Wait blocks until every scheduled task has finished or been dropped.
func (q *TaskQueue) Wait() {
	q.wg.Wait()
}
