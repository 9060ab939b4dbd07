package cloudgpt

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Task is a unit of background work.
type Task func(ctx context.Context) error

type namedTask struct {
	name string
	run  Task
}

// TaskQueue runs fire-and-forget work (accounting, memory writes) on a fixed
// set of workers. Delivery is at most once: a full queue drops the task.
type TaskQueue struct {
	mu      sync.RWMutex
	closed  bool
	tasks   chan namedTask
	wg      sync.WaitGroup
	timeout time.Duration
	logger  *slog.Logger
}

// TaskQueueOption configures a TaskQueue.
type TaskQueueOption func(*TaskQueue)

// WithTaskTimeout bounds every task (default 10s).
func WithTaskTimeout(d time.Duration) TaskQueueOption {
	return func(q *TaskQueue) { q.timeout = d }
}

// WithTaskLogger sets the logger.
func WithTaskLogger(l *slog.Logger) TaskQueueOption {
	return func(q *TaskQueue) { q.logger = l }
}

// NewTaskQueue starts workers goroutines draining a queue of the given size.
func NewTaskQueue(workers, size int, opts ...TaskQueueOption) *TaskQueue {
	if workers < 1 {
		workers = 1
	}
	if size < 1 {
		size = 1
	}
	q := &TaskQueue{
		tasks:   make(chan namedTask, size),
		timeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.logger == nil {
		q.logger = slog.Default()
	}
	q.logger = q.logger.With("component", "tasks")

	q.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go q.work()
	}
	return q
}

// Submit enqueues a task without blocking. It returns false when the task was
// dropped because the queue is full or closed.
func (q *TaskQueue) Submit(name string, t Task) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		q.logger.Warn("task dropped, queue closed", "task", name)
		return false
	}
	select {
	case q.tasks <- namedTask{name: name, run: t}:
		return true
	default:
		q.logger.Warn("task dropped, queue full", "task", name)
		return false
	}
}

// Close stops accepting tasks and waits for queued ones to finish or for ctx.
func (q *TaskQueue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.tasks)
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *TaskQueue) work() {
	defer q.wg.Done()
	for t := range q.tasks {
		q.run(t)
	}
}

func (q *TaskQueue) run(t namedTask) {
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("task panicked", "task", t.name, "panic", r)
		}
	}()

	if err := t.run(ctx); err != nil {
		q.logger.Warn("task failed", "task", t.name, "error", err)
	}
}
