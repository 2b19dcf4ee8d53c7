// internal/jobs/pool.go - Fixed-size worker pool with a cancellable FIFO queue
package jobs

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
	"go.uber.org/atomic"

	"github.com/valpere/rastertiles/internal"
	"github.com/valpere/rastertiles/internal/logging"
)

// DefaultWorkers is the number of workers used when none is configured
const DefaultWorkers = 10

// ErrPoolClosed is returned when submitting to a closed pool
var ErrPoolClosed = internal.Errorf(internal.ErrorCodePrecondition, "worker pool is closed")

// TaskStatus represents the lifecycle state of a task
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusPanicked  TaskStatus = "panicked"
	TaskStatusCanceled  TaskStatus = "canceled"
)

// Task is a unit of work run once by a pool worker
type Task struct {
	fn     func(ctx context.Context)
	status atomic.String
	done   chan struct{}
	once   sync.Once
}

// NewTask creates a pending task running fn
func NewTask(fn func(ctx context.Context)) *Task {
	t := &Task{fn: fn, done: make(chan struct{})}
	t.status.Store(string(TaskStatusPending))
	return t
}

// Status returns the current task state
func (t *Task) Status() TaskStatus {
	return TaskStatus(t.status.Load())
}

// Done is closed once the task has run or was removed from the queue
func (t *Task) Done() <-chan struct{} {
	return t.done
}

func (t *Task) finish(status TaskStatus) {
	t.once.Do(func() {
		t.status.Store(string(status))
		close(t.done)
	})
}

// Pool runs submitted tasks on a fixed number of workers in FIFO order.
// Tasks still queued can be cancelled; running tasks always complete.
type Pool struct {
	mu       sync.Mutex
	cond     *sync.Cond
	queue    []*Task
	active   int
	closed   bool
	stopping bool

	ctx    context.Context
	cancel context.CancelFunc

	workers   conc.WaitGroup
	completed atomic.Int64
	logger    *slog.Logger
}

// NewPool starts a pool with the given number of workers
func NewPool(workers int, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		ctx:    ctx,
		cancel: cancel,
		logger: logging.OrNop(logger),
	}
	p.cond = sync.NewCond(&p.mu)

	for i := 0; i < workers; i++ {
		p.workers.Go(p.work)
	}
	return p
}

// Submit appends t to the queue
func (p *Pool) Submit(t *Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPoolClosed
	}
	p.queue = append(p.queue, t)
	p.cond.Broadcast()
	return nil
}

// Cancel removes t from the queue. It reports false when t is already
// running or finished.
func (p *Pool) Cancel(t *Task) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	i := slices.Index(p.queue, t)
	if i < 0 {
		return false
	}
	p.queue = slices.Delete(p.queue, i, i+1)
	t.finish(TaskStatusCanceled)
	p.cond.Broadcast()
	return true
}

// Join blocks until the queue is empty and no task is running
func (p *Pool) Join() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.queue) > 0 || p.active > 0 {
		p.cond.Wait()
	}
}

// IsActive reports whether any task is queued or running
func (p *Pool) IsActive() bool {
	return p.WorkRemaining() > 0
}

// WorkRemaining returns the number of queued and running tasks
func (p *Pool) WorkRemaining() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue) + p.active
}

// Completed returns the number of tasks that have run
func (p *Pool) Completed() int64 {
	return p.completed.Load()
}

// Close cancels every queued task, waits for running tasks and stops the
// workers. Closing twice is a no-op.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	for _, t := range p.queue {
		t.finish(TaskStatusCanceled)
	}
	dropped := len(p.queue)
	p.queue = nil
	p.cond.Broadcast()
	p.mu.Unlock()

	p.Join()

	p.mu.Lock()
	p.stopping = true
	p.cond.Broadcast()
	p.mu.Unlock()

	p.workers.Wait()
	p.cancel()
	p.logger.Debug("worker pool closed", "dropped", dropped, "completed", p.completed.Load())
}

func (p *Pool) work() {
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.stopping {
			p.cond.Wait()
		}
		if len(p.queue) == 0 {
			p.mu.Unlock()
			return
		}
		t := p.queue[0]
		p.queue = p.queue[1:]
		p.active++
		t.status.Store(string(TaskStatusRunning))
		p.mu.Unlock()

		t.finish(p.run(t))
		p.completed.Inc()

		p.mu.Lock()
		p.active--
		p.cond.Broadcast()
		p.mu.Unlock()
	}
}

func (p *Pool) run(t *Task) TaskStatus {
	var catcher panics.Catcher
	catcher.Try(func() { t.fn(p.ctx) })
	if r := catcher.Recovered(); r != nil {
		p.logger.Error("task panicked", "panic", r.Value, "stack", string(r.Stack))
		return TaskStatusPanicked
	}
	return TaskStatusCompleted
}
