// Package concurrency bounds the number of simultaneously in-flight
// asynchronous operations. Tasks are dequeued by descending priority, FIFO
// within a priority level; a running task is never preempted.
package concurrency

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashgraphonline/holdesk/log"
	"golang.org/x/sync/errgroup"
)

// Task is one unit of work submitted to the manager. Tasks are ephemeral:
// created per call site and discarded after completion.
type Task struct {
	// ID identifies the task in errors and logs. Assigned when empty.
	ID string
	// Priority orders dequeueing; higher values run first.
	Priority int
	// Timeout bounds execution once the task starts. Zero means unbounded.
	Timeout time.Duration
	// QueueTimeout bounds how long the task may wait for a slot. Zero uses
	// the manager default.
	QueueTimeout time.Duration
	// Execute performs the work.
	Execute func(ctx context.Context) (any, error)
}

// Options configures a Manager.
type Options struct {
	// MaxConcurrency is the number of tasks allowed in flight (default 5).
	MaxConcurrency int
	// QueueTimeout is the default queue-wait bound (default 30s).
	QueueTimeout time.Duration
}

// Stats is a point-in-time snapshot of manager counters.
type Stats struct {
	Active           int
	Queued           int
	Completed        uint64
	Failed           uint64
	AverageQueueTime time.Duration
	AverageExecTime  time.Duration
	MaxConcurrency   int
}

type waiterState int

const (
	waiterWaiting waiterState = iota
	waiterGranted
	waiterAbandoned
)

// waiter is one queued task awaiting a slot.
type waiter struct {
	priority int
	seq      uint64
	state    waiterState
	grant    chan error // nil grants a slot, non-nil rejects the task
	index    int
}

// waiterHeap orders waiters by (priority desc, seq asc) so equal-priority
// tasks keep their arrival order.
type waiterHeap []*waiter

func (h waiterHeap) Len() int { return len(h) }

func (h waiterHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h waiterHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *waiterHeap) Push(x any) {
	w := x.(*waiter)
	w.index = len(*h)
	*h = append(*h, w)
}

func (h *waiterHeap) Pop() any {
	old := *h
	n := len(old)
	w := old[n-1]
	old[n-1] = nil
	w.index = -1
	*h = old[:n-1]
	return w
}

// Manager schedules tasks under a resizable concurrency limit.
type Manager struct {
	mu       sync.Mutex
	limit    int
	running  int
	queue    waiterHeap
	seq      uint64
	shutdown bool
	active   sync.WaitGroup

	defaultQueueTimeout time.Duration

	completed       atomic.Uint64
	failed          atomic.Uint64
	totalQueueNanos atomic.Int64
	totalExecNanos  atomic.Int64
	dequeued        atomic.Uint64
	executed        atomic.Uint64
}

// NewManager creates a manager with the given options.
func NewManager(opts Options) *Manager {
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 5
	}
	if opts.QueueTimeout <= 0 {
		opts.QueueTimeout = 30 * time.Second
	}
	return &Manager{
		limit:               opts.MaxConcurrency,
		defaultQueueTimeout: opts.QueueTimeout,
	}
}

// Execute runs task under the concurrency limit, blocking until the task
// completes, fails, or times out. The error distinguishes queue-wait
// expiry from execution timeout and both from the task's own failure.
func (m *Manager) Execute(ctx context.Context, task *Task) (any, error) {
	if task == nil || task.Execute == nil {
		return nil, fmt.Errorf("task function cannot be nil")
	}
	if task.ID == "" {
		task.ID = uuid.NewString()
	}

	queueTimeout := task.QueueTimeout
	if queueTimeout <= 0 {
		queueTimeout = m.defaultQueueTimeout
	}

	w := &waiter{priority: task.Priority, grant: make(chan error, 1)}

	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return nil, fmt.Errorf("task %s rejected: manager is shut down", task.ID)
	}
	m.seq++
	w.seq = m.seq
	heap.Push(&m.queue, w)
	m.dispatchLocked()
	m.mu.Unlock()

	enqueued := time.Now()
	timer := time.NewTimer(queueTimeout)
	defer timer.Stop()

	select {
	case err := <-w.grant:
		if err != nil {
			return nil, fmt.Errorf("task %s rejected: %w", task.ID, err)
		}
	case <-timer.C:
		if !m.abandon(w) {
			// The slot was granted while the timer fired; take it.
			if err := <-w.grant; err != nil {
				return nil, fmt.Errorf("task %s rejected: %w", task.ID, err)
			}
			break
		}
		return nil, fmt.Errorf("task %s abandoned in queue after %v", task.ID, queueTimeout)
	case <-ctx.Done():
		if !m.abandon(w) {
			if err := <-w.grant; err != nil {
				return nil, fmt.Errorf("task %s rejected: %w", task.ID, err)
			}
			break
		}
		return nil, fmt.Errorf("task %s cancelled while queued: %w", task.ID, ctx.Err())
	}

	m.totalQueueNanos.Add(time.Since(enqueued).Nanoseconds())
	m.dequeued.Add(1)
	return m.run(ctx, task)
}

// run executes a granted task and releases its slot afterwards.
func (m *Manager) run(ctx context.Context, task *Task) (any, error) {
	defer m.release()

	execCtx := ctx
	var cancel context.CancelFunc
	if task.Timeout > 0 {
		execCtx, cancel = context.WithTimeout(ctx, task.Timeout)
		defer cancel()
	}

	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)
	started := time.Now()
	go func() {
		value, err := task.Execute(execCtx)
		done <- outcome{value, err}
	}()

	var out outcome
	if task.Timeout > 0 {
		select {
		case out = <-done:
		case <-execCtx.Done():
			// The underlying operation may still be executing; we stop
			// waiting and report the bound violation.
			m.recordExec(started, execCtx.Err())
			if ctx.Err() != nil {
				return nil, fmt.Errorf("task %s cancelled during execution: %w", task.ID, ctx.Err())
			}
			return nil, fmt.Errorf("task %s timed out after %v", task.ID, task.Timeout)
		}
	} else {
		out = <-done
	}

	m.recordExec(started, out.err)
	if out.err != nil {
		return nil, fmt.Errorf("task %s failed: %w", task.ID, out.err)
	}
	return out.value, nil
}

func (m *Manager) recordExec(started time.Time, err error) {
	m.totalExecNanos.Add(time.Since(started).Nanoseconds())
	m.executed.Add(1)
	if err != nil {
		m.failed.Add(1)
	} else {
		m.completed.Add(1)
	}
}

// abandon removes a still-queued waiter. It returns false when the waiter
// was already granted a slot.
func (m *Manager) abandon(w *waiter) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w.state != waiterWaiting {
		return false
	}
	w.state = waiterAbandoned
	if w.index >= 0 {
		heap.Remove(&m.queue, w.index)
	}
	return true
}

// release frees a slot and drains the queue.
func (m *Manager) release() {
	m.mu.Lock()
	m.running--
	m.active.Done()
	m.dispatchLocked()
	m.mu.Unlock()
}

// dispatchLocked grants slots to queued waiters while capacity remains.
// Callers must hold m.mu. There is no await between the capacity check and
// the grant, so the limit cannot be oversubscribed.
func (m *Manager) dispatchLocked() {
	for m.running < m.limit && m.queue.Len() > 0 {
		w := heap.Pop(&m.queue).(*waiter)
		if w.state != waiterWaiting {
			continue
		}
		w.state = waiterGranted
		m.running++
		m.active.Add(1)
		w.grant <- nil
	}
}

// SetMaxConcurrency atomically adjusts the concurrency limit. Raising the
// limit immediately drains more queued work; lowering it only affects future
// grants, running tasks are never interrupted.
func (m *Manager) SetMaxConcurrency(limit int) {
	if limit <= 0 {
		return
	}
	m.mu.Lock()
	m.limit = limit
	m.dispatchLocked()
	m.mu.Unlock()
}

// Stats returns a point-in-time snapshot of the manager counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	active := m.running
	queued := m.queue.Len()
	limit := m.limit
	m.mu.Unlock()

	st := Stats{
		Active:         active,
		Queued:         queued,
		Completed:      m.completed.Load(),
		Failed:         m.failed.Load(),
		MaxConcurrency: limit,
	}
	if n := m.dequeued.Load(); n > 0 {
		st.AverageQueueTime = time.Duration(m.totalQueueNanos.Load() / int64(n))
	}
	if n := m.executed.Load(); n > 0 {
		st.AverageExecTime = time.Duration(m.totalExecNanos.Load() / int64(n))
	}
	return st
}

// Shutdown rejects all queued tasks and waits for active tasks to finish,
// bounded by ctx. After ctx expires, remaining bookkeeping is abandoned.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return nil
	}
	m.shutdown = true
	rejected := 0
	for m.queue.Len() > 0 {
		w := heap.Pop(&m.queue).(*waiter)
		if w.state != waiterWaiting {
			continue
		}
		w.state = waiterAbandoned
		w.grant <- fmt.Errorf("manager is shutting down")
		rejected++
	}
	m.mu.Unlock()

	if rejected > 0 {
		log.S().Infow("rejected queued tasks on shutdown", "count", rejected)
	}

	done := make(chan struct{})
	go func() {
		m.active.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown cancelled with tasks still active: %w", ctx.Err())
	}
}

// ParallelOptions configures ExecuteParallel.
type ParallelOptions struct {
	// FailFast aborts the batch on the first unrecoverable failure.
	FailFast bool
	// MaxRetries retries each failed task up to this many times.
	MaxRetries int
	// RetryDelay is multiplied by the attempt number between retries.
	RetryDelay time.Duration
}

// ParallelResult is the per-task outcome of ExecuteParallel.
type ParallelResult struct {
	TaskID string
	Value  any
	Err    error
}

// ExecuteParallel runs all tasks through Execute, retrying failures with a
// linearly increasing delay. Without FailFast every task's outcome is
// collected and returned; with FailFast the first unrecoverable failure
// cancels the remaining tasks and is returned as the batch error.
func (m *Manager) ExecuteParallel(ctx context.Context, tasks []*Task, opts ParallelOptions) ([]ParallelResult, error) {
	results := make([]ParallelResult, len(tasks))

	runOne := func(ctx context.Context, task *Task) (any, error) {
		var lastErr error
		for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
			if attempt > 0 {
				delay := opts.RetryDelay * time.Duration(attempt)
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
			value, err := m.Execute(ctx, task)
			if err == nil {
				return value, nil
			}
			lastErr = err
		}
		return nil, lastErr
	}

	if opts.FailFast {
		g, gctx := errgroup.WithContext(ctx)
		for i, task := range tasks {
			g.Go(func() error {
				value, err := runOne(gctx, task)
				results[i] = ParallelResult{TaskID: task.ID, Value: value, Err: err}
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return results, err
		}
		return results, nil
	}

	var wg sync.WaitGroup
	for i, task := range tasks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			value, err := runOne(ctx, task)
			results[i] = ParallelResult{TaskID: task.ID, Value: value, Err: err}
		}()
	}
	wg.Wait()
	return results, nil
}
