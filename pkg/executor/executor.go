// Package executor schedules automation tasks onto a bounded pool of agent
// sessions.
//
// One scheduling loop (Run) dequeues the highest-priority pending task
// whenever a pool slot is free and runs it on its own goroutine, so up to
// pool-size tasks are in flight at once. Failed attempts are classified and,
// when the retry policy allows, re-enqueued after a backoff that does not
// hold a slot. Every task ends with exactly one terminal result in the
// result store.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/entrhq/webrunner/pkg/agent"
	"github.com/entrhq/webrunner/pkg/logging"
	"github.com/entrhq/webrunner/pkg/pool"
	"github.com/entrhq/webrunner/pkg/queue"
	"github.com/entrhq/webrunner/pkg/retry"
	"github.com/entrhq/webrunner/pkg/store"
	"github.com/entrhq/webrunner/pkg/task"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// ErrStopped is returned by Add after Stop has been called.
	ErrStopped = errors.New("executor stopped")
	// ErrUnknownTask is returned for ids that were never submitted.
	ErrUnknownTask = errors.New("unknown task")
)

// SchedulerFault reports a broken executor invariant. It is the only error
// Run returns abnormally.
type SchedulerFault struct {
	TaskID string
	Reason string
}

func (f *SchedulerFault) Error() string {
	if f.TaskID == "" {
		return "scheduler fault: " + f.Reason
	}
	return fmt.Sprintf("scheduler fault: task %q: %s", f.TaskID, f.Reason)
}

// entry tracks a submitted task until it reaches a terminal result.
type entry struct {
	task    *task.Task
	status  task.Status
	order   uint64
	started time.Time

	// running
	cancel          context.CancelFunc
	cancelRequested bool

	// retrying
	timer *time.Timer
}

// Executor runs tasks on a pool of agents. Create one with New; it is safe
// for concurrent use.
type Executor struct {
	pool    *pool.Pool
	queue   *queue.PriorityQueue
	results *store.Store
	policy  retry.Policy
	log     *logging.Logger
	metrics *Metrics

	registerer         prometheus.Registerer
	mode               Mode
	defaultMaxAttempts int
	defaultTimeout     time.Duration

	// mu guards the registry and the counters below. Only the scheduling
	// loop dequeues without holding it.
	mu        sync.Mutex
	registry  map[string]*entry
	submitted uint64
	active    int
	waiting   int
	stopping  bool

	wake     chan struct{}
	stopCh   chan struct{}
	faults   chan error
	inflight sync.WaitGroup
	running  atomic.Bool
}

// New creates an executor drawing agents from p.
func New(p *pool.Pool, opts ...Option) (*Executor, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}

	e := &Executor{
		pool:               p,
		queue:              queue.New(),
		results:            store.New(),
		policy:             retry.DefaultPolicy(),
		log:                logging.Discard("executor"),
		mode:               ModeDrain,
		defaultMaxAttempts: DefaultMaxAttempts,
		registry:           make(map[string]*entry),
		wake:               make(chan struct{}, 1),
		stopCh:             make(chan struct{}),
		faults:             make(chan error, 1),
	}
	for _, opt := range opts {
		opt(e)
	}

	if _, err := ParseMode(string(e.mode)); err != nil {
		return nil, err
	}

	e.metrics = newMetrics(e)
	if e.registerer != nil {
		if err := e.metrics.register(e.registerer); err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
	}
	return e, nil
}

// Add submits one task.
func (e *Executor) Add(t *task.Task) error {
	return e.AddMany([]*task.Task{t})
}

// AddMany submits tasks atomically: if any task is invalid or reuses an id
// that is pending, active, or already has a result, nothing is submitted.
func (e *Executor) AddMany(tasks []*task.Task) error {
	seen := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		if t == nil {
			return &task.ValidationError{Reason: "task is nil"}
		}
		if err := t.Validate(); err != nil {
			return err
		}
		if seen[t.ID] {
			return &task.ValidationError{TaskID: t.ID, Field: "task_id", Reason: "duplicate task id in submission"}
		}
		seen[t.ID] = true
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopping {
		return ErrStopped
	}
	for _, t := range tasks {
		if _, exists := e.registry[t.ID]; exists || e.results.Has(t.ID) {
			return &task.ValidationError{TaskID: t.ID, Field: "task_id", Reason: "duplicate task id"}
		}
	}

	for _, t := range tasks {
		if t.MaxAttempts == 0 {
			t.MaxAttempts = e.defaultMaxAttempts
		}
		t.Attempt = 0
		e.submitted++
		e.registry[t.ID] = &entry{task: t, status: task.StatusPending, order: e.submitted}
		e.queue.Enqueue(t)
		e.metrics.submitted.WithLabelValues(string(t.Kind())).Inc()
		e.log.Debugf("Task %s (%s) submitted with priority %d", t.ID, t.Kind(), t.Priority)
	}
	e.signal()
	return nil
}

// Run drives the scheduling loop. In drain mode it returns once all work is
// done; in serve mode it runs until Stop is called. Cancelling ctx behaves
// like Stop with an expired deadline. Individual task failures never end
// Run: only a *SchedulerFault is returned.
func (e *Executor) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return fmt.Errorf("executor is already running")
	}
	defer e.running.Store(false)

	loopCtx, cancelLoop := context.WithCancel(ctx)
	defer cancelLoop()
	go func() {
		select {
		case <-e.stopCh:
			cancelLoop()
		case <-loopCtx.Done():
		}
	}()

	e.log.Infof("Scheduler started (mode=%s, pool size=%d)", e.mode, e.pool.Size())

	for {
		select {
		case err := <-e.faults:
			return e.abort(ctx, err)
		default:
		}

		if ctx.Err() != nil {
			e.log.Infof("Context done, stopping scheduler")
			_ = e.Stop(ctx)
			return e.takeFault()
		}
		if e.isStopping() {
			e.inflight.Wait()
			return e.takeFault()
		}

		queued, active, waiting := e.load()
		if queued == 0 {
			if e.mode == ModeDrain && active == 0 && waiting == 0 {
				e.log.Infof("Queue drained")
				return e.takeFault()
			}
			select {
			case <-e.wake:
			case <-loopCtx.Done():
			case err := <-e.faults:
				return e.abort(ctx, err)
			}
			continue
		}

		slot, err := e.pool.Acquire(loopCtx)
		if err != nil {
			if loopCtx.Err() != nil {
				continue
			}
			if errors.Is(err, pool.ErrAgentUnavailable) {
				e.failUnstarted(err)
				continue
			}
			return e.abort(ctx, &SchedulerFault{Reason: fmt.Sprintf("failed to acquire pool slot: %v", err)})
		}

		t, ok := e.queue.DequeueHighest()
		if !ok {
			e.pool.Release(slot)
			continue
		}
		if err := e.dispatch(t, slot); err != nil {
			e.pool.Release(slot)
			return e.abort(ctx, err)
		}
	}
}

// Stop cancels every task that has not started, prevents further
// dispatches, and waits for running attempts to finish. If ctx ends first,
// running attempts are cancelled and Stop still waits for them to report,
// then returns ctx.Err(). Stop may be called more than once.
func (e *Executor) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.stopping {
		e.stopping = true
		close(e.stopCh)

		cancelled := 0
		for _, t := range e.queue.Drain() {
			if en, ok := e.registry[t.ID]; ok {
				e.finishLocked(en, task.NewFailedResult(t, task.ErrCancelled))
				cancelled++
			}
		}
		for _, en := range e.registry {
			if en.status == task.StatusRetrying && en.timer.Stop() {
				e.inflight.Done()
				e.waiting--
				e.finishLocked(en, task.NewFailedResult(en.task, task.ErrCancelled))
				cancelled++
			}
		}
		// Dequeued by the loop but not yet dispatched; dispatch sees the
		// result and releases the slot.
		for _, en := range e.registry {
			if en.status == task.StatusPending {
				e.finishLocked(en, task.NewFailedResult(en.task, task.ErrCancelled))
				cancelled++
			}
		}
		e.log.Infof("Stopping: cancelled %d pending tasks, %d still running", cancelled, e.active)
	}
	e.mu.Unlock()
	e.signal()

	done := make(chan struct{})
	go func() {
		e.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		e.cancelRunning()
		<-done
		return ctx.Err()
	}
}

// Cancel cancels one task. Pending and retrying tasks are cancelled at
// once; a running task has its context cancelled and is recorded when the
// agent returns. It reports false when the task is unknown or finished.
func (e *Executor) Cancel(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	en, ok := e.registry[id]
	if !ok {
		return false
	}

	switch en.status {
	case task.StatusPending:
		e.queue.Remove(id)
		e.finishLocked(en, task.NewFailedResult(en.task, task.ErrCancelled))
	case task.StatusRetrying:
		if en.timer.Stop() {
			e.inflight.Done()
		}
		e.waiting--
		e.finishLocked(en, task.NewFailedResult(en.task, task.ErrCancelled))
	case task.StatusRunning:
		en.cancelRequested = true
		en.cancel()
	}
	e.signal()
	return true
}

// Results returns every terminal result so far, in submission order.
func (e *Executor) Results() []task.Result {
	return e.results.Snapshot()
}

// Result returns the terminal result for id, if there is one.
func (e *Executor) Result(id string) (task.Result, bool) {
	return e.results.Get(id)
}

// Wait blocks until id has a terminal result or ctx is done.
func (e *Executor) Wait(ctx context.Context, id string) (task.Result, error) {
	if _, ok := e.Status(id); !ok {
		return task.Result{}, fmt.Errorf("%w: %s", ErrUnknownTask, id)
	}
	return e.results.Wait(ctx, id)
}

// Status returns the current lifecycle state of id.
func (e *Executor) Status(id string) (task.Status, bool) {
	e.mu.Lock()
	en, ok := e.registry[id]
	var status task.Status
	if ok {
		status = en.status
	}
	e.mu.Unlock()
	if ok {
		return status, true
	}
	if r, ok := e.results.Get(id); ok {
		return r.Status, true
	}
	return "", false
}

// PendingCount returns the number of tasks queued or waiting out a backoff.
func (e *Executor) PendingCount() int {
	queued, _, waiting := e.load()
	return queued + waiting
}

// ActiveCount returns the number of tasks currently running.
func (e *Executor) ActiveCount() int {
	_, active, _ := e.load()
	return active
}

// PoolSize returns the maximum number of concurrently running tasks.
func (e *Executor) PoolSize() int {
	return e.pool.Size()
}

// Mode returns the configured run mode.
func (e *Executor) Mode() Mode {
	return e.mode
}

func (e *Executor) load() (queued, active, waiting int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queue.Size(), e.active, e.waiting
}

func (e *Executor) isStopping() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopping
}

// dispatch moves a dequeued task to running and starts its attempt.
func (e *Executor) dispatch(t *task.Task, slot *pool.Slot) error {
	e.mu.Lock()

	en, ok := e.registry[t.ID]
	if !ok {
		e.mu.Unlock()
		if e.results.Has(t.ID) {
			// Cancelled between dequeue and dispatch.
			e.pool.Release(slot)
			return nil
		}
		return &SchedulerFault{TaskID: t.ID, Reason: "dequeued task is not registered"}
	}
	if en.status != task.StatusPending {
		e.mu.Unlock()
		return &SchedulerFault{TaskID: t.ID, Reason: fmt.Sprintf("dequeued task is %s, not pending", en.status)}
	}
	if e.stopping {
		e.finishLocked(en, task.NewFailedResult(t, task.ErrCancelled))
		e.mu.Unlock()
		e.pool.Release(slot)
		return nil
	}
	if e.active >= e.pool.Size() {
		e.mu.Unlock()
		return &SchedulerFault{TaskID: t.ID, Reason: fmt.Sprintf("%d tasks already running on a pool of %d", e.active, e.pool.Size())}
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Attempt++
	en.status = task.StatusRunning
	en.cancel = cancel
	en.cancelRequested = false
	if en.started.IsZero() {
		en.started = time.Now()
	}
	e.active++
	e.inflight.Add(1)
	e.mu.Unlock()

	e.metrics.dispatched.WithLabelValues(string(t.Kind())).Inc()
	e.log.Debugf("Dispatching task %s to slot %d (attempt %d/%d)", t.ID, slot.ID, t.Attempt, t.MaxAttempts)

	go e.execute(ctx, cancel, en, slot)
	return nil
}

// failUnstarted charges an attempt to the next queued task when no agent
// could be created for it, so a broken backend fails tasks through the
// normal retry path instead of stalling the loop.
func (e *Executor) failUnstarted(cause error) {
	t, ok := e.queue.DequeueHighest()
	if !ok {
		return
	}

	e.mu.Lock()
	defer e.signal()
	defer e.mu.Unlock()

	en, ok := e.registry[t.ID]
	if !ok || en.status != task.StatusPending {
		return
	}
	if e.stopping {
		e.finishLocked(en, task.NewFailedResult(t, task.ErrCancelled))
		return
	}
	t.Attempt++
	if en.started.IsZero() {
		en.started = time.Now()
	}
	e.log.Warnf("No agent available for task %s: %v", t.ID, cause)
	e.settleLocked(en, task.Outcome{}, task.Transient(cause), 0)
}

func (e *Executor) execute(ctx context.Context, cancel context.CancelFunc, en *entry, slot *pool.Slot) {
	defer e.inflight.Done()
	defer cancel()

	t := en.task
	timeout := t.Timeout
	if timeout == 0 {
		timeout = e.defaultTimeout
	}
	if timeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, timeout)
		defer cancelTimeout()
	}

	start := time.Now()
	out, err := runAttempt(ctx, t, slot.Agent)
	elapsed := time.Since(start)

	if errors.Is(err, agent.ErrSessionLost) {
		e.log.Warnf("Session on slot %d lost during task %s, replacing it", slot.ID, t.ID)
		if cerr := e.pool.Discard(slot); cerr != nil {
			e.log.Debugf("Closing lost session on slot %d: %v", slot.ID, cerr)
		}
	}

	e.complete(en, out, err, elapsed)
	e.pool.Release(slot)
}

func runAttempt(ctx context.Context, t *task.Task, a agent.Agent) (out task.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = task.Permanentf("panic during execution: %v", r)
		}
	}()
	return t.Execute(ctx, a)
}

// complete records the end of a running attempt.
func (e *Executor) complete(en *entry, out task.Outcome, err error, elapsed time.Duration) {
	e.mu.Lock()
	defer e.signal()
	defer e.mu.Unlock()

	e.active--
	en.cancel = nil
	e.settleLocked(en, out, err, elapsed)
}

// settleLocked interprets the outcome of an attempt: the task completes,
// fails, is cancelled, or waits out a backoff. mu must be held.
func (e *Executor) settleLocked(en *entry, out task.Outcome, err error, elapsed time.Duration) {
	t := en.task
	kind := string(t.Kind())

	if err == nil {
		e.metrics.attempts.WithLabelValues(kind, "success").Observe(elapsed.Seconds())
		e.log.Infof("Task %s completed on attempt %d", t.ID, t.Attempt)
		e.finishLocked(en, task.NewCompletedResult(t, out))
		return
	}

	errKind := task.Classify(err)
	e.metrics.attempts.WithLabelValues(kind, string(errKind)).Observe(elapsed.Seconds())

	if en.cancelRequested {
		e.log.Infof("Task %s cancelled during attempt %d", t.ID, t.Attempt)
		e.finishLocked(en, task.NewFailedResult(t, fmt.Errorf("%w: %v", task.ErrCancelled, err)))
		return
	}

	if e.policy.ShouldRetry(errKind, t.Attempt, t.MaxAttempts) {
		if e.stopping {
			e.log.Infof("Task %s not retried: executor stopping", t.ID)
			e.finishLocked(en, task.NewFailedResult(t, fmt.Errorf("%w: %v", task.ErrCancelled, err)))
			return
		}

		delay := e.policy.BackoffDelay(t.Attempt)
		en.status = task.StatusRetrying
		e.waiting++
		e.inflight.Add(1)
		en.timer = time.AfterFunc(delay, func() { e.requeue(en) })

		e.metrics.retries.WithLabelValues(kind).Inc()
		e.log.Warnf("Task %s attempt %d/%d failed (%s): %v; retrying in %s",
			t.ID, t.Attempt, t.MaxAttempts, errKind, err, delay)
		return
	}

	e.log.Errorf("Task %s failed after %d attempt(s) (%s): %v", t.ID, t.Attempt, errKind, err)
	e.finishLocked(en, task.NewFailedResult(t, err))
}

// requeue returns a retrying task to the queue once its backoff elapses.
func (e *Executor) requeue(en *entry) {
	defer e.inflight.Done()

	e.mu.Lock()
	defer e.signal()
	defer e.mu.Unlock()

	if en.status != task.StatusRetrying {
		return
	}
	e.waiting--
	en.timer = nil

	if e.stopping {
		e.finishLocked(en, task.NewFailedResult(en.task, task.ErrCancelled))
		return
	}

	en.status = task.StatusPending
	if !e.queue.Enqueue(en.task) {
		e.fault(&SchedulerFault{TaskID: en.task.ID, Reason: "retried task already queued"})
	}
}

// finishLocked records a terminal result and forgets the task. mu must be held.
func (e *Executor) finishLocked(en *entry, r task.Result) {
	en.status = r.Status
	if !en.started.IsZero() {
		r.StartedAt = en.started
		r.Duration = r.CompletedAt.Sub(en.started)
	}
	delete(e.registry, en.task.ID)

	if err := e.results.Put(en.order, r); err != nil {
		e.fault(&SchedulerFault{TaskID: en.task.ID, Reason: err.Error()})
		return
	}
	e.metrics.results.WithLabelValues(string(r.Kind), string(r.Status)).Inc()
}

func (e *Executor) cancelRunning() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, en := range e.registry {
		if en.status == task.StatusRunning && en.cancel != nil {
			en.cancelRequested = true
			en.cancel()
		}
	}
}

func (e *Executor) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Executor) fault(err error) {
	select {
	case e.faults <- err:
	default:
	}
}

func (e *Executor) takeFault() error {
	select {
	case err := <-e.faults:
		return err
	default:
		return nil
	}
}

// abort stops the executor after a fault and returns the fault.
func (e *Executor) abort(ctx context.Context, fault error) error {
	e.log.Errorf("Aborting scheduler: %v", fault)
	_ = e.Stop(ctx)
	return fault
}
