package core

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// State is the scheduler's loop state.
type State int32

const (
	StateIdle State = iota
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	default:
		return "unknown"
	}
}

// Scheduler runs tasks on a cooperative Host in strict priority order,
// yielding back to the host whenever a frame budget is used up.
//
// The work loop itself runs on the host thread. AddTask and CancelTask may be
// called from anywhere, including from inside a running task.
type Scheduler struct {
	name string
	host Host
	caps Capabilities

	yielder      *Yielder
	frameBudget  time.Duration
	clock        Clock
	awaitPending bool

	// Handlers and Metrics
	logger       Logger
	metrics      Metrics
	errorHandler TaskErrorHandler

	// mu guards everything below it
	mu         sync.Mutex
	queues     *QueueBank
	cancelled  *CancellationSet
	lastHandle TaskHandle
	state      State
	idleCh     chan struct{}

	ledger *taskLedger
	yields atomic.Int64
}

// NewScheduler creates an idle scheduler bound to host. caps is the
// capability snapshot the host was probed for; config may be nil.
func NewScheduler(host Host, caps Capabilities, config *SchedulerConfig) *Scheduler {
	if config == nil {
		config = DefaultSchedulerConfig()
	}

	s := &Scheduler{
		name:         config.Name,
		host:         host,
		caps:         caps,
		yielder:      NewYielder(host, caps),
		frameBudget:  config.FrameBudget,
		clock:        config.Clock,
		awaitPending: config.AwaitPending,
		logger:       config.Logger,
		metrics:      config.Metrics,
		errorHandler: config.TaskErrorHandler,
		queues:       NewQueueBank(),
		cancelled:    NewCancellationSet(),
		ledger:       newTaskLedger(config.HistoryCapacity),
	}

	// Use defaults if not provided
	if s.name == "" {
		s.name = "scheduler"
	}
	if s.frameBudget <= 0 {
		s.frameBudget = DefaultFrameBudget
	}
	if s.clock == nil {
		s.clock = SystemClock{}
	}
	if s.logger == nil {
		s.logger = NewDefaultLogger()
	}
	if s.metrics == nil {
		s.metrics = &NilMetrics{}
	}
	if s.errorHandler == nil {
		s.errorHandler = &DefaultTaskErrorHandler{Logger: s.logger}
	}

	return s
}

// Name returns the name of the scheduler.
func (s *Scheduler) Name() string { return s.name }

// Capabilities returns the capability snapshot the scheduler was built with.
func (s *Scheduler) Capabilities() Capabilities { return s.caps }

// FrameBudget returns the slice the loop may run before yielding.
func (s *Scheduler) FrameBudget() time.Duration { return s.frameBudget }

// AddTask enqueues task at PriorityNormal.
func (s *Scheduler) AddTask(task Task) TaskHandle {
	return s.AddNamedTask("", task, PriorityNormal)
}

// AddTaskWithPriority enqueues task at priority.
func (s *Scheduler) AddTaskWithPriority(task Task, priority Priority) TaskHandle {
	return s.AddNamedTask("", task, priority)
}

// AddNamedTask enqueues task at priority under an explicit name for history
// and logs. It never fails. An unknown priority is treated as PriorityNormal.
//
// On a self-driving host the work loop starts when the scheduler was idle.
// Otherwise the task stays queued until Start is called.
func (s *Scheduler) AddNamedTask(name string, task Task, priority Priority) TaskHandle {
	if !priority.Valid() {
		priority = PriorityNormal
	}

	s.mu.Lock()
	s.lastHandle++
	handle := s.lastHandle
	s.queues.Push(&taskNode{
		task:     task,
		name:     name,
		priority: priority,
		handle:   handle,
	})
	depth := s.queues.Len(priority)
	start := s.state == StateIdle && s.caps.SelfDriving
	if start {
		s.enterRunningLocked()
	}
	s.mu.Unlock()

	s.metrics.RecordQueueDepth(s.name, priority, depth)
	if start {
		s.launch()
	}
	return handle
}

// CancelTask prevents the task with handle h from running if it has not run
// yet. Cancelling twice, cancelling an executed task or cancelling a handle
// that was never issued has no effect.
func (s *Scheduler) CancelTask(h TaskHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h.IsZero() || h > s.lastHandle {
		return
	}
	s.cancelled.Mark(h)
}

// Start begins draining queued work when the scheduler is idle. It is the
// external pump for hosts that are not self-driving and reports whether a
// loop was started.
func (s *Scheduler) Start() bool {
	s.mu.Lock()
	if s.state == StateRunning || !s.queues.HasPending() {
		s.mu.Unlock()
		return false
	}
	s.enterRunningLocked()
	s.mu.Unlock()

	return s.launch()
}

// launch hands the work loop to the host. A closed host refuses it, and the
// scheduler falls back to idle with its tasks still queued.
func (s *Scheduler) launch() bool {
	if s.host.Go(s.workLoop) {
		return true
	}
	s.logger.Warn("Host refused the work loop, leaving tasks queued", F("scheduler", s.name))
	s.Abandon()
	return false
}

// Abandon returns a running scheduler to idle without draining it. Call it
// once the host has stopped, when a work loop the host accepted may have
// been dropped before it ran. Queued tasks stay queued and WaitIdle callers
// are released.
func (s *Scheduler) Abandon() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateRunning {
		s.enterIdleLocked()
	}
}

// State returns the current loop state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// WaitIdle blocks until the work loop returns to idle.
//
// Must not be called from a task: the loop cannot go idle while one of its
// own tasks is blocked.
func (s *Scheduler) WaitIdle(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateIdle {
		s.mu.Unlock()
		return nil
	}
	idle := s.idleCh
	s.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CompactCancellations drops cancellation marks whose task is no longer
// queued and returns how many were dropped. It walks every queue.
func (s *Scheduler) CompactCancellations() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	live := make(map[TaskHandle]struct{}, s.queues.Total())
	for _, p := range Priorities {
		for _, h := range s.queues.Queue(p).Handles() {
			live[h] = struct{}{}
		}
	}
	dropped := s.cancelled.Compact(live)
	if dropped > 0 {
		s.logger.Debug("Compacted cancellation marks", F("scheduler", s.name), F("dropped", dropped))
	}
	return dropped
}

// Stats returns a snapshot of queue depths and counters.
func (s *Scheduler) Stats() SchedulerStats {
	s.mu.Lock()
	stats := SchedulerStats{
		Name:          s.name,
		State:         s.state,
		PendingTotal:  s.queues.Total(),
		CancelMarkers: s.cancelled.Len(),
	}
	for _, p := range Priorities {
		stats.Pending[p] = s.queues.Len(p)
	}
	s.mu.Unlock()

	s.ledger.fill(&stats)
	stats.Yields = s.yields.Load()
	return stats
}

// RecentTasks returns up to limit execution records, newest first. Tasks
// discarded as cancelled are included with Cancelled set.
func (s *Scheduler) RecentTasks(limit int) []TaskExecutionRecord {
	return s.ledger.recent(limit)
}

// TaskRecord returns the outcome of the task with handle h while it is among
// the recent records.
func (s *Scheduler) TaskRecord(h TaskHandle) (TaskExecutionRecord, bool) {
	return s.ledger.lookup(h)
}

func (s *Scheduler) enterRunningLocked() {
	s.state = StateRunning
	s.idleCh = make(chan struct{})
}

func (s *Scheduler) enterIdleLocked() {
	s.state = StateIdle
	if s.idleCh != nil {
		close(s.idleCh)
		s.idleCh = nil
	}
}

// workLoop is the core of the scheduler; it runs on the host thread.
func (s *Scheduler) workLoop(ctx context.Context) {
	ctx = context.WithValue(ctx, schedulerKey, s)

	for {
		// Every slice runs at least one task so a coarse clock cannot stall the loop
		frameStart := s.clock.Now()
		for first := true; first || s.clock.Now().Sub(frameStart) < s.frameBudget; first = false {
			node, ok := s.next()
			if !ok {
				break
			}
			s.runTask(ctx, node)
		}

		if s.finishIfDrained() {
			return
		}

		strategy, err := s.yielder.Yield(ctx, UrgencyUserVisible)
		if err != nil {
			s.logger.Warn("Scheduler yield failed, leaving remaining tasks queued",
				F("scheduler", s.name), F("strategy", strategy), F("error", err))
			s.mu.Lock()
			s.enterIdleLocked()
			s.mu.Unlock()
			return
		}
		s.yields.Add(1)
		s.metrics.RecordYield(s.name, strategy)
	}
}

// next dequeues the next runnable node, discarding cancelled ones on the way.
func (s *Scheduler) next() (*taskNode, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		node, ok := s.queues.Shift()
		if !ok {
			return nil, false
		}
		if !s.cancelled.Consume(node.handle) {
			return node, true
		}
		now := time.Now()
		s.ledger.discarded(node, TaskExecutionRecord{Scheduler: s.name, StartedAt: now, FinishedAt: now})
		s.metrics.RecordTaskCancelled(s.name, node.priority)
	}
}

// finishIfDrained moves the loop to idle when no work is left.
func (s *Scheduler) finishIfDrained() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.queues.HasPending() {
		return false
	}
	s.enterIdleLocked()
	return true
}

func (s *Scheduler) runTask(ctx context.Context, node *taskNode) {
	taskCtx := context.WithValue(ctx, taskHandleKey, node.handle)
	startedAt := time.Now()

	var unawaited *Future
	res, err := invokeTask(taskCtx, node.task)
	if err == nil && res.IsPending() {
		f := res.Future()
		if s.awaitPending {
			if werr := s.host.Await(taskCtx, f.Done()); werr != nil {
				err = fmt.Errorf("await pending task: %w", werr)
			} else {
				err = f.Err()
			}
		} else {
			unawaited = f
		}
	}

	finishedAt := time.Now()
	duration := finishedAt.Sub(startedAt)
	record := TaskExecutionRecord{
		Handle:     node.handle,
		Name:       taskName(node.task, node.name),
		Scheduler:  s.name,
		Priority:   node.priority,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
		Duration:   duration,
		Failed:     err != nil,
	}
	if err != nil {
		record.Err = err.Error()
	}
	s.ledger.finished(record)
	if unawaited != nil {
		go s.watch(taskCtx, node, unawaited)
	}

	s.metrics.RecordTaskDuration(s.name, node.priority, duration)
	if err != nil {
		s.reportFailure(taskCtx, node, err)
	}
}

// watch reports the failure of a future the loop did not wait for.
func (s *Scheduler) watch(ctx context.Context, node *taskNode, f *Future) {
	<-f.Done()
	if err := f.Err(); err != nil {
		s.ledger.failedLate(node.handle, node.priority, err)
		s.reportFailure(ctx, node, err)
	}
}

func (s *Scheduler) reportFailure(ctx context.Context, node *taskNode, err error) {
	s.metrics.RecordTaskFailure(s.name, node.priority)
	s.errorHandler.HandleTaskError(ctx, s.name, node.handle, err)
}

// invokeTask calls task and turns a panic into a *PanicError.
func invokeTask(ctx context.Context, task Task) (res Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = newPanicError(rec)
		}
	}()

	res = task(ctx)
	return res, res.Err()
}
