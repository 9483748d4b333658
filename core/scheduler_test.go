package core

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// recorder returns a task that appends label to order.
func recorder(order *[]string, label string) Task {
	return Sync(func(ctx context.Context) {
		*order = append(*order, label)
	})
}

// TestScheduler_HandlesStartAtOneAndIncrease verifies handle allocation
// Given: A fresh scheduler
// When: Three tasks are added
// Then: Handles are 1, 2, 3
func TestScheduler_HandlesStartAtOneAndIncrease(t *testing.T) {
	s := NewScheduler(newFakeHost(), selfDriving, testSchedulerConfig())

	for want := TaskHandle(1); want <= 3; want++ {
		if got := s.AddTask(Sync(func(context.Context) {})); got != want {
			t.Fatalf("AddTask handle = %d, want %d", got, want)
		}
	}
}

// TestScheduler_PriorityPrecedence verifies strict precedence across levels
// Given: A Low task enqueued before a High task
// When: The loop drains
// Then: The High task runs first
func TestScheduler_PriorityPrecedence(t *testing.T) {
	host := newFakeHost()
	s := NewScheduler(host, selfDriving, testSchedulerConfig())
	var order []string

	s.AddTaskWithPriority(recorder(&order, "low"), PriorityLow)
	s.AddTaskWithPriority(recorder(&order, "high"), PriorityHigh)
	host.drain()

	if len(order) != 2 || order[0] != "high" || order[1] != "low" {
		t.Fatalf("order = %v, want [high low]", order)
	}
}

// TestScheduler_DrainOrderAcrossAllLevels verifies the full selection order
// Given: Tasks at every priority enqueued in reverse precedence
// When: The loop drains
// Then: They run High, Normal, Low, Idle with FIFO inside each level
func TestScheduler_DrainOrderAcrossAllLevels(t *testing.T) {
	host := newFakeHost()
	s := NewScheduler(host, selfDriving, testSchedulerConfig())
	var order []string

	s.AddTaskWithPriority(recorder(&order, "idle-1"), PriorityIdle)
	s.AddTaskWithPriority(recorder(&order, "low-1"), PriorityLow)
	s.AddTaskWithPriority(recorder(&order, "normal-1"), PriorityNormal)
	s.AddTaskWithPriority(recorder(&order, "high-1"), PriorityHigh)
	s.AddTaskWithPriority(recorder(&order, "low-2"), PriorityLow)
	s.AddTaskWithPriority(recorder(&order, "high-2"), PriorityHigh)
	host.drain()

	want := []string{"high-1", "high-2", "normal-1", "low-1", "low-2", "idle-1"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

// TestScheduler_FIFOWithinPriority verifies FIFO inside one level
// Given: Three Normal tasks pushed as 1, 2, 3
// When: The loop drains
// Then: They execute as 1, 2, 3
func TestScheduler_FIFOWithinPriority(t *testing.T) {
	host := newFakeHost()
	s := NewScheduler(host, selfDriving, testSchedulerConfig())
	var order []string

	s.AddTask(recorder(&order, "1"))
	s.AddTask(recorder(&order, "2"))
	s.AddTask(recorder(&order, "3"))
	host.drain()

	if len(order) != 3 || order[0] != "1" || order[1] != "2" || order[2] != "3" {
		t.Fatalf("order = %v, want [1 2 3]", order)
	}
}

// TestScheduler_InvalidPriorityFallsBackToNormal verifies clamping
// Given: A task with an undefined priority and a Low task
// When: The loop drains
// Then: The undefined-priority task runs as Normal, ahead of Low
func TestScheduler_InvalidPriorityFallsBackToNormal(t *testing.T) {
	host := newFakeHost()
	s := NewScheduler(host, selfDriving, testSchedulerConfig())
	var order []string

	s.AddTaskWithPriority(recorder(&order, "low"), PriorityLow)
	s.AddTaskWithPriority(recorder(&order, "bogus"), Priority(42))

	if got := s.Stats().Pending[PriorityNormal]; got != 1 {
		t.Fatalf("normal pending = %d, want 1", got)
	}
	host.drain()
	if order[0] != "bogus" {
		t.Fatalf("order = %v, want bogus first", order)
	}
}

// TestScheduler_CancelBeforeRun verifies cancellation prevents invocation
// Given: Two queued tasks, the first cancelled twice
// When: The loop drains
// Then: Only the second runs and no cancellation mark is left behind
func TestScheduler_CancelBeforeRun(t *testing.T) {
	host := newFakeHost()
	s := NewScheduler(host, selfDriving, testSchedulerConfig())
	var order []string

	h := s.AddTask(recorder(&order, "cancelled"))
	s.AddTask(recorder(&order, "kept"))
	s.CancelTask(h)
	s.CancelTask(h)
	host.drain()

	if len(order) != 1 || order[0] != "kept" {
		t.Fatalf("order = %v, want [kept]", order)
	}
	stats := s.Stats()
	if stats.Cancelled != 1 {
		t.Fatalf("cancelled = %d, want 1", stats.Cancelled)
	}
	if stats.CancelMarkers != 0 {
		t.Fatalf("cancel markers = %d, want 0", stats.CancelMarkers)
	}
}

// TestScheduler_CancelAfterRunIsNoOp verifies late cancellation
// Given: A task that already ran
// When: Its handle is cancelled and another task is added
// Then: The new task still runs and nothing is counted as cancelled
func TestScheduler_CancelAfterRunIsNoOp(t *testing.T) {
	host := newFakeHost()
	s := NewScheduler(host, selfDriving, testSchedulerConfig())
	var order []string

	h := s.AddTask(recorder(&order, "first"))
	host.drain()
	s.CancelTask(h)

	s.AddTask(recorder(&order, "second"))
	host.drain()

	if len(order) != 2 {
		t.Fatalf("order = %v, want both tasks", order)
	}
	if got := s.Stats().Cancelled; got != 0 {
		t.Fatalf("cancelled = %d, want 0", got)
	}
}

// TestScheduler_CancelNeverIssuedHandleIsNoOp verifies unknown handles are ignored
// Given: Handles 0 and 5 are cancelled before any task exists
// When: Five tasks are added (the fifth receives handle 5)
// Then: All five run
func TestScheduler_CancelNeverIssuedHandleIsNoOp(t *testing.T) {
	host := newFakeHost()
	s := NewScheduler(host, selfDriving, testSchedulerConfig())
	var ran atomic.Int32

	s.CancelTask(0)
	s.CancelTask(5)
	for i := 0; i < 5; i++ {
		s.AddTask(Sync(func(context.Context) { ran.Add(1) }))
	}
	host.drain()

	if got := ran.Load(); got != 5 {
		t.Fatalf("ran = %d, want 5", got)
	}
}

// TestScheduler_FailingTasksAreIsolated verifies failure isolation
// Given: A panicking task, an Immediate(err) task and a healthy task
// When: The loop drains
// Then: The healthy task runs and each failure is reported exactly once
func TestScheduler_FailingTasksAreIsolated(t *testing.T) {
	host := newFakeHost()
	cfg := testSchedulerConfig()
	handler := &recordingErrorHandler{}
	cfg.TaskErrorHandler = handler
	s := NewScheduler(host, selfDriving, cfg)

	boom := errors.New("boom")
	var healthy atomic.Bool

	panicking := s.AddTask(func(ctx context.Context) Result { panic("kaboom") })
	failing := s.AddTask(func(ctx context.Context) Result { return Immediate(boom) })
	s.AddTask(Sync(func(context.Context) { healthy.Store(true) }))
	host.drain()

	if !healthy.Load() {
		t.Fatal("task after failures did not run")
	}
	if handler.count() != 2 {
		t.Fatalf("reported failures = %d, want 2", handler.count())
	}

	var pe *PanicError
	if !errors.As(handler.errs[0], &pe) || pe.Value != "kaboom" {
		t.Fatalf("first failure = %v, want PanicError(kaboom)", handler.errs[0])
	}
	if handler.handle[0] != panicking {
		t.Fatalf("panic reported for handle %d, want %d", handler.handle[0], panicking)
	}
	if !errors.Is(handler.errs[1], boom) || handler.handle[1] != failing {
		t.Fatalf("second failure = %v (handle %d), want boom (handle %d)", handler.errs[1], handler.handle[1], failing)
	}
	if got := s.Stats().Failed; got != 2 {
		t.Fatalf("stats failed = %d, want 2", got)
	}
}

// TestScheduler_YieldsWhenFrameBudgetExceeded verifies time slicing
// Given: A clock that advances 1ms per read and a 5ms frame budget
// When: Twenty trivial tasks drain
// Then: The loop yields at least once and every task still runs
func TestScheduler_YieldsWhenFrameBudgetExceeded(t *testing.T) {
	host := newFakeHost()
	cfg := testSchedulerConfig()
	cfg.Clock = newStepClock(time.Millisecond)
	cfg.FrameBudget = 5 * time.Millisecond
	s := NewScheduler(host, selfDriving, cfg)

	var ran atomic.Int32
	for i := 0; i < 20; i++ {
		s.AddTask(Sync(func(context.Context) { ran.Add(1) }))
	}
	host.drain()

	if got := ran.Load(); got != 20 {
		t.Fatalf("ran = %d, want 20", got)
	}
	calls := host.yieldCalls()
	if len(calls) == 0 {
		t.Fatal("expected at least one yield before the queue drained")
	}
	for _, c := range calls {
		if c != "scheduler_yield" {
			t.Fatalf("yield strategy = %s, want scheduler_yield", c)
		}
	}
	if got := s.Stats().Yields; got != int64(len(calls)) {
		t.Fatalf("stats yields = %d, want %d", got, len(calls))
	}
	if s.State() != StateIdle {
		t.Fatalf("state = %v, want idle", s.State())
	}
}

// TestScheduler_HighPriorityJumpsAheadAfterYield verifies fresh selection after a yield
// Given: Ten Low tasks and a host that enqueues a High task during the first yield
// When: The loop drains
// Then: The High task runs right after the first slice, ahead of the remaining Low tasks
func TestScheduler_HighPriorityJumpsAheadAfterYield(t *testing.T) {
	host := newFakeHost()
	cfg := testSchedulerConfig()
	cfg.Clock = newStepClock(time.Millisecond)
	s := NewScheduler(host, selfDriving, cfg)
	var order []string

	for i := 0; i < 10; i++ {
		s.AddTaskWithPriority(recorder(&order, "low"), PriorityLow)
	}
	var injected atomic.Bool
	host.onYield = func() {
		if injected.CompareAndSwap(false, true) {
			s.AddTaskWithPriority(recorder(&order, "high"), PriorityHigh)
		}
	}
	host.drain()

	if len(order) != 11 {
		t.Fatalf("ran %d tasks, want 11", len(order))
	}
	highAt := -1
	for i, label := range order {
		if label == "high" {
			highAt = i
		}
	}
	if highAt <= 0 || highAt == len(order)-1 {
		t.Fatalf("high ran at position %d in %v, want mid-drain", highAt, order)
	}
}

// TestScheduler_YieldStrategyFollowsCapabilities verifies the chain selection
// Given: Hosts offering different primitive sets
// When: The loop has to yield
// Then: The highest-fidelity available primitive is used, tagged user-visible for post-task
func TestScheduler_YieldStrategyFollowsCapabilities(t *testing.T) {
	tests := []struct {
		name string
		caps Capabilities
		want string
	}{
		{"scheduler yield", Capabilities{SchedulerYield: true, PostTask: true, SelfDriving: true}, "scheduler_yield"},
		{"post task", Capabilities{PostTask: true, MessageChannel: true, SelfDriving: true}, "post_task"},
		{"message channel", Capabilities{MessageChannel: true, SelfDriving: true}, "message_channel"},
		{"timeout", Capabilities{SelfDriving: true}, "timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host := newFakeHost()
			cfg := testSchedulerConfig()
			cfg.Clock = newStepClock(10 * time.Millisecond)
			s := NewScheduler(host, tt.caps, cfg)

			s.AddTask(Sync(func(context.Context) {}))
			s.AddTask(Sync(func(context.Context) {}))
			host.drain()

			calls := host.yieldCalls()
			if len(calls) == 0 || calls[0] != tt.want {
				t.Fatalf("yield calls = %v, want first %s", calls, tt.want)
			}
			if tt.want == "post_task" && host.urgencies[0] != UrgencyUserVisible {
				t.Fatalf("post urgency = %v, want user-visible", host.urgencies[0])
			}
		})
	}
}

// TestScheduler_NonSelfDrivingHostNeedsStart verifies the start asymmetry
// Given: A host that cannot pump its own loop
// When: A task is added
// Then: It is queued but no loop starts until Start is called
func TestScheduler_NonSelfDrivingHostNeedsStart(t *testing.T) {
	host := newFakeHost()
	s := NewScheduler(host, Capabilities{}, testSchedulerConfig())
	var ran atomic.Bool

	s.AddTask(Sync(func(context.Context) { ran.Store(true) }))
	if host.started() != 0 {
		t.Fatal("loop started on a non-self-driving host")
	}
	if s.State() != StateIdle || s.Stats().PendingTotal != 1 {
		t.Fatalf("state = %v pending = %d, want idle with 1 pending", s.State(), s.Stats().PendingTotal)
	}

	if !s.Start() {
		t.Fatal("Start() = false, want true with pending work")
	}
	if s.Start() {
		t.Fatal("second Start() while running = true, want false")
	}
	host.drain()

	if !ran.Load() {
		t.Fatal("task did not run after Start")
	}
	if s.Start() {
		t.Fatal("Start() with empty queues = true, want false")
	}
}

// TestScheduler_SingleLoopInstance verifies only one loop runs at a time
// Given: A self-driving scheduler
// When: Several tasks are added before the loop gets to run
// Then: Only one routine is started
func TestScheduler_SingleLoopInstance(t *testing.T) {
	host := newFakeHost()
	s := NewScheduler(host, selfDriving, testSchedulerConfig())

	for i := 0; i < 5; i++ {
		s.AddTask(Sync(func(context.Context) {}))
	}
	if got := host.started(); got != 1 {
		t.Fatalf("started routines = %d, want 1", got)
	}
	host.drain()

	s.AddTask(Sync(func(context.Context) {}))
	if got := host.started(); got != 1 {
		t.Fatalf("started routines after idle = %d, want 1", got)
	}
}

// TestScheduler_AddTaskFromWithinTask verifies re-entrant enqueue
// Given: A task that enqueues a High task while running
// When: The loop drains
// Then: The nested task runs in the same loop without starting another one
func TestScheduler_AddTaskFromWithinTask(t *testing.T) {
	host := newFakeHost()
	s := NewScheduler(host, selfDriving, testSchedulerConfig())
	var order []string

	s.AddTask(Sync(func(ctx context.Context) {
		order = append(order, "outer")
		CurrentScheduler(ctx).AddTaskWithPriority(recorder(&order, "nested"), PriorityHigh)
	}))
	s.AddTask(recorder(&order, "sibling"))

	if ran := host.drain(); ran != 1 {
		t.Fatalf("routines run = %d, want 1", ran)
	}
	want := []string{"outer", "nested", "sibling"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

// TestScheduler_TaskContextCarriesHandle verifies context accessors
// Given: A running task
// When: It inspects its context
// Then: It sees its own scheduler and handle
func TestScheduler_TaskContextCarriesHandle(t *testing.T) {
	host := newFakeHost()
	s := NewScheduler(host, selfDriving, testSchedulerConfig())

	var seenHandle TaskHandle
	var seenScheduler *Scheduler
	h := s.AddTask(Sync(func(ctx context.Context) {
		seenHandle = CurrentTaskHandle(ctx)
		seenScheduler = CurrentScheduler(ctx)
	}))
	host.drain()

	if seenHandle != h || seenScheduler != s {
		t.Fatalf("context = (%d, %p), want (%d, %p)", seenHandle, seenScheduler, h, s)
	}
	if CurrentScheduler(context.Background()) != nil || !CurrentTaskHandle(context.Background()).IsZero() {
		t.Fatal("plain context should carry no scheduler or handle")
	}
}

// TestScheduler_AwaitsPendingResult verifies pending futures are awaited
// Given: A task returning a future resolved later by another goroutine
// When: The loop drains
// Then: The next task only starts after the future resolved
func TestScheduler_AwaitsPendingResult(t *testing.T) {
	host := newFakeHost()
	s := NewScheduler(host, selfDriving, testSchedulerConfig())
	var resolved atomic.Bool
	var sawResolved atomic.Bool

	s.AddTask(func(ctx context.Context) Result {
		return Pending(Async(func() error {
			time.Sleep(20 * time.Millisecond)
			resolved.Store(true)
			return nil
		}))
	})
	s.AddTask(Sync(func(context.Context) { sawResolved.Store(resolved.Load()) }))
	host.drain()

	if !sawResolved.Load() {
		t.Fatal("second task ran before the pending result resolved")
	}
}

// TestScheduler_PendingRejectionIsReported verifies async failures
// Given: A task whose future rejects
// When: The loop drains with AwaitPending enabled
// Then: The rejection is reported once and later tasks still run
func TestScheduler_PendingRejectionIsReported(t *testing.T) {
	host := newFakeHost()
	cfg := testSchedulerConfig()
	handler := &recordingErrorHandler{}
	cfg.TaskErrorHandler = handler
	s := NewScheduler(host, selfDriving, cfg)
	var after atomic.Bool

	s.AddTask(func(ctx context.Context) Result {
		return Pending(Async(func() error { return errors.New("rejected") }))
	})
	s.AddTask(Sync(func(context.Context) { after.Store(true) }))
	host.drain()

	if handler.count() != 1 {
		t.Fatalf("reported failures = %d, want 1", handler.count())
	}
	if !after.Load() {
		t.Fatal("task after rejection did not run")
	}
}

// TestScheduler_UnawaitedPendingDoesNotBlock verifies AwaitPending=false
// Given: AwaitPending disabled and a task whose future rejects only after a gate opens
// When: The loop drains
// Then: The next task runs first and the rejection is still reported once
func TestScheduler_UnawaitedPendingDoesNotBlock(t *testing.T) {
	host := newFakeHost()
	cfg := testSchedulerConfig()
	cfg.AwaitPending = false
	handler := &recordingErrorHandler{}
	cfg.TaskErrorHandler = handler
	s := NewScheduler(host, selfDriving, cfg)

	future, resolve := NewFuture()
	var nextRan atomic.Bool

	s.AddTask(func(ctx context.Context) Result { return Pending(future) })
	s.AddTask(Sync(func(context.Context) { nextRan.Store(true) }))
	host.drain()

	if !nextRan.Load() {
		t.Fatal("next task was blocked by an unawaited future")
	}
	if handler.count() != 0 {
		t.Fatal("failure reported before the future rejected")
	}

	resolve(errors.New("late"))
	deadline := time.Now().Add(time.Second)
	for handler.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if handler.count() != 1 {
		t.Fatalf("reported failures = %d, want 1", handler.count())
	}
}

// TestScheduler_YieldFailureReturnsToIdle verifies behavior when the host is gone
// Given: A host whose primitives fail and more work than one slice
// When: The loop tries to yield
// Then: It returns to idle and leaves the remaining tasks queued
func TestScheduler_YieldFailureReturnsToIdle(t *testing.T) {
	host := newFakeHost()
	host.yieldErr = errors.New("host closed")
	cfg := testSchedulerConfig()
	cfg.Clock = newStepClock(time.Millisecond)
	s := NewScheduler(host, selfDriving, cfg)

	for i := 0; i < 10; i++ {
		s.AddTask(Sync(func(context.Context) {}))
	}
	host.drain()

	stats := s.Stats()
	if stats.State != StateIdle {
		t.Fatalf("state = %v, want idle", stats.State)
	}
	if stats.PendingTotal == 0 || stats.Executed == 0 {
		t.Fatalf("executed = %d pending = %d, want some of each", stats.Executed, stats.PendingTotal)
	}
	if err := s.WaitIdle(context.Background()); err != nil {
		t.Fatalf("WaitIdle() = %v", err)
	}
}

// TestScheduler_WaitIdle verifies waiting for the loop to drain
// Given: A scheduler with a started but not yet drained loop
// When: WaitIdle is called concurrently with the drain
// Then: It returns once the loop went idle, and times out while it has not
func TestScheduler_WaitIdle(t *testing.T) {
	host := newFakeHost()
	s := NewScheduler(host, selfDriving, testSchedulerConfig())
	s.AddTask(Sync(func(context.Context) {}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.WaitIdle(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("WaitIdle() before drain = %v, want deadline exceeded", err)
	}

	done := make(chan error, 1)
	go func() { done <- s.WaitIdle(context.Background()) }()
	host.drain()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("WaitIdle() = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("WaitIdle did not return after drain")
	}
}

// TestScheduler_ClosedHostRefusesLoop verifies a refused start does not wedge the state
// Given: A self-driving scheduler whose host is already closed
// When: Tasks are added and Start is called
// Then: The scheduler stays idle with the tasks queued, and runs them once the host accepts again
func TestScheduler_ClosedHostRefusesLoop(t *testing.T) {
	host := newFakeHost()
	host.close()
	s := NewScheduler(host, selfDriving, testSchedulerConfig())
	var ran atomic.Int32

	s.AddTask(Sync(func(context.Context) { ran.Add(1) }))
	s.AddTask(Sync(func(context.Context) { ran.Add(1) }))
	if s.State() != StateIdle {
		t.Fatalf("state = %v after refused start, want idle", s.State())
	}
	if s.Start() {
		t.Fatal("Start() on a closed host = true, want false")
	}
	if err := s.WaitIdle(context.Background()); err != nil {
		t.Fatalf("WaitIdle() = %v", err)
	}
	if got := s.Stats().PendingTotal; got != 2 {
		t.Fatalf("pending = %d, want 2", got)
	}

	host.mu.Lock()
	host.closed = false
	host.mu.Unlock()
	if !s.Start() {
		t.Fatal("Start() after the host reopened = false, want true")
	}
	host.drain()
	if ran.Load() != 2 {
		t.Fatalf("ran %d tasks, want 2", ran.Load())
	}
}

// TestScheduler_AbandonDroppedLoop verifies recovery from a loop the host dropped
// Given: A running scheduler whose accepted work loop is discarded by the host
// When: Abandon is called
// Then: WaitIdle returns, the state is idle and the task is still queued
func TestScheduler_AbandonDroppedLoop(t *testing.T) {
	host := newFakeHost()
	s := NewScheduler(host, selfDriving, testSchedulerConfig())
	s.AddTask(Sync(func(context.Context) {}))
	if s.State() != StateRunning {
		t.Fatalf("state = %v, want running", s.State())
	}

	host.close()
	done := make(chan error, 1)
	go func() { done <- s.WaitIdle(context.Background()) }()
	s.Abandon()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("WaitIdle() = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("WaitIdle did not return after Abandon")
	}
	if s.State() != StateIdle || s.Stats().PendingTotal != 1 {
		t.Fatalf("state = %v pending = %d, want idle with 1 pending", s.State(), s.Stats().PendingTotal)
	}
	s.Abandon()
}

// TestScheduler_CompactCancellations verifies explicit marker compaction
// Given: One cancelled task that already ran and one cancelled task still queued
// When: CompactCancellations is called
// Then: Only the stale mark is dropped
func TestScheduler_CompactCancellations(t *testing.T) {
	host := newFakeHost()
	s := NewScheduler(host, Capabilities{}, testSchedulerConfig())

	first := s.AddTask(Sync(func(context.Context) {}))
	s.Start()
	host.drain()

	queued := s.AddTask(Sync(func(context.Context) {}))
	s.CancelTask(first)
	s.CancelTask(queued)
	if got := s.Stats().CancelMarkers; got != 2 {
		t.Fatalf("markers = %d, want 2", got)
	}

	if dropped := s.CompactCancellations(); dropped != 1 {
		t.Fatalf("dropped = %d, want 1", dropped)
	}
	if got := s.Stats().CancelMarkers; got != 1 {
		t.Fatalf("markers after compaction = %d, want 1", got)
	}
}

// TestScheduler_StatsAndHistory verifies observability output
// Given: A named task and an anonymous failing task
// When: The loop drains
// Then: Stats and RecentTasks describe both executions
func TestScheduler_StatsAndHistory(t *testing.T) {
	host := newFakeHost()
	s := NewScheduler(host, selfDriving, testSchedulerConfig())

	s.AddNamedTask("render", Sync(func(context.Context) {}), PriorityHigh)
	s.AddTaskWithPriority(func(ctx context.Context) Result { return Immediate(errors.New("x")) }, PriorityLow)
	host.drain()

	stats := s.Stats()
	if stats.Name != "test" || stats.Executed != 2 || stats.Failed != 1 || stats.PendingTotal != 0 {
		t.Fatalf("stats = %+v", stats)
	}

	recent := s.RecentTasks(10)
	if len(recent) != 2 {
		t.Fatalf("recent = %d records, want 2", len(recent))
	}
	if !recent[0].Failed || recent[0].Priority != PriorityLow || recent[0].Err != "x" {
		t.Fatalf("newest record = %+v, want failed low task", recent[0])
	}
	if recent[1].Name != "render" || recent[1].Failed {
		t.Fatalf("oldest record = %+v, want successful render", recent[1])
	}
}

// TestScheduler_TaskRecordByHandle verifies outcomes are addressable by handle
// Given: A cancelled task and a task whose unawaited future rejects later
// When: The loop drains and the future rejects
// Then: TaskRecord reports the cancellation and the late failure, and the per-priority totals agree
func TestScheduler_TaskRecordByHandle(t *testing.T) {
	host := newFakeHost()
	cfg := testSchedulerConfig()
	cfg.AwaitPending = false
	handler := &recordingErrorHandler{}
	cfg.TaskErrorHandler = handler
	s := NewScheduler(host, selfDriving, cfg)

	future, resolve := NewFuture()
	pending := s.AddNamedTask("fetch", func(ctx context.Context) Result { return Pending(future) }, PriorityHigh)
	skipped := s.AddTaskWithPriority(Sync(func(context.Context) {}), PriorityLow)
	s.CancelTask(skipped)
	host.drain()

	rec, ok := s.TaskRecord(skipped)
	if !ok || !rec.Cancelled || rec.Priority != PriorityLow {
		t.Fatalf("TaskRecord(skipped) = %+v, %v, want a cancelled low task", rec, ok)
	}
	if rec, _ = s.TaskRecord(pending); rec.Failed {
		t.Fatalf("TaskRecord(pending) = %+v before the future rejected", rec)
	}

	resolve(errors.New("late"))
	deadline := time.Now().Add(time.Second)
	for handler.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	rec, _ = s.TaskRecord(pending)
	if !rec.Failed || rec.Err != "late" || rec.Name != "fetch" {
		t.Fatalf("TaskRecord(pending) = %+v, want the late failure", rec)
	}
	stats := s.Stats()
	if stats.ByPriority[PriorityHigh] != (PriorityTotals{Executed: 1, Failed: 1}) {
		t.Fatalf("high totals = %+v", stats.ByPriority[PriorityHigh])
	}
	if stats.ByPriority[PriorityLow] != (PriorityTotals{Cancelled: 1}) {
		t.Fatalf("low totals = %+v", stats.ByPriority[PriorityLow])
	}
	if _, ok := s.TaskRecord(99); ok {
		t.Fatal("TaskRecord(99) found a record for a never-issued handle")
	}
}
