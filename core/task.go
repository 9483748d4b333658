package core

import (
	"context"
	"strconv"
	"sync"
)

// TaskHandle identifies a task queued on a Scheduler. Handles start at 1,
// increase strictly and are never reused by the same Scheduler.
type TaskHandle uint64

// IsZero reports whether h is the zero handle, which is never issued.
func (h TaskHandle) IsZero() bool { return h == 0 }

func (h TaskHandle) String() string { return strconv.FormatUint(uint64(h), 10) }

// =============================================================================
// Priority: Which queue of the bank a task waits in
// =============================================================================

type Priority int

const (
	// PriorityHigh: Input-critical work, always drained first
	PriorityHigh Priority = iota

	// PriorityNormal: Default priority
	PriorityNormal

	// PriorityLow: Deferred work that can wait behind Normal
	PriorityLow

	// PriorityIdle: Lowest priority, only runs when everything else is empty
	PriorityIdle
)

// numPriorities is the size of the queue bank.
const numPriorities = 4

// Priorities lists every level in drain order.
var Priorities = [numPriorities]Priority{PriorityHigh, PriorityNormal, PriorityLow, PriorityIdle}

// Valid reports whether p is one of the four defined levels.
func (p Priority) Valid() bool { return p >= PriorityHigh && p <= PriorityIdle }

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	case PriorityIdle:
		return "idle"
	default:
		return "unknown"
	}
}

// =============================================================================
// Urgency: Priority tag understood by the host's deferred-post primitive
// =============================================================================

type Urgency int

const (
	// UrgencyUserBlocking: the continuation blocks the user and should run as soon as possible
	UrgencyUserBlocking Urgency = iota

	// UrgencyUserVisible: Default urgency
	UrgencyUserVisible

	// UrgencyBackground: Lowest urgency
	UrgencyBackground
)

func (u Urgency) String() string {
	switch u {
	case UrgencyUserBlocking:
		return "user-blocking"
	case UrgencyUserVisible:
		return "user-visible"
	case UrgencyBackground:
		return "background"
	default:
		return "unknown"
	}
}

// =============================================================================
// Task and Result
// =============================================================================

// Task is the unit of work. It runs synchronously on the host thread and
// reports either an immediate outcome or a pending computation to await.
type Task func(ctx context.Context) Result

// Result is the outcome of a Task: Immediate(err) or Pending(future).
type Result struct {
	err    error
	future *Future
}

// Immediate reports a task that finished synchronously. A non-nil err is
// reported as a task failure.
func Immediate(err error) Result {
	return Result{err: err}
}

// Pending reports a task that handed back an asynchronous computation.
// A nil future is treated as Immediate(nil).
func Pending(f *Future) Result {
	return Result{future: f}
}

// IsPending reports whether the result carries a future.
func (r Result) IsPending() bool { return r.future != nil }

// Err returns the immediate error, nil for pending results.
func (r Result) Err() error { return r.err }

// Future returns the pending computation, nil for immediate results.
func (r Result) Future() *Future { return r.future }

// Sync adapts a plain function into a Task that always succeeds.
func Sync(fn func(ctx context.Context)) Task {
	return func(ctx context.Context) Result {
		fn(ctx)
		return Immediate(nil)
	}
}

// =============================================================================
// Future: single-assignment completion of an asynchronous computation
// =============================================================================

type Future struct {
	done chan struct{}
	once sync.Once
	err  error
}

// NewFuture returns an unresolved future and the function that resolves it.
// Only the first call to resolve has an effect.
func NewFuture() (*Future, func(error)) {
	f := &Future{done: make(chan struct{})}
	return f, f.resolve
}

// Async runs fn on its own goroutine and returns a future resolved with its error.
// A panic inside fn rejects the future with a *PanicError.
func Async(fn func() error) *Future {
	f, resolve := NewFuture()
	go func() {
		var err error
		defer func() {
			if rec := recover(); rec != nil {
				err = newPanicError(rec)
			}
			resolve(err)
		}()
		err = fn()
	}()
	return f
}

func (f *Future) resolve(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

// Done is closed once the future resolves.
func (f *Future) Done() <-chan struct{} { return f.done }

// Err returns the rejection error. It is only meaningful after Done is closed.
func (f *Future) Err() error {
	select {
	case <-f.done:
		return f.err
	default:
		return nil
	}
}

// =============================================================================
// Context Helper
// =============================================================================
type schedulerKeyType struct{}
type taskHandleKeyType struct{}

var (
	schedulerKey  schedulerKeyType
	taskHandleKey taskHandleKeyType
)

// CurrentScheduler returns the Scheduler running the calling task, or nil.
func CurrentScheduler(ctx context.Context) *Scheduler {
	if v, ok := ctx.Value(schedulerKey).(*Scheduler); ok {
		return v
	}
	return nil
}

// CurrentTaskHandle returns the handle of the calling task, or the zero handle.
func CurrentTaskHandle(ctx context.Context) TaskHandle {
	if v, ok := ctx.Value(taskHandleKey).(TaskHandle); ok {
		return v
	}
	return 0
}
