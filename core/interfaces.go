package core

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"
)

// =============================================================================
// PanicError: a recovered panic carried as an error
// =============================================================================

// PanicError wraps a value recovered from a panicking task.
type PanicError struct {
	Value any
	Stack []byte
}

func newPanicError(v any) *PanicError {
	return &PanicError{Value: v, Stack: debug.Stack()}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task panicked: %v", e.Value)
}

// Unwrap exposes the panic value when it is itself an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// =============================================================================
// TaskErrorHandler: Interface for reporting task failures
// =============================================================================

// TaskErrorHandler is called once for every task that fails: a panic, an
// Immediate(err) result or a rejected future. The scheduler keeps running
// regardless of what the handler does.
//
// Implementations should be thread-safe: failures of futures that are not
// awaited are reported from the goroutine that observed them.
type TaskErrorHandler interface {
	// HandleTaskError is called when a task fails.
	//
	// Parameters:
	// - ctx: The context of the failed task (carries the scheduler and handle)
	// - schedulerName: The name of the scheduler that ran the task
	// - handle: The handle returned by AddTask
	// - err: The failure; a *PanicError for panics
	HandleTaskError(ctx context.Context, schedulerName string, handle TaskHandle, err error)
}

// DefaultTaskErrorHandler logs failures through a Logger.
type DefaultTaskErrorHandler struct {
	Logger Logger
}

// HandleTaskError logs the failure, including the stack for panics.
func (h *DefaultTaskErrorHandler) HandleTaskError(ctx context.Context, schedulerName string, handle TaskHandle, err error) {
	logger := h.Logger
	if logger == nil {
		logger = NewDefaultLogger()
	}
	fields := []Field{F("scheduler", schedulerName), F("handle", handle), F("error", err)}
	if pe, ok := err.(*PanicError); ok {
		fields = append(fields, F("stack", string(pe.Stack)))
	}
	logger.Error("Scheduler task failed", fields...)
}

// =============================================================================
// Metrics: Interface for observability and monitoring
// =============================================================================

// Metrics defines the interface for collecting scheduler metrics.
// Implementations can send metrics to monitoring systems (Prometheus, StatsD, etc.).
//
// Methods should be non-blocking and fast to avoid stretching the frame budget.
type Metrics interface {
	// RecordTaskDuration records how long a task ran, including any awaited future.
	RecordTaskDuration(schedulerName string, priority Priority, duration time.Duration)

	// RecordTaskFailure records a failed task.
	RecordTaskFailure(schedulerName string, priority Priority)

	// RecordTaskCancelled records a task discarded at dequeue because its handle was cancelled.
	RecordTaskCancelled(schedulerName string, priority Priority)

	// RecordYield records one suspension and the strategy that served it.
	RecordYield(schedulerName string, strategy Strategy)

	// RecordQueueDepth records the depth of one priority queue after an enqueue.
	RecordQueueDepth(schedulerName string, priority Priority, depth int)
}

// NilMetrics provides a no-op metrics implementation that does nothing.
// This is the default when no metrics interface is provided.
type NilMetrics struct{}

// RecordTaskDuration is a no-op.
func (m *NilMetrics) RecordTaskDuration(schedulerName string, priority Priority, duration time.Duration) {
}

// RecordTaskFailure is a no-op.
func (m *NilMetrics) RecordTaskFailure(schedulerName string, priority Priority) {}

// RecordTaskCancelled is a no-op.
func (m *NilMetrics) RecordTaskCancelled(schedulerName string, priority Priority) {}

// RecordYield is a no-op.
func (m *NilMetrics) RecordYield(schedulerName string, strategy Strategy) {}

// RecordQueueDepth is a no-op.
func (m *NilMetrics) RecordQueueDepth(schedulerName string, priority Priority, depth int) {}

// =============================================================================
// SchedulerConfig: Configuration for Scheduler
// =============================================================================

const (
	// DefaultFrameBudget is how long the scheduler drains before yielding.
	DefaultFrameBudget = 5 * time.Millisecond

	// DefaultGlobalBudget is the AfterYou throttle interval.
	DefaultGlobalBudget = 5 * time.Millisecond
)

// SchedulerConfig holds configuration options for Scheduler.
// All handlers are optional; if not provided, default implementations will be used.
type SchedulerConfig struct {
	// Name labels logs and metrics. Defaults to "scheduler".
	Name string

	// FrameBudget is the wall-clock slice the loop may run before yielding.
	// Defaults to DefaultFrameBudget.
	FrameBudget time.Duration

	// Clock measures the frame budget. Defaults to SystemClock.
	Clock Clock

	// AwaitPending makes the loop suspend until a Pending result resolves
	// before selecting the next task. When false, futures are watched in the
	// background and only their failures are reported.
	AwaitPending bool

	// HistoryCapacity bounds RecentTasks. Defaults to 100.
	HistoryCapacity int

	// Logger defaults to NewDefaultLogger.
	Logger Logger

	// Metrics defaults to NilMetrics.
	Metrics Metrics

	// TaskErrorHandler defaults to DefaultTaskErrorHandler on Logger.
	TaskErrorHandler TaskErrorHandler
}

// DefaultSchedulerConfig returns a config with default handlers.
func DefaultSchedulerConfig() *SchedulerConfig {
	logger := NewDefaultLogger()
	return &SchedulerConfig{
		Name:             "scheduler",
		FrameBudget:      DefaultFrameBudget,
		Clock:            SystemClock{},
		AwaitPending:     true,
		HistoryCapacity:  defaultTaskHistoryCapacity,
		Logger:           logger,
		Metrics:          &NilMetrics{},
		TaskErrorHandler: &DefaultTaskErrorHandler{Logger: logger},
	}
}

// ThrottleConfig holds configuration options for Throttle.
type ThrottleConfig struct {
	// GlobalBudget is the minimum interval between real suspensions when a
	// call does not override it. Defaults to DefaultGlobalBudget.
	GlobalBudget time.Duration

	// Clock defaults to SystemClock.
	Clock Clock

	// Name labels metrics. Defaults to "after-you".
	Name string

	// Logger defaults to NoOpLogger.
	Logger Logger

	// Metrics defaults to NilMetrics.
	Metrics Metrics
}

// DefaultThrottleConfig returns a config with a 5ms global budget.
func DefaultThrottleConfig() *ThrottleConfig {
	return &ThrottleConfig{
		GlobalBudget: DefaultGlobalBudget,
		Clock:        SystemClock{},
		Name:         "after-you",
		Logger:       NewNoOpLogger(),
		Metrics:      &NilMetrics{},
	}
}
