package core

import (
	"context"
	"sync"
	"time"
)

// fakeHost records primitive calls and runs routines only when drained, so
// tests control exactly when the work loop executes.
type fakeHost struct {
	mu           sync.Mutex
	routines     []func(ctx context.Context)
	calls        []string
	urgencies    []Urgency
	inputPending bool
	yieldErr     error
	closed       bool

	// onYield runs inside every suspension primitive, before it resumes
	onYield func()
}

func newFakeHost() *fakeHost {
	return &fakeHost{}
}

func (h *fakeHost) Go(fn func(ctx context.Context)) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.routines = append(h.routines, fn)
	return true
}

// close makes the host refuse new routines and forgets the ones not yet run.
func (h *fakeHost) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.routines = nil
}

// drain runs every started routine on the calling goroutine until none are left.
func (h *fakeHost) drain() int {
	ran := 0
	for {
		h.mu.Lock()
		if len(h.routines) == 0 {
			h.mu.Unlock()
			return ran
		}
		fn := h.routines[0]
		h.routines = h.routines[1:]
		h.mu.Unlock()

		fn(context.Background())
		ran++
	}
}

func (h *fakeHost) started() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.routines)
}

func (h *fakeHost) Await(ctx context.Context, done <-chan struct{}) error {
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *fakeHost) suspend(name string) error {
	h.mu.Lock()
	h.calls = append(h.calls, name)
	hook := h.onYield
	err := h.yieldErr
	h.mu.Unlock()

	if hook != nil {
		hook()
	}
	return err
}

func (h *fakeHost) SchedulerYield(ctx context.Context) error {
	return h.suspend("scheduler_yield")
}

func (h *fakeHost) SchedulerPostTask(ctx context.Context, urgency Urgency) error {
	h.mu.Lock()
	h.urgencies = append(h.urgencies, urgency)
	h.mu.Unlock()
	return h.suspend("post_task")
}

func (h *fakeHost) MessageChannelRoundTrip(ctx context.Context) error {
	return h.suspend("message_channel")
}

func (h *fakeHost) TimeoutYield(ctx context.Context) error {
	return h.suspend("timeout")
}

func (h *fakeHost) IsInputPending() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.inputPending
}

func (h *fakeHost) yieldCalls() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.calls))
	copy(out, h.calls)
	return out
}

// stepClock advances by step on every Now call.
type stepClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func newStepClock(step time.Duration) *stepClock {
	return &stepClock{now: time.Unix(1_000, 0), step: step}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}

// manualClock only moves when advanced.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Unix(1_000, 0)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingErrorHandler collects reported failures.
type recordingErrorHandler struct {
	mu     sync.Mutex
	errs   []error
	handle []TaskHandle
}

func (h *recordingErrorHandler) HandleTaskError(ctx context.Context, schedulerName string, handle TaskHandle, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errs = append(h.errs, err)
	h.handle = append(h.handle, handle)
}

func (h *recordingErrorHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.errs)
}

var selfDriving = Capabilities{SchedulerYield: true, PostTask: true, MessageChannel: true, SelfDriving: true}

func testSchedulerConfig() *SchedulerConfig {
	cfg := DefaultSchedulerConfig()
	cfg.Name = "test"
	cfg.Logger = NewNoOpLogger()
	cfg.TaskErrorHandler = &recordingErrorHandler{}
	return cfg
}
