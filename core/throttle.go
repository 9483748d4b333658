package core

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// YieldOption configures a single AfterYou call.
type YieldOption func(*yieldOptions)

type yieldOptions struct {
	force             bool
	urgency           Urgency
	budget            time.Duration
	checkInputPending bool
}

// WithForce suspends regardless of budget and pending input.
func WithForce() YieldOption {
	return func(o *yieldOptions) { o.force = true }
}

// WithUrgency sets the tag used when the post-task strategy is selected.
func WithUrgency(u Urgency) YieldOption {
	return func(o *yieldOptions) { o.urgency = u }
}

// WithBudget overrides the global budget for one call. Non-positive values are ignored.
func WithBudget(d time.Duration) YieldOption {
	return func(o *yieldOptions) {
		if d > 0 {
			o.budget = d
		}
	}
}

// WithoutInputPendingCheck always suspends once the budget is spent, even
// when the host reports no pending input.
func WithoutInputPendingCheck() YieldOption {
	return func(o *yieldOptions) { o.checkInputPending = false }
}

// Throttle lets long-running caller code insert voluntary suspension points
// that only suspend when a budget has elapsed since the previous one. It is
// independent of any Scheduler's queues and frame budget.
type Throttle struct {
	name    string
	yielder *Yielder
	caps    Capabilities
	host    Host
	clock   Clock
	logger  Logger
	metrics Metrics

	globalBudget atomic.Int64

	mu        sync.Mutex
	lastYield time.Time

	suspensions  atomic.Int64
	throttled    atomic.Int64
	inputSkipped atomic.Int64
}

// NewThrottle creates a throttle that suspends through host's yield chain.
// config may be nil.
func NewThrottle(host Host, caps Capabilities, config *ThrottleConfig) *Throttle {
	if config == nil {
		config = DefaultThrottleConfig()
	}
	t := &Throttle{
		name:    config.Name,
		yielder: NewYielder(host, caps),
		caps:    caps,
		host:    host,
		clock:   config.Clock,
		logger:  config.Logger,
		metrics: config.Metrics,
	}
	if t.name == "" {
		t.name = "after-you"
	}
	if t.clock == nil {
		t.clock = SystemClock{}
	}
	if t.logger == nil {
		t.logger = NewNoOpLogger()
	}
	if t.metrics == nil {
		t.metrics = &NilMetrics{}
	}
	budget := config.GlobalBudget
	if budget <= 0 {
		budget = DefaultGlobalBudget
	}
	t.globalBudget.Store(int64(budget))
	return t
}

// SetGlobalBudget sets the interval used when a call does not pass WithBudget.
// It does not affect any Scheduler's frame budget.
func (t *Throttle) SetGlobalBudget(d time.Duration) {
	if d < 0 {
		d = 0
	}
	t.globalBudget.Store(int64(d))
}

// GlobalBudget returns the current default interval.
func (t *Throttle) GlobalBudget() time.Duration {
	return time.Duration(t.globalBudget.Load())
}

// AfterYou suspends the caller if the budget since the last suspension is
// spent. On a host that is not self-driving it returns immediately.
//
// When the host can report pending input and none is pending, the budget
// window restarts without suspending.
func (t *Throttle) AfterYou(ctx context.Context, opts ...YieldOption) error {
	if !t.caps.SelfDriving {
		return nil
	}

	o := yieldOptions{
		urgency:           UrgencyUserVisible,
		budget:            t.GlobalBudget(),
		checkInputPending: true,
	}
	for _, opt := range opts {
		opt(&o)
	}

	now := t.clock.Now()
	t.mu.Lock()
	elapsed := now.Sub(t.lastYield)
	if !o.force && elapsed < o.budget {
		t.mu.Unlock()
		t.throttled.Add(1)
		return nil
	}
	if !o.force && o.checkInputPending && t.caps.InputPending && !t.host.IsInputPending() {
		t.lastYield = now
		t.mu.Unlock()
		t.inputSkipped.Add(1)
		return nil
	}
	t.mu.Unlock()

	strategy, err := t.yielder.Yield(ctx, o.urgency)
	if err != nil {
		t.logger.Warn("AfterYou suspension failed", F("strategy", strategy), F("error", err))
		return err
	}

	t.mu.Lock()
	t.lastYield = t.clock.Now()
	t.mu.Unlock()

	t.suspensions.Add(1)
	t.metrics.RecordYield(t.name, strategy)
	return nil
}

// Stats returns a snapshot of the throttle counters.
func (t *Throttle) Stats() ThrottleStats {
	return ThrottleStats{
		Name:         t.name,
		GlobalBudget: t.GlobalBudget(),
		Suspensions:  t.suspensions.Load(),
		Throttled:    t.throttled.Load(),
		InputSkipped: t.inputSkipped.Load(),
	}
}
