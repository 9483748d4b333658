package host

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Swind/go-after-you/core"
	"github.com/emirpasic/gods/queues/linkedlistqueue"
)

var (
	// ErrUnsupported is returned by primitives disabled through Options.
	ErrUnsupported = core.ErrUnsupported

	// ErrLoopClosed is returned by primitives once Stop was called, and is
	// delivered to every coroutine still parked at that point.
	ErrLoopClosed = errors.New("host: loop closed")

	// ErrAlreadyRunning is returned by RunUntilIdle while another goroutine
	// is pumping the loop.
	ErrAlreadyRunning = errors.New("host: loop already running")

	// ErrPortClosed is returned when posting on a closed MessagePort.
	ErrPortClosed = errors.New("host: message port closed")
)

// DefaultMinTimerDelay is the clamp applied to every timer.
const DefaultMinTimerDelay = 4 * time.Millisecond

// Options configures a Loop. The zero value is a loop that must be pumped
// externally and offers every primitive.
type Options struct {
	// SelfDriving starts a dedicated goroutine that pumps the loop. When
	// false, callers drive it with RunUntilIdle.
	SelfDriving bool

	DisableSchedulerYield    bool
	DisablePostTask          bool
	DisableMessageChannel    bool
	DisableInputPending      bool
	DisableIsolatedExecution bool

	// MinTimerDelay clamps SetTimeout delays. Defaults to DefaultMinTimerDelay.
	MinTimerDelay time.Duration

	// Input reports input that has not been dispatched yet, such as bytes
	// waiting on a terminal. May be nil.
	Input InputSource

	// Logger defaults to a NoOpLogger.
	Logger core.Logger
}

// source is one macrotask queue. Declaration order is service order.
type source int

const (
	sourceInput source = iota
	sourceUserBlocking
	sourceContinuation
	sourceMacrotask
	sourcePort
	sourceUserVisible
	sourceTimer // served from the timer queue, never stored in sources
	sourceBackground
	numSources
)

// Loop is a single-threaded cooperative event loop. Exactly one macrotask
// or one coroutine runs at any time.
type Loop struct {
	opts   Options
	logger core.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// mu guards the queues and lifecycle flags
	mu      sync.Mutex
	sources [numSources]*linkedlistqueue.Queue
	timers  *timerQueue
	parked  map[*coroutine]struct{}
	closed  bool

	// runMu is held by whoever is pumping turns
	runMu  sync.Mutex
	wakeup chan struct{}
	done   chan struct{}

	stopOnce sync.Once
	turns    atomic.Int64
}

// New creates a loop. With SelfDriving set the loop starts pumping immediately.
func New(opts Options) *Loop {
	if opts.MinTimerDelay <= 0 {
		opts.MinTimerDelay = DefaultMinTimerDelay
	}
	if opts.Logger == nil {
		opts.Logger = core.NewNoOpLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &Loop{
		opts:   opts,
		logger: opts.Logger,
		ctx:    ctx,
		cancel: cancel,
		timers: newTimerQueue(),
		parked: make(map[*coroutine]struct{}),
		wakeup: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	for i := range l.sources {
		l.sources[i] = linkedlistqueue.New()
	}

	if opts.SelfDriving {
		go l.run()
	} else {
		close(l.done)
	}
	return l
}

// Post queues fn as a plain macrotask. Posts after Stop are dropped.
func (l *Loop) Post(fn func()) {
	l.push(sourceMacrotask, fn)
}

// PostWithUrgency queues fn on the deferred-post source matching urgency.
func (l *Loop) PostWithUrgency(urgency core.Urgency, fn func()) {
	l.push(urgencySource(urgency), fn)
}

// DispatchInput queues an input event. Input is served before every other source.
func (l *Loop) DispatchInput(fn func()) {
	l.push(sourceInput, fn)
}

// Invoke runs fn on the loop and waits for it to return.
//
// Must not be called from the loop itself. On a loop that is not
// self-driving, someone else has to pump it for Invoke to return.
func (l *Loop) Invoke(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !l.push(sourceMacrotask, func() {
		defer close(done)
		fn()
	}) {
		return ErrLoopClosed
	}

	select {
	case <-done:
		return nil
	case <-l.ctx.Done():
		return ErrLoopClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunUntilIdle pumps the loop on the calling goroutine until no macrotask,
// timer or parked coroutine is left. It is the external pump for loops that
// are not self-driving.
func (l *Loop) RunUntilIdle(ctx context.Context) error {
	if l.opts.SelfDriving {
		return ErrAlreadyRunning
	}
	if !l.runMu.TryLock() {
		return ErrAlreadyRunning
	}
	defer l.runMu.Unlock()

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		if l.runOne() {
			continue
		}

		wait, busy := l.idleState()
		if !busy {
			return nil
		}
		if wait <= 0 {
			wait = time.Hour
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.ctx.Done():
			return ErrLoopClosed
		case <-timer.C:
		case <-l.wakeup:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}
	}
}

// Stop closes the loop, drops queued work and resumes every parked
// coroutine with ErrLoopClosed. It waits for the self-driving goroutine to
// exit and must not be called from the loop itself.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		for _, q := range l.sources {
			q.Clear()
		}
		l.timers.Clear()
		l.mu.Unlock()

		l.cancel()
		l.signal()
		<-l.done

		// The caller now owns the loop thread and hands it to each parked coroutine in turn
		l.runMu.Lock()
		defer l.runMu.Unlock()
		for {
			co, ok := l.anyParked()
			if !ok {
				break
			}
			l.transfer(co, ErrLoopClosed)
		}
		l.logger.Debug("Host loop stopped", core.F("turns", l.turns.Load()))
	})
}

// Closed reports whether Stop was called.
func (l *Loop) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// Stats returns a snapshot of the loop's queues.
func (l *Loop) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	stats := Stats{
		Turns:  l.turns.Load(),
		Timers: l.timers.Len(),
		Parked: len(l.parked),
	}
	for _, q := range l.sources {
		stats.Queued += q.Size()
	}
	return stats
}

// Stats describes the loop at one instant.
type Stats struct {
	Turns  int64
	Queued int
	Timers int
	Parked int
}

// run is the self-driving pump; it occupies a dedicated goroutine.
func (l *Loop) run() {
	defer close(l.done)

	l.runMu.Lock()
	defer l.runMu.Unlock()

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		if l.runOne() {
			continue
		}

		wait, _ := l.idleState()
		if wait <= 0 {
			wait = 1000 * time.Hour
		}
		timer.Reset(wait)

		select {
		case <-l.ctx.Done():
			return
		case <-timer.C:
		case <-l.wakeup:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}
	}
}

// runOne executes at most one macrotask and reports whether it did.
func (l *Loop) runOne() bool {
	fn, ok := l.next()
	if !ok {
		return false
	}
	l.turns.Add(1)
	l.execute(fn)
	return true
}

func (l *Loop) execute(fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			l.logger.Error("Host macrotask panicked",
				core.F("panic", fmt.Sprint(rec)), core.F("stack", string(debug.Stack())))
		}
	}()
	fn()
}

// next pops the first runnable macrotask in source order.
func (l *Loop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, false
	}
	for s := source(0); s < numSources; s++ {
		if s == sourceTimer {
			if fn, ok := l.timers.PopDue(time.Now()); ok {
				return fn, true
			}
			continue
		}
		if v, ok := l.sources[s].Dequeue(); ok {
			return v.(func()), true
		}
	}
	return nil, false
}

// idleState returns the delay until the next timer (0 when none) and
// whether the loop still has outstanding work.
func (l *Loop) idleState() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	wait := time.Duration(0)
	if when, ok := l.timers.NextDeadline(); ok {
		wait = time.Until(when)
		if wait <= 0 {
			wait = time.Millisecond
		}
	}
	return wait, !l.closed && (l.timers.Len() > 0 || len(l.parked) > 0)
}

func (l *Loop) push(s source, fn func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		l.logger.Debug("Dropped macrotask posted after stop")
		return false
	}
	l.sources[s].Enqueue(fn)
	l.mu.Unlock()

	l.signal()
	return true
}

func (l *Loop) signal() {
	select {
	case l.wakeup <- struct{}{}:
	default:
	}
}

func urgencySource(u core.Urgency) source {
	switch u {
	case core.UrgencyUserBlocking:
		return sourceUserBlocking
	case core.UrgencyBackground:
		return sourceBackground
	default:
		return sourceUserVisible
	}
}
