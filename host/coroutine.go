package host

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/Swind/go-after-you/core"
)

// coroutine is a routine started with Go. It only runs while it holds the
// loop's baton: the loop hands it over through resume and blocks on parked
// until the coroutine suspends again or returns.
type coroutine struct {
	resume chan error
	parked chan struct{}
}

type coroutineKeyType struct{}

var coroutineKey coroutineKeyType

func coroutineFrom(ctx context.Context) *coroutine {
	co, _ := ctx.Value(coroutineKey).(*coroutine)
	return co
}

// Go starts fn as a coroutine on the loop. fn runs synchronously on the
// loop's turn until it returns or suspends through one of the primitives.
// Go returns false when the loop is already stopped.
func (l *Loop) Go(fn func(ctx context.Context)) bool {
	return l.push(sourceMacrotask, func() { l.start(fn) })
}

func (l *Loop) start(fn func(ctx context.Context)) {
	co := &coroutine{
		resume: make(chan error),
		parked: make(chan struct{}),
	}
	ctx := context.WithValue(l.ctx, coroutineKey, co)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				l.logger.Error("Host coroutine panicked",
					core.F("panic", fmt.Sprint(rec)), core.F("stack", string(debug.Stack())))
			}
			co.parked <- struct{}{}
		}()
		fn(ctx)
	}()
	<-co.parked
}

// suspend parks the calling coroutine until the wake function handed to arm
// is invoked on the loop. arm runs while the caller still holds the baton.
//
// Callers that are not loop coroutines, such as a goroutine waiting on the
// loop from outside, block until woken instead.
func (l *Loop) suspend(ctx context.Context, arm func(wake func(error))) error {
	co := coroutineFrom(ctx)
	if co == nil {
		woke := make(chan error, 1)
		if l.Closed() {
			return ErrLoopClosed
		}
		arm(func(err error) {
			select {
			case woke <- err:
			default:
			}
		})
		select {
		case err := <-woke:
			return err
		case <-ctx.Done():
			return ctx.Err()
		case <-l.ctx.Done():
			return ErrLoopClosed
		}
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrLoopClosed
	}
	l.parked[co] = struct{}{}
	l.mu.Unlock()

	arm(func(err error) { l.transfer(co, err) })

	stopWatch := context.AfterFunc(ctx, func() {
		l.push(sourceContinuation, func() { l.transfer(co, ctx.Err()) })
	})
	defer stopWatch()

	co.parked <- struct{}{}
	return <-co.resume
}

// transfer hands the baton to a parked coroutine and blocks until it parks
// again or returns. Waking a coroutine that is not parked is a no-op, so a
// cancelled wait and its late wake-up cannot resume it twice.
func (l *Loop) transfer(co *coroutine, err error) {
	l.mu.Lock()
	if _, ok := l.parked[co]; !ok {
		l.mu.Unlock()
		return
	}
	delete(l.parked, co)
	l.mu.Unlock()

	co.resume <- err
	<-co.parked
}

func (l *Loop) anyParked() (*coroutine, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for co := range l.parked {
		return co, true
	}
	return nil, false
}
