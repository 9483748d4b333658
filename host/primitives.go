package host

import (
	"context"

	"github.com/Swind/go-after-you/core"
)

var _ core.Host = (*Loop)(nil)

// Capabilities probes the loop once. The result is a snapshot; it does not
// follow later changes.
func (l *Loop) Capabilities() core.Capabilities {
	return core.Capabilities{
		SchedulerYield:    !l.opts.DisableSchedulerYield,
		PostTask:          !l.opts.DisablePostTask,
		MessageChannel:    !l.opts.DisableMessageChannel,
		SelfDriving:       l.opts.SelfDriving,
		InputPending:      !l.opts.DisableInputPending,
		IsolatedExecution: !l.opts.DisableIsolatedExecution,
	}
}

// Await suspends the calling coroutine until done is closed. The coroutine
// resumes as a continuation, ahead of plain macrotasks.
func (l *Loop) Await(ctx context.Context, done <-chan struct{}) error {
	select {
	case <-done:
		return nil
	default:
	}

	return l.suspend(ctx, func(wake func(error)) {
		go func() {
			select {
			case <-done:
				l.push(sourceContinuation, func() { wake(nil) })
			case <-ctx.Done():
			case <-l.ctx.Done():
			}
		}()
	})
}

// SchedulerYield resumes the caller after pending input and user-blocking work.
func (l *Loop) SchedulerYield(ctx context.Context) error {
	if l.opts.DisableSchedulerYield {
		return ErrUnsupported
	}
	return l.suspend(ctx, func(wake func(error)) {
		l.push(sourceContinuation, func() { wake(nil) })
	})
}

// SchedulerPostTask resumes the caller when a no-op post at urgency fires.
func (l *Loop) SchedulerPostTask(ctx context.Context, urgency core.Urgency) error {
	if l.opts.DisablePostTask {
		return ErrUnsupported
	}
	return l.suspend(ctx, func(wake func(error)) {
		l.PostWithUrgency(urgency, func() { wake(nil) })
	})
}

// MessageChannelRoundTrip posts an empty message through a private channel
// and resumes the caller when it is delivered.
func (l *Loop) MessageChannelRoundTrip(ctx context.Context) error {
	if l.opts.DisableMessageChannel {
		return ErrUnsupported
	}
	return l.suspend(ctx, func(wake func(error)) {
		local, remote := l.newPortPair()
		local.SetOnMessage(func(any) {
			local.Close()
			wake(nil)
		})
		// A failed post means the loop closed; Stop resumes the caller
		_ = remote.PostMessage(nil)
	})
}

// TimeoutYield resumes the caller after the minimum timer delay.
func (l *Loop) TimeoutYield(ctx context.Context) error {
	return l.suspend(ctx, func(wake func(error)) {
		l.SetTimeout(func() { wake(nil) }, 0)
	})
}

// IsInputPending reports input that is queued on the loop or waiting on the
// configured InputSource. It never blocks.
func (l *Loop) IsInputPending() bool {
	if l.opts.DisableInputPending {
		return false
	}

	l.mu.Lock()
	queued := !l.sources[sourceInput].Empty()
	l.mu.Unlock()
	if queued {
		return true
	}
	return l.opts.Input != nil && l.opts.Input.Pending()
}
