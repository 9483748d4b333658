package core

import (
	"context"
	"errors"
	"strings"
)

// ErrUnsupported is returned by a Host primitive the environment does not provide.
var ErrUnsupported = errors.New("host primitive not supported")

// Capabilities is a read-only snapshot of what the host environment provides.
// It is computed once and passed by value to everything that needs it.
type Capabilities struct {
	// SchedulerYield: a cooperative-yield primitive that resumes the caller on
	// the host's next scheduling opportunity.
	SchedulerYield bool

	// PostTask: a deferred post tagged with an Urgency.
	PostTask bool

	// MessageChannel: paired ports usable for a zero-payload round trip.
	MessageChannel bool

	// SelfDriving: the host pumps its own loop. When false, queued work only
	// runs after an explicit Scheduler.Start and external pumping.
	SelfDriving bool

	// InputPending: the host can report pending user input without blocking.
	InputPending bool

	// IsolatedExecution: the host can run offloaded functions in isolated contexts.
	IsolatedExecution bool
}

// Tier returns the yield strategy these capabilities select.
func (c Capabilities) Tier() Strategy {
	return SelectStrategy(c)
}

func (c Capabilities) String() string {
	var parts []string
	add := func(ok bool, name string) {
		if ok {
			parts = append(parts, name)
		}
	}
	add(c.SchedulerYield, "scheduler.yield")
	add(c.PostTask, "scheduler.postTask")
	add(c.MessageChannel, "message-channel")
	parts = append(parts, "timeout")
	add(c.SelfDriving, "self-driving")
	add(c.InputPending, "input-pending")
	add(c.IsolatedExecution, "isolated-execution")
	return strings.Join(parts, ",")
}

// =============================================================================
// Host: the cooperative environment a Scheduler shares
// =============================================================================

// Host exposes the suspension primitives of a cooperative environment.
//
// Every primitive suspends the calling routine and resumes it later on the
// host thread. Primitives the host does not provide return ErrUnsupported.
type Host interface {
	// Go starts fn as an asynchronous routine on the host thread. It reports
	// false when the host is closed and fn will never run.
	Go(fn func(ctx context.Context)) bool

	// Await suspends the calling routine until done is closed.
	Await(ctx context.Context, done <-chan struct{}) error

	// SchedulerYield hands control to the host scheduler and resumes after
	// pending input and rendering work.
	SchedulerYield(ctx context.Context) error

	// SchedulerPostTask resumes when a no-op continuation posted at urgency fires.
	SchedulerPostTask(ctx context.Context, urgency Urgency) error

	// MessageChannelRoundTrip posts a zero-payload message to a private port
	// and resumes on receipt.
	MessageChannelRoundTrip(ctx context.Context) error

	// TimeoutYield resumes after the smallest timer delay the host permits.
	TimeoutYield(ctx context.Context) error

	// IsInputPending reports pending user input without blocking.
	IsInputPending() bool
}
