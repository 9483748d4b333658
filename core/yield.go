package core

import "context"

// Strategy is one tier of the yield chain, in descending fidelity.
type Strategy int

const (
	StrategySchedulerYield Strategy = iota
	StrategyPostTask
	StrategyMessageChannel
	StrategyTimeout
)

func (s Strategy) String() string {
	switch s {
	case StrategySchedulerYield:
		return "scheduler_yield"
	case StrategyPostTask:
		return "post_task"
	case StrategyMessageChannel:
		return "message_channel"
	case StrategyTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// SelectStrategy returns the highest-fidelity strategy caps allow.
// The timeout strategy is always available.
func SelectStrategy(caps Capabilities) Strategy {
	switch {
	case caps.SchedulerYield:
		return StrategySchedulerYield
	case caps.PostTask:
		return StrategyPostTask
	case caps.MessageChannel:
		return StrategyMessageChannel
	default:
		return StrategyTimeout
	}
}

// Yielder suspends the caller with the cheapest mechanism the host supports.
type Yielder struct {
	host Host
	caps Capabilities
}

func NewYielder(host Host, caps Capabilities) *Yielder {
	return &Yielder{host: host, caps: caps}
}

// Capabilities returns the descriptor the yielder selects from.
func (y *Yielder) Capabilities() Capabilities { return y.caps }

// Yield suspends the calling routine once and resumes it later.
// urgency only matters when the post-task tier is selected.
func (y *Yielder) Yield(ctx context.Context, urgency Urgency) (Strategy, error) {
	strategy := SelectStrategy(y.caps)

	var err error
	switch strategy {
	case StrategySchedulerYield:
		err = y.host.SchedulerYield(ctx)
	case StrategyPostTask:
		err = y.host.SchedulerPostTask(ctx, urgency)
	case StrategyMessageChannel:
		err = y.host.MessageChannelRoundTrip(ctx)
	default:
		err = y.host.TimeoutYield(ctx)
	}
	return strategy, err
}
