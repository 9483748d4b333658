package core

import (
	"context"
	"errors"
	"testing"
)

// TestSelectStrategy verifies the yield chain order
// Given: Capability sets with successively fewer primitives
// When: SelectStrategy is called
// Then: The highest available tier is chosen and timeout is the floor
func TestSelectStrategy(t *testing.T) {
	tests := []struct {
		caps Capabilities
		want Strategy
	}{
		{Capabilities{SchedulerYield: true, PostTask: true, MessageChannel: true}, StrategySchedulerYield},
		{Capabilities{PostTask: true, MessageChannel: true}, StrategyPostTask},
		{Capabilities{MessageChannel: true}, StrategyMessageChannel},
		{Capabilities{}, StrategyTimeout},
		{Capabilities{InputPending: true, IsolatedExecution: true}, StrategyTimeout},
	}

	for _, tt := range tests {
		if got := SelectStrategy(tt.caps); got != tt.want {
			t.Errorf("SelectStrategy(%s) = %s, want %s", tt.caps, got, tt.want)
		}
		if got := tt.caps.Tier(); got != tt.want {
			t.Errorf("Tier(%s) = %s, want %s", tt.caps, got, tt.want)
		}
	}
}

// TestYielder_PassesUrgency verifies post-task tagging
// Given: A host where post-task is the best primitive
// When: Yield is called with background urgency
// Then: The host receives the background tag
func TestYielder_PassesUrgency(t *testing.T) {
	// Arrange
	host := newFakeHost()
	y := NewYielder(host, Capabilities{PostTask: true})

	// Act
	strategy, err := y.Yield(context.Background(), UrgencyBackground)

	// Assert
	if err != nil || strategy != StrategyPostTask {
		t.Fatalf("Yield() = (%s, %v), want (post_task, nil)", strategy, err)
	}
	if len(host.urgencies) != 1 || host.urgencies[0] != UrgencyBackground {
		t.Errorf("urgencies = %v, want [background]", host.urgencies)
	}
}

// TestYielder_PropagatesHostError verifies primitive failures surface
// Given: A host whose primitives fail
// When: Yield is called
// Then: The error is returned along with the attempted strategy
func TestYielder_PropagatesHostError(t *testing.T) {
	// Arrange
	host := newFakeHost()
	host.yieldErr = ErrUnsupported
	y := NewYielder(host, Capabilities{MessageChannel: true})

	// Act
	strategy, err := y.Yield(context.Background(), UrgencyUserVisible)

	// Assert
	if !errors.Is(err, ErrUnsupported) {
		t.Errorf("Yield() error = %v, want ErrUnsupported", err)
	}
	if strategy != StrategyMessageChannel {
		t.Errorf("Yield() strategy = %s, want message_channel", strategy)
	}
}

func TestCapabilitiesString(t *testing.T) {
	caps := Capabilities{PostTask: true, SelfDriving: true}
	if got, want := caps.String(), "scheduler.postTask,timeout,self-driving"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
