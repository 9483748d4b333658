package afteryou

import "github.com/Swind/go-after-you/core"

// Re-export commonly used types from core package for convenience.
// This allows users to import only the afteryou package for most use cases.

// Task is the unit of work
type Task = core.Task

// Result is what a task returns: Immediate or Pending
type Result = core.Result

// Future is a single-assignment completion returned through Pending
type Future = core.Future

// TaskHandle identifies a queued task for cancellation
type TaskHandle = core.TaskHandle

// Priority defines the four queue levels
type Priority = core.Priority

// Urgency is the tag understood by the host's deferred-post primitive
type Urgency = core.Urgency

// Capabilities describes which suspension primitives the host provides
type Capabilities = core.Capabilities

// YieldOption configures a single AfterYou call
type YieldOption = core.YieldOption

// Priority constants
const (
	PriorityHigh   Priority = core.PriorityHigh
	PriorityNormal Priority = core.PriorityNormal
	PriorityLow    Priority = core.PriorityLow
	PriorityIdle   Priority = core.PriorityIdle
)

// Urgency constants
const (
	UrgencyUserBlocking Urgency = core.UrgencyUserBlocking
	UrgencyUserVisible  Urgency = core.UrgencyUserVisible
	UrgencyBackground   Urgency = core.UrgencyBackground
)

// Convenience functions for building tasks and results
var (
	Sync      = core.Sync
	Immediate = core.Immediate
	Pending   = core.Pending
	NewFuture = core.NewFuture
	Async     = core.Async
)

// AfterYou options
var (
	WithForce                = core.WithForce
	WithUrgency              = core.WithUrgency
	WithBudget               = core.WithBudget
	WithoutInputPendingCheck = core.WithoutInputPendingCheck
)
