package core

import "time"

// TaskExecutionRecord captures a completed task execution event. Cancelled
// records describe tasks discarded at dequeue; their times are the moment of
// the discard.
type TaskExecutionRecord struct {
	Handle     TaskHandle
	Name       string
	Scheduler  string
	Priority   Priority
	StartedAt  time.Time
	FinishedAt time.Time
	Duration   time.Duration
	Failed     bool
	Cancelled  bool
	Err        string
}

// SchedulerStats represents runtime observability state for a scheduler.
type SchedulerStats struct {
	Name          string
	State         State
	Pending       [numPriorities]int
	PendingTotal  int
	CancelMarkers int
	Executed      int64
	Failed        int64
	Cancelled     int64
	Yields        int64
	ByPriority    [numPriorities]PriorityTotals
	LastTaskName  string
	LastTaskAt    time.Time
}

// ThrottleStats represents runtime observability state for an AfterYou throttle.
type ThrottleStats struct {
	Name         string
	GlobalBudget time.Duration
	Suspensions  int64
	Throttled    int64
	InputSkipped int64
}
