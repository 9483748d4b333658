package core

import (
	"reflect"
	"runtime"
	"sync"
)

const defaultTaskHistoryCapacity = 100

// PriorityTotals counts task outcomes at one priority level.
type PriorityTotals struct {
	Executed  int64
	Failed    int64
	Cancelled int64
}

// taskLedger is the scheduler's record of task outcomes: a bounded window of
// recent records addressable by handle, plus per-priority totals that are
// never evicted.
type taskLedger struct {
	mu      sync.Mutex
	window  []TaskExecutionRecord
	next    int
	filled  int
	byTask  map[TaskHandle]int
	totals  [numPriorities]PriorityTotals
	lastRun TaskExecutionRecord
	ran     bool
}

func newTaskLedger(capacity int) *taskLedger {
	if capacity < 1 {
		capacity = defaultTaskHistoryCapacity
	}
	return &taskLedger{
		window: make([]TaskExecutionRecord, capacity),
		byTask: make(map[TaskHandle]int, capacity),
	}
}

// finished books a task that ran, successfully or not.
func (l *taskLedger) finished(rec TaskExecutionRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()

	t := &l.totals[rec.Priority]
	t.Executed++
	if rec.Failed {
		t.Failed++
	}
	l.lastRun, l.ran = rec, true
	l.insertLocked(rec)
}

// discarded books a task dropped at dequeue because it was cancelled.
func (l *taskLedger) discarded(node *taskNode, at TaskExecutionRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.totals[node.priority].Cancelled++
	at.Handle = node.handle
	at.Name = taskName(node.task, node.name)
	at.Priority = node.priority
	at.Cancelled = true
	l.insertLocked(at)
}

// failedLate books a failure reported after the task's record was written,
// as happens for pending results the loop did not wait for.
func (l *taskLedger) failedLate(h TaskHandle, p Priority, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.totals[p].Failed++
	if slot, ok := l.byTask[h]; ok {
		l.window[slot].Failed = true
		l.window[slot].Err = err.Error()
	}
	if l.ran && l.lastRun.Handle == h {
		l.lastRun.Failed = true
		l.lastRun.Err = err.Error()
	}
}

func (l *taskLedger) insertLocked(rec TaskExecutionRecord) {
	if old := l.window[l.next]; l.filled == len(l.window) {
		delete(l.byTask, old.Handle)
	}
	l.window[l.next] = rec
	l.byTask[rec.Handle] = l.next
	l.next = (l.next + 1) % len(l.window)
	if l.filled < len(l.window) {
		l.filled++
	}
}

// lookup returns the record of handle h while it is still in the window.
func (l *taskLedger) lookup(h TaskHandle) (TaskExecutionRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	slot, ok := l.byTask[h]
	if !ok {
		return TaskExecutionRecord{}, false
	}
	return l.window[slot], true
}

// recent returns up to limit records, newest first. limit <= 0 means all.
func (l *taskLedger) recent(limit int) []TaskExecutionRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	if limit <= 0 || limit > l.filled {
		limit = l.filled
	}
	if limit == 0 {
		return nil
	}
	out := make([]TaskExecutionRecord, limit)
	for i := range out {
		out[i] = l.window[(l.next-1-i+len(l.window))%len(l.window)]
	}
	return out
}

// fill copies the totals and the last executed task into stats.
func (l *taskLedger) fill(stats *SchedulerStats) {
	l.mu.Lock()
	defer l.mu.Unlock()

	stats.ByPriority = l.totals
	for _, t := range l.totals {
		stats.Executed += t.Executed
		stats.Failed += t.Failed
		stats.Cancelled += t.Cancelled
	}
	if l.ran {
		stats.LastTaskName = l.lastRun.Name
		stats.LastTaskAt = l.lastRun.FinishedAt
	}
}

// taskName prefers the name given at enqueue and falls back to the
// function's symbol.
func taskName(task Task, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if task != nil {
		if fn := runtime.FuncForPC(reflect.ValueOf(task).Pointer()); fn != nil && fn.Name() != "" {
			return fn.Name()
		}
	}
	return "anonymous"
}
