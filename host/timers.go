package host

import (
	"time"

	"github.com/emirpasic/gods/queues/priorityqueue"
	"github.com/emirpasic/gods/utils"
)

// TimerID identifies a timer created with SetTimeout.
type TimerID uint64

type timer struct {
	id       TimerID
	when     time.Time
	fn       func()
	canceled bool
}

// byDeadline orders timers by deadline, then by creation order.
func byDeadline(a, b interface{}) int {
	ta, tb := a.(*timer), b.(*timer)
	switch {
	case ta.when.Before(tb.when):
		return -1
	case tb.when.Before(ta.when):
		return 1
	default:
		return utils.UInt64Comparator(uint64(ta.id), uint64(tb.id))
	}
}

// timerQueue is the loop's timer heap. It is guarded by Loop.mu.
type timerQueue struct {
	pq     *priorityqueue.Queue
	byID   map[TimerID]*timer
	lastID TimerID
}

func newTimerQueue() *timerQueue {
	return &timerQueue{
		pq:   priorityqueue.NewWith(byDeadline),
		byID: make(map[TimerID]*timer),
	}
}

func (q *timerQueue) Add(when time.Time, fn func()) TimerID {
	q.lastID++
	t := &timer{id: q.lastID, when: when, fn: fn}
	q.pq.Enqueue(t)
	q.byID[t.id] = t
	return t.id
}

// Cancel marks the timer; it is discarded when it reaches the front.
func (q *timerQueue) Cancel(id TimerID) bool {
	t, ok := q.byID[id]
	if !ok {
		return false
	}
	t.canceled = true
	delete(q.byID, id)
	return true
}

// PopDue removes the earliest live timer if its deadline has passed.
func (q *timerQueue) PopDue(now time.Time) (func(), bool) {
	q.dropCanceled()
	v, ok := q.pq.Peek()
	if !ok {
		return nil, false
	}
	t := v.(*timer)
	if t.when.After(now) {
		return nil, false
	}
	q.pq.Dequeue()
	delete(q.byID, t.id)
	return t.fn, true
}

// NextDeadline returns the earliest live deadline.
func (q *timerQueue) NextDeadline() (time.Time, bool) {
	q.dropCanceled()
	v, ok := q.pq.Peek()
	if !ok {
		return time.Time{}, false
	}
	return v.(*timer).when, true
}

func (q *timerQueue) Len() int {
	return len(q.byID)
}

func (q *timerQueue) Clear() {
	q.pq.Clear()
	q.byID = make(map[TimerID]*timer)
}

func (q *timerQueue) dropCanceled() {
	for {
		v, ok := q.pq.Peek()
		if !ok || !v.(*timer).canceled {
			return
		}
		q.pq.Dequeue()
	}
}

// SetTimeout runs fn on the loop once delay has elapsed. Delays below the
// loop's minimum are clamped up to it.
func (l *Loop) SetTimeout(fn func(), delay time.Duration) TimerID {
	if delay < l.opts.MinTimerDelay {
		delay = l.opts.MinTimerDelay
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return 0
	}
	id := l.timers.Add(time.Now().Add(delay), fn)
	l.mu.Unlock()

	l.signal()
	return id
}

// ClearTimeout cancels a timer that has not fired. It reports whether one was cancelled.
func (l *Loop) ClearTimeout(id TimerID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.timers.Cancel(id)
}
