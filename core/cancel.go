package core

import "github.com/emirpasic/gods/sets/hashset"

// CancellationSet holds handles that must not run. Marks are only consumed
// by the dequeue step; a mark for a task that is never dequeued stays until
// Compact is called.
//
// CancellationSet is not safe for concurrent use; the owning Scheduler serializes access.
type CancellationSet struct {
	marks *hashset.Set
}

func NewCancellationSet() *CancellationSet {
	return &CancellationSet{marks: hashset.New()}
}

// Mark records h. Marking the same handle twice is a no-op.
func (c *CancellationSet) Mark(h TaskHandle) {
	c.marks.Add(h)
}

// Consume reports whether h was marked and removes the mark.
func (c *CancellationSet) Consume(h TaskHandle) bool {
	if !c.marks.Contains(h) {
		return false
	}
	c.marks.Remove(h)
	return true
}

func (c *CancellationSet) Contains(h TaskHandle) bool {
	return c.marks.Contains(h)
}

func (c *CancellationSet) Len() int {
	return c.marks.Size()
}

// Compact drops every mark whose handle is not in live and returns how many were dropped.
func (c *CancellationSet) Compact(live map[TaskHandle]struct{}) int {
	dropped := 0
	for _, v := range c.marks.Values() {
		h := v.(TaskHandle)
		if _, ok := live[h]; !ok {
			c.marks.Remove(h)
			dropped++
		}
	}
	return dropped
}
