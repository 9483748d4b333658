package core

// taskNode is an intrusive queue entry. A queue owns every node it links;
// Shift unlinks the front node and hands it to the caller.
type taskNode struct {
	task     Task
	name     string
	priority Priority
	handle   TaskHandle
	next     *taskNode
}

// =============================================================================
// TaskQueue: singly-linked FIFO with O(1) push and shift
// =============================================================================

// TaskQueue is not safe for concurrent use; the owning Scheduler serializes access.
type TaskQueue struct {
	head   *taskNode
	tail   *taskNode
	length int
}

func NewTaskQueue() *TaskQueue {
	return &TaskQueue{}
}

func (q *TaskQueue) Push(n *taskNode) {
	n.next = nil
	if q.tail == nil {
		q.head = n
		q.tail = n
	} else {
		q.tail.next = n
		q.tail = n
	}
	q.length++
}

// Shift removes and returns the front node, or false when the queue is empty.
func (q *TaskQueue) Shift() (*taskNode, bool) {
	n := q.head
	if n == nil {
		return nil, false
	}
	q.head = n.next
	if q.head == nil {
		q.tail = nil
	}
	q.length--

	// Release the link so the node does not pin its successor
	n.next = nil
	return n, true
}

// Peek returns the front node without removing it.
func (q *TaskQueue) Peek() (*taskNode, bool) {
	if q.head == nil {
		return nil, false
	}
	return q.head, true
}

func (q *TaskQueue) Len() int {
	return q.length
}

func (q *TaskQueue) IsEmpty() bool {
	return q.length == 0
}

// Handles returns the handles currently queued, front first.
func (q *TaskQueue) Handles() []TaskHandle {
	out := make([]TaskHandle, 0, q.length)
	for n := q.head; n != nil; n = n.next {
		out = append(out, n.handle)
	}
	return out
}

// Clear drops every node.
func (q *TaskQueue) Clear() {
	for n := q.head; n != nil; {
		next := n.next
		n.next = nil
		n = next
	}
	q.head = nil
	q.tail = nil
	q.length = 0
}

// =============================================================================
// QueueBank: one TaskQueue per priority, drained in strict precedence
// =============================================================================

type QueueBank struct {
	queues [numPriorities]*TaskQueue
}

func NewQueueBank() *QueueBank {
	b := &QueueBank{}
	for i := range b.queues {
		b.queues[i] = NewTaskQueue()
	}
	return b
}

// Queue returns the queue for priority p.
func (b *QueueBank) Queue(p Priority) *TaskQueue {
	return b.queues[p]
}

func (b *QueueBank) Push(n *taskNode) {
	b.queues[n.priority].Push(n)
}

// Shift removes the front node of the highest-priority non-empty queue.
func (b *QueueBank) Shift() (*taskNode, bool) {
	for _, q := range b.queues {
		if !q.IsEmpty() {
			return q.Shift()
		}
	}
	return nil, false
}

func (b *QueueBank) HasPending() bool {
	for _, q := range b.queues {
		if !q.IsEmpty() {
			return true
		}
	}
	return false
}

func (b *QueueBank) Len(p Priority) int {
	return b.queues[p].Len()
}

func (b *QueueBank) Total() int {
	total := 0
	for _, q := range b.queues {
		total += q.Len()
	}
	return total
}
