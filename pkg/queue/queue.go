// Package queue holds pending tasks ordered by priority, first-in first-out
// among equal priorities.
package queue

import (
	"container/heap"
	"sync"

	"github.com/entrhq/webrunner/pkg/task"
)

type item struct {
	task  *task.Task
	index int
}

// heapSlice implements heap.Interface. The highest priority sits at index 0;
// ties go to the lower sequence number.
type heapSlice []*item

func (h heapSlice) Len() int { return len(h) }

func (h heapSlice) Less(i, j int) bool {
	if h[i].task.Priority != h[j].task.Priority {
		return h[i].task.Priority > h[j].task.Priority
	}
	return h[i].task.Seq < h[j].task.Seq
}

func (h heapSlice) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *heapSlice) Push(x any) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *heapSlice) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}

// PriorityQueue is safe for concurrent use. Every operation runs under a
// single mutex, so no caller observes a partially applied change.
type PriorityQueue struct {
	mu    sync.Mutex
	items heapSlice
	byID  map[string]*item
	seq   uint64
}

// New creates an empty queue.
func New() *PriorityQueue {
	return &PriorityQueue{
		byID: make(map[string]*item),
	}
}

// Enqueue inserts t and stamps it with the next sequence number.
// Re-enqueueing a retried task therefore places it behind equal-priority
// work already waiting. It returns false if a task with the same id is
// already queued.
func (q *PriorityQueue) Enqueue(t *task.Task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.byID[t.ID]; exists {
		return false
	}

	q.seq++
	t.Seq = q.seq
	it := &item{task: t}
	heap.Push(&q.items, it)
	q.byID[t.ID] = it
	return true
}

// DequeueHighest removes and returns the highest-ordered task.
// ok is false when the queue is empty.
func (q *PriorityQueue) DequeueHighest() (t *task.Task, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, false
	}
	it := heap.Pop(&q.items).(*item)
	delete(q.byID, it.task.ID)
	return it.task, true
}

// Remove takes the task with the given id out of the queue. It is a no-op
// returning nil when the task is not queued, e.g. already dispatched.
func (q *PriorityQueue) Remove(id string) *task.Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	it, ok := q.byID[id]
	if !ok {
		return nil
	}
	heap.Remove(&q.items, it.index)
	delete(q.byID, id)
	return it.task
}

// Size returns the number of queued tasks.
func (q *PriorityQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.items)
}

// Drain empties the queue and returns its tasks in dequeue order.
func (q *PriorityQueue) Drain() []*task.Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*task.Task, 0, len(q.items))
	for len(q.items) > 0 {
		it := heap.Pop(&q.items).(*item)
		out = append(out, it.task)
	}
	q.byID = make(map[string]*item)
	return out
}
