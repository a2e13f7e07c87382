package sim

import "log"

// HookPosQueuePush marks when an item enters a queue.
var HookPosQueuePush = &HookPos{Name: "Queue Push"}

// HookPosQueuePop marks when an item leaves a queue.
var HookPosQueuePop = &HookPos{Name: "Queue Pop"}

// HookPosQueueDrop marks when a full queue turns an item away.
var HookPosQueueDrop = &HookPos{Name: "Queue Drop"}

// Queue is a bounded drop-tail FIFO. Items pushed into a full queue are
// counted and discarded.
type Queue[T any] struct {
	HookableBase

	name    string
	items   []T
	head    int
	size    int
	dropped uint64
}

// NewQueue creates a queue that holds at most capacity items.
func NewQueue[T any](name string, capacity int) *Queue[T] {
	NameMustBeValid(name)

	if capacity <= 0 {
		log.Panicf("queue %s must have a positive capacity", name)
	}

	return &Queue[T]{
		name:  name,
		items: make([]T, capacity),
	}
}

// Name returns the name of the queue.
func (q *Queue[T]) Name() string {
	return q.name
}

// Push appends the item. It returns false if the queue is full.
func (q *Queue[T]) Push(item T) bool {
	if q.size == len(q.items) {
		q.dropped++
		q.invoke(HookPosQueueDrop, item)

		return false
	}

	q.items[(q.head+q.size)%len(q.items)] = item
	q.size++
	q.invoke(HookPosQueuePush, item)

	return true
}

// Pop removes the oldest item.
func (q *Queue[T]) Pop() (T, bool) {
	var zero T
	if q.size == 0 {
		return zero, false
	}

	item := q.items[q.head]
	q.items[q.head] = zero
	q.head = (q.head + 1) % len(q.items)
	q.size--
	q.invoke(HookPosQueuePop, item)

	return item, true
}

// Peek returns the oldest item without removing it.
func (q *Queue[T]) Peek() (T, bool) {
	if q.size == 0 {
		var zero T
		return zero, false
	}

	return q.items[q.head], true
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	return q.size
}

// Capacity returns the maximum number of items.
func (q *Queue[T]) Capacity() int {
	return len(q.items)
}

// Dropped returns how many items were turned away.
func (q *Queue[T]) Dropped() uint64 {
	return q.dropped
}

// Clear removes every item and returns how many were removed.
func (q *Queue[T]) Clear() int {
	n := q.size
	clear(q.items)
	q.head = 0
	q.size = 0

	return n
}

func (q *Queue[T]) invoke(pos *HookPos, item T) {
	if q.NumHooks() == 0 {
		return
	}

	q.InvokeHook(HookCtx{
		Domain: q,
		Pos:    pos,
		Item:   item,
	})
}
