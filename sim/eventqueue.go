package sim

import (
	"container/heap"
	"container/list"
	"sync"
)

// An EventHandle refers to an event that has been pushed into an EventQueue.
// It is the only way to cancel a scheduled event.
type EventHandle struct {
	evt       Event
	seq       uint64
	index     int
	elem      *list.Element
	cancelled bool
}

// Event returns the event that the handle refers to.
func (h *EventHandle) Event() Event {
	return h.evt
}

// Cancelled returns true if the event was cancelled before it was dispatched.
func (h *EventHandle) Cancelled() bool {
	return h.cancelled
}

// Pending returns true if the event is still waiting in a queue.
func (h *EventHandle) Pending() bool {
	return h.index >= 0 || h.elem != nil
}

// EventQueue are a queue of event ordered by the time of events. Events that
// happen at the same time are popped in the order that they are pushed.
type EventQueue interface {
	Push(evt Event) *EventHandle
	Cancel(h *EventHandle) bool
	Pop() Event
	Peek() Event
	Len() int

	// Clear drops all the events and returns how many were dropped.
	Clear() int
}

// EventQueueImpl provides a thread safe event queue
type EventQueueImpl struct {
	sync.Mutex
	events  eventHeap
	nextSeq uint64
}

// NewEventQueue creates and returns a newly created EventQueue
func NewEventQueue() *EventQueueImpl {
	q := new(EventQueueImpl)
	q.events = make([]*EventHandle, 0)
	heap.Init(&q.events)
	return q
}

// Push adds an event to the event queue
func (q *EventQueueImpl) Push(evt Event) *EventHandle {
	q.Lock()
	h := &EventHandle{evt: evt, seq: q.nextSeq}
	q.nextSeq++
	heap.Push(&q.events, h)
	q.Unlock()
	return h
}

// Cancel removes the event from the queue. It returns false if the event has
// already been popped or cancelled.
func (q *EventQueueImpl) Cancel(h *EventHandle) bool {
	q.Lock()
	defer q.Unlock()

	if h == nil || h.cancelled || h.index < 0 || h.index >= len(q.events) ||
		q.events[h.index] != h {
		return false
	}

	heap.Remove(&q.events, h.index)
	h.cancelled = true
	return true
}

// Pop returns the next earliest event. It returns nil if the queue is empty.
func (q *EventQueueImpl) Pop() Event {
	q.Lock()
	defer q.Unlock()

	if len(q.events) == 0 {
		return nil
	}

	h := heap.Pop(&q.events).(*EventHandle)
	return h.evt
}

// Len returns the number of event in the queue
func (q *EventQueueImpl) Len() int {
	q.Lock()
	l := q.events.Len()
	q.Unlock()
	return l
}

// Peek returns the event in front of the queue without removing it from the
// queue
func (q *EventQueueImpl) Peek() Event {
	q.Lock()
	defer q.Unlock()

	if len(q.events) == 0 {
		return nil
	}

	return q.events[0].evt
}

// Clear drops all the events in the queue.
func (q *EventQueueImpl) Clear() int {
	q.Lock()
	defer q.Unlock()

	n := len(q.events)
	for _, h := range q.events {
		h.index = -1
		h.cancelled = true
	}
	q.events = q.events[:0]

	return n
}

type eventHeap []*EventHandle

// Len returns the length of the event queue
func (h eventHeap) Len() int {
	return len(h)
}

// Less determines the order between two events. Less returns true if the i-th
// event happens before the j-th event.
func (h eventHeap) Less(i, j int) bool {
	ti, tj := h[i].evt.Time(), h[j].evt.Time()
	if ti != tj {
		return ti < tj
	}

	return h[i].seq < h[j].seq
}

// Swap changes the position of two events in the event queue
func (h eventHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

// Push adds an event into the event queue
func (h *eventHeap) Push(x interface{}) {
	handle := x.(*EventHandle)
	handle.index = len(*h)
	*h = append(*h, handle)
}

// Pop removes and returns the next event to happen
func (h *eventHeap) Pop() interface{} {
	old := *h
	n := len(old)
	handle := old[n-1]
	old[n-1] = nil
	handle.index = -1
	*h = old[0 : n-1]
	return handle
}

// InsertionQueue is a queue that is based on insertion sort
type InsertionQueue struct {
	lock    sync.RWMutex
	l       *list.List
	nextSeq uint64
}

// NewInsertionQueue returns a new InsertionQueue
func NewInsertionQueue() *InsertionQueue {
	q := new(InsertionQueue)
	q.l = list.New()
	return q
}

// Push add an event to the event queue
func (q *InsertionQueue) Push(evt Event) *EventHandle {
	q.lock.Lock()
	defer q.lock.Unlock()

	h := &EventHandle{evt: evt, seq: q.nextSeq, index: -1}
	q.nextSeq++

	var ele *list.Element
	for ele = q.l.Back(); ele != nil; ele = ele.Prev() {
		if ele.Value.(*EventHandle).evt.Time() <= evt.Time() {
			break
		}
	}

	if ele != nil {
		h.elem = q.l.InsertAfter(h, ele)
	} else {
		h.elem = q.l.PushFront(h)
	}

	return h
}

// Cancel removes the event from the queue.
func (q *InsertionQueue) Cancel(h *EventHandle) bool {
	q.lock.Lock()
	defer q.lock.Unlock()

	if h == nil || h.cancelled || h.elem == nil {
		return false
	}

	q.l.Remove(h.elem)
	h.elem = nil
	h.cancelled = true
	return true
}

// Pop returns the event with the smallest time, and removes it from the queue
func (q *InsertionQueue) Pop() Event {
	q.lock.Lock()
	defer q.lock.Unlock()

	front := q.l.Front()
	if front == nil {
		return nil
	}

	h := q.l.Remove(front).(*EventHandle)
	h.elem = nil
	return h.evt
}

// Len return the number of events in the queue
func (q *InsertionQueue) Len() int {
	q.lock.RLock()
	l := q.l.Len()
	q.lock.RUnlock()
	return l
}

// Peek returns the event at the front of the queue without removing it from
// the queue.
func (q *InsertionQueue) Peek() Event {
	q.lock.RLock()
	defer q.lock.RUnlock()

	front := q.l.Front()
	if front == nil {
		return nil
	}

	return front.Value.(*EventHandle).evt
}

// Clear drops all the events in the queue.
func (q *InsertionQueue) Clear() int {
	q.lock.Lock()
	defer q.lock.Unlock()

	n := q.l.Len()
	for ele := q.l.Front(); ele != nil; ele = ele.Next() {
		h := ele.Value.(*EventHandle)
		h.elem = nil
		h.cancelled = true
	}
	q.l.Init()

	return n
}
