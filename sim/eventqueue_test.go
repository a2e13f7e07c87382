package sim

import (
	"math/rand"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"
)

func queueBehaviors(newQueue func() EventQueue) {
	var (
		mockCtrl *gomock.Controller
		queue    EventQueue
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		queue = newQueue()
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	mockEventAt := func(t VTimeInSec) *MockEvent {
		event := NewMockEvent(mockCtrl)
		event.EXPECT().Time().Return(t).AnyTimes()
		return event
	}

	It("should pop in order", func() {
		numEvents := 100
		for i := 0; i < numEvents; i++ {
			queue.Push(mockEventAt(VTimeInSec(rand.Float64() / 1e8)))
		}

		now := VTimeInSec(-1)
		for i := 0; i < numEvents; i++ {
			event := queue.Pop()
			Expect(event.Time() >= now).To(BeTrue())
			now = event.Time()
		}
		Expect(queue.Len()).To(Equal(0))
	})

	It("should pop same-time events in insertion order", func() {
		events := make([]Event, 10)
		for i := range events {
			events[i] = mockEventAt(1.0)
		}

		late := mockEventAt(2.0)
		queue.Push(late)
		for _, e := range events {
			queue.Push(e)
		}

		for _, e := range events {
			Expect(queue.Pop()).To(BeIdenticalTo(e))
		}
		Expect(queue.Pop()).To(BeIdenticalTo(late))
	})

	It("should return nil when empty", func() {
		Expect(queue.Pop()).To(BeNil())
		Expect(queue.Peek()).To(BeNil())
	})

	It("should peek without removing", func() {
		evt := mockEventAt(3.0)
		queue.Push(mockEventAt(4.0))
		queue.Push(evt)

		Expect(queue.Peek()).To(BeIdenticalTo(evt))
		Expect(queue.Len()).To(Equal(2))
	})

	It("should never pop a cancelled event", func() {
		evt1 := mockEventAt(1.0)
		evt2 := mockEventAt(2.0)
		evt3 := mockEventAt(3.0)

		queue.Push(evt1)
		h2 := queue.Push(evt2)
		queue.Push(evt3)

		Expect(h2.Pending()).To(BeTrue())
		Expect(queue.Cancel(h2)).To(BeTrue())
		Expect(h2.Cancelled()).To(BeTrue())
		Expect(h2.Pending()).To(BeFalse())
		Expect(queue.Cancel(h2)).To(BeFalse())
		Expect(queue.Len()).To(Equal(2))

		Expect(queue.Pop()).To(BeIdenticalTo(evt1))
		Expect(queue.Pop()).To(BeIdenticalTo(evt3))
		Expect(queue.Pop()).To(BeNil())
	})

	It("should not cancel an event that has been popped", func() {
		h := queue.Push(mockEventAt(1.0))
		queue.Pop()

		Expect(queue.Cancel(h)).To(BeFalse())
		Expect(h.Cancelled()).To(BeFalse())
	})

	It("should keep the order after random cancellations", func() {
		handles := make([]*EventHandle, 0, 200)
		for i := 0; i < 200; i++ {
			handles = append(handles,
				queue.Push(mockEventAt(VTimeInSec(rand.Intn(20)))))
		}

		cancelled := map[Event]bool{}
		for i := 0; i < 200; i += 3 {
			Expect(queue.Cancel(handles[i])).To(BeTrue())
			cancelled[handles[i].Event()] = true
		}

		now := VTimeInSec(-1)
		for queue.Len() > 0 {
			evt := queue.Pop()
			Expect(cancelled[evt]).To(BeFalse())
			Expect(evt.Time() >= now).To(BeTrue())
			now = evt.Time()
		}
	})

	It("should clear all events", func() {
		h := queue.Push(mockEventAt(1.0))
		queue.Push(mockEventAt(2.0))

		Expect(queue.Clear()).To(Equal(2))
		Expect(queue.Len()).To(Equal(0))
		Expect(h.Cancelled()).To(BeTrue())
	})
}

var _ = Describe("EventQueueImpl", func() {
	queueBehaviors(func() EventQueue { return NewEventQueue() })
})

var _ = Describe("Insertion Queue", func() {
	queueBehaviors(func() EventQueue { return NewInsertionQueue() })
})
