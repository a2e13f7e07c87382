package sim

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type hookPosCounter struct {
	counts map[*HookPos]int
}

func (c *hookPosCounter) Func(ctx HookCtx) {
	c.counts[ctx.Pos]++
}

var _ = Describe("Queue", func() {
	var q *Queue[int]

	BeforeEach(func() {
		q = NewQueue[int]("Queue", 2)
	})

	It("should pop in push order", func() {
		Expect(q.Capacity()).To(Equal(2))
		Expect(q.Push(1)).To(BeTrue())
		Expect(q.Push(2)).To(BeTrue())
		Expect(q.Len()).To(Equal(2))

		v, ok := q.Peek()
		Expect(ok).To(BeTrue())
		Expect(v).To(Equal(1))

		v, _ = q.Pop()
		Expect(v).To(Equal(1))
		v, _ = q.Pop()
		Expect(v).To(Equal(2))

		_, ok = q.Pop()
		Expect(ok).To(BeFalse())
		_, ok = q.Peek()
		Expect(ok).To(BeFalse())
	})

	It("should drop at the tail when full", func() {
		q.Push(1)
		q.Push(2)

		Expect(q.Push(3)).To(BeFalse())
		Expect(q.Dropped()).To(Equal(uint64(1)))

		v, _ := q.Pop()
		Expect(v).To(Equal(1))
	})

	It("should wrap around", func() {
		for i := 0; i < 10; i++ {
			Expect(q.Push(i)).To(BeTrue())
			v, ok := q.Pop()
			Expect(ok).To(BeTrue())
			Expect(v).To(Equal(i))
		}

		q.Push(10)
		q.Push(11)
		v, _ := q.Pop()
		Expect(v).To(Equal(10))
	})

	It("should clear", func() {
		q.Push(1)
		q.Push(2)

		Expect(q.Clear()).To(Equal(2))
		Expect(q.Len()).To(Equal(0))
		Expect(q.Push(3)).To(BeTrue())
	})

	It("should invoke hooks", func() {
		counter := &hookPosCounter{counts: make(map[*HookPos]int)}
		q.AcceptHook(counter)

		q.Push(1)
		q.Push(2)
		q.Push(3)
		q.Pop()

		Expect(counter.counts[HookPosQueuePush]).To(Equal(2))
		Expect(counter.counts[HookPosQueueDrop]).To(Equal(1))
		Expect(counter.counts[HookPosQueuePop]).To(Equal(1))
	})

	It("should refuse a zero capacity", func() {
		Expect(func() { NewQueue[int]("Queue", 0) }).To(Panic())
	})
})
