package sim

import (
	"errors"
	"math"
	"math/rand"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"
)

type timeRecorder struct {
	times []VTimeInSec
}

func (r *timeRecorder) Func(ctx HookCtx) {
	if ctx.Pos != HookPosBeforeEvent {
		return
	}

	r.times = append(r.times, ctx.Domain.(TimeTeller).CurrentTime())
}

var _ = Describe("SerialEngine", func() {
	var (
		mockCtrl *gomock.Controller
		engine   *SerialEngine
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		engine = NewSerialEngine()
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	mockEvent := func(t VTimeInSec, h Handler) *MockEvent {
		evt := NewMockEvent(mockCtrl)
		evt.EXPECT().Time().Return(t).AnyTimes()
		evt.EXPECT().Handler().Return(h).AnyTimes()
		return evt
	}

	It("should schedule events", func() {
		handler1 := NewMockHandler(mockCtrl)
		handler2 := NewMockHandler(mockCtrl)
		evt1 := mockEvent(4.0, handler1)
		evt2 := mockEvent(2.0, handler2)
		evt3 := mockEvent(3.0, handler1)
		evt4 := mockEvent(5.0, handler1)

		handleEvt2 := handler2.EXPECT().Handle(evt2).Do(func(e Event) {
			_, err := engine.Schedule(evt3)
			Expect(err).NotTo(HaveOccurred())
			_, err = engine.Schedule(evt4)
			Expect(err).NotTo(HaveOccurred())
		})
		handleEvt3 := handler1.EXPECT().Handle(evt3).After(handleEvt2)
		handleEvt1 := handler1.EXPECT().Handle(evt1).After(handleEvt3)
		handler1.EXPECT().Handle(evt4).After(handleEvt1)

		_, _ = engine.Schedule(evt1)
		_, _ = engine.Schedule(evt2)

		Expect(engine.Run()).To(Succeed())
		Expect(engine.CurrentTime()).To(Equal(VTimeInSec(5.0)))
	})

	It("should dispatch same-time events in scheduling order", func() {
		handler := NewMockHandler(mockCtrl)
		var calls []*gomock.Call
		for i := 0; i < 5; i++ {
			evt := mockEvent(1.0, handler)
			call := handler.EXPECT().Handle(evt)
			if len(calls) > 0 {
				call.After(calls[len(calls)-1])
			}
			calls = append(calls, call)
			_, _ = engine.Schedule(evt)
		}

		Expect(engine.Run()).To(Succeed())
	})

	It("should reject events in the past", func() {
		handler := NewMockHandler(mockCtrl)
		evt1 := mockEvent(2.0, handler)
		evtPast := mockEvent(1.0, handler)

		handler.EXPECT().Handle(evt1).DoAndReturn(func(e Event) error {
			_, err := engine.Schedule(evtPast)

			var timeErr *InvalidTimeError
			Expect(errors.As(err, &timeErr)).To(BeTrue())
			Expect(timeErr.EventTime).To(Equal(VTimeInSec(1.0)))
			Expect(timeErr.CurrentTime).To(Equal(VTimeInSec(2.0)))

			return nil
		})

		_, _ = engine.Schedule(evt1)
		Expect(engine.Run()).To(Succeed())
	})

	It("should reject NaN times", func() {
		handler := NewMockHandler(mockCtrl)
		_, err := engine.Schedule(mockEvent(VTimeInSec(math.NaN()), handler))

		Expect(err).To(BeAssignableToTypeOf(&InvalidTimeError{}))
	})

	It("should never dispatch a cancelled event", func() {
		handler := NewMockHandler(mockCtrl)
		evt1 := mockEvent(1.0, handler)
		evt2 := mockEvent(2.0, handler)
		evt3 := mockEvent(3.0, handler)

		var h3 *EventHandle
		handler.EXPECT().Handle(evt1).Do(func(e Event) {
			Expect(engine.Cancel(h3)).To(BeTrue())
		})
		handler.EXPECT().Handle(evt2)

		_, _ = engine.Schedule(evt1)
		_, _ = engine.Schedule(evt2)
		h3, _ = engine.Schedule(evt3)

		Expect(engine.Run()).To(Succeed())
		Expect(h3.Cancelled()).To(BeTrue())
	})

	It("should keep the clock non-decreasing", func() {
		recorder := &timeRecorder{}
		engine.AcceptHook(recorder)

		handler := NewMockHandler(mockCtrl)
		handler.EXPECT().Handle(gomock.Any()).DoAndReturn(func(e Event) error {
			if rand.Intn(2) == 0 {
				delay := VTimeInSec(rand.Intn(3))
				_, err := engine.Schedule(mockEvent(e.Time()+delay, handler))
				return err
			}
			return nil
		}).AnyTimes()

		for i := 0; i < 500; i++ {
			_, _ = engine.Schedule(mockEvent(VTimeInSec(rand.Intn(100)), handler))
		}

		Expect(engine.Run()).To(Succeed())
		Expect(len(recorder.times)).To(BeNumerically(">=", 500))
		for i := 1; i < len(recorder.times); i++ {
			Expect(recorder.times[i]).To(BeNumerically(">=", recorder.times[i-1]))
		}
	})

	It("should stop at the stop time", func() {
		handler := NewMockHandler(mockCtrl)
		evt1 := mockEvent(1.0, handler)
		evt2 := mockEvent(5.0, handler)
		evt3 := mockEvent(10.0, handler)

		handler.EXPECT().Handle(evt1)
		handler.EXPECT().Handle(evt2)

		_, _ = engine.Schedule(evt1)
		_, _ = engine.Schedule(evt2)
		_, _ = engine.Schedule(evt3)
		Expect(engine.StopAt(5.0)).To(Succeed())

		Expect(engine.Run()).To(Succeed())
		Expect(engine.CurrentTime()).To(Equal(VTimeInSec(5.0)))
		Expect(engine.PendingEvents()).To(Equal(1))
	})

	It("should move the clock to the stop time", func() {
		handler := NewMockHandler(mockCtrl)
		_, _ = engine.Schedule(mockEvent(20.0, handler))
		Expect(engine.StopAt(10.0)).To(Succeed())

		Expect(engine.Run()).To(Succeed())
		Expect(engine.CurrentTime()).To(Equal(VTimeInSec(10.0)))
	})

	It("should halt after the current event when stopped", func() {
		handler := NewMockHandler(mockCtrl)
		evt1 := mockEvent(1.0, handler)
		evt2 := mockEvent(1.0, handler)
		evt3 := mockEvent(2.0, handler)

		handler.EXPECT().Handle(evt1).Do(func(e Event) {
			engine.Stop()
		})

		_, _ = engine.Schedule(evt1)
		_, _ = engine.Schedule(evt2)
		_, _ = engine.Schedule(evt3)

		Expect(engine.Run()).To(Succeed())
		Expect(engine.CurrentTime()).To(Equal(VTimeInSec(1.0)))
		Expect(engine.PendingEvents()).To(Equal(2))

		handler.EXPECT().Handle(evt2)
		handler.EXPECT().Handle(evt3)
		Expect(engine.Run()).To(Succeed())
	})

	It("should ignore a stop requested before running", func() {
		handler := NewMockHandler(mockCtrl)
		evt := mockEvent(1.0, handler)
		handler.EXPECT().Handle(evt)

		_, _ = engine.Schedule(evt)
		engine.Stop()

		Expect(engine.Run()).To(Succeed())
		Expect(engine.PendingEvents()).To(Equal(0))
	})

	It("should return handler errors", func() {
		handler := NewMockHandler(mockCtrl)
		evt1 := mockEvent(1.0, handler)
		evt2 := mockEvent(2.0, handler)
		boom := errors.New("boom")

		handler.EXPECT().Handle(evt1).Return(boom)

		_, _ = engine.Schedule(evt1)
		_, _ = engine.Schedule(evt2)

		err := engine.Run()
		Expect(err).To(MatchError(boom))
		Expect(engine.PendingEvents()).To(Equal(1))
	})

	It("should release events on destroy", func() {
		handler := NewMockHandler(mockCtrl)
		h, _ := engine.Schedule(mockEvent(1.0, handler))
		_, _ = engine.Schedule(mockEvent(2.0, handler))

		Expect(engine.Destroy()).To(Equal(2))
		Expect(h.Cancelled()).To(BeTrue())
		Expect(func() {
			_, _ = engine.Schedule(mockEvent(3.0, handler))
		}).To(Panic())
	})

	It("should run with an insertion queue", func() {
		engine = NewSerialEngineWithQueue(NewInsertionQueue())
		handler := NewMockHandler(mockCtrl)
		evt1 := mockEvent(2.0, handler)
		evt2 := mockEvent(1.0, handler)

		handleEvt2 := handler.EXPECT().Handle(evt2)
		handler.EXPECT().Handle(evt1).After(handleEvt2)

		_, _ = engine.Schedule(evt1)
		_, _ = engine.Schedule(evt2)

		Expect(engine.Run()).To(Succeed())
	})

	It("should call simulation end handlers", func() {
		var endTime VTimeInSec = -1
		engine.RegisterSimulationEndHandler(endFunc(func(now VTimeInSec) {
			endTime = now
		}))

		_, _ = ScheduleCallback(engine, 3.0, func(now VTimeInSec) error {
			return nil
		})
		Expect(engine.Run()).To(Succeed())
		engine.Finished()

		Expect(endTime).To(Equal(VTimeInSec(3.0)))
	})
})

type endFunc func(now VTimeInSec)

func (f endFunc) Handle(now VTimeInSec) { f(now) }
