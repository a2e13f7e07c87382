package sim

import (
	"fmt"
	"log"
	"reflect"
	"sync"
	"sync/atomic"
)

// A SerialEngine is an Engine that always run events one after another.
type SerialEngine struct {
	HookableBase

	timeLock sync.RWMutex
	time     VTimeInSec
	queue    EventQueue

	stopTime      VTimeInSec
	hasStopTime   bool
	stopRequested atomic.Bool
	destroyed     atomic.Bool

	isPaused     bool
	isPausedLock sync.Mutex
	pauseLock    sync.Mutex

	singleRunLock sync.Mutex

	simulationEndHandlers []SimulationEndHandler
}

// NewSerialEngine creates a SerialEngine
func NewSerialEngine() *SerialEngine {
	return NewSerialEngineWithQueue(NewEventQueue())
}

// NewSerialEngineWithQueue creates a SerialEngine that keeps its pending
// events in the given queue.
func NewSerialEngineWithQueue(q EventQueue) *SerialEngine {
	e := new(SerialEngine)
	e.queue = q
	return e
}

// Schedule register an event to be happen in the future
func (e *SerialEngine) Schedule(evt Event) (*EventHandle, error) {
	if e.destroyed.Load() {
		log.Panic("scheduling an event on a destroyed engine")
	}

	now := e.readNow()
	if !timeIsValid(evt.Time()) || evt.Time() < now {
		return nil, &InvalidTimeError{EventTime: evt.Time(), CurrentTime: now}
	}

	return e.queue.Push(evt), nil
}

// Cancel removes a scheduled event so that it is never dispatched.
func (e *SerialEngine) Cancel(h *EventHandle) bool {
	return e.queue.Cancel(h)
}

func (e *SerialEngine) readNow() VTimeInSec {
	e.timeLock.RLock()
	t := e.time
	e.timeLock.RUnlock()
	return t
}

func (e *SerialEngine) writeNow(t VTimeInSec) {
	e.timeLock.Lock()
	e.time = t
	e.timeLock.Unlock()
}

// StopAt sets the stop time. Events scheduled later than the stop time stay
// in the queue and are not dispatched.
func (e *SerialEngine) StopAt(t VTimeInSec) error {
	now := e.readNow()
	if !timeIsValid(t) || t < now {
		return &InvalidTimeError{EventTime: t, CurrentTime: now}
	}

	e.stopTime = t
	e.hasStopTime = true

	return nil
}

// Stop requests the engine to return from Run once the event that is being
// handled completes. A request made while the engine is not running is
// discarded by the next Run.
func (e *SerialEngine) Stop() {
	e.stopRequested.Store(true)
}

// Run processes all the events scheduled in the SerialEngine
func (e *SerialEngine) Run() error {
	e.singleRunLock.Lock()
	defer e.singleRunLock.Unlock()

	e.stopRequested.Store(false)

	for {
		if e.stopRequested.CompareAndSwap(true, false) {
			return nil
		}

		e.pauseLock.Lock()

		evt := e.queue.Peek()
		if evt == nil {
			e.pauseLock.Unlock()
			return nil
		}

		if e.hasStopTime && evt.Time() > e.stopTime {
			e.writeNow(e.stopTime)
			e.pauseLock.Unlock()
			return nil
		}

		e.queue.Pop()

		now := e.readNow()
		if evt.Time() < now {
			log.Panicf(
				"cannot run event in the past, evt %s @ %.10f, now %.10f",
				reflect.TypeOf(evt), evt.Time(), now,
			)
		}
		e.writeNow(evt.Time())

		hookCtx := HookCtx{
			Domain: e,
			Pos:    HookPosBeforeEvent,
			Item:   evt,
		}
		e.InvokeHook(hookCtx)

		handler := evt.Handler()
		err := handler.Handle(evt)

		hookCtx.Pos = HookPosAfterEvent
		hookCtx.Detail = err
		e.InvokeHook(hookCtx)

		e.pauseLock.Unlock()

		if err != nil {
			return fmt.Errorf("handling %s at %.10f: %w",
				reflect.TypeOf(evt), evt.Time(), err)
		}
	}
}

// Pause prevents the SerialEngine to trigger more events.
func (e *SerialEngine) Pause() {
	e.isPausedLock.Lock()
	defer e.isPausedLock.Unlock()

	if e.isPaused {
		return
	}

	e.pauseLock.Lock()
	e.isPaused = true
}

// Continue allows the SerialEngine to trigger more events.
func (e *SerialEngine) Continue() {
	e.isPausedLock.Lock()
	defer e.isPausedLock.Unlock()

	if !e.isPaused {
		return
	}

	e.pauseLock.Unlock()
	e.isPaused = false
}

// CurrentTime returns the current time at which the engine is at.
// Specifically, the run time of the current event.
func (e *SerialEngine) CurrentTime() VTimeInSec {
	return e.readNow()
}

// PendingEvents returns the number of events waiting to be dispatched.
func (e *SerialEngine) PendingEvents() int {
	return e.queue.Len()
}

// Destroy releases all the pending events. The engine cannot schedule events
// after being destroyed.
func (e *SerialEngine) Destroy() int {
	e.destroyed.Store(true)
	return e.queue.Clear()
}

// RegisterSimulationEndHandler invokes all the registered simulation end
// handler.
func (e *SerialEngine) RegisterSimulationEndHandler(
	handler SimulationEndHandler,
) {
	e.simulationEndHandlers = append(e.simulationEndHandlers, handler)
}

// Finished should be called after the simulation ends. This function
// calls all the registered SimulationEndHandler.
func (e *SerialEngine) Finished() {
	now := e.readNow()
	for _, h := range e.simulationEndHandlers {
		h.Handle(now)
	}
}
