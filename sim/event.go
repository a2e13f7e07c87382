package sim

import "math"

// VTimeInSec defines the time in the simulated space in the unit of second
type VTimeInSec float64

// An Event is something going to happen in the future.
type Event interface {
	// Return the time that the event should happen
	Time() VTimeInSec

	// Returns the handler that can should handle the event
	Handler() Handler
}

// EventBase provides the basic fields and getters for other events
type EventBase struct {
	ID      string
	time    VTimeInSec
	handler Handler
}

// NewEventBase creates a new EventBase
func NewEventBase(t VTimeInSec, handler Handler) *EventBase {
	e := new(EventBase)
	e.ID = GetIDGenerator().Generate()
	e.time = t
	e.handler = handler
	return e
}

// Time return the time that the event is going to happen
func (e EventBase) Time() VTimeInSec {
	return e.time
}

// Handler returns the handler to handle the event.
func (e EventBase) Handler() Handler {
	return e.handler
}

// A Handler defines a domain for the events.
//
// One event is always constraint to one Handler, which means the event can
// only be scheduled by one handler and can only directly modify that handler.
type Handler interface {
	Handle(e Event) error
}

// HandlerFunc adapts a plain function into a Handler.
type HandlerFunc func(e Event) error

// Handle calls f(e).
func (f HandlerFunc) Handle(e Event) error {
	return f(e)
}

// CallbackEvent is an event that runs a closure when it is dispatched.
type CallbackEvent struct {
	*EventBase
	callback func(now VTimeInSec) error
}

// NewCallbackEvent creates an event that invokes the callback at time t.
func NewCallbackEvent(t VTimeInSec, callback func(now VTimeInSec) error) *CallbackEvent {
	evt := &CallbackEvent{callback: callback}
	evt.EventBase = NewEventBase(t, callbackHandler{})
	return evt
}

type callbackHandler struct{}

func (callbackHandler) Handle(e Event) error {
	evt := e.(*CallbackEvent)
	return evt.callback(evt.Time())
}

// ScheduleCallback schedules a closure to run after the given delay.
func ScheduleCallback(
	engine Engine,
	delay VTimeInSec,
	callback func(now VTimeInSec) error,
) (*EventHandle, error) {
	evt := NewCallbackEvent(engine.CurrentTime()+delay, callback)
	return engine.Schedule(evt)
}

func timeIsValid(t VTimeInSec) bool {
	return !math.IsNaN(float64(t))
}
