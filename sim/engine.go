// Package sim provides the discrete-event core that the network models run
// on.
package sim

// TimeTeller can be used to get the current time.
type TimeTeller interface {
	CurrentTime() VTimeInSec
}

// EventScheduler can be used to schedule future events.
type EventScheduler interface {
	TimeTeller

	// Schedule registers an event. It returns an *InvalidTimeError if the
	// event happens before the current time.
	Schedule(e Event) (*EventHandle, error)

	// Cancel prevents a scheduled event from being dispatched. It returns
	// false if the event has already run or has already been cancelled.
	Cancel(h *EventHandle) bool
}

// A SimulationEndHandler is a handler that is called after the simulation ends.
type SimulationEndHandler interface {
	Handle(now VTimeInSec)
}

// An Engine is a unit that keeps the discrete event simulation run.
type Engine interface {
	Hookable
	EventScheduler

	// Run will process all the events until the queue is empty, the stop
	// time is reached, or Stop is called.
	Run() error

	// Stop halts Run after the event currently being handled.
	Stop()

	// StopAt sets the time after which no events are dispatched.
	StopAt(t VTimeInSec) error

	// Pause will pause the simulation until continue is called.
	Pause()

	// Continue will continue the paused simulation
	Continue()

	// RegisterSimulationEndHandler registers a handler that perform some
	// actions after the simulation is finished.
	RegisterSimulationEndHandler(handler SimulationEndHandler)

	// Finished invokes all the registered SimulationEndHandler
	Finished()
}
