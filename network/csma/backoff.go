package csma

import (
	"github.com/iti/rngstream"

	"github.com/XinWenfei/netsim/sim"
)

// Backoff is the binary exponential backoff policy a device follows when it
// finds the channel busy.
type Backoff struct {
	SlotTime   sim.VTimeInSec
	MinSlots   int
	MaxSlots   int
	Ceiling    int
	MaxRetries int

	rng     *rngstream.RngStream
	retries int
}

// DefaultBackoff waits between 1 and 2^retries-1 slots of 1us, at most 1000
// slots, and gives up after 1000 retries.
func DefaultBackoff() Backoff {
	return Backoff{
		SlotTime:   sim.Microsecond,
		MinSlots:   1,
		MaxSlots:   1000,
		Ceiling:    10,
		MaxRetries: 1000,
	}
}

func (b Backoff) validate() error {
	switch {
	case b.SlotTime <= 0:
		return sim.NewConfigurationError("Csma", "Backoff.SlotTime", "must be positive")
	case b.MinSlots < 0 || b.MaxSlots < b.MinSlots:
		return sim.NewConfigurationError("Csma", "Backoff.MaxSlots",
			"must not be less than MinSlots")
	case b.Ceiling <= 0:
		return sim.NewConfigurationError("Csma", "Backoff.Ceiling", "must be positive")
	case b.MaxRetries <= 0:
		return sim.NewConfigurationError("Csma", "Backoff.MaxRetries", "must be positive")
	}

	return nil
}

// NextDelay returns how long to wait before sensing the channel again. The
// window grows with every retry until the ceiling.
func (b *Backoff) NextDelay() sim.VTimeInSec {
	exp := b.retries
	if exp > b.Ceiling {
		exp = b.Ceiling
	}

	maxSlot := (1 << exp) - 1
	if maxSlot > b.MaxSlots {
		maxSlot = b.MaxSlots
	}

	minSlot := b.MinSlots
	if maxSlot < minSlot {
		maxSlot = minSlot
	}

	slots := b.rng.RandInt(minSlot, maxSlot)

	return sim.VTimeInSec(slots) * b.SlotTime
}

// IncrementRetries counts one more busy channel.
func (b *Backoff) IncrementRetries() {
	b.retries++
}

// MaxRetriesReached tells if the frame should be dropped.
func (b *Backoff) MaxRetriesReached() bool {
	return b.retries >= b.MaxRetries
}

// ResetRetries is called when a frame starts being transmitted.
func (b *Backoff) ResetRetries() {
	b.retries = 0
}
