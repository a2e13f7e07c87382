// Package wifi models a shared wireless medium with range-limited
// propagation and DCF-style contention.
package wifi

import (
	"fmt"

	"github.com/XinWenfei/netsim/network"
	"github.com/XinWenfei/netsim/sim"
)

// SpeedOfLight is the propagation speed of the medium in meters per second.
const SpeedOfLight = 299792458.0

// Channel is the wireless medium shared by all the devices that use it. A
// frame reaches the devices within range after a delay proportional to the
// distance.
type Channel struct {
	name     string
	engine   sim.Engine
	maxRange float64
	speed    float64
	devices  []*Device
}

// Devices returns the devices on the medium in attachment order.
func (c *Channel) Devices() []network.Device {
	devs := make([]network.Device, len(c.devices))
	for i, d := range c.devices {
		devs[i] = d
	}

	return devs
}

// MaxRange returns the largest distance a frame can travel.
func (c *Channel) MaxRange() float64 {
	return c.maxRange
}

// Name returns the name of the channel.
func (c *Channel) Name() string {
	return c.name
}

func (c *Channel) attach(d *Device) {
	c.devices = append(c.devices, d)
	d.channel = c
}

func positionOf(d *Device) (network.Vector, error) {
	m := d.Node().Mobility()
	if m == nil {
		return network.Vector{}, sim.NewConfigurationError(
			d.Name(), "Mobility", "wifi devices need a mobility model")
	}

	return m.Position(), nil
}

// Distance returns the current distance between two devices.
func (c *Channel) Distance(a, b *Device) (float64, error) {
	pa, err := positionOf(a)
	if err != nil {
		return 0, err
	}

	pb, err := positionOf(b)
	if err != nil {
		return 0, err
	}

	return pa.DistanceTo(pb), nil
}

// transmit starts the reception of the frame on every device within range.
// Positions are sampled when the transmission starts.
func (c *Channel) transmit(sender *Device, f *frame, duration sim.VTimeInSec) error {
	now := c.engine.CurrentTime()

	for _, r := range c.devices {
		if r == sender {
			continue
		}

		dist, err := c.Distance(sender, r)
		if err != nil {
			return err
		}

		if dist > c.maxRange {
			continue
		}

		start := now + sim.VTimeInSec(dist/c.speed)
		rx := &reception{frame: f, end: start + duration}

		if _, err := c.engine.Schedule(&rxStartEvent{
			EventBase: sim.NewEventBase(start, r),
			rx:        rx,
		}); err != nil {
			return fmt.Errorf("scheduling reception on %s: %w", r.Name(), err)
		}

		if _, err := c.engine.Schedule(&rxEndEvent{
			EventBase: sim.NewEventBase(rx.end, r),
			rx:        rx,
		}); err != nil {
			return fmt.Errorf("scheduling reception on %s: %w", r.Name(), err)
		}
	}

	return nil
}
