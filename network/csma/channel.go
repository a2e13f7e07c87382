// Package csma models a shared bus where devices sense the carrier before
// transmitting and back off while the bus is busy.
package csma

import (
	"log"

	"github.com/XinWenfei/netsim/network"
	"github.com/XinWenfei/netsim/sim"
)

// ChannelState is the state of the shared bus.
type ChannelState int

// The states of the bus.
const (
	Idle ChannelState = iota
	Transmitting
	Propagating
)

func (s ChannelState) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Transmitting:
		return "Transmitting"
	case Propagating:
		return "Propagating"
	}

	return "Unknown"
}

type frame struct {
	pkt    *network.Packet
	src    network.MacAddress
	dst    network.MacAddress
	sender *Device
}

type propagationEndEvent struct {
	*sim.EventBase
}

// Channel is a bus shared by any number of devices. It carries one frame at
// a time.
type Channel struct {
	*sim.ComponentBase

	engine   sim.Engine
	dataRate network.DataRate
	delay    sim.VTimeInSec
	devices  []*Device

	state   ChannelState
	current *frame
}

// Devices returns the devices on the bus in attachment order.
func (c *Channel) Devices() []network.Device {
	devs := make([]network.Device, len(c.devices))
	for i, d := range c.devices {
		devs[i] = d
	}

	return devs
}

// DataRate returns the rate at which every device transmits.
func (c *Channel) DataRate() network.DataRate {
	return c.dataRate
}

// Delay returns the propagation delay of the bus.
func (c *Channel) Delay() sim.VTimeInSec {
	return c.delay
}

// State returns the current state of the bus.
func (c *Channel) State() ChannelState {
	return c.state
}

// IsBusy tells if a device sensing the carrier now would find it in use.
func (c *Channel) IsBusy() bool {
	return c.state != Idle
}

func (c *Channel) attach(d *Device) {
	c.devices = append(c.devices, d)
	d.channel = c
}

func (c *Channel) transmitStart(f *frame) {
	if c.state != Idle {
		log.Panicf("channel %s: transmit start while %s", c.Name(), c.state)
	}

	c.state = Transmitting
	c.current = f
}

func (c *Channel) transmitEnd() error {
	if c.state != Transmitting {
		log.Panicf("channel %s: transmit end while %s", c.Name(), c.state)
	}

	c.state = Propagating
	evt := &propagationEndEvent{
		EventBase: sim.NewEventBase(c.engine.CurrentTime()+c.delay, c),
	}
	_, err := c.engine.Schedule(evt)

	return err
}

// Handle delivers the frame on the bus to every other device once the signal
// has propagated.
func (c *Channel) Handle(e sim.Event) error {
	if _, ok := e.(*propagationEndEvent); !ok {
		log.Panicf("cannot handle event of type %T", e)
	}

	f := c.current
	c.current = nil
	c.state = Idle

	for _, d := range c.devices {
		if d == f.sender {
			continue
		}

		d.receive(f)
	}

	return nil
}
