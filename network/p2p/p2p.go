// Package p2p models full-duplex point-to-point links between exactly two
// devices.
package p2p

import (
	"log"

	"github.com/XinWenfei/netsim/network"
	"github.com/XinWenfei/netsim/sim"
)

// Channel is a link between two devices with a fixed propagation delay.
type Channel struct {
	name    string
	delay   sim.VTimeInSec
	devices []*Device
}

// Name returns the name of the channel.
func (c *Channel) Name() string {
	return c.name
}

// Delay returns the propagation delay of the link.
func (c *Channel) Delay() sim.VTimeInSec {
	return c.delay
}

// Devices returns the devices at the two ends.
func (c *Channel) Devices() []network.Device {
	devs := make([]network.Device, len(c.devices))
	for i, d := range c.devices {
		devs[i] = d
	}

	return devs
}

func (c *Channel) attach(d *Device) {
	if len(c.devices) >= 2 {
		log.Panicf("point-to-point channel %s already has two devices", c.name)
	}

	c.devices = append(c.devices, d)
	d.channel = c
}

func (c *Channel) peer(d *Device) *Device {
	if len(c.devices) != 2 {
		return nil
	}

	if c.devices[0] == d {
		return c.devices[1]
	}

	return c.devices[0]
}

type txCompleteEvent struct {
	*sim.EventBase
	pkt *network.Packet
}

type rxEvent struct {
	*sim.EventBase
	pkt *network.Packet
	src network.MacAddress
}

// Device is one end of a point-to-point link. Packets that arrive while the
// transmitter is busy wait in a drop-tail queue.
type Device struct {
	*network.DeviceBase

	dataRate network.DataRate
	channel  *Channel
	queue    *sim.Queue[*network.Packet]
	busy     bool
}

// Channel returns the attached link, or nil.
func (d *Device) Channel() network.Channel {
	if d.channel == nil {
		return nil
	}

	return d.channel
}

// DataRate returns the transmission rate.
func (d *Device) DataRate() network.DataRate {
	return d.dataRate
}

// QueueLen returns the number of packets waiting to be transmitted.
func (d *Device) QueueLen() int {
	return d.queue.Len()
}

// Send transmits the packet immediately if the link is idle, otherwise it
// queues it. The destination address is ignored since the link has only one
// receiver.
func (d *Device) Send(pkt *network.Packet, dst network.MacAddress) error {
	if d.channel == nil {
		log.Panicf("device %s is not attached to a channel", d.Name())
	}

	if err := d.CheckMtu(d, pkt); err != nil {
		return err
	}

	if !d.busy {
		return d.startTx(pkt)
	}

	if !d.queue.Push(pkt) {
		d.Drop(d, pkt, network.DropQueueFull)
		return network.ErrTxQueueFull
	}

	return nil
}

func (d *Device) startTx(pkt *network.Packet) error {
	peer := d.channel.peer(d)
	if peer == nil {
		d.Drop(d, pkt, network.DropNotAttached)
		return nil
	}

	d.busy = true
	d.NotifyTxStart(d, pkt)

	now := d.Engine.CurrentTime()
	txEnd := now + d.dataRate.TxTime(pkt.Size())

	done := &txCompleteEvent{
		EventBase: sim.NewEventBase(txEnd, d),
		pkt:       pkt,
	}
	if _, err := d.Engine.Schedule(done); err != nil {
		return err
	}

	arrival := &rxEvent{
		EventBase: sim.NewEventBase(txEnd+d.channel.delay, peer),
		pkt:       pkt,
		src:       d.MacAddress(),
	}
	_, err := d.Engine.Schedule(arrival)

	return err
}

// Handle processes the events of the device.
func (d *Device) Handle(e sim.Event) error {
	switch e := e.(type) {
	case *txCompleteEvent:
		return d.handleTxComplete()
	case *rxEvent:
		d.Deliver(d, e.pkt, e.src)
		return nil
	default:
		log.Panicf("cannot handle event of type %T", e)
	}

	return nil
}

func (d *Device) handleTxComplete() error {
	d.busy = false

	next, ok := d.queue.Pop()
	if !ok {
		return nil
	}

	return d.startTx(next)
}
