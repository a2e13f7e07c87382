package csma

import (
	"log"

	"github.com/XinWenfei/netsim/network"
	"github.com/XinWenfei/netsim/sim"
)

// EthernetOverhead is the size of the Ethernet header and trailer that every
// frame carries on the bus.
const EthernetOverhead = 18

type txState int

const (
	txReady txState = iota
	txBusy
	txBackoff
)

type txCompleteEvent struct {
	*sim.EventBase
}

type backoffExpiredEvent struct {
	*sim.EventBase
}

// Device is a network interface on a CSMA bus.
type Device struct {
	*network.DeviceBase

	channel *Channel
	queue   *sim.Queue[*frame]
	backoff Backoff

	state   txState
	sending *frame
}

// Channel returns the attached bus.
func (d *Device) Channel() network.Channel {
	if d.channel == nil {
		return nil
	}

	return d.channel
}

// QueueLen returns the number of frames waiting to be transmitted.
func (d *Device) QueueLen() int {
	return d.queue.Len()
}

// Send queues a frame and starts transmitting if the device is idle.
func (d *Device) Send(pkt *network.Packet, dst network.MacAddress) error {
	if d.channel == nil {
		log.Panicf("device %s is not attached to a channel", d.Name())
	}

	if err := d.CheckMtu(d, pkt); err != nil {
		return err
	}

	ok := d.queue.Push(&frame{
		pkt:    pkt,
		src:    d.MacAddress(),
		dst:    dst,
		sender: d,
	})
	if !ok {
		d.Drop(d, pkt, network.DropQueueFull)
		return network.ErrTxQueueFull
	}

	if d.state == txReady {
		return d.transmitStart()
	}

	return nil
}

func (d *Device) transmitStart() error {
	if d.sending == nil {
		next, ok := d.queue.Pop()
		if !ok {
			d.state = txReady
			return nil
		}
		d.sending = next
	}

	if d.channel.IsBusy() {
		return d.deferTransmission()
	}

	d.backoff.ResetRetries()
	d.state = txBusy
	d.channel.transmitStart(d.sending)
	d.NotifyTxStart(d, d.sending.pkt)

	txTime := d.channel.dataRate.TxTime(d.sending.pkt.Size() + EthernetOverhead)
	evt := &txCompleteEvent{
		EventBase: sim.NewEventBase(d.Engine.CurrentTime()+txTime, d),
	}
	_, err := d.Engine.Schedule(evt)

	return err
}

func (d *Device) deferTransmission() error {
	d.backoff.IncrementRetries()

	if d.backoff.MaxRetriesReached() {
		d.Drop(d, d.sending.pkt, network.DropBackoff)
		d.sending = nil
		d.backoff.ResetRetries()
		return d.transmitStart()
	}

	d.state = txBackoff
	evt := &backoffExpiredEvent{
		EventBase: sim.NewEventBase(
			d.Engine.CurrentTime()+d.backoff.NextDelay(), d),
	}
	_, err := d.Engine.Schedule(evt)

	return err
}

// Handle processes the events of the device.
func (d *Device) Handle(e sim.Event) error {
	switch e.(type) {
	case *txCompleteEvent:
		d.sending = nil
		if err := d.channel.transmitEnd(); err != nil {
			return err
		}
		return d.transmitStart()
	case *backoffExpiredEvent:
		return d.transmitStart()
	default:
		log.Panicf("cannot handle event of type %T", e)
	}

	return nil
}

func (d *Device) receive(f *frame) {
	if !network.AcceptsFrame(d.MacAddress(), f.dst) {
		return
	}

	d.Deliver(d, f.pkt.Copy(), f.src)
}
