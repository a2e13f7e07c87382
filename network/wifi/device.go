package wifi

import (
	"log"

	"github.com/iti/rngstream"

	"github.com/XinWenfei/netsim/network"
	"github.com/XinWenfei/netsim/sim"
)

// MacOverhead is the size of the 802.11 header and FCS added to every frame.
const MacOverhead = 36

// Mode tells the role of a device in its network.
type Mode int

// The roles of a device.
const (
	ModeSta Mode = iota
	ModeAp
	ModeAdhoc
)

func (m Mode) String() string {
	switch m {
	case ModeSta:
		return "Sta"
	case ModeAp:
		return "Ap"
	case ModeAdhoc:
		return "Adhoc"
	}

	return "Unknown"
}

// Dcf holds the contention parameters of the medium access.
type Dcf struct {
	Slot       sim.VTimeInSec
	Sifs       sim.VTimeInSec
	CwMin      int
	CwMax      int
	RetryLimit int
}

// DefaultDcf returns the 802.11a OFDM timing.
func DefaultDcf() Dcf {
	return Dcf{
		Slot:       9 * sim.Microsecond,
		Sifs:       16 * sim.Microsecond,
		CwMin:      15,
		CwMax:      1023,
		RetryLimit: 7,
	}
}

// Difs returns the idle time required before contending.
func (d Dcf) Difs() sim.VTimeInSec {
	return d.Sifs + 2*d.Slot
}

func (d Dcf) validate() error {
	switch {
	case d.Slot <= 0:
		return sim.NewConfigurationError("Wifi", "Dcf.Slot", "must be positive")
	case d.Sifs < 0:
		return sim.NewConfigurationError("Wifi", "Dcf.Sifs", "must not be negative")
	case d.CwMin < 0 || d.CwMax < d.CwMin:
		return sim.NewConfigurationError("Wifi", "Dcf.CwMax",
			"must not be less than CwMin")
	case d.RetryLimit <= 0:
		return sim.NewConfigurationError("Wifi", "Dcf.RetryLimit", "must be positive")
	}

	return nil
}

type frame struct {
	pkt  *network.Packet
	src  network.MacAddress
	dst  network.MacAddress
	ssid string
}

type reception struct {
	frame     *frame
	end       sim.VTimeInSec
	corrupted bool
}

type rxStartEvent struct {
	*sim.EventBase
	rx *reception
}

type rxEndEvent struct {
	*sim.EventBase
	rx *reception
}

type accessEvent struct {
	*sim.EventBase
}

type txCompleteEvent struct {
	*sim.EventBase
}

// Device is a wireless interface. It contends for the medium before every
// transmission and is half duplex.
type Device struct {
	*network.DeviceBase

	channel  *Channel
	dataRate network.DataRate
	ssid     string
	mode     Mode
	dcf      Dcf
	rng      *rngstream.RngStream
	queue    *sim.Queue[*frame]

	pending   *frame
	cw        int
	retries   int
	accessing bool
	txUntil   sim.VTimeInSec
	receiving []*reception
}

// Channel returns the attached medium.
func (d *Device) Channel() network.Channel {
	if d.channel == nil {
		return nil
	}

	return d.channel
}

// Ssid returns the network the device belongs to.
func (d *Device) Ssid() string {
	return d.ssid
}

// Mode returns the role of the device.
func (d *Device) Mode() Mode {
	return d.mode
}

// DataRate returns the rate at which the device transmits.
func (d *Device) DataRate() network.DataRate {
	return d.dataRate
}

// Send queues a frame and starts contending for the medium.
func (d *Device) Send(pkt *network.Packet, dst network.MacAddress) error {
	if d.channel == nil {
		log.Panicf("device %s is not attached to a channel", d.Name())
	}

	if err := d.CheckMtu(d, pkt); err != nil {
		return err
	}

	ok := d.queue.Push(&frame{
		pkt:  pkt,
		src:  d.MacAddress(),
		dst:  dst,
		ssid: d.ssid,
	})
	if !ok {
		d.Drop(d, pkt, network.DropQueueFull)
		return network.ErrTxQueueFull
	}

	if !d.accessing && d.pending == nil {
		return d.startAccess()
	}

	return nil
}

// mediumFreeAt returns the earliest time the device believes the medium is
// free.
func (d *Device) mediumFreeAt() sim.VTimeInSec {
	t := d.txUntil
	for _, rx := range d.receiving {
		if rx.end > t {
			t = rx.end
		}
	}

	return t
}

func (d *Device) startAccess() error {
	if d.pending == nil {
		next, ok := d.queue.Pop()
		if !ok {
			d.accessing = false
			return nil
		}

		d.pending = next
		d.cw = d.dcf.CwMin
		d.retries = 0
	}

	return d.scheduleAccess()
}

func (d *Device) scheduleAccess() error {
	d.accessing = true

	start := d.Engine.CurrentTime()
	if free := d.mediumFreeAt(); free > start {
		start = free
	}

	slots := d.rng.RandInt(0, d.cw)
	at := start + d.dcf.Difs() + sim.VTimeInSec(slots)*d.dcf.Slot

	_, err := d.Engine.Schedule(&accessEvent{
		EventBase: sim.NewEventBase(at, d),
	})

	return err
}

func (d *Device) mediumBusy() bool {
	return len(d.receiving) > 0 || d.txUntil > d.Engine.CurrentTime()
}

func (d *Device) handleAccess() error {
	if d.mediumBusy() {
		d.retries++
		if d.retries > d.dcf.RetryLimit {
			d.Drop(d, d.pending.pkt, network.DropBackoff)
			d.pending = nil
			return d.startAccess()
		}

		d.cw = 2*d.cw + 1
		if d.cw > d.dcf.CwMax {
			d.cw = d.dcf.CwMax
		}

		return d.scheduleAccess()
	}

	return d.transmit()
}

func (d *Device) transmit() error {
	f := d.pending
	d.pending = nil
	d.accessing = false

	for _, rx := range d.receiving {
		rx.corrupted = true
	}

	now := d.Engine.CurrentTime()
	duration := d.dataRate.TxTime(f.pkt.Size() + MacOverhead)
	d.txUntil = now + duration
	d.NotifyTxStart(d, f.pkt)

	if err := d.channel.transmit(d, f, duration); err != nil {
		return err
	}

	_, err := d.Engine.Schedule(&txCompleteEvent{
		EventBase: sim.NewEventBase(d.txUntil, d),
	})

	return err
}

// Handle processes the events of the device.
func (d *Device) Handle(e sim.Event) error {
	switch e := e.(type) {
	case *accessEvent:
		return d.handleAccess()
	case *txCompleteEvent:
		if d.accessing {
			return nil
		}
		return d.startAccess()
	case *rxStartEvent:
		d.handleRxStart(e.rx)
	case *rxEndEvent:
		d.handleRxEnd(e.rx)
	default:
		log.Panicf("cannot handle event of type %T", e)
	}

	return nil
}

func (d *Device) handleRxStart(rx *reception) {
	if d.txUntil > d.Engine.CurrentTime() {
		rx.corrupted = true
	}

	if len(d.receiving) > 0 {
		rx.corrupted = true
		for _, other := range d.receiving {
			other.corrupted = true
		}
	}

	d.receiving = append(d.receiving, rx)
}

func (d *Device) handleRxEnd(rx *reception) {
	for i, r := range d.receiving {
		if r == rx {
			d.receiving = append(d.receiving[:i], d.receiving[i+1:]...)
			break
		}
	}

	f := rx.frame
	if f.ssid != d.ssid || !network.AcceptsFrame(d.MacAddress(), f.dst) {
		return
	}

	if rx.corrupted {
		d.Drop(d, f.pkt, network.DropCollision)
		return
	}

	d.Deliver(d, f.pkt.Copy(), f.src)
}
