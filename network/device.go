package network

import (
	"errors"
	"log/slog"

	"github.com/XinWenfei/netsim/sim"
)

var (
	// HookPosDeviceTxStart marks a frame starting to leave a device.
	HookPosDeviceTxStart = &sim.HookPos{Name: "Device Tx Start"}

	// HookPosDeviceRx marks a frame accepted by a device.
	HookPosDeviceRx = &sim.HookPos{Name: "Device Rx"}

	// HookPosDeviceDrop marks a frame dropped by a device. The detail is a
	// DropReason.
	HookPosDeviceDrop = &sim.HookPos{Name: "Device Drop"}
)

// DropReason explains why a device discarded a frame.
type DropReason string

// Reasons for dropping frames.
const (
	DropQueueFull   DropReason = "queue-full"
	DropBackoff     DropReason = "backoff-limit"
	DropCollision   DropReason = "collision"
	DropNotAttached DropReason = "not-attached"
	DropTooLarge    DropReason = "too-large"
)

// ErrTxQueueFull is returned by Send when the transmit queue has no room.
var ErrTxQueueFull = errors.New("transmit queue full")

// ErrPacketTooLarge is returned by Send when the packet exceeds the MTU.
var ErrPacketTooLarge = errors.New("packet larger than mtu")

// A Device is a network interface of a node, attached to a channel.
type Device interface {
	sim.Component

	// Node returns the node the device belongs to.
	Node() *Node

	// IfIndex returns the position of the device on its node.
	IfIndex() int

	// Channel returns the attached channel, or nil.
	Channel() Channel

	// MacAddress returns the link-layer address of the device.
	MacAddress() MacAddress

	// Mtu returns the largest packet the device can send.
	Mtu() int

	// Send queues a packet for transmission to the given link-layer address.
	Send(pkt *Packet, dst MacAddress) error

	// Stats returns the frame counters of the device.
	Stats() DeviceStats
}

// DeviceStats counts the frames seen by a device.
type DeviceStats struct {
	TxFrames uint64
	TxBytes  uint64
	RxFrames uint64
	RxBytes  uint64
	Drops    uint64
}

// DeviceBase implements the parts shared by all the device types.
type DeviceBase struct {
	*sim.ComponentBase

	Engine sim.Engine
	Logger *slog.Logger

	node    *Node
	ifIndex int
	mac     MacAddress
	mtu     int
	stats   DeviceStats
}

// NewDeviceBase creates a DeviceBase. It does not register the device on the
// node, call Attach for that.
func NewDeviceBase(
	name string,
	engine sim.Engine,
	node *Node,
	mac MacAddress,
	mtu int,
	logger *slog.Logger,
) *DeviceBase {
	if logger == nil {
		logger = slog.Default()
	}

	return &DeviceBase{
		ComponentBase: sim.NewComponentBase(name),
		Engine:        engine,
		Logger:        logger.With("device", name),
		node:          node,
		mac:           mac,
		mtu:           mtu,
	}
}

// Attach registers the device on its node.
func (d *DeviceBase) Attach(self Device) {
	d.ifIndex = d.node.AddDevice(self)
}

// Node returns the node the device belongs to.
func (d *DeviceBase) Node() *Node {
	return d.node
}

// IfIndex returns the position of the device on its node.
func (d *DeviceBase) IfIndex() int {
	return d.ifIndex
}

// MacAddress returns the link-layer address.
func (d *DeviceBase) MacAddress() MacAddress {
	return d.mac
}

// Mtu returns the largest packet the device can send.
func (d *DeviceBase) Mtu() int {
	return d.mtu
}

// Stats returns the frame counters.
func (d *DeviceBase) Stats() DeviceStats {
	return d.stats
}

// CheckMtu returns ErrPacketTooLarge, and records a drop, if the packet does
// not fit.
func (d *DeviceBase) CheckMtu(self Device, pkt *Packet) error {
	if pkt.Size() > d.mtu {
		d.Drop(self, pkt, DropTooLarge)
		return ErrPacketTooLarge
	}

	return nil
}

// NotifyTxStart records a frame leaving the device.
func (d *DeviceBase) NotifyTxStart(self Device, pkt *Packet) {
	d.stats.TxFrames++
	d.stats.TxBytes += uint64(pkt.Size())

	if d.NumHooks() > 0 {
		d.InvokeHook(sim.HookCtx{
			Domain: self,
			Pos:    HookPosDeviceTxStart,
			Item:   pkt,
		})
	}
}

// Deliver passes a received frame up to the node.
func (d *DeviceBase) Deliver(self Device, pkt *Packet, src MacAddress) {
	d.stats.RxFrames++
	d.stats.RxBytes += uint64(pkt.Size())

	if d.NumHooks() > 0 {
		d.InvokeHook(sim.HookCtx{
			Domain: self,
			Pos:    HookPosDeviceRx,
			Item:   pkt,
		})
	}

	d.node.receive(self, pkt, src)
}

// Drop records a discarded frame.
func (d *DeviceBase) Drop(self Device, pkt *Packet, reason DropReason) {
	d.stats.Drops++

	d.Logger.Debug("frame dropped",
		"packet", pkt.ID,
		"reason", string(reason),
		"time", float64(d.Engine.CurrentTime()))

	if d.NumHooks() > 0 {
		d.InvokeHook(sim.HookCtx{
			Domain: self,
			Pos:    HookPosDeviceDrop,
			Item:   pkt,
			Detail: reason,
		})
	}
}

// AcceptsFrame tells if a frame sent to dst should be received by a device
// with the given address.
func AcceptsFrame(self, dst MacAddress) bool {
	return dst == self || dst.IsBroadcast()
}
