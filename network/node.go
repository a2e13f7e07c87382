package network

import (
	"github.com/XinWenfei/netsim/sim"
)

// HookPosNodeUnhandled marks a packet that reached a node without a protocol
// stack.
var HookPosNodeUnhandled = &sim.HookPos{Name: "Node Unhandled"}

// A ProtocolStack consumes the packets that the devices of a node receive.
type ProtocolStack interface {
	Receive(dev Device, pkt *Packet, src MacAddress)
}

// A Node is a host or a router. It owns an ordered list of devices and,
// optionally, a protocol stack and a mobility model.
type Node struct {
	sim.HookableBase

	id       uint32
	name     string
	devices  []Device
	stack    ProtocolStack
	mobility Mobility
	apps     []sim.Component
}

func newNode(id uint32) *Node {
	return &Node{
		id:   id,
		name: sim.BuildNameWithIndex("", "Node", int(id)),
	}
}

// ID returns the sequential identifier of the node.
func (n *Node) ID() uint32 {
	return n.id
}

// Name returns the name of the node, for example Node[3].
func (n *Node) Name() string {
	return n.name
}

// AddDevice appends a device and returns its interface index.
func (n *Node) AddDevice(d Device) int {
	n.devices = append(n.devices, d)
	return len(n.devices) - 1
}

// Devices returns the devices in the order they were added.
func (n *Node) Devices() []Device {
	return n.devices
}

// NumDevices returns the number of devices on the node.
func (n *Node) NumDevices() int {
	return len(n.devices)
}

// Device returns the device at index i.
func (n *Node) Device(i int) Device {
	return n.devices[i]
}

// SetProtocolStack installs the layer that receives the packets of all the
// devices of this node.
func (n *Node) SetProtocolStack(s ProtocolStack) {
	n.stack = s
}

// ProtocolStack returns the installed stack, or nil.
func (n *Node) ProtocolStack() ProtocolStack {
	return n.stack
}

// AddApplication registers an application running on the node and returns
// its index.
func (n *Node) AddApplication(app sim.Component) int {
	n.apps = append(n.apps, app)
	return len(n.apps) - 1
}

// NumApplications returns the number of applications on the node.
func (n *Node) NumApplications() int {
	return len(n.apps)
}

// Applications returns the applications in the order they were added.
func (n *Node) Applications() []sim.Component {
	return n.apps
}

// SetMobility attaches a mobility model.
func (n *Node) SetMobility(m Mobility) {
	n.mobility = m
}

// Mobility returns the attached mobility model, or nil.
func (n *Node) Mobility() Mobility {
	return n.mobility
}

// receive hands a packet from one of the devices to the stack.
func (n *Node) receive(dev Device, pkt *Packet, src MacAddress) {
	if n.stack == nil {
		if n.NumHooks() > 0 {
			n.InvokeHook(sim.HookCtx{
				Domain: n,
				Pos:    HookPosNodeUnhandled,
				Item:   pkt,
				Detail: dev,
			})
		}
		return
	}

	n.stack.Receive(dev, pkt, src)
}
