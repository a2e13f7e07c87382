// Package internet implements the IPv4 stack with UDP and TCP sockets.
package internet

import (
	"fmt"
	"log"
	"log/slog"
	"net/netip"

	"github.com/XinWenfei/netsim/network"
	"github.com/XinWenfei/netsim/sim"
)

var (
	// HookPosIpv4Send marks a datagram originated by the node. The item is
	// the packet with its IPv4 header.
	HookPosIpv4Send = &sim.HookPos{Name: "Ipv4 Send"}

	// HookPosIpv4Deliver marks a datagram delivered to the node itself.
	HookPosIpv4Deliver = &sim.HookPos{Name: "Ipv4 Deliver"}

	// HookPosIpv4Forward marks a datagram routed through the node.
	HookPosIpv4Forward = &sim.HookPos{Name: "Ipv4 Forward"}

	// HookPosIpv4Drop marks a discarded datagram. The detail is a DropReason.
	HookPosIpv4Drop = &sim.HookPos{Name: "Ipv4 Drop"}
)

// DropReason explains why the stack discarded a datagram.
type DropReason string

// Reasons for dropping datagrams.
const (
	DropNoRoute         DropReason = "no-route"
	DropUnresolved      DropReason = "unresolved-next-hop"
	DropTtlExpired      DropReason = "ttl-expired"
	DropMalformed       DropReason = "malformed"
	DropNoInterface     DropReason = "no-interface"
	DropPortUnreachable DropReason = "port-unreachable"
	DropNotForwarding   DropReason = "not-forwarding"
	DropDeviceRefused   DropReason = "device-refused"
)

var limitedBroadcast = netip.AddrFrom4([4]byte{255, 255, 255, 255})

// An Interface binds an IPv4 address to a device of the node.
type Interface struct {
	index   int
	device  network.Device
	address netip.Addr
	prefix  netip.Prefix
}

// Index returns the interface index, equal to the device index on the node.
func (i *Interface) Index() int {
	return i.index
}

// Device returns the device of the interface.
func (i *Interface) Device() network.Device {
	return i.device
}

// Address returns the local address.
func (i *Interface) Address() netip.Addr {
	return i.address
}

// Prefix returns the subnet of the interface.
func (i *Interface) Prefix() netip.Prefix {
	return i.prefix
}

// Broadcast returns the directed broadcast address of the subnet.
func (i *Interface) Broadcast() netip.Addr {
	a := i.prefix.Masked().Addr().As4()
	v := uint32(a[0])<<24 | uint32(a[1])<<16 | uint32(a[2])<<8 | uint32(a[3])
	v |= uint32(1)<<(32-i.prefix.Bits()) - 1

	return netip.AddrFrom4([4]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)})
}

type forwardEvent struct {
	*sim.EventBase
	pkt *network.Packet
}

type loopbackEvent struct {
	*sim.EventBase
	pkt *network.Packet
}

// Ipv4 is the network layer of a node. It numbers interfaces, routes and
// forwards datagrams and demultiplexes UDP.
type Ipv4 struct {
	*sim.ComponentBase

	engine          sim.Engine
	node            *network.Node
	logger          *slog.Logger
	interfaces      []*Interface
	routes          *RoutingTable
	sockets         map[uint16]*UdpSocket
	tcpPorts        map[uint16]*TcpSocket
	tcpListeners    map[uint16]*TcpSocket
	tcpConns        map[tcpKey]*TcpSocket
	nextEphemeral   uint16
	defaultTtl      uint8
	forwardingDelay sim.VTimeInSec
	forwarding      bool
	sentAny         bool
	nextIdent       uint16
}

// StackOf returns the IPv4 stack installed on the node, or nil.
func StackOf(n *network.Node) *Ipv4 {
	s, _ := n.ProtocolStack().(*Ipv4)
	return s
}

// Node returns the node of the stack.
func (s *Ipv4) Node() *network.Node {
	return s.node
}

// RoutingTable returns the routes of the node.
func (s *Ipv4) RoutingTable() *RoutingTable {
	return s.routes
}

// SetForwarding turns routing of transit datagrams on or off.
func (s *Ipv4) SetForwarding(on bool) {
	s.forwarding = on
}

// HasSent tells if the node has originated data-plane traffic.
func (s *Ipv4) HasSent() bool {
	return s.sentAny
}

// Interfaces returns the numbered interfaces ordered by index.
func (s *Ipv4) Interfaces() []*Interface {
	ifs := make([]*Interface, 0, len(s.interfaces))
	for _, i := range s.interfaces {
		if i != nil {
			ifs = append(ifs, i)
		}
	}

	return ifs
}

// InterfaceFor returns the interface of the device, or nil if the device has
// no address.
func (s *Ipv4) InterfaceFor(dev network.Device) *Interface {
	idx := dev.IfIndex()
	if idx >= len(s.interfaces) || s.interfaces[idx] == nil ||
		s.interfaces[idx].device != dev {
		return nil
	}

	return s.interfaces[idx]
}

// Addresses returns the local addresses ordered by interface.
func (s *Ipv4) Addresses() []netip.Addr {
	var addrs []netip.Addr
	for _, i := range s.Interfaces() {
		addrs = append(addrs, i.address)
	}

	return addrs
}

// AddAddress numbers a device of the node and installs the connected route
// of its subnet.
func (s *Ipv4) AddAddress(dev network.Device, addr netip.Addr, prefix netip.Prefix) error {
	if err := s.checkAddress(dev, addr, prefix); err != nil {
		return err
	}

	idx := dev.IfIndex()
	for len(s.interfaces) <= idx {
		s.interfaces = append(s.interfaces, nil)
	}

	s.interfaces[idx] = &Interface{
		index:   idx,
		device:  dev,
		address: addr,
		prefix:  prefix.Masked(),
	}

	s.routes.Add(Route{
		Destination: prefix,
		Interface:   idx,
		Origin:      OriginConnected,
	})

	return nil
}

func (s *Ipv4) checkAddress(dev network.Device, addr netip.Addr, prefix netip.Prefix) error {
	if dev.Node() != s.node {
		return sim.NewConfigurationError(s.Name(), "Address",
			fmt.Sprintf("device %s belongs to another node", dev.Name()))
	}

	if !addr.Is4() || !prefix.Contains(addr) {
		return sim.NewConfigurationError(s.Name(), "Address",
			fmt.Sprintf("%s is not an IPv4 address in %s", addr, prefix))
	}

	if s.InterfaceFor(dev) != nil {
		return sim.NewConfigurationError(s.Name(), "Address",
			fmt.Sprintf("device %s already has an address", dev.Name()))
	}

	return nil
}

func (s *Ipv4) isLocal(addr netip.Addr) bool {
	for _, i := range s.interfaces {
		if i != nil && i.address == addr {
			return true
		}
	}

	return false
}

func (s *Ipv4) isBroadcastFor(addr netip.Addr) bool {
	if addr == limitedBroadcast {
		return true
	}

	for _, i := range s.interfaces {
		if i != nil && i.Broadcast() == addr {
			return true
		}
	}

	return false
}

// Send routes a datagram built by a transport protocol. If src is not valid,
// the address of the outgoing interface is used.
func (s *Ipv4) Send(pkt *network.Packet, src, dst netip.Addr, protocol uint8) error {
	s.sentAny = true

	hdr := Ipv4Header{
		Source:         src,
		Destination:    dst,
		Protocol:       protocol,
		Ttl:            s.defaultTtl,
		Identification: s.nextIdent,
	}
	s.nextIdent++

	if s.isLocal(dst) {
		if !hdr.Source.IsValid() {
			hdr.Source = dst
		}
		pkt.AddHeader(hdr)
		s.invoke(HookPosIpv4Send, pkt, nil)

		_, err := s.engine.Schedule(&loopbackEvent{
			EventBase: sim.NewEventBase(s.engine.CurrentTime(), s),
			pkt:       pkt,
		})
		return err
	}

	route, ok := s.routes.Lookup(dst)
	if !ok {
		if !hdr.Source.IsValid() && len(s.Addresses()) > 0 {
			hdr.Source = s.Addresses()[0]
		}
		pkt.AddHeader(hdr)
		s.invoke(HookPosIpv4Send, pkt, nil)
		s.drop(pkt, DropNoRoute)
		return fmt.Errorf("%s to %s: %w", s.node.Name(), dst, ErrNoRoute)
	}

	iface := s.interfaces[route.Interface]
	if !hdr.Source.IsValid() {
		hdr.Source = iface.address
	}
	pkt.AddHeader(hdr)
	s.invoke(HookPosIpv4Send, pkt, nil)

	return s.sendOut(pkt, route, iface, dst)
}

func (s *Ipv4) sendOut(pkt *network.Packet, route Route, iface *Interface, dst netip.Addr) error {
	mac, ok := s.resolve(iface, route.NextHop(dst))
	if !ok {
		s.drop(pkt, DropUnresolved)
		return fmt.Errorf("%s to %s via %s: %w",
			s.node.Name(), dst, route.NextHop(dst), ErrHostUnreachable)
	}

	if err := iface.device.Send(pkt, mac); err != nil {
		s.drop(pkt, DropDeviceRefused)
		return err
	}

	return nil
}

// resolve finds the link-layer address of a neighbor by asking the stacks of
// the other devices on the channel.
func (s *Ipv4) resolve(iface *Interface, nextHop netip.Addr) (network.MacAddress, bool) {
	if nextHop == limitedBroadcast || nextHop == iface.Broadcast() {
		return network.BroadcastMac, true
	}

	for _, peer := range network.PeerDevices(iface.device) {
		stack := StackOf(peer.Node())
		if stack == nil {
			continue
		}

		pif := stack.InterfaceFor(peer)
		if pif != nil && pif.address == nextHop {
			return peer.MacAddress(), true
		}
	}

	return network.MacAddress{}, false
}

// Receive takes a datagram from a device of the node.
func (s *Ipv4) Receive(dev network.Device, pkt *network.Packet, _ network.MacAddress) {
	hdr, ok := pkt.PeekHeader().(Ipv4Header)
	if !ok {
		s.drop(pkt, DropMalformed)
		return
	}

	if s.InterfaceFor(dev) == nil {
		s.drop(pkt, DropNoInterface)
		return
	}

	if s.isLocal(hdr.Destination) || s.isBroadcastFor(hdr.Destination) {
		s.deliverLocal(pkt)
		return
	}

	if !s.forwarding {
		s.drop(pkt, DropNotForwarding)
		return
	}

	_, err := s.engine.Schedule(&forwardEvent{
		EventBase: sim.NewEventBase(s.engine.CurrentTime()+s.forwardingDelay, s),
		pkt:       pkt,
	})
	if err != nil {
		log.Panicf("%s: cannot schedule forwarding: %v", s.Name(), err)
	}
}

// Handle processes the events of the stack.
func (s *Ipv4) Handle(e sim.Event) error {
	switch e := e.(type) {
	case *forwardEvent:
		s.forward(e.pkt)
	case *loopbackEvent:
		s.deliverLocal(e.pkt)
	default:
		log.Panicf("cannot handle event of type %T", e)
	}

	return nil
}

func (s *Ipv4) forward(pkt *network.Packet) {
	hdr := pkt.PeekHeader().(Ipv4Header)

	if hdr.Ttl <= 1 {
		s.drop(pkt, DropTtlExpired)
		return
	}

	hdr.Ttl--
	pkt.ReplaceHeader(hdr)

	route, ok := s.routes.Lookup(hdr.Destination)
	if !ok {
		s.drop(pkt, DropNoRoute)
		return
	}

	s.invoke(HookPosIpv4Forward, pkt, nil)

	err := s.sendOut(pkt, route, s.interfaces[route.Interface], hdr.Destination)
	if err != nil {
		s.logger.Debug("forwarding failed",
			"packet", pkt.ID, "error", err.Error())
	}
}

func (s *Ipv4) deliverLocal(pkt *network.Packet) {
	s.invoke(HookPosIpv4Deliver, pkt, nil)

	hdr := pkt.RemoveHeader().(Ipv4Header)

	switch hdr.Protocol {
	case ProtocolUdp:
		s.deliverUdp(pkt, hdr)
	case ProtocolTcp:
		s.deliverTcp(pkt, hdr)
	default:
		pkt.AddHeader(hdr)
		s.drop(pkt, DropMalformed)
	}
}

func (s *Ipv4) deliverUdp(pkt *network.Packet, ipHdr Ipv4Header) {
	udpHdr, ok := pkt.RemoveHeader().(UdpHeader)
	if !ok {
		s.drop(pkt, DropMalformed)
		return
	}

	sock, found := s.sockets[udpHdr.DestinationPort]
	if !found {
		s.logger.Debug("udp port unreachable",
			"port", udpHdr.DestinationPort, "packet", pkt.ID)
		s.drop(pkt, DropPortUnreachable)
		return
	}

	sock.deliver(pkt, netip.AddrPortFrom(ipHdr.Source, udpHdr.SourcePort))
}

func (s *Ipv4) invoke(pos *sim.HookPos, pkt *network.Packet, detail interface{}) {
	if s.NumHooks() == 0 {
		return
	}

	s.InvokeHook(sim.HookCtx{
		Domain: s,
		Pos:    pos,
		Item:   pkt,
		Detail: detail,
	})
}

func (s *Ipv4) drop(pkt *network.Packet, reason DropReason) {
	s.invoke(HookPosIpv4Drop, pkt, reason)
}

// AddNetworkRoute installs a static route to a subnet through a gateway.
func (s *Ipv4) AddNetworkRoute(dst netip.Prefix, gateway netip.Addr, ifIndex int) error {
	if ifIndex < 0 || ifIndex >= len(s.interfaces) || s.interfaces[ifIndex] == nil {
		return sim.NewConfigurationError(s.Name(), "Route",
			fmt.Sprintf("interface %d has no address", ifIndex))
	}

	s.routes.Add(Route{
		Destination: dst,
		Gateway:     gateway,
		Interface:   ifIndex,
		Metric:      1,
		Origin:      OriginStatic,
	})

	return nil
}

// AddHostRoute installs a static route to a single address.
func (s *Ipv4) AddHostRoute(dst, gateway netip.Addr, ifIndex int) error {
	return s.AddNetworkRoute(netip.PrefixFrom(dst, 32), gateway, ifIndex)
}

// SetDefaultRoute installs a static route for all destinations.
func (s *Ipv4) SetDefaultRoute(gateway netip.Addr, ifIndex int) error {
	return s.AddNetworkRoute(netip.PrefixFrom(netip.IPv4Unspecified(), 0), gateway, ifIndex)
}
