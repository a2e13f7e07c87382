package internet

import (
	"fmt"
	"net/netip"
)

// Protocol numbers carried in the IPv4 header.
const (
	ProtocolTcp uint8 = 6
	ProtocolUdp uint8 = 17
)

// Ipv4HeaderSize is the size of an IPv4 header without options.
const Ipv4HeaderSize = 20

// UdpHeaderSize is the size of a UDP header.
const UdpHeaderSize = 8

// TcpHeaderSize is the size of a TCP header without options.
const TcpHeaderSize = 20

// Ipv4Header is the network-layer header of a datagram.
type Ipv4Header struct {
	Source         netip.Addr
	Destination    netip.Addr
	Protocol       uint8
	Ttl            uint8
	Identification uint16
}

// Size returns the size of the header on the wire.
func (h Ipv4Header) Size() int {
	return Ipv4HeaderSize
}

func (h Ipv4Header) String() string {
	return fmt.Sprintf("%s > %s proto %d ttl %d id %d",
		h.Source, h.Destination, h.Protocol, h.Ttl, h.Identification)
}

// UdpHeader is the transport-layer header of a UDP datagram.
type UdpHeader struct {
	SourcePort      uint16
	DestinationPort uint16
}

// Size returns the size of the header on the wire.
func (h UdpHeader) Size() int {
	return UdpHeaderSize
}

func (h UdpHeader) String() string {
	return fmt.Sprintf("udp %d > %d", h.SourcePort, h.DestinationPort)
}

// TcpFlags are the control bits of a TCP segment.
type TcpFlags uint8

// TCP control bits.
const (
	TcpFin TcpFlags = 0x01
	TcpSyn TcpFlags = 0x02
	TcpRst TcpFlags = 0x04
	TcpAck TcpFlags = 0x10
)

// Has tells if all the bits of f are set.
func (f TcpFlags) Has(bits TcpFlags) bool {
	return f&bits == bits
}

func (f TcpFlags) String() string {
	names := []struct {
		bit  TcpFlags
		name string
	}{{TcpSyn, "SYN"}, {TcpFin, "FIN"}, {TcpRst, "RST"}, {TcpAck, "ACK"}}

	s := ""
	for _, n := range names {
		if f.Has(n.bit) {
			if s != "" {
				s += "|"
			}
			s += n.name
		}
	}

	return s
}

// TcpHeader is the transport-layer header of a TCP segment.
type TcpHeader struct {
	SourcePort      uint16
	DestinationPort uint16
	Sequence        uint32
	Acknowledgement uint32
	Flags           TcpFlags
	Window          uint16
}

// Size returns the size of the header on the wire.
func (h TcpHeader) Size() int {
	return TcpHeaderSize
}

func (h TcpHeader) String() string {
	return fmt.Sprintf("tcp %d > %d [%s] seq %d ack %d win %d",
		h.SourcePort, h.DestinationPort, h.Flags,
		h.Sequence, h.Acknowledgement, h.Window)
}
