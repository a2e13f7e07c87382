package internet

import (
	"fmt"
	"net/netip"

	"github.com/XinWenfei/netsim/network"
)

const (
	ephemeralPortStart uint16 = 49153
	ephemeralPortEnd   uint16 = 65535
)

// RecvCallback is called when a datagram arrives at a socket. The packet
// carries the payload only.
type RecvCallback func(sock *UdpSocket, pkt *network.Packet, from netip.AddrPort)

// A UdpSocket sends and receives datagrams on one local port.
type UdpSocket struct {
	stack  *Ipv4
	port   uint16
	bound  bool
	closed bool
	recv   RecvCallback
}

// NewUdpSocket creates an unbound socket on the stack.
func (s *Ipv4) NewUdpSocket() *UdpSocket {
	return &UdpSocket{stack: s}
}

// Bind attaches the socket to a local port. Port 0 picks a free ephemeral
// port.
func (u *UdpSocket) Bind(port uint16) error {
	if u.closed {
		return ErrSocketClosed
	}

	if u.bound {
		return fmt.Errorf("socket already bound to port %d", u.port)
	}

	if port == 0 {
		p, err := u.stack.allocateEphemeral()
		if err != nil {
			return err
		}
		port = p
	}

	if _, used := u.stack.sockets[port]; used {
		return fmt.Errorf("%s port %d: %w", u.stack.node.Name(), port, ErrPortInUse)
	}

	u.stack.sockets[port] = u
	u.port = port
	u.bound = true

	return nil
}

func (s *Ipv4) allocateEphemeral() (uint16, error) {
	span := int(ephemeralPortEnd-ephemeralPortStart) + 1
	for i := 0; i < span; i++ {
		p := s.nextEphemeral
		if s.nextEphemeral == ephemeralPortEnd {
			s.nextEphemeral = ephemeralPortStart
		} else {
			s.nextEphemeral++
		}

		_, udpUsed := s.sockets[p]
		_, tcpUsed := s.tcpPorts[p]
		if !udpUsed && !tcpUsed {
			return p, nil
		}
	}

	return 0, fmt.Errorf("%s: no free ephemeral port: %w", s.node.Name(), ErrPortInUse)
}

// LocalPort returns the bound port, or 0.
func (u *UdpSocket) LocalPort() uint16 {
	return u.port
}

// Stack returns the IPv4 stack of the socket.
func (u *UdpSocket) Stack() *Ipv4 {
	return u.stack
}

// SetRecvCallback sets the function that receives the datagrams.
func (u *UdpSocket) SetRecvCallback(cb RecvCallback) {
	u.recv = cb
}

// SendTo sends the packet to a remote endpoint. An unbound socket is bound to
// an ephemeral port first.
func (u *UdpSocket) SendTo(pkt *network.Packet, to netip.AddrPort) error {
	if u.closed {
		return ErrSocketClosed
	}

	if !u.bound {
		if err := u.Bind(0); err != nil {
			return err
		}
	}

	pkt.AddHeader(UdpHeader{
		SourcePort:      u.port,
		DestinationPort: to.Port(),
	})

	return u.stack.Send(pkt, netip.Addr{}, to.Addr(), ProtocolUdp)
}

// Close releases the port. Datagrams arriving afterwards are dropped.
func (u *UdpSocket) Close() {
	if u.closed {
		return
	}

	if u.bound {
		delete(u.stack.sockets, u.port)
	}
	u.closed = true
	u.recv = nil
}

func (u *UdpSocket) deliver(pkt *network.Packet, from netip.AddrPort) {
	if u.recv == nil {
		return
	}

	u.recv(u, pkt, from)
}

// BindEphemeral binds the socket to a free port from the ephemeral range.
func (u *UdpSocket) BindEphemeral() error {
	return u.Bind(0)
}
