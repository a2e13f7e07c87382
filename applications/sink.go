package applications

import (
	"log/slog"
	"net/netip"

	"github.com/XinWenfei/netsim/internet"
	"github.com/XinWenfei/netsim/network"
	"github.com/XinWenfei/netsim/sim"
)

// PacketSink consumes the datagrams or the TCP streams sent to a port. Over
// TCP every in-order arrival counts as one packet, and connections are
// closed when the peer closes them.
type PacketSink struct {
	*ApplicationBase

	transport Transport
	port      uint16
	udp       *internet.UdpSocket
	listener  *internet.TcpSocket
	conns     []*internet.TcpSocket
	packets   uint64
	bytes     uint64
	first     sim.VTimeInSec
	last      sim.VTimeInSec
}

// ReceivedPackets returns the number of datagrams received.
func (s *PacketSink) ReceivedPackets() uint64 {
	return s.packets
}

// ReceivedBytes returns the number of payload bytes received.
func (s *PacketSink) ReceivedBytes() uint64 {
	return s.bytes
}

// Throughput returns the average rate between the first and the last
// datagram, or zero if fewer than two were received.
func (s *PacketSink) Throughput() network.DataRate {
	if s.packets < 2 || s.last <= s.first {
		return 0
	}

	return network.DataRate(float64(s.bytes*8) / float64(s.last-s.first))
}

// Handle processes the lifecycle events of the sink.
func (s *PacketSink) Handle(e sim.Event) error {
	return s.handleLifecycle(s, e)
}

// Connections returns the number of TCP connections accepted.
func (s *PacketSink) Connections() int {
	return len(s.conns)
}

func (s *PacketSink) startApplication() error {
	if s.transport == TransportTcp {
		return s.listen()
	}

	s.udp = s.stack.NewUdpSocket()
	if err := s.udp.Bind(s.port); err != nil {
		return err
	}
	s.udp.SetRecvCallback(func(_ *internet.UdpSocket, pkt *network.Packet, from netip.AddrPort) {
		s.record(pkt.Size(), from)
	})

	return nil
}

func (s *PacketSink) listen() error {
	s.listener = s.stack.NewTcpSocket()
	if err := s.listener.Bind(s.port); err != nil {
		return err
	}

	s.listener.SetAcceptCallback(func(c *internet.TcpSocket) {
		s.conns = append(s.conns, c)
		s.Logger.Debug("sink accepted", "from", c.RemoteAddress().String())

		c.SetRecvCallback(func(c *internet.TcpSocket, n int) {
			s.record(n, c.RemoteAddress())
		})
		c.SetPeerCloseCallback(func(c *internet.TcpSocket) {
			c.Close()
		})
	})

	return s.listener.Listen()
}

func (s *PacketSink) stopApplication() error {
	if s.udp != nil {
		s.udp.Close()
		s.udp = nil
	}

	if s.listener != nil {
		s.listener.Close()
		s.listener = nil
	}

	for _, c := range s.conns {
		c.Close()
	}

	return nil
}

func (s *PacketSink) record(n int, from netip.AddrPort) {
	now := s.Engine.CurrentTime()
	if s.packets == 0 {
		s.first = now
	}
	s.last = now

	s.packets++
	s.bytes += uint64(n)

	s.Logger.Debug("sink received",
		"time", float64(now),
		"bytes", n,
		"from", from.String())
}

// PacketSinkBuilder builds PacketSinks.
type PacketSinkBuilder struct {
	engine    sim.Engine
	logger    *slog.Logger
	transport Transport
	port      uint16
}

// MakePacketSinkBuilder creates a builder with the default attributes.
func MakePacketSinkBuilder() PacketSinkBuilder {
	return PacketSinkBuilder{transport: TransportUdp, port: 9}
}

// WithTransport selects a UDP socket or a TCP listener.
func (b PacketSinkBuilder) WithTransport(t Transport) PacketSinkBuilder {
	b.transport = t
	return b
}

// WithEngine sets the engine.
func (b PacketSinkBuilder) WithEngine(e sim.Engine) PacketSinkBuilder {
	b.engine = e
	return b
}

// WithLogger sets the logger.
func (b PacketSinkBuilder) WithLogger(l *slog.Logger) PacketSinkBuilder {
	b.logger = l
	return b
}

// WithPort sets the listening port.
func (b PacketSinkBuilder) WithPort(p uint16) PacketSinkBuilder {
	b.port = p
	return b
}

// Install creates a sink on the node.
func (b PacketSinkBuilder) Install(node *network.Node) (*PacketSink, error) {
	if b.port == 0 {
		return nil, sim.NewConfigurationError("PacketSink", "Port", "must be set")
	}

	if err := b.transport.validate("PacketSink"); err != nil {
		return nil, err
	}

	base, err := newApplicationBase("PacketSink", b.engine, node, b.logger)
	if err != nil {
		return nil, err
	}

	s := &PacketSink{ApplicationBase: base, transport: b.transport, port: b.port}
	base.register(s)

	return s, nil
}
