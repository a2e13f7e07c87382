package applications

import (
	"log/slog"
	"net/netip"

	"github.com/XinWenfei/netsim/internet"
	"github.com/XinWenfei/netsim/network"
	"github.com/XinWenfei/netsim/sim"
)

// UdpEchoServer sends every datagram it receives back to its sender.
type UdpEchoServer struct {
	*ApplicationBase

	port     uint16
	socket   *internet.UdpSocket
	received uint64
}

// Port returns the port the server listens on.
func (s *UdpEchoServer) Port() uint16 {
	return s.port
}

// Received returns the number of datagrams received.
func (s *UdpEchoServer) Received() uint64 {
	return s.received
}

// Handle processes the lifecycle events of the server.
func (s *UdpEchoServer) Handle(e sim.Event) error {
	return s.handleLifecycle(s, e)
}

func (s *UdpEchoServer) startApplication() error {
	s.socket = s.stack.NewUdpSocket()
	if err := s.socket.Bind(s.port); err != nil {
		return err
	}
	s.socket.SetRecvCallback(s.recv)

	return nil
}

func (s *UdpEchoServer) stopApplication() error {
	if s.socket != nil {
		s.socket.Close()
		s.socket = nil
	}

	return nil
}

func (s *UdpEchoServer) recv(
	sock *internet.UdpSocket,
	pkt *network.Packet,
	from netip.AddrPort,
) {
	s.received++
	s.Logger.Info("server received",
		"time", s.now(),
		"bytes", pkt.Size(),
		"from", from.Addr().String(),
		"port", from.Port())

	var reply *network.Packet
	if len(pkt.Payload()) > 0 {
		reply = network.NewPacketWithPayload(pkt.Payload())
	} else {
		reply = network.NewPacket(pkt.PayloadSize())
	}

	s.Logger.Info("server sent",
		"time", s.now(),
		"bytes", reply.Size(),
		"to", from.Addr().String(),
		"port", from.Port())

	if err := sock.SendTo(reply, from); err != nil {
		s.Logger.Warn("echo failed", "error", err.Error())
	}
}

// UdpEchoServerBuilder builds UdpEchoServers.
type UdpEchoServerBuilder struct {
	engine sim.Engine
	logger *slog.Logger
	port   uint16
}

// MakeUdpEchoServerBuilder creates a builder with the default attributes.
func MakeUdpEchoServerBuilder() UdpEchoServerBuilder {
	return UdpEchoServerBuilder{port: 9}
}

// WithEngine sets the engine.
func (b UdpEchoServerBuilder) WithEngine(e sim.Engine) UdpEchoServerBuilder {
	b.engine = e
	return b
}

// WithLogger sets the logger.
func (b UdpEchoServerBuilder) WithLogger(l *slog.Logger) UdpEchoServerBuilder {
	b.logger = l
	return b
}

// WithPort sets the listening port.
func (b UdpEchoServerBuilder) WithPort(p uint16) UdpEchoServerBuilder {
	b.port = p
	return b
}

// Install creates a server on the node.
func (b UdpEchoServerBuilder) Install(node *network.Node) (*UdpEchoServer, error) {
	if b.port == 0 {
		return nil, sim.NewConfigurationError("UdpEchoServer", "Port", "must be set")
	}

	base, err := newApplicationBase("UdpEchoServer", b.engine, node, b.logger)
	if err != nil {
		return nil, err
	}

	s := &UdpEchoServer{ApplicationBase: base, port: b.port}
	base.register(s)

	return s, nil
}

type echoSendEvent struct {
	*sim.EventBase
}

// UdpEchoClient sends a number of datagrams to an echo server at a fixed
// interval and counts the replies.
type UdpEchoClient struct {
	*ApplicationBase

	remote     netip.AddrPort
	maxPackets int
	interval   sim.VTimeInSec
	packetSize int

	socket   *internet.UdpSocket
	pending  *sim.EventHandle
	sent     int
	received int
}

// Sent returns the number of requests sent.
func (c *UdpEchoClient) Sent() int {
	return c.sent
}

// Received returns the number of replies received.
func (c *UdpEchoClient) Received() int {
	return c.received
}

// Remote returns the address of the server.
func (c *UdpEchoClient) Remote() netip.AddrPort {
	return c.remote
}

// Handle processes the events of the client.
func (c *UdpEchoClient) Handle(e sim.Event) error {
	if _, ok := e.(*echoSendEvent); ok {
		c.pending = nil
		return c.send()
	}

	return c.handleLifecycle(c, e)
}

func (c *UdpEchoClient) startApplication() error {
	c.socket = c.stack.NewUdpSocket()
	if err := c.socket.BindEphemeral(); err != nil {
		return err
	}
	c.socket.SetRecvCallback(c.recv)

	return c.scheduleSend(0)
}

func (c *UdpEchoClient) stopApplication() error {
	if c.pending != nil {
		c.Engine.Cancel(c.pending)
		c.pending = nil
	}

	if c.socket != nil {
		c.socket.Close()
		c.socket = nil
	}

	return nil
}

func (c *UdpEchoClient) scheduleSend(delay sim.VTimeInSec) error {
	h, err := c.Engine.Schedule(&echoSendEvent{
		EventBase: sim.NewEventBase(c.Engine.CurrentTime()+delay, c),
	})
	if err != nil {
		return err
	}
	c.pending = h

	return nil
}

func (c *UdpEchoClient) send() error {
	pkt := network.NewPacket(c.packetSize)
	c.sent++

	c.Logger.Info("client sent",
		"time", c.now(),
		"bytes", c.packetSize,
		"to", c.remote.Addr().String(),
		"port", c.remote.Port())

	if err := c.socket.SendTo(pkt, c.remote); err != nil {
		c.Logger.Warn("send failed", "error", err.Error())
	}

	if c.maxPackets > 0 && c.sent >= c.maxPackets {
		return nil
	}

	return c.scheduleSend(c.interval)
}

func (c *UdpEchoClient) recv(
	_ *internet.UdpSocket,
	pkt *network.Packet,
	from netip.AddrPort,
) {
	c.received++
	c.Logger.Info("client received",
		"time", c.now(),
		"bytes", pkt.Size(),
		"from", from.Addr().String(),
		"port", from.Port())
}

// UdpEchoClientBuilder builds UdpEchoClients.
type UdpEchoClientBuilder struct {
	engine     sim.Engine
	logger     *slog.Logger
	remote     netip.AddrPort
	maxPackets int
	interval   sim.VTimeInSec
	packetSize int
}

// MakeUdpEchoClientBuilder creates a builder with the default attributes.
func MakeUdpEchoClientBuilder() UdpEchoClientBuilder {
	return UdpEchoClientBuilder{
		maxPackets: 1,
		interval:   1,
		packetSize: 100,
	}
}

// WithEngine sets the engine.
func (b UdpEchoClientBuilder) WithEngine(e sim.Engine) UdpEchoClientBuilder {
	b.engine = e
	return b
}

// WithLogger sets the logger.
func (b UdpEchoClientBuilder) WithLogger(l *slog.Logger) UdpEchoClientBuilder {
	b.logger = l
	return b
}

// WithRemote sets the address and port of the server.
func (b UdpEchoClientBuilder) WithRemote(r netip.AddrPort) UdpEchoClientBuilder {
	b.remote = r
	return b
}

// WithMaxPackets sets how many requests to send. Zero means no limit.
func (b UdpEchoClientBuilder) WithMaxPackets(n int) UdpEchoClientBuilder {
	b.maxPackets = n
	return b
}

// WithInterval sets the time between two requests.
func (b UdpEchoClientBuilder) WithInterval(i sim.VTimeInSec) UdpEchoClientBuilder {
	b.interval = i
	return b
}

// WithPacketSize sets the payload size of the requests.
func (b UdpEchoClientBuilder) WithPacketSize(n int) UdpEchoClientBuilder {
	b.packetSize = n
	return b
}

func (b UdpEchoClientBuilder) validate() error {
	const comp = "UdpEchoClient"

	switch {
	case !b.remote.IsValid():
		return sim.NewConfigurationError(comp, "Remote", "must be set")
	case b.maxPackets < 0:
		return sim.NewConfigurationError(comp, "MaxPackets", "must not be negative")
	case b.interval <= 0:
		return sim.NewConfigurationError(comp, "Interval", "must be positive")
	case b.packetSize < 0:
		return sim.NewConfigurationError(comp, "PacketSize", "must not be negative")
	}

	return nil
}

// Install creates a client on the node.
func (b UdpEchoClientBuilder) Install(node *network.Node) (*UdpEchoClient, error) {
	if err := b.validate(); err != nil {
		return nil, err
	}

	base, err := newApplicationBase("UdpEchoClient", b.engine, node, b.logger)
	if err != nil {
		return nil, err
	}

	c := &UdpEchoClient{
		ApplicationBase: base,
		remote:          b.remote,
		maxPackets:      b.maxPackets,
		interval:        b.interval,
		packetSize:      b.packetSize,
	}
	base.register(c)

	return c, nil
}
