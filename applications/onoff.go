package applications

import (
	"log"
	"log/slog"
	"net/netip"

	"github.com/XinWenfei/netsim/internet"
	"github.com/XinWenfei/netsim/network"
	"github.com/XinWenfei/netsim/sim"
)

type onOffSendEvent struct {
	*sim.EventBase
}

type onOffToggleEvent struct {
	*sim.EventBase
}

// OnOffApplication sends constant bit rate traffic during on periods and
// stays silent during off periods. The rate holds across periods: a send cut
// short by an off period resumes with the remaining wait. Over TCP the
// first on period starts once the connection is up.
type OnOffApplication struct {
	*ApplicationBase

	transport  Transport
	remote     netip.AddrPort
	dataRate   network.DataRate
	packetSize int
	onTime     sim.VTimeInSec
	offTime    sim.VTimeInSec
	maxBytes   uint64

	udp       *internet.UdpSocket
	tcp       *internet.TcpSocket
	on        bool
	nextSend  *sim.EventHandle
	toggle    *sim.EventHandle
	owed      sim.VTimeInSec
	sentBytes uint64
	sent      uint64
}

// Transport returns the transport the application sends over.
func (a *OnOffApplication) Transport() Transport {
	return a.transport
}

// SentPackets returns the number of packets sent.
func (a *OnOffApplication) SentPackets() uint64 {
	return a.sent
}

// SentBytes returns the number of payload bytes sent.
func (a *OnOffApplication) SentBytes() uint64 {
	return a.sentBytes
}

// Handle processes the events of the application.
func (a *OnOffApplication) Handle(e sim.Event) error {
	switch e.(type) {
	case *onOffSendEvent:
		a.nextSend = nil
		return a.send()
	case *onOffToggleEvent:
		a.toggle = nil
		if a.on {
			return a.switchOff()
		}
		return a.switchOn()
	}

	return a.handleLifecycle(a, e)
}

func (a *OnOffApplication) startApplication() error {
	if a.transport == TransportTcp {
		return a.connect()
	}

	a.udp = a.stack.NewUdpSocket()
	if err := a.udp.BindEphemeral(); err != nil {
		return err
	}

	return a.switchOn()
}

func (a *OnOffApplication) connect() error {
	a.tcp = a.stack.NewTcpSocket()
	a.tcp.SetConnectCallback(func(sock *internet.TcpSocket, err error) {
		if err != nil {
			a.Logger.Warn("connection failed",
				"remote", a.remote.String(), "error", err.Error())
			return
		}

		if !a.running || sock != a.tcp {
			return
		}

		if err := a.switchOn(); err != nil {
			log.Panicf("%s: %v", a.Name(), err)
		}
	})

	return a.tcp.Connect(a.remote)
}

func (a *OnOffApplication) stopApplication() error {
	a.cancelAll()
	a.on = false
	a.owed = 0

	if a.udp != nil {
		a.udp.Close()
		a.udp = nil
	}

	if a.tcp != nil {
		a.tcp.Close()
		a.tcp = nil
	}

	return nil
}

func (a *OnOffApplication) cancelAll() {
	if a.nextSend != nil {
		a.Engine.Cancel(a.nextSend)
		a.nextSend = nil
	}

	if a.toggle != nil {
		a.Engine.Cancel(a.toggle)
		a.toggle = nil
	}
}

func (a *OnOffApplication) limitReached() bool {
	return a.maxBytes > 0 && a.sentBytes >= a.maxBytes
}

func (a *OnOffApplication) switchOn() error {
	if a.limitReached() {
		return nil
	}

	a.on = true
	if err := a.scheduleToggle(a.onTime); err != nil {
		return err
	}

	wait := a.owed
	a.owed = 0

	return a.scheduleSend(wait)
}

func (a *OnOffApplication) switchOff() error {
	a.on = false
	if a.nextSend != nil {
		a.owed = a.nextSend.Event().Time() - a.Engine.CurrentTime()
		a.Engine.Cancel(a.nextSend)
		a.nextSend = nil
	}

	return a.scheduleToggle(a.offTime)
}

func (a *OnOffApplication) scheduleToggle(after sim.VTimeInSec) error {
	h, err := a.Engine.Schedule(&onOffToggleEvent{
		EventBase: sim.NewEventBase(a.Engine.CurrentTime()+after, a),
	})
	if err != nil {
		return err
	}
	a.toggle = h

	return nil
}

func (a *OnOffApplication) scheduleSend(after sim.VTimeInSec) error {
	h, err := a.Engine.Schedule(&onOffSendEvent{
		EventBase: sim.NewEventBase(a.Engine.CurrentTime()+after, a),
	})
	if err != nil {
		return err
	}
	a.nextSend = h

	return nil
}

func (a *OnOffApplication) send() error {
	size := a.packetSize
	if a.maxBytes > 0 && a.sentBytes+uint64(size) > a.maxBytes {
		size = int(a.maxBytes - a.sentBytes)
	}

	if a.transport == TransportTcp {
		n, err := a.tcp.Send(size)
		if err != nil || n < size {
			a.Logger.Debug("send buffer full", "wanted", size, "accepted", n)
		}
		size = n
	} else if err := a.udp.SendTo(network.NewPacket(size), a.remote); err != nil {
		a.Logger.Debug("send failed", "error", err.Error())
	}

	if size > 0 {
		a.sent++
		a.sentBytes += uint64(size)
	}

	if a.limitReached() {
		a.cancelAll()
		a.on = false
		return nil
	}

	return a.scheduleSend(a.dataRate.TxTime(a.packetSize))
}

// OnOffBuilder builds OnOffApplications.
type OnOffBuilder struct {
	engine     sim.Engine
	logger     *slog.Logger
	transport  Transport
	remote     netip.AddrPort
	dataRate   network.DataRate
	packetSize int
	onTime     sim.VTimeInSec
	offTime    sim.VTimeInSec
	maxBytes   uint64
}

// MakeOnOffBuilder creates a builder with the default attributes.
func MakeOnOffBuilder() OnOffBuilder {
	return OnOffBuilder{
		transport:  TransportUdp,
		dataRate:   500 * network.Kbps,
		packetSize: 512,
		onTime:     1,
		offTime:    1,
	}
}

// WithEngine sets the engine.
func (b OnOffBuilder) WithEngine(e sim.Engine) OnOffBuilder {
	b.engine = e
	return b
}

// WithLogger sets the logger.
func (b OnOffBuilder) WithLogger(l *slog.Logger) OnOffBuilder {
	b.logger = l
	return b
}

// WithTransport selects UDP datagrams or a TCP connection.
func (b OnOffBuilder) WithTransport(t Transport) OnOffBuilder {
	b.transport = t
	return b
}

// WithRemote sets the destination.
func (b OnOffBuilder) WithRemote(r netip.AddrPort) OnOffBuilder {
	b.remote = r
	return b
}

// WithDataRate sets the sending rate during on periods.
func (b OnOffBuilder) WithDataRate(r network.DataRate) OnOffBuilder {
	b.dataRate = r
	return b
}

// WithPacketSize sets the payload size of each packet.
func (b OnOffBuilder) WithPacketSize(n int) OnOffBuilder {
	b.packetSize = n
	return b
}

// WithOnTime sets the duration of on periods.
func (b OnOffBuilder) WithOnTime(t sim.VTimeInSec) OnOffBuilder {
	b.onTime = t
	return b
}

// WithOffTime sets the duration of off periods.
func (b OnOffBuilder) WithOffTime(t sim.VTimeInSec) OnOffBuilder {
	b.offTime = t
	return b
}

// WithMaxBytes sets the total number of bytes to send. Zero means no limit.
func (b OnOffBuilder) WithMaxBytes(n uint64) OnOffBuilder {
	b.maxBytes = n
	return b
}

func (b OnOffBuilder) validate() error {
	const comp = "OnOffApplication"

	switch {
	case !b.remote.IsValid():
		return sim.NewConfigurationError(comp, "Remote", "must be set")
	case b.dataRate <= 0:
		return sim.NewConfigurationError(comp, "DataRate", "must be positive")
	case b.packetSize <= 0:
		return sim.NewConfigurationError(comp, "PacketSize", "must be positive")
	case b.onTime <= 0:
		return sim.NewConfigurationError(comp, "OnTime", "must be positive")
	case b.offTime < 0:
		return sim.NewConfigurationError(comp, "OffTime", "must not be negative")
	}

	return b.transport.validate(comp)
}

// Install creates the application on the node.
func (b OnOffBuilder) Install(node *network.Node) (*OnOffApplication, error) {
	if err := b.validate(); err != nil {
		return nil, err
	}

	base, err := newApplicationBase("OnOff", b.engine, node, b.logger)
	if err != nil {
		return nil, err
	}

	a := &OnOffApplication{
		ApplicationBase: base,
		transport:       b.transport,
		remote:          b.remote,
		dataRate:        b.dataRate,
		packetSize:      b.packetSize,
		onTime:          b.onTime,
		offTime:         b.offTime,
		maxBytes:        b.maxBytes,
	}
	base.register(a)

	return a, nil
}
