package internet

import (
	"fmt"
	"log/slog"

	"github.com/XinWenfei/netsim/network"
	"github.com/XinWenfei/netsim/sim"
)

// StackBuilder installs IPv4 stacks on nodes.
type StackBuilder struct {
	engine          sim.Engine
	logger          *slog.Logger
	defaultTtl      uint8
	forwardingDelay sim.VTimeInSec
	forwarding      bool
}

// MakeStackBuilder creates a StackBuilder with the default attributes.
func MakeStackBuilder() StackBuilder {
	return StackBuilder{
		defaultTtl: 64,
		forwarding: true,
	}
}

// WithEngine sets the engine that the stacks schedule events on.
func (b StackBuilder) WithEngine(e sim.Engine) StackBuilder {
	b.engine = e
	return b
}

// WithLogger sets the logger of the stacks.
func (b StackBuilder) WithLogger(l *slog.Logger) StackBuilder {
	b.logger = l
	return b
}

// WithDefaultTtl sets the TTL of originated datagrams.
func (b StackBuilder) WithDefaultTtl(ttl uint8) StackBuilder {
	b.defaultTtl = ttl
	return b
}

// WithForwardingDelay sets the processing time of a routed datagram.
func (b StackBuilder) WithForwardingDelay(d sim.VTimeInSec) StackBuilder {
	b.forwardingDelay = d
	return b
}

// WithForwarding turns routing of transit datagrams on or off.
func (b StackBuilder) WithForwarding(on bool) StackBuilder {
	b.forwarding = on
	return b
}

func (b StackBuilder) validate() error {
	const comp = "Ipv4"

	switch {
	case b.engine == nil:
		return sim.NewConfigurationError(comp, "Engine", "is required")
	case b.defaultTtl == 0:
		return sim.NewConfigurationError(comp, "DefaultTtl", "must be positive")
	case b.forwardingDelay < 0:
		return sim.NewConfigurationError(comp, "ForwardingDelay",
			"must not be negative")
	}

	return nil
}

// Install creates a stack on each node. Nodes that already have a stack are
// rejected.
func (b StackBuilder) Install(nodes ...*network.Node) ([]*Ipv4, error) {
	if err := b.validate(); err != nil {
		return nil, err
	}

	for _, n := range nodes {
		if n.ProtocolStack() != nil {
			return nil, sim.NewConfigurationError("Ipv4", "Node",
				fmt.Sprintf("%s already has a protocol stack", n.Name()))
		}
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	stacks := make([]*Ipv4, 0, len(nodes))
	for _, n := range nodes {
		name := sim.BuildName(n.Name(), "Ipv4")
		s := &Ipv4{
			ComponentBase:   sim.NewComponentBase(name),
			engine:          b.engine,
			node:            n,
			logger:          logger.With("stack", name),
			routes:          NewRoutingTable(),
			sockets:         make(map[uint16]*UdpSocket),
			tcpPorts:        make(map[uint16]*TcpSocket),
			tcpListeners:    make(map[uint16]*TcpSocket),
			tcpConns:        make(map[tcpKey]*TcpSocket),
			nextEphemeral:   ephemeralPortStart,
			defaultTtl:      b.defaultTtl,
			forwardingDelay: b.forwardingDelay,
			forwarding:      b.forwarding,
		}
		n.SetProtocolStack(s)
		stacks = append(stacks, s)
	}

	return stacks, nil
}

// InstallStack installs stacks with the default attributes.
func InstallStack(engine sim.Engine, nodes ...*network.Node) ([]*Ipv4, error) {
	return MakeStackBuilder().WithEngine(engine).Install(nodes...)
}
