package p2p

import (
	"log/slog"

	"github.com/XinWenfei/netsim/network"
	"github.com/XinWenfei/netsim/sim"
)

// Builder can help building point-to-point links.
type Builder struct {
	topology  *network.Topology
	dataRate  network.DataRate
	delay     sim.VTimeInSec
	queueSize int
	mtu       int
	logger    *slog.Logger
}

// MakeBuilder creates a builder with the default attributes.
func MakeBuilder() Builder {
	return Builder{
		dataRate:  32768 * network.Bps,
		queueSize: 100,
		mtu:       1500,
	}
}

// WithTopology sets the topology that owns the link.
func (b Builder) WithTopology(t *network.Topology) Builder {
	b.topology = t
	return b
}

// WithDataRate sets the transmission rate of both devices.
func (b Builder) WithDataRate(r network.DataRate) Builder {
	b.dataRate = r
	return b
}

// WithDelay sets the propagation delay of the link.
func (b Builder) WithDelay(d sim.VTimeInSec) Builder {
	b.delay = d
	return b
}

// WithQueueSize sets the number of packets each device can queue.
func (b Builder) WithQueueSize(n int) Builder {
	b.queueSize = n
	return b
}

// WithMtu sets the largest packet size of both devices.
func (b Builder) WithMtu(mtu int) Builder {
	b.mtu = mtu
	return b
}

// WithLogger sets the logger of the devices.
func (b Builder) WithLogger(l *slog.Logger) Builder {
	b.logger = l
	return b
}

func (b Builder) validate() error {
	const comp = "PointToPoint"

	switch {
	case b.topology == nil:
		return sim.NewConfigurationError(comp, "Topology", "is required")
	case b.dataRate <= 0:
		return sim.NewConfigurationError(comp, "DataRate", "must be positive")
	case b.delay < 0:
		return sim.NewConfigurationError(comp, "Delay", "must not be negative")
	case b.queueSize <= 0:
		return sim.NewConfigurationError(comp, "QueueSize", "must be positive")
	case b.mtu <= 0:
		return sim.NewConfigurationError(comp, "Mtu", "must be positive")
	}

	return nil
}

// Install connects two nodes with a new link and returns the link and the
// devices created on a and b.
func (b Builder) Install(a, c *network.Node) (*Channel, *Device, *Device, error) {
	if err := b.validate(); err != nil {
		return nil, nil, nil, err
	}

	if a == c {
		return nil, nil, nil, sim.NewConfigurationError(
			"PointToPoint", "Nodes", "a link needs two different nodes")
	}

	ch := &Channel{
		name:  b.topology.NextName("PointToPointChannel"),
		delay: b.delay,
	}

	devA := b.buildDevice(a)
	devB := b.buildDevice(c)
	ch.attach(devA)
	ch.attach(devB)
	b.topology.AddChannel(ch)

	return ch, devA, devB, nil
}

func (b Builder) buildDevice(node *network.Node) *Device {
	logger := b.logger
	if logger == nil {
		logger = b.topology.Logger()
	}

	name := sim.BuildNameWithIndex(
		node.Name(), "PointToPoint", node.NumDevices())

	d := &Device{dataRate: b.dataRate}
	d.DeviceBase = network.NewDeviceBase(
		name,
		b.topology.Engine(),
		node,
		b.topology.AllocateMac(),
		b.mtu,
		logger,
	)
	d.queue = sim.NewQueue[*network.Packet](sim.BuildName(name, "TxQueue"), b.queueSize)
	d.Attach(d)

	return d
}
