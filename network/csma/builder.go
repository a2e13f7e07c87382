package csma

import (
	"log/slog"

	"github.com/iti/rngstream"

	"github.com/XinWenfei/netsim/network"
	"github.com/XinWenfei/netsim/sim"
)

// Builder can help building CSMA buses.
type Builder struct {
	topology  *network.Topology
	dataRate  network.DataRate
	delay     sim.VTimeInSec
	queueSize int
	mtu       int
	backoff   Backoff
	logger    *slog.Logger
}

// MakeBuilder creates a builder with the default attributes.
func MakeBuilder() Builder {
	return Builder{
		dataRate:  100 * network.Mbps,
		queueSize: 100,
		mtu:       1500,
		backoff:   DefaultBackoff(),
	}
}

// WithTopology sets the topology that owns the bus.
func (b Builder) WithTopology(t *network.Topology) Builder {
	b.topology = t
	return b
}

// WithDataRate sets the rate of the bus.
func (b Builder) WithDataRate(r network.DataRate) Builder {
	b.dataRate = r
	return b
}

// WithDelay sets the propagation delay of the bus.
func (b Builder) WithDelay(d sim.VTimeInSec) Builder {
	b.delay = d
	return b
}

// WithQueueSize sets the number of frames each device can queue.
func (b Builder) WithQueueSize(n int) Builder {
	b.queueSize = n
	return b
}

// WithMtu sets the largest packet size of the devices.
func (b Builder) WithMtu(mtu int) Builder {
	b.mtu = mtu
	return b
}

// WithBackoff sets the backoff policy of the devices.
func (b Builder) WithBackoff(backoff Backoff) Builder {
	b.backoff = backoff
	return b
}

// WithLogger sets the logger of the devices.
func (b Builder) WithLogger(l *slog.Logger) Builder {
	b.logger = l
	return b
}

func (b Builder) validate() error {
	const comp = "Csma"

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

	return b.backoff.validate()
}

// Install creates a bus and attaches one new device on each node.
func (b Builder) Install(nodes ...*network.Node) (*Channel, []*Device, error) {
	if err := b.validate(); err != nil {
		return nil, nil, err
	}

	ch := &Channel{
		ComponentBase: sim.NewComponentBase(b.topology.NextName("CsmaChannel")),
		engine:        b.topology.Engine(),
		dataRate:      b.dataRate,
		delay:         b.delay,
	}
	b.topology.AddChannel(ch)

	devs := make([]*Device, 0, len(nodes))
	for _, n := range nodes {
		devs = append(devs, b.Attach(ch, n))
	}

	return ch, devs, nil
}

// Attach adds a new device on the node and connects it to an existing bus.
func (b Builder) Attach(ch *Channel, node *network.Node) *Device {
	logger := b.logger
	if logger == nil {
		logger = b.topology.Logger()
	}

	name := sim.BuildNameWithIndex(node.Name(), "Csma", node.NumDevices())

	d := &Device{backoff: b.backoff}
	d.DeviceBase = network.NewDeviceBase(
		name,
		b.topology.Engine(),
		node,
		b.topology.AllocateMac(),
		b.mtu,
		logger,
	)
	d.backoff.rng = rngstream.New(name)
	d.queue = sim.NewQueue[*frame](sim.BuildName(name, "TxQueue"), b.queueSize)
	d.Attach(d)
	ch.attach(d)

	return d
}
