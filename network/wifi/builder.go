package wifi

import (
	"log/slog"

	"github.com/iti/rngstream"

	"github.com/XinWenfei/netsim/network"
	"github.com/XinWenfei/netsim/sim"
)

// ChannelBuilder can help building wireless media.
type ChannelBuilder struct {
	topology *network.Topology
	maxRange float64
	speed    float64
}

// MakeChannelBuilder creates a ChannelBuilder with a 250 m range.
func MakeChannelBuilder() ChannelBuilder {
	return ChannelBuilder{
		maxRange: 250,
		speed:    SpeedOfLight,
	}
}

// WithTopology sets the topology that owns the medium.
func (b ChannelBuilder) WithTopology(t *network.Topology) ChannelBuilder {
	b.topology = t
	return b
}

// WithMaxRange sets the distance beyond which frames are not received.
func (b ChannelBuilder) WithMaxRange(meters float64) ChannelBuilder {
	b.maxRange = meters
	return b
}

// WithPropagationSpeed sets the speed of the signal in meters per second.
func (b ChannelBuilder) WithPropagationSpeed(speed float64) ChannelBuilder {
	b.speed = speed
	return b
}

// Build creates the medium.
func (b ChannelBuilder) Build() (*Channel, error) {
	switch {
	case b.topology == nil:
		return nil, sim.NewConfigurationError("WifiChannel", "Topology", "is required")
	case b.maxRange <= 0:
		return nil, sim.NewConfigurationError("WifiChannel", "MaxRange", "must be positive")
	case b.speed <= 0:
		return nil, sim.NewConfigurationError("WifiChannel", "Speed", "must be positive")
	}

	ch := &Channel{
		name:     b.topology.NextName("WifiChannel"),
		engine:   b.topology.Engine(),
		maxRange: b.maxRange,
		speed:    b.speed,
	}
	b.topology.AddChannel(ch)

	return ch, nil
}

// Builder can help building wireless devices.
type Builder struct {
	topology  *network.Topology
	dataRate  network.DataRate
	ssid      string
	mode      Mode
	dcf       Dcf
	queueSize int
	mtu       int
	logger    *slog.Logger
}

// MakeBuilder creates a Builder for stations transmitting at 6 Mbps.
func MakeBuilder() Builder {
	return Builder{
		dataRate:  6 * network.Mbps,
		ssid:      "default",
		mode:      ModeSta,
		dcf:       DefaultDcf(),
		queueSize: 100,
		mtu:       2296,
	}
}

// WithTopology sets the topology that owns the devices.
func (b Builder) WithTopology(t *network.Topology) Builder {
	b.topology = t
	return b
}

// WithDataRate sets the transmission rate.
func (b Builder) WithDataRate(r network.DataRate) Builder {
	b.dataRate = r
	return b
}

// WithSsid sets the network that the devices join.
func (b Builder) WithSsid(ssid string) Builder {
	b.ssid = ssid
	return b
}

// WithMode sets the role of the devices.
func (b Builder) WithMode(m Mode) Builder {
	b.mode = m
	return b
}

// WithDcf sets the contention parameters.
func (b Builder) WithDcf(dcf Dcf) Builder {
	b.dcf = dcf
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

// WithLogger sets the logger of the devices.
func (b Builder) WithLogger(l *slog.Logger) Builder {
	b.logger = l
	return b
}

func (b Builder) validate() error {
	const comp = "Wifi"

	switch {
	case b.topology == nil:
		return sim.NewConfigurationError(comp, "Topology", "is required")
	case b.dataRate <= 0:
		return sim.NewConfigurationError(comp, "DataRate", "must be positive")
	case b.ssid == "":
		return sim.NewConfigurationError(comp, "Ssid", "must not be empty")
	case b.queueSize <= 0:
		return sim.NewConfigurationError(comp, "QueueSize", "must be positive")
	case b.mtu <= 0:
		return sim.NewConfigurationError(comp, "Mtu", "must be positive")
	}

	return b.dcf.validate()
}

// Install creates one device on each node and attaches it to the medium.
func (b Builder) Install(ch *Channel, nodes ...*network.Node) ([]*Device, error) {
	if err := b.validate(); err != nil {
		return nil, err
	}

	if ch == nil {
		return nil, sim.NewConfigurationError("Wifi", "Channel", "is required")
	}

	logger := b.logger
	if logger == nil {
		logger = b.topology.Logger()
	}

	devs := make([]*Device, 0, len(nodes))
	for _, node := range nodes {
		name := sim.BuildNameWithIndex(node.Name(), "Wifi", node.NumDevices())

		d := &Device{
			dataRate: b.dataRate,
			ssid:     b.ssid,
			mode:     b.mode,
			dcf:      b.dcf,
			rng:      rngstream.New(name),
		}
		d.DeviceBase = network.NewDeviceBase(
			name,
			b.topology.Engine(),
			node,
			b.topology.AllocateMac(),
			b.mtu,
			logger.With("ssid", b.ssid, "mode", b.mode.String()),
		)
		d.queue = sim.NewQueue[*frame](sim.BuildName(name, "TxQueue"), b.queueSize)
		d.Attach(d)
		ch.attach(d)

		devs = append(devs, d)
	}

	return devs, nil
}
