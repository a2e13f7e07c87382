package network

import (
	"fmt"
	"log/slog"

	"github.com/XinWenfei/netsim/sim"
)

// A Topology owns the nodes and channels of a simulation.
type Topology struct {
	engine   sim.Engine
	logger   *slog.Logger
	nodes    []*Node
	channels []Channel
	macs     *MacAllocator
	counters map[string]int
}

// NewTopology creates an empty topology whose components schedule events on
// the given engine.
func NewTopology(engine sim.Engine, logger *slog.Logger) *Topology {
	if logger == nil {
		logger = slog.Default()
	}

	return &Topology{
		engine:   engine,
		logger:   logger,
		macs:     NewMacAllocator(),
		counters: make(map[string]int),
	}
}

// Engine returns the engine shared by all the components.
func (t *Topology) Engine() sim.Engine {
	return t.engine
}

// Logger returns the logger that components derive their loggers from.
func (t *Topology) Logger() *slog.Logger {
	return t.logger
}

// CreateNode adds a node with the next sequential ID.
func (t *Topology) CreateNode() *Node {
	n := newNode(uint32(len(t.nodes)))
	t.nodes = append(t.nodes, n)
	return n
}

// CreateNodes adds count nodes.
func (t *Topology) CreateNodes(count int) []*Node {
	nodes := make([]*Node, count)
	for i := range nodes {
		nodes[i] = t.CreateNode()
	}

	return nodes
}

// Nodes returns all the nodes ordered by ID.
func (t *Topology) Nodes() []*Node {
	return t.nodes
}

// Node returns the node with the given ID.
func (t *Topology) Node(id uint32) (*Node, error) {
	if int(id) >= len(t.nodes) {
		return nil, fmt.Errorf("node %d does not exist", id)
	}

	return t.nodes[id], nil
}

// AllocateMac returns a unique link-layer address.
func (t *Topology) AllocateMac() MacAddress {
	return t.macs.Allocate()
}

// NextName returns a unique name for the next element of the given kind,
// such as PointToPoint[0], PointToPoint[1].
func (t *Topology) NextName(kind string) string {
	i := t.counters[kind]
	t.counters[kind] = i + 1
	return sim.BuildNameWithIndex("", kind, i)
}

// AddChannel registers a channel.
func (t *Topology) AddChannel(ch Channel) {
	t.channels = append(t.channels, ch)
}

// Channels returns the registered channels.
func (t *Topology) Channels() []Channel {
	return t.channels
}

// Devices returns every device of every node, ordered by node then
// interface index.
func (t *Topology) Devices() []Device {
	var devs []Device
	for _, n := range t.nodes {
		devs = append(devs, n.Devices()...)
	}

	return devs
}
