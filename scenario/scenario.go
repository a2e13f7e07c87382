package scenario

import (
	"fmt"
	"net/netip"

	"github.com/XinWenfei/netsim/applications"
	"github.com/XinWenfei/netsim/flowmonitor"
	"github.com/XinWenfei/netsim/internet"
	"github.com/XinWenfei/netsim/mobility"
	"github.com/XinWenfei/netsim/network"
	"github.com/XinWenfei/netsim/network/csma"
	"github.com/XinWenfei/netsim/network/p2p"
	"github.com/XinWenfei/netsim/network/wifi"
	"github.com/XinWenfei/netsim/sim"
	"github.com/XinWenfei/netsim/simulation"
)

// maxPacketDelay is how long a packet may stay in flight before the flow
// monitor counts it as lost.
const maxPacketDelay = 10 * sim.Second

func configError(field, reason string) error {
	return sim.NewConfigurationError("Scenario", field, reason)
}

// Network holds the parts of a built scenario.
type Network struct {
	P2pNodes  []*network.Node
	CsmaNodes []*network.Node
	StaNodes  []*network.Node
	ApNode    *network.Node

	P2pChannel  *p2p.Channel
	CsmaChannel *csma.Channel
	WifiChannel *wifi.Channel
	ApDevice    *wifi.Device

	Server        *applications.UdpEchoServer
	Client        *applications.UdpEchoClient
	ServerAddress netip.Addr

	OnOffs      []*applications.OnOffApplication
	Sink        *applications.PacketSink
	SinkAddress netip.Addr

	FlowMonitor *flowmonitor.Monitor
}

// Build creates the scenario inside the simulation: nodes, devices, stacks,
// addresses, routes, mobility and applications.
func Build(s *simulation.Simulation, cfg Config) (*Network, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	n := &Network{}

	if err := n.buildP2p(s, cfg.P2p); err != nil {
		return nil, err
	}

	if cfg.Csma.Nodes > 0 {
		if err := n.buildCsma(s, cfg.Csma); err != nil {
			return nil, err
		}
	}

	if cfg.Wifi.Stations > 0 {
		if err := n.buildWifi(s, cfg.Wifi); err != nil {
			return nil, err
		}
	}

	_, err := internet.MakeStackBuilder().
		WithEngine(s.Engine()).
		WithLogger(s.Logger()).
		Install(s.Topology().Nodes()...)
	if err != nil {
		return nil, err
	}

	if err := n.assignAddresses(cfg); err != nil {
		return nil, err
	}

	if err := internet.PopulateRoutingTables(s.Topology().Nodes()); err != nil {
		return nil, fmt.Errorf("populating routing tables: %w", err)
	}

	if cfg.Echo.Port != 0 {
		if err := n.installEcho(s, cfg.Echo); err != nil {
			return nil, err
		}
	}

	if cfg.OnOff.Port != 0 {
		if err := n.installOnOff(s, cfg.OnOff); err != nil {
			return nil, err
		}
	}

	if cfg.FlowMonitor {
		n.FlowMonitor = flowmonitor.NewMonitor(s.Engine())
		n.FlowMonitor.InstallAll(s.Topology().Nodes()...)
	}

	n.enableTraces(s)

	return n, nil
}

func (n *Network) buildP2p(s *simulation.Simulation, cfg LinkConfig) error {
	rate, err := network.ParseDataRate(cfg.DataRate)
	if err != nil {
		return err
	}

	n.P2pNodes = s.Topology().CreateNodes(2)

	n.P2pChannel, _, _, err = p2p.MakeBuilder().
		WithTopology(s.Topology()).
		WithDataRate(rate).
		WithDelay(sim.FromDuration(cfg.Delay)).
		WithQueueSize(cfg.QueueSize).
		WithLogger(s.Logger()).
		Install(n.P2pNodes[0], n.P2pNodes[1])
	if err != nil {
		return err
	}

	if len(cfg.Positions) == 0 {
		return nil
	}

	return mobility.MakeHelper().
		WithPositionAllocator(&mobility.ListPositionAllocator{Positions: cfg.Positions}).
		WithConstantPosition().
		Install(n.P2pNodes...)
}

func (n *Network) buildCsma(s *simulation.Simulation, cfg CsmaConfig) error {
	rate, err := network.ParseDataRate(cfg.DataRate)
	if err != nil {
		return err
	}

	n.CsmaNodes = append([]*network.Node{n.P2pNodes[1]},
		s.Topology().CreateNodes(cfg.Nodes)...)

	n.CsmaChannel, _, err = csma.MakeBuilder().
		WithTopology(s.Topology()).
		WithDataRate(rate).
		WithDelay(sim.FromDuration(cfg.Delay)).
		WithQueueSize(cfg.QueueSize).
		WithLogger(s.Logger()).
		Install(n.CsmaNodes...)

	return err
}

func (n *Network) buildWifi(s *simulation.Simulation, cfg WifiConfig) error {
	rate, err := network.ParseDataRate(cfg.DataRate)
	if err != nil {
		return err
	}

	n.StaNodes = s.Topology().CreateNodes(cfg.Stations)
	n.ApNode = n.P2pNodes[0]

	n.WifiChannel, err = wifi.MakeChannelBuilder().
		WithTopology(s.Topology()).
		WithMaxRange(cfg.MaxRange).
		Build()
	if err != nil {
		return err
	}

	builder := wifi.MakeBuilder().
		WithTopology(s.Topology()).
		WithDataRate(rate).
		WithSsid(cfg.Ssid).
		WithLogger(s.Logger())

	if _, err := builder.WithMode(wifi.ModeSta).Install(n.WifiChannel, n.StaNodes...); err != nil {
		return err
	}

	aps, err := builder.WithMode(wifi.ModeAp).Install(n.WifiChannel, n.ApNode)
	if err != nil {
		return err
	}
	n.ApDevice = aps[0]

	grid := &mobility.GridPositionAllocator{
		MinX:      cfg.Grid.MinX,
		MinY:      cfg.Grid.MinY,
		DeltaX:    cfg.Grid.DeltaX,
		DeltaY:    cfg.Grid.DeltaY,
		GridWidth: cfg.Grid.Width,
		Layout:    mobility.RowFirst,
	}

	walk := mobility.MakeRandomWalkBuilder().
		WithEngine(s.Engine()).
		WithBounds(mobility.Rectangle{
			MinX: cfg.Bounds.MinX,
			MaxX: cfg.Bounds.MaxX,
			MinY: cfg.Bounds.MinY,
			MaxY: cfg.Bounds.MaxY,
		})
	if cfg.SpeedMin > 0 {
		walk = walk.WithSpeed(cfg.SpeedMin, cfg.SpeedMax)
	}

	helper := mobility.MakeHelper().WithPositionAllocator(grid)

	if err := helper.WithRandomWalk(walk).Install(n.StaNodes...); err != nil {
		return err
	}

	return helper.WithConstantPosition().Install(n.ApNode)
}

func (n *Network) assignAddresses(cfg Config) error {
	p2pAddrs, err := assign(cfg.P2p.Subnet, n.P2pChannel.Devices()...)
	if err != nil {
		return err
	}
	n.ServerAddress = p2pAddrs[1]
	n.SinkAddress = p2pAddrs[1]

	if n.CsmaChannel != nil {
		csmaAddrs, err := assign(cfg.Csma.Subnet, n.CsmaChannel.Devices()...)
		if err != nil {
			return err
		}
		n.ServerAddress = csmaAddrs[len(csmaAddrs)-1]
	}

	if n.WifiChannel != nil {
		// Stations are numbered before the access point.
		devs := make([]network.Device, 0, len(n.StaNodes)+1)
		for _, sta := range n.StaNodes {
			devs = append(devs, sta.Device(0))
		}
		devs = append(devs, n.ApDevice)

		if _, err := assign(cfg.Wifi.Subnet, devs...); err != nil {
			return err
		}
	}

	return nil
}

func assign(subnet SubnetConfig, devs ...network.Device) ([]netip.Addr, error) {
	helper, err := internet.NewAddressHelper(subnet.Base, subnet.Mask)
	if err != nil {
		return nil, err
	}

	return helper.Assign(devs...)
}

// serverNode is the last node of the bus, or the far end of the link.
func (n *Network) serverNode() *network.Node {
	if len(n.CsmaNodes) > 0 {
		return n.CsmaNodes[len(n.CsmaNodes)-1]
	}

	return n.P2pNodes[1]
}

// clientNode is the last station, or the near end of the link.
func (n *Network) clientNode() *network.Node {
	if len(n.StaNodes) > 0 {
		return n.StaNodes[len(n.StaNodes)-1]
	}

	return n.P2pNodes[0]
}

func (n *Network) installEcho(s *simulation.Simulation, cfg EchoConfig) error {
	server, err := applications.MakeUdpEchoServerBuilder().
		WithEngine(s.Engine()).
		WithLogger(s.Logger()).
		WithPort(cfg.Port).
		Install(n.serverNode())
	if err != nil {
		return err
	}

	client, err := applications.MakeUdpEchoClientBuilder().
		WithEngine(s.Engine()).
		WithLogger(s.Logger()).
		WithRemote(netip.AddrPortFrom(n.ServerAddress, cfg.Port)).
		WithMaxPackets(cfg.MaxPackets).
		WithInterval(sim.FromDuration(cfg.Interval)).
		WithPacketSize(cfg.PacketSize).
		Install(n.clientNode())
	if err != nil {
		return err
	}

	n.Server = server
	n.Client = client

	steps := []scheduleStep{
		{server, sim.FromDuration(cfg.ServerStart), false},
		{server, sim.FromDuration(cfg.ServerStop), true},
		{client, sim.FromDuration(cfg.ClientStart), false},
		{client, sim.FromDuration(cfg.ClientStop), true},
	}

	return schedule(steps)
}

type scheduleStep struct {
	app  applications.Application
	at   sim.VTimeInSec
	stop bool
}

func schedule(steps []scheduleStep) error {
	for _, step := range steps {
		var err error
		if step.stop {
			err = step.app.ScheduleStop(step.at)
		} else {
			err = step.app.ScheduleStart(step.at)
		}

		if err != nil {
			return fmt.Errorf("scheduling %s: %w", step.app.Name(), err)
		}
	}

	return nil
}

// installOnOff puts the sink on the far end of the link and a sender on
// both link nodes. The far end sends to itself.
func (n *Network) installOnOff(s *simulation.Simulation, cfg OnOffConfig) error {
	rate, err := network.ParseDataRate(cfg.DataRate)
	if err != nil {
		return err
	}
	transport := applications.Transport(cfg.Transport)

	n.Sink, err = applications.MakePacketSinkBuilder().
		WithEngine(s.Engine()).
		WithLogger(s.Logger()).
		WithTransport(transport).
		WithPort(cfg.Port).
		Install(n.P2pNodes[1])
	if err != nil {
		return err
	}

	steps := []scheduleStep{{n.Sink, sim.FromDuration(cfg.SinkStart), false}}
	if cfg.SinkStop > 0 {
		steps = append(steps, scheduleStep{n.Sink, sim.FromDuration(cfg.SinkStop), true})
	}

	builder := applications.MakeOnOffBuilder().
		WithEngine(s.Engine()).
		WithLogger(s.Logger()).
		WithTransport(transport).
		WithRemote(netip.AddrPortFrom(n.SinkAddress, cfg.Port)).
		WithDataRate(rate).
		WithPacketSize(cfg.PacketSize).
		WithOnTime(sim.FromDuration(cfg.OnTime)).
		WithOffTime(sim.FromDuration(cfg.OffTime)).
		WithMaxBytes(cfg.MaxBytes)

	for _, node := range n.P2pNodes {
		app, err := builder.Install(node)
		if err != nil {
			return err
		}
		n.OnOffs = append(n.OnOffs, app)

		steps = append(steps,
			scheduleStep{app, sim.FromDuration(cfg.Start), false},
			scheduleStep{app, sim.FromDuration(cfg.Stop), true})
	}

	return schedule(steps)
}

// enableTraces records every frame of the link, the frames of the second
// bus device and the frames of the access point.
func (n *Network) enableTraces(s *simulation.Simulation) {
	tracer := s.Tracer()
	if tracer == nil {
		return
	}

	for _, d := range n.P2pChannel.Devices() {
		tracer.EnableTrace(d)
	}

	if n.CsmaChannel != nil && len(n.CsmaChannel.Devices()) > 1 {
		tracer.EnableTrace(n.CsmaChannel.Devices()[1])
	}

	if n.ApDevice != nil {
		tracer.EnableTrace(n.ApDevice)
	}
}
