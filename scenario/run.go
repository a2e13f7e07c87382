package scenario

import (
	"fmt"
	"io"

	"github.com/XinWenfei/netsim/internet"
	"github.com/XinWenfei/netsim/sim"
	"github.com/XinWenfei/netsim/simulation"
)

// Result summarizes a finished run.
type Result struct {
	Name           string
	EndTime        sim.VTimeInSec
	Sent           int
	Received       int
	ServerReceived uint64
	OnOffSent      uint64
	SinkReceived   uint64
	Connections    int
	Flows          []string
}

// Run builds the scenario, runs the simulation and collects the echo and the
// on-off counts.
// The simulation is not terminated.
func Run(s *simulation.Simulation, cfg Config) (*Result, *Network, error) {
	n, err := Build(s, cfg)
	if err != nil {
		return nil, nil, err
	}

	if err := s.Run(); err != nil {
		return nil, n, err
	}

	res := &Result{
		Name:    cfg.Name,
		EndTime: s.Engine().CurrentTime(),
	}

	if n.Client != nil {
		res.Sent = n.Client.Sent()
		res.Received = n.Client.Received()
		res.ServerReceived = n.Server.Received()
	}

	for _, app := range n.OnOffs {
		res.OnOffSent += app.SentBytes()
	}

	if n.Sink != nil {
		res.SinkReceived = n.Sink.ReceivedBytes()
		res.Connections = n.Sink.Connections()
	}

	if n.FlowMonitor != nil {
		n.FlowMonitor.CheckForLostPackets(maxPacketDelay)
		res.Flows = n.FlowMonitor.Summary()
	}

	return res, n, nil
}

// WriteRoutes prints the routing table of every node.
func WriteRoutes(w io.Writer, s *simulation.Simulation) error {
	for _, node := range s.Topology().Nodes() {
		stack := internet.StackOf(node)
		if stack == nil {
			continue
		}

		if _, err := fmt.Fprintf(w, "%s\n%s\n", node.Name(), stack.RoutingTable()); err != nil {
			return err
		}
	}

	return nil
}
