package internet

import (
	"fmt"
	"math"
	"net/netip"
	"slices"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"

	"github.com/XinWenfei/netsim/network"
)

// PopulateRoutingTables computes hop-count shortest paths over the graph of
// nodes and channels and installs a global route on every node for every
// reachable remote subnet. Running it again replaces the global routes of
// the previous run.
//
// It must be called after all channels are built and all devices are
// numbered, and before any datagram is sent. Otherwise a TopologyError is
// returned and no table is changed.
func PopulateRoutingTables(nodes []*network.Node) error {
	if err := checkTopology(nodes); err != nil {
		return err
	}

	g := buildNodeGraph(nodes)
	paths, ok := path.FloydWarshall(g)
	if !ok {
		return &TopologyError{Reason: "negative cycle in node graph"}
	}

	owners := subnetOwners(nodes)
	subnets := make([]netip.Prefix, 0, len(owners))
	for p := range owners {
		subnets = append(subnets, p)
	}
	slices.SortFunc(subnets, comparePrefix)

	for _, n := range nodes {
		stack := StackOf(n)
		stack.routes.RemoveByOrigin(OriginGlobal)

		for _, subnet := range subnets {
			if slices.Contains(owners[subnet], n) {
				continue
			}

			owner, hops := nearestOwner(paths, n, owners[subnet])
			if owner == nil {
				continue
			}

			next := firstHop(paths, n, owner)
			route, found := routeVia(stack, next)
			if !found {
				return &TopologyError{
					Node:   n.Name(),
					Reason: fmt.Sprintf("no shared channel with %s", next.Name()),
				}
			}

			route.Destination = subnet
			route.Metric = hops
			route.Origin = OriginGlobal
			stack.routes.Add(route)
		}
	}

	return nil
}

func checkTopology(nodes []*network.Node) error {
	for _, n := range nodes {
		stack := StackOf(n)
		if stack == nil {
			return &TopologyError{Node: n.Name(), Reason: "no IPv4 stack installed"}
		}

		if stack.HasSent() {
			return &TopologyError{
				Node:   n.Name(),
				Reason: "routing computed after traffic was sent",
			}
		}

		for _, d := range n.Devices() {
			if d.Channel() == nil {
				return &TopologyError{
					Node:   n.Name(),
					Reason: fmt.Sprintf("device %s is not attached", d.Name()),
				}
			}

			if stack.InterfaceFor(d) == nil {
				return &TopologyError{
					Node:   n.Name(),
					Reason: fmt.Sprintf("device %s has no address", d.Name()),
				}
			}
		}
	}

	return nil
}

func buildNodeGraph(nodes []*network.Node) graph.Graph {
	g := simple.NewWeightedUndirectedGraph(0, math.Inf(1))
	known := make(map[*network.Node]bool, len(nodes))

	for _, n := range nodes {
		g.AddNode(simple.Node(n.ID()))
		known[n] = true
	}

	for _, n := range nodes {
		for _, d := range n.Devices() {
			for _, peer := range network.PeerDevices(d) {
				other := peer.Node()
				if other == n || !known[other] {
					continue
				}

				g.SetWeightedEdge(simple.WeightedEdge{
					F: simple.Node(n.ID()),
					T: simple.Node(other.ID()),
					W: 1,
				})
			}
		}
	}

	return g
}

func subnetOwners(nodes []*network.Node) map[netip.Prefix][]*network.Node {
	owners := make(map[netip.Prefix][]*network.Node)
	for _, n := range nodes {
		for _, iface := range StackOf(n).Interfaces() {
			p := iface.Prefix()
			if !slices.Contains(owners[p], n) {
				owners[p] = append(owners[p], n)
			}
		}
	}

	return owners
}

func comparePrefix(a, b netip.Prefix) int {
	if c := a.Addr().Compare(b.Addr()); c != 0 {
		return c
	}

	return a.Bits() - b.Bits()
}

// nearestOwner returns the closest node attached to the subnet. Ties go to
// the smallest node ID.
func nearestOwner(
	paths path.AllShortest,
	from *network.Node,
	owners []*network.Node,
) (*network.Node, int) {
	var (
		best     *network.Node
		bestCost = math.Inf(1)
	)

	for _, o := range owners {
		w := paths.Weight(int64(from.ID()), int64(o.ID()))
		if math.IsInf(w, 1) {
			continue
		}

		if w < bestCost || (w == bestCost && o.ID() < best.ID()) {
			best = o
			bestCost = w
		}
	}

	if best == nil {
		return nil, 0
	}

	return best, int(bestCost)
}

// firstHop returns the neighbor of from on the lexicographically smallest
// shortest path to the destination.
func firstHop(paths path.AllShortest, from, to *network.Node) *network.Node {
	all, _ := paths.AllBetween(int64(from.ID()), int64(to.ID()))

	var best []int64
	for _, p := range all {
		ids := make([]int64, len(p))
		for i, n := range p {
			ids[i] = n.ID()
		}

		if best == nil || slices.Compare(ids, best) < 0 {
			best = ids
		}
	}

	hop := uint32(best[1])
	for _, d := range from.Devices() {
		for _, peer := range network.PeerDevices(d) {
			if peer.Node().ID() == hop {
				return peer.Node()
			}
		}
	}

	return nil
}

// routeVia returns a route template that reaches the neighbor through the
// first interface sharing a channel with it.
func routeVia(stack *Ipv4, next *network.Node) (Route, bool) {
	if next == nil {
		return Route{}, false
	}

	nextStack := StackOf(next)
	for _, iface := range stack.Interfaces() {
		for _, peer := range network.PeerDevices(iface.Device()) {
			if peer.Node() != next {
				continue
			}

			return Route{
				Gateway:   nextStack.InterfaceFor(peer).Address(),
				Interface: iface.Index(),
			}, true
		}
	}

	return Route{}, false
}
