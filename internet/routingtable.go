package internet

import (
	"fmt"
	"net/netip"
	"strings"
)

// RouteOrigin tells which mechanism installed a route.
type RouteOrigin int

// The origins of routes, in order of preference when prefixes and metrics
// tie.
const (
	OriginConnected RouteOrigin = iota
	OriginStatic
	OriginGlobal
)

func (o RouteOrigin) String() string {
	switch o {
	case OriginConnected:
		return "connected"
	case OriginStatic:
		return "static"
	case OriginGlobal:
		return "global"
	}

	return "unknown"
}

// A Route sends the datagrams for a destination prefix out of an interface,
// either directly or through a gateway.
type Route struct {
	Destination netip.Prefix

	// Gateway is the next hop. It is the zero Addr for directly connected
	// destinations.
	Gateway   netip.Addr
	Interface int
	Metric    int
	Origin    RouteOrigin
}

// IsDirect tells if the destination is on the link of the interface.
func (r Route) IsDirect() bool {
	return !r.Gateway.IsValid()
}

// NextHop returns the address that the link layer should deliver to.
func (r Route) NextHop(dst netip.Addr) netip.Addr {
	if r.IsDirect() {
		return dst
	}

	return r.Gateway
}

func (r Route) String() string {
	gw := "direct"
	if !r.IsDirect() {
		gw = "via " + r.Gateway.String()
	}

	return fmt.Sprintf("%s %s if %d metric %d (%s)",
		r.Destination, gw, r.Interface, r.Metric, r.Origin)
}

// RoutingTable finds the route of a destination by longest prefix match.
type RoutingTable struct {
	routes []Route
}

// NewRoutingTable creates an empty RoutingTable.
func NewRoutingTable() *RoutingTable {
	return &RoutingTable{}
}

// Add installs a route. The destination is normalized to its network
// address.
func (t *RoutingTable) Add(r Route) {
	r.Destination = r.Destination.Masked()
	t.routes = append(t.routes, r)
}

// Lookup returns the most specific route that covers dst. Among routes with
// the same prefix the lowest metric wins, then the preferred origin, then the
// earliest installed.
func (t *RoutingTable) Lookup(dst netip.Addr) (Route, bool) {
	var (
		best  Route
		found bool
	)

	for _, r := range t.routes {
		if !r.Destination.Contains(dst) {
			continue
		}

		if !found || better(r, best) {
			best = r
			found = true
		}
	}

	return best, found
}

func better(a, b Route) bool {
	if a.Destination.Bits() != b.Destination.Bits() {
		return a.Destination.Bits() > b.Destination.Bits()
	}

	if a.Metric != b.Metric {
		return a.Metric < b.Metric
	}

	return a.Origin < b.Origin
}

// RemoveByOrigin deletes all the routes installed by one mechanism and
// returns how many were removed.
func (t *RoutingTable) RemoveByOrigin(o RouteOrigin) int {
	kept := t.routes[:0]
	removed := 0

	for _, r := range t.routes {
		if r.Origin == o {
			removed++
			continue
		}
		kept = append(kept, r)
	}

	for i := len(kept); i < len(t.routes); i++ {
		t.routes[i] = Route{}
	}
	t.routes = kept

	return removed
}

// Routes returns a copy of the routes in installation order.
func (t *RoutingTable) Routes() []Route {
	return append([]Route(nil), t.routes...)
}

// Len returns the number of routes.
func (t *RoutingTable) Len() int {
	return len(t.routes)
}

func (t *RoutingTable) String() string {
	var sb strings.Builder
	for _, r := range t.routes {
		sb.WriteString(r.String())
		sb.WriteString("\n")
	}

	return sb.String()
}
