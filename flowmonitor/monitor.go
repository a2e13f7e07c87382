// Package flowmonitor collects per-flow statistics from IPv4 stacks.
package flowmonitor

import (
	"fmt"
	"io"
	"net/netip"

	"github.com/rcrowley/go-metrics"

	"github.com/XinWenfei/netsim/internet"
	"github.com/XinWenfei/netsim/network"
	"github.com/XinWenfei/netsim/sim"
)

// A FlowKey identifies the datagrams of one flow.
type FlowKey struct {
	Source          netip.Addr
	Destination     netip.Addr
	Protocol        uint8
	SourcePort      uint16
	DestinationPort uint16
}

func (k FlowKey) String() string {
	return fmt.Sprintf("%s:%d > %s:%d proto %d",
		k.Source, k.SourcePort, k.Destination, k.DestinationPort, k.Protocol)
}

// FlowID numbers flows in the order they are first seen, starting at 1.
type FlowID uint32

// FlowStats summarizes one flow.
type FlowStats struct {
	TxPackets      int64
	TxBytes        int64
	RxPackets      int64
	RxBytes        int64
	LostPackets    int64
	TimesForwarded int64
	FirstTx        sim.VTimeInSec
	LastRx         sim.VTimeInSec
	MeanDelay      sim.VTimeInSec
	MaxDelay       sim.VTimeInSec
	Drops          map[internet.DropReason]int64
}

type inFlight struct {
	flow   FlowID
	sentAt sim.VTimeInSec
}

type flow struct {
	key     FlowKey
	firstTx sim.VTimeInSec
	lastRx  sim.VTimeInSec
	drops   map[internet.DropReason]int64
}

// Monitor observes the datagrams that IPv4 stacks send, forward, deliver and
// drop. Flow counters live in a go-metrics registry.
type Monitor struct {
	clock    sim.TimeTeller
	registry metrics.Registry
	ids      map[FlowKey]FlowID
	flows    []*flow
	inFlight map[string]inFlight
}

// NewMonitor creates a monitor that reads time from the clock.
func NewMonitor(clock sim.TimeTeller) *Monitor {
	return &Monitor{
		clock:    clock,
		registry: metrics.NewRegistry(),
		ids:      make(map[FlowKey]FlowID),
		inFlight: make(map[string]inFlight),
	}
}

// Install attaches the monitor to the stacks.
func (m *Monitor) Install(stacks ...*internet.Ipv4) {
	for _, s := range stacks {
		s.AcceptHook(m)
	}
}

// InstallAll attaches the monitor to the stacks of all the nodes that have
// one.
func (m *Monitor) InstallAll(nodes ...*network.Node) {
	for _, n := range nodes {
		if s := internet.StackOf(n); s != nil {
			s.AcceptHook(m)
		}
	}
}

// Registry returns the registry holding the flow metrics.
func (m *Monitor) Registry() metrics.Registry {
	return m.registry
}

// Func implements the sim.Hook interface.
func (m *Monitor) Func(ctx sim.HookCtx) {
	pkt, ok := ctx.Item.(*network.Packet)
	if !ok {
		return
	}

	switch ctx.Pos {
	case internet.HookPosIpv4Send:
		m.onSend(pkt)
	case internet.HookPosIpv4Forward:
		m.onForward(pkt)
	case internet.HookPosIpv4Deliver:
		m.onDeliver(pkt)
	case internet.HookPosIpv4Drop:
		m.onDrop(pkt, ctx.Detail.(internet.DropReason))
	}
}

func classify(pkt *network.Packet) (FlowKey, bool) {
	hdrs := pkt.Headers()
	if len(hdrs) == 0 {
		return FlowKey{}, false
	}

	ip, ok := hdrs[0].(internet.Ipv4Header)
	if !ok {
		return FlowKey{}, false
	}

	key := FlowKey{
		Source:      ip.Source,
		Destination: ip.Destination,
		Protocol:    ip.Protocol,
	}

	if len(hdrs) > 1 {
		switch l4 := hdrs[1].(type) {
		case internet.UdpHeader:
			key.SourcePort = l4.SourcePort
			key.DestinationPort = l4.DestinationPort
		case internet.TcpHeader:
			key.SourcePort = l4.SourcePort
			key.DestinationPort = l4.DestinationPort
		}
	}

	return key, true
}

func (m *Monitor) flowOf(key FlowKey) FlowID {
	id, found := m.ids[key]
	if found {
		return id
	}

	m.flows = append(m.flows, &flow{
		key:     key,
		firstTx: m.clock.CurrentTime(),
		drops:   make(map[internet.DropReason]int64),
	})
	id = FlowID(len(m.flows))
	m.ids[key] = id

	return id
}

func (m *Monitor) counter(id FlowID, name string) metrics.Counter {
	return metrics.GetOrRegisterCounter(
		fmt.Sprintf("flow.%d.%s", id, name), m.registry)
}

func (m *Monitor) delayHistogram(id FlowID) metrics.Histogram {
	return metrics.GetOrRegisterHistogram(
		fmt.Sprintf("flow.%d.delay_ns", id), m.registry,
		metrics.NewUniformSample(1028))
}

func (m *Monitor) onSend(pkt *network.Packet) {
	key, ok := classify(pkt)
	if !ok {
		return
	}

	id := m.flowOf(key)
	m.counter(id, "tx_packets").Inc(1)
	m.counter(id, "tx_bytes").Inc(int64(pkt.Size()))

	m.inFlight[pkt.ID] = inFlight{flow: id, sentAt: m.clock.CurrentTime()}
}

func (m *Monitor) onForward(pkt *network.Packet) {
	rec, found := m.inFlight[pkt.ID]
	if !found {
		return
	}

	m.counter(rec.flow, "forwarded").Inc(1)
}

func (m *Monitor) onDeliver(pkt *network.Packet) {
	rec, found := m.inFlight[pkt.ID]
	if !found {
		return
	}
	delete(m.inFlight, pkt.ID)

	now := m.clock.CurrentTime()
	delay := now - rec.sentAt

	m.counter(rec.flow, "rx_packets").Inc(1)
	m.counter(rec.flow, "rx_bytes").Inc(int64(pkt.Size()))
	m.delayHistogram(rec.flow).Update(delay.Duration().Nanoseconds())
	m.flows[rec.flow-1].lastRx = now
}

func (m *Monitor) onDrop(pkt *network.Packet, reason internet.DropReason) {
	rec, found := m.inFlight[pkt.ID]
	if !found {
		return
	}
	delete(m.inFlight, pkt.ID)

	m.counter(rec.flow, "lost_packets").Inc(1)
	m.flows[rec.flow-1].drops[reason]++
}

// CheckForLostPackets declares lost the datagrams that have been in flight
// for longer than maxDelay.
func (m *Monitor) CheckForLostPackets(maxDelay sim.VTimeInSec) {
	now := m.clock.CurrentTime()
	for id, rec := range m.inFlight {
		if now-rec.sentAt <= maxDelay {
			continue
		}

		delete(m.inFlight, id)
		m.counter(rec.flow, "lost_packets").Inc(1)
	}
}

// Flows returns the IDs of the known flows in order.
func (m *Monitor) Flows() []FlowID {
	ids := make([]FlowID, len(m.flows))
	for i := range m.flows {
		ids[i] = FlowID(i + 1)
	}

	return ids
}

// Classify returns the key of a flow.
func (m *Monitor) Classify(id FlowID) (FlowKey, bool) {
	if id == 0 || int(id) > len(m.flows) {
		return FlowKey{}, false
	}

	return m.flows[id-1].key, true
}

// FindFlow returns the ID of the flow with the given key.
func (m *Monitor) FindFlow(key FlowKey) (FlowID, bool) {
	id, found := m.ids[key]
	return id, found
}

// Stats returns the statistics of every flow.
func (m *Monitor) Stats() map[FlowID]FlowStats {
	stats := make(map[FlowID]FlowStats, len(m.flows))
	for _, id := range m.Flows() {
		stats[id] = m.FlowStats(id)
	}

	return stats
}

// FlowStats returns the statistics of one flow.
func (m *Monitor) FlowStats(id FlowID) FlowStats {
	if id == 0 || int(id) > len(m.flows) {
		return FlowStats{}
	}

	f := m.flows[id-1]
	h := m.delayHistogram(id).Snapshot()

	s := FlowStats{
		TxPackets:      m.counter(id, "tx_packets").Count(),
		TxBytes:        m.counter(id, "tx_bytes").Count(),
		RxPackets:      m.counter(id, "rx_packets").Count(),
		RxBytes:        m.counter(id, "rx_bytes").Count(),
		LostPackets:    m.counter(id, "lost_packets").Count(),
		TimesForwarded: m.counter(id, "forwarded").Count(),
		FirstTx:        f.firstTx,
		LastRx:         f.lastRx,
		Drops:          make(map[internet.DropReason]int64, len(f.drops)),
	}

	if h.Count() > 0 {
		s.MeanDelay = sim.VTimeInSec(h.Mean() / 1e9)
		s.MaxDelay = sim.VTimeInSec(float64(h.Max()) / 1e9)
	}

	for r, n := range f.drops {
		s.Drops[r] = n
	}

	return s
}

// WriteJSON writes all the flow metrics as one JSON object.
func (m *Monitor) WriteJSON(w io.Writer) {
	metrics.WriteJSONOnce(m.registry, w)
}

// Summary returns one line per flow, ordered by flow ID.
func (m *Monitor) Summary() []string {
	lines := make([]string, 0, len(m.flows))
	for _, id := range m.Flows() {
		s := m.FlowStats(id)
		lines = append(lines, fmt.Sprintf(
			"flow %d (%s): tx %d pkts %d B, rx %d pkts %d B, lost %d, mean delay %.6fs",
			id, m.flows[id-1].key, s.TxPackets, s.TxBytes,
			s.RxPackets, s.RxBytes, s.LostPackets, float64(s.MeanDelay)))
	}

	return lines
}
