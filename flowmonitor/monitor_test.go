package flowmonitor

import (
	"bytes"
	"net/netip"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/XinWenfei/netsim/applications"
	"github.com/XinWenfei/netsim/internet"
	"github.com/XinWenfei/netsim/network"
	"github.com/XinWenfei/netsim/network/p2p"
	"github.com/XinWenfei/netsim/sim"
)

var _ = Describe("Monitor", func() {
	var (
		engine  *sim.SerialEngine
		nodes   []*network.Node
		monitor *Monitor
	)

	BeforeEach(func() {
		engine = sim.NewSerialEngine()
		topo := network.NewTopology(engine, nil)
		nodes = topo.CreateNodes(2)

		ch, _, _, err := p2p.MakeBuilder().
			WithTopology(topo).
			WithDataRate(5 * network.Mbps).
			WithDelay(2 * sim.Millisecond).
			Install(nodes[0], nodes[1])
		Expect(err).NotTo(HaveOccurred())

		_, err = internet.InstallStack(engine, nodes...)
		Expect(err).NotTo(HaveOccurred())
		h, err := internet.NewAddressHelper("10.1.1.0", "255.255.255.0")
		Expect(err).NotTo(HaveOccurred())
		_, err = h.AssignChannel(ch)
		Expect(err).NotTo(HaveOccurred())

		monitor = NewMonitor(engine)
		monitor.InstallAll(nodes...)
	})

	It("should match the echo application counts", func() {
		server, err := applications.MakeUdpEchoServerBuilder().
			WithEngine(engine).
			Install(nodes[1])
		Expect(err).NotTo(HaveOccurred())
		client, err := applications.MakeUdpEchoClientBuilder().
			WithEngine(engine).
			WithRemote(netip.MustParseAddrPort("10.1.1.2:9")).
			WithMaxPackets(5).
			WithPacketSize(1024).
			Install(nodes[0])
		Expect(err).NotTo(HaveOccurred())

		Expect(server.ScheduleStart(1)).To(Succeed())
		Expect(client.ScheduleStart(2)).To(Succeed())
		Expect(engine.Run()).To(Succeed())

		Expect(monitor.Flows()).To(HaveLen(2))

		key, ok := monitor.Classify(1)
		Expect(ok).To(BeTrue())
		Expect(key.Source).To(Equal(netip.MustParseAddr("10.1.1.1")))
		Expect(key.DestinationPort).To(Equal(uint16(9)))

		request := monitor.FlowStats(1)
		Expect(request.TxPackets).To(Equal(int64(client.Sent())))
		Expect(request.RxPackets).To(Equal(int64(server.Received())))
		Expect(request.TxBytes).To(Equal(int64(5 * 1052)))
		Expect(request.LostPackets).To(BeZero())
		Expect(float64(request.MeanDelay)).To(BeNumerically("~", 0.0036832, 1e-8))

		reply := monitor.FlowStats(2)
		Expect(reply.RxPackets).To(Equal(int64(client.Received())))
	})

	It("should count drops as lost", func() {
		sock := internet.StackOf(nodes[0]).NewUdpSocket()
		_ = sock.SendTo(network.NewPacket(10), netip.MustParseAddrPort("10.9.9.9:9"))

		stats := monitor.Stats()

		Expect(stats).To(HaveLen(1))
		Expect(stats[1].LostPackets).To(Equal(int64(1)))
		Expect(stats[1].TxPackets).To(Equal(int64(1)))
		Expect(stats[1].Drops).To(HaveKeyWithValue(internet.DropNoRoute, int64(1)))

		key, _ := monitor.Classify(1)
		Expect(key.Source).To(Equal(netip.MustParseAddr("10.1.1.1")))
	})

	It("should declare late datagrams lost", func() {
		sock := internet.StackOf(nodes[0]).NewUdpSocket()
		Expect(sock.SendTo(network.NewPacket(10),
			netip.MustParseAddrPort("10.1.1.2:9"))).To(Succeed())
		Expect(engine.StopAt(0.001)).To(Succeed())
		Expect(engine.Run()).To(Succeed())

		monitor.CheckForLostPackets(0.0005)

		Expect(monitor.FlowStats(1).LostPackets).To(Equal(int64(1)))
	})

	It("should write the metrics as JSON", func() {
		sock := internet.StackOf(nodes[0]).NewUdpSocket()
		Expect(sock.SendTo(network.NewPacket(10),
			netip.MustParseAddrPort("10.1.1.2:9"))).To(Succeed())
		Expect(engine.Run()).To(Succeed())

		var buf bytes.Buffer
		monitor.WriteJSON(&buf)

		Expect(buf.String()).To(ContainSubstring(`"flow.1.tx_packets"`))
		Expect(monitor.Summary()).To(HaveLen(1))
	})
})
