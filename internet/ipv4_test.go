package internet

import (
	"errors"
	"net/netip"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/XinWenfei/netsim/network"
	"github.com/XinWenfei/netsim/sim"
)

type datagram struct {
	time sim.VTimeInSec
	size int
	from netip.AddrPort
}

func listen(s *Ipv4, port uint16, engine sim.TimeTeller) (*UdpSocket, *[]datagram) {
	got := &[]datagram{}
	sock := s.NewUdpSocket()
	Expect(sock.Bind(port)).To(Succeed())
	sock.SetRecvCallback(func(_ *UdpSocket, pkt *network.Packet, from netip.AddrPort) {
		*got = append(*got, datagram{
			time: engine.CurrentTime(),
			size: pkt.Size(),
			from: from,
		})
	})
	return sock, got
}

func dropsOf(s *Ipv4) *[]DropReason {
	reasons := &[]DropReason{}
	s.AcceptHook(sim.HookFunc(func(ctx sim.HookCtx) {
		if ctx.Pos == HookPosIpv4Drop {
			*reasons = append(*reasons, ctx.Detail.(DropReason))
		}
	}))
	return reasons
}

var _ = Describe("Ipv4", func() {
	var net *testNet

	sendAt := func(t sim.VTimeInSec, sock *UdpSocket, size int, to string) {
		_, err := net.engine.Schedule(sim.NewCallbackEvent(t,
			func(sim.VTimeInSec) error {
				return sock.SendTo(network.NewPacket(size), netip.MustParseAddrPort(to))
			}))
		Expect(err).NotTo(HaveOccurred())
	}

	Context("on a point-to-point link", func() {
		BeforeEach(func() {
			net = newTestNet(2)
			net.link(0, 1)
		})

		It("should deliver a datagram after transmission and propagation", func() {
			_, got := listen(net.stack(1), 9, net.engine)
			client := net.stack(0).NewUdpSocket()

			sendAt(1, client, 1024, "10.1.1.2:9")
			Expect(net.engine.Run()).To(Succeed())

			Expect(*got).To(HaveLen(1))
			// (1024 + 8 + 20) bytes at 5 Mbps plus 2 ms.
			Expect(float64((*got)[0].time)).To(BeNumerically("~", 1.0036832, 1e-9))
			Expect((*got)[0].size).To(Equal(1024))
			Expect((*got)[0].from).To(Equal(
				netip.AddrPortFrom(netip.MustParseAddr("10.1.1.1"), 49153)))
		})

		It("should let the receiver answer the sender", func() {
			server := net.stack(1).NewUdpSocket()
			Expect(server.Bind(9)).To(Succeed())
			server.SetRecvCallback(func(s *UdpSocket, pkt *network.Packet, from netip.AddrPort) {
				Expect(s.SendTo(network.NewPacket(pkt.Size()), from)).To(Succeed())
			})

			client, got := listen(net.stack(0), 4000, net.engine)
			sendAt(0, client, 100, "10.1.1.2:9")
			Expect(net.engine.Run()).To(Succeed())

			Expect(*got).To(HaveLen(1))
			Expect((*got)[0].from.Port()).To(Equal(uint16(9)))
		})

		It("should drop datagrams to closed ports", func() {
			drops := dropsOf(net.stack(1))
			client := net.stack(0).NewUdpSocket()

			sendAt(0, client, 10, "10.1.1.2:7")
			Expect(net.engine.Run()).To(Succeed())

			Expect(*drops).To(Equal([]DropReason{DropPortUnreachable}))
		})

		It("should stop delivering after close", func() {
			sock, got := listen(net.stack(1), 9, net.engine)
			client := net.stack(0).NewUdpSocket()
			sendAt(0, client, 10, "10.1.1.2:9")
			_, err := net.engine.Schedule(sim.NewCallbackEvent(0.001,
				func(sim.VTimeInSec) error {
					sock.Close()
					return nil
				}))
			Expect(err).NotTo(HaveOccurred())

			Expect(net.engine.Run()).To(Succeed())

			Expect(*got).To(BeEmpty())
			Expect(errors.Is(sock.SendTo(network.NewPacket(1),
				netip.MustParseAddrPort("10.1.1.1:9")), ErrSocketClosed)).To(BeTrue())
		})

		It("should deliver to its own address", func() {
			_, got := listen(net.stack(0), 9, net.engine)
			client := net.stack(0).NewUdpSocket()

			sendAt(0.5, client, 10, "10.1.1.1:9")
			Expect(net.engine.Run()).To(Succeed())

			Expect(*got).To(HaveLen(1))
			Expect((*got)[0].time).To(Equal(sim.VTimeInSec(0.5)))
		})

		It("should fail to send without a route", func() {
			var positions []*sim.HookPos
			net.stack(0).AcceptHook(sim.HookFunc(func(ctx sim.HookCtx) {
				positions = append(positions, ctx.Pos)
			}))
			client := net.stack(0).NewUdpSocket()

			err := client.SendTo(network.NewPacket(10),
				netip.MustParseAddrPort("10.9.9.9:9"))

			Expect(errors.Is(err, ErrNoRoute)).To(BeTrue())
			Expect(positions).To(Equal(
				[]*sim.HookPos{HookPosIpv4Send, HookPosIpv4Drop}))
		})

		It("should fail when the neighbor is unknown", func() {
			client := net.stack(0).NewUdpSocket()

			err := client.SendTo(network.NewPacket(10),
				netip.MustParseAddrPort("10.1.1.77:9"))

			Expect(errors.Is(err, ErrHostUnreachable)).To(BeTrue())
		})
	})

	Context("ports", func() {
		BeforeEach(func() {
			net = newTestNet(1)
		})

		It("should refuse a port in use", func() {
			a := net.stack(0).NewUdpSocket()
			b := net.stack(0).NewUdpSocket()
			Expect(a.Bind(9)).To(Succeed())

			Expect(errors.Is(b.Bind(9), ErrPortInUse)).To(BeTrue())
		})

		It("should hand out ephemeral ports in order", func() {
			a := net.stack(0).NewUdpSocket()
			b := net.stack(0).NewUdpSocket()
			Expect(a.BindEphemeral()).To(Succeed())
			Expect(b.BindEphemeral()).To(Succeed())

			Expect(a.LocalPort()).To(Equal(uint16(49153)))
			Expect(b.LocalPort()).To(Equal(uint16(49154)))
		})

		It("should reuse a port after close", func() {
			a := net.stack(0).NewUdpSocket()
			Expect(a.Bind(9)).To(Succeed())
			a.Close()

			b := net.stack(0).NewUdpSocket()
			Expect(b.Bind(9)).To(Succeed())
		})
	})

	Context("across routers", func() {
		// 0 -p2p- 1 -csma(1,2,3)
		BeforeEach(func() {
			net = newTestNet(4)
			net.link(0, 1)   // 10.1.1.0/24
			net.bus(1, 2, 3) // 10.1.2.0/24
		})

		It("should forward through the router and decrement the TTL", func() {
			Expect(PopulateRoutingTables(net.nodes)).To(Succeed())

			forwarded := 0
			net.stack(1).AcceptHook(sim.HookFunc(func(ctx sim.HookCtx) {
				if ctx.Pos == HookPosIpv4Forward {
					forwarded++
				}
			}))

			var ttl uint8
			net.stack(3).AcceptHook(sim.HookFunc(func(ctx sim.HookCtx) {
				if ctx.Pos == HookPosIpv4Deliver {
					ttl = ctx.Item.(*network.Packet).PeekHeader().(Ipv4Header).Ttl
				}
			}))

			_, got := listen(net.stack(3), 9, net.engine)
			client := net.stack(0).NewUdpSocket()
			sendAt(1, client, 512, "10.1.2.3:9")
			Expect(net.engine.Run()).To(Succeed())

			Expect(*got).To(HaveLen(1))
			Expect((*got)[0].from.Addr()).To(Equal(netip.MustParseAddr("10.1.1.1")))
			Expect(forwarded).To(Equal(1))
			Expect(ttl).To(Equal(uint8(63)))
		})

		It("should drop datagrams whose TTL expires", func() {
			for _, n := range net.nodes {
				n.SetProtocolStack(nil)
			}
			_, err := MakeStackBuilder().
				WithEngine(net.engine).
				WithDefaultTtl(1).
				Install(net.nodes...)
			Expect(err).NotTo(HaveOccurred())
			net.subnet = 0
			for _, ch := range net.topo.Channels() {
				_, err = net.nextHelper().AssignChannel(ch)
				Expect(err).NotTo(HaveOccurred())
			}
			Expect(PopulateRoutingTables(net.nodes)).To(Succeed())

			drops := dropsOf(net.stack(1))
			_, got := listen(net.stack(3), 9, net.engine)
			client := net.stack(0).NewUdpSocket()
			sendAt(0, client, 64, "10.1.2.3:9")
			Expect(net.engine.Run()).To(Succeed())

			Expect(*got).To(BeEmpty())
			Expect(*drops).To(Equal([]DropReason{DropTtlExpired}))
		})

		It("should not forward when forwarding is off", func() {
			Expect(PopulateRoutingTables(net.nodes)).To(Succeed())
			net.stack(1).SetForwarding(false)

			drops := dropsOf(net.stack(1))
			_, got := listen(net.stack(3), 9, net.engine)
			client := net.stack(0).NewUdpSocket()
			sendAt(0, client, 64, "10.1.2.3:9")
			Expect(net.engine.Run()).To(Succeed())

			Expect(*got).To(BeEmpty())
			Expect(*drops).To(Equal([]DropReason{DropNotForwarding}))
		})

		It("should deliver subnet broadcasts to every host", func() {
			_, got2 := listen(net.stack(2), 9, net.engine)
			_, got3 := listen(net.stack(3), 9, net.engine)
			client := net.stack(1).NewUdpSocket()

			sendAt(0, client, 64, "10.1.2.255:9")
			Expect(net.engine.Run()).To(Succeed())

			Expect(*got2).To(HaveLen(1))
			Expect(*got3).To(HaveLen(1))
		})

		It("should route with static routes", func() {
			Expect(net.stack(0).SetDefaultRoute(
				netip.MustParseAddr("10.1.1.2"), 0)).To(Succeed())
			Expect(net.stack(3).AddNetworkRoute(
				netip.MustParsePrefix("10.1.1.0/24"),
				netip.MustParseAddr("10.1.2.1"), 0)).To(Succeed())

			server := net.stack(3).NewUdpSocket()
			Expect(server.Bind(9)).To(Succeed())
			server.SetRecvCallback(func(s *UdpSocket, pkt *network.Packet, from netip.AddrPort) {
				Expect(s.SendTo(network.NewPacket(pkt.Size()), from)).To(Succeed())
			})
			client, got := listen(net.stack(0), 5000, net.engine)

			sendAt(0, client, 64, "10.1.2.3:9")
			Expect(net.engine.Run()).To(Succeed())

			Expect(*got).To(HaveLen(1))
		})

		It("should reject static routes on unnumbered interfaces", func() {
			err := net.stack(0).AddHostRoute(
				netip.MustParseAddr("10.7.7.7"), netip.MustParseAddr("10.1.1.2"), 3)

			var cfgErr *sim.ConfigurationError
			Expect(errors.As(err, &cfgErr)).To(BeTrue())
		})
	})
})
