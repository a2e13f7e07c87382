package internet

import (
	"errors"
	"net/netip"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/XinWenfei/netsim/network"
	"github.com/XinWenfei/netsim/network/p2p"
	"github.com/XinWenfei/netsim/sim"
)

type tcpServer struct {
	listener *TcpSocket
	conns    []*TcpSocket
	received int
}

func listenTcp(s *Ipv4, port uint16) *tcpServer {
	srv := &tcpServer{listener: s.NewTcpSocket()}
	Expect(srv.listener.Bind(port)).To(Succeed())
	Expect(srv.listener.Listen()).To(Succeed())

	srv.listener.SetAcceptCallback(func(c *TcpSocket) {
		srv.conns = append(srv.conns, c)
		c.SetRecvCallback(func(_ *TcpSocket, n int) { srv.received += n })
		c.SetPeerCloseCallback(func(c *TcpSocket) { c.Close() })
	})

	return srv
}

type tcpClient struct {
	sock       *TcpSocket
	connectErr error
	closeErr   error
	closed     bool
}

// dialAndSend connects, writes n bytes and closes once connected.
func dialAndSend(s *Ipv4, to string, n int) *tcpClient {
	c := &tcpClient{sock: s.NewTcpSocket(), connectErr: errors.New("pending")}

	c.sock.SetConnectCallback(func(sock *TcpSocket, err error) {
		c.connectErr = err
		if err != nil {
			return
		}

		written, err := sock.Send(n)
		Expect(err).NotTo(HaveOccurred())
		Expect(written).To(Equal(n))
		sock.Close()
	})
	c.sock.SetCloseCallback(func(_ *TcpSocket, err error) {
		c.closed = true
		c.closeErr = err
	})

	Expect(c.sock.Connect(netip.MustParseAddrPort(to))).To(Succeed())

	return c
}

var _ = Describe("TcpSocket", func() {
	var net *testNet

	Context("on a point-to-point link", func() {
		BeforeEach(func() {
			net = newTestNet(2)
			net.link(0, 1)
		})

		It("should move a stream and close both ends", func() {
			srv := listenTcp(net.stack(1), 80)
			client := dialAndSend(net.stack(0), "10.1.1.2:80", 10000)

			Expect(net.engine.Run()).To(Succeed())

			Expect(client.connectErr).NotTo(HaveOccurred())
			Expect(srv.received).To(Equal(10000))
			Expect(client.sock.BytesAcked()).To(Equal(uint64(10000)))
			Expect(client.sock.Retransmissions()).To(BeZero())
			Expect(client.closed).To(BeTrue())
			Expect(client.closeErr).NotTo(HaveOccurred())
			Expect(client.sock.State()).To(Equal(TcpClosed))

			Expect(srv.conns).To(HaveLen(1))
			Expect(srv.conns[0].State()).To(Equal(TcpClosed))
			Expect(srv.conns[0].RemoteAddress()).To(Equal(client.sock.LocalAddress()))
			Expect(srv.listener.State()).To(Equal(TcpListen))
		})

		It("should grow the window in slow start", func() {
			listenTcp(net.stack(1), 80)
			client := dialAndSend(net.stack(0), "10.1.1.2:80", 5*536)

			Expect(net.engine.Run()).To(Succeed())

			Expect(client.sock.CongestionWindow()).To(BeNumerically(">", 536))
		})

		It("should refuse connections to closed ports", func() {
			client := dialAndSend(net.stack(0), "10.1.1.2:81", 100)

			Expect(net.engine.Run()).To(Succeed())

			Expect(errors.Is(client.connectErr, ErrConnectionRefused)).To(BeTrue())
			Expect(client.sock.State()).To(Equal(TcpClosed))
		})

		It("should give up on a silent peer", func() {
			client := dialAndSend(net.stack(0), "10.1.1.77:80", 100)

			Expect(net.engine.Run()).To(Succeed())

			Expect(errors.Is(client.connectErr, ErrConnectionTimedOut)).To(BeTrue())
			Expect(client.sock.Retransmissions()).To(Equal(uint64(6)))
			Expect(float64(net.engine.CurrentTime())).To(BeNumerically("~", 123, 1e-9))
		})

		It("should connect to its own node", func() {
			srv := listenTcp(net.stack(0), 80)
			client := dialAndSend(net.stack(0), "10.1.1.1:80", 2000)

			Expect(net.engine.Run()).To(Succeed())

			Expect(client.connectErr).NotTo(HaveOccurred())
			Expect(srv.received).To(Equal(2000))
		})

		It("should be counted by the stack hooks", func() {
			var sent, delivered int
			net.stack(0).AcceptHook(sim.HookFunc(func(ctx sim.HookCtx) {
				if ctx.Pos == HookPosIpv4Send {
					sent++
				}
			}))
			net.stack(1).AcceptHook(sim.HookFunc(func(ctx sim.HookCtx) {
				if ctx.Pos == HookPosIpv4Deliver {
					delivered++
				}
			}))

			listenTcp(net.stack(1), 80)
			client := dialAndSend(net.stack(0), "10.1.1.2:80", 1000)
			Expect(net.engine.Run()).To(Succeed())

			Expect(sent).To(Equal(int(client.sock.SegmentsSent())))
			Expect(delivered).To(Equal(sent))
		})
	})

	Context("over a lossy queue", func() {
		It("should recover dropped segments", func() {
			engine := sim.NewSerialEngine()
			topo := network.NewTopology(engine, nil)
			nodes := topo.CreateNodes(2)

			ch, dev0, _, err := p2p.MakeBuilder().
				WithTopology(topo).
				WithDataRate(1 * network.Mbps).
				WithDelay(10 * sim.Millisecond).
				WithQueueSize(2).
				Install(nodes[0], nodes[1])
			Expect(err).NotTo(HaveOccurred())

			stacks, err := InstallStack(engine, nodes...)
			Expect(err).NotTo(HaveOccurred())
			h, err := NewAddressHelper("10.1.1.0", "255.255.255.0")
			Expect(err).NotTo(HaveOccurred())
			_, err = h.AssignChannel(ch)
			Expect(err).NotTo(HaveOccurred())

			srv := listenTcp(stacks[1], 80)
			client := dialAndSend(stacks[0], "10.1.1.2:80", 50000)

			Expect(engine.Run()).To(Succeed())

			Expect(dev0.Stats().Drops).To(BeNumerically(">", 0))
			Expect(client.sock.Retransmissions()).To(BeNumerically(">", 0))
			Expect(srv.received).To(Equal(50000))
			Expect(client.closeErr).NotTo(HaveOccurred())
		})
	})

	Context("socket calls", func() {
		BeforeEach(func() {
			net = newTestNet(1)
		})

		It("should refuse a port in use", func() {
			a := net.stack(0).NewTcpSocket()
			Expect(a.Bind(80)).To(Succeed())

			b := net.stack(0).NewTcpSocket()
			Expect(errors.Is(b.Bind(80), ErrPortInUse)).To(BeTrue())

			a.Close()
			Expect(b.Bind(80)).To(Succeed())
		})

		It("should share the ephemeral range with udp", func() {
			u := net.stack(0).NewUdpSocket()
			Expect(u.BindEphemeral()).To(Succeed())

			t := net.stack(0).NewTcpSocket()
			Expect(t.Bind(0)).To(Succeed())

			Expect(t.LocalAddress().Port()).To(Equal(u.LocalPort() + 1))
		})

		It("should reject calls in the wrong state", func() {
			t := net.stack(0).NewTcpSocket()

			Expect(errors.Is(t.Listen(), ErrSocketState)).To(BeTrue())
			_, err := t.Send(10)
			Expect(errors.Is(err, ErrSocketState)).To(BeTrue())
		})

		It("should fail to connect without a route", func() {
			t := net.stack(0).NewTcpSocket()

			err := t.Connect(netip.MustParseAddrPort("10.9.9.9:80"))

			Expect(errors.Is(err, ErrNoRoute)).To(BeTrue())
		})

		It("should reject invalid configurations", func() {
			cfg := DefaultTcpConfig()
			cfg.SegmentSize = 0

			_, err := net.stack(0).NewTcpSocketWithConfig(cfg)

			var cfgErr *sim.ConfigurationError
			Expect(errors.As(err, &cfgErr)).To(BeTrue())
		})
	})
})
