package wifi

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/XinWenfei/netsim/network"
	"github.com/XinWenfei/netsim/sim"
)

var _ = Describe("Wifi", func() {
	var (
		engine *sim.SerialEngine
		topo   *network.Topology
		ch     *Channel
	)

	BeforeEach(func() {
		engine = sim.NewSerialEngine()
		topo = network.NewTopology(engine, nil)

		var err error
		ch, err = MakeChannelBuilder().WithTopology(topo).Build()
		Expect(err).NotTo(HaveOccurred())
	})

	place := func(x float64, ssid string) (*Device, *recordingStack) {
		node := topo.CreateNode()
		node.SetMobility(fixedPosition{X: x})

		devs, err := MakeBuilder().
			WithTopology(topo).
			WithSsid(ssid).
			Install(ch, node)
		Expect(err).NotTo(HaveOccurred())

		stack := &recordingStack{engine: engine}
		node.SetProtocolStack(stack)

		return devs[0], stack
	}

	sendAt := func(t sim.VTimeInSec, dev *Device, pkt *network.Packet, dst network.MacAddress) {
		_, err := engine.Schedule(sim.NewCallbackEvent(t, func(sim.VTimeInSec) error {
			return dev.Send(pkt, dst)
		}))
		Expect(err).NotTo(HaveOccurred())
	}

	It("should deliver within range after contention, transmission and propagation", func() {
		a, _ := place(0, "Net")
		b, rb := place(100, "Net")

		pkt := network.NewPacket(1000)
		sendAt(1.0, a, pkt, b.MacAddress())

		Expect(engine.Run()).To(Succeed())

		dcf := DefaultDcf()
		txTime := float64(1000+MacOverhead) * 8 / 6e6
		prop := 100 / SpeedOfLight
		earliest := 1.0 + float64(dcf.Difs()) + txTime + prop
		latest := earliest + float64(dcf.CwMin)*float64(dcf.Slot)

		Expect(rb.arrivals).To(HaveLen(1))
		Expect(rb.arrivals[0].pkt.ID).To(Equal(pkt.ID))
		Expect(float64(rb.arrivals[0].time)).To(BeNumerically(">=", earliest-1e-12))
		Expect(float64(rb.arrivals[0].time)).To(BeNumerically("<=", latest+1e-12))
	})

	It("should not reach devices beyond the range", func() {
		a, _ := place(0, "Net")
		_, rb := place(300, "Net")

		sendAt(1.0, a, network.NewPacket(100), network.BroadcastMac)

		Expect(engine.Run()).To(Succeed())
		Expect(rb.arrivals).To(BeEmpty())
	})

	It("should delay by the distance over the speed of light", func() {
		a, _ := place(0, "Net")
		_, near := place(30, "Net")
		_, far := place(240, "Net")

		sendAt(1.0, a, network.NewPacket(100), network.BroadcastMac)

		Expect(engine.Run()).To(Succeed())
		Expect(near.arrivals).To(HaveLen(1))
		Expect(far.arrivals).To(HaveLen(1))

		diff := float64(far.arrivals[0].time - near.arrivals[0].time)
		Expect(diff).To(BeNumerically("~", 210/SpeedOfLight, 1e-12))
	})

	It("should corrupt overlapping frames from hidden nodes", func() {
		a, _ := place(0, "Net")
		b, rb := place(200, "Net")
		c, _ := place(400, "Net")

		drops := 0
		b.AcceptHook(sim.HookFunc(func(ctx sim.HookCtx) {
			if ctx.Pos == network.HookPosDeviceDrop &&
				ctx.Detail == network.DropCollision {
				drops++
			}
		}))

		sendAt(1.0, a, network.NewPacket(1000), b.MacAddress())
		sendAt(1.0, c, network.NewPacket(1000), b.MacAddress())

		Expect(engine.Run()).To(Succeed())
		Expect(rb.arrivals).To(BeEmpty())
		Expect(drops).To(Equal(2))
	})

	It("should keep networks with different ssids apart", func() {
		a, _ := place(0, "Home")
		_, rb := place(10, "Office")

		sendAt(1.0, a, network.NewPacket(100), network.BroadcastMac)

		Expect(engine.Run()).To(Succeed())
		Expect(rb.arrivals).To(BeEmpty())
	})

	It("should send queued frames in order", func() {
		a, _ := place(0, "Net")
		b, rb := place(50, "Net")

		pkts := []*network.Packet{
			network.NewPacket(500),
			network.NewPacket(500),
			network.NewPacket(500),
		}
		for _, p := range pkts {
			sendAt(1.0, a, p, b.MacAddress())
		}

		Expect(engine.Run()).To(Succeed())
		Expect(rb.arrivals).To(HaveLen(3))
		for i, p := range pkts {
			Expect(rb.arrivals[i].pkt.ID).To(Equal(p.ID))
		}
	})

	It("should fail without a mobility model", func() {
		node := topo.CreateNode()
		devs, err := MakeBuilder().WithTopology(topo).Install(ch, node)
		Expect(err).NotTo(HaveOccurred())
		_, _ = place(10, "default")

		sendAt(1.0, devs[0], network.NewPacket(100), network.BroadcastMac)

		err = engine.Run()
		var cfgErr *sim.ConfigurationError
		Expect(errors.As(err, &cfgErr)).To(BeTrue())
		Expect(cfgErr.Field).To(Equal("Mobility"))
	})

	It("should reject invalid attributes", func() {
		_, err := MakeChannelBuilder().WithTopology(topo).WithMaxRange(0).Build()
		Expect(err).To(HaveOccurred())

		_, err = MakeBuilder().WithTopology(topo).WithSsid("").Install(ch)
		Expect(err).To(HaveOccurred())
	})
})
