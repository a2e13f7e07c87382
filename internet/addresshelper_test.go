package internet

import (
	"errors"
	"net/netip"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/XinWenfei/netsim/network"
	"github.com/XinWenfei/netsim/sim"
)

var _ = Describe("AddressHelper", func() {
	var (
		engine *sim.SerialEngine
		topo   *network.Topology
	)

	BeforeEach(func() {
		engine = sim.NewSerialEngine()
		topo = network.NewTopology(engine, nil)
	})

	looseDevices := func(n int) []network.Device {
		nodes := topo.CreateNodes(n)
		_, err := InstallStack(engine, nodes...)
		Expect(err).NotTo(HaveOccurred())

		devs := make([]network.Device, n)
		for i, node := range nodes {
			devs[i] = newLooseDevice(topo, node)
		}
		return devs
	}

	It("should number a /24 with up to 253 devices", func() {
		h, err := NewAddressHelper("10.1.1.0", "255.255.255.0")
		Expect(err).NotTo(HaveOccurred())
		Expect(h.Capacity()).To(Equal(253))

		addrs, err := h.Assign(looseDevices(253)...)

		Expect(err).NotTo(HaveOccurred())
		Expect(addrs).To(HaveLen(253))
		Expect(addrs[0]).To(Equal(netip.MustParseAddr("10.1.1.1")))
		Expect(addrs[252]).To(Equal(netip.MustParseAddr("10.1.1.253")))
	})

	It("should reject 254 devices on a /24 and number none", func() {
		h, err := NewAddressHelper("10.1.1.0", "255.255.255.0")
		Expect(err).NotTo(HaveOccurred())
		devs := looseDevices(254)

		_, err = h.Assign(devs...)

		var exhausted *AddressExhaustionError
		Expect(errors.As(err, &exhausted)).To(BeTrue())
		Expect(exhausted.Requested).To(Equal(254))
		Expect(exhausted.Available).To(Equal(253))
		Expect(exhausted.Subnet).To(Equal(netip.MustParsePrefix("10.1.1.0/24")))
		for _, d := range devs {
			Expect(StackOf(d.Node()).InterfaceFor(d)).To(BeNil())
		}
	})

	It("should continue numbering across calls", func() {
		h, _ := NewAddressHelper("192.168.0.0", "255.255.255.0")
		devs := looseDevices(5)

		first, err := h.Assign(devs[:2]...)
		Expect(err).NotTo(HaveOccurred())
		second, err := h.Assign(devs[2:]...)
		Expect(err).NotTo(HaveOccurred())

		Expect(first).To(Equal([]netip.Addr{
			netip.MustParseAddr("192.168.0.1"),
			netip.MustParseAddr("192.168.0.2"),
		}))
		Expect(second).To(Equal([]netip.Addr{
			netip.MustParseAddr("192.168.0.3"),
			netip.MustParseAddr("192.168.0.4"),
			netip.MustParseAddr("192.168.0.5"),
		}))
		Expect(h.Available()).To(Equal(248))
	})

	It("should move to the next subnet", func() {
		h, _ := NewAddressHelper("10.1.1.0", "255.255.255.0")
		devs := looseDevices(2)

		_, err := h.Assign(devs[0])
		Expect(err).NotTo(HaveOccurred())
		h.NewNetwork()
		addrs, err := h.Assign(devs[1])
		Expect(err).NotTo(HaveOccurred())

		Expect(h.Prefix()).To(Equal(netip.MustParsePrefix("10.1.2.0/24")))
		Expect(addrs[0]).To(Equal(netip.MustParseAddr("10.1.2.1")))
	})

	It("should install the connected route", func() {
		h, _ := NewAddressHelper("10.1.1.0", "255.255.255.0")
		devs := looseDevices(1)

		_, err := h.Assign(devs...)
		Expect(err).NotTo(HaveOccurred())

		stack := StackOf(devs[0].Node())
		route, ok := stack.RoutingTable().Lookup(netip.MustParseAddr("10.1.1.77"))
		Expect(ok).To(BeTrue())
		Expect(route.IsDirect()).To(BeTrue())
		Expect(route.Origin).To(Equal(OriginConnected))
	})

	It("should refuse to number a device twice", func() {
		h, _ := NewAddressHelper("10.1.1.0", "255.255.255.0")
		devs := looseDevices(1)

		_, err := h.Assign(devs...)
		Expect(err).NotTo(HaveOccurred())
		_, err = h.Assign(devs...)
		Expect(err).To(HaveOccurred())
	})

	It("should refuse devices of nodes without a stack", func() {
		h, _ := NewAddressHelper("10.1.1.0", "255.255.255.0")
		node := topo.CreateNode()

		_, err := h.Assign(newLooseDevice(topo, node))

		var cfgErr *sim.ConfigurationError
		Expect(errors.As(err, &cfgErr)).To(BeTrue())
	})

	DescribeTable("invalid base or mask",
		func(base, mask string) {
			_, err := NewAddressHelper(base, mask)
			Expect(err).To(HaveOccurred())
		},
		Entry("bad base", "10.1.1", "255.255.255.0"),
		Entry("ipv6 base", "::1", "255.255.255.0"),
		Entry("bad mask", "10.1.1.0", "255.255"),
		Entry("holes in mask", "10.1.1.0", "255.0.255.0"),
	)

	It("should give small subnets a small capacity", func() {
		h, _ := NewAddressHelper("10.0.0.0", "255.255.255.252")
		Expect(h.Capacity()).To(Equal(1))

		h, _ = NewAddressHelper("10.0.0.0", "255.255.255.255")
		Expect(h.Capacity()).To(Equal(0))
	})
})
