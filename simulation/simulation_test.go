package simulation

import (
	"context"
	"errors"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/XinWenfei/netsim/datarecording"
	"github.com/XinWenfei/netsim/network"
	"github.com/XinWenfei/netsim/network/p2p"
	"github.com/XinWenfei/netsim/sim"
	"github.com/XinWenfei/netsim/tracing"
)

var _ = Describe("Simulation", func() {
	var (
		mockCtrl   *gomock.Controller
		simulation *Simulation
		comp       *MockComponent
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())

		var err error
		simulation, err = MakeBuilder().Build()
		Expect(err).NotTo(HaveOccurred())

		comp = NewMockComponent(mockCtrl)
		comp.EXPECT().Name().Return("comp").AnyTimes()
	})

	AfterEach(func() {
		mockCtrl.Finish()

		Expect(simulation.Terminate()).To(Succeed())
	})

	It("should register a component", func() {
		simulation.RegisterComponent(comp)

		Expect(simulation.GetComponentByName("comp")).To(Equal(comp))
		Expect(simulation.GetComponentByName("other")).To(BeNil())
		Expect(simulation.Components()).To(ConsistOf(comp))
	})

	It("should panic when a name is registered twice", func() {
		simulation.RegisterComponent(comp)

		Expect(func() { simulation.RegisterComponent(comp) }).To(Panic())
	})

	It("should run without recording or monitoring", func() {
		Expect(simulation.DataRecorder()).To(BeNil())
		Expect(simulation.Tracer()).To(BeNil())
		Expect(simulation.Monitor()).To(BeNil())

		simulation.TraceAllDevices()
		Expect(simulation.Run()).To(Succeed())
	})

	It("should return the errors of the handlers", func() {
		_, err := simulation.Engine().Schedule(sim.NewCallbackEvent(1,
			func(sim.VTimeInSec) error { return errors.New("boom") }))
		Expect(err).NotTo(HaveOccurred())

		err = simulation.Run()

		Expect(err).To(MatchError(ContainSubstring("boom")))
	})
})

var _ = Describe("Builder", func() {
	It("should refuse a monitor port without monitoring", func() {
		_, err := MakeBuilder().WithMonitorPort(8080).Build()

		var cfgErr *sim.ConfigurationError
		Expect(errors.As(err, &cfgErr)).To(BeTrue())
		Expect(cfgErr.Field).To(Equal("MonitorPort"))
	})

	It("should refuse a negative stop time", func() {
		_, err := MakeBuilder().WithStopTime(-1).Build()

		var cfgErr *sim.ConfigurationError
		Expect(errors.As(err, &cfgErr)).To(BeTrue())
		Expect(cfgErr.Field).To(Equal("StopTime"))
	})

	It("should stop at the stop time", func() {
		s, err := MakeBuilder().WithStopTime(2).Build()
		Expect(err).NotTo(HaveOccurred())
		defer s.Terminate()

		fired := 0
		for _, t := range []sim.VTimeInSec{1, 3} {
			_, err := s.Engine().Schedule(sim.NewCallbackEvent(t,
				func(sim.VTimeInSec) error { fired++; return nil }))
			Expect(err).NotTo(HaveOccurred())
		}

		Expect(s.Run()).To(Succeed())
		Expect(fired).To(Equal(1))
		Expect(s.Engine().CurrentTime()).To(Equal(sim.VTimeInSec(2)))
		Expect(s.Engine().PendingEvents()).To(Equal(1))
	})

	It("should record the traced frames", func() {
		path := filepath.Join(GinkgoT().TempDir(), "run")
		s, err := MakeBuilder().WithDataRecording(path).Build()
		Expect(err).NotTo(HaveOccurred())

		nodes := s.Topology().CreateNodes(2)
		_, dev0, dev1, err := p2p.MakeBuilder().
			WithTopology(s.Topology()).
			Install(nodes[0], nodes[1])
		Expect(err).NotTo(HaveOccurred())

		s.TraceAllDevices()
		Expect(dev0.Send(network.NewPacket(64), dev1.MacAddress())).To(Succeed())

		Expect(s.Run()).To(Succeed())
		Expect(s.Terminate()).To(Succeed())
		Expect(s.Tracer().FrameCount()).To(Equal(2))

		reader, err := datarecording.OpenReader(path)
		Expect(err).NotTo(HaveOccurred())
		defer reader.Close()

		total, err := reader.Count(context.Background(), tracing.FrameTable,
			datarecording.Filter{})
		Expect(err).NotTo(HaveOccurred())
		Expect(total).To(Equal(2))
	})

	It("should start and stop the monitor", func() {
		s, err := MakeBuilder().
			WithMonitoring().
			WithStopTime(1).
			Build()
		Expect(err).NotTo(HaveOccurred())

		s.Topology().CreateNodes(1)

		Expect(s.Run()).To(Succeed())
		Expect(s.Monitor()).NotTo(BeNil())
		Expect(s.Terminate()).To(Succeed())
		Expect(s.Terminate()).To(Succeed())
	})
})
