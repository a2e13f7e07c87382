package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"reflect"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/XinWenfei/netsim/network"
	"github.com/XinWenfei/netsim/network/p2p"
	"github.com/XinWenfei/netsim/sim"
)

type sampleStruct struct {
	field1 int
	field2 string
	field3 *sampleStruct
	field4 []sampleStruct
}

var _ = Describe("Monitor", func() {
	var (
		m      *Monitor
		engine *sim.SerialEngine
		dev0   *p2p.Device
		dev1   *p2p.Device
	)

	BeforeEach(func() {
		engine = sim.NewSerialEngine()
		topo := network.NewTopology(engine, nil)
		nodes := topo.CreateNodes(2)

		var err error
		_, dev0, dev1, err = p2p.MakeBuilder().
			WithTopology(topo).
			WithQueueSize(1).
			Install(nodes[0], nodes[1])
		Expect(err).NotTo(HaveOccurred())

		m = NewMonitor()
		Expect(m.RegisterEngine(engine)).To(Succeed())
		m.RegisterTopology(topo)
	})

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		m.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	It("should register nodes and their devices", func() {
		Expect(m.components).To(HaveLen(4))
		Expect(m.devices).To(HaveLen(2))

		rec := get("/api/list_components")

		var names []string
		Expect(json.Unmarshal(rec.Body.Bytes(), &names)).To(Succeed())
		Expect(names).To(ConsistOf(
			"Node[0]", "Node[0].PointToPoint[0]",
			"Node[1]", "Node[1].PointToPoint[0]",
		))
	})

	It("should report the current time", func() {
		_, err := engine.Schedule(sim.NewCallbackEvent(0.25, func(sim.VTimeInSec) error {
			return nil
		}))
		Expect(err).NotTo(HaveOccurred())
		Expect(engine.Run()).To(Succeed())

		rec := get("/api/now")

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(Equal(`{"now":0.2500000000}`))
	})

	It("should pause and continue the engine", func() {
		Expect(get("/api/pause").Code).To(Equal(http.StatusOK))

		_, err := engine.Schedule(sim.NewCallbackEvent(1, func(sim.VTimeInSec) error {
			return nil
		}))
		Expect(err).NotTo(HaveOccurred())

		done := make(chan error)
		go func() { done <- engine.Run() }()
		Consistently(done, 50*time.Millisecond).ShouldNot(Receive())

		Expect(get("/api/continue").Code).To(Equal(http.StatusOK))
		Eventually(done).Should(Receive(BeNil()))
	})

	It("should refuse engine requests without an engine", func() {
		m = NewMonitor()

		Expect(get("/api/now").Code).To(Equal(http.StatusServiceUnavailable))
		Expect(get("/api/pause").Code).To(Equal(http.StatusServiceUnavailable))
	})

	It("should serialize a component", func() {
		rec := get("/api/component/" + url.PathEscape("Node[0].PointToPoint[0]"))

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.Len()).To(BeNumerically(">", 0))
	})

	It("should return 404 for unknown components", func() {
		rec := get("/api/component/Router")

		Expect(rec.Code).To(Equal(http.StatusNotFound))
	})

	It("should sort and page devices", func() {
		for i := 0; i < 3; i++ {
			_ = dev0.Send(network.NewPacket(10), dev1.MacAddress())
		}
		Expect(engine.Run()).To(Succeed())

		rec := get("/api/devices?sort=drops&limit=1")
		Expect(rec.Code).To(Equal(http.StatusOK))

		var devs []deviceRsp
		Expect(json.Unmarshal(rec.Body.Bytes(), &devs)).To(Succeed())
		Expect(devs).To(HaveLen(1))
		Expect(devs[0].Name).To(Equal("Node[0].PointToPoint[0]"))
		Expect(devs[0].Drops).To(Equal(uint64(1)))
		Expect(devs[0].TxFrames).To(Equal(uint64(2)))

		rec = get("/api/devices?offset=1")
		Expect(json.Unmarshal(rec.Body.Bytes(), &devs)).To(Succeed())
		Expect(devs).To(HaveLen(1))
		Expect(devs[0].Name).To(Equal("Node[1].PointToPoint[0]"))
		Expect(devs[0].RxFrames).To(Equal(uint64(2)))
	})

	It("should reject invalid device queries", func() {
		Expect(get("/api/devices?sort=level").Code).To(Equal(http.StatusBadRequest))
		Expect(get("/api/devices?limit=x").Code).To(Equal(http.StatusBadRequest))
		Expect(get("/api/devices?offset=-1").Code).To(Equal(http.StatusBadRequest))
	})

	It("should export engine metrics", func() {
		_, err := engine.Schedule(sim.NewCallbackEvent(0.5, func(sim.VTimeInSec) error {
			return nil
		}))
		Expect(err).NotTo(HaveOccurred())
		Expect(engine.Run()).To(Succeed())

		rec := get("/metrics")

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring(
			`netsim_events_total{type="sim.CallbackEvent"} 1`))
		Expect(rec.Body.String()).To(ContainSubstring(
			"netsim_simulated_time_seconds 0.5"))
	})

	It("should reuse metrics already registered", func() {
		other := sim.NewSerialEngine()

		Expect(m.RegisterEngine(other)).To(Succeed())
	})

	It("should list and complete progress bars", func() {
		bar := m.CreateProgressBar("Echo", 10)
		bar.IncrementInProgress(4)
		bar.MoveInProgressToFinished(3)

		rec := get("/api/progress")
		var bars []map[string]any
		Expect(json.Unmarshal(rec.Body.Bytes(), &bars)).To(Succeed())
		Expect(bars).To(HaveLen(1))
		Expect(bars[0]["name"]).To(Equal("Echo"))
		Expect(bars[0]["finished"]).To(BeEquivalentTo(3))
		Expect(bars[0]["in_progress"]).To(BeEquivalentTo(1))
		Expect(bars[0]["percent"]).To(BeEquivalentTo(30))

		m.CompleteProgressBar(bar)

		Expect(get("/api/progress").Body.String()).To(Equal("[]"))
	})

	It("should report process resources", func() {
		rec := get("/api/resource")

		Expect(rec.Code).To(Equal(http.StatusOK))
		var rsp resourceRsp
		Expect(json.Unmarshal(rec.Body.Bytes(), &rsp)).To(Succeed())
		Expect(rsp.MemorySize).To(BeNumerically(">", 0))
	})

	It("should collect a cpu profile", func() {
		m.profileDuration = 10 * time.Millisecond

		rec := get("/api/profile")

		Expect(rec.Code).To(Equal(http.StatusOK))
	})

	It("should serve over tcp", func() {
		port, err := m.StartServer()
		Expect(err).NotTo(HaveOccurred())
		Expect(port).To(BeNumerically(">", 0))
		defer func() { Expect(m.StopServer(context.Background())).To(Succeed()) }()

		rsp, err := http.Get(fmt.Sprintf("http://localhost:%d/api/now", port))
		Expect(err).NotTo(HaveOccurred())
		defer rsp.Body.Close()

		body, err := io.ReadAll(rsp.Body)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(body)).To(Equal(`{"now":0.0000000000}`))
	})

	It("should walk int fields", func() {
		s := &sampleStruct{
			field1: 1,
		}

		elem, err := m.walkFields(s, "field1")

		Expect(err).To(BeNil())
		Expect(elem.Kind()).To(Equal(reflect.Int))
		Expect(elem.Int()).To(Equal(int64(1)))
	})

	It("should walk string fields", func() {
		s := &sampleStruct{
			field2: "abc",
		}

		elem, err := m.walkFields(s, "field2")

		Expect(err).To(BeNil())
		Expect(elem.Kind()).To(Equal(reflect.String))
		Expect(elem.String()).To(Equal("abc"))
	})

	It("should walk pointers and slices", func() {
		s := &sampleStruct{
			field3: &sampleStruct{
				field4: []sampleStruct{{field1: 7}},
			},
		}

		elem, err := m.walkFields(s, "field3.field4.0.field1")

		Expect(err).To(BeNil())
		Expect(elem.Int()).To(Equal(int64(7)))
	})

	It("should report bad field paths", func() {
		s := &sampleStruct{}

		_, err := m.walkFields(s, "field4.2")
		Expect(err).To(HaveOccurred())

		_, err = m.walkFields(s, "nothing")
		Expect(err).To(HaveOccurred())

		_, err = m.walkFields(s, "field3.field1")
		Expect(err).To(HaveOccurred())
	})
})
