// Package tracing records the frames that devices send, receive and drop.
package tracing

import (
	"fmt"
	"sync"

	"github.com/tebeka/atexit"

	"github.com/XinWenfei/netsim/datarecording"
	"github.com/XinWenfei/netsim/network"
	"github.com/XinWenfei/netsim/sim"
)

// FrameTable is the table that holds the frame records.
const FrameTable = "frames"

// Directions of frame records.
const (
	DirectionTx   = "tx"
	DirectionRx   = "rx"
	DirectionDrop = "drop"
)

// FrameEntry is one row of the frame table.
type FrameEntry struct {
	Time      float64
	Node      string
	Device    string
	Direction string
	PacketID  string
	Bytes     int
	Reason    string
}

// PacketTracer writes a row for every frame event of the devices that have
// tracing enabled.
type PacketTracer struct {
	mu         sync.Mutex
	timeTeller sim.TimeTeller
	backend    datarecording.DataRecorder

	startTime, endTime sim.VTimeInSec

	traced     map[network.Device]bool
	frameCount int
	terminated bool
}

// NewPacketTracer creates a tracer that writes into the recorder.
func NewPacketTracer(
	timeTeller sim.TimeTeller,
	recorder datarecording.DataRecorder,
) (*PacketTracer, error) {
	if err := recorder.CreateTable(FrameTable, FrameEntry{}); err != nil {
		return nil, fmt.Errorf("creating trace table: %w", err)
	}

	t := &PacketTracer{
		timeTeller: timeTeller,
		backend:    recorder,
		traced:     make(map[network.Device]bool),
	}

	atexit.Register(func() {
		_ = t.Terminate()
	})

	return t, nil
}

// SetTimeRange limits the records to frames seen between start and end. A
// zero end means no limit.
func (t *PacketTracer) SetTimeRange(start, end sim.VTimeInSec) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.startTime = start
	t.endTime = end
}

// EnableTrace starts recording the frames of a device. Enabling a device
// twice panics.
func (t *PacketTracer) EnableTrace(dev network.Device) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.traced[dev] {
		panic(fmt.Sprintf("device %s is already traced", dev.Name()))
	}

	t.traced[dev] = true
	dev.AcceptHook(&frameHook{tracer: t, dev: dev})
}

// EnableTraceAll enables tracing on all the devices of the nodes.
func (t *PacketTracer) EnableTraceAll(nodes ...*network.Node) {
	for _, n := range nodes {
		for _, d := range n.Devices() {
			t.EnableTrace(d)
		}
	}
}

// IsTraced tells if tracing is enabled on the device.
func (t *PacketTracer) IsTraced(dev network.Device) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.traced[dev]
}

// FrameCount returns the number of rows written.
func (t *PacketTracer) FrameCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.frameCount
}

func (t *PacketTracer) record(dev network.Device, dir string, pkt *network.Packet, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.terminated {
		return
	}

	now := t.timeTeller.CurrentTime()
	if now < t.startTime || (t.endTime > 0 && now > t.endTime) {
		return
	}

	t.backend.InsertData(FrameTable, FrameEntry{
		Time:      float64(now),
		Node:      dev.Node().Name(),
		Device:    dev.Name(),
		Direction: dir,
		PacketID:  pkt.ID,
		Bytes:     pkt.Size(),
		Reason:    reason,
	})
	t.frameCount++
}

// Terminate flushes the records. Frames seen afterwards are ignored.
func (t *PacketTracer) Terminate() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.terminated {
		return nil
	}
	t.terminated = true

	return t.backend.Flush()
}

// frameHook turns device hook positions into frame records.
type frameHook struct {
	tracer *PacketTracer
	dev    network.Device
}

func (h *frameHook) Func(ctx sim.HookCtx) {
	pkt, ok := ctx.Item.(*network.Packet)
	if !ok {
		return
	}

	switch ctx.Pos {
	case network.HookPosDeviceTxStart:
		h.tracer.record(h.dev, DirectionTx, pkt, "")
	case network.HookPosDeviceRx:
		h.tracer.record(h.dev, DirectionRx, pkt, "")
	case network.HookPosDeviceDrop:
		reason, _ := ctx.Detail.(network.DropReason)
		h.tracer.record(h.dev, DirectionDrop, pkt, string(reason))
	}
}
