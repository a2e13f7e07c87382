// Package simulation bundles an engine, a topology and the optional
// observation services of a simulation run.
package simulation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/XinWenfei/netsim/datarecording"
	"github.com/XinWenfei/netsim/monitoring"
	"github.com/XinWenfei/netsim/network"
	"github.com/XinWenfei/netsim/sim"
	"github.com/XinWenfei/netsim/tracing"
)

// A Simulation provides the service requires to define a simulation.
type Simulation struct {
	id       string
	logger   *slog.Logger
	stopTime sim.VTimeInSec

	engine   *sim.SerialEngine
	topology *network.Topology

	dataRecorder datarecording.DataRecorder
	tracer       *tracing.PacketTracer
	monitor      *monitoring.Monitor

	components    []sim.Component
	compNameIndex map[string]int

	started    bool
	terminated bool
}

// ID returns the unique ID of the simulation.
func (s *Simulation) ID() string {
	return s.id
}

// Engine returns the engine used in the simulation.
func (s *Simulation) Engine() *sim.SerialEngine {
	return s.engine
}

// Topology returns the topology that holds the nodes and channels.
func (s *Simulation) Topology() *network.Topology {
	return s.topology
}

// Logger returns the logger shared by the components.
func (s *Simulation) Logger() *slog.Logger {
	return s.logger
}

// StopTime returns the stop time, zero if there is none.
func (s *Simulation) StopTime() sim.VTimeInSec {
	return s.stopTime
}

// DataRecorder returns the data recorder, nil if recording is disabled.
func (s *Simulation) DataRecorder() datarecording.DataRecorder {
	return s.dataRecorder
}

// Tracer returns the packet tracer, nil if recording is disabled.
func (s *Simulation) Tracer() *tracing.PacketTracer {
	return s.tracer
}

// Monitor returns the monitor, nil if monitoring is disabled.
func (s *Simulation) Monitor() *monitoring.Monitor {
	return s.monitor
}

// RegisterComponent registers a component that does not belong to the
// topology, so that it can be found by name. Registering two components with
// the same name panics.
func (s *Simulation) RegisterComponent(c sim.Component) {
	compName := c.Name()
	if _, found := s.compNameIndex[compName]; found {
		panic("component " + compName + " already registered")
	}

	s.components = append(s.components, c)
	s.compNameIndex[compName] = len(s.components) - 1
}

// GetComponentByName returns the registered component with the given name,
// or nil.
func (s *Simulation) GetComponentByName(name string) sim.Component {
	i, found := s.compNameIndex[name]
	if !found {
		return nil
	}

	return s.components[i]
}

// Components returns all the registered components.
func (s *Simulation) Components() []sim.Component {
	return s.components
}

// TraceAllDevices enables packet tracing on every device of the topology. It
// does nothing when recording is disabled.
func (s *Simulation) TraceAllDevices() {
	if s.tracer == nil {
		return
	}

	s.tracer.EnableTraceAll(s.topology.Nodes()...)
}

// Run dispatches the events until the queue drains or the stop time is
// reached.
func (s *Simulation) Run() error {
	if !s.started {
		if err := s.start(); err != nil {
			return err
		}
		s.started = true
	}

	err := s.engine.Run()
	s.engine.Finished()

	if err != nil {
		return fmt.Errorf("simulation %s: %w", s.id, err)
	}

	s.logger.Info("simulation finished",
		"time", float64(s.engine.CurrentTime()),
		"pending", s.engine.PendingEvents())

	return nil
}

func (s *Simulation) start() error {
	if s.stopTime > 0 {
		if err := s.engine.StopAt(s.stopTime); err != nil {
			return err
		}
	}

	if s.monitor == nil {
		return nil
	}

	s.monitor.RegisterTopology(s.topology)
	for _, c := range s.components {
		s.monitor.RegisterComponent(c)
	}

	if _, err := s.monitor.StartServer(); err != nil {
		return err
	}

	if s.stopTime > 0 {
		bar := s.monitor.CreateProgressBar("Simulated time", progressTotal)
		s.engine.AcceptHook(&progressHook{bar: bar, stopTime: s.stopTime})
		s.engine.RegisterSimulationEndHandler(&progressEnd{
			monitor: s.monitor,
			bar:     bar,
		})
	}

	return nil
}

// Terminate flushes the recorded data and stops the monitor. It can be called
// more than once.
func (s *Simulation) Terminate() error {
	if s.terminated {
		return nil
	}
	s.terminated = true

	var errs []error

	if s.monitor != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		errs = append(errs, s.monitor.StopServer(ctx))
		cancel()
	}

	if s.tracer != nil {
		errs = append(errs, s.tracer.Terminate())
	}

	if s.dataRecorder != nil {
		errs = append(errs, s.dataRecorder.Close())
	}

	return errors.Join(errs...)
}

const progressTotal = 1000

// progressHook moves a progress bar along with the simulated time.
type progressHook struct {
	bar      *monitoring.ProgressBar
	stopTime sim.VTimeInSec
}

func (h *progressHook) Func(ctx sim.HookCtx) {
	if ctx.Pos != sim.HookPosAfterEvent {
		return
	}

	evt, ok := ctx.Item.(sim.Event)
	if !ok {
		return
	}

	h.bar.SetFinished(uint64(float64(evt.Time()) / float64(h.stopTime) * progressTotal))
}

type progressEnd struct {
	monitor *monitoring.Monitor
	bar     *monitoring.ProgressBar
}

func (h *progressEnd) Handle(_ sim.VTimeInSec) {
	h.monitor.CompleteProgressBar(h.bar)
}
