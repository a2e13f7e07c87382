package simulation

import (
	"fmt"
	"log/slog"

	"github.com/rs/xid"

	"github.com/XinWenfei/netsim/datarecording"
	"github.com/XinWenfei/netsim/monitoring"
	"github.com/XinWenfei/netsim/network"
	"github.com/XinWenfei/netsim/sim"
	"github.com/XinWenfei/netsim/tracing"
)

// Builder can be used to build a simulation.
type Builder struct {
	stopTime     sim.VTimeInSec
	recordingOn  bool
	outputPath   string
	monitorOn    bool
	monitorPort  int
	eventLogging bool
	logger       *slog.Logger
}

// MakeBuilder creates a new builder. Simulations run without recording and
// without monitoring unless requested.
func MakeBuilder() Builder {
	return Builder{}
}

// WithStopTime sets the time after which no events are dispatched. Zero means
// the simulation runs until no events are left.
func (b Builder) WithStopTime(t sim.VTimeInSec) Builder {
	b.stopTime = t
	return b
}

// WithDataRecording enables the packet tracer, writing to path.sqlite3. An
// empty path picks a file name from the simulation ID.
func (b Builder) WithDataRecording(path string) Builder {
	b.recordingOn = true
	b.outputPath = path
	return b
}

// WithMonitoring enables the monitoring server.
func (b Builder) WithMonitoring() Builder {
	b.monitorOn = true
	return b
}

// WithMonitorPort sets the port number for the monitoring server.
func (b Builder) WithMonitorPort(port int) Builder {
	b.monitorPort = port
	return b
}

// WithEventLogging logs every dispatched event at debug level.
func (b Builder) WithEventLogging() Builder {
	b.eventLogging = true
	return b
}

// WithLogger sets the logger shared by the components.
func (b Builder) WithLogger(logger *slog.Logger) Builder {
	b.logger = logger
	return b
}

func (b Builder) validate() error {
	if b.stopTime < 0 {
		return sim.NewConfigurationError("Simulation", "StopTime",
			"must not be negative")
	}

	if !b.monitorOn && b.monitorPort != 0 {
		return sim.NewConfigurationError("Simulation", "MonitorPort",
			"cannot be set when monitoring is disabled")
	}

	if b.monitorPort < 0 || b.monitorPort > 65535 {
		return sim.NewConfigurationError("Simulation", "MonitorPort",
			fmt.Sprintf("%d is not a valid port", b.monitorPort))
	}

	return nil
}

// Build builds the simulation.
func (b Builder) Build() (*Simulation, error) {
	if err := b.validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Simulation{
		id:            xid.New().String(),
		logger:        logger,
		stopTime:      b.stopTime,
		compNameIndex: make(map[string]int),
	}

	s.engine = sim.NewSerialEngine()
	s.topology = network.NewTopology(s.engine, logger)

	if b.eventLogging {
		s.engine.AcceptHook(sim.NewEventLogger(logger))
	}

	if b.recordingOn {
		if err := b.buildRecording(s); err != nil {
			return nil, err
		}
	}

	if b.monitorOn {
		s.monitor = monitoring.NewMonitor().
			WithLogger(logger).
			WithPortNumber(b.monitorPort)

		if err := s.monitor.RegisterEngine(s.engine); err != nil {
			return nil, err
		}
	}

	return s, nil
}

func (b Builder) buildRecording(s *Simulation) error {
	outputPath := b.outputPath
	if outputPath == "" {
		outputPath = "netsim_" + s.id
	}

	recorder, err := datarecording.New(outputPath)
	if err != nil {
		return fmt.Errorf("creating data recorder: %w", err)
	}

	tracer, err := tracing.NewPacketTracer(s.engine, recorder)
	if err != nil {
		_ = recorder.Close()
		return err
	}

	s.dataRecorder = recorder
	s.tracer = tracer

	return nil
}
