// Package applications provides the traffic generators and consumers that
// run on nodes: UDP echo, and on/off sources and packet sinks over UDP or
// TCP.
package applications

import (
	"fmt"
	"log"
	"log/slog"

	"github.com/XinWenfei/netsim/internet"
	"github.com/XinWenfei/netsim/network"
	"github.com/XinWenfei/netsim/sim"
)

var (
	// HookPosAppStart marks an application starting.
	HookPosAppStart = &sim.HookPos{Name: "App Start"}

	// HookPosAppStop marks an application stopping.
	HookPosAppStop = &sim.HookPos{Name: "App Stop"}
)

// Transport selects the sockets an application uses.
type Transport string

// Transports an application can run over.
const (
	TransportUdp Transport = "udp"
	TransportTcp Transport = "tcp"
)

func (t Transport) validate(comp string) error {
	switch t {
	case TransportUdp, TransportTcp:
		return nil
	}

	return sim.NewConfigurationError(comp, "Transport",
		fmt.Sprintf("%q is neither udp nor tcp", string(t)))
}

// An Application runs on a node between its start and stop times.
type Application interface {
	sim.Component

	// Node returns the node the application runs on.
	Node() *network.Node

	// ScheduleStart makes the application start at time t.
	ScheduleStart(t sim.VTimeInSec) error

	// ScheduleStop makes the application stop at time t.
	ScheduleStop(t sim.VTimeInSec) error

	// IsRunning tells if the application has started and not stopped.
	IsRunning() bool
}

// lifecycle is implemented by concrete applications.
type lifecycle interface {
	startApplication() error
	stopApplication() error
}

type startEvent struct {
	*sim.EventBase
}

type stopEvent struct {
	*sim.EventBase
}

// ApplicationBase implements the start and stop scheduling shared by all
// applications.
type ApplicationBase struct {
	*sim.ComponentBase

	Engine sim.Engine
	Logger *slog.Logger

	node    *network.Node
	stack   *internet.Ipv4
	self    sim.Handler
	running bool
}

func newApplicationBase(
	kind string,
	engine sim.Engine,
	node *network.Node,
	logger *slog.Logger,
) (*ApplicationBase, error) {
	if engine == nil {
		return nil, sim.NewConfigurationError(kind, "Engine", "is required")
	}

	if node == nil {
		return nil, sim.NewConfigurationError(kind, "Node", "is required")
	}

	stack := internet.StackOf(node)
	if stack == nil {
		return nil, sim.NewConfigurationError(kind, "Node",
			fmt.Sprintf("%s has no IPv4 stack", node.Name()))
	}

	if logger == nil {
		logger = slog.Default()
	}

	name := sim.BuildNameWithIndex(node.Name(), kind, node.NumApplications())

	return &ApplicationBase{
		ComponentBase: sim.NewComponentBase(name),
		Engine:        engine,
		Logger:        logger.With("app", name),
		node:          node,
		stack:         stack,
	}, nil
}

// register binds the concrete application to the base and the node.
func (a *ApplicationBase) register(self Application) {
	a.self = self
	a.node.AddApplication(self)
}

// Node returns the node the application runs on.
func (a *ApplicationBase) Node() *network.Node {
	return a.node
}

// IsRunning tells if the application has started and not stopped.
func (a *ApplicationBase) IsRunning() bool {
	return a.running
}

// ScheduleStart makes the application start at time t.
func (a *ApplicationBase) ScheduleStart(t sim.VTimeInSec) error {
	_, err := a.Engine.Schedule(&startEvent{
		EventBase: sim.NewEventBase(t, a.self),
	})

	return err
}

// ScheduleStop makes the application stop at time t.
func (a *ApplicationBase) ScheduleStop(t sim.VTimeInSec) error {
	_, err := a.Engine.Schedule(&stopEvent{
		EventBase: sim.NewEventBase(t, a.self),
	})

	return err
}

// handleLifecycle processes start and stop events. Starting a running
// application or stopping a stopped one does nothing.
func (a *ApplicationBase) handleLifecycle(app lifecycle, e sim.Event) error {
	switch e.(type) {
	case *startEvent:
		if a.running {
			return nil
		}
		a.running = true
		a.invoke(HookPosAppStart)

		return app.startApplication()
	case *stopEvent:
		if !a.running {
			return nil
		}
		a.running = false
		a.invoke(HookPosAppStop)

		return app.stopApplication()
	default:
		log.Panicf("cannot handle event of type %T", e)
	}

	return nil
}

func (a *ApplicationBase) invoke(pos *sim.HookPos) {
	if a.NumHooks() == 0 {
		return
	}

	a.InvokeHook(sim.HookCtx{
		Domain: a,
		Pos:    pos,
		Item:   a.Engine.CurrentTime(),
	})
}

func (a *ApplicationBase) now() float64 {
	return float64(a.Engine.CurrentTime())
}

// A Container groups applications that start and stop together.
type Container struct {
	apps []Application
}

// NewContainer creates a container holding the given applications.
func NewContainer(apps ...Application) *Container {
	return &Container{apps: apps}
}

// Add appends applications to the container.
func (c *Container) Add(apps ...Application) {
	c.apps = append(c.apps, apps...)
}

// Get returns the application at index i.
func (c *Container) Get(i int) Application {
	return c.apps[i]
}

// Len returns the number of applications.
func (c *Container) Len() int {
	return len(c.apps)
}

// Start schedules all the applications to start at time t.
func (c *Container) Start(t sim.VTimeInSec) error {
	for _, a := range c.apps {
		if err := a.ScheduleStart(t); err != nil {
			return fmt.Errorf("starting %s: %w", a.Name(), err)
		}
	}

	return nil
}

// Stop schedules all the applications to stop at time t.
func (c *Container) Stop(t sim.VTimeInSec) error {
	for _, a := range c.apps {
		if err := a.ScheduleStop(t); err != nil {
			return fmt.Errorf("stopping %s: %w", a.Name(), err)
		}
	}

	return nil
}
