package mobility

import (
	"log"
	"math"

	"github.com/iti/rngstream"

	"github.com/XinWenfei/netsim/network"
	"github.com/XinWenfei/netsim/sim"
)

// HookPosCourseChange marks a change of velocity. The item is the new
// velocity and the detail is the position.
var HookPosCourseChange = &sim.HookPos{Name: "Course Change"}

// Rectangle bounds a walk on the XY plane.
type Rectangle struct {
	MinX, MaxX, MinY, MaxY float64
}

// Contains tells if the point lies inside the rectangle, edges included.
func (r Rectangle) Contains(p network.Vector) bool {
	return p.X >= r.MinX && p.X <= r.MaxX && p.Y >= r.MinY && p.Y <= r.MaxY
}

func (r Rectangle) clamp(p network.Vector) network.Vector {
	p.X = math.Min(math.Max(p.X, r.MinX), r.MaxX)
	p.Y = math.Min(math.Max(p.Y, r.MinY), r.MaxY)
	return p
}

// WalkMode tells when a walker picks a new direction and speed.
type WalkMode int

// The walk modes.
const (
	// WalkByDistance changes course after a fixed distance.
	WalkByDistance WalkMode = iota

	// WalkByTime changes course after a fixed time.
	WalkByTime
)

type walkEndEvent struct {
	*sim.EventBase
}

type reboundEvent struct {
	*sim.EventBase
	remaining sim.VTimeInSec
}

// RandomWalk2d moves a node in straight segments with a random direction and
// speed. It reflects at the bounds of its rectangle. The walk never ends, so
// the simulation needs a stop time.
type RandomWalk2d struct {
	*sim.ComponentBase

	engine   sim.Engine
	bounds   Rectangle
	mode     WalkMode
	distance float64
	time     sim.VTimeInSec
	speedMin float64
	speedMax float64
	rng      *rngstream.RngStream

	base     network.Vector
	baseTime sim.VTimeInSec
	velocity network.Vector
	started  bool
}

// Position returns where the node is at the current time.
func (w *RandomWalk2d) Position() network.Vector {
	elapsed := float64(w.engine.CurrentTime() - w.baseTime)
	return w.bounds.clamp(w.base.Add(w.velocity.Scale(elapsed)))
}

// Velocity returns the current velocity.
func (w *RandomWalk2d) Velocity() network.Vector {
	return w.velocity
}

// Bounds returns the rectangle the walk stays in.
func (w *RandomWalk2d) Bounds() Rectangle {
	return w.bounds
}

// Start begins the first segment of the walk.
func (w *RandomWalk2d) Start() error {
	if w.started {
		return nil
	}

	w.started = true
	w.baseTime = w.engine.CurrentTime()

	return w.beginSegment()
}

func (w *RandomWalk2d) beginSegment() error {
	speed := w.speedMin + w.rng.RandU01()*(w.speedMax-w.speedMin)
	direction := 2 * math.Pi * w.rng.RandU01()
	w.setVelocity(network.Vector{
		X: speed * math.Cos(direction),
		Y: speed * math.Sin(direction),
	})

	var duration sim.VTimeInSec
	switch w.mode {
	case WalkByTime:
		duration = w.time
	default:
		duration = sim.VTimeInSec(w.distance / speed)
	}

	return w.move(duration)
}

// move schedules either the end of the segment or the first wall hit.
func (w *RandomWalk2d) move(duration sim.VTimeInSec) error {
	now := w.engine.CurrentTime()

	hit := w.timeToWall()
	if hit < duration {
		_, err := w.engine.Schedule(&reboundEvent{
			EventBase: sim.NewEventBase(now+hit, w),
			remaining: duration - hit,
		})
		return err
	}

	_, err := w.engine.Schedule(&walkEndEvent{
		EventBase: sim.NewEventBase(now+duration, w),
	})

	return err
}

func (w *RandomWalk2d) timeToWall() sim.VTimeInSec {
	t := math.Inf(1)

	axis := func(pos, v, lo, hi float64) {
		switch {
		case v > 0:
			t = math.Min(t, (hi-pos)/v)
		case v < 0:
			t = math.Min(t, (lo-pos)/v)
		}
	}
	axis(w.base.X, w.velocity.X, w.bounds.MinX, w.bounds.MaxX)
	axis(w.base.Y, w.velocity.Y, w.bounds.MinY, w.bounds.MaxY)

	if t < 0 {
		t = 0
	}

	return sim.VTimeInSec(t)
}

func (w *RandomWalk2d) freeze() {
	w.base = w.Position()
	w.baseTime = w.engine.CurrentTime()
}

func (w *RandomWalk2d) setVelocity(v network.Vector) {
	w.velocity = v

	if w.NumHooks() > 0 {
		w.InvokeHook(sim.HookCtx{
			Domain: w,
			Pos:    HookPosCourseChange,
			Item:   v,
			Detail: w.base,
		})
	}
}

// Handle processes the events of the walk.
func (w *RandomWalk2d) Handle(e sim.Event) error {
	switch e := e.(type) {
	case *walkEndEvent:
		w.freeze()
		return w.beginSegment()
	case *reboundEvent:
		w.freeze()
		w.rebound()
		return w.move(e.remaining)
	default:
		log.Panicf("cannot handle event of type %T", e)
	}

	return nil
}

const wallEpsilon = 1e-9

func (w *RandomWalk2d) rebound() {
	v := w.velocity
	p := w.base

	if (p.X <= w.bounds.MinX+wallEpsilon && v.X < 0) ||
		(p.X >= w.bounds.MaxX-wallEpsilon && v.X > 0) {
		v.X = -v.X
	}

	if (p.Y <= w.bounds.MinY+wallEpsilon && v.Y < 0) ||
		(p.Y >= w.bounds.MaxY-wallEpsilon && v.Y > 0) {
		v.Y = -v.Y
	}

	w.setVelocity(v)
}

// RandomWalkBuilder can help building RandomWalk2d models.
type RandomWalkBuilder struct {
	engine   sim.Engine
	bounds   Rectangle
	mode     WalkMode
	distance float64
	time     sim.VTimeInSec
	speedMin float64
	speedMax float64
}

// MakeRandomWalkBuilder creates a builder that walks 2 m segments at 2 to
// 4 m/s inside a 100 m square.
func MakeRandomWalkBuilder() RandomWalkBuilder {
	return RandomWalkBuilder{
		bounds:   Rectangle{MinX: 0, MaxX: 100, MinY: 0, MaxY: 100},
		mode:     WalkByDistance,
		distance: 2,
		time:     1,
		speedMin: 2,
		speedMax: 4,
	}
}

// WithEngine sets the engine that moves the walker.
func (b RandomWalkBuilder) WithEngine(e sim.Engine) RandomWalkBuilder {
	b.engine = e
	return b
}

// WithBounds sets the rectangle of the walk.
func (b RandomWalkBuilder) WithBounds(r Rectangle) RandomWalkBuilder {
	b.bounds = r
	return b
}

// WithMode sets when the walker changes course.
func (b RandomWalkBuilder) WithMode(m WalkMode) RandomWalkBuilder {
	b.mode = m
	return b
}

// WithDistance sets the segment length in WalkByDistance mode.
func (b RandomWalkBuilder) WithDistance(meters float64) RandomWalkBuilder {
	b.distance = meters
	return b
}

// WithTime sets the segment duration in WalkByTime mode.
func (b RandomWalkBuilder) WithTime(t sim.VTimeInSec) RandomWalkBuilder {
	b.time = t
	return b
}

// WithSpeed sets the range the speed is drawn from, in m/s.
func (b RandomWalkBuilder) WithSpeed(min, max float64) RandomWalkBuilder {
	b.speedMin = min
	b.speedMax = max
	return b
}

func (b RandomWalkBuilder) validate(start network.Vector) error {
	const comp = "RandomWalk2d"

	switch {
	case b.engine == nil:
		return sim.NewConfigurationError(comp, "Engine", "is required")
	case b.bounds.MaxX <= b.bounds.MinX || b.bounds.MaxY <= b.bounds.MinY:
		return sim.NewConfigurationError(comp, "Bounds", "must not be empty")
	case !b.bounds.Contains(start):
		return sim.NewConfigurationError(comp, "Position", "must be inside the bounds")
	case b.speedMin <= 0 || b.speedMax < b.speedMin:
		return sim.NewConfigurationError(comp, "Speed", "must be a positive range")
	case b.mode == WalkByDistance && b.distance <= 0:
		return sim.NewConfigurationError(comp, "Distance", "must be positive")
	case b.mode == WalkByTime && b.time <= 0:
		return sim.NewConfigurationError(comp, "Time", "must be positive")
	}

	return nil
}

// Build creates a walker starting at the given point. Call Start to set it in
// motion.
func (b RandomWalkBuilder) Build(name string, start network.Vector) (*RandomWalk2d, error) {
	if err := b.validate(start); err != nil {
		return nil, err
	}

	return &RandomWalk2d{
		ComponentBase: sim.NewComponentBase(name),
		engine:        b.engine,
		bounds:        b.bounds,
		mode:          b.mode,
		distance:      b.distance,
		time:          b.time,
		speedMin:      b.speedMin,
		speedMax:      b.speedMax,
		rng:           rngstream.New(name),
		base:          start,
		baseTime:      b.engine.CurrentTime(),
	}, nil
}
