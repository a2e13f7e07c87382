package mobility

import (
	"github.com/XinWenfei/netsim/network"
	"github.com/XinWenfei/netsim/sim"
)

// Helper installs mobility models on nodes.
type Helper struct {
	allocator PositionAllocator
	walk      *RandomWalkBuilder
}

// MakeHelper creates a helper that installs constant positions at the
// origin.
func MakeHelper() Helper {
	return Helper{}
}

// WithPositionAllocator sets where the nodes start.
func (h Helper) WithPositionAllocator(a PositionAllocator) Helper {
	h.allocator = a
	return h
}

// WithRandomWalk makes the installed nodes walk.
func (h Helper) WithRandomWalk(b RandomWalkBuilder) Helper {
	h.walk = &b
	return h
}

// WithConstantPosition makes the installed nodes stay still.
func (h Helper) WithConstantPosition() Helper {
	h.walk = nil
	return h
}

// Install attaches a model to every node. Random walks start moving at the
// current simulated time.
func (h Helper) Install(nodes ...*network.Node) error {
	if g, ok := h.allocator.(*GridPositionAllocator); ok {
		if err := g.Validate(); err != nil {
			return err
		}
	}

	for _, n := range nodes {
		start := network.Vector{}
		if h.allocator != nil {
			start = h.allocator.Next()
		}

		if h.walk == nil {
			n.SetMobility(NewConstantPosition(start))
			continue
		}

		w, err := h.walk.Build(sim.BuildName(n.Name(), "Mobility"), start)
		if err != nil {
			return err
		}

		if err := w.Start(); err != nil {
			return err
		}

		n.SetMobility(w)
	}

	return nil
}
