// Package mobility provides the models that tell where nodes are.
package mobility

import (
	"github.com/XinWenfei/netsim/network"
	"github.com/XinWenfei/netsim/sim"
)

// ConstantPosition keeps a node at a fixed point.
type ConstantPosition struct {
	position network.Vector
}

// NewConstantPosition creates a model fixed at the given point.
func NewConstantPosition(p network.Vector) *ConstantPosition {
	return &ConstantPosition{position: p}
}

// Position returns the fixed point.
func (m *ConstantPosition) Position() network.Vector {
	return m.position
}

// SetPosition moves the node instantly.
func (m *ConstantPosition) SetPosition(p network.Vector) {
	m.position = p
}

// Velocity is always zero.
func (m *ConstantPosition) Velocity() network.Vector {
	return network.Vector{}
}

// A PositionAllocator yields initial positions, one per call.
type PositionAllocator interface {
	Next() network.Vector
}

// GridLayout tells whether a grid is filled by rows or by columns.
type GridLayout int

// The grid layouts.
const (
	RowFirst GridLayout = iota
	ColumnFirst
)

// GridPositionAllocator places nodes on a rectangular grid.
type GridPositionAllocator struct {
	MinX, MinY     float64
	DeltaX, DeltaY float64
	GridWidth      int
	Layout         GridLayout
	Z              float64

	current int
}

// Validate checks the attributes of the grid.
func (g *GridPositionAllocator) Validate() error {
	if g.GridWidth <= 0 {
		return sim.NewConfigurationError(
			"GridPositionAllocator", "GridWidth", "must be positive")
	}

	return nil
}

// Next returns the next grid point.
func (g *GridPositionAllocator) Next() network.Vector {
	width := g.GridWidth
	if width <= 0 {
		width = 1
	}

	i, j := g.current%width, g.current/width
	g.current++

	if g.Layout == ColumnFirst {
		return network.Vector{
			X: g.MinX + float64(j)*g.DeltaX,
			Y: g.MinY + float64(i)*g.DeltaY,
			Z: g.Z,
		}
	}

	return network.Vector{
		X: g.MinX + float64(i)*g.DeltaX,
		Y: g.MinY + float64(j)*g.DeltaY,
		Z: g.Z,
	}
}

// ListPositionAllocator returns the given positions in order and starts over
// when it runs out.
type ListPositionAllocator struct {
	Positions []network.Vector

	current int
}

// Next returns the next position of the list.
func (l *ListPositionAllocator) Next() network.Vector {
	if len(l.Positions) == 0 {
		return network.Vector{}
	}

	p := l.Positions[l.current%len(l.Positions)]
	l.current++

	return p
}
