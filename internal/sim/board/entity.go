package board

import (
	"blockworld.ai/internal/protocol"
	"blockworld.ai/internal/sim/pieces"
)

// Cell is one integer grid coordinate.
type Cell struct {
	X, Y int
}

// Placement is the positional state shared by objects and their targets.
type Placement struct {
	X        float64
	Y        float64
	Rotation float64
	Mirrored bool
}

// Object is a placed piece instance. Matrix is always Base transformed by
// Mirrored first and Rotation second, recomputed from the stored flags;
// Width and Height track the current matrix bounding box.
type Object struct {
	ID   string
	Type string
	Placement
	Width  int
	Height int
	Color  string
	Base   pieces.Shape
	Matrix pieces.Shape

	// Target is a reference placement for goal comparisons. It shares the
	// object's id and is collision-exempt unless block_on_target is set.
	Target *Object
}

const DefaultObjectColor = "blue"

func NewObject(id, typ string, base pieces.Shape, p Placement, color string) *Object {
	if color == "" {
		color = DefaultObjectColor
	}
	o := &Object{ID: id, Type: typ, Placement: p, Color: color, Base: base}
	o.recompute()
	return o
}

// recompute derives Matrix and the bounding box from Base plus the stored
// transform flags. Applying mirror before rotation is fixed; transformed
// matrices are never transformed again.
func (o *Object) recompute() {
	m := o.Base
	if o.Mirrored {
		m = m.Mirror()
	}
	if o.Rotation != 0 {
		m = m.Rotate(o.Rotation)
	}
	o.Matrix = m
	o.Width, o.Height = m.Dims()
}

// CellsAt returns the cells the matrix would occupy anchored at (x, y).
func (o *Object) CellsAt(x, y float64) []Cell {
	return cellsFor(o.Matrix, x, y)
}

// OccupiedCells returns the cells currently covered by the object.
func (o *Object) OccupiedCells() []Cell {
	return o.CellsAt(o.X, o.Y)
}

func (o *Object) CenterX() float64 { return o.X + float64(o.Width)/2 }
func (o *Object) CenterY() float64 { return o.Y + float64(o.Height)/2 }

func (o *Object) WireState() protocol.ObjectState {
	st := protocol.ObjectState{
		Type:     o.Type,
		X:        o.X,
		Y:        o.Y,
		Width:    o.Width,
		Height:   o.Height,
		Rotation: o.Rotation,
		Mirrored: o.Mirrored,
		Color:    o.Color,
	}
	if o.Target != nil {
		t := o.Target.WireState()
		st.Target = &t
	}
	return st
}

// Gripper is a zero-size actor cursor. Width, height and color exist for
// rendering only and play no part in geometry.
type Gripper struct {
	ID     string
	X      float64
	Y      float64
	Width  int
	Height int
	Color  string
	Held   string
}

const DefaultGripperColor = "lightblue"

func NewGripper(id string, x, y float64) *Gripper {
	return &Gripper{ID: id, X: x, Y: y, Width: 1, Height: 1, Color: DefaultGripperColor}
}

func (g *Gripper) WireState() protocol.GripperState {
	st := protocol.GripperState{
		Type:   "gripper",
		X:      g.X,
		Y:      g.Y,
		Width:  g.Width,
		Height: g.Height,
		Color:  g.Color,
	}
	if g.Held != "" {
		held := g.Held
		st.Gripped = &held
	}
	return st
}
