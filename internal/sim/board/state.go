package board

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"blockworld.ai/internal/protocol"
	"blockworld.ai/internal/sim/pieces"
)

var (
	// ErrBadSnapshot marks a snapshot that is structurally unusable.
	ErrBadSnapshot = errors.New("bad snapshot")
	// ErrUnknownType marks a snapshot referencing a piece type absent
	// from the catalog.
	ErrUnknownType = errors.New("unknown piece type")
)

// Params are the geometry and collision knobs the state consults on every
// mutation.
type Params struct {
	Width          int
	Height         int
	PreventOverlap bool
	BlockOnTarget  bool
	SnapToGrid     bool
}

// State is the authoritative store of grippers and objects. It is not safe
// for concurrent use; the world loop is its only caller. Every mutation
// either fully applies and returns true or leaves the state untouched and
// returns false.
type State struct {
	params     Params
	grippers   map[string]*Gripper
	objs       map[string]*Object
	grid       *Grid
	targetGrid *Grid
}

func NewState(p Params) *State {
	return &State{
		params:     p,
		grippers:   map[string]*Gripper{},
		objs:       map[string]*Object{},
		grid:       NewGrid(p.Width, p.Height),
		targetGrid: NewGrid(p.Width, p.Height),
	}
}

func (s *State) Params() Params { return s.params }

func (s *State) Gripper(id string) (*Gripper, bool) {
	g, ok := s.grippers[id]
	return g, ok
}

func (s *State) Object(id string) (*Object, bool) {
	o, ok := s.objs[id]
	return o, ok
}

func (s *State) GripperIDs() []string {
	ids := make([]string, 0, len(s.grippers))
	for id := range s.grippers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *State) ObjectIDs() []string {
	ids := make([]string, 0, len(s.objs))
	for id := range s.objs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// InLimits reports whether a gripper point may sit at (x, y). Unlike cell
// footprints the gripper point uses inclusive upper bounds.
func (s *State) InLimits(x, y float64) bool {
	return x >= 0 && x <= float64(s.params.Width) &&
		y >= 0 && y <= float64(s.params.Height)
}

// placeable runs the full placement check for an object footprint: bounds
// always, then occupancy and target blocking when prevent_overlap is on.
// The mover's own id is excluded on both grids so an object never collides
// with itself or its own target.
func (s *State) placeable(cells []Cell, excludeID string) bool {
	if !s.grid.InBounds(cells) {
		return false
	}
	if !s.params.PreventOverlap {
		return true
	}
	if s.grid.Collides(cells, excludeID) {
		return false
	}
	if s.params.BlockOnTarget && s.targetGrid.Collides(cells, excludeID) {
		return false
	}
	return true
}

// CanPlaceObject reports whether the object could occupy (x, y) with its
// current matrix, without mutating anything.
func (s *State) CanPlaceObject(id string, x, y float64) bool {
	o, ok := s.objs[id]
	if !ok {
		return false
	}
	return s.placeable(o.CellsAt(x, y), id)
}

// Placeable runs the placement check for a footprint not yet owned by any
// entity. Board generation probes candidate positions with it.
func (s *State) Placeable(cells []Cell) bool {
	return s.placeable(cells, "")
}

// TargetPlaceable reports whether a footprint is free on the target layer.
// Targets only exclude each other, never live objects, and ignore the
// prevent-overlap switch.
func (s *State) TargetPlaceable(cells []Cell) bool {
	return s.targetGrid.CanPlace(cells, "")
}

// AddGripper creates a gripper at (x, y). Refused when the id is taken or
// the point is out of limits.
func (s *State) AddGripper(id string, x, y float64) bool {
	if _, exists := s.grippers[id]; exists {
		return false
	}
	if !s.InLimits(x, y) {
		return false
	}
	s.grippers[id] = NewGripper(id, x, y)
	return true
}

// RemoveGripper deletes a gripper, releasing anything it holds first.
func (s *State) RemoveGripper(id string) (released string, ok bool) {
	g, ok := s.grippers[id]
	if !ok {
		return "", false
	}
	released = g.Held
	if released != "" {
		s.Ungrip(id)
	}
	delete(s.grippers, id)
	return released, true
}

// MoveGripper displaces a free gripper point, clamped by refusal: a step
// that would leave the board is dropped entirely.
func (s *State) MoveGripper(id string, dx, dy float64) bool {
	g, ok := s.grippers[id]
	if !ok {
		return false
	}
	nx, ny := g.X+dx, g.Y+dy
	if !s.InLimits(nx, ny) {
		return false
	}
	g.X, g.Y = nx, ny
	return true
}

// MoveObject displaces an object if the destination footprint passes the
// placement check.
func (s *State) MoveObject(id string, dx, dy float64) bool {
	o, ok := s.objs[id]
	if !ok {
		return false
	}
	cells := o.CellsAt(o.X+dx, o.Y+dy)
	if !s.placeable(cells, id) {
		return false
	}
	o.X += dx
	o.Y += dy
	s.grid.Put(id, cells)
	return true
}

// MoveBoth displaces a gripper and its held object as one unit; either both
// move or neither does.
func (s *State) MoveBoth(gripperID string, dx, dy float64) bool {
	g, ok := s.grippers[gripperID]
	if !ok || g.Held == "" {
		return false
	}
	o, ok := s.objs[g.Held]
	if !ok {
		return false
	}
	if !s.InLimits(g.X+dx, g.Y+dy) {
		return false
	}
	cells := o.CellsAt(o.X+dx, o.Y+dy)
	if !s.placeable(cells, g.Held) {
		return false
	}
	g.X += dx
	g.Y += dy
	o.X += dx
	o.Y += dy
	s.grid.Put(g.Held, cells)
	return true
}

// RotateObject turns an object by delta degrees around its top-left anchor.
// The candidate matrix is recomputed from the base shape; on refusal the
// stored rotation is unchanged.
func (s *State) RotateObject(id string, delta float64) bool {
	o, ok := s.objs[id]
	if !ok {
		return false
	}
	rot := pieces.NormalizeDegrees(o.Rotation + delta)
	m := o.Base
	if o.Mirrored {
		m = m.Mirror()
	}
	m = m.Rotate(rot)
	cells := cellsFor(m, o.X, o.Y)
	if !s.placeable(cells, id) {
		return false
	}
	o.Rotation = rot
	o.Matrix = m
	o.Width, o.Height = m.Dims()
	s.grid.Put(id, cells)
	return true
}

// MirrorObject flips an object horizontally in place, subject to the same
// placement check as rotation.
func (s *State) MirrorObject(id string) bool {
	o, ok := s.objs[id]
	if !ok {
		return false
	}
	mir := !o.Mirrored
	m := o.Base
	if mir {
		m = m.Mirror()
	}
	m = m.Rotate(o.Rotation)
	cells := cellsFor(m, o.X, o.Y)
	if !s.placeable(cells, id) {
		return false
	}
	o.Mirrored = mir
	o.Matrix = m
	o.Width, o.Height = m.Dims()
	s.grid.Put(id, cells)
	return true
}

// GrippableAt returns the lowest object id whose matrix covers the point,
// scanning ids in ascending order so the pick is deterministic.
func (s *State) GrippableAt(x, y float64) (string, bool) {
	for _, id := range s.ObjectIDs() {
		o := s.objs[id]
		c := int(math.Floor(x - o.X))
		r := int(math.Floor(y - o.Y))
		if r < 0 || r >= len(o.Matrix) {
			continue
		}
		if c < 0 || c >= len(o.Matrix[r]) {
			continue
		}
		if o.Matrix[r][c] {
			return id, true
		}
	}
	return "", false
}

// Grip attaches an object to a gripper. Refused when either is missing,
// the gripper already holds something, or another gripper holds the object.
func (s *State) Grip(gripperID, objectID string) bool {
	g, ok := s.grippers[gripperID]
	if !ok {
		return false
	}
	if _, ok := s.objs[objectID]; !ok {
		return false
	}
	if g.Held != "" {
		return false
	}
	for _, other := range s.grippers {
		if other.Held == objectID {
			return false
		}
	}
	g.Held = objectID
	return true
}

// Ungrip releases the held object. With snap_to_grid on, the released
// object is nudged to the nearest integer anchor when that spot is
// placeable; otherwise it stays where it was dropped.
func (s *State) Ungrip(gripperID string) (released string, ok bool) {
	g, ok := s.grippers[gripperID]
	if !ok || g.Held == "" {
		return "", false
	}
	released = g.Held
	g.Held = ""
	if s.params.SnapToGrid {
		s.snapObject(released)
	}
	return released, true
}

func (s *State) snapObject(id string) {
	o, ok := s.objs[id]
	if !ok {
		return
	}
	sx, sy := math.Round(o.X), math.Round(o.Y)
	if sx == o.X && sy == o.Y {
		return
	}
	cells := o.CellsAt(sx, sy)
	if !s.placeable(cells, id) {
		return
	}
	o.X, o.Y = sx, sy
	s.grid.Put(id, cells)
}

// HeldBy returns the id of the gripper holding the object, if any.
func (s *State) HeldBy(objectID string) (string, bool) {
	for id, g := range s.grippers {
		if g.Held == objectID {
			return id, true
		}
	}
	return "", false
}

// Reset drops every entity and clears both spatial indexes.
func (s *State) Reset() {
	s.grippers = map[string]*Gripper{}
	s.objs = map[string]*Object{}
	s.grid = NewGrid(s.params.Width, s.params.Height)
	s.targetGrid = NewGrid(s.params.Width, s.params.Height)
}

// LoadSnapshot replaces the whole state from a snapshot. The replacement is
// atomic: entities are built into a fresh state first, and the live state
// is swapped only when every entry loads. Footprints are indexed as given
// without collision checks, matching how externally authored boards load.
func (s *State) LoadSnapshot(snap protocol.Snapshot, cat *pieces.Catalog) error {
	if err := snap.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrBadSnapshot, err)
	}
	ns := NewState(s.params)
	for id, os := range snap.Objs {
		o, err := objectFromSnap(id, &os, cat)
		if err != nil {
			return err
		}
		ns.objs[id] = o
		ns.grid.Put(id, o.OccupiedCells())
		if o.Target != nil {
			ns.targetGrid.Put(id, o.Target.OccupiedCells())
		}
	}
	for id, gs := range snap.Grippers {
		g := NewGripper(id, *gs.X, *gs.Y)
		if gs.Width != nil {
			g.Width = *gs.Width
		}
		if gs.Height != nil {
			g.Height = *gs.Height
		}
		if gs.Color != nil {
			g.Color = *gs.Color
		}
		if gs.Gripped != nil && *gs.Gripped != "" {
			held := *gs.Gripped
			if _, ok := ns.objs[held]; !ok {
				return fmt.Errorf("%w: gripper %q holds unknown obj %q", ErrBadSnapshot, id, held)
			}
			if holder, taken := ns.HeldBy(held); taken {
				return fmt.Errorf("%w: obj %q held by %q and %q", ErrBadSnapshot, held, holder, id)
			}
			g.Held = held
		}
		ns.grippers[id] = g
	}
	s.grippers = ns.grippers
	s.objs = ns.objs
	s.grid = ns.grid
	s.targetGrid = ns.targetGrid
	return nil
}

func objectFromSnap(id string, os *protocol.ObjectSnap, cat *pieces.Catalog) (*Object, error) {
	base, ok := cat.Shape(*os.Type)
	if !ok {
		return nil, fmt.Errorf("%w: obj %q type %q", ErrUnknownType, id, *os.Type)
	}
	p := Placement{X: *os.X, Y: *os.Y}
	if os.Rotation != nil {
		p.Rotation = pieces.NormalizeDegrees(*os.Rotation)
	}
	if os.Mirrored != nil {
		p.Mirrored = *os.Mirrored
	}
	color := ""
	if os.Color != nil {
		color = *os.Color
	}
	o := NewObject(id, *os.Type, base, p, color)
	if os.Target == nil {
		return o, nil
	}
	ts := os.Target
	ttype := *os.Type
	tbase := base
	if ts.Type != nil {
		ttype = *ts.Type
		tbase, ok = cat.Shape(ttype)
		if !ok {
			return nil, fmt.Errorf("%w: obj %q target type %q", ErrUnknownType, id, ttype)
		}
	}
	tp := Placement{X: *ts.X, Y: *ts.Y}
	if ts.Rotation != nil {
		tp.Rotation = pieces.NormalizeDegrees(*ts.Rotation)
	}
	if ts.Mirrored != nil {
		tp.Mirrored = *ts.Mirrored
	}
	tcolor := o.Color
	if ts.Color != nil {
		tcolor = *ts.Color
	}
	o.Target = NewObject(id, ttype, tbase, tp, tcolor)
	return o, nil
}

// AddObject inserts a prebuilt object and indexes its footprints. Used by
// board generation; refused when the id is taken.
func (s *State) AddObject(o *Object) bool {
	if _, exists := s.objs[o.ID]; exists {
		return false
	}
	s.objs[o.ID] = o
	s.grid.Put(o.ID, o.OccupiedCells())
	if o.Target != nil {
		s.targetGrid.Put(o.ID, o.Target.OccupiedCells())
	}
	return true
}

// FullBatch exports every entity as an update batch, as sent in the welcome
// message and after wholesale state changes.
func (s *State) FullBatch() protocol.UpdateBatch {
	b := protocol.NewBatch()
	for id, g := range s.grippers {
		st := g.WireState()
		b.Grippers[id] = &st
	}
	for id, o := range s.objs {
		st := o.WireState()
		b.Objs[id] = &st
	}
	return b
}

// Snapshot exports the state in loadable form, the inverse of LoadSnapshot.
func (s *State) Snapshot() protocol.Snapshot {
	snap := protocol.Snapshot{
		Grippers: map[string]protocol.GripperSnap{},
		Objs:     map[string]protocol.ObjectSnap{},
	}
	for id, g := range s.grippers {
		gs := protocol.GripperSnap{
			X:      f64p(g.X),
			Y:      f64p(g.Y),
			Width:  intp(g.Width),
			Height: intp(g.Height),
			Color:  strp(g.Color),
		}
		if g.Held != "" {
			gs.Gripped = strp(g.Held)
		}
		snap.Grippers[id] = gs
	}
	for id, o := range s.objs {
		snap.Objs[id] = objectSnap(o)
	}
	return snap
}

func objectSnap(o *Object) protocol.ObjectSnap {
	os := protocol.ObjectSnap{
		Type:     strp(o.Type),
		X:        f64p(o.X),
		Y:        f64p(o.Y),
		Width:    intp(o.Width),
		Height:   intp(o.Height),
		Rotation: f64p(o.Rotation),
		Mirrored: boolp(o.Mirrored),
		Color:    strp(o.Color),
	}
	if o.Target != nil {
		ts := objectSnap(o.Target)
		os.Target = &ts
	}
	return os
}

func cellsFor(m pieces.Shape, x, y float64) []Cell {
	baseX := int(math.Floor(x))
	baseY := int(math.Floor(y))
	var cells []Cell
	for r := range m {
		for c := range m[r] {
			if m[r][c] {
				cells = append(cells, Cell{X: baseX + c, Y: baseY + r})
			}
		}
	}
	return cells
}

func f64p(v float64) *float64 { return &v }
func intp(v int) *int         { return &v }
func strp(v string) *string   { return &v }
func boolp(v bool) *bool      { return &v }
