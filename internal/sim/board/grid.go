package board

// Grid is a spatial index over entity footprints. Each cell maps to the set
// of entity ids covering it; byID keeps the reverse footprint so a stale
// entry can be removed without scanning.
type Grid struct {
	width  int
	height int
	cells  map[Cell]map[string]struct{}
	byID   map[string][]Cell
}

func NewGrid(width, height int) *Grid {
	return &Grid{
		width:  width,
		height: height,
		cells:  map[Cell]map[string]struct{}{},
		byID:   map[string][]Cell{},
	}
}

// InBounds reports whether every cell lies inside [0,width) x [0,height).
func (g *Grid) InBounds(cells []Cell) bool {
	for _, c := range cells {
		if c.X < 0 || c.X >= g.width || c.Y < 0 || c.Y >= g.height {
			return false
		}
	}
	return true
}

// Collides reports whether any cell is already occupied by an entity other
// than excludeID. Excluding the mover's own id keeps an entity from
// colliding with the footprint it is about to vacate.
func (g *Grid) Collides(cells []Cell, excludeID string) bool {
	for _, c := range cells {
		for id := range g.cells[c] {
			if id != excludeID {
				return true
			}
		}
	}
	return false
}

// CanPlace reports whether the footprint is fully in bounds and free of
// any entity other than excludeID.
func (g *Grid) CanPlace(cells []Cell, excludeID string) bool {
	return g.InBounds(cells) && !g.Collides(cells, excludeID)
}

// Put replaces the footprint registered for id.
func (g *Grid) Put(id string, cells []Cell) {
	g.Remove(id)
	for _, c := range cells {
		set, ok := g.cells[c]
		if !ok {
			set = map[string]struct{}{}
			g.cells[c] = set
		}
		set[id] = struct{}{}
	}
	g.byID[id] = cells
}

// Remove drops the footprint registered for id, if any.
func (g *Grid) Remove(id string) {
	for _, c := range g.byID[id] {
		set := g.cells[c]
		delete(set, id)
		if len(set) == 0 {
			delete(g.cells, c)
		}
	}
	delete(g.byID, id)
}

// IDsAt returns the ids occupying one cell.
func (g *Grid) IDsAt(c Cell) []string {
	out := make([]string, 0, len(g.cells[c]))
	for id := range g.cells[c] {
		out = append(out, id)
	}
	return out
}
