package world

import (
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"time"

	"blockworld.ai/internal/protocol"
	"blockworld.ai/internal/sim/board"
)

// GenerateParams control random board generation.
type GenerateParams struct {
	Objects          int   `json:"objects"`
	Grippers         int   `json:"grippers"`
	RandomGripperPos bool  `json:"random_gripper_pos"`
	Targets          bool  `json:"targets"`
	Seed             int64 `json:"seed,omitempty"`
}

// Consecutive placement failures tolerated before generation gives up.
const placementAttempts = 100

// buildRandomState assembles a fresh board: n grippers (centered or at
// random points) and n objects of random type, color, rotation and mirror,
// placed without overlap. A board too crowded to take all requested objects
// fails the whole generation. With Targets set each placed object gets a
// goal placement on the target layer.
func (w *World) buildRandomState(p GenerateParams) (*board.State, error) {
	if p.Objects < 0 || p.Grippers < 0 {
		return nil, fmt.Errorf("generate: negative counts")
	}
	if len(w.cat.Names) == 0 {
		return nil, fmt.Errorf("generate: empty piece catalog")
	}

	seed := p.Seed
	if seed == 0 {
		seed = w.cfg.Seed
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	s := board.NewState(w.cfg.BoardParams())
	for i := 0; i < p.Grippers; i++ {
		id := strconv.Itoa(i)
		x := float64(w.cfg.Width) / 2
		y := float64(w.cfg.Height) / 2
		if p.RandomGripperPos {
			x = float64(rng.Intn(w.cfg.Width + 1))
			y = float64(rng.Intn(w.cfg.Height + 1))
		}
		s.AddGripper(id, x, y)
	}

	placed := 0
	for failures := 0; placed < p.Objects && failures <= placementAttempts; {
		id := strconv.Itoa(placed)
		o := w.randomObject(rng, id)
		if o == nil || !s.Placeable(o.OccupiedCells()) {
			failures++
			continue
		}
		if p.Targets {
			o.Target = w.randomTarget(rng, s, o)
		}
		s.AddObject(o)
		placed++
		failures = 0
	}
	if placed < p.Objects {
		return nil, fmt.Errorf("generate: placed %d of %d objects before giving up", placed, p.Objects)
	}
	return s, nil
}

// randomObject rolls type, position, rotation, mirror and color. Position
// is chosen from the base bounding box, so a rotation that widens the piece
// may push it out of bounds; the caller treats that as a failed attempt.
func (w *World) randomObject(rng *rand.Rand, id string) *board.Object {
	typ := w.cat.Names[rng.Intn(len(w.cat.Names))]
	base := w.cat.Defs[typ]
	bw, bh := base.Dims()
	if bw > w.cfg.Width || bh > w.cfg.Height {
		return nil
	}
	p := board.Placement{
		X: float64(rng.Intn(w.cfg.Width - bw + 1)),
		Y: float64(rng.Intn(w.cfg.Height - bh + 1)),
	}
	p.Rotation, p.Mirrored = w.randomTransform(rng)
	color := w.cfg.Colors[rng.Intn(len(w.cfg.Colors))]
	return board.NewObject(id, typ, base, p, color)
}

// randomTarget places a goal for the object on the target layer: same type
// and color, fresh position and transform. Gives up after the usual attempt
// budget and leaves the object without a target rather than looping forever
// on a crowded board.
func (w *World) randomTarget(rng *rand.Rand, s *board.State, o *board.Object) *board.Object {
	bw, bh := o.Base.Dims()
	for i := 0; i < placementAttempts; i++ {
		p := board.Placement{
			X: float64(rng.Intn(w.cfg.Width - bw + 1)),
			Y: float64(rng.Intn(w.cfg.Height - bh + 1)),
		}
		p.Rotation, p.Mirrored = w.randomTransform(rng)
		t := board.NewObject(o.ID, o.Type, o.Base, p, o.Color)
		if s.TargetPlaceable(t.OccupiedCells()) {
			return t
		}
	}
	return nil
}

func (w *World) randomTransform(rng *rand.Rand) (rotation float64, mirrored bool) {
	if w.cfg.AllowsAction(protocol.KindRotate) {
		steps := int(math.Floor(360 / w.cfg.RotationStep))
		rotation = float64(rng.Intn(steps+1)) * w.cfg.RotationStep
		rotation = math.Mod(rotation, 360)
	}
	if w.cfg.AllowsAction(protocol.KindFlip) {
		mirrored = rng.Intn(2) == 1
	}
	return rotation, mirrored
}
