package world

import (
	"fmt"
	"math"
	"math/rand"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"blockworld.ai/internal/protocol"
	"blockworld.ai/internal/sim/board"
	"blockworld.ai/internal/sim/pieces"
)

// Config holds the world parameters. Zero values are filled in by
// applyDefaults; LoadConfig is the YAML entry point.
type Config struct {
	Width  int
	Height int

	// Actions lists the allowed manipulation kinds. Commands for kinds
	// outside the list are dropped, stops included.
	Actions []string

	// MoveStep is the default distance per move step in blocks. It must be
	// an integer or a fraction f with 1/(f mod 1) integral, so repeated
	// steps land back on block boundaries.
	MoveStep float64

	// RotationStep is the default angle per rotate step in degrees.
	RotationStep float64

	// ActionIntervalMs is the repeat interval for looped actions.
	ActionIntervalMs int

	Colors []string

	SnapToGrid     bool
	PreventOverlap bool
	BlockOnTarget  bool

	// Seed drives random board generation. Zero means time-seeded.
	Seed int64

	// PiecesPath points at the piece catalog YAML. Relative paths resolve
	// against the config file's directory at load time.
	PiecesPath string
}

func DefaultColors() []string {
	return []string{"red", "orange", "yellow", "green", "blue", "purple", "saddlebrown", "grey"}
}

func DefaultConfig() Config {
	c := Config{PreventOverlap: true, BlockOnTarget: true}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.Width <= 0 {
		c.Width = 20
	}
	if c.Height <= 0 {
		c.Height = 20
	}
	if c.Actions == nil {
		c.Actions = []string{protocol.KindMove, protocol.KindRotate, protocol.KindFlip, protocol.KindGrip}
	}
	if c.MoveStep == 0 {
		c.MoveStep = 0.5
	}
	if c.RotationStep == 0 {
		c.RotationStep = 90
	}
	if c.ActionIntervalMs <= 0 {
		c.ActionIntervalMs = 100
	}
	if c.Colors == nil {
		c.Colors = DefaultColors()
	}
}

// fileConfig is the YAML shape. Values that default to non-zero decode
// through pointers so that an absent key and an explicit zero stay apart.
type fileConfig struct {
	Width            int       `yaml:"width"`
	Height           int       `yaml:"height"`
	Actions          []string  `yaml:"actions"`
	MoveStep         *float64  `yaml:"move_step"`
	RotationStep     *float64  `yaml:"rotation_step"`
	ActionIntervalMs int       `yaml:"action_interval_ms"`
	Colors           yaml.Node `yaml:"colors"`
	SnapToGrid       *bool     `yaml:"snap_to_grid"`
	PreventOverlap   *bool    `yaml:"prevent_overlap"`
	BlockOnTarget    *bool    `yaml:"block_on_target"`
	Seed             int64    `yaml:"seed"`
	PiecesPath       string   `yaml:"pieces_path"`
}

func LoadConfig(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return Config{}, fmt.Errorf("world config %s: %w", path, err)
	}
	colors, err := decodeColors(&fc.Colors, fc.Seed)
	if err != nil {
		return Config{}, fmt.Errorf("world config %s: %w", path, err)
	}

	c := Config{
		Width:            fc.Width,
		Height:           fc.Height,
		Actions:          fc.Actions,
		ActionIntervalMs: fc.ActionIntervalMs,
		Colors:           colors,
		Seed:             fc.Seed,
		PiecesPath:       fc.PiecesPath,
		PreventOverlap:   true,
		BlockOnTarget:    true,
	}
	if fc.MoveStep != nil {
		c.MoveStep = *fc.MoveStep
	}
	if fc.RotationStep != nil {
		c.RotationStep = *fc.RotationStep
	}
	if fc.SnapToGrid != nil {
		c.SnapToGrid = *fc.SnapToGrid
	}
	if fc.PreventOverlap != nil {
		c.PreventOverlap = *fc.PreventOverlap
	}
	if fc.BlockOnTarget != nil {
		c.BlockOnTarget = *fc.BlockOnTarget
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return Config{}, fmt.Errorf("world config %s: %w", path, err)
	}
	return c, nil
}

// decodeColors accepts either a flat list of color names or a list of such
// lists; in the nested form one palette is chosen at random when the config
// loads, seeded like board generation so the pick is reproducible.
func decodeColors(node *yaml.Node, seed int64) ([]string, error) {
	if node.Kind == 0 {
		return nil, nil
	}
	var flat []string
	if err := node.Decode(&flat); err == nil {
		if len(flat) == 0 {
			return nil, nil
		}
		return flat, nil
	}
	var nested [][]string
	if err := node.Decode(&nested); err != nil {
		return nil, fmt.Errorf("colors: want a list of names or a list of such lists")
	}
	if len(nested) == 0 {
		return nil, nil
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))
	pick := nested[rng.Intn(len(nested))]
	if len(pick) == 0 {
		return nil, nil
	}
	return pick, nil
}

func (c *Config) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("board dimensions must be positive, got %dx%d", c.Width, c.Height)
	}
	if !ValidStep(c.MoveStep) {
		return fmt.Errorf("move_step %v not allowed: 1/(step mod 1) must be an integer", c.MoveStep)
	}
	if c.RotationStep <= 0 || c.RotationStep > 360 {
		return fmt.Errorf("rotation_step %v out of range (0,360]", c.RotationStep)
	}
	if c.ActionIntervalMs <= 0 {
		return fmt.Errorf("action_interval_ms must be positive")
	}
	for _, a := range c.Actions {
		switch a {
		case protocol.KindMove, protocol.KindRotate, protocol.KindFlip, protocol.KindGrip:
		default:
			return fmt.Errorf("unknown action %q", a)
		}
	}
	return nil
}

// ValidStep implements the step-size law: integers are always allowed, and
// a fractional step f is allowed iff 1/(f mod 1) is an integer, so that
// repeated steps return to block alignment (0.5 and 0.25 pass, 0.3 fails).
func ValidStep(step float64) bool {
	if step <= 0 {
		return false
	}
	frac := step - math.Trunc(step)
	if frac == 0 {
		return true
	}
	inv := 1 / frac
	return math.Abs(inv-math.Round(inv)) < 1e-9
}

func (c *Config) AllowsAction(kind string) bool {
	for _, a := range c.Actions {
		if a == kind {
			return true
		}
	}
	return false
}

func (c *Config) Interval() time.Duration {
	return time.Duration(c.ActionIntervalMs) * time.Millisecond
}

func (c *Config) BoardParams() board.Params {
	return board.Params{
		Width:          c.Width,
		Height:         c.Height,
		PreventOverlap: c.PreventOverlap,
		BlockOnTarget:  c.BlockOnTarget,
		SnapToGrid:     c.SnapToGrid,
	}
}

// Info builds the client-visible configuration sent in the welcome message.
func (c *Config) Info(cat *pieces.Catalog) protocol.ConfigInfo {
	info := protocol.ConfigInfo{
		Width:        c.Width,
		Height:       c.Height,
		Actions:      append([]string(nil), c.Actions...),
		MoveStep:     c.MoveStep,
		RotationStep: c.RotationStep,
		Colors:       append([]string(nil), c.Colors...),
		Pieces:       map[string][][]int{},
	}
	if cat != nil {
		for _, name := range cat.Names {
			info.Pieces[name] = cat.Defs[name].Ints()
		}
		info.PiecesDigest = cat.Digest
	}
	return info
}
