package protocol

import "fmt"

// Snapshot is a wholesale replacement description of the world, applied
// atomically. Required fields decode through pointers; Validate rejects the
// whole snapshot when any is missing.
type Snapshot struct {
	Grippers map[string]GripperSnap `json:"grippers"`
	Objs     map[string]ObjectSnap  `json:"objs"`
}

type GripperSnap struct {
	X       *float64 `json:"x"`
	Y       *float64 `json:"y"`
	Gripped *string  `json:"gripped,omitempty"`
	Width   *int     `json:"width,omitempty"`
	Height  *int     `json:"height,omitempty"`
	Color   *string  `json:"color,omitempty"`
}

type ObjectSnap struct {
	Type     *string     `json:"type"`
	X        *float64    `json:"x"`
	Y        *float64    `json:"y"`
	Width    *int        `json:"width"`
	Height   *int        `json:"height"`
	Rotation *float64    `json:"rotation,omitempty"`
	Mirrored *bool       `json:"mirrored,omitempty"`
	Color    *string     `json:"color,omitempty"`
	Target   *ObjectSnap `json:"target,omitempty"`
}

// Validate checks required-field presence. Piece-type existence is checked
// against the catalog at load time, not here.
func (s *Snapshot) Validate() error {
	for id, g := range s.Grippers {
		if g.X == nil || g.Y == nil {
			return fmt.Errorf("gripper %q: missing x or y", id)
		}
	}
	for id, o := range s.Objs {
		if err := o.validate(); err != nil {
			return fmt.Errorf("obj %q: %w", id, err)
		}
	}
	return nil
}

func (o *ObjectSnap) validate() error {
	if o.Type == nil {
		return fmt.Errorf("missing type")
	}
	if err := o.validatePlacement(); err != nil {
		return err
	}
	if o.Target != nil {
		// A target inherits the parent's type when its own is absent.
		if err := o.Target.validatePlacement(); err != nil {
			return fmt.Errorf("target: %w", err)
		}
	}
	return nil
}

func (o *ObjectSnap) validatePlacement() error {
	switch {
	case o.X == nil || o.Y == nil:
		return fmt.Errorf("missing x or y")
	case o.Width == nil || o.Height == nil:
		return fmt.Errorf("missing width or height")
	}
	return nil
}
