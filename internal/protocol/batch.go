package protocol

// GripperState is the full client-visible state of one gripper.
type GripperState struct {
	Type     string  `json:"type"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	Rotation float64 `json:"rotation"`
	Mirrored bool    `json:"mirrored"`
	Color    string  `json:"color"`
	Gripped  *string `json:"gripped"`
}

// ObjectState is the full client-visible state of one object.
type ObjectState struct {
	Type     string       `json:"type"`
	X        float64      `json:"x"`
	Y        float64      `json:"y"`
	Width    int          `json:"width"`
	Height   int          `json:"height"`
	Rotation float64      `json:"rotation"`
	Mirrored bool         `json:"mirrored"`
	Color    string       `json:"color"`
	Target   *ObjectState `json:"target,omitempty"`
}

// UpdateBatch accumulates per-entity changes between flushes. Keys are
// entity ids; values are full current states, or nil as a tombstone for a
// removed entity. Config reports that the configuration changed since the
// last flush.
type UpdateBatch struct {
	Grippers map[string]*GripperState `json:"grippers"`
	Objs     map[string]*ObjectState  `json:"objs"`
	Config   bool                     `json:"config"`
}

func NewBatch() UpdateBatch {
	return UpdateBatch{
		Grippers: map[string]*GripperState{},
		Objs:     map[string]*ObjectState{},
	}
}

// Merge folds a partial batch into b: per-key overwrite for grippers and
// objects (last write wins, tombstones included, never a field-level
// merge), OR for Config.
func (b *UpdateBatch) Merge(p UpdateBatch) {
	if b.Grippers == nil {
		b.Grippers = map[string]*GripperState{}
	}
	if b.Objs == nil {
		b.Objs = map[string]*ObjectState{}
	}
	for id, g := range p.Grippers {
		b.Grippers[id] = g
	}
	for id, o := range p.Objs {
		b.Objs[id] = o
	}
	b.Config = b.Config || p.Config
}

func (b UpdateBatch) IsEmpty() bool {
	return len(b.Grippers) == 0 && len(b.Objs) == 0 && !b.Config
}

func (b UpdateBatch) Clone() UpdateBatch {
	out := NewBatch()
	out.Merge(b)
	return out
}
