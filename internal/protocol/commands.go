package protocol

// Command payloads. Required parameters decode through pointers so that a
// missing field is distinguishable from a zero value; commands with missing
// required parameters are silently dropped, never errors.

// move (client -> server): move a gripper, and any held object with it, by
// (dx*step, dy*step). With loop the move repeats at the configured interval
// until stop_move.
type MoveCmd struct {
	Type     string   `json:"type"`
	ID       string   `json:"id"`
	DX       *float64 `json:"dx"`
	DY       *float64 `json:"dy"`
	StepSize *float64 `json:"step_size,omitempty"`
	Loop     bool     `json:"loop,omitempty"`
}

// rotate (client -> server): rotate the held object one step. Direction is
// -1 (counterclockwise) or +1 (clockwise).
type RotateCmd struct {
	Type      string   `json:"type"`
	ID        string   `json:"id"`
	Direction *int     `json:"direction"`
	StepSize  *float64 `json:"step_size,omitempty"`
	Loop      bool     `json:"loop,omitempty"`
}

// flip (client -> server): mirror the held object.
type FlipCmd struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Loop bool   `json:"loop,omitempty"`
}

// grip (client -> server): toggle. Holding an object releases it; otherwise
// the first grippable object under the gripper is attached.
type GripCmd struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Loop bool   `json:"loop,omitempty"`
}

// stop_move / stop_rotate / stop_flip / stop_grip (client -> server):
// cancel the loop slot for that action kind and gripper. Stopping an idle
// slot is a no-op.
type StopCmd struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// add_gripper (client -> server): id defaults to the session id.
type AddGripperCmd struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
}

// remove_gripper (client -> server): id defaults to the session id.
type RemoveGripperCmd struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
}

// load_state (client -> server): wholesale replace of the world state.
type LoadStateCmd struct {
	Type     string   `json:"type"`
	Snapshot Snapshot `json:"snapshot"`
}
