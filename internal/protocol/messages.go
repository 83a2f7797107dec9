package protocol

// hello (client -> server): first frame after connecting.
type HelloMsg struct {
	Type  string `json:"type"`
	Name  string `json:"name,omitempty"`
	Token string `json:"token,omitempty"`
}

// welcome (server -> client): session identity plus the full current
// configuration and world state. The session id doubles as the default
// gripper id for add_gripper/remove_gripper without an explicit id.
type WelcomeMsg struct {
	Type      string      `json:"type"`
	Version   string      `json:"version"`
	SessionID string      `json:"session_id"`
	Config    ConfigInfo  `json:"config"`
	State     UpdateBatch `json:"state"`
}

// ConfigInfo is the client-visible slice of the world configuration.
type ConfigInfo struct {
	Width        int                `json:"width"`
	Height       int                `json:"height"`
	Actions      []string           `json:"actions"`
	MoveStep     float64            `json:"move_step"`
	RotationStep float64            `json:"rotation_step"`
	Colors       []string           `json:"colors"`
	Pieces       map[string][][]int `json:"pieces"`
	PiecesDigest string             `json:"pieces_digest"`
}

// update (server -> client, and server -> view API): entities changed since
// the last flush. Presence of a key means changed; the value is the full
// current state, not a field delta.
type UpdateMsg struct {
	Type string `json:"type"`
	UpdateBatch
}

// error (server -> client): hard failures only.
type ErrorMsg struct {
	Type   string `json:"type"`
	Code   string `json:"code"`
	Detail string `json:"detail,omitempty"`
}
