package protocol

import "encoding/json"

const Version = "1.0"

// Message types.
const (
	TypeHello   = "hello"
	TypeWelcome = "welcome"
	TypeUpdate  = "update"
	TypeError   = "error"
)

// Command types (client -> server).
const (
	TypeMove          = "move"
	TypeStopMove      = "stop_move"
	TypeRotate        = "rotate"
	TypeStopRotate    = "stop_rotate"
	TypeFlip          = "flip"
	TypeStopFlip      = "stop_flip"
	TypeGrip          = "grip"
	TypeStopGrip      = "stop_grip"
	TypeAddGripper    = "add_gripper"
	TypeRemoveGripper = "remove_gripper"
	TypeLoadState     = "load_state"
)

// Action kinds, as named in the allowed-actions configuration. Each kind
// owns one independently cancellable loop slot per gripper.
const (
	KindMove   = "move"
	KindRotate = "rotate"
	KindFlip   = "flip"
	KindGrip   = "grip"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type string `json:"type"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}

// IsCommand reports whether a message type belongs to the command
// vocabulary, as opposed to the handshake and server-push types.
func IsCommand(msgType string) bool {
	switch msgType {
	case TypeMove, TypeStopMove, TypeRotate, TypeStopRotate,
		TypeFlip, TypeStopFlip, TypeGrip, TypeStopGrip,
		TypeAddGripper, TypeRemoveGripper, TypeLoadState:
		return true
	}
	return false
}
